package entity

import (
	"context"
	"fmt"
)

// attributionStore is the persistence surface the attribution step needs:
// resolving a transfer's surrogate id and linking it to a label.
type attributionStore interface {
	TransferID(ctx context.Context, chainID int64, txHash []byte, logIndex int32) (int64, bool, error)
	InsertTransferEntityFlag(ctx context.Context, transferID, entityLabelID int64, side string) error
}

// TransferRef is the subset of a persisted transfer the attribution step
// needs to resolve its surrogate id and check both sides against labels.
type TransferRef struct {
	ChainID     int64
	TxHash      []byte
	LogIndex    int32
	FromAddress []byte
	ToAddress   []byte
}

// Attribute matches a batch of transfers against the label store, linking
// every matching side to a transfer_entity_flags row. Labels whose
// ChainID is set only apply on that chain.
func Attribute(ctx context.Context, db attributionStore, store *Store, transfers []TransferRef) (uint64, error) {
	var attributed uint64

	for _, t := range transfers {
		fromLabels := store.LookupForChain(t.FromAddress, t.ChainID)
		toLabels := store.LookupForChain(t.ToAddress, t.ChainID)
		if len(fromLabels) == 0 && len(toLabels) == 0 {
			continue
		}

		transferID, ok, err := db.TransferID(ctx, t.ChainID, t.TxHash, t.LogIndex)
		if err != nil {
			return attributed, fmt.Errorf("entity: resolve transfer id: %w", err)
		}
		if !ok {
			continue
		}

		for _, l := range fromLabels {
			if err := db.InsertTransferEntityFlag(ctx, transferID, l.ID, "from"); err != nil {
				return attributed, fmt.Errorf("entity: flag from side: %w", err)
			}
			attributed++
		}
		for _, l := range toLabels {
			if err := db.InsertTransferEntityFlag(ctx, transferID, l.ID, "to"); err != nil {
				return attributed, fmt.Errorf("entity: flag to side: %w", err)
			}
			attributed++
		}
	}

	return attributed, nil
}
