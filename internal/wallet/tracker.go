// Package wallet is the first-seen wallet tracker: an in-memory
// (address, chain_id) set that emits and persists a NewWalletEvent the
// first time either side of a transfer is observed on a chain.
package wallet

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

type firstSeenStore interface {
	LoadFirstSeenKeys(ctx context.Context) ([][2]any, error)
	InsertFirstSeen(ctx context.Context, ev domain.NewWalletEvent) error
}

type key struct {
	address string
	chainID int64
}

// Tracker is the process-wide known-wallet set. Like the label store, it
// relies on the pipeline's exclusivity for safe mutation.
type Tracker struct {
	known  map[key]struct{}
	db     firstSeenStore
	logger *zap.Logger
}

// New constructs an empty tracker.
func New(db firstSeenStore, logger *zap.Logger) *Tracker {
	return &Tracker{known: make(map[key]struct{}), db: db, logger: logger}
}

// LoadAll reloads the known-wallet set from storage.
func (t *Tracker) LoadAll(ctx context.Context) error {
	keys, err := t.db.LoadFirstSeenKeys(ctx)
	if err != nil {
		return fmt.Errorf("wallet: load all: %w", err)
	}
	known := make(map[key]struct{}, len(keys))
	for _, k := range keys {
		addr, _ := k[0].([]byte)
		chainID, _ := k[1].(int64)
		known[key{address: string(addr), chainID: chainID}] = struct{}{}
	}
	t.known = known
	t.logger.Info("loaded wallet tracker", zap.Int("wallets", len(known)))
	return nil
}

// ProcessTransfers walks a batch in order, marking each unseen address
// known and persisting + returning a NewWalletEvent for it. Both sides of
// one transfer can each be new and each produces its own event.
func (t *Tracker) ProcessTransfers(ctx context.Context, transfers []domain.Transfer) ([]domain.NewWalletEvent, error) {
	var events []domain.NewWalletEvent

	for _, tr := range transfers {
		if ev, isNew := t.observe(tr.FromAddress, tr.ChainID, tr, "from"); isNew {
			if err := t.db.InsertFirstSeen(ctx, ev); err != nil {
				return events, fmt.Errorf("wallet: insert first seen (from): %w", err)
			}
			events = append(events, ev)
		}
		if ev, isNew := t.observe(tr.ToAddress, tr.ChainID, tr, "to"); isNew {
			if err := t.db.InsertFirstSeen(ctx, ev); err != nil {
				return events, fmt.Errorf("wallet: insert first seen (to): %w", err)
			}
			events = append(events, ev)
		}
	}

	if len(events) > 0 {
		t.logger.Debug("new wallets detected", zap.Int("count", len(events)))
	}
	return events, nil
}

func (t *Tracker) observe(address []byte, chainID int64, tr domain.Transfer, direction string) (domain.NewWalletEvent, bool) {
	k := key{address: string(address), chainID: chainID}
	if _, known := t.known[k]; known {
		return domain.NewWalletEvent{}, false
	}
	t.known[k] = struct{}{}
	return domain.NewWalletEvent{
		Address:     address,
		ChainID:     chainID,
		FirstSeenAt: tr.BlockTimestamp,
		FirstBlock:  tr.BlockNumber,
		FirstTxHash: tr.TxHash,
		Direction:   direction,
	}, true
}
