package onramp

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

type attributionStore interface {
	TransferID(ctx context.Context, chainID int64, txHash []byte, logIndex int32) (int64, bool, error)
	InsertOnrampAttribution(ctx context.Context, transferID, providerID int64, direction string) error
}

// AttributeTransfers matches a batch against the provider wallet index: a
// transfer whose from_address is a known provider wallet is a withdrawal
// (exchange -> user); whose to_address is known is a deposit (user ->
// exchange). From is checked first, matching the source ordering.
func AttributeTransfers(ctx context.Context, db attributionStore, logger *zap.Logger, chainName string, transfers []domain.Transfer, idx *Index) (uint64, error) {
	var attributed uint64

	for _, t := range transfers {
		if info, ok := idx.Lookup(chainName, t.FromAddress); ok {
			if err := attribute(ctx, db, t, info.ProviderID, "withdrawal"); err != nil {
				return attributed, err
			}
			attributed++
			logger.Debug("attributed transfer to on-ramp provider",
				zap.String("provider", info.ProviderName), zap.String("direction", "withdrawal"))
			continue
		}

		if info, ok := idx.Lookup(chainName, t.ToAddress); ok {
			if err := attribute(ctx, db, t, info.ProviderID, "deposit"); err != nil {
				return attributed, err
			}
			attributed++
			logger.Debug("attributed transfer to on-ramp provider",
				zap.String("provider", info.ProviderName), zap.String("direction", "deposit"))
		}
	}

	return attributed, nil
}

func attribute(ctx context.Context, db attributionStore, t domain.Transfer, providerID int64, direction string) error {
	transferID, ok, err := db.TransferID(ctx, t.ChainID, t.TxHash, t.LogIndex)
	if err != nil {
		return fmt.Errorf("onramp: resolve transfer id: %w", err)
	}
	if !ok {
		return nil
	}
	if err := db.InsertOnrampAttribution(ctx, transferID, providerID, direction); err != nil {
		return fmt.Errorf("onramp: insert attribution: %w", err)
	}
	return nil
}
