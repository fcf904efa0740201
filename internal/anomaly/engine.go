package anomaly

import (
	"context"
	"fmt"

	"github.com/csic/platform/chainwatch-indexer/internal/config"
	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

// batch sizes above which the velocity / cross-chain rules are skipped:
// both require a point query per transfer, too costly over a large batch.
const (
	velocityBatchLimit  = 100
	crossChainBatchLimit = 50
)

// Store is the persistence surface the engine's point-query rules need.
type Store interface {
	velocityStore
	crossChainStore
	TransferID(ctx context.Context, chainID int64, txHash []byte, logIndex int32) (int64, bool, error)
	InsertAnomaly(ctx context.Context, transferID *int64, a domain.AnomalyRecord) error
}

// LabelStore is the sanctions-lookup surface the engine needs from the
// entity label store.
type LabelStore interface {
	IsSanctioned(address []byte) bool
}

// Engine runs the fixed anomaly rule set over each enrichment batch.
type Engine struct {
	cfg config.AnomalyDetectionConfig
	db  Store
}

// New constructs an engine bound to its configured thresholds.
func New(cfg config.AnomalyDetectionConfig, db Store) *Engine {
	return &Engine{cfg: cfg, db: db}
}

// AnalyzeBatch runs every rule against each transfer in the batch, in
// order. A single transfer may produce multiple records, one per rule
// that fires.
func (e *Engine) AnalyzeBatch(ctx context.Context, transfers []domain.Transfer, labels LabelStore, newWallets []domain.NewWalletEvent) ([]domain.AnomalyRecord, error) {
	if !e.cfg.Enabled {
		return nil, nil
	}

	var anomalies []domain.AnomalyRecord
	runVelocity := len(transfers) <= velocityBatchLimit
	runCrossChain := len(transfers) <= crossChainBatchLimit

	for _, t := range transfers {
		if a := checkLargeTransfer(t, e.cfg.LargeTransferThresholds); a != nil {
			anomalies = append(anomalies, *a)
		}

		if a := checkSanctionedCounterparty(t, labels.IsSanctioned); a != nil {
			anomalies = append(anomalies, *a)
		}

		if a := checkRoundNumber(t, e.cfg.RoundNumber.Tolerance); a != nil {
			anomalies = append(anomalies, *a)
		}

		if a := checkNewWalletLargeReceive(t, newWallets, e.cfg.NewWallet.ThresholdUSD); a != nil {
			anomalies = append(anomalies, *a)
		}

		if runVelocity {
			a, err := checkVelocity(ctx, e.db, t, e.cfg.Velocity.WindowSecs, e.cfg.Velocity.MaxTransfers)
			if err != nil {
				return anomalies, err
			}
			if a != nil {
				anomalies = append(anomalies, *a)
			}
		}

		if runCrossChain {
			a, err := checkCrossChainActivity(ctx, e.db, t, e.cfg.CrossChain.WindowSecs)
			if err != nil {
				return anomalies, err
			}
			if a != nil {
				anomalies = append(anomalies, *a)
			}
		}
	}

	return anomalies, nil
}

// Persist resolves each anomaly's transfer_id by natural key and inserts
// it, absorbing duplicates via (transfer_id, anomaly_type) uniqueness.
func (e *Engine) Persist(ctx context.Context, anomalies []domain.AnomalyRecord) (uint64, error) {
	var count uint64
	for _, a := range anomalies {
		transferID, ok, err := e.db.TransferID(ctx, a.ChainID, a.TxHash, a.LogIndex)
		if err != nil {
			return count, fmt.Errorf("anomaly: resolve transfer id: %w", err)
		}
		if !ok {
			// spec.md §8 invariant 6: an anomaly row only exists once its
			// transfer has been committed. Without a resolved transfer_id
			// there is nothing to attach the record to.
			continue
		}
		if err := e.db.InsertAnomaly(ctx, &transferID, a); err != nil {
			return count, fmt.Errorf("anomaly: persist: %w", err)
		}
		count++
	}
	return count, nil
}
