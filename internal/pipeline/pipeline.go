// Package pipeline orchestrates the per-batch enrichment sequence:
// first-seen tracking, entity attribution, on-ramp attribution, graph-edge
// aggregation, and anomaly detection, in that fixed order. Order matters only because the
// new-wallet-large-receive rule needs step one's output.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/csic/platform/chainwatch-indexer/internal/anomaly"
	"github.com/csic/platform/chainwatch-indexer/internal/config"
	"github.com/csic/platform/chainwatch-indexer/internal/domain"
	"github.com/csic/platform/chainwatch-indexer/internal/entity"
	"github.com/csic/platform/chainwatch-indexer/internal/notify"
	"github.com/csic/platform/chainwatch-indexer/internal/onramp"
	"github.com/csic/platform/chainwatch-indexer/internal/store"
	"github.com/csic/platform/chainwatch-indexer/internal/wallet"
	wgraph "github.com/csic/platform/chainwatch-indexer/internal/graph"
)

// Pipeline is process-wide and guarded by a single mutex: chains serialize
// through Enrich because it mutates the in-memory label and wallet caches.
// This caps enrichment concurrency at one but keeps those caches
// consistent without per-field locking; enrichment is cheap relative to
// the RPC fetches that precede it, so the tradeoff favors simplicity.
type Pipeline struct {
	mu       sync.Mutex
	Entities *entity.Store
	Wallets  *wallet.Tracker
	Anomaly  *anomaly.Engine
	Onramp   *onramp.Index
	db       *store.Store
	notifier *notify.Producer
	logger   *zap.Logger
}

// Init loads the entity label store and wallet tracker from storage, seeds
// OFAC/manual labels and the exchange-wallet file if configured, and loads
// the on-ramp provider wallet index. An optional seed file that cannot be
// read or parsed is logged as a warning and skipped; a storage error while
// seeding is returned.
func Init(ctx context.Context, db *store.Store, cfg *config.Config, notifier *notify.Producer, logger *zap.Logger) (*Pipeline, error) {
	entityStore := entity.New(db, logger)
	if err := entityStore.LoadAll(ctx); err != nil {
		return nil, fmt.Errorf("pipeline: init: %w", err)
	}

	if cfg.EntityAttribution.OfacSdnPath != "" {
		entries, err := entity.ParseOfacCSV(cfg.EntityAttribution.OfacSdnPath)
		if err != nil {
			logger.Warn("failed to load ofac sdn file, continuing without", zap.Error(err))
		} else if _, err := entityStore.SeedOfacEntries(ctx, entries); err != nil {
			return nil, fmt.Errorf("pipeline: seed ofac entries: %w", err)
		}
	}

	if len(cfg.EntityAttribution.ManualLabels) > 0 {
		labels := make([]entity.ManualLabel, 0, len(cfg.EntityAttribution.ManualLabels))
		for _, l := range cfg.EntityAttribution.ManualLabels {
			labels = append(labels, entity.ManualLabel{
				Address: l.Address, ChainID: l.ChainID, EntityName: l.EntityName,
				EntityType: l.EntityType, Confidence: l.Confidence, Source: l.Source,
			})
		}
		if _, err := entityStore.SeedManualLabels(ctx, labels); err != nil {
			return nil, fmt.Errorf("pipeline: seed manual labels: %w", err)
		}
	}

	if cfg.EntityAttribution.ExchangeWalletsPath != "" {
		providers, err := entity.ParseExchangeWallets(cfg.EntityAttribution.ExchangeWalletsPath)
		if err != nil {
			logger.Warn("failed to load exchange wallets file, continuing without", zap.Error(err))
		} else if _, err := entityStore.SeedExchangeWallets(ctx, db, providers); err != nil {
			return nil, fmt.Errorf("pipeline: seed exchange wallets: %w", err)
		}
	}

	if err := onramp.SeedProviders(ctx, db, logger, cfg.OnrampProviders); err != nil {
		return nil, fmt.Errorf("pipeline: seed onramp providers: %w", err)
	}
	if err := onramp.SeedFiatCurrencies(ctx, db, logger, cfg.FiatCurrencies); err != nil {
		return nil, fmt.Errorf("pipeline: seed fiat currencies: %w", err)
	}

	walletTracker := wallet.New(db, logger)
	if err := walletTracker.LoadAll(ctx); err != nil {
		return nil, fmt.Errorf("pipeline: init: %w", err)
	}

	onrampIndex, err := onramp.LoadIndex(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load onramp index: %w", err)
	}

	return &Pipeline{
		Entities: entityStore,
		Wallets:  walletTracker,
		Anomaly:  anomaly.New(cfg.AnomalyDetection, db),
		Onramp:   onrampIndex,
		db:       db,
		notifier: notifier,
		logger:   logger,
	}, nil
}

// Enrich runs the full sequence over a batch of just-persisted transfers
// on one chain, exclusive of every other chain's own Enrich call.
func (p *Pipeline) Enrich(ctx context.Context, chainName string, transfers []domain.Transfer) (domain.EnrichmentResult, error) {
	if len(transfers) == 0 {
		return domain.EnrichmentResult{}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var result domain.EnrichmentResult

	newWallets, err := p.Wallets.ProcessTransfers(ctx, transfers)
	if err != nil {
		return result, fmt.Errorf("pipeline: first-seen: %w", err)
	}
	result.NewWalletsFound = uint64(len(newWallets))

	refs := make([]entity.TransferRef, 0, len(transfers))
	for _, t := range transfers {
		refs = append(refs, entity.TransferRef{
			ChainID: t.ChainID, TxHash: t.TxHash, LogIndex: t.LogIndex,
			FromAddress: t.FromAddress, ToAddress: t.ToAddress,
		})
	}
	attributed, err := entity.Attribute(ctx, p.db, p.Entities, refs)
	if err != nil {
		return result, fmt.Errorf("pipeline: entity attribution: %w", err)
	}
	result.EntitiesAttributed = attributed

	if _, err := onramp.AttributeTransfers(ctx, p.db, p.logger, chainName, transfers, p.Onramp); err != nil {
		return result, fmt.Errorf("pipeline: onramp attribution: %w", err)
	}

	graphEdges, err := wgraph.UpdateEdges(ctx, p.db, transfers)
	if err != nil {
		return result, fmt.Errorf("pipeline: graph update: %w", err)
	}
	result.GraphEdgesUpdated = graphEdges

	anomalies, err := p.Anomaly.AnalyzeBatch(ctx, transfers, p.Entities, newWallets)
	if err != nil {
		return result, fmt.Errorf("pipeline: anomaly analysis: %w", err)
	}
	detected, err := p.Anomaly.Persist(ctx, anomalies)
	if err != nil {
		return result, fmt.Errorf("pipeline: anomaly persist: %w", err)
	}
	result.AnomaliesDetected = detected

	for _, a := range anomalies {
		p.logger.Warn("anomaly detected",
			zap.String("anomaly_type", a.AnomalyType), zap.Float32("risk_score", a.RiskScore), zap.Strings("flags", a.Flags))
	}

	if p.notifier != nil {
		p.notifier.PublishAnomalies(ctx, anomalies)
		p.notifier.PublishNewWallets(ctx, newWallets)
	}

	return result, nil
}
