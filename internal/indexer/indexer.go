// Package indexer runs one chain's ingestion loop: backfill from the last
// checkpoint up to the chain tip, then live indexing (WebSocket
// subscription with HTTP-poll fallback), with reorg detection and repair.
package indexer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/csic/platform/chainwatch-indexer/internal/config"
	"github.com/csic/platform/chainwatch-indexer/internal/decoder"
	"github.com/csic/platform/chainwatch-indexer/internal/defidecoder"
	"github.com/csic/platform/chainwatch-indexer/internal/domain"
	"github.com/csic/platform/chainwatch-indexer/internal/pipeline"
	"github.com/csic/platform/chainwatch-indexer/internal/tokens"
)

const receiptThrottle = 50 * time.Millisecond

// maxUniqueTxsForReceipts caps receipt-fetching cost per
// decodeDefiForTransfers call. Backfill ranges and live blocks both go
// through it, so a live block with more unique txs than this is not
// decoded for DeFi events either.
const maxUniqueTxsForReceipts = 100

// RPCClient is the chain-RPC surface the indexer needs, satisfied by
// *chainrpc.Client. Kept narrow so this package can be exercised against a
// fake in tests without dialing a node.
type RPCClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Store is the persistence surface the indexer needs: checkpoint and
// block-hash bookkeeping, batched writes, and the reorg-repair range
// deletes. Satisfied by *store.Store.
type Store interface {
	LastIndexedBlock(ctx context.Context, chainID int64) (int64, bool, error)
	InsertTransfers(ctx context.Context, transfers []domain.Transfer) error
	InsertDefiEvents(ctx context.Context, events []domain.DefiEvent) error
	AdvanceCheckpoint(ctx context.Context, chainID, blockNumber int64, blockHash []byte) error
	BlockHash(ctx context.Context, chainID, blockNumber int64) ([]byte, error)
	UpsertBlockHash(ctx context.Context, chainID, blockNumber int64, blockHash, parentHash []byte) error
	PruneBlockHashes(ctx context.Context, chainID, belowBlock int64) error
	DeleteTransfersFrom(ctx context.Context, chainID, fromBlock int64) (int64, error)
	DeleteDefiEventsFrom(ctx context.Context, chainID, fromBlock int64) (int64, error)
	DeleteBlockHashesFrom(ctx context.Context, chainID, fromBlock int64) error
}

// Indexer runs a single chain's ingestion loop.
type Indexer struct {
	cfg      config.ChainConfig
	client   RPCClient
	db       Store
	pipeline *pipeline.Pipeline
	watched  map[common.Address]domain.TokenMeta
	logger   *zap.Logger
}

// New constructs an indexer bound to one chain's config and RPC client.
func New(cfg config.ChainConfig, client RPCClient, db Store, pl *pipeline.Pipeline, logger *zap.Logger) *Indexer {
	return &Indexer{
		cfg:      cfg,
		client:   client,
		db:       db,
		pipeline: pl,
		watched:  tokens.BuildWatched(cfg),
		logger:   logger.With(zap.String("chain", cfg.Name), zap.Uint64("chain_id", cfg.ChainID)),
	}
}

// Run resumes from the last checkpoint (or the configured start block),
// backfills to the observed chain tip, then transitions to live indexing.
// It returns when ctx is cancelled or an unrecoverable error occurs.
func (ix *Indexer) Run(ctx context.Context) error {
	if len(ix.watched) == 0 {
		ix.logger.Warn("no valid tokens configured, exiting")
		return nil
	}

	last, ok, err := ix.db.LastIndexedBlock(ctx, int64(ix.cfg.ChainID))
	if err != nil {
		return fmt.Errorf("indexer: load checkpoint: %w", err)
	}

	var startBlock *uint64
	if ok {
		next := uint64(last) + 1
		startBlock = &next
	} else if ix.cfg.StartBlock != nil {
		startBlock = ix.cfg.StartBlock
	}

	if startBlock != nil && ctx.Err() == nil {
		ix.logger.Info("starting backfill", zap.Uint64("start_block", *startBlock))
		if err := ix.backfill(ctx, *startBlock); err != nil {
			return fmt.Errorf("indexer: backfill: %w", err)
		}
	}

	if ctx.Err() != nil {
		return nil
	}

	ix.logger.Info("switching to live indexing")
	return ix.liveIndex(ctx)
}

func (ix *Indexer) watchedAddresses() []common.Address {
	return tokens.Addresses(ix.watched)
}

// backfill walks fixed-size block ranges from start to the observed tip.
func (ix *Indexer) backfill(ctx context.Context, start uint64) error {
	tip, err := ix.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get chain tip: %w", err)
	}
	if start > tip {
		ix.logger.Info("already past chain tip, skipping backfill", zap.Uint64("start_block", start), zap.Uint64("chain_tip", tip))
		return nil
	}

	addresses := ix.watchedAddresses()
	current := start

	for current <= tip && ctx.Err() == nil {
		to := current + ix.cfg.BatchSize - 1
		if to > tip {
			to = tip
		}

		if err := ix.backfillRange(ctx, addresses, current, to); err != nil {
			return fmt.Errorf("backfill range [%d,%d]: %w", current, to, err)
		}

		current = to + 1
	}

	ix.logger.Info("backfill complete")
	return nil
}

func (ix *Indexer) backfillRange(ctx context.Context, addresses []common.Address, from, to uint64) error {
	logs, err := ix.client.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: addresses,
		Topics:    [][]common.Hash{{decoder.TransferEventSignature}},
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
	})
	if err != nil {
		return fmt.Errorf("filter logs: %w", err)
	}

	blockTimestamps := make(map[uint64]time.Time)
	for _, lg := range logs {
		if _, ok := blockTimestamps[lg.BlockNumber]; ok {
			continue
		}
		header, err := ix.client.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
		if err != nil {
			return fmt.Errorf("header for block %d: %w", lg.BlockNumber, err)
		}
		blockTimestamps[lg.BlockNumber] = time.Unix(int64(header.Time), 0).UTC()
	}

	var transfers []domain.Transfer
	for _, lg := range logs {
		t, matched := decoder.DecodeTransfer(int64(ix.cfg.ChainID), lg, ix.watched, blockTimestamps[lg.BlockNumber])
		if matched {
			transfers = append(transfers, *t)
		}
	}

	if len(transfers) > 0 {
		ix.logger.Info("inserting transfers", zap.Int("count", len(transfers)))
		if err := ix.db.InsertTransfers(ctx, transfers); err != nil {
			return fmt.Errorf("insert transfers: %w", err)
		}
		if err := ix.runEnrichment(ctx, transfers); err != nil {
			return err
		}
	}

	if *ix.cfg.DecodeDefi && len(transfers) > 0 {
		if err := ix.decodeDefiForTransfers(ctx, transfers, blockTimestamps); err != nil {
			ix.logger.Warn("failed to fetch receipts for defi decoding, continuing", zap.Error(err))
		}
	}

	return ix.db.AdvanceCheckpoint(ctx, int64(ix.cfg.ChainID), int64(to), nil)
}

// decodeDefiForTransfers fetches receipts for the batch's unique tx
// hashes (skipped if there are too many) and decodes DeFi events from
// their logs, stamping each with its own block's timestamp.
func (ix *Indexer) decodeDefiForTransfers(ctx context.Context, transfers []domain.Transfer, blockTimestamps map[uint64]time.Time) error {
	uniqueTx := uniqueTxHashes(transfers)
	if len(uniqueTx) > maxUniqueTxsForReceipts {
		ix.logger.Debug("skipping defi decoding: too many unique txs in batch", zap.Int("tx_count", len(uniqueTx)))
		return nil
	}

	logs, err := ix.fetchReceiptLogs(ctx, uniqueTx)
	if err != nil {
		return err
	}

	var events []domain.DefiEvent
	for _, lg := range logs {
		ts := blockTimestamps[lg.BlockNumber]
		ev, matched := defidecoder.Decode(int64(ix.cfg.ChainID), lg, ts.Unix())
		if matched {
			events = append(events, *ev)
		}
	}
	if len(events) == 0 {
		return nil
	}

	ix.logger.Info("decoded defi events from receipts", zap.Int("defi_events", len(events)))
	return ix.db.InsertDefiEvents(ctx, events)
}

func uniqueTxHashes(transfers []domain.Transfer) []common.Hash {
	seen := make(map[common.Hash]struct{})
	var hashes []common.Hash
	for _, t := range transfers {
		h := common.BytesToHash(t.TxHash)
		if _, ok := seen[h]; !ok {
			seen[h] = struct{}{}
			hashes = append(hashes, h)
		}
	}
	return hashes
}

// fetchReceiptLogs does serial point lookups with a fixed inter-call
// throttle to respect RPC rate limits.
func (ix *Indexer) fetchReceiptLogs(ctx context.Context, txHashes []common.Hash) ([]gethtypes.Log, error) {
	var logs []gethtypes.Log
	for i, h := range txHashes {
		receipt, err := ix.client.TransactionReceipt(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("transaction receipt %s: %w", h, err)
		}
		for _, lg := range receipt.Logs {
			logs = append(logs, *lg)
		}
		if i+1 < len(txHashes) {
			select {
			case <-time.After(receiptThrottle):
			case <-ctx.Done():
				return logs, ctx.Err()
			}
		}
	}
	return logs, nil
}

func (ix *Indexer) runEnrichment(ctx context.Context, transfers []domain.Transfer) error {
	result, err := ix.pipeline.Enrich(ctx, ix.cfg.Name, transfers)
	if err != nil {
		return fmt.Errorf("enrich: %w", err)
	}
	if result.AnomaliesDetected > 0 || result.EntitiesAttributed > 0 {
		ix.logger.Info("enrichment complete",
			zap.Uint64("entities", result.EntitiesAttributed),
			zap.Uint64("new_wallets", result.NewWalletsFound),
			zap.Uint64("anomalies", result.AnomaliesDetected),
			zap.Uint64("edges", result.GraphEdgesUpdated))
	}
	return nil
}
