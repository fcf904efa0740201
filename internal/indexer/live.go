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

	"github.com/csic/platform/chainwatch-indexer/internal/chainrpc"
	"github.com/csic/platform/chainwatch-indexer/internal/decoder"
	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

// liveIndex subscribes to new block headers over WebSocket, falling back
// to HTTP polling when the subscription can't be established or drops.
func (ix *Indexer) liveIndex(ctx context.Context) error {
	if ix.cfg.RPCWS != "" {
		if err := ix.liveIndexWS(ctx); err != nil && ctx.Err() == nil {
			ix.logger.Warn("websocket subscription failed, falling back to polling", zap.Error(err))
		} else {
			return err
		}
	}
	return ix.liveIndexHTTP(ctx)
}

func (ix *Indexer) liveIndexWS(ctx context.Context) error {
	wsClient, err := chainrpc.Dial(ctx, ix.cfg.RPCWS)
	if err != nil {
		return fmt.Errorf("dial ws: %w", err)
	}
	defer wsClient.Close()

	headers := make(chan *gethtypes.Header)
	sub, err := wsClient.SubscribeNewHead(ctx, headers)
	if err != nil {
		return fmt.Errorf("subscribe new head: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return fmt.Errorf("subscription error: %w", err)
		case header := <-headers:
			if err := ix.processNewBlock(ctx, header.Number.Uint64()); err != nil {
				ix.logger.Error("failed to process new block", zap.Uint64("block_number", header.Number.Uint64()), zap.Error(err))
			}
		}
	}
}

func (ix *Indexer) liveIndexHTTP(ctx context.Context) error {
	interval := time.Duration(ix.cfg.PollIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tip, err := ix.client.BlockNumber(ctx)
			if err != nil {
				ix.logger.Warn("poll: failed to get chain tip", zap.Error(err))
				continue
			}

			last, ok, err := ix.db.LastIndexedBlock(ctx, int64(ix.cfg.ChainID))
			if err != nil {
				ix.logger.Warn("poll: failed to load checkpoint", zap.Error(err))
				continue
			}
			if !ok {
				continue
			}

			for block := uint64(last) + 1; block <= tip && ctx.Err() == nil; block++ {
				if err := ix.processNewBlock(ctx, block); err != nil {
					ix.logger.Error("failed to process new block", zap.Uint64("block_number", block), zap.Error(err))
					break
				}
			}
		}
	}
}

// processNewBlock handles one observed block at the live tip: reorg
// detection against the stored parent hash, then transfer/defi decoding
// and checkpoint advancement for that single block.
func (ix *Indexer) processNewBlock(ctx context.Context, blockNumber uint64) error {
	header, err := ix.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return fmt.Errorf("fetch header: %w", err)
	}

	if blockNumber > 0 {
		storedParent, err := ix.db.BlockHash(ctx, int64(ix.cfg.ChainID), int64(blockNumber-1))
		if err != nil {
			return fmt.Errorf("load stored parent hash: %w", err)
		}
		if storedParent != nil && common.BytesToHash(storedParent) != header.ParentHash {
			ix.logger.Warn("reorg detected", zap.Uint64("block_number", blockNumber))
			if err := ix.handleReorg(ctx, blockNumber); err != nil {
				return fmt.Errorf("handle reorg: %w", err)
			}
			// Checkpoint is rewound to the fork point; the live loop will
			// re-enter this and any re-canonicalized blocks naturally on
			// its next tick/header delivery.
			return nil
		}
	}

	if err := ix.db.UpsertBlockHash(ctx, int64(ix.cfg.ChainID), int64(blockNumber), header.Hash().Bytes(), header.ParentHash.Bytes()); err != nil {
		return fmt.Errorf("upsert block hash: %w", err)
	}

	retentionDepth := ix.cfg.MaxReorgDepth
	if blockNumber > retentionDepth {
		if err := ix.db.PruneBlockHashes(ctx, int64(ix.cfg.ChainID), int64(blockNumber-retentionDepth)); err != nil {
			ix.logger.Warn("failed to prune old block hashes, continuing", zap.Error(err))
		}
	}

	addresses := ix.watchedAddresses()
	logs, err := ix.client.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: addresses,
		Topics:    [][]common.Hash{{decoder.TransferEventSignature}},
		FromBlock: new(big.Int).SetUint64(blockNumber),
		ToBlock:   new(big.Int).SetUint64(blockNumber),
	})
	if err != nil {
		return fmt.Errorf("filter logs: %w", err)
	}

	blockTimestamp := time.Unix(int64(header.Time), 0).UTC()

	var transfers []domain.Transfer
	for _, lg := range logs {
		t, matched := decoder.DecodeTransfer(int64(ix.cfg.ChainID), lg, ix.watched, blockTimestamp)
		if matched {
			transfers = append(transfers, *t)
		}
	}

	if len(transfers) > 0 {
		if err := ix.db.InsertTransfers(ctx, transfers); err != nil {
			return fmt.Errorf("insert transfers: %w", err)
		}
		if err := ix.runEnrichment(ctx, transfers); err != nil {
			return err
		}
	}

	if *ix.cfg.DecodeDefi && len(transfers) > 0 {
		blockTimestamps := map[uint64]time.Time{blockNumber: blockTimestamp}
		if err := ix.decodeDefiForTransfers(ctx, transfers, blockTimestamps); err != nil {
			ix.logger.Warn("failed to fetch receipts for defi decoding, continuing", zap.Error(err))
		}
	}

	return ix.db.AdvanceCheckpoint(ctx, int64(ix.cfg.ChainID), int64(blockNumber), header.Hash().Bytes())
}

// handleReorg walks backward from just below the diverging block to find
// where our stored chain and the node's chain last agreed, bounded by
// max_reorg_depth, then rolls back every table to that fork point.
func (ix *Indexer) handleReorg(ctx context.Context, divergedAt uint64) error {
	forkPoint, err := ix.findForkPoint(ctx, divergedAt)
	if err != nil {
		return err
	}

	ix.logger.Warn("rolling back to fork point", zap.Uint64("fork_point", forkPoint))

	chainID := int64(ix.cfg.ChainID)
	fromBlock := int64(forkPoint) + 1

	deleted, err := ix.db.DeleteTransfersFrom(ctx, chainID, fromBlock)
	if err != nil {
		return fmt.Errorf("delete transfers from %d: %w", fromBlock, err)
	}
	if _, err := ix.db.DeleteDefiEventsFrom(ctx, chainID, fromBlock); err != nil {
		return fmt.Errorf("delete defi events from %d: %w", fromBlock, err)
	}
	if err := ix.db.DeleteBlockHashesFrom(ctx, chainID, fromBlock); err != nil {
		return fmt.Errorf("delete block hashes from %d: %w", fromBlock, err)
	}
	if err := ix.db.AdvanceCheckpoint(ctx, chainID, int64(forkPoint), nil); err != nil {
		return fmt.Errorf("rewind checkpoint to %d: %w", forkPoint, err)
	}

	ix.logger.Warn("reorg repair complete", zap.Uint64("fork_point", forkPoint), zap.Int64("transfers_removed", deleted))
	return nil
}

// findForkPoint walks backward from divergedAt-1, comparing our stored
// block hash against the node's canonical hash at that height, until they
// agree or max_reorg_depth is exceeded.
func (ix *Indexer) findForkPoint(ctx context.Context, divergedAt uint64) (uint64, error) {
	if divergedAt == 0 {
		return 0, nil
	}

	depth := uint64(0)
	block := divergedAt - 1

	for {
		storedHash, err := ix.db.BlockHash(ctx, int64(ix.cfg.ChainID), int64(block))
		if err != nil {
			return 0, fmt.Errorf("load stored hash for %d: %w", block, err)
		}
		if storedHash == nil {
			return block, nil
		}

		header, err := ix.client.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
		if err != nil {
			return 0, fmt.Errorf("fetch header %d: %w", block, err)
		}

		if common.BytesToHash(storedHash) == header.Hash() {
			return block, nil
		}

		depth++
		if depth > ix.cfg.MaxReorgDepth {
			return 0, fmt.Errorf("reorg depth exceeds max_reorg_depth (%d)", ix.cfg.MaxReorgDepth)
		}
		if block == 0 {
			return 0, nil
		}
		block--
	}
}
