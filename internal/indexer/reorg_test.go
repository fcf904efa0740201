package indexer

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/csic/platform/chainwatch-indexer/internal/config"
	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

// fakeReorgStore implements Store, recording the reorg-repair calls so
// tests can assert on what got deleted and where the checkpoint landed.
type fakeReorgStore struct {
	blockHashes map[int64][]byte

	deletedTransfersFrom   int64
	deletedDefiFrom        int64
	deletedBlockHashesFrom int64
	checkpointSet          bool
	checkpoint             int64
}

func (f *fakeReorgStore) LastIndexedBlock(ctx context.Context, chainID int64) (int64, bool, error) {
	return 0, false, nil
}

func (f *fakeReorgStore) InsertTransfers(ctx context.Context, transfers []domain.Transfer) error {
	return nil
}

func (f *fakeReorgStore) InsertDefiEvents(ctx context.Context, events []domain.DefiEvent) error {
	return nil
}

func (f *fakeReorgStore) AdvanceCheckpoint(ctx context.Context, chainID, blockNumber int64, blockHash []byte) error {
	f.checkpointSet = true
	f.checkpoint = blockNumber
	return nil
}

func (f *fakeReorgStore) BlockHash(ctx context.Context, chainID, blockNumber int64) ([]byte, error) {
	h, ok := f.blockHashes[blockNumber]
	if !ok {
		return nil, nil
	}
	return h, nil
}

func (f *fakeReorgStore) UpsertBlockHash(ctx context.Context, chainID, blockNumber int64, blockHash, parentHash []byte) error {
	return nil
}

func (f *fakeReorgStore) PruneBlockHashes(ctx context.Context, chainID, belowBlock int64) error {
	return nil
}

func (f *fakeReorgStore) DeleteTransfersFrom(ctx context.Context, chainID, fromBlock int64) (int64, error) {
	f.deletedTransfersFrom = fromBlock
	return 0, nil
}

func (f *fakeReorgStore) DeleteDefiEventsFrom(ctx context.Context, chainID, fromBlock int64) (int64, error) {
	f.deletedDefiFrom = fromBlock
	return 0, nil
}

func (f *fakeReorgStore) DeleteBlockHashesFrom(ctx context.Context, chainID, fromBlock int64) error {
	f.deletedBlockHashesFrom = fromBlock
	return nil
}

// fakeReorgRPC implements RPCClient, answering HeaderByNumber from a fixed
// set of canonical headers. BlockNumber/FilterLogs/TransactionReceipt are
// unused by the reorg path and are never called in these tests.
type fakeReorgRPC struct {
	headers map[uint64]*gethtypes.Header
}

func (f *fakeReorgRPC) BlockNumber(ctx context.Context) (uint64, error) {
	return 0, fmt.Errorf("unexpected call")
}

func (f *fakeReorgRPC) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	return nil, fmt.Errorf("unexpected call")
}

func (f *fakeReorgRPC) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	h, ok := f.headers[number.Uint64()]
	if !ok {
		return nil, fmt.Errorf("no header for block %d", number.Uint64())
	}
	return h, nil
}

func (f *fakeReorgRPC) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	return nil, fmt.Errorf("unexpected call")
}

func newTestIndexer(store *fakeReorgStore, rpc *fakeReorgRPC, maxReorgDepth uint64) *Indexer {
	return &Indexer{
		cfg:    config.ChainConfig{ChainID: 1, MaxReorgDepth: maxReorgDepth},
		client: rpc,
		db:     store,
		logger: zap.NewNop(),
	}
}

// TestHandleReorg_RollsBackToForkPointAndLeavesCheckpointBehind reproduces
// spec.md scenario 2: stored block 100 has hash 0xAA...AA, but the node's
// block 101 reports a parent_hash that doesn't match it (i.e. its own
// chain disagrees with us as of block 100). Expected: every row with
// block_number >= 100 is deleted and the checkpoint is left at 99, so the
// live loop naturally re-enters at block 100 on its next tick.
func TestHandleReorg_RollsBackToForkPointAndLeavesCheckpointBehind(t *testing.T) {
	storedHash100 := bytes.Repeat([]byte{0xAA}, 32)
	canonicalHeader100 := &gethtypes.Header{Number: big.NewInt(100), Difficulty: big.NewInt(7)}
	require.NotEqual(t, common.BytesToHash(storedHash100), canonicalHeader100.Hash(),
		"fixture must actually disagree with the stored hash to exercise the reorg branch")

	store := &fakeReorgStore{blockHashes: map[int64][]byte{100: storedHash100}}
	rpc := &fakeReorgRPC{headers: map[uint64]*gethtypes.Header{100: canonicalHeader100}}
	ix := newTestIndexer(store, rpc, 64)

	err := ix.handleReorg(context.Background(), 101)
	require.NoError(t, err)

	require.EqualValues(t, 100, store.deletedTransfersFrom)
	require.EqualValues(t, 100, store.deletedDefiFrom)
	require.EqualValues(t, 100, store.deletedBlockHashesFrom)
	require.True(t, store.checkpointSet)
	require.EqualValues(t, 99, store.checkpoint, "checkpoint must not advance past the fork point")
}

// TestFindForkPoint_WalksBackUntilStoredHashMatches exercises a deeper
// reorg: blocks 100 and 99 both disagree with the node, block 98 agrees,
// so the fork point is 98.
func TestFindForkPoint_WalksBackUntilStoredHashMatches(t *testing.T) {
	agreeingHeader98 := &gethtypes.Header{Number: big.NewInt(98), Difficulty: big.NewInt(1)}
	agreeingHash98 := agreeingHeader98.Hash().Bytes()

	store := &fakeReorgStore{blockHashes: map[int64][]byte{
		100: bytes.Repeat([]byte{0xAA}, 32),
		99:  bytes.Repeat([]byte{0xBB}, 32),
		98:  agreeingHash98,
	}}
	disagreeingHeader100 := &gethtypes.Header{Number: big.NewInt(100), Difficulty: big.NewInt(7)}
	disagreeingHeader99 := &gethtypes.Header{Number: big.NewInt(99), Difficulty: big.NewInt(8)}
	rpc := &fakeReorgRPC{headers: map[uint64]*gethtypes.Header{
		100: disagreeingHeader100,
		99:  disagreeingHeader99,
		98:  agreeingHeader98,
	}}
	ix := newTestIndexer(store, rpc, 64)

	fork, err := ix.findForkPoint(context.Background(), 101)
	require.NoError(t, err)
	require.EqualValues(t, 98, fork)
}

// TestFindForkPoint_NoStoredHashStopsImmediately covers the case where we
// have no stored hash at all below the divergence point (e.g. right after
// startup): the first block with nothing on record is treated as the
// fork point, since there's nothing earlier to roll back.
func TestFindForkPoint_NoStoredHashStopsImmediately(t *testing.T) {
	store := &fakeReorgStore{blockHashes: map[int64][]byte{}}
	rpc := &fakeReorgRPC{}
	ix := newTestIndexer(store, rpc, 64)

	fork, err := ix.findForkPoint(context.Background(), 101)
	require.NoError(t, err)
	require.EqualValues(t, 100, fork)
}

// TestProcessNewBlock_ReturnsAfterReorgWithoutProcessingDivergingBlock
// guards against re-falling into the diverging block after a reorg
// repair: once handleReorg rewinds the checkpoint to the fork point,
// processNewBlock must return immediately rather than going on to fetch
// logs for and advance the checkpoint past the block that triggered the
// reorg. The live loop re-enters that block naturally on its next tick.
func TestProcessNewBlock_ReturnsAfterReorgWithoutProcessingDivergingBlock(t *testing.T) {
	storedHash100 := bytes.Repeat([]byte{0xAA}, 32)
	canonicalHeader100 := &gethtypes.Header{Number: big.NewInt(100), Difficulty: big.NewInt(7)}
	require.NotEqual(t, common.BytesToHash(storedHash100), canonicalHeader100.Hash(),
		"fixture must actually disagree with the stored hash to exercise the reorg branch")

	header101 := &gethtypes.Header{Number: big.NewInt(101), Difficulty: big.NewInt(9)}

	store := &fakeReorgStore{blockHashes: map[int64][]byte{100: storedHash100}}
	rpc := &fakeReorgRPC{headers: map[uint64]*gethtypes.Header{
		100: canonicalHeader100,
		101: header101,
	}}
	ix := newTestIndexer(store, rpc, 64)

	err := ix.processNewBlock(context.Background(), 101)
	require.NoError(t, err)

	require.True(t, store.checkpointSet)
	require.EqualValues(t, 99, store.checkpoint,
		"checkpoint must stay at the fork point, not advance to the diverging block 101")
}

// TestFindForkPoint_ExceedsMaxReorgDepthIsAnError ensures a reorg deeper
// than max_reorg_depth surfaces as an error rather than silently walking
// back to genesis.
func TestFindForkPoint_ExceedsMaxReorgDepthIsAnError(t *testing.T) {
	blockHashes := make(map[int64][]byte)
	headers := make(map[uint64]*gethtypes.Header)
	for b := int64(90); b <= 100; b++ {
		blockHashes[b] = bytes.Repeat([]byte{0xFF}, 32) // never matches the node's header
		headers[uint64(b)] = &gethtypes.Header{Number: big.NewInt(b), Difficulty: big.NewInt(b)}
	}
	store := &fakeReorgStore{blockHashes: blockHashes}
	rpc := &fakeReorgRPC{headers: headers}
	ix := newTestIndexer(store, rpc, 5)

	_, err := ix.findForkPoint(context.Background(), 101)
	require.Error(t, err)
}
