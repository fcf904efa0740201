package graph

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

type fakeEdgeStore struct {
	upserted []domain.WalletGraphEdge
}

func (f *fakeEdgeStore) UpsertGraphEdges(ctx context.Context, edges []domain.WalletGraphEdge) (int64, error) {
	f.upserted = edges
	return int64(len(edges)), nil
}

func transferAt(from, to []byte, chainID int64, amount int64, ts time.Time) domain.Transfer {
	return domain.Transfer{FromAddress: from, ToAddress: to, ChainID: chainID, Amount: big.NewInt(amount), BlockTimestamp: ts}
}

func TestUpdateEdges_AggregatesRepeatedPairIntoOneEdge(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	transfers := []domain.Transfer{
		transferAt([]byte{0x01}, []byte{0x02}, 1, 100, base),
		transferAt([]byte{0x01}, []byte{0x02}, 1, 200, base.Add(time.Minute)),
		transferAt([]byte{0x01}, []byte{0x02}, 1, 50, base.Add(-time.Minute)),
	}
	store := &fakeEdgeStore{}

	affected, err := UpdateEdges(context.Background(), store, transfers)
	require.NoError(t, err)
	require.EqualValues(t, 1, affected)
	require.Len(t, store.upserted, 1)

	edge := store.upserted[0]
	require.EqualValues(t, 3, edge.TransferCount)
	require.Equal(t, int64(350), edge.TotalAmount.Int64())
	require.True(t, edge.FirstSeen.Equal(base.Add(-time.Minute)))
	require.True(t, edge.LastSeen.Equal(base.Add(time.Minute)))
}

func TestUpdateEdges_DistinctPairsProduceDistinctEdges(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	transfers := []domain.Transfer{
		transferAt([]byte{0x01}, []byte{0x02}, 1, 100, base),
		transferAt([]byte{0x03}, []byte{0x04}, 1, 200, base),
		transferAt([]byte{0x01}, []byte{0x02}, 2, 300, base), // same addrs, different chain
	}
	store := &fakeEdgeStore{}

	affected, err := UpdateEdges(context.Background(), store, transfers)
	require.NoError(t, err)
	require.EqualValues(t, 3, affected)
}

func TestUpdateEdges_EmptyBatchSkipsDatabaseCall(t *testing.T) {
	store := &fakeEdgeStore{}
	affected, err := UpdateEdges(context.Background(), store, nil)
	require.NoError(t, err)
	require.Zero(t, affected)
	require.Nil(t, store.upserted)
}
