// Package graph pre-aggregates wallet-graph edges per enrichment batch
// and runs the periodic bidirectional-edge wallet reclustering job.
package graph

import (
	"context"
	"fmt"
	"math/big"

	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

type edgeStore interface {
	UpsertGraphEdges(ctx context.Context, edges []domain.WalletGraphEdge) (int64, error)
}

type edgeKey struct {
	source  string
	dest    string
	chainID int64
}

// UpdateEdges aggregates a batch's transfers into per-(source, dest, chain)
// edges — summing counts/amounts and tracking min/max timestamp within the
// batch — then upserts each aggregate once. Aggregating first avoids
// PostgreSQL's restriction against updating the same target row twice in a
// single statement.
func UpdateEdges(ctx context.Context, db edgeStore, transfers []domain.Transfer) (uint64, error) {
	if len(transfers) == 0 {
		return 0, nil
	}

	agg := make(map[edgeKey]*domain.WalletGraphEdge)
	var order []edgeKey
	for _, t := range transfers {
		k := edgeKey{source: string(t.FromAddress), dest: string(t.ToAddress), chainID: t.ChainID}
		e, ok := agg[k]
		if !ok {
			e = &domain.WalletGraphEdge{
				SourceAddress: t.FromAddress,
				DestAddress:   t.ToAddress,
				ChainID:       t.ChainID,
				TotalAmount:   big.NewInt(0),
				FirstSeen:     t.BlockTimestamp,
				LastSeen:      t.BlockTimestamp,
			}
			agg[k] = e
			order = append(order, k)
		}
		e.TransferCount++
		e.TotalAmount.Add(e.TotalAmount, t.Amount)
		if t.BlockTimestamp.Before(e.FirstSeen) {
			e.FirstSeen = t.BlockTimestamp
		}
		if t.BlockTimestamp.After(e.LastSeen) {
			e.LastSeen = t.BlockTimestamp
		}
	}

	edges := make([]domain.WalletGraphEdge, 0, len(order))
	for _, k := range order {
		edges = append(edges, *agg[k])
	}

	affected, err := db.UpsertGraphEdges(ctx, edges)
	if err != nil {
		return 0, fmt.Errorf("graph: update edges: %w", err)
	}
	return uint64(affected), nil
}
