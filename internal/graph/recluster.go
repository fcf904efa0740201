package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type reclusterStore interface {
	BidirectionalEdges(ctx context.Context, chainID int64) ([][2][]byte, error)
	ReplaceWalletClusters(ctx context.Context, chainID int64, clusters map[string]int64) error
}

// unionFind is a standard union-by-rank, path-compressed disjoint set over
// dense integer indices.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(size int) *unionFind {
	parent := make([]int, size)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent, rank: make([]int, size)}
}

func (u *unionFind) find(x int) int {
	if u.parent[x] != x {
		u.parent[x] = u.find(u.parent[x])
	}
	return u.parent[x]
}

func (u *unionFind) union(x, y int) {
	rx, ry := u.find(x), u.find(y)
	if rx == ry {
		return
	}
	switch {
	case u.rank[rx] < u.rank[ry]:
		u.parent[rx] = ry
	case u.rank[rx] > u.rank[ry]:
		u.parent[ry] = rx
	default:
		u.parent[ry] = rx
		u.rank[rx]++
	}
}

// Recluster finds every bidirectional wallet-graph edge on a chain (A sent
// to B and B sent to A, suggesting common ownership), runs union-find over
// them, and global-replaces that chain's wallet_clusters rows. This is a
// periodic background job, never invoked from the hot ingestion path.
func Recluster(ctx context.Context, db reclusterStore, logger *zap.Logger, chainID int64) (uint64, error) {
	jobID := uuid.NewString()
	logger = logger.With(zap.String("job_id", jobID), zap.Int64("chain_id", chainID))

	edges, err := db.BidirectionalEdges(ctx, chainID)
	if err != nil {
		return 0, fmt.Errorf("graph: recluster: load edges: %w", err)
	}
	if len(edges) == 0 {
		return 0, nil
	}

	indexOf := make(map[string]int)
	var addresses []string
	idx := func(addr []byte) int {
		key := string(addr)
		if i, ok := indexOf[key]; ok {
			return i
		}
		i := len(addresses)
		indexOf[key] = i
		addresses = append(addresses, key)
		return i
	}

	for _, e := range edges {
		idx(e[0])
		idx(e[1])
	}
	uf := newUnionFind(len(addresses))
	for _, e := range edges {
		uf.union(indexOf[string(e[0])], indexOf[string(e[1])])
	}

	rootToCluster := make(map[int]int64)
	var nextClusterID int64 = 1
	clusters := make(map[string]int64, len(addresses))
	for i, addr := range addresses {
		root := uf.find(i)
		clusterID, ok := rootToCluster[root]
		if !ok {
			clusterID = nextClusterID
			nextClusterID++
			rootToCluster[root] = clusterID
		}
		clusters[addr] = clusterID
	}

	if err := db.ReplaceWalletClusters(ctx, chainID, clusters); err != nil {
		return 0, fmt.Errorf("graph: recluster: replace clusters: %w", err)
	}

	logger.Info("reclustered wallets", zap.Int("wallets", len(clusters)), zap.Int("clusters", len(rootToCluster)))
	return uint64(len(clusters)), nil
}
