// Package domain holds the core types shared across the ingestion and
// enrichment engine: transfers, DeFi events, checkpoints, labels, and the
// derived signals the pipeline produces.
package domain

import (
	"math/big"
	"time"
)

// Transfer is a decoded ERC-20 Transfer log. (chain_id, tx_hash, log_index)
// is its natural key.
type Transfer struct {
	ChainID        int64
	BlockNumber    int64
	BlockHash      []byte
	TxHash         []byte
	LogIndex       int32
	TokenAddress   []byte
	FromAddress    []byte
	ToAddress      []byte
	Amount         *big.Int
	TokenSymbol    string
	TokenDecimals  int16
	BlockTimestamp time.Time
}

// DefiEvent is a normalized DeFi protocol event. Shares the transfer's
// natural key shape.
type DefiEvent struct {
	ChainID        int64
	BlockNumber    int64
	BlockHash      []byte
	TxHash         []byte
	LogIndex       int32
	Protocol       string
	EventType      string
	Account        []byte // nullable
	TokenIn        []byte // nullable
	TokenOut       []byte // nullable
	AmountIn       *big.Int // nullable
	AmountOut      *big.Int // nullable
	RawData        []byte   // JSON blob
	BlockTimestamp time.Time
}

// IndexerCheckpoint is the per-chain resume point.
type IndexerCheckpoint struct {
	ChainID         int64
	LastIndexedBlock int64
	LastBlockHash   []byte
	UpdatedAt       time.Time
}

// BlockHashRecord drives reorg detection. Retained only for the last
// max_reorg_depth blocks per chain.
type BlockHashRecord struct {
	ChainID     int64
	BlockNumber int64
	BlockHash   []byte
	ParentHash  []byte
}

// EntityLabel is an externally-sourced claim that an address belongs to a
// real-world entity. A nil ChainID means the label applies on every chain.
type EntityLabel struct {
	ID          int64
	Address     []byte
	ChainID     *int64
	EntityName  string
	EntityType  string
	LabelSource string
	Confidence  float32
	Metadata    []byte // JSON
}

// TransferEntityFlag links a persisted transfer to a matching entity label.
type TransferEntityFlag struct {
	TransferID    int64
	EntityLabelID int64
	Side          string // "from" | "to"
}

// WalletFirstSeen records the earliest sighting of (address, chain_id).
// Immutable once written.
type WalletFirstSeen struct {
	Address     []byte
	ChainID     int64
	FirstSeenAt time.Time
	FirstBlock  int64
	FirstTxHash []byte
	Direction   string // "from" | "to"
}

// NewWalletEvent is the in-memory signal emitted when a wallet is observed
// for the first time on a chain, consumed by the anomaly engine's
// new-wallet-large-receive rule before it is persisted as WalletFirstSeen.
type NewWalletEvent struct {
	Address     []byte
	ChainID     int64
	FirstSeenAt time.Time
	FirstBlock  int64
	FirstTxHash []byte
	Direction   string
}

// WalletGraphEdge is a cumulative directed edge between two wallets on a
// chain. FirstSeen is monotone non-increasing on update; LastSeen is
// monotone non-decreasing.
type WalletGraphEdge struct {
	SourceAddress []byte
	DestAddress   []byte
	ChainID       int64
	TransferCount int64
	TotalAmount   *big.Int
	FirstSeen     time.Time
	LastSeen      time.Time
}

// AnomalyRecord is a single fired anomaly rule against one transfer.
type AnomalyRecord struct {
	ChainID      int64
	AnomalyType  string
	RiskScore    float32
	Flags        []string
	Details      []byte // JSON
	Address      []byte // nullable, the flagged address
	TxHash       []byte
	LogIndex     int32
	Resolved     bool
}

// TokenMeta is the resolved (symbol, decimals) for a watched token address.
type TokenMeta struct {
	Symbol   string
	Decimals uint8
}

// WalletCluster assigns an address to a cluster produced by the periodic
// reclustering job.
type WalletCluster struct {
	Address    []byte
	ChainID    int64
	ClusterID  int64
	AssignedAt time.Time
}

// ProviderWalletInfo is the resolved identity of a known on-ramp / exchange
// wallet, used by the on-ramp matcher to attribute a transfer side.
type ProviderWalletInfo struct {
	ProviderID   int64
	ProviderName string
	Label        string
}

// EnrichmentResult summarizes a single pipeline run over a batch.
type EnrichmentResult struct {
	EntitiesAttributed uint64
	NewWalletsFound    uint64
	AnomaliesDetected  uint64
	GraphEdgesUpdated  uint64
}
