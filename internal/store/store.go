// Package store is the persistence layer: a pgxpool-backed connection pool
// and batched, idempotent writes for every entity in the data model.
// Inserts chunk at 1,000 rows (500 for graph edges) to respect statement
// parameter limits, with each chunk written by a single statement. The one
// multi-statement write is ReplaceWalletClusters, which runs in a
// single-table transaction; no cross-table transaction is relied on by
// callers — the persistence API owns deletion ordering for reorg repair.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

const (
	transferChunkSize = 1000
	edgeChunkSize     = 500
)

// Store wraps a bounded pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open creates the connection pool, bounded by maxConns per the configured
// database.max_connections (default 10).
func Open(ctx context.Context, dsn string, maxConns int32, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	logger.Info("connected to postgres", zap.Int32("max_conns", maxConns))
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool; the health API's readiness check pings
// it.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	var chunks [][]T
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}

// placeholders builds "($1,$2,...),($n+1,...)" for a multi-row VALUES clause.
func placeholders(rows, cols int) string {
	var b strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// InsertTransfers batch-inserts transfers, chunked at 1,000 rows, with
// duplicates on (chain_id, tx_hash, log_index) silently discarded.
func (s *Store) InsertTransfers(ctx context.Context, transfers []domain.Transfer) error {
	for _, c := range chunk(transfers, transferChunkSize) {
		args := make([]any, 0, len(c)*12)
		for _, t := range c {
			args = append(args, t.ChainID, t.BlockNumber, t.BlockHash, t.TxHash, t.LogIndex,
				t.TokenAddress, t.FromAddress, t.ToAddress, t.Amount.String(), t.TokenSymbol,
				t.TokenDecimals, t.BlockTimestamp)
		}
		query := fmt.Sprintf(`INSERT INTO transfers
			(chain_id, block_number, block_hash, tx_hash, log_index, token_address,
			 from_address, to_address, amount, token_symbol, token_decimals, block_timestamp)
			VALUES %s
			ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING`, placeholders(len(c), 12))
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("store: insert transfers: %w", err)
		}
	}
	return nil
}

// InsertDefiEvents batch-inserts decoded DeFi events, same chunking and
// conflict semantics as transfers.
func (s *Store) InsertDefiEvents(ctx context.Context, events []domain.DefiEvent) error {
	for _, c := range chunk(events, transferChunkSize) {
		args := make([]any, 0, len(c)*14)
		for _, e := range c {
			var amountIn, amountOut *string
			if e.AmountIn != nil {
				v := e.AmountIn.String()
				amountIn = &v
			}
			if e.AmountOut != nil {
				v := e.AmountOut.String()
				amountOut = &v
			}
			args = append(args, e.ChainID, e.BlockNumber, e.BlockHash, e.TxHash, e.LogIndex,
				e.Protocol, e.EventType, nullableBytes(e.Account), nullableBytes(e.TokenIn),
				nullableBytes(e.TokenOut), amountIn, amountOut, e.RawData, e.BlockTimestamp)
		}
		query := fmt.Sprintf(`INSERT INTO defi_events
			(chain_id, block_number, block_hash, tx_hash, log_index, protocol, event_type,
			 account, token_in, token_out, amount_in, amount_out, raw_data, block_timestamp)
			VALUES %s
			ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING`, placeholders(len(c), 14))
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("store: insert defi events: %w", err)
		}
	}
	return nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// LastIndexedBlock returns the chain's checkpoint, or (0, false) if the
// chain has never been indexed.
func (s *Store) LastIndexedBlock(ctx context.Context, chainID int64) (int64, bool, error) {
	var block int64
	err := s.pool.QueryRow(ctx,
		`SELECT last_indexed_block FROM indexer_checkpoints WHERE chain_id = $1`, chainID).Scan(&block)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("store: last indexed block: %w", err)
	}
	return block, true, nil
}

// AdvanceCheckpoint upserts the chain's checkpoint row.
func (s *Store) AdvanceCheckpoint(ctx context.Context, chainID, blockNumber int64, blockHash []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_checkpoints (chain_id, last_indexed_block, last_block_hash, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (chain_id) DO UPDATE
		SET last_indexed_block = $2, last_block_hash = $3, updated_at = NOW()`,
		chainID, blockNumber, nullableBytes(blockHash))
	if err != nil {
		return fmt.Errorf("store: advance checkpoint: %w", err)
	}
	return nil
}

// UpsertBlockHash records a block's hash and parent hash for reorg detection.
func (s *Store) UpsertBlockHash(ctx context.Context, chainID, blockNumber int64, blockHash, parentHash []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO block_hashes (chain_id, block_number, block_hash, parent_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain_id, block_number) DO UPDATE
		SET block_hash = $3, parent_hash = $4`,
		chainID, blockNumber, blockHash, parentHash)
	if err != nil {
		return fmt.Errorf("store: upsert block hash: %w", err)
	}
	return nil
}

// BlockHash returns the stored hash for a block number, or nil if absent.
func (s *Store) BlockHash(ctx context.Context, chainID, blockNumber int64) ([]byte, error) {
	var hash []byte
	err := s.pool.QueryRow(ctx,
		`SELECT block_hash FROM block_hashes WHERE chain_id = $1 AND block_number = $2`,
		chainID, blockNumber).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: block hash: %w", err)
	}
	return hash, nil
}

// DeleteTransfersFrom deletes transfers at or above a block (reorg repair).
func (s *Store) DeleteTransfersFrom(ctx context.Context, chainID, fromBlock int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transfers WHERE chain_id = $1 AND block_number >= $2`, chainID, fromBlock)
	if err != nil {
		return 0, fmt.Errorf("store: delete transfers: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteDefiEventsFrom deletes defi events at or above a block (reorg repair).
func (s *Store) DeleteDefiEventsFrom(ctx context.Context, chainID, fromBlock int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM defi_events WHERE chain_id = $1 AND block_number >= $2`, chainID, fromBlock)
	if err != nil {
		return 0, fmt.Errorf("store: delete defi events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteBlockHashesFrom deletes block-hash rows at or above a block.
func (s *Store) DeleteBlockHashesFrom(ctx context.Context, chainID, fromBlock int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM block_hashes WHERE chain_id = $1 AND block_number >= $2`, chainID, fromBlock)
	if err != nil {
		return fmt.Errorf("store: delete block hashes: %w", err)
	}
	return nil
}

// PruneBlockHashes removes block-hash rows older than the retention window.
func (s *Store) PruneBlockHashes(ctx context.Context, chainID, belowBlock int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM block_hashes WHERE chain_id = $1 AND block_number < $2`, chainID, belowBlock)
	if err != nil {
		return fmt.Errorf("store: prune block hashes: %w", err)
	}
	return nil
}

// UpsertKnownToken seeds the watched-token registry row for a chain.
func (s *Store) UpsertKnownToken(ctx context.Context, chainID int64, address []byte, symbol string, decimals int16) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO known_tokens (chain_id, token_address, symbol, decimals)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain_id, token_address) DO UPDATE SET symbol = $3, decimals = $4`,
		chainID, address, symbol, decimals)
	if err != nil {
		return fmt.Errorf("store: upsert known token: %w", err)
	}
	return nil
}

// TransferID resolves a transfer's surrogate key from its natural key, used
// by the attribution, anomaly, and on-ramp steps to link back to the row
// just inserted earlier in the same batch.
func (s *Store) TransferID(ctx context.Context, chainID int64, txHash []byte, logIndex int32) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM transfers WHERE chain_id = $1 AND tx_hash = $2 AND log_index = $3`,
		chainID, txHash, logIndex).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("store: transfer id: %w", err)
	}
	return id, true, nil
}

// CountTransfersFromSince counts outbound transfers from an address on a
// chain since a point in time, backing the velocity rule.
func (s *Store) CountTransfersFromSince(ctx context.Context, chainID int64, from []byte, since time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM transfers
		WHERE from_address = $1 AND chain_id = $2 AND block_timestamp > $3`,
		from, chainID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count transfers from: %w", err)
	}
	return count, nil
}

// CountDistinctChainsActiveSince counts the distinct chains an address has
// moved funds on (either side) since a point in time, backing the
// cross-chain-activity rule.
func (s *Store) CountDistinctChainsActiveSince(ctx context.Context, address []byte, since time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT chain_id) FROM transfers
		WHERE (from_address = $1 OR to_address = $1) AND block_timestamp > $2`,
		address, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count distinct chains: %w", err)
	}
	return count, nil
}

// UpsertGraphEdges writes a batch of pre-aggregated edges (already summed
// within the caller's batch to avoid PostgreSQL's restriction against
// updating the same target row twice in one statement), chunked at 500.
func (s *Store) UpsertGraphEdges(ctx context.Context, edges []domain.WalletGraphEdge) (int64, error) {
	var affected int64
	for _, c := range chunk(edges, edgeChunkSize) {
		args := make([]any, 0, len(c)*7)
		for _, e := range c {
			args = append(args, e.SourceAddress, e.DestAddress, e.ChainID, e.TransferCount,
				e.TotalAmount.String(), e.FirstSeen, e.LastSeen)
		}
		query := fmt.Sprintf(`INSERT INTO wallet_graph_edges
			(source_address, dest_address, chain_id, transfer_count, total_amount, first_seen, last_seen)
			VALUES %s
			ON CONFLICT (source_address, dest_address, chain_id) DO UPDATE SET
				transfer_count = wallet_graph_edges.transfer_count + EXCLUDED.transfer_count,
				total_amount = wallet_graph_edges.total_amount + EXCLUDED.total_amount,
				last_seen = GREATEST(wallet_graph_edges.last_seen, EXCLUDED.last_seen)`,
			placeholders(len(c), 7))
		tag, err := s.pool.Exec(ctx, query, args...)
		if err != nil {
			return affected, fmt.Errorf("store: upsert graph edges: %w", err)
		}
		affected += tag.RowsAffected()
	}
	return affected, nil
}

// LoadEntityLabels returns every entity label row, for the label store's
// startup load.
func (s *Store) LoadEntityLabels(ctx context.Context) ([]domain.EntityLabel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, address, chain_id, entity_name, entity_type, label_source, confidence, metadata
		FROM entity_labels`)
	if err != nil {
		return nil, fmt.Errorf("store: load entity labels: %w", err)
	}
	defer rows.Close()

	var labels []domain.EntityLabel
	for rows.Next() {
		var l domain.EntityLabel
		if err := rows.Scan(&l.ID, &l.Address, &l.ChainID, &l.EntityName, &l.EntityType,
			&l.LabelSource, &l.Confidence, &l.Metadata); err != nil {
			return nil, fmt.Errorf("store: scan entity label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// SeedEntityLabel upserts one label, returning its surrogate id. Unique on
// (address, chain_id, label_source, entity_name).
func (s *Store) SeedEntityLabel(ctx context.Context, l domain.EntityLabel) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO entity_labels (address, chain_id, entity_name, entity_type, label_source, confidence, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address, chain_id, label_source, entity_name) DO UPDATE
		SET entity_type = $4, confidence = $6, metadata = $7, updated_at = NOW()
		RETURNING id`,
		l.Address, l.ChainID, l.EntityName, l.EntityType, l.LabelSource, l.Confidence, nullableBytes(l.Metadata)).
		Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: seed entity label: %w", err)
	}
	return id, nil
}

// InsertTransferEntityFlag links a transfer to a matching entity label.
// Unique on (transfer_id, entity_label_id, side).
func (s *Store) InsertTransferEntityFlag(ctx context.Context, transferID, entityLabelID int64, side string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transfer_entity_flags (transfer_id, entity_label_id, side)
		VALUES ($1, $2, $3)
		ON CONFLICT (transfer_id, entity_label_id, side) DO NOTHING`,
		transferID, entityLabelID, side)
	if err != nil {
		return fmt.Errorf("store: insert transfer entity flag: %w", err)
	}
	return nil
}

// LoadFirstSeenKeys returns every (address, chain_id) pair already recorded,
// for the wallet tracker's startup load.
func (s *Store) LoadFirstSeenKeys(ctx context.Context) ([][2]any, error) {
	rows, err := s.pool.Query(ctx, `SELECT address, chain_id FROM wallet_first_seen`)
	if err != nil {
		return nil, fmt.Errorf("store: load first seen keys: %w", err)
	}
	defer rows.Close()

	var keys [][2]any
	for rows.Next() {
		var addr []byte
		var chainID int64
		if err := rows.Scan(&addr, &chainID); err != nil {
			return nil, fmt.Errorf("store: scan first seen key: %w", err)
		}
		keys = append(keys, [2]any{addr, chainID})
	}
	return keys, rows.Err()
}

// InsertFirstSeen writes a wallet's first-seen row. Conflict-do-nothing
// preserves whichever writer recorded the earliest sighting.
func (s *Store) InsertFirstSeen(ctx context.Context, ev domain.NewWalletEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_first_seen (address, chain_id, first_seen_at, first_block, first_tx_hash, direction)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address, chain_id) DO NOTHING`,
		ev.Address, ev.ChainID, ev.FirstSeenAt, ev.FirstBlock, ev.FirstTxHash, ev.Direction)
	if err != nil {
		return fmt.Errorf("store: insert first seen: %w", err)
	}
	return nil
}

// InsertAnomaly writes one anomaly record. transferID must be resolved
// (non-nil): spec.md §8 invariant 6 requires a corresponding transfer to
// exist, and a NULL transfer_id would also make the (transfer_id,
// anomaly_type) uniqueness constraint ineffective. Callers skip
// persistence entirely when the transfer can't be found.
func (s *Store) InsertAnomaly(ctx context.Context, transferID *int64, a domain.AnomalyRecord) error {
	if transferID == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO anomalies (transfer_id, chain_id, anomaly_type, risk_score, flags, details, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transfer_id, anomaly_type) DO NOTHING`,
		transferID, a.ChainID, a.AnomalyType, a.RiskScore, a.Flags, a.Details, nullableBytes(a.Address))
	if err != nil {
		return fmt.Errorf("store: insert anomaly: %w", err)
	}
	return nil
}

// UpsertOnrampProvider seeds one on-ramp provider row, returning its id.
func (s *Store) UpsertOnrampProvider(ctx context.Context, name, providerType, website string, kycRequired bool) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO onramp_providers (name, provider_type, website, kyc_required)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET provider_type = $2, website = $3, kyc_required = $4
		RETURNING id`,
		name, providerType, website, kycRequired).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: upsert onramp provider: %w", err)
	}
	return id, nil
}

// InsertProviderFiatCurrency links a provider to one fiat currency it supports.
func (s *Store) InsertProviderFiatCurrency(ctx context.Context, providerID int64, currencyCode string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO provider_fiat_currencies (provider_id, currency_code)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, providerID, currencyCode)
	if err != nil {
		return fmt.Errorf("store: insert provider fiat currency: %w", err)
	}
	return nil
}

// UpsertProviderWallet seeds a known exchange/on-ramp wallet address.
func (s *Store) UpsertProviderWallet(ctx context.Context, providerID int64, chainName string, address []byte, label string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO provider_wallets (provider_id, chain_name, address, label)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain_name, address) DO UPDATE SET provider_id = $1, label = $4`,
		providerID, chainName, address, label)
	if err != nil {
		return fmt.Errorf("store: upsert provider wallet: %w", err)
	}
	return nil
}

// UpsertFiatCurrency seeds one fiat currency registry row.
func (s *Store) UpsertFiatCurrency(ctx context.Context, code, name, country, region, primaryStablecoin, riskTier string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fiat_currencies (code, name, country, region, primary_stablecoin, risk_tier)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE
		SET name = $2, country = $3, region = $4, primary_stablecoin = $5, risk_tier = $6`,
		code, name, country, region, primaryStablecoin, riskTier)
	if err != nil {
		return fmt.Errorf("store: upsert fiat currency: %w", err)
	}
	return nil
}

// LoadProviderWalletIndex returns every (chain_name, address) -> provider
// wallet mapping for the on-ramp matcher's in-memory index.
func (s *Store) LoadProviderWalletIndex(ctx context.Context) (map[ProviderWalletKey]domain.ProviderWalletInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pw.chain_name, pw.address, pw.provider_id, op.name, COALESCE(pw.label, '')
		FROM provider_wallets pw JOIN onramp_providers op ON op.id = pw.provider_id`)
	if err != nil {
		return nil, fmt.Errorf("store: load provider wallet index: %w", err)
	}
	defer rows.Close()

	index := make(map[ProviderWalletKey]domain.ProviderWalletInfo)
	for rows.Next() {
		var key ProviderWalletKey
		var info domain.ProviderWalletInfo
		if err := rows.Scan(&key.ChainName, &key.Address, &info.ProviderID, &info.ProviderName, &info.Label); err != nil {
			return nil, fmt.Errorf("store: scan provider wallet: %w", err)
		}
		index[key] = info
	}
	return index, rows.Err()
}

// ProviderWalletKey is the composite lookup key for the in-memory
// (chain_name, address) -> ProviderWalletInfo index.
type ProviderWalletKey struct {
	ChainName string
	Address   string
}

// InsertOnrampAttribution links a transfer to a provider wallet match.
// Unique on transfer_id.
func (s *Store) InsertOnrampAttribution(ctx context.Context, transferID, providerID int64, direction string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO onramp_transfers (transfer_id, provider_id, direction)
		VALUES ($1, $2, $3) ON CONFLICT (transfer_id) DO NOTHING`,
		transferID, providerID, direction)
	if err != nil {
		return fmt.Errorf("store: insert onramp attribution: %w", err)
	}
	return nil
}

// BidirectionalEdges returns every (source, dest) pair on a chain where the
// reverse edge also exists, the input to wallet reclustering's union-find.
func (s *Store) BidirectionalEdges(ctx context.Context, chainID int64) ([][2][]byte, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e1.source_address, e1.dest_address
		FROM wallet_graph_edges e1
		JOIN wallet_graph_edges e2
		  ON e1.source_address = e2.dest_address AND e1.dest_address = e2.source_address
		 AND e1.chain_id = e2.chain_id
		WHERE e1.chain_id = $1`, chainID)
	if err != nil {
		return nil, fmt.Errorf("store: bidirectional edges: %w", err)
	}
	defer rows.Close()

	var pairs [][2][]byte
	for rows.Next() {
		var src, dst []byte
		if err := rows.Scan(&src, &dst); err != nil {
			return nil, fmt.Errorf("store: scan bidirectional edge: %w", err)
		}
		pairs = append(pairs, [2][]byte{src, dst})
	}
	return pairs, rows.Err()
}

// ReplaceWalletClusters deletes all cluster rows for a chain and writes new
// ones in a global-replace, per the reclustering job's stated design.
func (s *Store) ReplaceWalletClusters(ctx context.Context, chainID int64, clusters map[string]int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin recluster tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM wallet_clusters WHERE chain_id = $1`, chainID); err != nil {
		return fmt.Errorf("store: delete wallet clusters: %w", err)
	}
	for addrHex, clusterID := range clusters {
		addr := []byte(addrHex)
		if _, err := tx.Exec(ctx, `
			INSERT INTO wallet_clusters (address, chain_id, cluster_id, assigned_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (address, chain_id) DO UPDATE SET cluster_id = $3, assigned_at = NOW()`,
			addr, chainID, clusterID); err != nil {
			return fmt.Errorf("store: insert wallet cluster: %w", err)
		}
	}
	return tx.Commit(ctx)
}
