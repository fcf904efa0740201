// Package entity is the in-memory label store and its seed loaders: OFAC
// SDN sanctions, manual labels, and exchange/on-ramp wallets.
package entity

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

// labelStore matches the subset of *store.Store the entity label store
// depends on, kept narrow so this package never imports pgx directly.
type labelStore interface {
	LoadEntityLabels(ctx context.Context) ([]domain.EntityLabel, error)
	SeedEntityLabel(ctx context.Context, l domain.EntityLabel) (int64, error)
}

// Store is the process-wide address -> labels index. Callers outside the
// pipeline's own mutex must not mutate it concurrently; Seed and LoadAll
// take an internal lock, but lookups assume the pipeline's exclusivity.
type Store struct {
	mu        sync.RWMutex
	byAddress map[string][]domain.EntityLabel
	db        labelStore
	logger    *zap.Logger
}

// New constructs an empty label store.
func New(db labelStore, logger *zap.Logger) *Store {
	return &Store{byAddress: make(map[string][]domain.EntityLabel), db: db, logger: logger}
}

// LoadAll reloads every label row from storage, replacing the in-memory
// index wholesale.
func (s *Store) LoadAll(ctx context.Context) error {
	labels, err := s.db.LoadEntityLabels(ctx)
	if err != nil {
		return fmt.Errorf("entity: load all: %w", err)
	}

	byAddress := make(map[string][]domain.EntityLabel, len(labels))
	for _, l := range labels {
		key := string(l.Address)
		byAddress[key] = append(byAddress[key], l)
	}

	s.mu.Lock()
	s.byAddress = byAddress
	s.mu.Unlock()

	s.logger.Info("loaded entity label store", zap.Int("addresses", len(byAddress)))
	return nil
}

// Lookup returns every label recorded for an address, or nil if none.
func (s *Store) Lookup(address []byte) []domain.EntityLabel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byAddress[string(address)]
}

// LookupForChain filters Lookup's result to labels that apply on the given
// chain: a nil ChainID matches every chain.
func (s *Store) LookupForChain(address []byte, chainID int64) []domain.EntityLabel {
	all := s.Lookup(address)
	if all == nil {
		return nil
	}
	var matched []domain.EntityLabel
	for _, l := range all {
		if l.ChainID == nil || *l.ChainID == chainID {
			matched = append(matched, l)
		}
	}
	return matched
}

// IsSanctioned reports whether any label on the address has entity_type
// "sanctioned" or label_source "ofac_sdn".
func (s *Store) IsSanctioned(address []byte) bool {
	for _, l := range s.Lookup(address) {
		if l.EntityType == "sanctioned" || l.LabelSource == "ofac_sdn" {
			return true
		}
	}
	return false
}

// Seed idempotently upserts a label to storage and the in-memory index.
func (s *Store) Seed(ctx context.Context, l domain.EntityLabel) (int64, error) {
	id, err := s.db.SeedEntityLabel(ctx, l)
	if err != nil {
		return 0, err
	}
	l.ID = id

	s.mu.Lock()
	key := string(l.Address)
	replaced := false
	for i, existing := range s.byAddress[key] {
		if sameChainID(existing.ChainID, l.ChainID) && existing.LabelSource == l.LabelSource && existing.EntityName == l.EntityName {
			s.byAddress[key][i] = l
			replaced = true
			break
		}
	}
	if !replaced {
		s.byAddress[key] = append(s.byAddress[key], l)
	}
	s.mu.Unlock()

	return id, nil
}

func sameChainID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
