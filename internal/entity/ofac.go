package entity

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

// OfacEntry is one SDN entity with every crypto address listed against it
// in the source CSV.
type OfacEntry struct {
	SdnID      string
	EntityName string
	Program    string
	Addresses  []string
}

// ParseOfacCSV reads the flexible-width OFAC SDN CSV (sdn_id, entity_name,
// program, address), grouping rows that share an sdn_id. Rows whose
// address column is empty or not 0x-prefixed are skipped.
func ParseOfacCSV(path string) ([]OfacEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("entity: open ofac csv %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // flexible field counts

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("entity: read ofac csv %q: %w", path, err)
	}
	if len(records) > 0 {
		records = records[1:] // drop header
	}

	bySdn := make(map[string]*OfacEntry)
	var order []string
	for _, rec := range records {
		get := func(i int) string {
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		sdnID, entityName, program, address := get(0), get(1), get(2), get(3)
		if address == "" || !strings.HasPrefix(address, "0x") {
			continue
		}

		entry, ok := bySdn[sdnID]
		if !ok {
			entry = &OfacEntry{SdnID: sdnID, EntityName: entityName, Program: program}
			bySdn[sdnID] = entry
			order = append(order, sdnID)
		}
		entry.Addresses = append(entry.Addresses, address)
	}

	entries := make([]OfacEntry, 0, len(order))
	for _, id := range order {
		entries = append(entries, *bySdn[id])
	}
	return entries, nil
}

// SeedOfacEntries writes every address in every entry as a sanctioned,
// chain-global entity label.
func (s *Store) SeedOfacEntries(ctx context.Context, entries []OfacEntry) (int, error) {
	count := 0
	for _, entry := range entries {
		for _, addrHex := range entry.Addresses {
			if !common.IsHexAddress(addrHex) {
				s.logger.Warn("skipping invalid ofac address", zap.String("address", addrHex))
				continue
			}
			addr := common.HexToAddress(addrHex)

			metadata, _ := json.Marshal(map[string]string{"sdn_id": entry.SdnID, "program": entry.Program})
			if _, err := s.Seed(ctx, domain.EntityLabel{
				Address:     addr.Bytes(),
				ChainID:     nil,
				EntityName:  entry.EntityName,
				EntityType:  "sanctioned",
				LabelSource: "ofac_sdn",
				Confidence:  1.0,
				Metadata:    metadata,
			}); err != nil {
				return count, fmt.Errorf("entity: seed ofac entry %q: %w", entry.SdnID, err)
			}
			count++
		}
	}
	s.logger.Info("seeded ofac sdn addresses", zap.Int("count", count))
	return count, nil
}

// ManualLabel is one hand-curated label from configuration.
type ManualLabel struct {
	Address    string
	ChainID    *int64
	EntityName string
	EntityType string
	Confidence float32
	Source     string
}

// SeedManualLabels writes the configured manual labels. Invalid addresses
// are logged and skipped, never fatal.
func (s *Store) SeedManualLabels(ctx context.Context, labels []ManualLabel) (int, error) {
	count := 0
	for _, l := range labels {
		if !common.IsHexAddress(l.Address) {
			s.logger.Warn("invalid address in manual label, skipping", zap.String("address", l.Address))
			continue
		}
		addr := common.HexToAddress(l.Address)
		if _, err := s.Seed(ctx, domain.EntityLabel{
			Address:     addr.Bytes(),
			ChainID:     l.ChainID,
			EntityName:  l.EntityName,
			EntityType:  l.EntityType,
			LabelSource: l.Source,
			Confidence:  l.Confidence,
		}); err != nil {
			return count, fmt.Errorf("entity: seed manual label %q: %w", l.EntityName, err)
		}
		count++
	}
	s.logger.Info("seeded manual entity labels", zap.Int("count", count))
	return count, nil
}
