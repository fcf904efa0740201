package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

// ExchangeWallet is one labeled wallet address belonging to a provider.
type ExchangeWallet struct {
	Address string `json:"address"`
	Label   string `json:"label"`
}

// ExchangeProvider is one entry in the exchange wallet seed file.
type ExchangeProvider struct {
	Provider string           `json:"provider"`
	Chain    string           `json:"chain"`
	ChainID  int64            `json:"chain_id"`
	Wallets  []ExchangeWallet `json:"wallets"`
}

// ParseExchangeWallets reads the JSON exchange-wallet seed file:
// [{provider, chain, chain_id, wallets: [{address, label}]}].
func ParseExchangeWallets(path string) ([]ExchangeProvider, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("entity: read exchange wallets %q: %w", path, err)
	}
	var providers []ExchangeProvider
	if err := json.Unmarshal(content, &providers); err != nil {
		return nil, fmt.Errorf("entity: parse exchange wallets json: %w", err)
	}
	return providers, nil
}

// providerWalletWriter is the persistence surface the exchange-wallet
// seeder needs for its provider_wallets half of the dual write.
type providerWalletWriter interface {
	UpsertOnrampProvider(ctx context.Context, name, providerType, website string, kycRequired bool) (int64, error)
	UpsertProviderWallet(ctx context.Context, providerID int64, chainName string, address []byte, label string) error
}

// SeedExchangeWallets writes every wallet both as a provider_wallets row
// (so the on-ramp matcher can attribute transfers to it) and as an
// "exchange" entity label scoped to the wallet's chain (so the label
// store and sanctions check see it too).
func (s *Store) SeedExchangeWallets(ctx context.Context, db providerWalletWriter, providers []ExchangeProvider) (int, error) {
	count := 0
	for _, p := range providers {
		providerID, err := db.UpsertOnrampProvider(ctx, p.Provider, "exchange", "", true)
		if err != nil {
			return count, fmt.Errorf("entity: upsert onramp provider %q: %w", p.Provider, err)
		}

		for _, w := range p.Wallets {
			if !common.IsHexAddress(w.Address) {
				s.logger.Warn("invalid address in exchange wallet seed", zap.String("address", w.Address))
				continue
			}
			addr := common.HexToAddress(w.Address)

			if err := db.UpsertProviderWallet(ctx, providerID, p.Chain, addr.Bytes(), w.Label); err != nil {
				return count, fmt.Errorf("entity: upsert provider wallet %q: %w", w.Address, err)
			}

			chainID := p.ChainID
			if _, err := s.Seed(ctx, domain.EntityLabel{
				Address:     addr.Bytes(),
				ChainID:     &chainID,
				EntityName:  w.Label,
				EntityType:  "exchange",
				LabelSource: "seed_data",
				Confidence:  1.0,
			}); err != nil {
				return count, fmt.Errorf("entity: seed exchange label %q: %w", w.Address, err)
			}
			count++
		}

		s.logger.Debug("seeded exchange wallets",
			zap.String("provider", p.Provider), zap.String("chain", p.Chain), zap.Int("wallets", len(p.Wallets)))
	}
	s.logger.Info("exchange wallets seeded from json", zap.Int("count", count))
	return count, nil
}
