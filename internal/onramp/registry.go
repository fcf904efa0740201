// Package onramp seeds the on-ramp/exchange provider registry from
// configuration and matches transfers against known provider wallets.
package onramp

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/csic/platform/chainwatch-indexer/internal/config"
	"github.com/csic/platform/chainwatch-indexer/internal/domain"
	"github.com/csic/platform/chainwatch-indexer/internal/store"
)

// registryStore is the persistence surface the registry seeder needs.
type registryStore interface {
	UpsertOnrampProvider(ctx context.Context, name, providerType, website string, kycRequired bool) (int64, error)
	InsertProviderFiatCurrency(ctx context.Context, providerID int64, currencyCode string) error
	UpsertProviderWallet(ctx context.Context, providerID int64, chainName string, address []byte, label string) error
	UpsertFiatCurrency(ctx context.Context, code, name, country, region, primaryStablecoin, riskTier string) error
	LoadProviderWalletIndex(ctx context.Context) (map[store.ProviderWalletKey]domain.ProviderWalletInfo, error)
}

// SeedProviders upserts every configured on-ramp provider, its supported
// fiat currencies, and its known wallet addresses.
func SeedProviders(ctx context.Context, db registryStore, logger *zap.Logger, providers []config.OnrampProviderConfig) error {
	for _, p := range providers {
		providerID, err := db.UpsertOnrampProvider(ctx, p.Name, p.ProviderType, p.Website, p.KYCRequired)
		if err != nil {
			return fmt.Errorf("onramp: upsert provider %q: %w", p.Name, err)
		}

		for _, fiat := range p.SupportedFiat {
			if err := db.InsertProviderFiatCurrency(ctx, providerID, fiat); err != nil {
				return fmt.Errorf("onramp: seed fiat currency %q for %q: %w", fiat, p.Name, err)
			}
		}

		for _, w := range p.Wallets {
			if !common.IsHexAddress(w.Address) {
				logger.Warn("invalid wallet address in onramp provider config",
					zap.String("provider", p.Name), zap.String("address", w.Address))
				continue
			}
			addr := common.HexToAddress(w.Address)
			if err := db.UpsertProviderWallet(ctx, providerID, w.Chain, addr.Bytes(), w.Label); err != nil {
				return fmt.Errorf("onramp: seed provider wallet %q: %w", w.Address, err)
			}
			logger.Debug("seeded provider wallet", zap.String("provider", p.Name), zap.String("chain", w.Chain))
		}

		logger.Debug("seeded on-ramp provider", zap.String("provider", p.Name), zap.Int("fiat_currencies", len(p.SupportedFiat)))
	}
	return nil
}

// SeedFiatCurrencies upserts the static fiat currency registry.
func SeedFiatCurrencies(ctx context.Context, db registryStore, logger *zap.Logger, currencies []config.FiatCurrencyConfig) error {
	for _, c := range currencies {
		if err := db.UpsertFiatCurrency(ctx, c.Code, c.Name, c.Country, c.Region, c.PrimaryStablecoin, c.RiskTier); err != nil {
			return fmt.Errorf("onramp: seed fiat currency %q: %w", c.Code, err)
		}
	}
	logger.Info("seeded fiat currency registry", zap.Int("count", len(currencies)))
	return nil
}

// Index is the in-memory (chain_name, address) -> ProviderWalletInfo
// lookup used to attribute a transfer side to a known provider wallet.
type Index struct {
	byKey map[store.ProviderWalletKey]domain.ProviderWalletInfo
}

// LoadIndex builds the provider wallet index from storage.
func LoadIndex(ctx context.Context, db registryStore) (*Index, error) {
	byKey, err := db.LoadProviderWalletIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("onramp: load provider wallet index: %w", err)
	}
	return &Index{byKey: byKey}, nil
}

// Lookup returns the provider wallet info for (chainName, address), if any.
func (idx *Index) Lookup(chainName string, address []byte) (domain.ProviderWalletInfo, bool) {
	info, ok := idx.byKey[store.ProviderWalletKey{ChainName: chainName, Address: string(address)}]
	return info, ok
}
