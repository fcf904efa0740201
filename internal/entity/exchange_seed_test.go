package entity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProviderWalletWriter struct {
	providers map[string]int64
	nextID    int64
	wallets   []struct {
		providerID int64
		chain      string
		address    []byte
		label      string
	}
}

func (f *fakeProviderWalletWriter) UpsertOnrampProvider(ctx context.Context, name, providerType, website string, kycRequired bool) (int64, error) {
	if f.providers == nil {
		f.providers = make(map[string]int64)
	}
	if id, ok := f.providers[name]; ok {
		return id, nil
	}
	f.nextID++
	f.providers[name] = f.nextID
	return f.nextID, nil
}

func (f *fakeProviderWalletWriter) UpsertProviderWallet(ctx context.Context, providerID int64, chainName string, address []byte, label string) error {
	f.wallets = append(f.wallets, struct {
		providerID int64
		chain      string
		address    []byte
		label      string
	}{providerID, chainName, address, label})
	return nil
}

func writeJSON(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exchange_wallets.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseExchangeWallets_ParsesProvidersAndWallets(t *testing.T) {
	path := writeJSON(t, `[{"provider":"Coinbase","chain":"ethereum","chain_id":1,"wallets":[
		{"address":"0x1111111111111111111111111111111111111111","label":"hot wallet"}
	]}]`)

	providers, err := ParseExchangeWallets(path)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	require.Equal(t, "Coinbase", providers[0].Provider)
	require.Len(t, providers[0].Wallets, 1)
}

func TestSeedExchangeWallets_DualWritesProviderWalletAndLabel(t *testing.T) {
	s := New(&fakeLabelDB{}, zap.NewNop())
	db := &fakeProviderWalletWriter{}
	providers := []ExchangeProvider{{
		Provider: "Coinbase", Chain: "ethereum", ChainID: 1,
		Wallets: []ExchangeWallet{{Address: "0x1111111111111111111111111111111111111111", Label: "hot wallet"}},
	}}

	count, err := s.SeedExchangeWallets(context.Background(), db, providers)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Len(t, db.wallets, 1)
	require.False(t, s.IsSanctioned(db.wallets[0].address)) // exchange labels are not sanctioned
	require.Len(t, s.Lookup(db.wallets[0].address), 1)
}

func TestSeedExchangeWallets_SkipsInvalidAddressButKeepsProvider(t *testing.T) {
	s := New(&fakeLabelDB{}, zap.NewNop())
	db := &fakeProviderWalletWriter{}
	providers := []ExchangeProvider{{
		Provider: "Kraken", Chain: "ethereum", ChainID: 1,
		Wallets: []ExchangeWallet{
			{Address: "not-hex", Label: "bad"},
			{Address: "0x2222222222222222222222222222222222222222", Label: "good"},
		},
	}}

	count, err := s.SeedExchangeWallets(context.Background(), db, providers)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Len(t, db.wallets, 1)
}
