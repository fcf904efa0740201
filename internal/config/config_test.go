package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, toml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o600))
	return path
}

const minimalChainConfig = `
[database]
url = "postgres://localhost/chainwatch"

[[chains]]
name = "ethereum"
chain_id = 1
rpc_http = "https://rpc.example/eth"

[[chains.tokens]]
symbol = "USDC"
address = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
decimals = 6
`

func TestLoad_AppliesDefaultsForOptionalFields(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalChainConfig))
	require.NoError(t, err)
	require.Equal(t, uint64(100), cfg.Chains[0].BatchSize)
	require.Equal(t, uint64(2000), cfg.Chains[0].PollIntervalMs)
	require.Equal(t, uint64(64), cfg.Chains[0].MaxReorgDepth)
	require.NotNil(t, cfg.Chains[0].DecodeDefi)
	require.True(t, *cfg.Chains[0].DecodeDefi)
	require.True(t, cfg.AnomalyDetection.Enabled)
	require.InDelta(t, 0.01, cfg.AnomalyDetection.RoundNumber.Tolerance, 1e-9)
	require.Equal(t, int64(3600), cfg.AnomalyDetection.Velocity.WindowSecs)
}

func TestLoad_ExplicitValuesOverrideDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[database]
url = "postgres://localhost/chainwatch"

[[chains]]
name = "ethereum"
chain_id = 1
rpc_http = "https://rpc.example/eth"
batch_size = 500

[[chains.tokens]]
symbol = "USDC"
address = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
decimals = 6
`))
	require.NoError(t, err)
	require.EqualValues(t, 500, cfg.Chains[0].BatchSize)
}

func TestLoad_DecodeDefiExplicitlyFalseIsRespected(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[database]
url = "postgres://localhost/chainwatch"

[[chains]]
name = "ethereum"
chain_id = 1
rpc_http = "https://rpc.example/eth"
decode_defi = false

[[chains.tokens]]
symbol = "USDC"
address = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
decimals = 6
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Chains[0].DecodeDefi)
	require.False(t, *cfg.Chains[0].DecodeDefi)
}

func TestValidate_NoChainsIsInvalid(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())
}

func TestValidate_ChainWithoutTokensIsInvalid(t *testing.T) {
	cfg := &Config{Chains: []ChainConfig{{Name: "ethereum"}}}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no tokens")
}

func TestValidate_MalformedTokenAddressIsInvalid(t *testing.T) {
	cfg := &Config{Chains: []ChainConfig{{
		Name:   "ethereum",
		Tokens: []TokenConfig{{Symbol: "USDC", Address: "not-an-address"}},
	}}}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid address")
}

func TestValidate_WellFormedConfigPasses(t *testing.T) {
	cfg := &Config{Chains: []ChainConfig{{
		Name:   "ethereum",
		Tokens: []TokenConfig{{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"}},
	}}}
	require.NoError(t, cfg.Validate())
}

func TestIsHexAddress(t *testing.T) {
	require.True(t, isHexAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"))
	require.False(t, isHexAddress("A0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")) // missing 0x
	require.False(t, isHexAddress("0xZZZ"))                                    // too short, non-hex
	require.False(t, isHexAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB4800")) // too long
}
