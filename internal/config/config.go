// Package config loads the declarative, typed configuration: database
// connection, per-chain RPC endpoints and watched tokens, anomaly detection
// thresholds, entity attribution sources, and the static on-ramp/fiat
// registries seeded at startup.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration object, unmarshaled from config.toml.
type Config struct {
	Database          DatabaseConfig          `mapstructure:"database"`
	Chains            []ChainConfig           `mapstructure:"chains"`
	OnrampProviders   []OnrampProviderConfig  `mapstructure:"onramp_providers"`
	FiatCurrencies    []FiatCurrencyConfig    `mapstructure:"fiat_currencies"`
	EntityAttribution EntityAttributionConfig `mapstructure:"entity_attribution"`
	AnomalyDetection  AnomalyDetectionConfig  `mapstructure:"anomaly_detection"`
	API               APIConfig               `mapstructure:"api"`
	Kafka             KafkaConfig             `mapstructure:"kafka"`
	App               AppConfig               `mapstructure:"app"`
}

// AppConfig holds process-level ambient settings (logging, health port).
type AppConfig struct {
	Debug      bool   `mapstructure:"debug"`
	LogLevel   string `mapstructure:"log_level"`
	HealthAddr string `mapstructure:"health_addr"`
}

// DatabaseConfig is the Postgres connection configuration.
type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConnections int32  `mapstructure:"max_connections"`
}

// TokenConfig is one watched ERC-20 contract on a chain.
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Decimals uint8  `mapstructure:"decimals"`
}

// ChainConfig is one EVM chain to index.
type ChainConfig struct {
	Name          string        `mapstructure:"name"`
	ChainID       uint64        `mapstructure:"chain_id"`
	RPCHTTP       string        `mapstructure:"rpc_http"`
	RPCWS         string        `mapstructure:"rpc_ws"`
	StartBlock    *uint64       `mapstructure:"start_block"`
	BatchSize     uint64        `mapstructure:"batch_size"`
	PollIntervalMs uint64       `mapstructure:"poll_interval_ms"`
	MaxReorgDepth uint64        `mapstructure:"max_reorg_depth"`
	Tokens        []TokenConfig `mapstructure:"tokens"`
	// DecodeDefi is a *bool so applyChainDefaults can tell "omitted" from
	// "explicitly set to false" (spec.md §6: default true). Always
	// non-nil after Load returns.
	DecodeDefi    *bool         `mapstructure:"decode_defi"`
}

// ProviderWalletConfig names a known wallet belonging to an on-ramp provider.
type ProviderWalletConfig struct {
	Chain   string `mapstructure:"chain"`
	Address string `mapstructure:"address"`
	Label   string `mapstructure:"label"`
}

// OnrampProviderConfig describes one exchange / fiat on-ramp provider.
type OnrampProviderConfig struct {
	Name          string                 `mapstructure:"name"`
	ProviderType  string                 `mapstructure:"provider_type"`
	Website       string                 `mapstructure:"website"`
	SupportedFiat []string               `mapstructure:"supported_fiat"`
	KYCRequired   bool                   `mapstructure:"kyc_required"`
	Wallets       []ProviderWalletConfig `mapstructure:"wallets"`
}

// FiatCurrencyConfig is one entry in the static fiat-currency registry.
type FiatCurrencyConfig struct {
	Code              string `mapstructure:"code"`
	Name              string `mapstructure:"name"`
	Country           string `mapstructure:"country"`
	Region            string `mapstructure:"region"`
	PrimaryStablecoin string `mapstructure:"primary_stablecoin"`
	RiskTier          string `mapstructure:"risk_tier"`
}

// ManualLabelConfig seeds one hand-curated entity label.
type ManualLabelConfig struct {
	Address    string `mapstructure:"address"`
	ChainID    *int64 `mapstructure:"chain_id"`
	EntityName string `mapstructure:"entity_name"`
	EntityType string `mapstructure:"entity_type"`
	Confidence float32 `mapstructure:"confidence"`
	Source     string `mapstructure:"source"`
}

// CustomWatchlistConfig names an additional CSV watchlist to seed, in the
// same shape as the OFAC SDN file.
type CustomWatchlistConfig struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
}

// EntityAttributionConfig configures the entity label store's seed sources.
type EntityAttributionConfig struct {
	OfacSdnPath         string                  `mapstructure:"ofac_sdn_path"`
	CustomWatchlistPath string                  `mapstructure:"custom_watchlist_path"`
	ManualLabels        []ManualLabelConfig     `mapstructure:"manual_labels"`
	CustomWatchlists    []CustomWatchlistConfig `mapstructure:"custom_watchlists"`
	ExchangeWalletsPath string                  `mapstructure:"exchange_wallets_path"`
}

// VelocityConfig configures the velocity anomaly rule.
type VelocityConfig struct {
	WindowSecs   int64 `mapstructure:"window_secs"`
	MaxTransfers int64 `mapstructure:"max_transfers"`
}

// RoundNumberConfig configures the round-number anomaly rule.
type RoundNumberConfig struct {
	Tolerance float64 `mapstructure:"tolerance"`
}

// NewWalletConfig configures the new-wallet-large-receive anomaly rule.
type NewWalletConfig struct {
	ThresholdUSD float64 `mapstructure:"threshold_usd"`
}

// CrossChainConfig configures the cross-chain-activity anomaly rule.
type CrossChainConfig struct {
	WindowSecs int64 `mapstructure:"window_secs"`
}

// AnomalyDetectionConfig configures the whole anomaly engine.
type AnomalyDetectionConfig struct {
	Enabled                bool               `mapstructure:"enabled"`
	LargeTransferThresholds map[string]float64 `mapstructure:"large_transfer_thresholds"`
	Velocity               VelocityConfig     `mapstructure:"velocity"`
	RoundNumber            RoundNumberConfig  `mapstructure:"round_number"`
	NewWallet              NewWalletConfig    `mapstructure:"new_wallet"`
	CrossChain             CrossChainConfig   `mapstructure:"cross_chain"`
}

// APIConfig configures the (out-of-core-scope) read API and the
// exchange-wallet seed file it also references.
type APIConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	ExchangeWalletsPath string `mapstructure:"exchange_wallets_path"`
}

// KafkaTopicsConfig names the notification-fanout topics.
type KafkaTopicsConfig struct {
	Anomalies  string `mapstructure:"anomalies"`
	NewWallets string `mapstructure:"new_wallets"`
}

// KafkaConfig configures the optional anomaly/new-wallet notification
// fan-out. Disabled by default; failures never fail the pipeline.
type KafkaConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Brokers []string          `mapstructure:"brokers"`
	Topics  KafkaTopicsConfig `mapstructure:"topics"`
}

// GetDSN returns the Postgres connection string.
func (c *DatabaseConfig) GetDSN() string {
	return c.URL
}

// Load reads configuration from the given TOML file path and environment
// variables, applying defaults for every optional key.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetEnvPrefix("CHAINWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyChainDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.debug", false)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.health_addr", ":8090")

	v.SetDefault("database.max_connections", 10)

	v.SetDefault("anomaly_detection.enabled", true)
	v.SetDefault("anomaly_detection.velocity.window_secs", 3600)
	v.SetDefault("anomaly_detection.velocity.max_transfers", 10)
	v.SetDefault("anomaly_detection.round_number.tolerance", 0.01)
	v.SetDefault("anomaly_detection.new_wallet.threshold_usd", 10000.0)
	v.SetDefault("anomaly_detection.cross_chain.window_secs", 1800)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topics.anomalies", "chainwatch.anomalies")
	v.SetDefault("kafka.topics.new_wallets", "chainwatch.new-wallets")
}

// applyChainDefaults fills per-chain zero-valued optional fields, since
// viper's Unmarshal does not apply SetDefault inside slice elements.
func (c *Config) applyChainDefaults() {
	for i := range c.Chains {
		ch := &c.Chains[i]
		if ch.BatchSize == 0 {
			ch.BatchSize = 100
		}
		if ch.PollIntervalMs == 0 {
			ch.PollIntervalMs = 2000
		}
		if ch.MaxReorgDepth == 0 {
			ch.MaxReorgDepth = 64
		}
		if ch.DecodeDefi == nil {
			decodeDefi := true
			ch.DecodeDefi = &decodeDefi
		}
	}
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 10
	}
}

// Validate enforces the configuration invariants: at least one chain,
// every chain has at least one token, every token address is a well-formed
// 0x-prefixed 20-byte hex string.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("config: at least one chain is required")
	}
	for _, ch := range c.Chains {
		if len(ch.Tokens) == 0 {
			return fmt.Errorf("config: chain %q has no tokens", ch.Name)
		}
		for _, t := range ch.Tokens {
			if !isHexAddress(t.Address) {
				return fmt.Errorf("config: chain %q token %q has invalid address %q", ch.Name, t.Symbol, t.Address)
			}
		}
	}
	return nil
}

func isHexAddress(s string) bool {
	if len(s) != 42 || s[0] != '0' || s[1] != 'x' {
		return false
	}
	for _, r := range s[2:] {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}
