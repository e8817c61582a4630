package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"funding-arb/internal/precision"
	"funding-arb/internal/symbol"
	"funding-arb/internal/venue"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Exchanges ExchangesConfig `mapstructure:"exchanges"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
	Port     int    `mapstructure:"port"`
}

type ExchangesConfig struct {
	Aster       AsterConfig       `mapstructure:"aster"`
	Hyperliquid HyperliquidConfig `mapstructure:"hyperliquid"`
	Lighter     LighterConfig     `mapstructure:"lighter"`
}

type AsterConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	WSURL      string `mapstructure:"ws_url"`
	APIKey     string `mapstructure:"api_key"`
	SecretKey  string `mapstructure:"secret_key"`
	RecvWindow int    `mapstructure:"recv_window"`
}

type HyperliquidConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	WalletAddress string `mapstructure:"wallet_address"`
	PrivateKey    string `mapstructure:"private_key"`
	Testnet       bool   `mapstructure:"testnet"`
}

type LighterConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	PrivateKey   string `mapstructure:"private_key"`
	ChainID      uint32 `mapstructure:"chain_id"`
	APIKeyIndex  uint8  `mapstructure:"api_key_index"`
	AccountIndex int64  `mapstructure:"account_index"`
}

type SymbolOverride struct {
	Asset      string  `mapstructure:"asset"`
	Venue      string  `mapstructure:"venue"`
	Symbol     string  `mapstructure:"symbol"`
	Multiplier float64 `mapstructure:"multiplier"`
}

type StrategyConfig struct {
	Enabled                  bool             `mapstructure:"enabled"`
	Venues                   []string         `mapstructure:"venues"`
	RequiredCapital          float64          `mapstructure:"required_capital"`
	TargetPositions          int              `mapstructure:"target_positions"`
	Allocations              []float64        `mapstructure:"allocations"`
	RebalanceIntervalMinutes int              `mapstructure:"rebalance_interval_minutes"`
	MinAPR                   float64          `mapstructure:"min_apr"`
	FillTimeoutMs            int              `mapstructure:"fill_timeout_ms"`
	ExitCheckIntervalSeconds int              `mapstructure:"exit_check_interval_seconds"`
	CandidateMultiple        int              `mapstructure:"candidate_multiple"`
	Leverage                 float64          `mapstructure:"leverage"`
	OrderKind                string           `mapstructure:"order_kind"`
	ManualCooldownSeconds    int              `mapstructure:"manual_cooldown_seconds"`
	MaxQuoteAgeSeconds       int              `mapstructure:"max_quote_age_seconds"` // 0 disables
	ExcludedAssets           []string         `mapstructure:"excluded_assets"`
	Overrides                []SymbolOverride `mapstructure:"overrides"`
	ClosedHistory            int              `mapstructure:"closed_history"`
	RebalanceHistory         int              `mapstructure:"rebalance_history"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // file | postgres
	Path        string `mapstructure:"path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type NotifyConfig struct {
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.port", 8080)

	v.SetDefault("exchanges.aster.base_url", "https://fapi.asterdex.com")
	v.SetDefault("exchanges.aster.ws_url", "wss://fstream.asterdex.com/ws")
	v.SetDefault("exchanges.aster.recv_window", 5000)
	v.SetDefault("exchanges.hyperliquid.base_url", "https://api.hyperliquid.xyz")
	v.SetDefault("exchanges.lighter.base_url", "https://mainnet.zklighter.elliot.ai")
	v.SetDefault("exchanges.lighter.chain_id", 304)

	// registered so env-only credentials survive Unmarshal
	for _, key := range []string{
		"exchanges.aster.api_key",
		"exchanges.aster.secret_key",
		"exchanges.hyperliquid.wallet_address",
		"exchanges.hyperliquid.private_key",
		"exchanges.lighter.private_key",
		"storage.postgres_dsn",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("exchanges.lighter.api_key_index", 0)
	v.SetDefault("exchanges.lighter.account_index", 0)
	v.SetDefault("strategy.enabled", false)
	v.SetDefault("strategy.required_capital", 0)

	v.SetDefault("strategy.venues", []string{"aster", "hyperliquid", "lighter"})
	v.SetDefault("strategy.target_positions", 1)
	v.SetDefault("strategy.allocations", []float64{100})
	v.SetDefault("strategy.rebalance_interval_minutes", 60)
	v.SetDefault("strategy.min_apr", 10)
	v.SetDefault("strategy.fill_timeout_ms", 30000)
	v.SetDefault("strategy.exit_check_interval_seconds", 30)
	v.SetDefault("strategy.candidate_multiple", 3)
	v.SetDefault("strategy.leverage", 1)
	v.SetDefault("strategy.order_kind", "market")
	v.SetDefault("strategy.manual_cooldown_seconds", 60)
	v.SetDefault("strategy.max_quote_age_seconds", 300)
	v.SetDefault("strategy.closed_history", 100)
	v.SetDefault("strategy.rebalance_history", 100)

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.path", "data/state.json")
	v.SetDefault("notify.kafka_topic", "funding-arb.events")
}

// LoadConfig reads config.yaml from path with environment overrides
// (strategy.min_apr -> STRATEGY_MIN_APR), after loading .env if present,
// and validates the result.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, reading from environment directly")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field invariants once, at startup.
func (c *Config) Validate() error {
	var errs []error
	s := c.Strategy

	venues, err := venue.ParseList(s.Venues)
	if err != nil {
		errs = append(errs, err)
	} else if len(venues) < 2 {
		errs = append(errs, fmt.Errorf("strategy.venues: need at least 2 venues, got %d", len(venues)))
	}

	if s.RequiredCapital < 0 {
		errs = append(errs, fmt.Errorf("strategy.required_capital must not be negative"))
	}
	if s.TargetPositions < 1 {
		errs = append(errs, fmt.Errorf("strategy.target_positions must be at least 1"))
	}
	if len(s.Allocations) != s.TargetPositions {
		errs = append(errs, fmt.Errorf("strategy.allocations: %d entries for %d target positions", len(s.Allocations), s.TargetPositions))
	}
	var sum float64
	for i, a := range s.Allocations {
		if a <= 0 {
			errs = append(errs, fmt.Errorf("strategy.allocations[%d] must be positive", i))
		}
		sum += a
	}
	if math.Abs(sum-100) > 1e-6 {
		errs = append(errs, fmt.Errorf("strategy.allocations sum to %g, want 100", sum))
	}
	if s.RebalanceIntervalMinutes <= 0 {
		errs = append(errs, fmt.Errorf("strategy.rebalance_interval_minutes must be positive"))
	}
	if s.FillTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("strategy.fill_timeout_ms must be positive"))
	}
	if s.MaxQuoteAgeSeconds < 0 {
		errs = append(errs, fmt.Errorf("strategy.max_quote_age_seconds must not be negative"))
	}
	if s.ExitCheckIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("strategy.exit_check_interval_seconds must be positive"))
	}
	if s.CandidateMultiple < 1 {
		errs = append(errs, fmt.Errorf("strategy.candidate_multiple must be at least 1"))
	}
	if s.Leverage <= 0 {
		errs = append(errs, fmt.Errorf("strategy.leverage must be positive"))
	}
	if _, err := precision.ParseOrderKind(s.OrderKind); err != nil {
		errs = append(errs, fmt.Errorf("strategy.order_kind: %w", err))
	}
	if _, err := c.SymbolOverrides(); err != nil {
		errs = append(errs, err)
	}

	switch c.Storage.Driver {
	case "file":
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for the file driver"))
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("storage.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// EnabledVenues returns the parsed strategy.venues list.
func (c *Config) EnabledVenues() []venue.Venue {
	vs, _ := venue.ParseList(c.Strategy.Venues)
	return vs
}

// SymbolOverrides converts the configured overrides for the symbol registry.
func (c *Config) SymbolOverrides() ([]symbol.Override, error) {
	out := make([]symbol.Override, 0, len(c.Strategy.Overrides))
	for i, o := range c.Strategy.Overrides {
		v, err := venue.Parse(o.Venue)
		if err != nil {
			return nil, fmt.Errorf("strategy.overrides[%d]: %w", i, err)
		}
		if o.Asset == "" || o.Symbol == "" {
			return nil, fmt.Errorf("strategy.overrides[%d]: asset and symbol are required", i)
		}
		out = append(out, symbol.Override{Asset: o.Asset, Venue: v, Symbol: o.Symbol, Multiplier: o.Multiplier})
	}
	return out, nil
}

func (s StrategyConfig) RebalanceInterval() time.Duration {
	return time.Duration(s.RebalanceIntervalMinutes) * time.Minute
}

func (s StrategyConfig) FillTimeout() time.Duration {
	return time.Duration(s.FillTimeoutMs) * time.Millisecond
}

func (s StrategyConfig) ExitCheckInterval() time.Duration {
	return time.Duration(s.ExitCheckIntervalSeconds) * time.Second
}

func (s StrategyConfig) ManualCooldown() time.Duration {
	return time.Duration(s.ManualCooldownSeconds) * time.Second
}

// MaxQuoteAge is how old a funding quote may be and still drive a decision.
func (s StrategyConfig) MaxQuoteAge() time.Duration {
	return time.Duration(s.MaxQuoteAgeSeconds) * time.Second
}
