// Package config defines the runtime host configuration.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// overrides via TRADE_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"tradecore/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig sets where strategy state is persisted. One LevelDB
// database holds every strategy, namespaced by per-strategy key prefixes.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// ExchangeConfig selects and tunes the venue binding.
//
//   - Adapter: adapter id; "sim" is the built-in back-test venue.
//   - Label:   name of this binding, returned by the mediator's Label.
//   - Fees:    taker fee as a fraction of notional (sim only).
//   - InitialBalance: starting balance per simulated account (sim only).
type ExchangeConfig struct {
	Adapter        string  `mapstructure:"adapter"`
	Label          string  `mapstructure:"label"`
	Fees           float64 `mapstructure:"fees"`
	InitialBalance float64 `mapstructure:"initial_balance"`
}

// InstrumentConfig declares one instrument a strategy trades.
type InstrumentConfig struct {
	ID            string  `mapstructure:"id"`
	Label         string  `mapstructure:"label"`
	Type          string  `mapstructure:"type"`
	TickSize      float64 `mapstructure:"tick_size"`
	LotSize       float64 `mapstructure:"lot_size"`
	LotMultiplier float64 `mapstructure:"lot_multiplier"`
	MinSize       float64 `mapstructure:"min_size"`
	MinVolume     float64 `mapstructure:"min_volume"`
	CanShort      bool    `mapstructure:"can_short"`
}

// ToInstrumentConfig converts the declaration into the runtime's instrument
// trading rules.
func (c InstrumentConfig) ToInstrumentConfig() types.InstrumentConfig {
	cfg := types.InstrumentConfig{
		TickSize:      c.TickSize,
		LotSize:       c.LotSize,
		LotMultiplier: c.LotMultiplier,
		MinSize:       c.MinSize,
		MinVolume:     c.MinVolume,
		CanShort:      c.CanShort,
		Tradable:      true,
	}
	switch c.Type {
	case "spot", "":
		cfg.Type = types.InstrumentSpot
	case "contract":
		cfg.Type = types.InstrumentContract
	case "inverted_contract":
		cfg.Type = types.InstrumentInvertedContract
	case "quantum_contract":
		cfg.Type = types.InstrumentQuantumContract
	case "cfd":
		cfg.Type = types.InstrumentCFD
	default:
		cfg.Type = types.InstrumentUnknown
		cfg.Tradable = false
	}
	return cfg
}

// StrategyConfig declares one strategy instance.
type StrategyConfig struct {
	ID          string             `mapstructure:"id"`
	Strategy    string             `mapstructure:"strategy"`
	Account     string             `mapstructure:"account"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	Params      map[string]string  `mapstructure:"params"`
}

// Load reads config from a YAML file with env var overrides (TRADE_ prefix,
// dots become underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required", types.ErrConfigInvalid)
	}
	if c.Exchange.Adapter == "" {
		return fmt.Errorf("%w: exchange.adapter is required", types.ErrConfigInvalid)
	}
	if c.Exchange.Fees < 0 || c.Exchange.Fees >= 1 {
		return fmt.Errorf("%w: exchange.fees must be in [0, 1)", types.ErrConfigInvalid)
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("%w: at least one strategy is required", types.ErrConfigInvalid)
	}
	seen := make(map[string]bool)
	for _, s := range c.Strategies {
		if s.ID == "" {
			return fmt.Errorf("%w: strategy id is required", types.ErrConfigInvalid)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate strategy id %q", types.ErrConfigInvalid, s.ID)
		}
		seen[s.ID] = true
		if s.Strategy == "" {
			return fmt.Errorf("%w: strategy %q names no implementation", types.ErrConfigInvalid, s.ID)
		}
		if len(s.Instruments) == 0 {
			return fmt.Errorf("%w: strategy %q declares no instruments", types.ErrConfigInvalid, s.ID)
		}
		for _, i := range s.Instruments {
			if i.ID == "" {
				return fmt.Errorf("%w: strategy %q has an instrument without id", types.ErrConfigInvalid, s.ID)
			}
		}
	}
	return nil
}
