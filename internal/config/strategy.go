package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// StrategyConfig tunes the evaluation engine. It maps directly to the
// evaluation YAML file; every key has a default so the file is optional.
// Keys can be overridden via CHAKRA_* environment variables
// (e.g. CHAKRA_GATES_MIN_PRICE).
type StrategyConfig struct {
	Gates   GatesConfig   `mapstructure:"gates"`
	Scoring ScoringConfig `mapstructure:"scoring"`
	Chain   ChainConfig   `mapstructure:"chain"`
}

// GatesConfig holds the Stage 1 hard-gate thresholds.
type GatesConfig struct {
	MinPrice           float64          `mapstructure:"min_price"`
	MaxPrice           float64          `mapstructure:"max_price"`
	MinVolume          int64            `mapstructure:"min_volume"`
	MinVolumeOverrides map[string]int64 `mapstructure:"min_volume_overrides"`
	MinIVRank          float64          `mapstructure:"min_iv_rank"`
	AllowMissingIVRank bool             `mapstructure:"allow_missing_iv_rank"`
	AllowedRegimes     []string         `mapstructure:"allowed_regimes"`
}

// MinVolumeFor resolves the liquidity floor for a symbol, honoring overrides.
func (g GatesConfig) MinVolumeFor(symbol string) int64 {
	if v, ok := g.MinVolumeOverrides[symbol]; ok {
		return v
	}
	return g.MinVolume
}

// RegimeAllowed reports whether new entries are permitted under the regime.
func (g GatesConfig) RegimeAllowed(r domain.Regime) bool {
	for _, allowed := range g.AllowedRegimes {
		if strings.EqualFold(allowed, string(r)) {
			return true
		}
	}
	return false
}

// ScoringConfig holds the Stage 1 composite-score parameters.
type ScoringConfig struct {
	TargetPriceLow  float64 `mapstructure:"target_price_low"`
	TargetPriceHigh float64 `mapstructure:"target_price_high"`
	DefaultPriority int     `mapstructure:"default_priority"`
	Weights         Weights `mapstructure:"weights"`
}

// Weights assigns the share of the composite score each sub-score carries.
type Weights struct {
	Price     float64 `mapstructure:"price"`
	Regime    float64 `mapstructure:"regime"`
	Priority  float64 `mapstructure:"priority"`
	Freshness float64 `mapstructure:"freshness"`
	IVRank    float64 `mapstructure:"iv_rank"`
	Liquidity float64 `mapstructure:"liquidity"`
}

// ChainConfig holds the Stage 2 contract-selection filters.
type ChainConfig struct {
	MinDTE            int     `mapstructure:"min_dte"`
	MaxDTE            int     `mapstructure:"max_dte"`
	DeltaMin          float64 `mapstructure:"delta_min"`
	DeltaMax          float64 `mapstructure:"delta_max"`
	MinOpenInterest   int     `mapstructure:"min_open_interest"`
	MinBid            float64 `mapstructure:"min_bid"`
	MaxSpreadPct      float64 `mapstructure:"max_spread_pct"`
	EarningsBlockDays int     `mapstructure:"earnings_block_days"`
}

// LoadStrategy reads the evaluation config from a YAML file with env var
// overrides. A missing file is not an error: every key has a default.
func LoadStrategy(path string) (*StrategyConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CHAKRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setStrategyDefaults(v)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, &domain.ConfigError{Key: path, Reason: fmt.Sprintf("cannot parse: %v", err)}
		}
	}

	var cfg StrategyConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &domain.ConfigError{Key: path, Reason: fmt.Sprintf("cannot unmarshal: %v", err)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setStrategyDefaults(v *viper.Viper) {
	v.SetDefault("gates.min_price", 15.0)
	v.SetDefault("gates.max_price", 400.0)
	v.SetDefault("gates.min_volume", 1_000_000)
	v.SetDefault("gates.min_iv_rank", 25.0)
	v.SetDefault("gates.allow_missing_iv_rank", true)
	v.SetDefault("gates.allowed_regimes", []string{"RISK_ON", "BULL", "NEUTRAL"})

	v.SetDefault("scoring.target_price_low", 30.0)
	v.SetDefault("scoring.target_price_high", 120.0)
	v.SetDefault("scoring.default_priority", 3)
	v.SetDefault("scoring.weights.price", 25.0)
	v.SetDefault("scoring.weights.regime", 20.0)
	v.SetDefault("scoring.weights.priority", 15.0)
	v.SetDefault("scoring.weights.freshness", 15.0)
	v.SetDefault("scoring.weights.iv_rank", 15.0)
	v.SetDefault("scoring.weights.liquidity", 10.0)

	v.SetDefault("chain.min_dte", 21)
	v.SetDefault("chain.max_dte", 45)
	v.SetDefault("chain.delta_min", 0.15)
	v.SetDefault("chain.delta_max", 0.35)
	v.SetDefault("chain.min_open_interest", 200)
	v.SetDefault("chain.min_bid", 0.10)
	v.SetDefault("chain.max_spread_pct", 10.0)
	v.SetDefault("chain.earnings_block_days", 3)
}

// Validate checks threshold sanity.
func (c *StrategyConfig) Validate() error {
	if c.Gates.MinPrice <= 0 || c.Gates.MaxPrice <= c.Gates.MinPrice {
		return &domain.ConfigError{Key: "gates.min_price/max_price", Reason: "need 0 < min_price < max_price"}
	}
	if c.Gates.MinVolume < 0 {
		return &domain.ConfigError{Key: "gates.min_volume", Reason: "must be non-negative"}
	}
	if c.Scoring.TargetPriceLow < c.Gates.MinPrice || c.Scoring.TargetPriceHigh > c.Gates.MaxPrice ||
		c.Scoring.TargetPriceLow >= c.Scoring.TargetPriceHigh {
		return &domain.ConfigError{Key: "scoring.target_price_low/high", Reason: "target band must sit inside the price gate range"}
	}
	if c.Chain.MinDTE <= 0 || c.Chain.MaxDTE < c.Chain.MinDTE {
		return &domain.ConfigError{Key: "chain.min_dte/max_dte", Reason: "need 0 < min_dte <= max_dte"}
	}
	if c.Chain.DeltaMin < 0 || c.Chain.DeltaMax <= c.Chain.DeltaMin || c.Chain.DeltaMax > 1 {
		return &domain.ConfigError{Key: "chain.delta_min/delta_max", Reason: "need 0 <= delta_min < delta_max <= 1"}
	}
	if len(c.Gates.AllowedRegimes) == 0 {
		return &domain.ConfigError{Key: "gates.allowed_regimes", Reason: "at least one regime must be allowed"}
	}
	return nil
}
