// Package config defines all configuration for the arbitrage engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ARB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Mode      string          `mapstructure:"mode"` // "monitor" | "execute"
	DryRun    bool            `mapstructure:"dry_run"`
	Venues    []VenueConfig   `mapstructure:"venues"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// VenueConfig describes one trading venue the engine connects to.
// PrivateKeyHex/ChainID are only meaningful for category "dex"; APIKey/
// APISecret are only meaningful for REST venues.
type VenueConfig struct {
	ID               string  `mapstructure:"id"`
	Category         string  `mapstructure:"category"` // spot|perpetual|dex|demo
	BaseURL          string  `mapstructure:"base_url"`
	WSURL            string  `mapstructure:"ws_url"` // optional; falls back to polling when empty
	APIKey           string  `mapstructure:"api_key"`
	APISecret        string  `mapstructure:"api_secret"`
	PrivateKeyHex    string  `mapstructure:"private_key_hex"`
	ChainID          int64   `mapstructure:"chain_id"`
	HighRisk         bool    `mapstructure:"high_risk"`
	MakerFeeRate     float64 `mapstructure:"maker_fee_rate"`
	TakerFeeRate     float64 `mapstructure:"taker_fee_rate"`
	MaxPositionQuote float64 `mapstructure:"max_position_quote"`
}

// StrategyConfig tunes the three synthesis strategies (spec §4.2).
type StrategyConfig struct {
	Symbols            []string         `mapstructure:"symbols"`
	Venues             []string         `mapstructure:"venues"`
	MinProfitPct       float64          `mapstructure:"min_profit_pct"`
	MaxPositionQuote   float64          `mapstructure:"max_position_quote"`
	EnablePartialFills bool             `mapstructure:"enable_partial_fills"`
	Triangles          []TriangleConfig `mapstructure:"triangles"`
	Basis              []BasisConfig    `mapstructure:"basis"`
}

// TriangleConfig names one single-venue triangular route A -> B -> C.
type TriangleConfig struct {
	Venue string `mapstructure:"venue"`
	A     string `mapstructure:"a"`
	B     string `mapstructure:"b"`
	C     string `mapstructure:"c"`
}

// BasisConfig names one spot/perpetual funding-rate pairing.
type BasisConfig struct {
	SpotVenue          string  `mapstructure:"spot_venue"`
	PerpVenue          string  `mapstructure:"perp_venue"`
	Symbol             string  `mapstructure:"symbol"`
	FundingRate        float64 `mapstructure:"funding_rate"`
	FundingPeriodsYear int     `mapstructure:"funding_periods_year"`
}

// RiskConfig sets the admission limits the Risk & Portfolio Gate enforces
// (spec §4.4).
type RiskConfig struct {
	GlobalMinProfitPct    float64             `mapstructure:"global_min_profit_pct"`
	MaxTotalExposureQuote float64             `mapstructure:"max_total_exposure_quote"`
	MaxLossPerDayQuote    float64             `mapstructure:"max_loss_per_day_quote"`
	MaxPositionAgeHours   float64             `mapstructure:"max_position_age_hours"`
	CorrelationThreshold  float64             `mapstructure:"correlation_threshold"`
	CorrelatedAssets      map[string][]string `mapstructure:"correlated_assets"`
	BookDepthLevels       int                 `mapstructure:"book_depth_levels"`
	// StateDir, if set, persists the Portfolio's positions/daily-loss
	// aggregate to a crash-safe JSON file in this directory so a restart
	// doesn't lose track of open exposure. Empty disables persistence.
	StateDir string `mapstructure:"state_dir"`
}

// ScannerConfig configures the Opportunity Scanner (spec §4.3). MaxActive
// caps the active set. ScanPeriod and SweepPeriod are validated and shown
// on the dashboard; the Scanner itself runs on its fixed ScanPeriod and
// SweepPeriod constants.
type ScannerConfig struct {
	ScanPeriod  time.Duration `mapstructure:"scan_period"`
	SweepPeriod time.Duration `mapstructure:"sweep_period"`
	MaxActive   int           `mapstructure:"max_active"`
}

// ExecutionConfig tunes the Execution Coordinator's worker pool (spec §4.5).
type ExecutionConfig struct {
	MaxConcurrent      int  `mapstructure:"max_concurrent"`
	EnablePartialFills bool `mapstructure:"enable_partial_fills"`
}

// AuditConfig points at the append-only relational audit store (spec §6).
type AuditConfig struct {
	DSN string `mapstructure:"dsn"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the web dashboard server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive per-venue fields are applied from ARB_VENUE_<INDEX>_API_KEY /
// ARB_VENUE_<INDEX>_API_SECRET / ARB_VENUE_<INDEX>_PRIVATE_KEY_HEX, index
// matching the venue's position in the configured list.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	for i := range cfg.Venues {
		if key := os.Getenv(fmt.Sprintf("ARB_VENUE_%d_API_KEY", i)); key != "" {
			cfg.Venues[i].APIKey = key
		}
		if secret := os.Getenv(fmt.Sprintf("ARB_VENUE_%d_API_SECRET", i)); secret != "" {
			cfg.Venues[i].APISecret = secret
		}
		if pk := os.Getenv(fmt.Sprintf("ARB_VENUE_%d_PRIVATE_KEY_HEX", i)); pk != "" {
			cfg.Venues[i].PrivateKeyHex = pk
		}
	}
	if os.Getenv("ARB_DRY_RUN") == "true" || os.Getenv("ARB_DRY_RUN") == "1" {
		cfg.DryRun = true
	}
	if mode := os.Getenv("ARB_MODE"); mode != "" {
		cfg.Mode = mode
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Mode {
	case "monitor", "execute":
	default:
		return fmt.Errorf("mode must be one of: monitor, execute")
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue must be configured")
	}
	for _, ve := range c.Venues {
		if ve.ID == "" {
			return fmt.Errorf("venue entry missing id")
		}
		switch ve.Category {
		case "spot", "perpetual", "dex", "demo":
		default:
			return fmt.Errorf("venue %q: category must be one of: spot, perpetual, dex, demo", ve.ID)
		}
		if ve.Category == "dex" && ve.PrivateKeyHex == "" {
			return fmt.Errorf("venue %q: private_key_hex is required for dex venues", ve.ID)
		}
		if ve.Category != "demo" && ve.Category != "dex" && ve.BaseURL == "" {
			return fmt.Errorf("venue %q: base_url is required", ve.ID)
		}
	}
	if len(c.Strategy.Symbols) == 0 {
		return fmt.Errorf("strategy.symbols must be non-empty")
	}
	if c.Strategy.MinProfitPct <= 0 {
		return fmt.Errorf("strategy.min_profit_pct must be > 0")
	}
	if c.Strategy.MaxPositionQuote <= 0 {
		return fmt.Errorf("strategy.max_position_quote must be > 0")
	}
	if c.Risk.MaxTotalExposureQuote <= 0 {
		return fmt.Errorf("risk.max_total_exposure_quote must be > 0")
	}
	if c.Risk.MaxLossPerDayQuote <= 0 {
		return fmt.Errorf("risk.max_loss_per_day_quote must be > 0")
	}
	if c.Scanner.ScanPeriod <= 0 {
		return fmt.Errorf("scanner.scan_period must be > 0")
	}
	if c.Scanner.MaxActive <= 0 {
		return fmt.Errorf("scanner.max_active must be > 0")
	}
	if c.Execution.MaxConcurrent <= 0 {
		return fmt.Errorf("execution.max_concurrent must be > 0")
	}
	return nil
}
