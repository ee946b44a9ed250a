// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Instrument names one venue leg and where its recorded tick files live.
type Instrument struct {
	Name     string `yaml:"name"`
	DataPath string `yaml:"data_path"`
}

// Instruments pairs the perpetual-swap leg with the spot leg.
type Instruments struct {
	Swap Instrument `yaml:"swap"`
	Spot Instrument `yaml:"spot"`
}

// Backtest drives the simulation window and sampling.
type Backtest struct {
	Dates       []string `yaml:"dates"` // YYYY-MM-DD, chronological
	IntervalMS  int      `yaml:"interval_ms"`
	WindowSize  int      `yaml:"window_size"`
	DataType    string   `yaml:"data_type"` // "depth" or "fast"
	DepthLevels int      `yaml:"depth_levels"`
	HourOffset  int      `yaml:"hour_offset"`
	ResultsDB   string   `yaml:"results_db"` // optional SQLite path
}

// Account configures the per-day ledger.
type Account struct {
	Capital           float64 `yaml:"capital"`
	MaxPositions      int     `yaml:"max_positions"`
	FeeRate           float64 `yaml:"fee_rate"`
	FundingFeeEnabled bool    `yaml:"funding_fee_enabled"`
	MinEntryInterval  float64 `yaml:"min_entry_interval_secs"`
	SettlementGuard   float64 `yaml:"settlement_guard_secs"`
}

// Funding configures the settlement index and its upstream fetcher.
type Funding struct {
	Exchange      string `yaml:"exchange"`
	Instrument    string `yaml:"instrument"`
	CacheDir      string `yaml:"cache_dir"`
	Timezone      string `yaml:"timezone"`
	LookaheadDays int    `yaml:"lookahead_days"`
	BaseURL       string `yaml:"base_url"`
}

// StrategyParams groups the threshold knobs for the signal implementation.
// Zero values fall back to the built-in defaults.
type StrategyParams struct {
	ShortIn  float64 `yaml:"short_in"`
	ShortOut float64 `yaml:"short_out"`
	LongIn   float64 `yaml:"long_in"`
	LongOut  float64 `yaml:"long_out"`

	ShortInNearPositive  float64 `yaml:"short_in_near_positive"`
	ShortOutNearPositive float64 `yaml:"short_out_near_positive"`
	LongInNearPositive   float64 `yaml:"long_in_near_positive"`
	LongOutNearPositive  float64 `yaml:"long_out_near_positive"`
	ShortInNearNegative  float64 `yaml:"short_in_near_negative"`
	ShortOutNearNegative float64 `yaml:"short_out_near_negative"`
	LongInNearNegative   float64 `yaml:"long_in_near_negative"`
	LongOutNearNegative  float64 `yaml:"long_out_near_negative"`
}

// Strategy specifies which signal implementation is active plus its knobs.
type Strategy struct {
	Mode   string         `yaml:"mode"`
	Params StrategyParams `yaml:"params"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App         App         `yaml:"app"`
	Instruments Instruments `yaml:"instruments"`
	Backtest    Backtest    `yaml:"backtest"`
	Account     Account     `yaml:"account"`
	Funding     Funding     `yaml:"funding"`
	Strategy    Strategy    `yaml:"strategy"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate rejects configurations that would corrupt a run. These are fatal
// at construction time and never clamped.
func (c *Config) Validate() error {
	if c.Account.Capital <= 0 {
		return fmt.Errorf("config: capital must be positive, got %v", c.Account.Capital)
	}
	if c.Account.MaxPositions <= 0 {
		return fmt.Errorf("config: max_positions must be positive, got %d", c.Account.MaxPositions)
	}
	if c.Account.FeeRate < 0 {
		return fmt.Errorf("config: fee_rate must not be negative, got %v", c.Account.FeeRate)
	}
	if c.Backtest.IntervalMS <= 0 {
		return fmt.Errorf("config: interval_ms must be positive, got %d", c.Backtest.IntervalMS)
	}
	if c.Backtest.WindowSize <= 0 {
		return fmt.Errorf("config: window_size must be positive, got %d", c.Backtest.WindowSize)
	}
	if len(c.Backtest.Dates) == 0 {
		return fmt.Errorf("config: at least one date is required")
	}
	for _, date := range c.Backtest.Dates {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return fmt.Errorf("config: bad date %q: %w", date, err)
		}
	}
	switch c.Backtest.DataType {
	case "", "depth", "fast":
	default:
		return fmt.Errorf("config: unknown data_type %q", c.Backtest.DataType)
	}
	if c.Funding.Timezone != "" {
		if _, err := time.LoadLocation(c.Funding.Timezone); err != nil {
			return fmt.Errorf("config: bad timezone %q: %w", c.Funding.Timezone, err)
		}
	}
	return nil
}
