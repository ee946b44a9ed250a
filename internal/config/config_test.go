package config

import (
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.Name != "backtester" || cfg.App.LogLevel != "debug" {
		t.Fatalf("app section wrong: %+v", cfg.App)
	}
	if cfg.Instruments.Swap.Name != "BTC-USDT-SWAP" || cfg.Instruments.Spot.DataPath != "testdata/spot" {
		t.Fatalf("instruments section wrong: %+v", cfg.Instruments)
	}
	if len(cfg.Backtest.Dates) != 2 || cfg.Backtest.IntervalMS != 500 || cfg.Backtest.HourOffset != 8 {
		t.Fatalf("backtest section wrong: %+v", cfg.Backtest)
	}
	if cfg.Backtest.DataType != "fast" || cfg.Backtest.DepthLevels != 5 {
		t.Fatalf("backtest section wrong: %+v", cfg.Backtest)
	}
	if cfg.Account.Capital != 250000 || !cfg.Account.FundingFeeEnabled || cfg.Account.MinEntryInterval != 1800 {
		t.Fatalf("account section wrong: %+v", cfg.Account)
	}
	if cfg.Funding.Timezone != "Asia/Shanghai" || cfg.Funding.LookaheadDays != 3 {
		t.Fatalf("funding section wrong: %+v", cfg.Funding)
	}
	if cfg.Strategy.Params.ShortIn != 1.0009 || cfg.Strategy.Params.LongIn != 0.9991 {
		t.Fatalf("strategy params wrong: %+v", cfg.Strategy.Params)
	}
	// Unset thresholds stay zero; the strategy layer merges in defaults.
	if cfg.Strategy.Params.ShortOut != 0 {
		t.Fatalf("unset threshold must stay zero, got %v", cfg.Strategy.Params.ShortOut)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("fixture must validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Account.Capital != cfg.Account.Capital || loaded.Backtest.Dates[1] != cfg.Backtest.Dates[1] {
		t.Fatalf("round trip lost data: %+v", loaded)
	}
}

func TestValidateRejections(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Backtest: Backtest{Dates: []string{"2026-08-01"}, IntervalMS: 1000, WindowSize: 10},
			Account:  Account{Capital: 1000, MaxPositions: 2, FeeRate: 0.0002},
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("baseline must validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capital", func(c *Config) { c.Account.Capital = 0 }},
		{"negative capital", func(c *Config) { c.Account.Capital = -1 }},
		{"zero max positions", func(c *Config) { c.Account.MaxPositions = 0 }},
		{"negative fee rate", func(c *Config) { c.Account.FeeRate = -0.1 }},
		{"zero interval", func(c *Config) { c.Backtest.IntervalMS = 0 }},
		{"zero window", func(c *Config) { c.Backtest.WindowSize = 0 }},
		{"no dates", func(c *Config) { c.Backtest.Dates = nil }},
		{"bad date", func(c *Config) { c.Backtest.Dates = []string{"08/01/2026"} }},
		{"bad data type", func(c *Config) { c.Backtest.DataType = "candles" }},
		{"bad timezone", func(c *Config) { c.Funding.Timezone = "Mars/Olympus" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
