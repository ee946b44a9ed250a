// Binary backtest replays recorded swap/spot tick data against the basis
// strategy and prints the aggregated results.
package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/HanshengGUO/backtester-v2/internal/backtest"
	"github.com/HanshengGUO/backtester-v2/internal/config"
	"github.com/HanshengGUO/backtester-v2/internal/funding"
	"github.com/HanshengGUO/backtester-v2/internal/ledger"
	"github.com/HanshengGUO/backtester-v2/internal/marketdata"
	"github.com/HanshengGUO/backtester-v2/internal/metrics"
	"github.com/HanshengGUO/backtester-v2/internal/storage"
	"github.com/HanshengGUO/backtester-v2/internal/strategy"
	"github.com/HanshengGUO/backtester-v2/internal/util"
)

func main() {
	_ = godotenv.Load() // best-effort

	configPath := flag.String("config", "config/config.yaml", "path to YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := util.NewLogger("info")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	if cfg.App.MetricsAddr != "" {
		_ = metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loc := time.UTC
	if cfg.Funding.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Funding.Timezone)
		if err != nil {
			log.Fatal().Err(err).Str("tz", cfg.Funding.Timezone).Msg("load timezone")
		}
	}

	var fundIdx *funding.Index
	if cfg.Account.FundingFeeEnabled {
		fetcher := funding.NewOKXFetcher(cfg.Funding.BaseURL)
		opts := []funding.Option{}
		if cfg.Funding.LookaheadDays > 0 {
			opts = append(opts, funding.WithLookahead(cfg.Funding.LookaheadDays))
		}
		if cfg.Funding.CacheDir != "" {
			opts = append(opts, funding.WithFileCache(funding.NewFileCache(cfg.Funding.CacheDir, log)))
		}
		fundIdx = funding.NewIndex(cfg.Funding.Exchange, cfg.Funding.Instrument, fetcher, loc, log, opts...)
	}

	params := strategy.Params{
		ShortIn:              cfg.Strategy.Params.ShortIn,
		ShortOut:             cfg.Strategy.Params.ShortOut,
		LongIn:               cfg.Strategy.Params.LongIn,
		LongOut:              cfg.Strategy.Params.LongOut,
		ShortInNearPositive:  cfg.Strategy.Params.ShortInNearPositive,
		ShortOutNearPositive: cfg.Strategy.Params.ShortOutNearPositive,
		LongInNearPositive:   cfg.Strategy.Params.LongInNearPositive,
		LongOutNearPositive:  cfg.Strategy.Params.LongOutNearPositive,
		ShortInNearNegative:  cfg.Strategy.Params.ShortInNearNegative,
		ShortOutNearNegative: cfg.Strategy.Params.ShortOutNearNegative,
		LongInNearNegative:   cfg.Strategy.Params.LongInNearNegative,
		LongOutNearNegative:  cfg.Strategy.Params.LongOutNearNegative,
	}
	var fundSource strategy.FundingSource
	var ledgerFund ledger.FundingIndex
	if fundIdx != nil {
		fundSource = fundIdx
		ledgerFund = fundIdx
	}
	sig := strategy.Build(cfg.Strategy.Mode, params, fundSource)

	kind := marketdata.KindDepth
	if cfg.Backtest.DataType == "fast" {
		kind = marketdata.KindFast
	}
	day := &backtest.DayRunner{
		Provider: &backtest.FileProvider{
			SwapDir: cfg.Instruments.Swap.DataPath,
			SpotDir: cfg.Instruments.Spot.DataPath,
		},
		Kind:        kind,
		Interval:    float64(cfg.Backtest.IntervalMS) / 1000,
		WindowSize:  cfg.Backtest.WindowSize,
		DepthLevels: cfg.Backtest.DepthLevels,
		HourOffset:  cfg.Backtest.HourOffset,
		Loc:         loc,
		Log:         log,
	}

	runner := backtest.NewRunner(cfg, day, sig, ledgerFund, log)
	if cfg.Backtest.ResultsDB != "" {
		store, err := storage.NewResultStore(cfg.Backtest.ResultsDB)
		if err != nil {
			log.Fatal().Err(err).Msg("open results db")
		}
		defer store.Close()
		runner = runner.WithStore(store)
	}

	started := time.Now()
	agg, err := runner.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("backtest failed")
	}

	for _, d := range agg.Daily {
		log.Info().
			Str("date", d.Date).
			Bool("failed", d.Failed).
			Float64("day_pnl", d.DayPnL).
			Float64("cumulative_pnl", d.CumulativePnL).
			Float64("ending_capital", d.EndingCapital).
			Float64("win_rate", d.WinRateSoFar).
			Int("trades", d.TradeCount).
			Msg("day")
	}
	log.Info().
		Float64("total_pnl", agg.TotalPnL).
		Float64("total_fee", agg.TotalFee).
		Float64("total_funding_fee", agg.TotalFundingFee).
		Float64("net_pnl", agg.NetPnL).
		Float64("annual_return_pct", agg.AnnualReturn).
		Int("trades", agg.TradeCount).
		Float64("win_rate", agg.WinRate).
		Float64("final_capital", agg.FinalCapital).
		Dur("elapsed", time.Since(started)).
		Msg("backtest complete")
}
