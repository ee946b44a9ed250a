package backtest

import (
	"context"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"github.com/HanshengGUO/backtester-v2/internal/config"
	"github.com/HanshengGUO/backtester-v2/internal/ledger"
	"github.com/HanshengGUO/backtester-v2/internal/metrics"
	"github.com/HanshengGUO/backtester-v2/internal/risk"
	"github.com/HanshengGUO/backtester-v2/internal/strategy"
)

// tradingDaysPerYear annualizes returns the way equity desks quote them.
const tradingDaysPerYear = 252

// Aggregate is the whole-run accounting across all simulated days.
type Aggregate struct {
	TotalPnL        float64
	TotalFee        float64
	TotalFundingFee float64
	NetPnL          float64
	AnnualReturn    float64 // percent
	TradeCount      int
	WinRate         float64
	InitialCapital  float64
	FinalCapital    float64
	Daily           []DayResult
}

// ResultSink persists per-day summaries after aggregation.
type ResultSink interface {
	SaveDay(res DayResult) error
}

// Runner executes every configured date on a bounded worker pool. Each day
// gets a fresh ledger seeded with the configured initial capital; the only
// state shared between days is the read-mostly funding index.
type Runner struct {
	cfg   *config.Config
	day   *DayRunner
	sig   strategy.Signaler
	fund  ledger.FundingIndex
	store ResultSink
	log   zerolog.Logger
}

// NewRunner wires a runner from validated configuration and collaborators.
func NewRunner(cfg *config.Config, day *DayRunner, sig strategy.Signaler, fund ledger.FundingIndex, log zerolog.Logger) *Runner {
	return &Runner{cfg: cfg, day: day, sig: sig, fund: fund, log: log}
}

// WithStore attaches an optional result sink.
func (r *Runner) WithStore(store ResultSink) *Runner {
	r.store = store
	return r
}

func (r *Runner) ledgerConfig() ledger.Config {
	acct := r.cfg.Account
	minInterval := acct.MinEntryInterval
	if minInterval == 0 {
		minInterval = 3600
	}
	guard := acct.SettlementGuard
	if guard == 0 {
		guard = 800
	}
	return ledger.Config{
		Capital:        acct.Capital,
		MaxPositions:   acct.MaxPositions,
		FeeRate:        acct.FeeRate,
		FundingEnabled: acct.FundingFeeEnabled,
		Limits: risk.Limits{
			MaxPositions:     acct.MaxPositions,
			MinEntryInterval: minInterval,
			SettlementGuard:  guard,
		},
	}
}

// Run simulates every date concurrently and aggregates once all days
// complete. The reported day list stays in configured (chronological) order
// regardless of completion order, and failed days are reported as zero days
// rather than silently fabricated.
func (r *Runner) Run(ctx context.Context) (*Aggregate, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}
	dates := r.cfg.Backtest.Dates

	workers := runtime.GOMAXPROCS(0)
	if workers > len(dates) {
		workers = len(dates)
	}
	sem := make(chan struct{}, workers)
	results := make([]DayResult, len(dates))

	var wg sync.WaitGroup
	for i, date := range dates {
		wg.Add(1)
		go func(i int, date string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = r.runDay(ctx, date)
		}(i, date)
	}
	wg.Wait()

	agg := aggregate(r.cfg.Account.Capital, results)
	if r.store != nil {
		for _, res := range agg.Daily {
			if err := r.store.SaveDay(res); err != nil {
				r.log.Warn().Err(err).Str("date", res.Date).Msg("persist day result failed")
			}
		}
	}
	return agg, nil
}

func (r *Runner) runDay(ctx context.Context, date string) DayResult {
	led, err := ledger.New(r.ledgerConfig(), r.sig, r.fund, r.log)
	if err != nil {
		// Validate() guards this; reaching here means the account config
		// changed under us.
		r.log.Error().Err(err).Str("date", date).Msg("ledger construction failed")
		metrics.DaysTotal.WithLabelValues("failed").Inc()
		return DayResult{Date: date, Failed: true}
	}
	res, err := r.day.Run(ctx, date, led)
	if err != nil {
		r.log.Error().Err(err).Str("date", date).Msg("day failed")
		metrics.DaysTotal.WithLabelValues("failed").Inc()
		return DayResult{Date: date, Failed: true}
	}
	metrics.DaysTotal.WithLabelValues("ok").Inc()
	r.log.Info().
		Str("date", date).
		Float64("day_pnl", res.DayPnL).
		Int("trades", res.TradeCount).
		Msg("day complete")
	return res
}

// aggregate folds the chronological day list into run totals and fills the
// cumulative per-day fields. Totals are order-independent sums; the
// cumulative curve is reconstructed in date order.
func aggregate(initial float64, daily []DayResult) *Aggregate {
	var cumGross, cumDay float64
	trades, wins := 0, 0
	agg := &Aggregate{InitialCapital: initial}

	for i := range daily {
		d := &daily[i]
		cumGross += d.GrossPnL
		cumDay += d.DayPnL
		trades += d.TradeCount
		wins += d.WinCount

		d.CumulativePnL = cumGross
		d.EndingCapital = initial + cumDay
		d.WinRateSoFar = float64(wins) / float64(max(1, trades))

		agg.TotalPnL += d.GrossPnL
		agg.TotalFee += d.Fees
		agg.TotalFundingFee += d.Funding
	}

	agg.NetPnL = agg.TotalPnL - agg.TotalFee - agg.TotalFundingFee
	agg.TradeCount = trades
	agg.WinRate = float64(wins) / float64(max(1, trades))
	agg.FinalCapital = initial + cumDay
	if len(daily) > 0 {
		agg.AnnualReturn = (agg.TotalPnL / initial) * (tradingDaysPerYear / float64(len(daily))) * 100
	}
	agg.Daily = daily
	return agg
}
