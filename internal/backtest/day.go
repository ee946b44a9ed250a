// Package backtest drives single-day simulations and multi-day aggregation.
package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/HanshengGUO/backtester-v2/internal/ledger"
	"github.com/HanshengGUO/backtester-v2/internal/marketdata"
	"github.com/HanshengGUO/backtester-v2/internal/signal"
)

// Leg names one side of the basis pair.
type Leg string

const (
	LegSwap Leg = "swap"
	LegSpot Leg = "spot"
)

// SegmentProvider opens the ordered tick segments covering the given calendar
// dates for one leg. A missing segment is an error and fails the day.
type SegmentProvider interface {
	Segments(leg Leg, dates []string) ([]marketdata.Source, error)
}

// FileProvider resolves segments to per-day JSONL tick files under each
// leg's data directory.
type FileProvider struct {
	SwapDir string
	SpotDir string
}

// Segments opens one source per requested date, in order.
func (p FileProvider) Segments(leg Leg, dates []string) ([]marketdata.Source, error) {
	dir := p.SpotDir
	if leg == LegSwap {
		dir = p.SwapDir
	}
	sources := make([]marketdata.Source, 0, len(dates))
	for _, date := range dates {
		src, err := marketdata.OpenDay(dir, date)
		if err != nil {
			for _, s := range sources {
				s.Close()
			}
			return nil, fmt.Errorf("%s leg: %w", leg, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// DayResult is the per-day summary record. CumulativePnL, EndingCapital, and
// WinRateSoFar are filled in chronologically during aggregation.
type DayResult struct {
	Date     string
	DayPnL   float64 // capital delta over the day (net of fees and funding)
	GrossPnL float64
	Fees     float64
	Funding  float64

	TradeCount int
	WinCount   int
	Trades     []ledger.TradeRecord

	CumulativePnL float64
	EndingCapital float64
	WinRateSoFar  float64
	Failed        bool
}

// DayRunner drives one trading day end to end against a fresh ledger.
type DayRunner struct {
	Provider    SegmentProvider
	Kind        marketdata.Kind
	Interval    float64 // seconds between resampled bars
	WindowSize  int
	DepthLevels int
	HourOffset  int
	Loc         *time.Location
	Log         zerolog.Logger
}

// Run opens both legs for the 24h window starting at the date's configured
// hour offset, replays the aligned bar stream through the ledger, and
// force-liquidates whatever is still open at the last bar. A day with no
// usable bars is a valid zero-activity day.
func (r *DayRunner) Run(ctx context.Context, date string, led *ledger.Ledger) (DayResult, error) {
	loc := r.Loc
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(marketdata.DateLayout, date, loc)
	if err != nil {
		return DayResult{}, fmt.Errorf("bad date %q: %w", date, err)
	}
	start := day.Add(time.Duration(r.HourOffset) * time.Hour)
	end := start.Add(24 * time.Hour)

	dates := []string{start.Format(marketdata.DateLayout)}
	if last := end.Add(-time.Second).Format(marketdata.DateLayout); last != dates[0] {
		dates = append(dates, last)
	}

	swapSegs, err := r.Provider.Segments(LegSwap, dates)
	if err != nil {
		return DayResult{}, err
	}
	defer closeAll(swapSegs)
	spotSegs, err := r.Provider.Segments(LegSpot, dates)
	if err != nil {
		return DayResult{}, err
	}
	defer closeAll(spotSegs)

	sync := marketdata.NewSynchronizer(r.Kind, swapSegs, spotSegs, float64(start.Unix()), float64(end.Unix()))
	frames := marketdata.NewResampler(sync, r.Interval).Drain(r.DepthLevels)

	bars := make([]signal.Bar, 0, len(frames))
	for _, f := range frames {
		// A frame whose book midpoints are unusable is treated as a missing
		// tick and skipped, so a zero price never reaches the ratio math.
		if math.IsNaN(f.SwapMid) || math.IsNaN(f.SpotMid) || f.SwapMid <= 0 || f.SpotMid <= 0 {
			continue
		}
		bars = append(bars, signal.Bar{Ts: f.Ts, SwapPrice: f.SwapMid, SpotPrice: f.SpotMid})
	}

	startCapital := led.Capital()
	var trades []ledger.TradeRecord
	for i := r.WindowSize; i < len(bars); i++ {
		if err := ctx.Err(); err != nil {
			return DayResult{}, err
		}
		trades = append(trades, led.ProcessWindow(ctx, bars[i-r.WindowSize:i+1])...)
	}

	if led.OpenCount() > 0 && len(bars) > 0 {
		last := bars[len(bars)-1]
		r.Log.Info().Str("date", date).Int("positions", led.OpenCount()).Msg("forced liquidation at day end")
		trades = append(trades, led.ForceClose(last.Ts, last.SwapPrice, last.SpotPrice)...)
	}

	return DayResult{
		Date:       date,
		DayPnL:     led.Capital() - startCapital,
		GrossPnL:   led.TotalPnL(),
		Fees:       led.TotalFee(),
		Funding:    led.TotalFunding(),
		TradeCount: led.TradeCount(),
		WinCount:   led.WinCount(),
		Trades:     trades,
	}, nil
}

func closeAll(sources []marketdata.Source) {
	for _, s := range sources {
		s.Close()
	}
}
