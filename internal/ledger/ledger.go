// Package ledger tracks capital, positions, fees, and funding for one
// simulated trading day. A Ledger is owned by exactly one day run; nothing in
// it is shared across days.
package ledger

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HanshengGUO/backtester-v2/internal/funding"
	"github.com/HanshengGUO/backtester-v2/internal/metrics"
	"github.com/HanshengGUO/backtester-v2/internal/risk"
	"github.com/HanshengGUO/backtester-v2/internal/signal"
	"github.com/HanshengGUO/backtester-v2/internal/strategy"
)

// FundingPayment is one signed settlement amount applied to a position.
type FundingPayment struct {
	Ts     int64
	Amount float64 // positive = received
}

// Position is an open or closed basis position sized in base-asset units.
type Position struct {
	ID              string
	Side            signal.Side
	EntryTime       float64
	EntrySwap       float64
	EntrySpot       float64
	Size            float64
	FundingPayments []FundingPayment
}

// PnL returns the price PnL of closing at the given prices, excluding fees
// and funding. Long basis profits when spot rises against swap; short basis
// profits the opposite way.
func (p *Position) PnL(exitSwap, exitSpot float64) float64 {
	if p.Side == signal.SideLong {
		return (exitSpot - p.EntrySpot + (p.EntrySwap - exitSwap)) * p.Size
	}
	return (p.EntrySpot - exitSpot + (exitSwap - p.EntrySwap)) * p.Size
}

// RoundTripFee is the taker fee across all four legs of the round trip.
func (p *Position) RoundTripFee(exitSwap, exitSpot, feeRate float64) float64 {
	return (p.EntrySwap + p.EntrySpot + exitSwap + exitSpot) * p.Size * feeRate
}

// TradeRecord is one entry in the day's trade log.
type TradeRecord struct {
	Ts        float64     `json:"ts"`
	Action    string      `json:"action"` // "open" or "close"
	Side      signal.Side `json:"side"`
	Size      float64     `json:"size"`
	SwapPrice float64     `json:"swap_price"`
	SpotPrice float64     `json:"spot_price"`
}

// FundingIndex is the slice of the funding index the ledger consumes.
type FundingIndex interface {
	Next(ctx context.Context, ts float64) (funding.Event, error)
	Prev(ctx context.Context, ts float64) (funding.Event, error)
}

// Config parameterizes a day ledger.
type Config struct {
	Capital        float64
	MaxPositions   int
	FeeRate        float64
	FundingEnabled bool
	Limits         risk.Limits
}

// Ledger is the per-day position state machine. It is driven once per
// resampled bar window and mutated by nothing else.
type Ledger struct {
	cfg     Config
	sig     strategy.Signaler
	funding FundingIndex
	log     zerolog.Logger

	capital      float64
	totalPnL     float64
	totalFee     float64
	totalFunding float64
	tradeCount   int
	winCount     int

	open      []*Position
	closed    []*Position
	direction signal.Side // "" while no position is open
	lastEntry float64
	nextEvent int64 // next known settlement instant, 0 = unknown
	trades    []TradeRecord
}

// New validates the configuration and returns an empty ledger. Non-positive
// capital or max positions are construction-time errors, never clamped.
func New(cfg Config, sig strategy.Signaler, fund FundingIndex, log zerolog.Logger) (*Ledger, error) {
	if cfg.Capital <= 0 {
		return nil, fmt.Errorf("ledger: capital must be positive, got %v", cfg.Capital)
	}
	if cfg.MaxPositions <= 0 {
		return nil, fmt.Errorf("ledger: max positions must be positive, got %d", cfg.MaxPositions)
	}
	if cfg.FeeRate < 0 {
		return nil, fmt.Errorf("ledger: fee rate must not be negative, got %v", cfg.FeeRate)
	}
	if cfg.Limits.MaxPositions == 0 {
		cfg.Limits.MaxPositions = cfg.MaxPositions
	}
	return &Ledger{
		cfg:     cfg,
		sig:     sig,
		funding: fund,
		log:     log,
		capital: cfg.Capital,
	}, nil
}

// ProcessWindow applies one bar step: funding accrual, settlement-time cache
// refresh, exit evaluations, then at most one entry. The returned records are
// also appended to the day trade log.
func (l *Ledger) ProcessWindow(ctx context.Context, window []signal.Bar) []TradeRecord {
	if len(window) == 0 {
		return nil
	}
	bar := window[len(window)-1]
	var out []TradeRecord

	l.accrueFunding(ctx, bar)

	if l.nextEvent == 0 || bar.Ts >= float64(l.nextEvent) {
		if l.funding != nil {
			if ev, err := l.funding.Next(ctx, bar.Ts); err == nil {
				l.nextEvent = ev.Ts
			}
		}
	}

	for _, pos := range append([]*Position(nil), l.open...) {
		if l.sig.Exit(ctx, window, pos.Side) {
			out = append(out, l.close(pos, bar.Ts, bar.SwapPrice, bar.SpotPrice))
		}
	}

	if len(l.open) < l.cfg.MaxPositions {
		dir := l.sig.Entry(ctx, window)
		if dir != signal.None &&
			l.cfg.Limits.AllowEntry(bar.Ts, l.lastEntry, len(l.open), l.nextEvent) &&
			l.directionOK(signal.FromDirection(dir)) {
			out = append(out, l.openPosition(signal.FromDirection(dir), bar))
		}
	}
	return out
}

// accrueFunding applies settlement payments when the bar lands exactly on a
// settlement instant. Only positions opened strictly before that instant
// accrue; payments use the entry swap price.
func (l *Ledger) accrueFunding(ctx context.Context, bar signal.Bar) {
	if !l.cfg.FundingEnabled || len(l.open) == 0 || l.funding == nil {
		return
	}
	// Prev is strictly-less, so query one second past the bar to observe an
	// event landing exactly on it.
	ev, err := l.funding.Prev(ctx, bar.Ts+1)
	if err != nil || float64(ev.Ts) != bar.Ts {
		return
	}
	for _, pos := range l.open {
		if pos.EntryTime >= bar.Ts {
			continue
		}
		payment := pos.EntrySwap * pos.Size * ev.Rate
		if pos.Side == signal.SideLong {
			payment = -payment
		}
		l.capital += payment
		l.totalFunding += payment
		pos.FundingPayments = append(pos.FundingPayments, FundingPayment{Ts: ev.Ts, Amount: payment})
	}
}

func (l *Ledger) directionOK(side signal.Side) bool {
	return l.direction == "" || l.direction == side
}

func (l *Ledger) openPosition(side signal.Side, bar signal.Bar) TradeRecord {
	size := (l.capital / float64(l.cfg.MaxPositions)) / math.Max(bar.SwapPrice, bar.SpotPrice)
	pos := &Position{
		ID:        uuid.NewString(),
		Side:      side,
		EntryTime: bar.Ts,
		EntrySwap: bar.SwapPrice,
		EntrySpot: bar.SpotPrice,
		Size:      size,
	}
	fee := (bar.SwapPrice + bar.SpotPrice) * size * l.cfg.FeeRate
	l.capital -= fee
	l.totalFee += fee
	l.open = append(l.open, pos)
	l.direction = side
	l.lastEntry = bar.Ts

	metrics.TradesTotal.WithLabelValues("open", string(side)).Inc()
	rec := TradeRecord{Ts: bar.Ts, Action: "open", Side: side, Size: size, SwapPrice: bar.SwapPrice, SpotPrice: bar.SpotPrice}
	l.trades = append(l.trades, rec)
	return rec
}

func (l *Ledger) close(pos *Position, ts, swapPrice, spotPrice float64) TradeRecord {
	pnl := pos.PnL(swapPrice, spotPrice)
	fee := pos.RoundTripFee(swapPrice, spotPrice, l.cfg.FeeRate)
	l.capital += pnl - fee
	l.totalPnL += pnl
	l.totalFee += fee
	l.tradeCount++
	if pnl > 0 {
		l.winCount++
	}

	for i, open := range l.open {
		if open == pos {
			l.open = append(l.open[:i], l.open[i+1:]...)
			break
		}
	}
	l.closed = append(l.closed, pos)
	if len(l.open) == 0 {
		l.direction = ""
	}

	metrics.TradesTotal.WithLabelValues("close", string(pos.Side)).Inc()
	rec := TradeRecord{Ts: ts, Action: "close", Side: pos.Side, Size: pos.Size, SwapPrice: swapPrice, SpotPrice: spotPrice}
	l.trades = append(l.trades, rec)
	return rec
}

// ForceClose liquidates every open position at the given prices,
// unconditionally. Used at end of day after the bar loop finishes.
func (l *Ledger) ForceClose(ts, swapPrice, spotPrice float64) []TradeRecord {
	var out []TradeRecord
	for _, pos := range append([]*Position(nil), l.open...) {
		out = append(out, l.close(pos, ts, swapPrice, spotPrice))
	}
	return out
}

// Capital returns the current account value.
func (l *Ledger) Capital() float64 { return l.capital }

// TotalPnL returns gross price PnL booked so far.
func (l *Ledger) TotalPnL() float64 { return l.totalPnL }

// TotalFee returns fees charged so far.
func (l *Ledger) TotalFee() float64 { return l.totalFee }

// TotalFunding returns net funding received (negative = paid).
func (l *Ledger) TotalFunding() float64 { return l.totalFunding }

// TradeCount returns the number of closed round trips.
func (l *Ledger) TradeCount() int { return l.tradeCount }

// WinCount returns the number of profitable round trips.
func (l *Ledger) WinCount() int { return l.winCount }

// OpenCount returns the number of currently open positions.
func (l *Ledger) OpenCount() int { return len(l.open) }

// OpenPositions returns a snapshot of the open set.
func (l *Ledger) OpenPositions() []*Position {
	return append([]*Position(nil), l.open...)
}

// ClosedPositions returns the append-only closed set.
func (l *Ledger) ClosedPositions() []*Position {
	return append([]*Position(nil), l.closed...)
}

// Trades returns the full day trade log in order.
func (l *Ledger) Trades() []TradeRecord {
	return append([]TradeRecord(nil), l.trades...)
}
