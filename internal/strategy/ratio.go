// Package strategy contains the entry/exit signal implementations driven by
// resampled swap/spot bars.
package strategy

import (
	"context"

	"github.com/HanshengGUO/backtester-v2/internal/funding"
	"github.com/HanshengGUO/backtester-v2/internal/signal"
)

const (
	// settlementPeriod is the funding settlement cadence in seconds (8h).
	settlementPeriod = 28800
	// nearWindow marks the tail of a settlement period: a timestamp whose
	// in-period offset exceeds this is "near settlement" (last ~800s).
	nearWindow = 28000
)

// FundingSource answers point queries for the upcoming settlement.
type FundingSource interface {
	Next(ctx context.Context, ts float64) (funding.Event, error)
}

// Params carries the six threshold pairs the ratio signal knows: ordinary,
// near-positive-rate, and near-negative-rate, each for long and short. All
// are swap/spot midprice ratios; defaults come from DefaultParams. Near a
// settlement only the favored direction's near thresholds are consulted, so
// the short near-negative and long near-positive pairs are configuration
// surface without an evaluation path.
type Params struct {
	ShortIn  float64
	ShortOut float64
	LongIn   float64
	LongOut  float64

	// Thresholds used near settlement when the predicted rate is positive
	// (favors shorts).
	ShortInNearPositive  float64
	ShortOutNearPositive float64
	LongInNearPositive   float64
	LongOutNearPositive  float64

	// Thresholds used near settlement when the predicted rate is negative
	// (favors longs).
	ShortInNearNegative  float64
	ShortOutNearNegative float64
	LongInNearNegative   float64
	LongOutNearNegative  float64
}

// DefaultParams returns the reference threshold set.
func DefaultParams() Params {
	return Params{
		ShortIn:  1.000758,
		ShortOut: 0.999999,
		LongIn:   0.999000,
		LongOut:  1.000001,

		ShortInNearPositive:  1.000500,
		ShortOutNearPositive: 0.999750,
		LongInNearPositive:   0.998750,
		LongOutNearPositive:  0.999750,

		ShortInNearNegative:  1.001000,
		ShortOutNearNegative: 1.000250,
		LongInNearNegative:   0.999250,
		LongOutNearNegative:  1.000250,
	}
}

// merged fills zero-valued fields from the defaults so partial configs work.
func (p Params) merged() Params {
	def := DefaultParams()
	fill := func(v, d float64) float64 {
		if v == 0 {
			return d
		}
		return v
	}
	return Params{
		ShortIn:              fill(p.ShortIn, def.ShortIn),
		ShortOut:             fill(p.ShortOut, def.ShortOut),
		LongIn:               fill(p.LongIn, def.LongIn),
		LongOut:              fill(p.LongOut, def.LongOut),
		ShortInNearPositive:  fill(p.ShortInNearPositive, def.ShortInNearPositive),
		ShortOutNearPositive: fill(p.ShortOutNearPositive, def.ShortOutNearPositive),
		LongInNearPositive:   fill(p.LongInNearPositive, def.LongInNearPositive),
		LongOutNearPositive:  fill(p.LongOutNearPositive, def.LongOutNearPositive),
		ShortInNearNegative:  fill(p.ShortInNearNegative, def.ShortInNearNegative),
		ShortOutNearNegative: fill(p.ShortOutNearNegative, def.ShortOutNearNegative),
		LongInNearNegative:   fill(p.LongInNearNegative, def.LongInNearNegative),
		LongOutNearNegative:  fill(p.LongOutNearNegative, def.LongOutNearNegative),
	}
}

// Ratio evaluates swap/spot midprice ratio thresholds, tightening them near
// funding settlements when the predicted rate's sign is known. It is
// stateless and safe to share across concurrently simulated days.
type Ratio struct {
	params  Params
	funding FundingSource
}

// NewRatio builds a ratio signaler. funding may be nil, in which case the
// ordinary thresholds always apply.
func NewRatio(params Params, funding FundingSource) *Ratio {
	return &Ratio{params: params.merged(), funding: funding}
}

// Name returns the identifier for the signal implementation.
func (r *Ratio) Name() string { return "Ratio" }

func nearSettlement(ts float64) bool {
	return int64(ts)%settlementPeriod > nearWindow
}

// Entry evaluates the latest bar for an entry. Near settlement with a known
// predicted rate only the favored direction is checked; otherwise the
// ordinary thresholds apply, short taking priority. An unavailable funding
// prediction falls back to the ordinary thresholds rather than failing.
func (r *Ratio) Entry(ctx context.Context, window []signal.Bar) signal.Direction {
	if len(window) == 0 {
		return signal.None
	}
	bar := window[len(window)-1]
	if bar.SpotPrice <= 0 || bar.SwapPrice <= 0 {
		return signal.None
	}
	ratio := bar.SwapPrice / bar.SpotPrice

	if nearSettlement(bar.Ts) && r.funding != nil {
		if next, err := r.funding.Next(ctx, bar.Ts); err == nil {
			if next.Rate > 0 {
				if ratio > r.params.ShortInNearPositive {
					return signal.Short
				}
			} else {
				if ratio < r.params.LongInNearNegative {
					return signal.Long
				}
			}
			return signal.None
		}
	}

	if ratio > r.params.ShortIn {
		return signal.Short
	}
	if ratio < r.params.LongIn {
		return signal.Long
	}
	return signal.None
}

// Exit reports whether the position should close on the latest bar. The
// settlement-adjusted threshold applies only when the predicted rate's sign
// matches the position's unfavorable case.
func (r *Ratio) Exit(ctx context.Context, window []signal.Bar, side signal.Side) bool {
	if len(window) == 0 {
		return false
	}
	bar := window[len(window)-1]
	if bar.SpotPrice <= 0 || bar.SwapPrice <= 0 {
		return false
	}
	ratio := bar.SwapPrice / bar.SpotPrice
	near := nearSettlement(bar.Ts)

	switch side {
	case signal.SideShort:
		threshold := r.params.ShortOut
		if near && r.funding != nil {
			if next, err := r.funding.Next(ctx, bar.Ts); err == nil && next.Rate > 0 {
				threshold = r.params.ShortOutNearPositive
			}
		}
		return ratio < threshold
	case signal.SideLong:
		threshold := r.params.LongOut
		if near && r.funding != nil {
			if next, err := r.funding.Next(ctx, bar.Ts); err == nil && next.Rate < 0 {
				threshold = r.params.LongOutNearNegative
			}
		}
		return ratio > threshold
	}
	return false
}
