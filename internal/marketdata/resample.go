package marketdata

import (
	"math"

	"github.com/HanshengGUO/backtester-v2/internal/metrics"
)

// Resampler thins an aligned pair stream to roughly one pair per fixed
// wall-clock interval. The first pair passes through verbatim and becomes the
// emission baseline; afterwards pairs are dropped until one reaches baseline
// plus interval, which is emitted and becomes the new baseline.
type Resampler struct {
	sync     *Synchronizer
	interval float64 // seconds
	last     float64
	primed   bool
}

// NewResampler wraps a synchronizer with an emission interval in seconds.
func NewResampler(sync *Synchronizer, interval float64) *Resampler {
	return &Resampler{sync: sync, interval: interval}
}

// Advance returns the next resampled pair, or false at end of stream.
func (r *Resampler) Advance() (Pair, bool) {
	if !r.primed {
		p, ok := r.sync.Advance()
		if !ok {
			return Pair{}, false
		}
		r.primed = true
		r.last = p.Ts
		metrics.BarsTotal.Inc()
		return p, true
	}
	target := r.last + r.interval
	for {
		p, ok := r.sync.Advance()
		if !ok {
			return Pair{}, false
		}
		if p.Ts >= target {
			r.last = p.Ts
			metrics.BarsTotal.Inc()
			return p, true
		}
	}
}

// Frame is one drained resampled observation with k levels of book depth per
// side. Missing depth levels are padded with NaN, never zero, so midprice and
// imbalance math downstream cannot silently absorb fabricated liquidity.
type Frame struct {
	Ts       float64
	SwapBids []Level
	SwapAsks []Level
	SpotBids []Level
	SpotAsks []Level
	SwapMid  float64 // NaN when the swap book is unusable
	SpotMid  float64 // NaN when the spot book is unusable
}

// Drain consumes the rest of the day into an ordered frame sequence,
// retaining k levels of depth per side.
func (r *Resampler) Drain(k int) []Frame {
	if k < 1 {
		k = 1
	}
	var frames []Frame
	for {
		p, ok := r.Advance()
		if !ok {
			return frames
		}
		swapMid, _ := p.Swap.Mid()
		spotMid, _ := p.Spot.Mid()
		frames = append(frames, Frame{
			Ts:       p.Ts,
			SwapBids: padLevels(p.Swap.Bids, k),
			SwapAsks: padLevels(p.Swap.Asks, k),
			SpotBids: padLevels(p.Spot.Bids, k),
			SpotAsks: padLevels(p.Spot.Asks, k),
			SwapMid:  swapMid,
			SpotMid:  spotMid,
		})
	}
}

func padLevels(levels []Level, k int) []Level {
	out := make([]Level, k)
	for i := range out {
		if i < len(levels) {
			out[i] = levels[i]
		} else {
			out[i] = Level{Price: math.NaN(), Size: math.NaN()}
		}
	}
	return out
}
