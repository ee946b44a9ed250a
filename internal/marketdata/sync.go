package marketdata

import (
	"math"

	"github.com/HanshengGUO/backtester-v2/internal/metrics"
)

// Pair is one time-aligned swap/spot observation. Swap holds the most recent
// swap tick with Swap.Ts <= Spot.Ts at the moment the pair was produced; the
// pair timestamp is the spot tick's.
type Pair struct {
	Ts   float64
	Swap Tick
	Spot Tick
}

// sideReader walks an ordered list of per-day file segments for one leg,
// rolling to the next segment transparently and stopping at the exclusive
// window end. Ticks whose kind does not match the expected kind are skipped.
type sideReader struct {
	segments []Source
	idx      int
	kind     Kind
	end      float64
	leg      string
}

func (r *sideReader) peek() float64 {
	for r.idx < len(r.segments) {
		ts := r.segments[r.idx].Peek()
		if !math.IsInf(ts, 1) {
			return ts
		}
		r.idx++
	}
	return math.Inf(1)
}

// next returns the next in-window tick of the expected kind, or false when
// the leg is exhausted or the window end is reached. Exhaustion is permanent.
func (r *sideReader) next() (Tick, bool) {
	for {
		if math.IsInf(r.peek(), 1) {
			return Tick{}, false
		}
		t, ok := r.segments[r.idx].Read()
		if !ok {
			continue
		}
		if t.Kind != r.kind {
			continue
		}
		if t.Ts >= r.end {
			return Tick{}, false
		}
		metrics.TicksTotal.WithLabelValues(r.leg).Inc()
		return t, true
	}
}

// seek discards ticks strictly before start, rolling across segments.
func (r *sideReader) seek(start float64) {
	for {
		ts := r.peek()
		if math.IsInf(ts, 1) || ts >= start {
			return
		}
		r.segments[r.idx].Read()
	}
}

// Synchronizer merges a swap leg and a spot leg into a hold-last-value
// aligned pair stream over a [start, end) window.
type Synchronizer struct {
	swap *sideReader
	spot *sideReader
	cur  *Tick // buffered swap tick not yet matched to a spot tick
	held *Tick // most recent swap tick already known to precede the spot leg
	done bool
}

// NewSynchronizer seeks both legs to the window start and primes the swap
// side. Segments must be ordered by time within each leg.
func NewSynchronizer(kind Kind, swapSegs, spotSegs []Source, start, end float64) *Synchronizer {
	s := &Synchronizer{
		swap: &sideReader{segments: swapSegs, kind: kind, end: end, leg: "swap"},
		spot: &sideReader{segments: spotSegs, kind: kind, end: end, leg: "spot"},
	}
	s.swap.seek(start)
	s.spot.seek(start)
	if t, ok := s.swap.next(); ok {
		s.cur = &t
	}
	return s
}

// Advance produces the next aligned pair, or false at end of stream.
// Termination is permanent.
func (s *Synchronizer) Advance() (Pair, bool) {
	if s.done {
		return Pair{}, false
	}
	for {
		spot, ok := s.spot.next()
		if !ok {
			s.done = true
			return Pair{}, false
		}
		// Fold every buffered swap tick at or before the spot timestamp into
		// the held candidate; only the most recent qualifying tick survives.
		for s.cur != nil && s.cur.Ts <= spot.Ts {
			held := *s.cur
			s.held = &held
			if t, ok := s.swap.next(); ok {
				s.cur = &t
			} else {
				s.cur = nil
			}
		}
		// Spot arrived before any qualifying swap tick: skip it.
		if s.held == nil {
			continue
		}
		return Pair{Ts: spot.Ts, Swap: *s.held, Spot: spot}, true
	}
}
