// Package marketdata provides peekable tick sources, the swap/spot stream
// synchronizer, and fixed-interval resampling over recorded tick files.
package marketdata

import "math"

// Kind distinguishes book-depth ticks from best-bid/ask-only ticks. The two
// are carried by the same Tick type so the synchronizer and resampler work on
// either without duplicated merge logic.
type Kind int

const (
	// KindFast carries only the best bid and ask.
	KindFast Kind = iota
	// KindDepth carries multiple book levels per side.
	KindDepth
)

// String returns the config-facing name of the kind.
func (k Kind) String() string {
	if k == KindDepth {
		return "depth"
	}
	return "fast"
}

// Level is one price level of an order book side.
type Level struct {
	Price float64 `json:"p"`
	Size  float64 `json:"s"`
}

// Tick is a single immutable book observation from one venue. Bids and asks
// are ordered best-first; a KindFast tick holds at most one level per side.
type Tick struct {
	Ts   float64 `json:"ts"` // seconds since epoch
	Kind Kind    `json:"k"`
	Bids []Level `json:"b,omitempty"`
	Asks []Level `json:"a,omitempty"`
}

// BestBid returns the top bid level, reporting false when the side is empty.
func (t Tick) BestBid() (Level, bool) {
	if len(t.Bids) == 0 {
		return Level{}, false
	}
	return t.Bids[0], true
}

// BestAsk returns the top ask level, reporting false when the side is empty.
func (t Tick) BestAsk() (Level, bool) {
	if len(t.Asks) == 0 {
		return Level{}, false
	}
	return t.Asks[0], true
}

// Mid returns the midpoint of the best bid and ask. ok is false when either
// side is missing or non-positive, so a zero price never reaches ratio math.
func (t Tick) Mid() (float64, bool) {
	bid, okB := t.BestBid()
	ask, okA := t.BestAsk()
	if !okB || !okA || bid.Price <= 0 || ask.Price <= 0 {
		return math.NaN(), false
	}
	return (bid.Price + ask.Price) / 2, true
}

// Source is a sequential, peekable reader over one venue's ticks for one
// calendar file. Peek reports +Inf once the source is exhausted.
type Source interface {
	Peek() float64
	Read() (Tick, bool)
	Close() error
}

// SliceSource serves ticks from memory. Used by tests and by the recorder's
// replay checks.
type SliceSource struct {
	ticks []Tick
	pos   int
}

// NewSliceSource wraps an already-ordered tick slice.
func NewSliceSource(ticks ...Tick) *SliceSource {
	return &SliceSource{ticks: ticks}
}

func (s *SliceSource) Peek() float64 {
	if s.pos >= len(s.ticks) {
		return math.Inf(1)
	}
	return s.ticks[s.pos].Ts
}

func (s *SliceSource) Read() (Tick, bool) {
	if s.pos >= len(s.ticks) {
		return Tick{}, false
	}
	t := s.ticks[s.pos]
	s.pos++
	return t, true
}

func (s *SliceSource) Close() error { return nil }
