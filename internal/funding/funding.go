// Package funding indexes perpetual-swap funding settlements by instrument
// and calendar day, answering next/previous-event queries against a cached,
// read-mostly store that is safe to share across concurrently simulated days.
package funding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/HanshengGUO/backtester-v2/internal/marketdata"
	"github.com/HanshengGUO/backtester-v2/internal/metrics"
)

// ErrNoFundingData reports that no settlement event exists within the
// configured cross-day search window. It bounds the day-by-day fallback so a
// provider outage surfaces instead of looping forever.
var ErrNoFundingData = errors.New("funding: no settlement event within search window")

// Event is one funding settlement: the instant it lands and its signed rate.
type Event struct {
	Ts   int64   // seconds since epoch
	Rate float64 // signed fraction, e.g. 0.0001
}

// Fetcher retrieves settlement events from an upstream provider. The window
// is left-open/right-closed: events with start < ts <= end are returned.
type Fetcher interface {
	Fetch(ctx context.Context, instrument string, start, end time.Time) ([]Event, error)
}

// DefaultLookaheadDays bounds how far Next/Prev search past the query date.
const DefaultLookaheadDays = 7

// Index caches one immutable event set per calendar day. A cold day is
// fetched once (single-flight across callers), persisted, then served from
// memory for the life of the process.
type Index struct {
	exchange   string
	instrument string
	fetcher    Fetcher
	cache      *FileCache
	loc        *time.Location
	lookahead  int
	log        zerolog.Logger

	mu   sync.RWMutex
	days map[string]map[int64]float64
	sf   singleflight.Group
}

// Option configures Index construction.
type Option func(*Index)

// WithLookahead overrides the cross-day search bound.
func WithLookahead(days int) Option {
	return func(ix *Index) {
		if days > 0 {
			ix.lookahead = days
		}
	}
}

// WithFileCache attaches an on-disk day cache.
func WithFileCache(cache *FileCache) Option {
	return func(ix *Index) { ix.cache = cache }
}

// NewIndex builds an index for one (exchange, instrument) pair. The location
// decides which calendar day a timestamp belongs to; it is injected rather
// than taken from process-global state.
func NewIndex(exchange, instrument string, fetcher Fetcher, loc *time.Location, log zerolog.Logger, opts ...Option) *Index {
	if loc == nil {
		loc = time.UTC
	}
	ix := &Index{
		exchange:   exchange,
		instrument: instrument,
		fetcher:    fetcher,
		loc:        loc,
		lookahead:  DefaultLookaheadDays,
		log:        log,
		days:       make(map[string]map[int64]float64),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Next returns the earliest settlement strictly after ts, searching forward
// day by day up to the lookahead bound. ts may be in seconds or milliseconds.
func (ix *Index) Next(ctx context.Context, ts float64) (Event, error) {
	ts = normalize(ts)
	day := time.Unix(int64(ts), 0).In(ix.loc)
	for i := 0; i <= ix.lookahead; i++ {
		date := day.AddDate(0, 0, i).Format(marketdata.DateLayout)
		rates, err := ix.dayRates(ctx, date)
		if err != nil {
			return Event{}, err
		}
		if ev, ok := scan(rates, func(cand, best int64) bool {
			return float64(cand) > ts && (best == 0 || cand < best)
		}); ok {
			return ev, nil
		}
	}
	return Event{}, ErrNoFundingData
}

// Prev returns the latest settlement strictly before ts, searching backward
// day by day up to the lookahead bound.
func (ix *Index) Prev(ctx context.Context, ts float64) (Event, error) {
	ts = normalize(ts)
	day := time.Unix(int64(ts), 0).In(ix.loc)
	for i := 0; i <= ix.lookahead; i++ {
		date := day.AddDate(0, 0, -i).Format(marketdata.DateLayout)
		rates, err := ix.dayRates(ctx, date)
		if err != nil {
			return Event{}, err
		}
		if ev, ok := scan(rates, func(cand, best int64) bool {
			return float64(cand) < ts && (best == 0 || cand > best)
		}); ok {
			return ev, nil
		}
	}
	return Event{}, ErrNoFundingData
}

// scan linear-searches a day's events; daily cardinality is ~3, so this is
// behaviorally identical to an ordered search.
func scan(rates map[int64]float64, better func(cand, best int64) bool) (Event, bool) {
	var best int64
	var rate float64
	for ts, r := range rates {
		if better(ts, best) {
			best = ts
			rate = r
		}
	}
	if best == 0 {
		return Event{}, false
	}
	return Event{Ts: best, Rate: rate}, true
}

// dayRates returns the immutable event set for one calendar day, fetching and
// persisting it on first use. Concurrent cold-key callers share one fetch.
func (ix *Index) dayRates(ctx context.Context, date string) (map[int64]float64, error) {
	ix.mu.RLock()
	rates, ok := ix.days[date]
	ix.mu.RUnlock()
	if ok {
		metrics.FundingCacheHitsTotal.Inc()
		return rates, nil
	}

	v, err, _ := ix.sf.Do(date, func() (interface{}, error) {
		ix.mu.RLock()
		rates, ok := ix.days[date]
		ix.mu.RUnlock()
		if ok {
			return rates, nil
		}
		rates, err := ix.loadDay(ctx, date)
		if err != nil {
			return nil, err
		}
		ix.mu.Lock()
		ix.days[date] = rates
		ix.mu.Unlock()
		return rates, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[int64]float64), nil
}

func (ix *Index) loadDay(ctx context.Context, date string) (map[int64]float64, error) {
	if ix.cache != nil {
		if rates, ok := ix.cache.Load(ix.exchange, date); ok {
			metrics.FundingCacheHitsTotal.Inc()
			return rates, nil
		}
	}

	day, err := time.ParseInLocation(marketdata.DateLayout, date, ix.loc)
	if err != nil {
		return nil, fmt.Errorf("funding: bad date %q: %w", date, err)
	}
	endOfDay := day.Add(24*time.Hour - time.Second) // 23:59:59

	metrics.FundingFetchesTotal.Inc()
	events, err := ix.fetcher.Fetch(ctx, ix.instrument, day, endOfDay)
	if err != nil {
		return nil, fmt.Errorf("funding: fetch %s %s: %w", ix.instrument, date, err)
	}
	// The settlement landing exactly at next midnight is attributed to this
	// day by the exchange; fetch the boundary instant separately.
	boundary, err := ix.fetcher.Fetch(ctx, ix.instrument, endOfDay, day.Add(24*time.Hour+time.Second))
	if err != nil {
		return nil, fmt.Errorf("funding: fetch %s %s boundary: %w", ix.instrument, date, err)
	}

	rates := make(map[int64]float64, len(events)+len(boundary))
	for _, ev := range events {
		rates[ev.Ts] = ev.Rate
	}
	for _, ev := range boundary {
		rates[ev.Ts] = ev.Rate
	}
	if ix.cache != nil {
		ix.cache.Store(ix.exchange, date, rates)
	}
	return rates, nil
}

// normalize divides millisecond timestamps down to seconds.
func normalize(ts float64) float64 {
	if ts > 1e12 {
		return ts / 1000
	}
	return ts
}
