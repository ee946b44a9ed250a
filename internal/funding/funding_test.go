package funding

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeFetcher serves a fixed event set and counts fetch calls.
type fakeFetcher struct {
	events []Event
	calls  int64
	err    error
}

func (f *fakeFetcher) Fetch(ctx context.Context, instrument string, start, end time.Time) ([]Event, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	var out []Event
	for _, ev := range f.events {
		t := time.Unix(ev.Ts, 0)
		if t.After(start) && !t.After(end) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// day boundary helpers anchored on a known UTC date.
var (
	day0 = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Unix()
	// OKX-style settlements at 00:00, 08:00, 16:00 UTC.
	settlements = []Event{
		{Ts: day0, Rate: 0.0001},
		{Ts: day0 + 8*3600, Rate: 0.0002},
		{Ts: day0 + 16*3600, Rate: -0.0001},
		{Ts: day0 + 24*3600, Rate: 0.0003}, // next midnight
	}
)

func newTestIndex(f Fetcher, opts ...Option) *Index {
	return NewIndex("okx", "BTC-USDT-SWAP", f, time.UTC, zerolog.Nop(), opts...)
}

func TestNextStrictlyAfter(t *testing.T) {
	ix := newTestIndex(&fakeFetcher{events: settlements})
	ctx := context.Background()

	ev, err := ix.Next(ctx, float64(day0+8*3600))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Ts != day0+16*3600 {
		t.Fatalf("next must be strictly after query, got ts %d", ev.Ts)
	}

	ev, err = ix.Next(ctx, float64(day0+8*3600-1))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Ts != day0+8*3600 || ev.Rate != 0.0002 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestPrevStrictlyBefore(t *testing.T) {
	ix := newTestIndex(&fakeFetcher{events: settlements})
	ctx := context.Background()

	ev, err := ix.Prev(ctx, float64(day0+8*3600))
	if err != nil {
		t.Fatalf("prev: %v", err)
	}
	if ev.Ts != day0 {
		t.Fatalf("prev must be strictly before query, got ts %d", ev.Ts)
	}

	// One second past a settlement resolves to that settlement.
	ev, err = ix.Prev(ctx, float64(day0+8*3600+1))
	if err != nil {
		t.Fatalf("prev: %v", err)
	}
	if ev.Ts != day0+8*3600 {
		t.Fatalf("expected settlement at +8h, got %d", ev.Ts)
	}
}

func TestMillisecondTimestampsNormalized(t *testing.T) {
	ix := newTestIndex(&fakeFetcher{events: settlements})

	ev, err := ix.Next(context.Background(), float64(day0)*1000+500)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Ts != day0+8*3600 {
		t.Fatalf("ms query must behave like seconds, got %d", ev.Ts)
	}
}

func TestNextCrossesDayBoundary(t *testing.T) {
	// Only event lives two days after the query.
	far := []Event{{Ts: day0 + 2*24*3600 + 8*3600, Rate: 0.0001}}
	ix := newTestIndex(&fakeFetcher{events: far})

	ev, err := ix.Next(context.Background(), float64(day0+20*3600))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Ts != far[0].Ts {
		t.Fatalf("expected cross-day event, got %d", ev.Ts)
	}
}

func TestLookaheadBoundReturnsSentinel(t *testing.T) {
	ix := newTestIndex(&fakeFetcher{}, WithLookahead(2))

	_, err := ix.Next(context.Background(), float64(day0))
	if !errors.Is(err, ErrNoFundingData) {
		t.Fatalf("expected ErrNoFundingData, got %v", err)
	}
	_, err = ix.Prev(context.Background(), float64(day0))
	if !errors.Is(err, ErrNoFundingData) {
		t.Fatalf("expected ErrNoFundingData, got %v", err)
	}
}

func TestDayFetchedOnceThenServedFromMemory(t *testing.T) {
	f := &fakeFetcher{events: settlements}
	ix := newTestIndex(f)
	ctx := context.Background()

	if _, err := ix.Next(ctx, float64(day0+3600)); err != nil {
		t.Fatalf("next: %v", err)
	}
	first := atomic.LoadInt64(&f.calls)
	if first != 2 {
		// One fetch for the day window, one for the midnight boundary.
		t.Fatalf("expected 2 fetches on cold day, got %d", first)
	}
	if _, err := ix.Prev(ctx, float64(day0+10*3600)); err != nil {
		t.Fatalf("prev: %v", err)
	}
	if got := atomic.LoadInt64(&f.calls); got != first {
		t.Fatalf("warm day must not refetch: %d -> %d", first, got)
	}
}

func TestConcurrentColdQueriesShareOneFetch(t *testing.T) {
	f := &fakeFetcher{events: settlements}
	ix := newTestIndex(f)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ix.Next(context.Background(), float64(day0+3600)); err != nil {
				t.Errorf("next: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&f.calls); got != 2 {
		t.Fatalf("expected single shared load (2 fetches), got %d", got)
	}
}

func TestFileCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cache := NewFileCache(dir, zerolog.Nop())

	rates := map[int64]float64{day0: 0.0001, day0 + 8*3600: -0.0002}
	cache.Store("okx", "2026-08-01", rates)

	got, ok := cache.Load("okx", "2026-08-01")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if len(got) != 2 || got[day0] != 0.0001 || got[day0+8*3600] != -0.0002 {
		t.Fatalf("unexpected cached rates %v", got)
	}
}

func TestFileCacheCorruptFileIsMiss(t *testing.T) {
	dir := t.TempDir()
	cache := NewFileCache(dir, zerolog.Nop())

	path := filepath.Join(dir, "okx", "2026-08-01.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{garbage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, ok := cache.Load("okx", "2026-08-01"); ok {
		t.Fatalf("corrupt file must be a miss")
	}
}

func TestIndexUsesFileCache(t *testing.T) {
	dir := t.TempDir()
	cache := NewFileCache(dir, zerolog.Nop())

	f := &fakeFetcher{events: settlements}
	ix := newTestIndex(f, WithFileCache(cache))
	if _, err := ix.Next(context.Background(), float64(day0+3600)); err != nil {
		t.Fatalf("next: %v", err)
	}
	fetched := atomic.LoadInt64(&f.calls)

	// A fresh index with the same cache dir must answer without fetching.
	f2 := &fakeFetcher{events: settlements}
	ix2 := newTestIndex(f2, WithFileCache(cache))
	if _, err := ix2.Next(context.Background(), float64(day0+3600)); err != nil {
		t.Fatalf("next from cache: %v", err)
	}
	if atomic.LoadInt64(&f2.calls) != 0 {
		t.Fatalf("expected zero fetches on cached day (first run used %d)", fetched)
	}
}

func TestFetcherErrorPropagates(t *testing.T) {
	wantErr := errors.New("upstream down")
	ix := newTestIndex(&fakeFetcher{err: wantErr})

	_, err := ix.Next(context.Background(), float64(day0))
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped upstream error, got %v", err)
	}
}
