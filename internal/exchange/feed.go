// Package exchange hosts live tick sources used by the recorder.
package exchange

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/HanshengGUO/backtester-v2/internal/marketdata"
)

const (
	// ProviderStub emits deterministic synthetic ticks (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderBinance streams best bid/ask updates from Binance public websockets.
	ProviderBinance = "binance"
)

// Event pairs a tick with the symbol it came from so the recorder can route
// swap and spot legs to separate files.
type Event struct {
	Symbol string
	Tick   marketdata.Tick
}

// Feed represents a pluggable market data stream implementation.
type Feed struct {
	provider string
	symbols  []string
	log      zerolog.Logger
	wsURL    string
	mu       sync.RWMutex
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const defaultBinanceWSURL = "wss://stream.binance.com:9443"

// WithWebsocketURL overrides the websocket endpoint, mainly for tests.
func WithWebsocketURL(url string) Option {
	return func(f *Feed) {
		if url != "" {
			f.wsURL = strings.TrimSuffix(url, "/")
		}
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider: strings.ToLower(provider),
		log:      log,
		wsURL:    defaultBinanceWSURL,
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetSymbols replaces the tracked symbol list (deduplicated, sorted for determinism).
func (f *Feed) SetSymbols(symbols []string) {
	f.setSymbols(symbols)
}

func (f *Feed) setSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

func (f *Feed) snapshotSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Run pushes events onto the provided channel until the context is canceled.
func (f *Feed) Run(ctx context.Context, out chan<- Event) error {
	switch f.provider {
	case ProviderBinance:
		return f.runBinance(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

func (f *Feed) runStub(ctx context.Context, out chan<- Event) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var px float64 = 30000.0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			px += 0.5
			for _, s := range f.snapshotSymbols() {
				ev := Event{
					Symbol: s,
					Tick: marketdata.Tick{
						Ts:   float64(ts.UnixMilli()) / 1000,
						Kind: marketdata.KindFast,
						Bids: []marketdata.Level{{Price: px - 0.05, Size: 1}},
						Asks: []marketdata.Level{{Price: px + 0.05, Size: 1}},
					},
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}
