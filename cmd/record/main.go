// Binary record captures live best bid/ask ticks into per-day JSONL files
// that the backtest binary can replay.
package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/HanshengGUO/backtester-v2/internal/exchange"
	"github.com/HanshengGUO/backtester-v2/internal/marketdata"
	"github.com/HanshengGUO/backtester-v2/internal/util"
)

func main() {
	_ = godotenv.Load() // best-effort

	provider := flag.String("provider", exchange.ProviderBinance, "tick source (binance or stub)")
	symbols := flag.String("symbols", "BTCUSDT", "comma-separated symbols to record")
	outDir := flag.String("out", "data", "output directory; one subdirectory per symbol")
	logLevel := flag.String("log-level", "info", "zerolog level")
	flag.Parse()

	log := util.NewLogger(*logLevel)

	syms := splitSymbols(*symbols)
	if len(syms) == 0 {
		log.Fatal().Msg("no symbols to record")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	feed := exchange.NewFeed(*provider, syms, log)
	events := make(chan exchange.Event, 1024)

	go func() {
		if err := feed.Run(ctx, events); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("feed stopped")
			cancel()
		}
	}()

	rec := newRecorder(*outDir, log)
	defer rec.closeAll()

	log.Info().Strs("symbols", syms).Str("provider", *provider).Msg("recorder started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return
		case ev := <-events:
			if err := rec.append(ev); err != nil {
				log.Warn().Err(err).Str("symbol", ev.Symbol).Msg("append tick failed")
			}
		}
	}
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}

// recorder keeps one open writer per symbol and rotates it when the tick
// timestamp crosses a UTC day boundary.
type recorder struct {
	dir     string
	log     zerolog.Logger
	writers map[string]*dayWriter
}

type dayWriter struct {
	date string
	w    *marketdata.JSONLWriter
}

func newRecorder(dir string, log zerolog.Logger) *recorder {
	return &recorder{dir: dir, log: log, writers: make(map[string]*dayWriter)}
}

func (r *recorder) append(ev exchange.Event) error {
	date := time.Unix(int64(ev.Tick.Ts), 0).UTC().Format(marketdata.DateLayout)

	dw := r.writers[ev.Symbol]
	if dw == nil || dw.date != date {
		if dw != nil {
			if err := dw.w.Close(); err != nil {
				r.log.Warn().Err(err).Str("symbol", ev.Symbol).Msg("close day file failed")
			}
		}
		symDir := filepath.Join(r.dir, ev.Symbol)
		if err := os.MkdirAll(symDir, 0o755); err != nil {
			return err
		}
		w, err := marketdata.NewJSONLWriter(filepath.Join(symDir, date+".jsonl"))
		if err != nil {
			return err
		}
		dw = &dayWriter{date: date, w: w}
		r.writers[ev.Symbol] = dw
		r.log.Info().Str("symbol", ev.Symbol).Str("date", date).Msg("rotated day file")
	}
	return dw.w.Append(ev.Tick)
}

func (r *recorder) closeAll() {
	for sym, dw := range r.writers {
		if err := dw.w.Close(); err != nil {
			r.log.Warn().Err(err).Str("symbol", sym).Msg("close day file failed")
		}
	}
}
