package integration

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/HanshengGUO/backtester-v2/internal/backtest"
	"github.com/HanshengGUO/backtester-v2/internal/ledger"
	"github.com/HanshengGUO/backtester-v2/internal/marketdata"
	"github.com/HanshengGUO/backtester-v2/internal/risk"
	"github.com/HanshengGUO/backtester-v2/internal/strategy"
)

func writeDay(t *testing.T, dir, date string, ticks []marketdata.Tick) {
	t.Helper()
	w, err := marketdata.NewJSONLWriter(filepath.Join(dir, date+".jsonl"))
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	defer w.Close()
	for _, tk := range ticks {
		if err := w.Append(tk); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func fastTick(ts, mid float64) marketdata.Tick {
	return marketdata.Tick{
		Ts:   ts,
		Kind: marketdata.KindFast,
		Bids: []marketdata.Level{{Price: mid - 0.5, Size: 1}},
		Asks: []marketdata.Level{{Price: mid + 0.5, Size: 1}},
	}
}

// TestRecordedDayRoundTrip replays a synthetic recorded day through the file
// provider, synchronizer, ratio signal, and ledger, end to end: an elevated
// swap/spot ratio opens a short and the reversion closes it.
func TestRecordedDayRoundTrip(t *testing.T) {
	const date = "2026-08-01"
	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	base := float64(day.Unix()) + 3600 // well clear of any settlement window

	swapMids := []float64{30000, 30000, 30000, 30000, 30000, 30100, 30100, 30100, 30100, 29950, 29950, 29950, 29950}
	var swap, spot []marketdata.Tick
	for i, mid := range swapMids {
		ts := base + float64(i)*10
		swap = append(swap, fastTick(ts, mid))
		spot = append(spot, fastTick(ts+0.5, 30000))
	}

	tmp := t.TempDir()
	swapDir := filepath.Join(tmp, "swap")
	spotDir := filepath.Join(tmp, "spot")
	writeDay(t, swapDir, date, swap)
	writeDay(t, spotDir, date, spot)

	led, err := ledger.New(ledger.Config{
		Capital:      1_000_000,
		MaxPositions: 4,
		FeeRate:      0.0002,
		Limits:       risk.Limits{MaxPositions: 4, MinEntryInterval: 3600, SettlementGuard: 800},
	}, strategy.NewRatio(strategy.Params{}, nil), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}

	runner := &backtest.DayRunner{
		Provider:    &backtest.FileProvider{SwapDir: swapDir, SpotDir: spotDir},
		Kind:        marketdata.KindFast,
		Interval:    1.0,
		WindowSize:  3,
		DepthLevels: 1,
		Loc:         time.UTC,
		Log:         zerolog.Nop(),
	}

	res, err := runner.Run(context.Background(), date, led)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.TradeCount != 1 {
		t.Fatalf("expected exactly one round trip, got %d", res.TradeCount)
	}
	if len(res.Trades) != 2 {
		t.Fatalf("expected open and close, got %+v", res.Trades)
	}
	openRec, closeRec := res.Trades[0], res.Trades[1]
	if openRec.Action != "open" || string(openRec.Side) != "short" {
		t.Fatalf("elevated ratio must open a short, got %+v", openRec)
	}
	if closeRec.Action != "close" || closeRec.Ts <= openRec.Ts {
		t.Fatalf("reversion must close after the open, got %+v", closeRec)
	}
	if led.OpenCount() != 0 {
		t.Fatalf("day must end flat")
	}
	if res.Funding != 0 {
		t.Fatalf("no funding configured, got %.6f", res.Funding)
	}
	// Capital accounting ties out: day delta equals gross pnl minus fees.
	if math.Abs(res.DayPnL-(res.GrossPnL-res.Fees)) > 1e-6 {
		t.Fatalf("accounting mismatch: day=%.6f gross=%.6f fees=%.6f", res.DayPnL, res.GrossPnL, res.Fees)
	}
}
