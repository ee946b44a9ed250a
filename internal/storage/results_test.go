package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/HanshengGUO/backtester-v2/internal/backtest"
	"github.com/HanshengGUO/backtester-v2/internal/ledger"
	"github.com/HanshengGUO/backtester-v2/internal/signal"
)

func testStore(t *testing.T) *ResultStore {
	t.Helper()
	store, err := NewResultStore(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleDay(date string) backtest.DayResult {
	return backtest.DayResult{
		Date:          date,
		DayPnL:        123.45,
		GrossPnL:      150,
		Fees:          20,
		Funding:       6.55,
		TradeCount:    2,
		WinCount:      1,
		CumulativePnL: 150,
		EndingCapital: 1_000_123.45,
		WinRateSoFar:  0.5,
		Trades: []ledger.TradeRecord{
			{Ts: 1_000_000, Action: "open", Side: signal.SideShort, Size: 8.3, SwapPrice: 30100, SpotPrice: 30000},
			{Ts: 1_004_000, Action: "close", Side: signal.SideShort, Size: 8.3, SwapPrice: 30000, SpotPrice: 30000},
		},
	}
}

func TestSaveAndLoadDays(t *testing.T) {
	store := testStore(t)

	if err := store.SaveDay(sampleDay("2026-08-02")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveDay(sampleDay("2026-08-01")); err != nil {
		t.Fatalf("save: %v", err)
	}

	days, err := store.LoadDays(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(days))
	}
	if days[0].Date != "2026-08-01" || days[1].Date != "2026-08-02" {
		t.Fatalf("days must load in date order, got %s %s", days[0].Date, days[1].Date)
	}

	got := days[0]
	if got.DayPnL != 123.45 || got.TradeCount != 2 || got.WinRateSoFar != 0.5 {
		t.Fatalf("summary fields lost: %+v", got)
	}
	if len(got.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(got.Trades))
	}
	if got.Trades[0].Action != "open" || got.Trades[0].Side != signal.SideShort || got.Trades[0].SwapPrice != 30100 {
		t.Fatalf("trade fields lost: %+v", got.Trades[0])
	}
}

func TestSaveDayUpsertsAndReplacesTrades(t *testing.T) {
	store := testStore(t)

	if err := store.SaveDay(sampleDay("2026-08-01")); err != nil {
		t.Fatalf("save: %v", err)
	}

	updated := sampleDay("2026-08-01")
	updated.DayPnL = -7
	updated.Trades = updated.Trades[:1]
	if err := store.SaveDay(updated); err != nil {
		t.Fatalf("resave: %v", err)
	}

	days, err := store.LoadDays(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("rerun must overwrite, not duplicate: %d rows", len(days))
	}
	if days[0].DayPnL != -7 || len(days[0].Trades) != 1 {
		t.Fatalf("rerun data not replaced: %+v", days[0])
	}
}

func TestSaveFailedDay(t *testing.T) {
	store := testStore(t)

	if err := store.SaveDay(backtest.DayResult{Date: "2026-08-01", Failed: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	days, err := store.LoadDays(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(days) != 1 || !days[0].Failed {
		t.Fatalf("failed flag lost: %+v", days)
	}
}

func TestExportJSON(t *testing.T) {
	store := testStore(t)
	if err := store.SaveDay(sampleDay("2026-08-01")); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := store.ExportJSON(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected JSON output")
	}
}
