package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/HanshengGUO/backtester-v2/internal/backtest"
	"github.com/HanshengGUO/backtester-v2/internal/ledger"
	"github.com/HanshengGUO/backtester-v2/internal/signal"
)

// ResultStore persists per-day backtest summaries and their trade logs in
// SQLite so runs can be inspected and compared after the fact.
type ResultStore struct {
	db *sql.DB
}

// NewResultStore opens (or creates) the results database with WAL mode
// enabled and the schema in place.
func NewResultStore(dbPath string) (*ResultStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS day_results (
			date TEXT PRIMARY KEY,
			day_pnl REAL NOT NULL,
			gross_pnl REAL NOT NULL,
			fees REAL NOT NULL,
			funding REAL NOT NULL,
			trade_count INTEGER NOT NULL,
			win_count INTEGER NOT NULL,
			cumulative_pnl REAL NOT NULL,
			ending_capital REAL NOT NULL,
			win_rate_so_far REAL NOT NULL,
			failed INTEGER NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create day_results table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL REFERENCES day_results(date) ON DELETE CASCADE,
			ts REAL NOT NULL,
			action TEXT NOT NULL,
			side TEXT NOT NULL,
			size REAL NOT NULL,
			swap_price REAL NOT NULL,
			spot_price REAL NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create trades table: %w", err)
	}

	return &ResultStore{db: db}, nil
}

// SaveDay upserts one day's summary and replaces its trade log. Re-running a
// date overwrites the prior record rather than duplicating it.
func (s *ResultStore) SaveDay(res backtest.DayResult) error {
	return s.SaveDayContext(context.Background(), res)
}

// SaveDayContext is SaveDay with caller-controlled cancellation.
func (s *ResultStore) SaveDayContext(ctx context.Context, res backtest.DayResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	failed := 0
	if res.Failed {
		failed = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO day_results
			(date, day_pnl, gross_pnl, fees, funding, trade_count, win_count,
			 cumulative_pnl, ending_capital, win_rate_so_far, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			day_pnl=excluded.day_pnl,
			gross_pnl=excluded.gross_pnl,
			fees=excluded.fees,
			funding=excluded.funding,
			trade_count=excluded.trade_count,
			win_count=excluded.win_count,
			cumulative_pnl=excluded.cumulative_pnl,
			ending_capital=excluded.ending_capital,
			win_rate_so_far=excluded.win_rate_so_far,
			failed=excluded.failed`,
		res.Date, res.DayPnL, res.GrossPnL, res.Fees, res.Funding,
		res.TradeCount, res.WinCount, res.CumulativePnL, res.EndingCapital,
		res.WinRateSoFar, failed,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert day result: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM trades WHERE date = ?", res.Date); err != nil {
		return fmt.Errorf("failed to clear trades: %w", err)
	}
	for _, tr := range res.Trades {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trades (date, ts, action, side, size, swap_price, spot_price)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			res.Date, tr.Ts, tr.Action, string(tr.Side), tr.Size, tr.SwapPrice, tr.SpotPrice,
		)
		if err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}
	}

	return tx.Commit()
}

// LoadDays returns every stored day summary in date order, trade logs
// included.
func (s *ResultStore) LoadDays(ctx context.Context) ([]backtest.DayResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, day_pnl, gross_pnl, fees, funding, trade_count, win_count,
		       cumulative_pnl, ending_capital, win_rate_so_far, failed
		FROM day_results ORDER BY date ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query day results: %w", err)
	}
	defer rows.Close()

	var days []backtest.DayResult
	for rows.Next() {
		var res backtest.DayResult
		var failed int
		if err := rows.Scan(&res.Date, &res.DayPnL, &res.GrossPnL, &res.Fees,
			&res.Funding, &res.TradeCount, &res.WinCount, &res.CumulativePnL,
			&res.EndingCapital, &res.WinRateSoFar, &failed); err != nil {
			return nil, fmt.Errorf("failed to scan day result: %w", err)
		}
		res.Failed = failed != 0
		days = append(days, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	for i := range days {
		trades, err := s.loadTrades(ctx, days[i].Date)
		if err != nil {
			return nil, err
		}
		days[i].Trades = trades
	}
	return days, nil
}

func (s *ResultStore) loadTrades(ctx context.Context, date string) ([]ledger.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, action, side, size, swap_price, spot_price
		FROM trades WHERE date = ? ORDER BY id ASC`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []ledger.TradeRecord
	for rows.Next() {
		var tr ledger.TradeRecord
		var side string
		if err := rows.Scan(&tr.Ts, &tr.Action, &side, &tr.Size, &tr.SwapPrice, &tr.SpotPrice); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		tr.Side = signal.Side(side)
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

// ExportJSON dumps the stored run as a JSON document, handy for plotting.
func (s *ResultStore) ExportJSON(ctx context.Context) ([]byte, error) {
	days, err := s.LoadDays(ctx)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(days, "", "  ")
}

// Close closes the database connection.
func (s *ResultStore) Close() error {
	return s.db.Close()
}
