package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ismaiel54/strategy-backtester/internal/event"
)

// Store is an append-only sqlite log of simulation runs: trades and equity
// snapshots keyed by run id. It exists for reproducibility and post-run
// verification; the simulation itself never reads from it.
type Store struct {
	db *sql.DB
}

// RunInfo describes one recorded simulation run.
type RunInfo struct {
	RunID             string
	StartedUnixMillis int64
	InitialCapital    float64
}

// EquityPoint is one persisted equity-curve sample.
type EquityPoint struct {
	TsUnixMillis   int64
	Equity         float64
	Cash           float64
	PositionsValue float64
}

// Open creates or opens the run store at the given path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// migrate creates the necessary tables
func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_unix_millis INTEGER NOT NULL,
			initial_capital REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			trade_id TEXT NOT NULL UNIQUE,
			pair_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty INTEGER NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			entry_unix_millis INTEGER NOT NULL,
			exit_unix_millis INTEGER NOT NULL,
			pnl REAL NOT NULL,
			commission REAL NOT NULL,
			group_num INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id)`,
		`CREATE TABLE IF NOT EXISTS equity_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts_unix_millis INTEGER NOT NULL,
			equity REAL NOT NULL,
			cash REAL NOT NULL,
			positions_value REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_run ON equity_snapshots(run_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// CreateRun records the start of a simulation run.
func (s *Store) CreateRun(ctx context.Context, info RunInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_unix_millis, initial_capital) VALUES (?, ?, ?)`,
		info.RunID, info.StartedUnixMillis, info.InitialCapital,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// AppendTrade appends one trade record. The unique trade id makes replays
// of the same run idempotent at the store boundary.
func (s *Store) AppendTrade(ctx context.Context, runID string, t event.Trade) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (run_id, trade_id, pair_id, symbol, side, qty,
			entry_price, exit_price, entry_unix_millis, exit_unix_millis, pnl, commission, group_num)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, t.ID, t.PairID, t.Symbol, string(t.Side), t.Qty,
		t.EntryPrice, t.ExitPrice, t.EntryTime.UnixMilli(), t.ExitTime.UnixMilli(),
		t.PnL, t.Commission, t.Group,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// AppendSnapshot appends one equity-curve sample.
func (s *Store) AppendSnapshot(ctx context.Context, runID string, p EquityPoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO equity_snapshots (run_id, ts_unix_millis, equity, cash, positions_value)
		 VALUES (?, ?, ?, ?, ?)`,
		runID, p.TsUnixMillis, p.Equity, p.Cash, p.PositionsValue,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// GetRun returns the recorded metadata for a run.
func (s *Store) GetRun(ctx context.Context, runID string) (RunInfo, error) {
	var info RunInfo
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, started_unix_millis, initial_capital FROM runs WHERE run_id = ?`,
		runID,
	).Scan(&info.RunID, &info.StartedUnixMillis, &info.InitialCapital)
	if err != nil {
		return RunInfo{}, fmt.Errorf("failed to query run: %w", err)
	}
	return info, nil
}

// ListRuns returns all recorded runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, started_unix_millis, initial_capital
		 FROM runs ORDER BY started_unix_millis DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var info RunInfo
		if err := rows.Scan(&info.RunID, &info.StartedUnixMillis, &info.InitialCapital); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, info)
	}
	return runs, rows.Err()
}

// ListTrades returns a run's trades in append order.
func (s *Store) ListTrades(ctx context.Context, runID string) ([]event.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trade_id, pair_id, symbol, side, qty, entry_price, exit_price,
			entry_unix_millis, exit_unix_millis, pnl, commission, group_num
		 FROM trades WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []event.Trade
	for rows.Next() {
		var (
			t          event.Trade
			side       string
			entryUnix  int64
			exitUnix   int64
		)
		err := rows.Scan(&t.ID, &t.PairID, &t.Symbol, &side, &t.Qty,
			&t.EntryPrice, &t.ExitPrice, &entryUnix, &exitUnix, &t.PnL, &t.Commission, &t.Group)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = event.Side(side)
		t.EntryTime = millisToTime(entryUnix)
		t.ExitTime = millisToTime(exitUnix)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListSnapshots returns a run's equity curve in append order.
func (s *Store) ListSnapshots(ctx context.Context, runID string) ([]EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts_unix_millis, equity, cash, positions_value
		 FROM equity_snapshots WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var points []EquityPoint
	for rows.Next() {
		var p EquityPoint
		if err := rows.Scan(&p.TsUnixMillis, &p.Equity, &p.Cash, &p.PositionsValue); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
