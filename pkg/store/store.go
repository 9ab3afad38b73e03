// Package store owns the SQLite database shared by the ledgers and the budget
// registry: connection setup, schema migration and scoped transactions.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so repositories can run
// inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps the cloudcost SQLite database.
type Store struct {
	db *sql.DB
}

const createCostRecords = `
CREATE TABLE IF NOT EXISTS cost_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	date TEXT NOT NULL,
	provider TEXT NOT NULL,
	service TEXT NOT NULL,
	amount TEXT NOT NULL,
	currency TEXT NOT NULL,
	ingested_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_cost_date_provider ON cost_records(date, provider);
`

const createBudgets = `
CREATE TABLE IF NOT EXISTS budgets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	amount TEXT NOT NULL,
	period TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	service TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
`

const createBudgetAlerts = `
CREATE TABLE IF NOT EXISTS budget_alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	budget_id INTEGER NOT NULL REFERENCES budgets(id) ON DELETE CASCADE,
	actual_cost TEXT NOT NULL,
	currency TEXT NOT NULL DEFAULT 'USD',
	percentage_over TEXT NOT NULL,
	tier INTEGER NOT NULL DEFAULT 0,
	window_start TEXT NOT NULL,
	window_end TEXT NOT NULL,
	evaluated_at DATETIME NOT NULL,
	notified INTEGER NOT NULL DEFAULT 0,
	notified_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_alert_budget_window_tier ON budget_alerts(budget_id, window_start, tier);
CREATE INDEX IF NOT EXISTS idx_alert_notified ON budget_alerts(notified);
`

const createCheckRuns = `
CREATE TABLE IF NOT EXISTS check_runs (
	run_id TEXT PRIMARY KEY,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	evaluated INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	breaches INTEGER NOT NULL DEFAULT 0,
	recorded INTEGER NOT NULL DEFAULT 0,
	suppressed INTEGER NOT NULL DEFAULT 0,
	notified INTEGER NOT NULL DEFAULT 0,
	undelivered INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_check_runs_started ON check_runs(started_at);
`

// Open creates the parent directory if needed, opens the database and runs
// auto-migration. Transactions take the write lock up front (_txlock=immediate)
// so an evaluation never reads a ledger another writer is halfway through.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	for name, stmt := range map[string]string{
		"cost_records":  createCostRecords,
		"budgets":       createBudgets,
		"budget_alerts": createBudgetAlerts,
		"check_runs":    createCheckRuns,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate %s: %w", name, err)
		}
	}

	// Databases created before alerts carried a currency.
	if !columnExists(db, "budget_alerts", "currency") {
		if _, err := db.Exec(`ALTER TABLE budget_alerts ADD COLUMN currency TEXT NOT NULL DEFAULT 'USD'`); err != nil {
			db.Close()
			return nil, fmt.Errorf("add currency column: %w", err)
		}
	}

	return &Store{db: db}, nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid, notnull, pk int
			name, ctype      string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}

// DB returns the non-transactional querier.
func (s *Store) DB() Querier {
	return s.db
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(q Querier) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
