// Package sqlite persists bots, trading cycles and orders in a single
// SQLite database. Decimals are stored as TEXT to keep exact values,
// timestamps as unix nanoseconds.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"dca_grid/internal/core"
	apperrors "dca_grid/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS bots (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	exchange TEXT NOT NULL,
	symbol TEXT NOT NULL,
	api_key TEXT NOT NULL,
	api_secret TEXT NOT NULL,
	amount TEXT NOT NULL,
	grid_length TEXT NOT NULL,
	first_order_offset TEXT NOT NULL,
	num_orders INTEGER NOT NULL,
	next_order_volume TEXT NOT NULL,
	profit_percentage TEXT NOT NULL,
	price_change_percentage TEXT NOT NULL,
	upper_price_limit TEXT NOT NULL DEFAULT '0',
	is_active INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trading_cycles (
	id TEXT PRIMARY KEY,
	bot_id TEXT NOT NULL REFERENCES bots(id),
	exchange TEXT NOT NULL,
	symbol TEXT NOT NULL,
	amount TEXT NOT NULL,
	grid_length TEXT NOT NULL,
	first_order_offset TEXT NOT NULL,
	num_orders INTEGER NOT NULL,
	next_order_volume TEXT NOT NULL,
	profit_percentage TEXT NOT NULL,
	price_change_percentage TEXT NOT NULL,
	price TEXT NOT NULL,
	quantity TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_cycle_per_bot
	ON trading_cycles(bot_id) WHERE status = 'ACTIVE';

CREATE INDEX IF NOT EXISTS idx_cycles_bot ON trading_cycles(bot_id);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	cycle_id TEXT NOT NULL REFERENCES trading_cycles(id),
	exchange_order_id INTEGER NOT NULL DEFAULT 0,
	number INTEGER NOT NULL,
	side TEXT NOT NULL,
	type TEXT NOT NULL,
	time_in_force TEXT NOT NULL,
	price TEXT NOT NULL,
	quantity TEXT NOT NULL,
	quantity_filled TEXT NOT NULL DEFAULT '0',
	amount TEXT NOT NULL,
	status TEXT NOT NULL,
	exchange_order_data TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_cycle ON orders(cycle_id);
CREATE INDEX IF NOT EXISTS idx_orders_cycle_exchange ON orders(cycle_id, exchange_order_id);
`

// execer is satisfied by both *sql.DB and *sql.Tx so every query method can
// run inside or outside a transaction
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Store implements core.IStateStore on SQLite
type Store struct {
	db *sql.DB
	q  execer
}

// NewStore opens (creating if needed) the database at dsn and applies the
// schema. Use ":memory:" for tests.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite serializes writes anyway; a single pooled connection avoids
	// SQLITE_BUSY and makes :memory: databases behave
	db.SetMaxOpenConns(1)

	// Enable WAL mode for crash recovery
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, q: db}, nil
}

// WithTx runs fn against a store view bound to one serializable transaction.
// Reentrant calls join the ambient transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx core.IStateStore) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	dec, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("corrupt decimal in %s (%q): %w", field, raw, apperrors.ErrCorruptState)
	}
	return dec, nil
}
