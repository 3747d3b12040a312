// Package sqlite stores the bot journal (signals, orders, positions, backtest
// runs) and historical price bars in a single SQLite database.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed journal and bar store.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (or creates) the database at path with WAL mode and the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", path)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			ts     TEXT    NOT NULL,
			symbol TEXT    NOT NULL,
			side   TEXT    NOT NULL,
			k      REAL    NOT NULL,
			d      REAL    NOT NULL,
			note   TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_signals_symbol_ts ON signals(symbol, ts);

		CREATE TABLE IF NOT EXISTS orders (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ts         TEXT    NOT NULL,
			clordid    TEXT    NOT NULL UNIQUE,
			broker_id  TEXT,
			symbol     TEXT    NOT NULL,
			side       TEXT    NOT NULL,
			qty        INTEGER NOT NULL,
			type       TEXT    NOT NULL,
			px         REAL,
			status     TEXT    NOT NULL,
			mode       TEXT    NOT NULL,
			reason     TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);

		CREATE TABLE IF NOT EXISTS positions (
			symbol        TEXT PRIMARY KEY,
			qty           INTEGER NOT NULL,
			avg_px        REAL    NOT NULL,
			last_px       REAL    NOT NULL,
			u_pnl         REAL    NOT NULL,
			slices_in_use INTEGER NOT NULL,
			last_ts       TEXT
		);

		CREATE TABLE IF NOT EXISTS bt_runs (
			run_id   TEXT PRIMARY KEY,
			started  TEXT,
			finished TEXT,
			params   TEXT NOT NULL,
			metrics  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			price  REAL    NOT NULL,
			PRIMARY KEY (symbol, ts)
		);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
