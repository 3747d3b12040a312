// Package postgres is the Postgres journal: signals, orders, backtest runs and
// position snapshots, on a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kdtrader/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	writeTimeout      = 4 * time.Second
)

// Store is a Postgres-backed journal.
type Store struct {
	db *pgxpool.Pool
}

// Open connects to dsn, pings the server and creates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := createSchema(pctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	log.Printf("[postgres] connected to %s", pool.Config().ConnConfig.Host)
	return &Store{db: pool}, nil
}

func createSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS signals (
			id     BIGSERIAL PRIMARY KEY,
			ts     TIMESTAMPTZ NOT NULL,
			symbol TEXT NOT NULL,
			side   TEXT NOT NULL,
			k      DOUBLE PRECISION NOT NULL,
			d      DOUBLE PRECISION NOT NULL,
			note   TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_signals_symbol_ts ON signals(symbol, ts);

		CREATE TABLE IF NOT EXISTS orders (
			id        BIGSERIAL PRIMARY KEY,
			ts        TIMESTAMPTZ NOT NULL,
			clordid   TEXT NOT NULL UNIQUE,
			broker_id TEXT,
			symbol    TEXT NOT NULL,
			side      TEXT NOT NULL,
			qty       BIGINT NOT NULL,
			type      TEXT NOT NULL,
			px        DOUBLE PRECISION,
			status    TEXT NOT NULL,
			mode      TEXT NOT NULL,
			reason    TEXT
		);

		CREATE TABLE IF NOT EXISTS positions (
			symbol        TEXT PRIMARY KEY,
			qty           BIGINT NOT NULL,
			avg_px        DOUBLE PRECISION NOT NULL,
			last_px       DOUBLE PRECISION NOT NULL,
			u_pnl         DOUBLE PRECISION NOT NULL,
			slices_in_use INTEGER NOT NULL,
			last_ts       TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS bt_runs (
			run_id   TEXT PRIMARY KEY,
			started  TIMESTAMPTZ,
			finished TIMESTAMPTZ,
			params   JSONB NOT NULL,
			metrics  JSONB NOT NULL
		);
	`)
	return err
}

// Pool returns the connection pool.
func (s *Store) Pool() *pgxpool.Pool { return s.db }

// Ping checks connectivity for health probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// Close closes the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

const insertSignalSQL = `INSERT INTO signals (ts, symbol, side, k, d, note) VALUES ($1, $2, $3, $4, $5, $6)`

// InsertSignal records one indicator reading.
func (s *Store) InsertSignal(ctx context.Context, rec model.SignalRecord) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := s.db.Exec(ctx, insertSignalSQL, rec.TS.UTC(), rec.Symbol, rec.Side, rec.K, rec.D, nullable(rec.Note))
	if err != nil {
		return fmt.Errorf("postgres insert signal: %w", err)
	}
	return nil
}

// InsertOrder records one routed order. px is NULL for market orders.
func (s *Store) InsertOrder(ctx context.Context, rec model.OrderRecord) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	var px *float64
	if rec.LimitPrice > 0 {
		px = &rec.LimitPrice
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO orders (ts, clordid, broker_id, symbol, side, qty, type, px, status, mode, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.TS.UTC(), rec.ClOrdID, nullable(rec.BrokerID), rec.Symbol, string(rec.Side), rec.Qty,
		string(rec.Type), px, rec.Status, rec.Mode, nullable(rec.Reason))
	if err != nil {
		return fmt.Errorf("postgres insert order %s: %w", rec.ClOrdID, err)
	}
	return nil
}

// InsertBacktestRun records a replay summary.
func (s *Store) InsertBacktestRun(ctx context.Context, run model.BacktestRun) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := s.db.Exec(ctx, `
		INSERT INTO bt_runs (run_id, started, finished, params, metrics)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET
			finished = EXCLUDED.finished,
			params   = EXCLUDED.params,
			metrics  = EXCLUDED.metrics
	`, run.RunID, run.Started.UTC(), run.Finished.UTC(), string(run.Params), string(run.Metrics))
	if err != nil {
		return fmt.Errorf("postgres insert bt_run %s: %w", run.RunID, err)
	}
	return nil
}

// UpsertPosition stores the latest snapshot of one symbol's position.
func (s *Store) UpsertPosition(ctx context.Context, pos model.Position, ts time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := s.db.Exec(ctx, `
		INSERT INTO positions (symbol, qty, avg_px, last_px, u_pnl, slices_in_use, last_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol) DO UPDATE SET
			qty = EXCLUDED.qty,
			avg_px = EXCLUDED.avg_px,
			last_px = EXCLUDED.last_px,
			u_pnl = EXCLUDED.u_pnl,
			slices_in_use = EXCLUDED.slices_in_use,
			last_ts = EXCLUDED.last_ts
	`, pos.Symbol, pos.Qty, pos.AvgPrice, pos.LastPrice, pos.UnrealizedPnL(), pos.SlicesInUse, ts.UTC())
	if err != nil {
		return fmt.Errorf("postgres upsert position %s: %w", pos.Symbol, err)
	}
	return nil
}

// RunSignals reads signals from ch and writes them with pgx batches.
// Flushes every batchSize signals OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or ch is closed.
func (s *Store) RunSignals(ctx context.Context, ch <-chan model.SignalRecord) {
	pending := make([]model.SignalRecord, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := s.insertSignalBatch(context.WithoutCancel(ctx), pending); err != nil {
			log.Printf("[postgres] signal batch insert error: %v", err)
		}
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case rec, ok := <-ch:
			if !ok {
				flush()
				return
			}
			pending = append(pending, rec)
			if len(pending) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (s *Store) insertSignalBatch(ctx context.Context, recs []model.SignalRecord) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	b := &pgx.Batch{}
	for _, r := range recs {
		b.Queue(insertSignalSQL, r.TS.UTC(), r.Symbol, r.Side, r.K, r.D, nullable(r.Note))
	}
	return s.db.SendBatch(ctx, b).Close()
}

// CountSignals returns how many signals are stored for symbol.
func (s *Store) CountSignals(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM signals WHERE symbol = $1`, symbol).Scan(&n)
	return n, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
