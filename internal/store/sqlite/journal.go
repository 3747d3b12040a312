package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"kdtrader/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// InsertSignal records one indicator reading.
func (s *Store) InsertSignal(ctx context.Context, rec model.SignalRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO signals (ts, symbol, side, k, d, note) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TS.UTC().Format(time.RFC3339Nano), rec.Symbol, rec.Side, rec.K, rec.D, nullString(rec.Note))
	if err != nil {
		return fmt.Errorf("sqlite insert signal: %w", err)
	}
	return nil
}

// InsertOrder records one routed order. px is NULL for market orders.
func (s *Store) InsertOrder(ctx context.Context, rec model.OrderRecord) error {
	var px sql.NullFloat64
	if rec.LimitPrice > 0 {
		px = sql.NullFloat64{Float64: rec.LimitPrice, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (ts, clordid, broker_id, symbol, side, qty, type, px, status, mode, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TS.UTC().Format(time.RFC3339Nano), rec.ClOrdID, nullString(rec.BrokerID), rec.Symbol,
		string(rec.Side), rec.Qty, string(rec.Type), px, rec.Status, rec.Mode, nullString(rec.Reason))
	if err != nil {
		return fmt.Errorf("sqlite insert order %s: %w", rec.ClOrdID, err)
	}
	return nil
}

// InsertBacktestRun records a replay summary.
func (s *Store) InsertBacktestRun(ctx context.Context, run model.BacktestRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO bt_runs (run_id, started, finished, params, metrics) VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.Started.UTC().Format(time.RFC3339Nano), run.Finished.UTC().Format(time.RFC3339Nano),
		string(run.Params), string(run.Metrics))
	if err != nil {
		return fmt.Errorf("sqlite insert bt_run %s: %w", run.RunID, err)
	}
	return nil
}

// UpsertPosition stores the latest snapshot of one symbol's position.
func (s *Store) UpsertPosition(ctx context.Context, pos model.Position, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (symbol, qty, avg_px, last_px, u_pnl, slices_in_use, last_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			qty = excluded.qty,
			avg_px = excluded.avg_px,
			last_px = excluded.last_px,
			u_pnl = excluded.u_pnl,
			slices_in_use = excluded.slices_in_use,
			last_ts = excluded.last_ts
	`, pos.Symbol, pos.Qty, pos.AvgPrice, pos.LastPrice, pos.UnrealizedPnL(), pos.SlicesInUse,
		ts.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite upsert position %s: %w", pos.Symbol, err)
	}
	return nil
}

// Positions returns every stored position snapshot ordered by symbol.
func (s *Store) Positions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, qty, avg_px, last_px, slices_in_use FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.Symbol, &p.Qty, &p.AvgPrice, &p.LastPrice, &p.SlicesInUse); err != nil {
			return nil, fmt.Errorf("sqlite scan positions: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RunSignals reads signals from ch and inserts them in batched transactions.
// Flushes every batchSize signals OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or ch is closed.
func (s *Store) RunSignals(ctx context.Context, ch <-chan model.SignalRecord) {
	batch := make([]model.SignalRecord, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.insertSignalBatch(batch); err != nil {
			log.Printf("[sqlite] signal batch insert error: %v", err)
		}
		batch = batch[:0]
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
			batch = append(batch, rec)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (s *Store) insertSignalBatch(recs []model.SignalRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO signals (ts, symbol, side, k, d, note) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.Exec(r.TS.UTC().Format(time.RFC3339Nano), r.Symbol, r.Side, r.K, r.D, nullString(r.Note)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// RecentOrders returns the last limit orders, newest first.
func (s *Store) RecentOrders(ctx context.Context, limit int) ([]model.OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, clordid, COALESCE(broker_id, ''), symbol, side, qty, type, COALESCE(px, 0), status, mode, COALESCE(reason, '')
		 FROM orders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query orders: %w", err)
	}
	defer rows.Close()

	var out []model.OrderRecord
	for rows.Next() {
		var r model.OrderRecord
		var ts, side, typ string
		if err := rows.Scan(&ts, &r.ClOrdID, &r.BrokerID, &r.Symbol, &side, &r.Qty, &typ,
			&r.LimitPrice, &r.Status, &r.Mode, &r.Reason); err != nil {
			return nil, fmt.Errorf("sqlite scan orders: %w", err)
		}
		r.Side, r.Type = model.Side(side), model.OrderType(typ)
		r.TS, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountSignals returns how many signals are stored for symbol.
func (s *Store) CountSignals(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals WHERE symbol = ?`, symbol).Scan(&n)
	return n, err
}

// GetBacktestRun loads one run by id.
func (s *Store) GetBacktestRun(ctx context.Context, runID string) (model.BacktestRun, error) {
	var run model.BacktestRun
	var started, finished, params, metrics string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, started, finished, params, metrics FROM bt_runs WHERE run_id = ?`, runID).
		Scan(&run.RunID, &started, &finished, &params, &metrics)
	if err != nil {
		return run, fmt.Errorf("sqlite get bt_run %s: %w", runID, err)
	}
	run.Started, _ = time.Parse(time.RFC3339Nano, started)
	run.Finished, _ = time.Parse(time.RFC3339Nano, finished)
	run.Params, run.Metrics = []byte(params), []byte(metrics)
	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
