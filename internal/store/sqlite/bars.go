package sqlite

import (
	"context"
	"fmt"
	"log"
	"time"

	"kdtrader/internal/model"
)

// InsertBars upserts price bars in a single transaction.
func (s *Store) InsertBars(ctx context.Context, bars []model.Tick) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO bars (symbol, ts, price) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Symbol, b.TS.Unix(), b.Price); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert bar %s@%d: %w", b.Symbol, b.TS.Unix(), err)
		}
	}
	return tx.Commit()
}

// ReadBars returns a symbol's bars with from <= ts <= to, oldest first.
// A zero from or to leaves that side open.
func (s *Store) ReadBars(ctx context.Context, symbol string, from, to time.Time) ([]model.Tick, error) {
	lo, hi := int64(-1<<62), int64(1<<62)
	if !from.IsZero() {
		lo = from.Unix()
	}
	if !to.IsZero() {
		hi = to.Unix()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, price FROM bars
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Tick
	for rows.Next() {
		var ts int64
		t := model.Tick{Symbol: symbol}
		if err := rows.Scan(&ts, &t.Price); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		t.TS = time.Unix(ts, 0).UTC()
		bars = append(bars, t)
	}
	return bars, rows.Err()
}

// LastBarTime returns the newest stored bar time for symbol, or the zero time.
func (s *Store) LastBarTime(ctx context.Context, symbol string) (time.Time, error) {
	var ts *int64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM bars WHERE symbol = ?`, symbol).Scan(&ts)
	if err != nil || ts == nil {
		return time.Time{}, err
	}
	return time.Unix(*ts, 0).UTC(), nil
}

// RunBars writes bars from ch in batches until ch is closed or ctx is
// cancelled. Pending bars are flushed on exit.
func (s *Store) RunBars(ctx context.Context, ch <-chan model.Tick) {
	batch := make([]model.Tick, 0, defaultBatchSize)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.InsertBars(context.WithoutCancel(ctx), batch); err != nil {
			log.Printf("[sqlite] bar batch insert error: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case b, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, b)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
