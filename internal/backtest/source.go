package backtest

import (
	"context"
	"fmt"
	"time"

	"kdtrader/config"
	"kdtrader/internal/marketdata/replay"
	"kdtrader/internal/model"
)

// SourceFactory opens the historical source for one symbol.
type SourceFactory func(ctx context.Context, symbol string) (replay.Source, error)

// BarReader reads stored bars (internal/store/sqlite).
type BarReader interface {
	ReadBars(ctx context.Context, symbol string, from, to time.Time) ([]model.Tick, error)
}

// NewSourceFactory picks the source named by bars.type. bars may be nil
// unless the type is sqlite.
func NewSourceFactory(cfg config.Bars, bars BarReader, from, to time.Time) (SourceFactory, error) {
	switch cfg.Type {
	case "", "synthetic":
		return func(_ context.Context, symbol string) (replay.Source, error) {
			return replay.NewSyntheticSource(symbol, 0), nil
		}, nil
	case "csv":
		return func(_ context.Context, symbol string) (replay.Source, error) {
			return replay.LoadCSV(cfg.DataDir, symbol, cfg.Column, from, to)
		}, nil
	case "sqlite":
		if bars == nil {
			return nil, fmt.Errorf("backtest: sqlite bars need a bar reader")
		}
		return func(ctx context.Context, symbol string) (replay.Source, error) {
			ticks, err := bars.ReadBars(ctx, symbol, from, to)
			if err != nil {
				return nil, err
			}
			return replay.NewSliceSource(ticks), nil
		}, nil
	default:
		return nil, fmt.Errorf("backtest: unknown bars type %q", cfg.Type)
	}
}
