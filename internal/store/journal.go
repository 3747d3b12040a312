// Package store picks the journal backend named by the storage config.
package store

import (
	"context"
	"fmt"
	"time"

	"kdtrader/config"
	"kdtrader/internal/model"
	"kdtrader/internal/store/postgres"
	"kdtrader/internal/store/sqlite"
)

// Journal is a model.Journal that also batches signals, keeps positions
// and owns a connection.
type Journal interface {
	model.Journal
	RunSignals(ctx context.Context, ch <-chan model.SignalRecord)
	UpsertPosition(ctx context.Context, pos model.Position, ts time.Time) error
	Close() error
}

// Open returns nil, nil for driver "none".
func Open(ctx context.Context, cfg config.Storage, postgresDSN string) (Journal, error) {
	switch cfg.Driver {
	case "none", "":
		return nil, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		if postgresDSN == "" {
			return nil, fmt.Errorf("store: postgres driver needs POSTGRES_DSN")
		}
		s, err := postgres.Open(ctx, postgresDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
