package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the bot from concrete storage implementations
// (SQLite, Postgres, Redis).

// Journal persists signals, orders and backtest runs.
type Journal interface {
	// InsertSignal records one indicator reading.
	InsertSignal(ctx context.Context, rec SignalRecord) error

	// InsertOrder records one routed order.
	InsertOrder(ctx context.Context, rec OrderRecord) error

	// InsertBacktestRun records the summary of one replay.
	InsertBacktestRun(ctx context.Context, run BacktestRun) error

	// Close releases underlying resources.
	Close() error
}

// IntentPublisher fans order intents out to other processes (e.g. Redis Streams).
type IntentPublisher interface {
	PublishIntent(ctx context.Context, rec OrderRecord) error
}
