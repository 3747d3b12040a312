// Package redis publishes order records to Redis Streams and reads the
// account equity other processes maintain in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"kdtrader/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultIntentStream = "orders:intents"
	defaultEquityKey    = "account:equity"
	intentStreamMaxLen  = 50000
	defaultLatestTTL    = 24 * time.Hour
)

// ErrNoEquity is returned when the equity key is missing.
var ErrNoEquity = errors.New("redis: equity not set")

// Config configures the Redis store.
type Config struct {
	Addr      string // Redis address, e.g. "localhost:6379"
	Password  string
	DB        int
	Stream    string // order stream, default orders:intents
	EquityKey string // default account:equity
}

// Store writes order records and reads equity.
type Store struct {
	client    *goredis.Client
	stream    string
	equityKey string
}

// New creates a Store and pings the server.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg Config) *Store {
	s := &Store{client: client, stream: cfg.Stream, equityKey: cfg.EquityKey}
	if s.stream == "" {
		s.stream = defaultIntentStream
	}
	if s.equityKey == "" {
		s.equityKey = defaultEquityKey
	}
	return s
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// PublishIntent appends rec to the order stream, stores it as the symbol's
// latest order and publishes it for live subscribers, in one pipeline.
func (s *Store) PublishIntent(ctx context.Context, rec model.OrderRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal order: %w", err)
	}
	jsonData := string(data)

	pipe := s.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.stream,
		MaxLen: intentStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": jsonData,
		},
	})
	pipe.Set(ctx, "order:latest:"+rec.Symbol, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, "pub:orders:"+rec.Symbol, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish order %s: %w", rec.ClOrdID, err)
	}
	return nil
}

// ReadEquity returns the equity stored under the equity key.
func (s *Store) ReadEquity(ctx context.Context) (float64, error) {
	v, err := s.client.Get(ctx, s.equityKey).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, ErrNoEquity
	}
	if err != nil {
		return 0, fmt.Errorf("redis GET %s: %w", s.equityKey, err)
	}
	eq, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: equity %q: %w", v, err)
	}
	return eq, nil
}

// WriteEquity stores equity under the equity key.
func (s *Store) WriteEquity(ctx context.Context, equity float64) error {
	return s.client.Set(ctx, s.equityKey, strconv.FormatFloat(equity, 'f', -1, 64), 0).Err()
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
