package redis

import (
	"context"
	"testing"
	"time"

	"kdtrader/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// unreachable points at a closed port so every command fails fast.
func unreachable(t *testing.T) *Store {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client, Config{})
}

func TestStore_Defaults(t *testing.T) {
	s := unreachable(t)
	if s.stream != "orders:intents" || s.equityKey != "account:equity" {
		t.Fatalf("stream=%s equityKey=%s", s.stream, s.equityKey)
	}
}

func TestStore_ErrorsSurface(t *testing.T) {
	s := unreachable(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.PublishIntent(ctx, model.OrderRecord{ClOrdID: "x", Symbol: "TQQQ"}); err == nil {
		t.Fatal("expected publish error against a closed port")
	}
	if _, err := s.ReadEquity(ctx); err == nil {
		t.Fatal("expected read error against a closed port")
	}
}

func TestStore_BreakerTripsOnUnreachable(t *testing.T) {
	s := unreachable(t)
	cb := NewCircuitBreaker(2, time.Hour)
	bp := NewBufferedPublisher(context.Background(), s, cb, 10)

	ctx := context.Background()
	bp.PublishIntent(ctx, model.OrderRecord{ClOrdID: "1"})
	bp.PublishIntent(ctx, model.OrderRecord{ClOrdID: "2"})
	if cb.CurrentState() != StateOpen {
		t.Fatalf("state=%v, want open", cb.CurrentState())
	}
	if err := bp.PublishIntent(ctx, model.OrderRecord{ClOrdID: "3"}); err != nil {
		t.Fatalf("expected buffered nil, got %v", err)
	}
	if bp.PendingCount() != 1 {
		t.Fatalf("pending=%d, want 1", bp.PendingCount())
	}
}
