package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kdtrader/internal/model"
)

type fakePublisher struct {
	mu   sync.Mutex
	fail bool
	got  []string
}

func (f *fakePublisher) PublishIntent(_ context.Context, rec model.OrderRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	f.got = append(f.got, rec.ClOrdID)
	return nil
}

func (f *fakePublisher) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...)
}

func TestBufferedPublisher_BuffersWhileOpen(t *testing.T) {
	pub := &fakePublisher{fail: true}
	cb, clk := newTestBreaker(2, time.Second)
	bp := NewBufferedPublisher(context.Background(), pub, cb, 10)

	flushed := make(chan int, 1)
	buffered := 0
	bp.OnBuffer = func() { buffered++ }
	bp.OnFlush = func(n int) { flushed <- n }

	// Two failures trip the breaker and surface the error.
	for _, id := range []string{"a", "b"} {
		if err := bp.PublishIntent(context.Background(), model.OrderRecord{ClOrdID: id}); err == nil {
			t.Fatalf("%s: expected publish error", id)
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("state=%v, want open", cb.CurrentState())
	}

	for _, id := range []string{"c", "d"} {
		if err := bp.PublishIntent(context.Background(), model.OrderRecord{ClOrdID: id}); err != nil {
			t.Fatalf("%s: buffered publish should return nil, got %v", id, err)
		}
	}
	if bp.PendingCount() != 2 || buffered != 2 {
		t.Fatalf("pending=%d buffered=%d, want 2 and 2", bp.PendingCount(), buffered)
	}

	pub.setFail(false)
	clk.advance(time.Second)
	if err := bp.PublishIntent(context.Background(), model.OrderRecord{ClOrdID: "e"}); err != nil {
		t.Fatalf("probe publish: %v", err)
	}

	select {
	case n := <-flushed:
		if n != 2 {
			t.Fatalf("flushed %d, want 2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("buffer was not flushed after the circuit closed")
	}

	got := pub.published()
	want := []string{"e", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("published %v, want %v", got, want)
		}
	}
	if bp.PendingCount() != 0 {
		t.Fatalf("pending=%d after flush", bp.PendingCount())
	}
}

func TestBufferedPublisher_DropsOldest(t *testing.T) {
	pub := &fakePublisher{fail: true}
	cb, _ := newTestBreaker(1, time.Hour)
	bp := NewBufferedPublisher(context.Background(), pub, cb, 2)

	bp.PublishIntent(context.Background(), model.OrderRecord{ClOrdID: "trip"})
	for _, id := range []string{"a", "b", "c"} {
		bp.PublishIntent(context.Background(), model.OrderRecord{ClOrdID: id})
	}
	if bp.PendingCount() != 2 {
		t.Fatalf("pending=%d, want 2", bp.PendingCount())
	}
	if bp.buffer[0].ClOrdID != "b" {
		t.Fatalf("oldest kept=%s, want b", bp.buffer[0].ClOrdID)
	}
}
