package redis

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeEquity struct {
	v   float64
	err error
}

func (f *fakeEquity) ReadEquity(context.Context) (float64, error) { return f.v, f.err }

func TestEquityCache_Refresh(t *testing.T) {
	src := &fakeEquity{v: 12000}
	c := NewEquityCache(src, nil, 6000)
	if c.Equity() != 6000 {
		t.Fatalf("Equity()=%v before refresh, want fallback 6000", c.Equity())
	}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if c.Equity() != 12000 {
		t.Fatalf("Equity()=%v, want 12000", c.Equity())
	}

	src.v, src.err = 0, errors.New("down")
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if c.Equity() != 12000 {
		t.Fatalf("failed refresh must keep the last value, got %v", c.Equity())
	}

	src.err = nil
	c.Refresh(context.Background())
	if c.Equity() != 12000 {
		t.Fatalf("zero equity must be ignored, got %v", c.Equity())
	}
}

func TestEquityCache_MissingKeyKeepsFallback(t *testing.T) {
	c := NewEquityCache(&fakeEquity{err: ErrNoEquity}, nil, 6000)
	if err := c.Refresh(context.Background()); !errors.Is(err, ErrNoEquity) {
		t.Fatalf("expected ErrNoEquity, got %v", err)
	}
	if c.Equity() != 6000 {
		t.Fatalf("Equity()=%v, want 6000", c.Equity())
	}
}

func TestEquityCache_BreakerStopsReads(t *testing.T) {
	src := &fakeEquity{err: errors.New("down")}
	cb, _ := newTestBreaker(1, time.Hour)
	c := NewEquityCache(src, cb, 6000)
	c.Refresh(context.Background())
	if err := c.Refresh(context.Background()); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestEquityCache_RunStopsOnCancel(t *testing.T) {
	c := NewEquityCache(&fakeEquity{v: 7000}, nil, 6000)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Millisecond)
		close(done)
	}()
	deadline := time.After(2 * time.Second)
	for c.Equity() != 7000 {
		select {
		case <-deadline:
			t.Fatal("Run never refreshed")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
