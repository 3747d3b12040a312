package strategy

import (
	"testing"
	"time"
)

func TestCooldown(t *testing.T) {
	c := NewCooldown(time.Minute)
	if !c.Allow(0, at(0)) {
		t.Fatal("first buy must be allowed")
	}
	c.Record(at(0))
	if c.Allow(0, at(59)) {
		t.Fatal("buy inside the window must be blocked")
	}
	if !c.Allow(0, at(60)) {
		t.Fatal("buy at the window edge must be allowed")
	}
}

func TestTrendFilter(t *testing.T) {
	f, err := NewTrendFilter("sma", 3)
	if err != nil {
		t.Fatalf("NewTrendFilter: %v", err)
	}
	f.Observe(100)
	if !f.Allow(1, at(0)) {
		t.Fatal("warming filter must allow")
	}
	f.Observe(102)
	f.Observe(104) // SMA 102
	if v, ok := f.Value(); !ok || v != 102 {
		t.Fatalf("Value()=%v,%v want 102,true", v, ok)
	}
	if f.Allow(101.9, at(0)) {
		t.Fatal("price below the average must be blocked")
	}
	if !f.Allow(102, at(0)) {
		t.Fatal("price at the average must be allowed")
	}
	if _, err := NewTrendFilter("wma", 3); err == nil {
		t.Fatal("expected error for unknown average")
	}
}

func TestTrader_CooldownBlocksKDBuys(t *testing.T) {
	tr, book, sink := newTestTrader(t, 6000, 60, nil, WithEntryGates(NewCooldown(30*time.Second)))
	tr.OnKD(10, 15, 100, at(0))
	tr.OnKD(10, 15, 100, at(10))
	if len(sink.intents) != 1 || book.InUse() != 4 {
		t.Fatalf("intents=%d slices=%d, want 1 and 4", len(sink.intents), book.InUse())
	}
	tr.OnKD(10, 15, 100, at(30))
	if len(sink.intents) != 2 {
		t.Fatalf("intents=%d after cooldown, want 2", len(sink.intents))
	}
}

func TestTrader_CooldownHoldsBatch(t *testing.T) {
	tr, book, sink := newTestTrader(t, 6000, 60, nil, WithEntryGates(NewCooldown(time.Minute)))
	tr.OnRSI(60, 102, at(0))
	tr.OnRSI(10, 100, at(1))
	tr.OnRSI(10, 99, at(2))
	if len(sink.intents) != 1 {
		t.Fatalf("intents=%d, want 1", len(sink.intents))
	}
	if !tr.batchActive || book.InUse() != 4 {
		t.Fatalf("blocked continuation must keep the batch: active=%v slices=%d", tr.batchActive, book.InUse())
	}
	tr.OnRSI(10, 98, at(61))
	if got := sink.last(t); got.Reason != ReasonBatchLOC {
		t.Fatalf("expected LOC after cooldown, got %s", got.Reason)
	}
}

func TestTrader_TrendFilterBlocksBelowAverage(t *testing.T) {
	f, _ := NewTrendFilter("sma", 2)
	tr, _, sink := newTestTrader(t, 6000, 60, nil, WithEntryGates(f))
	tr.Observe(120)
	tr.Observe(120)
	tr.OnKD(10, 15, 100, at(0))
	if len(sink.intents) != 0 {
		t.Fatal("buy below the trend average must be blocked")
	}
	tr.Observe(80)
	tr.Observe(80)
	tr.OnKD(10, 15, 100, at(1))
	if len(sink.intents) != 1 {
		t.Fatal("buy above the trend average must pass")
	}
}
