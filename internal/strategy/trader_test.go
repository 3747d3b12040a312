package strategy

import (
	"math"
	"testing"
	"time"

	"kdtrader/internal/model"
	"kdtrader/internal/slices"
)

type recordingSink struct {
	intents []model.OrderIntent
}

func (s *recordingSink) Submit(in model.OrderIntent) { s.intents = append(s.intents, in) }

func (s *recordingSink) last(t *testing.T) model.OrderIntent {
	t.Helper()
	if len(s.intents) == 0 {
		t.Fatal("no intents submitted")
	}
	return s.intents[len(s.intents)-1]
}

type fixedEquity float64

func (f fixedEquity) Equity() float64 { return float64(f) }

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func newTestTrader(t *testing.T, equity float64, total int, mutate func(*Params), opts ...Option) (*Trader, *slices.Book, *recordingSink) {
	t.Helper()
	book, err := slices.New(equity, total)
	if err != nil {
		t.Fatalf("slices.New: %v", err)
	}
	p := DefaultParams()
	if mutate != nil {
		mutate(&p)
	}
	sink := &recordingSink{}
	tr, err := NewTrader("TQQQ", book, p, sink, opts...)
	if err != nil {
		t.Fatalf("NewTrader: %v", err)
	}
	return tr, book, sink
}

func TestOnKD_OversoldBuy(t *testing.T) {
	tr, book, sink := newTestTrader(t, 6000, 60, nil)

	tr.OnKD(10, 15, 100, at(0))

	if len(sink.intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(sink.intents))
	}
	in := sink.intents[0]
	if in.Side != model.SideBuy || in.Type != model.OrderMarket {
		t.Fatalf("expected MARKET BUY, got %s %s", in.Type, in.Side)
	}
	if in.Qty != 4 {
		t.Errorf("qty=%d, want 4 (400 notional / 100)", in.Qty)
	}
	if book.InUse() != 4 || tr.qty != 4 {
		t.Errorf("slices=%d qty=%d, want 4 and 4", book.InUse(), tr.qty)
	}
	if tr.avgPrice != 100 {
		t.Errorf("avgPrice=%v, want 100", tr.avgPrice)
	}
}

func TestOnKD_SellNeedsRSIConfirmation(t *testing.T) {
	tr, book, sink := newTestTrader(t, 6000, 60, nil)
	tr.OnKD(10, 15, 100, at(0))

	tr.prevK, tr.prevD = 85, 80
	tr.lastRSI, tr.hasLastRSI = 70, true
	tr.OnKD(81, 82, 101, at(1))
	if got := sink.last(t); got.Side != model.SideBuy {
		t.Fatalf("sold without RSI confirmation: %v", got)
	}
	if tr.qty == 0 {
		t.Fatal("position closed without RSI confirmation")
	}

	tr.lastRSI, tr.hasLastRSI = 80, true
	tr.prevK, tr.prevD = 85, 80
	tr.OnKD(81, 82, 101, at(2))
	if got := sink.last(t); got.Side != model.SideBuy {
		t.Fatalf("RSI exactly at the confirm level must not sell: %v", got)
	}

	tr.prevK, tr.prevD = 85, 80
	tr.lastRSI, tr.hasLastRSI = 85, true
	tr.OnKD(81, 82, 101, at(3))
	got := sink.last(t)
	if got.Side != model.SideSell || got.Type != model.OrderMarket || got.Reason != ReasonKDSell {
		t.Fatalf("expected MARKET SELL kd, got %v (%s)", got, got.Reason)
	}
	if got.Qty != 4 {
		t.Errorf("sell qty=%d, want 4", got.Qty)
	}
	if tr.qty != 0 || book.InUse() != 0 || tr.avgPrice != 0 {
		t.Errorf("expected flat: qty=%d slices=%d avg=%v", tr.qty, book.InUse(), tr.avgPrice)
	}
}

func TestOnKD_TakeProfit(t *testing.T) {
	tr, book, sink := newTestTrader(t, 6000, 60, func(p *Params) { p.TakeProfitPct = 0.10 })
	tr.OnKD(10, 15, 100, at(0))

	tr.prevK, tr.prevD = 50, 40
	tr.OnKD(50, 40, 112, at(1))

	got := sink.last(t)
	if got.Side != model.SideSell || got.Type != model.OrderMarket || got.Reason != ReasonTakeProfit {
		t.Fatalf("expected take-profit MARKET SELL, got %v (%s)", got, got.Reason)
	}
	if tr.qty != 0 || book.InUse() != 0 || tr.batchActive {
		t.Errorf("expected reset: qty=%d slices=%d batch=%v", tr.qty, book.InUse(), tr.batchActive)
	}
}

func TestOnKD_TakeProfitBelowTarget(t *testing.T) {
	tr, _, sink := newTestTrader(t, 6000, 60, func(p *Params) { p.TakeProfitPct = 0.10 })
	tr.OnKD(10, 15, 100, at(0))
	tr.OnKD(50, 60, 109.9, at(1))
	if got := sink.last(t); got.Side != model.SideBuy {
		t.Fatalf("unexpected sell below target: %v", got)
	}
}

func TestOnKD_StopLoss(t *testing.T) {
	tr, book, sink := newTestTrader(t, 6000, 60, func(p *Params) { p.StopLossPct = 0.10 })
	tr.OnKD(10, 15, 100, at(0))

	tr.OnKD(30, 25, 89, at(1))

	got := sink.last(t)
	if got.Side != model.SideSell || got.Reason != ReasonStopLoss {
		t.Fatalf("expected stop-loss SELL, got %v (%s)", got, got.Reason)
	}
	if tr.qty != 0 || book.InUse() != 0 {
		t.Errorf("expected flat: qty=%d slices=%d", tr.qty, book.InUse())
	}
}

func TestOnKD_StopLossSkipsLaterRules(t *testing.T) {
	tr, _, sink := newTestTrader(t, 6000, 60, func(p *Params) { p.StopLossPct = 0.10 })
	tr.OnKD(10, 15, 100, at(0))

	// Still oversold, but the stop ends the call before any buy.
	tr.OnKD(5, 8, 80, at(1))

	if len(sink.intents) != 2 {
		t.Fatalf("expected buy then sell only, got %d intents", len(sink.intents))
	}
	if tr.qty != 0 {
		t.Fatalf("qty=%d, want 0", tr.qty)
	}
}

func TestOnKD_StopLossDisabledByDefault(t *testing.T) {
	tr, _, sink := newTestTrader(t, 6000, 60, nil)
	tr.OnKD(10, 15, 100, at(0))
	tr.OnKD(30, 35, 50, at(1))
	if got := sink.last(t); got.Side != model.SideBuy {
		t.Fatalf("unexpected sell without stop-loss configured: %v", got)
	}
}

func TestOnKD_BullishCrossBuysMidSlices(t *testing.T) {
	tr, book, sink := newTestTrader(t, 6000, 60, nil)

	tr.OnKD(40, 45, 50, at(0)) // no previous K/D
	if len(sink.intents) != 0 {
		t.Fatalf("mid-band without history must not buy, got %d", len(sink.intents))
	}
	tr.OnKD(50, 46, 50, at(1)) // prev 40<=45, now 50>46
	if len(sink.intents) != 1 {
		t.Fatalf("expected cross buy, got %d intents", len(sink.intents))
	}
	got := sink.intents[0]
	if got.Reason != ReasonKDCross || got.Qty != 2 {
		t.Fatalf("expected 2 @ kd cross, got %v (%s)", got, got.Reason)
	}
	if book.InUse() != 1 {
		t.Fatalf("slices=%d, want 1", book.InUse())
	}
}

func TestOnKD_OverboughtNeverBuys(t *testing.T) {
	tr, _, sink := newTestTrader(t, 6000, 60, nil)
	tr.OnKD(70, 75, 100, at(0))
	tr.OnKD(85, 80, 100, at(1))
	if len(sink.intents) != 0 {
		t.Fatalf("expected no orders, got %d", len(sink.intents))
	}
}

func TestOnKD_KDBuysDisabled(t *testing.T) {
	tr, _, sink := newTestTrader(t, 6000, 60, func(p *Params) { p.EnableKDBuys = false })
	tr.OnKD(10, 15, 100, at(0))
	if len(sink.intents) != 0 {
		t.Fatalf("expected no orders, got %d", len(sink.intents))
	}
}

func TestOnKD_VWAPAcrossBuys(t *testing.T) {
	tr, _, _ := newTestTrader(t, 6000, 60, nil)
	tr.OnKD(10, 15, 100, at(0)) // 4 @ 100
	tr.OnKD(10, 15, 50, at(1))  // 8 @ 50
	want := (4*100.0 + 8*50.0) / 12
	if tr.qty != 12 || math.Abs(tr.avgPrice-want) > 1e-9 {
		t.Fatalf("qty=%d avg=%v, want 12 and %v", tr.qty, tr.avgPrice, want)
	}
}

func TestOnKD_ZeroNotionalRollsBack(t *testing.T) {
	tr, book, sink := newTestTrader(t, 30, 60, nil) // slice value 0
	tr.OnKD(10, 15, 100, at(0))
	if len(sink.intents) != 0 || book.InUse() != 0 {
		t.Fatalf("intents=%d slices=%d, want none reserved", len(sink.intents), book.InUse())
	}
}

func TestOnKD_EquitySourceRefreshesBook(t *testing.T) {
	tr, book, sink := newTestTrader(t, 6000, 60, nil, WithEquitySource(fixedEquity(12000)))
	tr.OnKD(10, 15, 100, at(0))
	if book.Equity() != 12000 {
		t.Fatalf("equity=%v, want 12000", book.Equity())
	}
	if got := sink.last(t); got.Qty != 8 {
		t.Fatalf("qty=%d, want 8 (4 slices of 200)", got.Qty)
	}
}

func TestOnRSI_BatchMarketThenLOC(t *testing.T) {
	tr, _, sink := newTestTrader(t, 6000, 60, nil)

	tr.OnRSI(60, 102, at(0))
	if len(sink.intents) != 0 {
		t.Fatal("priming call must not order")
	}

	tr.OnRSI(18, 100, at(1))
	got := sink.last(t)
	if got.Side != model.SideBuy || got.Type != model.OrderMarket {
		t.Fatalf("expected MARKET BUY, got %v", got)
	}
	if !tr.batchActive || !tr.batchFirstOrderDone || tr.batchSlices != 4 {
		t.Fatalf("batch state: active=%v first=%v slices=%d", tr.batchActive, tr.batchFirstOrderDone, tr.batchSlices)
	}

	want := tr.avgPrice * tr.params.RSIBuyMultiplier
	tr.OnRSI(15, 99, at(2))
	got = sink.last(t)
	if got.Type != model.OrderLimitOnClose {
		t.Fatalf("expected LIMIT_ON_CLOSE, got %v", got.Type)
	}
	if got.LimitPrice != want {
		t.Fatalf("limit=%v, want %v", got.LimitPrice, want)
	}
	if got.Qty != int64(math.Floor(400/want)) {
		t.Errorf("qty=%d, want %d", got.Qty, int64(math.Floor(400/want)))
	}
	// Average cost follows the observed price, not the limit.
	wantAvg := (4*100.0 + float64(got.Qty)*99) / float64(4+got.Qty)
	if math.Abs(tr.avgPrice-wantAvg) > 1e-9 {
		t.Errorf("avgPrice=%v, want %v", tr.avgPrice, wantAvg)
	}
}

func TestOnRSI_BatchStopsWhenSlicesExhausted(t *testing.T) {
	tr, book, sink := newTestTrader(t, 6000, 2, func(p *Params) {
		p.SlicesPerEntryLow = 1
		p.SlicesPerEntryMid = 1
	})

	tr.OnRSI(60, 101, at(0))
	tr.OnRSI(30, 100, at(1))
	tr.OnRSI(30, 99, at(2))
	prior := len(sink.intents)
	if prior != 2 {
		t.Fatalf("expected 2 orders before exhaustion, got %d", prior)
	}

	tr.OnRSI(30, 98, at(3))
	if len(sink.intents) != prior {
		t.Fatalf("expected no new orders, got %d", len(sink.intents)-prior)
	}
	if tr.batchActive {
		t.Fatal("batch must end once slices are exhausted")
	}
	if book.InUse() != 2 {
		t.Fatalf("slices=%d, want 2", book.InUse())
	}
}

func TestOnRSI_BatchNeedsDownTick(t *testing.T) {
	tr, _, sink := newTestTrader(t, 6000, 60, nil)
	tr.OnRSI(18, 100, at(0)) // no previous price
	tr.OnRSI(18, 100, at(1)) // flat
	tr.OnRSI(18, 101, at(2)) // up
	if len(sink.intents) != 0 || tr.batchActive {
		t.Fatalf("intents=%d active=%v, want none", len(sink.intents), tr.batchActive)
	}
}

func TestOnRSI_NoBatchAtOrAboveThreshold(t *testing.T) {
	tr, _, sink := newTestTrader(t, 6000, 60, nil)
	tr.OnRSI(60, 102, at(0))
	tr.OnRSI(50, 101, at(1))
	if len(sink.intents) != 0 {
		t.Fatalf("expected no batch at rsi=50, got %d intents", len(sink.intents))
	}
}

func TestOnRSI_NoBatchWhileHolding(t *testing.T) {
	tr, _, sink := newTestTrader(t, 6000, 60, nil)
	tr.OnKD(10, 15, 100, at(0))
	tr.OnRSI(60, 100, at(1))
	tr.OnRSI(10, 99, at(2))
	if len(sink.intents) != 1 {
		t.Fatalf("expected only the KD buy, got %d intents", len(sink.intents))
	}
}

func TestOnRSI_ZeroNotionalResetsBatch(t *testing.T) {
	tr, book, sink := newTestTrader(t, 30, 60, nil)
	tr.OnRSI(60, 102, at(0))
	tr.OnRSI(10, 100, at(1))
	if len(sink.intents) != 0 || tr.batchActive || book.InUse() != 0 {
		t.Fatalf("intents=%d active=%v slices=%d", len(sink.intents), tr.batchActive, book.InUse())
	}
}

func TestOnRSI_NaNIsNoop(t *testing.T) {
	tr, _, sink := newTestTrader(t, 6000, 60, nil)
	tr.OnRSI(60, 102, at(0))
	tr.OnRSI(math.NaN(), 100, at(1))
	if len(sink.intents) != 0 || tr.hasLastRSI {
		t.Fatalf("NaN reading must be ignored")
	}
	// The price is still recorded, so the next down-tick compares with 100.
	tr.OnRSI(10, 99, at(2))
	if len(sink.intents) != 1 {
		t.Fatalf("expected batch start, got %d intents", len(sink.intents))
	}
}

func TestExitResetsBatch(t *testing.T) {
	tr, book, sink := newTestTrader(t, 6000, 60, func(p *Params) { p.TakeProfitPct = 0.05 })
	tr.OnRSI(60, 102, at(0))
	tr.OnRSI(10, 100, at(1))
	if !tr.batchActive {
		t.Fatal("expected active batch")
	}
	tr.OnKD(50, 40, 106, at(2))
	if got := sink.last(t); got.Reason != ReasonTakeProfit {
		t.Fatalf("expected take profit, got %s", got.Reason)
	}
	if tr.batchActive || tr.batchSlices != 0 || book.InUse() != 0 {
		t.Fatalf("batch not reset: active=%v slices=%d inUse=%d", tr.batchActive, tr.batchSlices, book.InUse())
	}
}

func TestNewTrader_RejectsInvalidParams(t *testing.T) {
	book, _ := slices.New(6000, 60)
	cases := map[string]func(*Params){
		"oversold zero":         func(p *Params) { p.Oversold = 0 },
		"oversold ≥ overbought": func(p *Params) { p.Oversold = 80 },
		"overbought > 100":      func(p *Params) { p.Overbought = 101 },
		"multiplier":            func(p *Params) { p.RSIBuyMultiplier = 0 },
		"stop loss":             func(p *Params) { p.StopLossPct = 1 },
		"nan":                   func(p *Params) { p.TakeProfitPct = math.NaN() },
		"slices":                func(p *Params) { p.SlicesPerEntryLow = -1 },
		"bands":                 func(p *Params) { p.RSILowBand = 90 },
	}
	for name, mutate := range cases {
		p := DefaultParams()
		mutate(&p)
		if _, err := NewTrader("X", book, p, &recordingSink{}); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := NewTrader("X", book, DefaultParams(), nil); err == nil {
		t.Error("nil sink: expected error")
	}
}
