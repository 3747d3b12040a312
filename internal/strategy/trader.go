// Package strategy holds the per-symbol KD/RSI signal state machine and the
// dispatcher that feeds it live ticks.
//
// A Trader turns RSI readings into escalating buy batches and Stochastic-RSI
// (%K, %D) readings into crossover entries, stop-loss, confirmed KD exits and
// take-profit exits. All state changes happen synchronously inside the
// handler; order intents are handed to an OrderSink and forgotten.
package strategy

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"kdtrader/internal/model"
	"kdtrader/internal/slices"
)

// OrderSink receives decided order intents. Submit must not block on I/O.
type OrderSink interface {
	Submit(intent model.OrderIntent)
}

// EquitySource reports the account equity used to size slices.
type EquitySource interface {
	Equity() float64
}

// Order reasons carried on intents.
const (
	ReasonBatchMarket = "rsi_batch_market"
	ReasonBatchLOC    = "rsi_batch_loc"
	ReasonKDOversold  = "kd_oversold"
	ReasonKDCross     = "kd_bullish_cross"
	ReasonStopLoss    = "stop_loss"
	ReasonKDSell      = "kd_bearish_cross"
	ReasonTakeProfit  = "take_profit"
)

// Trader is the decision state of one symbol. It is not safe for concurrent
// use; exactly one goroutine may call its handlers.
type Trader struct {
	symbol string
	book   *slices.Book
	params Params
	sink   OrderSink
	equity EquitySource
	gates  []EntryGate
	log    *slog.Logger

	qty      int64
	avgPrice float64

	prevK, prevD float64
	hasPrevKD    bool
	lastPrice    float64
	hasLastPrice bool
	lastRSI      float64
	hasLastRSI   bool

	batchActive         bool
	batchFirstOrderDone bool
	batchSlices         int
}

// Option customises a Trader.
type Option func(*Trader)

// WithEquitySource refreshes the book's equity at the start of every handler.
func WithEquitySource(src EquitySource) Option {
	return func(t *Trader) { t.equity = src }
}

// WithEntryGates adds policies every buy must pass.
func WithEntryGates(gates ...EntryGate) Option {
	return func(t *Trader) { t.gates = append(t.gates, gates...) }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Trader) { t.log = l }
}

// NewTrader validates params and returns a flat Trader.
func NewTrader(symbol string, book *slices.Book, params Params, sink OrderSink, opts ...Option) (*Trader, error) {
	if symbol == "" {
		return nil, fmt.Errorf("strategy: empty symbol")
	}
	if book == nil {
		return nil, fmt.Errorf("strategy: %s: nil slice book", symbol)
	}
	if sink == nil {
		return nil, fmt.Errorf("strategy: %s: nil order sink", symbol)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: %s: %w", symbol, err)
	}
	t := &Trader{
		symbol: symbol,
		book:   book,
		params: params,
		sink:   sink,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With("symbol", symbol)
	return t, nil
}

func (t *Trader) Symbol() string { return t.symbol }

// Position returns a snapshot of the trader state.
func (t *Trader) Position() model.Position {
	return model.Position{
		Symbol:      t.symbol,
		Qty:         t.qty,
		AvgPrice:    t.avgPrice,
		LastPrice:   t.lastPrice,
		SlicesInUse: t.book.InUse(),
		BatchActive: t.batchActive,
	}
}

// Observe feeds a raw price to gates that track the market.
func (t *Trader) Observe(price float64) {
	for _, g := range t.gates {
		if o, ok := g.(PriceObserver); ok {
			o.Observe(price)
		}
	}
}

// OnRSI drives the RSI buy batch. A NaN rsi counts as no reading.
func (t *Trader) OnRSI(rsi, lastPrice float64, now time.Time) {
	t.lastRSI, t.hasLastRSI = rsi, !math.IsNaN(rsi)
	prevPrice, hasPrev := t.lastPrice, t.hasLastPrice
	t.lastPrice, t.hasLastPrice = lastPrice, true

	if !t.hasLastRSI || lastPrice <= 0 {
		return
	}
	t.refreshEquity()

	if !t.batchActive {
		if t.qty != 0 {
			return
		}
		if !hasPrev || lastPrice >= prevPrice {
			return
		}
		if rsi >= t.params.RSIBuyThreshold {
			return
		}
		n := t.batchSlicesFor(rsi)
		if n <= 0 || !t.book.CanAdd(n) {
			return
		}
		if !t.gatesAllow(lastPrice, now) {
			return
		}
		t.batchActive = true
		t.batchFirstOrderDone = false
		t.batchSlices = n
	} else if !t.gatesAllow(lastPrice, now) {
		return
	}

	n := t.batchSlices
	if n <= 0 || !t.book.CanAdd(n) {
		t.resetBatch()
		return
	}
	notional := t.book.Reserve(n)
	if notional <= 0 {
		t.book.Unreserve(n)
		t.resetBatch()
		return
	}

	orderPrice := lastPrice
	if t.batchFirstOrderDone {
		orderPrice = t.avgPrice * t.params.RSIBuyMultiplier
	}
	if orderPrice <= 0 {
		t.book.Unreserve(n)
		t.resetBatch()
		return
	}
	qty := t.lotSize(notional, orderPrice)
	if qty <= 0 {
		t.book.Unreserve(n)
		t.resetBatch()
		return
	}

	if t.batchFirstOrderDone {
		t.emitBuy(qty, model.OrderLimitOnClose, orderPrice, lastPrice, ReasonBatchLOC, now)
	} else {
		t.emitBuy(qty, model.OrderMarket, 0, lastPrice, ReasonBatchMarket, now)
	}
	t.batchFirstOrderDone = true
}

// OnKD evaluates, in order: stop-loss, KD buys, confirmed KD sell, take-profit.
func (t *Trader) OnKD(k, d, lastPrice float64, now time.Time) {
	prevK, prevD, hasPrev := t.prevK, t.prevD, t.hasPrevKD
	t.prevK, t.prevD, t.hasPrevKD = k, d, true
	t.lastPrice, t.hasLastPrice = lastPrice, true
	t.refreshEquity()

	p := t.params
	if t.qty > 0 && t.avgPrice > 0 && p.StopLossPct > 0 {
		if lastPrice <= t.avgPrice*(1-p.StopLossPct) {
			t.exit(ReasonStopLoss, now)
			return
		}
	}

	if p.EnableKDBuys && lastPrice > 0 {
		switch {
		case k < p.Oversold:
			t.kdBuy(p.SlicesPerEntryLow, lastPrice, ReasonKDOversold, now)
		case k < p.Overbought:
			if hasPrev && prevK <= prevD && k > d {
				t.kdBuy(p.SlicesPerEntryMid, lastPrice, ReasonKDCross, now)
			}
		}
	}

	bearish := hasPrev && prevK > prevD && k <= d
	confirmed := t.hasLastRSI && t.lastRSI > p.RSISellConfirm
	if bearish && k > p.Overbought && t.qty > 0 && confirmed {
		t.exit(ReasonKDSell, now)
	}

	if t.qty > 0 && t.avgPrice > 0 && lastPrice >= t.avgPrice*(1+p.TakeProfitPct) {
		t.exit(ReasonTakeProfit, now)
	}
}

func (t *Trader) kdBuy(n int, price float64, reason string, now time.Time) {
	if n <= 0 || !t.book.CanAdd(n) {
		return
	}
	if !t.gatesAllow(price, now) {
		return
	}
	notional := t.book.Reserve(n)
	if notional <= 0 {
		t.book.Unreserve(n)
		return
	}
	qty := t.lotSize(notional, price)
	if qty <= 0 {
		t.book.Unreserve(n)
		return
	}
	t.emitBuy(qty, model.OrderMarket, 0, price, reason, now)
}

// emitBuy submits the order and folds fillPrice into the average cost.
func (t *Trader) emitBuy(qty int64, typ model.OrderType, limit, fillPrice float64, reason string, now time.Time) {
	intent := model.OrderIntent{
		Symbol:     t.symbol,
		Side:       model.SideBuy,
		Qty:        qty,
		Type:       typ,
		LimitPrice: limit,
		Reason:     reason,
		TS:         now,
	}
	t.sink.Submit(intent)

	prevQty := t.qty
	t.qty += qty
	t.avgPrice = (t.avgPrice*float64(prevQty) + fillPrice*float64(qty)) / float64(max(t.qty, 1))
	for _, g := range t.gates {
		g.Record(now)
	}
	t.log.Info("buy", "qty", qty, "type", typ, "limit", limit, "avg_price", t.avgPrice,
		"position", t.qty, "slices_in_use", t.book.InUse(), "reason", reason)
}

// exit sells the whole position and releases every slice.
func (t *Trader) exit(reason string, now time.Time) {
	qty := t.qty
	t.sink.Submit(model.OrderIntent{
		Symbol: t.symbol,
		Side:   model.SideSell,
		Qty:    qty,
		Type:   model.OrderMarket,
		Reason: reason,
		TS:     now,
	})
	t.log.Info("sell", "qty", qty, "price", t.lastPrice, "avg_price", t.avgPrice, "reason", reason)
	t.qty = 0
	t.avgPrice = 0
	t.book.FreeAll()
	t.resetBatch()
}

func (t *Trader) batchSlicesFor(rsi float64) int {
	switch {
	case rsi < t.params.RSILowBand:
		return t.params.SlicesPerEntryLow
	case rsi < t.params.RSIMidBand:
		return t.params.SlicesPerEntryMid
	default:
		return 0
	}
}

func (t *Trader) lotSize(notional, price float64) int64 {
	return max(t.params.MinLot, int64(math.Floor(notional/math.Max(price, 1e-9))))
}

func (t *Trader) gatesAllow(price float64, now time.Time) bool {
	for _, g := range t.gates {
		if !g.Allow(price, now) {
			t.log.Debug("entry blocked", "gate", g.Name(), "price", price)
			return false
		}
	}
	return true
}

func (t *Trader) refreshEquity() {
	if t.equity == nil {
		return
	}
	if eq := t.equity.Equity(); eq > 0 {
		t.book.SetEquity(eq)
	}
}

func (t *Trader) resetBatch() {
	t.batchActive = false
	t.batchFirstOrderDone = false
	t.batchSlices = 0
}
