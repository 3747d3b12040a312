package portfolio

import (
	"sync"
	"time"

	"kdtrader/internal/model"
)

// Trade is one fill used for P&L accounting.
type Trade struct {
	Symbol string     `json:"symbol"`
	Side   model.Side `json:"side"`
	Qty    int64      `json:"qty"`
	Price  float64    `json:"price"`
	TS     time.Time  `json:"ts"`
}

// PnLTracker tracks realized and unrealized P&L per symbol.
type PnLTracker struct {
	mu     sync.RWMutex
	trades []Trade

	realized  map[string]float64
	costBasis map[string]costEntry
	lastPrice map[string]float64
}

type costEntry struct {
	Qty      int64
	AvgPrice float64
}

// NewPnLTracker creates a new P&L tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{
		trades:    make([]Trade, 0, 500),
		realized:  make(map[string]float64),
		costBasis: make(map[string]costEntry),
		lastPrice: make(map[string]float64),
	}
}

// RecordTrade applies a fill and returns the P&L it realized.
// Sells larger than the open quantity are clamped to it.
func (p *PnLTracker) RecordTrade(trade Trade) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.trades = append(p.trades, trade)
	p.lastPrice[trade.Symbol] = trade.Price
	entry := p.costBasis[trade.Symbol]

	var realized float64
	if trade.Side == model.SideBuy {
		totalCost := entry.AvgPrice*float64(entry.Qty) + trade.Price*float64(trade.Qty)
		entry.Qty += trade.Qty
		if entry.Qty > 0 {
			entry.AvgPrice = totalCost / float64(entry.Qty)
		}
	} else {
		sellQty := min(trade.Qty, entry.Qty)
		realized = (trade.Price - entry.AvgPrice) * float64(sellQty)
		entry.Qty -= sellQty
		if entry.Qty <= 0 {
			entry.Qty = 0
			entry.AvgPrice = 0
		}
		p.realized[trade.Symbol] += realized
	}

	p.costBasis[trade.Symbol] = entry
	return realized
}

// Mark records the latest observed price for unrealized P&L.
func (p *PnLTracker) Mark(symbol string, price float64) {
	p.mu.Lock()
	p.lastPrice[symbol] = price
	p.mu.Unlock()
}

// Realized returns realized P&L for one symbol.
func (p *PnLTracker) Realized(symbol string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realized[symbol]
}

// Unrealized returns (last - avg) * qty for one symbol's open quantity.
func (p *PnLTracker) Unrealized(symbol string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.unrealized(symbol)
}

func (p *PnLTracker) unrealized(symbol string) float64 {
	entry := p.costBasis[symbol]
	if entry.Qty <= 0 {
		return 0
	}
	return (p.lastPrice[symbol] - entry.AvgPrice) * float64(entry.Qty)
}

// OpenQty returns the open quantity and its average cost.
func (p *PnLTracker) OpenQty(symbol string) (int64, float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e := p.costBasis[symbol]
	return e.Qty, e.AvgPrice
}

// GetTrades returns a snapshot of all trades.
func (p *PnLTracker) GetTrades() []Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Trade, len(p.trades))
	copy(cp, p.trades)
	return cp
}

// PnLSummary aggregates P&L over every symbol seen.
type PnLSummary struct {
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
	TotalTrades   int     `json:"total_trades"`
	OpenPositions int     `json:"open_positions"`
}

// GetSummary returns the current P&L summary.
func (p *PnLTracker) GetSummary() PnLSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var s PnLSummary
	for _, r := range p.realized {
		s.RealizedPnL += r
	}
	for sym, entry := range p.costBasis {
		if entry.Qty <= 0 {
			continue
		}
		s.OpenPositions++
		s.UnrealizedPnL += p.unrealized(sym)
	}
	s.TotalPnL = s.RealizedPnL + s.UnrealizedPnL
	s.TotalTrades = len(p.trades)
	return s
}
