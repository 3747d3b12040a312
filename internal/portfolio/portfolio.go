// Package portfolio tracks positions and P&L across symbols.
//
// Portfolio keeps the latest position snapshot each symbol worker publishes;
// PnLTracker does fill-level accounting for replays.
package portfolio

import (
	"sort"
	"sync"

	"kdtrader/internal/model"
)

// Portfolio holds the latest position of every symbol.
type Portfolio struct {
	mu        sync.RWMutex
	positions map[string]model.Position
	prices    map[string]float64
}

// New creates a new empty Portfolio.
func New() *Portfolio {
	return &Portfolio{
		positions: make(map[string]model.Position),
		prices:    make(map[string]float64),
	}
}

// Update replaces the stored position for pos.Symbol.
func (pf *Portfolio) Update(pos model.Position) {
	pf.mu.Lock()
	pf.positions[pos.Symbol] = pos
	pf.mu.Unlock()
}

// GetPositions returns a snapshot of all positions sorted by symbol.
func (pf *Portfolio) GetPositions() []model.Position {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	result := make([]model.Position, 0, len(pf.positions))
	for _, p := range pf.positions {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result
}

// TotalUnrealizedPnL returns the total unrealized P&L across all positions.
func (pf *Portfolio) TotalUnrealizedPnL() float64 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	var total float64
	for _, p := range pf.positions {
		total += p.UnrealizedPnL()
	}
	return total
}

// SlicesInUse sums slices committed across symbols.
func (pf *Portfolio) SlicesInUse() int {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	n := 0
	for _, p := range pf.positions {
		n += p.SlicesInUse
	}
	return n
}

// SetLastPrice records a market price ahead of the position snapshot for the
// same tick. Non-positive prices are ignored.
func (pf *Portfolio) SetLastPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	pf.mu.Lock()
	pf.prices[symbol] = price
	pf.mu.Unlock()
}

// LastPrice returns the latest observed price for symbol, preferring a price
// set with SetLastPrice over the position snapshot.
func (pf *Portfolio) LastPrice(symbol string) (float64, bool) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	if px, ok := pf.prices[symbol]; ok {
		return px, true
	}
	p, ok := pf.positions[symbol]
	if !ok || p.LastPrice <= 0 {
		return 0, false
	}
	return p.LastPrice, true
}
