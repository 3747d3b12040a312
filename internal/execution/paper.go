package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"kdtrader/internal/model"
)

// Fill represents a simulated order fill.
type Fill struct {
	OrderID   string            `json:"order_id"`
	ClOrdID   string            `json:"clordid"`
	Intent    model.OrderIntent `json:"intent"`
	FillPrice float64           `json:"fill_price"`
	FillQty   int64             `json:"fill_qty"`
	FilledAt  time.Time         `json:"filled_at"`
	Slippage  float64           `json:"slippage"`
}

// PriceFunc returns the latest known price for a symbol.
type PriceFunc func(symbol string) (float64, bool)

// PaperRouter simulates order placement without real broker calls.
// LIMIT_ON_CLOSE orders fill at their limit; market orders fill at the latest
// known price when a PriceFunc is set.
type PaperRouter struct {
	mu       sync.RWMutex
	fills    []Fill
	orderSeq int64
	prices   PriceFunc

	slippageBps float64 // basis points of slippage (e.g., 5 = 0.05%)
}

// NewPaperRouter creates a paper router. prices may be nil.
func NewPaperRouter(slippageBps float64, prices PriceFunc) *PaperRouter {
	return &PaperRouter{
		fills:       make([]Fill, 0, 1000),
		prices:      prices,
		slippageBps: slippageBps,
	}
}

// Place records a simulated fill and returns a PAPER-n order id.
func (p *PaperRouter) Place(ctx context.Context, intent model.OrderIntent, clOrdID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if intent.Qty <= 0 {
		return "", fmt.Errorf("paper: non-positive qty %d", intent.Qty)
	}

	fillPrice := intent.LimitPrice
	if intent.Type == model.OrderMarket && p.prices != nil {
		if px, ok := p.prices(intent.Symbol); ok {
			fillPrice = px
		}
	}

	slippage := 0.0
	if fillPrice > 0 && p.slippageBps > 0 {
		slippage = fillPrice * p.slippageBps / 10000
		if intent.Side == model.SideBuy {
			fillPrice += slippage // buy higher
		} else {
			fillPrice -= slippage // sell lower
		}
	}

	p.mu.Lock()
	p.orderSeq++
	orderID := fmt.Sprintf("PAPER-%d", p.orderSeq)
	p.fills = append(p.fills, Fill{
		OrderID:   orderID,
		ClOrdID:   clOrdID,
		Intent:    intent,
		FillPrice: fillPrice,
		FillQty:   intent.Qty,
		FilledAt:  time.Now(),
		Slippage:  slippage,
	})
	p.mu.Unlock()

	log.Printf("[paper] %s %s qty=%d price=%.4f (slip=%.4f) order=%s reason=%s",
		intent.Side, intent.Symbol, intent.Qty, fillPrice, slippage, orderID, intent.Reason)
	return orderID, nil
}

// GetFills returns a snapshot of all fills.
func (p *PaperRouter) GetFills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}
