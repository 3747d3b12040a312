package strategy

import (
	"sync/atomic"

	"kdtrader/internal/indicator"
	"kdtrader/internal/model"
)

// Pipeline runs one symbol's indicator engine and trader over a tick stream.
// Live and replay both drive symbols through it.
type Pipeline struct {
	engine *indicator.Engine
	trader *Trader
	snap   atomic.Pointer[model.Position]
}

func NewPipeline(engine *indicator.Engine, trader *Trader) *Pipeline {
	p := &Pipeline{engine: engine, trader: trader}
	pos := trader.Position()
	p.snap.Store(&pos)
	return p
}

func (p *Pipeline) Symbol() string  { return p.trader.Symbol() }
func (p *Pipeline) Trader() *Trader { return p.trader }

// Process advances the indicators with one tick, then calls OnRSI and OnKD
// when their readings exist. Invalid ticks are ignored.
//
// Entry gates see the tick's price only after both handlers ran, so a trend
// average never includes the price it is judging.
func (p *Pipeline) Process(t model.Tick) indicator.Reading {
	if !t.Valid() {
		return indicator.Reading{}
	}
	r := p.engine.Update(t.Price)
	if r.HasRSI {
		p.trader.OnRSI(r.RSI, t.Price, t.TS)
	}
	if r.HasKD {
		p.trader.OnKD(r.K, r.D, t.Price, t.TS)
	}
	p.trader.Observe(t.Price)
	pos := p.trader.Position()
	p.snap.Store(&pos)
	return r
}

// Snapshot returns the position after the last processed tick. Safe to call
// from any goroutine.
func (p *Pipeline) Snapshot() model.Position {
	return *p.snap.Load()
}
