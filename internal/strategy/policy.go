package strategy

import (
	"fmt"
	"time"

	"kdtrader/internal/indicator"
)

// EntryGate is an optional policy that can veto a buy.
type EntryGate interface {
	Name() string
	// Allow reports whether a buy at price may happen at now.
	Allow(price float64, now time.Time) bool
	// Record is called after every buy the gate allowed.
	Record(now time.Time)
}

// PriceObserver is implemented by gates that need every price.
type PriceObserver interface {
	Observe(price float64)
}

// Cooldown blocks buys within Window of the previous buy.
type Cooldown struct {
	window  time.Duration
	lastBuy time.Time
	bought  bool
}

func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window}
}

func (c *Cooldown) Name() string { return "cooldown" }

func (c *Cooldown) Allow(_ float64, now time.Time) bool {
	return !c.bought || now.Sub(c.lastBuy) >= c.window
}

func (c *Cooldown) Record(now time.Time) {
	c.lastBuy = now
	c.bought = true
}

// TrendFilter only allows buys at or above a moving average of price.
// While the average is warming up it allows everything.
type TrendFilter struct {
	ma    indicator.MovingAverage
	value float64
	ready bool
}

// NewTrendFilter builds a filter on an SMA, EMA or SMMA of the given period.
func NewTrendFilter(kind string, period int) (*TrendFilter, error) {
	ma, err := indicator.NewMovingAverage(kind, period)
	if err != nil {
		return nil, fmt.Errorf("trend filter: %w", err)
	}
	return &TrendFilter{ma: ma}, nil
}

func (f *TrendFilter) Name() string { return "trend_" + f.ma.Name() }

func (f *TrendFilter) Observe(price float64) {
	if v, ok := f.ma.Update(price); ok {
		f.value, f.ready = v, true
	}
}

func (f *TrendFilter) Allow(price float64, _ time.Time) bool {
	return !f.ready || price >= f.value
}

func (f *TrendFilter) Record(time.Time) {}

// Value returns the current average and whether it is warm.
func (f *TrendFilter) Value() (float64, bool) { return f.value, f.ready }
