// Package indicator provides streaming technical indicators over price observations.
//
// Every indicator is fed one value at a time and reports (value, ok); ok stays
// false until enough observations have been accumulated. Indicators hold
// per-instrument state and are designed for single-goroutine use without locks.
package indicator

import (
	"fmt"
	"strings"
)

// MovingAverage is a streaming average over a price series.
type MovingAverage interface {
	// Name returns the indicator name (e.g., "SMA", "EMA").
	Name() string

	// Update feeds a new value and returns the current average once warm.
	Update(x float64) (float64, bool)

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// NewMovingAverage creates a moving average by type name: "SMA", "EMA" or "SMMA".
func NewMovingAverage(kind string, period int) (MovingAverage, error) {
	if period <= 0 {
		return nil, fmt.Errorf("indicator: period must be positive, got %d", period)
	}
	switch strings.ToUpper(strings.TrimSpace(kind)) {
	case "", "SMA":
		return NewRollingSMA(period), nil
	case "EMA":
		return NewEMA(period), nil
	case "SMMA":
		return NewSMMA(period), nil
	default:
		return nil, fmt.Errorf("indicator: unknown moving average type %q", kind)
	}
}
