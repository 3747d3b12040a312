package indicator

// EMA calculates Exponential Moving Average.
// O(1) per update, no window storage. Seeded with the SMA of the
// first period values.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Update(x float64) (float64, bool) {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += x
		if e.count < e.period {
			return 0, false
		}
		e.current = e.sum / float64(e.period)
		return e.current, true
	}

	e.current = (x * e.multiplier) + (e.current * (1 - e.multiplier))
	return e.current, true
}

func (e *EMA) Ready() bool { return e.count >= e.period }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}
