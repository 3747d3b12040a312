package indicator

import "math"

// WilderRSI calculates the Relative Strength Index using Wilder's smoothing.
// Update is O(1) per observation.
//
// The first call only records the price. The next period calls accumulate
// gains and losses. The call after that emits the first value from the simple
// averages, so the first RSI appears on call period+2. From then on the
// accumulators are smoothed as s = (s*(period-1) + x) / period.
type WilderRSI struct {
	period    int
	count     int // price changes consumed by the accumulator
	primed    bool
	prevPrice float64
	gain      float64
	loss      float64
	current   float64
	ready     bool
}

// NewWilderRSI creates a new RSI indicator with the given period (typically 14).
func NewWilderRSI(period int) *WilderRSI {
	return &WilderRSI{period: period}
}

func (r *WilderRSI) Name() string { return "RSI" }

// Update feeds one price and returns the RSI once warm.
func (r *WilderRSI) Update(price float64) (float64, bool) {
	if !r.primed {
		// First observation: record price, no delta yet
		r.prevPrice = price
		r.primed = true
		return 0, false
	}

	change := price - r.prevPrice
	r.prevPrice = price
	up, down := 0.0, 0.0
	if change > 0 {
		up = change
	} else {
		down = -change
	}

	p := float64(r.period)
	switch {
	case r.count < r.period:
		// Accumulation phase
		r.gain += up
		r.loss += down
		r.count++
		return 0, false
	case r.count == r.period:
		// First value from the simple averages. The accumulators keep their
		// sums and become the smoothing state.
		r.current = rsiFromAverages(r.gain/p, r.loss/p)
		r.count++
		r.ready = true
		return r.current, true
	default:
		r.gain = (r.gain*(p-1) + up) / p
		r.loss = (r.loss*(p-1) + down) / p
		r.current = rsiFromAverages(r.gain, r.loss)
		return r.current, true
	}
}

// Value returns the last emitted RSI.
func (r *WilderRSI) Value() (float64, bool) { return r.current, r.ready }
func (r *WilderRSI) Ready() bool            { return r.ready }

// rsiFromAverages maps average gain/loss to [0, 100]. A zero average loss is
// an infinite RS, i.e. RSI 100.
func rsiFromAverages(avgGain, avgLoss float64) float64 {
	rs := math.Inf(1)
	if avgLoss != 0 {
		rs = avgGain / avgLoss
	}
	return 100.0 - 100.0/(1.0+rs)
}
