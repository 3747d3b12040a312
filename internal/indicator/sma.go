package indicator

// RollingSMA calculates a Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer and a running sum: O(1) per update.
type RollingSMA struct {
	period int
	buf    []float64 // preallocated circular buffer
	idx    int       // current write position
	count  int       // values currently held, capped at period
	sum    float64
}

// NewRollingSMA creates a new SMA with the given period.
func NewRollingSMA(period int) *RollingSMA {
	return &RollingSMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *RollingSMA) Name() string { return "SMA" }

// Update pushes x, evicting the oldest value once the window is full.
func (s *RollingSMA) Update(x float64) (float64, bool) {
	if s.count == s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	} else {
		s.count++
	}

	s.buf[s.idx] = x
	s.sum += x
	s.idx = (s.idx + 1) % s.period

	if s.count < s.period {
		return 0, false
	}
	return s.sum / float64(s.period), true
}

func (s *RollingSMA) Ready() bool { return s.count == s.period }

// Sum returns the running sum of the values currently in the window.
func (s *RollingSMA) Sum() float64 { return s.sum }

// Len returns how many values the window currently holds.
func (s *RollingSMA) Len() int { return s.count }

// Reset clears the SMA state for reuse.
func (s *RollingSMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}
