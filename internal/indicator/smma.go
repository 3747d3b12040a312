package indicator

// SMMA calculates Smoothed Moving Average (Wilder-style smoothing).
// First value is SMA(period), then SMMA = (prev*(period-1) + x) / period.
type SMMA struct {
	period  int
	count   int
	sum     float64
	current float64
}

// NewSMMA creates a new SMMA indicator with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{period: period}
}

func (s *SMMA) Name() string { return "SMMA" }

func (s *SMMA) Update(x float64) (float64, bool) {
	s.count++

	if s.count <= s.period {
		s.sum += x
		if s.count < s.period {
			return 0, false
		}
		s.current = s.sum / float64(s.period)
		return s.current, true
	}

	s.current = (s.current*float64(s.period-1) + x) / float64(s.period)
	return s.current, true
}

func (s *SMMA) Ready() bool { return s.count >= s.period }

// Reset clears the SMMA state for reuse.
func (s *SMMA) Reset() {
	s.count = 0
	s.sum = 0
	s.current = 0
}
