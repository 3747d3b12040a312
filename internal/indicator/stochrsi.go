package indicator

// StochRSI re-normalizes RSI against its own recent range and smooths it
// twice: %K = SMA(stoch, kPeriod), %D = SMA(%K, dPeriod).
//
// Warm-up cascades: the RSI needs rsiPeriod+2 prices, the range window needs
// stochPeriod RSI values, %K needs kPeriod stoch values and %D needs dPeriod
// %K values. The first (%K, %D) pair therefore appears on observation
// rsiPeriod+2 + (stochPeriod-1) + (kPeriod-1) + (dPeriod-1).
type StochRSI struct {
	rsi    *WilderRSI
	window rsiWindow
	kSMA   *RollingSMA
	dSMA   *RollingSMA

	lastRSI float64
	hasRSI  bool // RSI emitted by the latest update
}

// NewStochRSI creates a Stochastic-RSI with the given periods (typically 14, 14, 3, 3).
func NewStochRSI(rsiPeriod, stochPeriod, kPeriod, dPeriod int) *StochRSI {
	return &StochRSI{
		rsi:    NewWilderRSI(rsiPeriod),
		window: newRSIWindow(stochPeriod),
		kSMA:   NewRollingSMA(kPeriod),
		dSMA:   NewRollingSMA(dPeriod),
	}
}

func (s *StochRSI) Name() string { return "STOCHRSI" }

// Update feeds one price. ok is false until both %K and %D are defined.
func (s *StochRSI) Update(price float64) (k, d float64, ok bool) {
	rsi, hasRSI := s.rsi.Update(price)
	s.lastRSI, s.hasRSI = rsi, hasRSI
	if !hasRSI {
		return 0, 0, false
	}

	s.window.push(rsi)
	if !s.window.full() {
		return 0, 0, false
	}

	lo, hi := s.window.bounds()
	stoch := 50.0
	if hi != lo {
		stoch = (rsi - lo) / (hi - lo) * 100.0
	}

	k, kOK := s.kSMA.Update(stoch)
	if !kOK {
		return 0, 0, false
	}
	d, dOK := s.dSMA.Update(k)
	if !dOK {
		return 0, 0, false
	}
	return k, d, true
}

// RSI returns the RSI produced by the latest Update, if any.
func (s *StochRSI) RSI() (float64, bool) { return s.lastRSI, s.hasRSI }

// rsiWindow is a fixed-capacity ring of the most recent RSI values.
type rsiWindow struct {
	buf   []float64
	idx   int
	count int
}

func newRSIWindow(size int) rsiWindow {
	return rsiWindow{buf: make([]float64, size)}
}

func (w *rsiWindow) push(v float64) {
	w.buf[w.idx] = v
	w.idx = (w.idx + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

func (w *rsiWindow) full() bool { return w.count == len(w.buf) }

// bounds scans the window; stochPeriod is small so O(n) is fine.
func (w *rsiWindow) bounds() (lo, hi float64) {
	lo, hi = w.buf[0], w.buf[0]
	for _, v := range w.buf[1:w.count] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
