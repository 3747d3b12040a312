package replay

import (
	"io"
	"time"

	"kdtrader/internal/model"
)

const (
	SyntheticPoints = 5000
	syntheticStart  = 100.0
)

// SyntheticSource is a deterministic sawtooth drift used when no historical
// data is configured: +0.05 on even steps, -0.03 on odd steps, 1s apart.
type SyntheticSource struct {
	symbol string
	n      int
	i      int
	price  float64
	epoch  time.Time
}

// NewSyntheticSource creates a generator of n points (SyntheticPoints when n <= 0).
func NewSyntheticSource(symbol string, n int) *SyntheticSource {
	if n <= 0 {
		n = SyntheticPoints
	}
	return &SyntheticSource{symbol: symbol, n: n, price: syntheticStart, epoch: time.Unix(0, 0).UTC()}
}

func (s *SyntheticSource) Next() (model.Tick, error) {
	if s.i >= s.n {
		return model.Tick{}, io.EOF
	}
	if s.i%2 == 0 {
		s.price += 0.05
	} else {
		s.price -= 0.03
	}
	s.i++
	return model.Tick{
		Symbol: s.symbol,
		Price:  s.price,
		TS:     s.epoch.Add(time.Duration(s.i) * time.Second),
	}, nil
}
