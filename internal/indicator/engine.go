package indicator

import "fmt"

// Config holds the Stochastic-RSI periods for one instrument.
type Config struct {
	RSIPeriod   int
	StochPeriod int
	KPeriod     int
	DPeriod     int
}

// DefaultConfig returns the classic 14/14/3/3 setup.
func DefaultConfig() Config {
	return Config{RSIPeriod: 14, StochPeriod: 14, KPeriod: 3, DPeriod: 3}
}

// Validate rejects non-positive periods.
func (c Config) Validate() error {
	for _, p := range []struct {
		name string
		v    int
	}{
		{"rsi_period", c.RSIPeriod},
		{"stoch_period", c.StochPeriod},
		{"k_period", c.KPeriod},
		{"d_period", c.DPeriod},
	} {
		if p.v <= 0 {
			return fmt.Errorf("indicator: %s must be positive, got %d", p.name, p.v)
		}
	}
	return nil
}

// WarmUp returns the observation index (1-based) of the first (%K, %D) pair.
func (c Config) WarmUp() int {
	return c.RSIPeriod + 2 + (c.StochPeriod - 1) + (c.KPeriod - 1) + (c.DPeriod - 1)
}

// Reading is the indicator output for one price observation.
type Reading struct {
	RSI    float64 `json:"rsi"`
	HasRSI bool    `json:"has_rsi"`
	K      float64 `json:"k"`
	D      float64 `json:"d"`
	HasKD  bool    `json:"has_kd"`
}

// Engine computes the indicator set for one instrument.
// Not safe for concurrent use.
type Engine struct {
	cfg   Config
	stoch *StochRSI
	count int
}

// NewEngine creates an indicator engine for one instrument.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:   cfg,
		stoch: NewStochRSI(cfg.RSIPeriod, cfg.StochPeriod, cfg.KPeriod, cfg.DPeriod),
	}, nil
}

// Update advances every indicator by one price and returns what is defined.
func (e *Engine) Update(price float64) Reading {
	e.count++
	k, d, ok := e.stoch.Update(price)
	rsi, hasRSI := e.stoch.RSI()
	return Reading{RSI: rsi, HasRSI: hasRSI, K: k, D: d, HasKD: ok}
}

// Count returns the number of observations processed.
func (e *Engine) Count() int { return e.count }

// Config returns the engine's periods.
func (e *Engine) Config() Config { return e.cfg }
