package model

import (
	"encoding/json"
	"time"
)

// Tick is a single price observation for one instrument, either from the live
// feed or read back from historical bars.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	TS     time.Time `json:"ts"` // UTC
}

// Valid reports whether the tick carries a symbol and a positive price.
func (t *Tick) Valid() bool {
	return t.Symbol != "" && t.Price > 0
}

// JSON returns the JSON-encoded tick (ignoring errors for hot-path usage).
func (t *Tick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
