// Package replay supplies historical price observations (CSV files, SQLite
// bars, a synthetic series) and replays them into the bot at a chosen speed.
package replay

import (
	"errors"
	"io"

	"kdtrader/internal/model"
)

// ErrMissingColumn is returned when a CSV file lacks a datetime or price column.
var ErrMissingColumn = errors.New("replay: missing column")

// Source yields observations for one symbol in time order.
// Next returns io.EOF once exhausted.
type Source interface {
	Next() (model.Tick, error)
}

// SliceSource replays an in-memory slice of ticks.
type SliceSource struct {
	ticks []model.Tick
	pos   int
}

// NewSliceSource wraps ticks, which must already be in time order.
func NewSliceSource(ticks []model.Tick) *SliceSource {
	return &SliceSource{ticks: ticks}
}

func (s *SliceSource) Next() (model.Tick, error) {
	if s.pos >= len(s.ticks) {
		return model.Tick{}, io.EOF
	}
	t := s.ticks[s.pos]
	s.pos++
	return t, nil
}

// Len returns the total number of ticks.
func (s *SliceSource) Len() int { return len(s.ticks) }

// Collect drains src into a slice.
func Collect(src Source) ([]model.Tick, error) {
	var out []model.Tick
	for {
		t, err := src.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
}
