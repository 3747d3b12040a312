package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"kdtrader/internal/model"
)

const maxGap = 5 * time.Second

// Replayer merges historical sources and emits their ticks in time order at a
// configurable speed multiplier.
type Replayer struct {
	sources []Source
	speed   float64
}

// New creates a Replayer. speed controls the playback rate:
// 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
func New(speed float64, sources ...Source) *Replayer {
	return &Replayer{sources: sources, speed: speed}
}

// Run replays every tick into outCh. It returns when all sources are
// exhausted, a source fails, or ctx is cancelled. outCh is not closed.
func (r *Replayer) Run(ctx context.Context, outCh chan<- model.Tick) error {
	// Collect all ticks across sources, sorted by time
	var all []model.Tick
	for _, src := range r.sources {
		ticks, err := Collect(src)
		if err != nil {
			return err
		}
		all = append(all, ticks...)
	}

	if len(all) == 0 {
		log.Println("[replay] no observations to replay")
		return nil
	}

	// Stable so a symbol's own order survives equal timestamps.
	sort.SliceStable(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })

	log.Printf("[replay] loaded %d ticks across %d sources, speed=%.1fx", len(all), len(r.sources), r.speed)

	var prevTS time.Time
	emitted := 0

	for _, t := range all {
		// Simulate time gaps between observations
		if r.speed > 0 && !prevTS.IsZero() {
			gap := t.TS.Sub(prevTS)
			if gap > 0 {
				scaledGap := min(time.Duration(float64(gap)/r.speed), maxGap)
				select {
				case <-ctx.Done():
					log.Printf("[replay] cancelled after %d ticks", emitted)
					return ctx.Err()
				case <-time.After(scaledGap):
				}
			}
		}
		prevTS = t.TS

		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d ticks", emitted)
			return ctx.Err()
		case outCh <- t:
		}
		emitted++
	}

	log.Printf("[replay] completed: %d ticks replayed", emitted)
	return nil
}
