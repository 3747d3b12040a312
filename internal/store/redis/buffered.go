package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"kdtrader/internal/model"
)

type intentPublisher interface {
	PublishIntent(ctx context.Context, rec model.OrderRecord) error
}

// BufferedPublisher wraps a publisher with a circuit breaker.
// While the circuit is open, records are buffered locally and flushed
// when the circuit closes again.
type BufferedPublisher struct {
	pub intentPublisher
	cb  *CircuitBreaker
	ctx context.Context

	mu     sync.Mutex
	buffer []model.OrderRecord
	maxBuf int // oldest records are dropped beyond this

	// Callbacks
	OnBuffer func()          // called when a record is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered records
}

// NewBufferedPublisher creates a BufferedPublisher. ctx bounds flushes.
func NewBufferedPublisher(ctx context.Context, pub intentPublisher, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		pub:    pub,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]model.OrderRecord, 0, 64),
		maxBuf: maxBufferSize,
	}

	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}
	return bp
}

// PublishIntent publishes through the circuit breaker. If the circuit is
// open, the record is buffered and nil is returned.
func (bp *BufferedPublisher) PublishIntent(ctx context.Context, rec model.OrderRecord) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.PublishIntent(ctx, rec)
	})
	if errors.Is(err, ErrCircuitOpen) {
		bp.bufferRecord(rec)
		return nil
	}
	return err
}

func (bp *BufferedPublisher) bufferRecord(rec model.OrderRecord) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, rec)

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush republishes buffered records in order. Records that fail again are
// put back at the front of the buffer.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = make([]model.OrderRecord, 0, 64)
	bp.mu.Unlock()

	flushed := 0
	for i, rec := range toFlush {
		if err := bp.pub.PublishIntent(bp.ctx, rec); err != nil {
			log.Printf("[redis] flush stopped after %d records: %v", flushed, err)
			bp.mu.Lock()
			bp.buffer = append(append([]model.OrderRecord{}, toFlush[i:]...), bp.buffer...)
			bp.mu.Unlock()
			break
		}
		flushed++
	}

	if flushed > 0 {
		log.Printf("[redis] flushed %d buffered order records", flushed)
	}
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered records waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
