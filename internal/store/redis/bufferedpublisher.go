package redis

import (
	"context"
	"log"
	"sync"

	"trapwatch/internal/model"
)

// pendingEvent is an event held back while the circuit is open.
type pendingEvent struct {
	kind string // "signal" or "trade"
	sig  model.Signal
}

// BufferedPublisher wraps a Publisher with a circuit breaker. While the
// circuit is open, events are buffered locally (bounded, oldest dropped) and
// replayed in order when the broker recovers. The pipeline never blocks on a
// dead broker.
type BufferedPublisher struct {
	pub *Publisher
	cb  *CircuitBreaker
	ctx context.Context

	mu     sync.Mutex
	buffer []pendingEvent
	maxBuf int

	// Callbacks (optional, for metrics)
	OnBuffer func()
	OnFlush  func(count int)
}

// NewBufferedPublisher wraps pub. maxBufferSize caps the number of events
// held during an outage; 0 means the default of 10000.
func NewBufferedPublisher(ctx context.Context, pub *Publisher, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		pub:    pub,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingEvent, 0, 64),
		maxBuf: maxBufferSize,
	}

	// Replay the backlog as soon as the circuit closes.
	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}
	return bp
}

// PublishSignal publishes through the circuit breaker, buffering on an open
// circuit. A buffered event is not an error.
func (bp *BufferedPublisher) PublishSignal(ctx context.Context, sig model.Signal) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.PublishSignal(ctx, sig)
	})
	if err == ErrCircuitOpen {
		bp.bufferEvent("signal", sig)
		return nil
	}
	return err
}

// PublishTrade publishes through the circuit breaker, buffering on an open
// circuit.
func (bp *BufferedPublisher) PublishTrade(ctx context.Context, sig model.Signal) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.PublishTrade(ctx, sig)
	})
	if err == ErrCircuitOpen {
		bp.bufferEvent("trade", sig)
		return nil
	}
	return err
}

func (bp *BufferedPublisher) bufferEvent(kind string, sig model.Signal) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, pendingEvent{kind: kind, sig: sig})

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered events in arrival order.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = make([]pendingEvent, 0, 64)
	bp.mu.Unlock()

	for _, ev := range toFlush {
		var err error
		if ev.kind == "trade" {
			err = bp.pub.PublishTrade(bp.ctx, ev.sig)
		} else {
			err = bp.pub.PublishSignal(bp.ctx, ev.sig)
		}
		if err != nil {
			log.Printf("[buffered-publisher] flush error: %v", err)
		}
	}

	log.Printf("[buffered-publisher] flushed %d buffered events", len(toFlush))
	if bp.OnFlush != nil {
		bp.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of buffered events waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}

// Close closes the underlying publisher.
func (bp *BufferedPublisher) Close() error {
	return bp.pub.Close()
}
