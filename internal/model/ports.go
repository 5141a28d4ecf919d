package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the pipeline from concrete storage implementations
// (Redis, SQLite). Each implementation satisfies one or more of them.

// SampleWriter persists accepted market samples.
type SampleWriter interface {
	// RunSamples reads samples from sampleCh and writes them.
	// Blocks until ctx is cancelled or sampleCh is closed.
	RunSamples(ctx context.Context, sampleCh <-chan MarketSample)

	// Close releases underlying resources.
	Close() error
}

// SampleReader loads stored samples for backtest replay.
type SampleReader interface {
	// ReadSamples returns samples for one instrument in [from, to),
	// ordered by timestamp ascending.
	ReadSamples(key InstrumentKey, from, to time.Time) ([]MarketSample, error)

	// SampleSpan returns the first and last stored timestamps for an
	// instrument. ok is false when no samples exist.
	SampleSpan(key InstrumentKey) (first, last time.Time, ok bool, err error)

	// Close releases underlying resources.
	Close() error
}

// SignalWriter persists signal creations and resolutions.
type SignalWriter interface {
	// RunSignals reads signal events from sigCh and writes them.
	// Blocks until ctx is cancelled or sigCh is closed.
	RunSignals(ctx context.Context, sigCh <-chan Signal)

	// Close releases underlying resources.
	Close() error
}

// EventPublisher pushes signal and trade events to outbound consumers.
type EventPublisher interface {
	// PublishSignal announces a newly admitted pending signal.
	PublishSignal(ctx context.Context, sig Signal) error

	// PublishTrade announces a resolved signal.
	PublishTrade(ctx context.Context, sig Signal) error

	// Close releases underlying resources.
	Close() error
}
