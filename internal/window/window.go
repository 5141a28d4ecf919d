// Package window provides the per-instrument rolling sample buffer that all
// feature computation reads from. Each Window is a fixed-capacity ring: the
// oldest sample is evicted on overflow, and appends with a timestamp earlier
// than the last accepted sample are rejected rather than reordered.
package window

import (
	"time"

	"trapwatch/internal/model"
)

// Window is a fixed-capacity, insertion-ordered ring of market samples for a
// single instrument. Not safe for concurrent use — each instrument's pipeline
// goroutine owns its window exclusively.
type Window struct {
	buf   []model.MarketSample
	start int // index of oldest sample
	count int
}

// New creates a window with the given capacity. Minimum capacity is 2.
func New(capacity int) *Window {
	if capacity < 2 {
		capacity = 2
	}
	return &Window{buf: make([]model.MarketSample, capacity)}
}

// Append adds a sample to the window, evicting the oldest sample if the
// window is full. Returns false if the sample's timestamp is earlier than the
// last accepted one (equal timestamps are allowed).
func (w *Window) Append(s model.MarketSample) bool {
	if w.count > 0 && s.TS.Before(w.Last().TS) {
		return false
	}
	if w.count == len(w.buf) {
		w.buf[w.start] = s
		w.start = (w.start + 1) % len(w.buf)
		return true
	}
	w.buf[(w.start+w.count)%len(w.buf)] = s
	w.count++
	return true
}

// Len returns the number of samples currently held.
func (w *Window) Len() int { return w.count }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// At returns the i-th sample in insertion order (0 = oldest).
func (w *Window) At(i int) *model.MarketSample {
	return &w.buf[(w.start+i)%len(w.buf)]
}

// Last returns the most recently accepted sample. Window must be non-empty.
func (w *Window) Last() *model.MarketSample {
	return w.At(w.count - 1)
}

// Snapshot returns a copy of the window contents in insertion order.
func (w *Window) Snapshot() []model.MarketSample {
	out := make([]model.MarketSample, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = *w.At(i)
	}
	return out
}

// MidsSince returns the mid prices of all samples within the trailing
// duration measured from the newest sample's timestamp, oldest first.
func (w *Window) MidsSince(d time.Duration) []float64 {
	if w.count == 0 {
		return nil
	}
	cutoff := w.Last().TS.Add(-d)
	// Walk backwards to find the first in-range sample, then emit forward.
	first := w.count
	for i := w.count - 1; i >= 0; i-- {
		if w.At(i).TS.Before(cutoff) {
			break
		}
		first = i
	}
	mids := make([]float64, 0, w.count-first)
	for i := first; i < w.count; i++ {
		mids = append(mids, w.At(i).Mid)
	}
	return mids
}

// MidAt returns the mid price closest to offset before the newest sample's
// timestamp. ok is false when no sample lies within tolerance of the target.
func (w *Window) MidAt(offset, tolerance time.Duration) (float64, bool) {
	if w.count == 0 {
		return 0, false
	}
	target := w.Last().TS.Add(-offset)
	bestDiff := time.Duration(1<<63 - 1)
	best := 0.0
	found := false
	for i := w.count - 1; i >= 0; i-- {
		s := w.At(i)
		diff := s.TS.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestDiff = diff
			best = s.Mid
			found = true
		}
		// Past the target with growing distance: stop scanning.
		if s.TS.Before(target.Add(-tolerance)) {
			break
		}
	}
	if !found || bestDiff > tolerance {
		return 0, false
	}
	return best, true
}

// Store owns one Window per instrument key, created lazily on first append.
// Instruments are never removed for the process lifetime (bounded, known
// cardinality). Not safe for concurrent use across instruments that share a
// goroutine-owning caller; in the live pipeline each instrument unit holds
// its own Store-free Window, and Store exists for single-goroutine callers
// such as the backtester and tests.
type Store struct {
	capacity int
	windows  map[string]*Window
}

// NewStore creates a Store whose windows all share one capacity.
func NewStore(capacity int) *Store {
	return &Store{
		capacity: capacity,
		windows:  make(map[string]*Window, 8),
	}
}

// Append routes the sample to its instrument's window, creating the window on
// first use. Returns false on an out-of-order timestamp.
func (st *Store) Append(s model.MarketSample) bool {
	return st.Get(s.Instrument()).Append(s)
}

// Get returns the window for an instrument, creating it if needed.
func (st *Store) Get(key model.InstrumentKey) *Window {
	k := key.Key()
	w, ok := st.windows[k]
	if !ok {
		w = New(st.capacity)
		st.windows[k] = w
	}
	return w
}

// Len returns the number of instruments with a window.
func (st *Store) Len() int { return len(st.windows) }
