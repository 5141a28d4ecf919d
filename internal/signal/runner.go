package signal

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"trapwatch/config"
	"trapwatch/internal/model"
)

const unitBuffer = 256

// unit is one instrument's goroutine: a buffered inbox feeding a private
// Engine.
type unit struct {
	inbox  chan model.MarketSample
	engine *Engine
}

// Router fans samples out to per-instrument engines, one goroutine each.
// Dispatch is non-blocking: a full inbox drops the sample and bumps a
// counter rather than stalling the feed.
type Router struct {
	cfg config.Strategy
	cb  Callbacks

	mu    sync.Mutex
	units map[string]*unit
	wg    sync.WaitGroup
	ctx   context.Context

	dropped atomic.Int64
}

// NewRouter creates a router. Callbacks are shared by every engine and run
// on the owning instrument's goroutine, so they must be safe for concurrent
// use across instruments.
func NewRouter(cfg config.Strategy, cb Callbacks) *Router {
	return &Router{
		cfg:   cfg,
		cb:    cb,
		units: make(map[string]*unit, 8),
	}
}

// Run consumes samples until ctx is cancelled or sampleCh closes, then shuts
// every unit down and waits for them to drain.
func (r *Router) Run(ctx context.Context, sampleCh <-chan model.MarketSample) {
	r.ctx = ctx
	defer r.stopUnits()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-sampleCh:
			if !ok {
				return
			}
			r.dispatch(s)
		}
	}
}

// Dropped returns the number of samples discarded on full inboxes.
func (r *Router) Dropped() int64 { return r.dropped.Load() }

// Stats returns per-instrument engine counters keyed by "source:ticker".
// Engines mutate their stats on their own goroutines; call after Run returns
// for exact values, or during a run for an approximate view.
func (r *Router) Stats() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Stats, len(r.units))
	for k, u := range r.units {
		out[k] = u.engine.Stats()
	}
	return out
}

func (r *Router) dispatch(s model.MarketSample) {
	u := r.unitFor(s.Instrument())
	select {
	case u.inbox <- s:
	default:
		if r.dropped.Add(1)%1000 == 1 {
			log.Printf("[router] %s inbox full, dropping (total dropped: %d)",
				s.Key(), r.dropped.Load())
		}
	}
}

func (r *Router) unitFor(key model.InstrumentKey) *unit {
	k := key.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.units[k]; ok {
		return u
	}
	u := &unit{
		inbox:  make(chan model.MarketSample, unitBuffer),
		engine: NewEngine(key, r.cfg, r.cb),
	}
	r.units[k] = u
	r.wg.Add(1)
	go r.runUnit(k, u)
	log.Printf("[router] started unit for %s", k)
	return u
}

func (r *Router) runUnit(key string, u *unit) {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			u.engine.Finish()
			return
		case s, ok := <-u.inbox:
			if !ok {
				u.engine.Finish()
				return
			}
			u.engine.Process(&s)
		}
	}
}

func (r *Router) stopUnits() {
	r.mu.Lock()
	for _, u := range r.units {
		close(u.inbox)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
