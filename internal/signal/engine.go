package signal

import (
	"fmt"
	"sync/atomic"

	"trapwatch/config"
	"trapwatch/internal/feature"
	"trapwatch/internal/model"
	"trapwatch/internal/window"
)

// signalSeq assigns signal IDs, unique within one process run. Persistence
// never keys on the id, so the restart back to 1 is harmless.
var signalSeq atomic.Int64

// Callbacks receive pipeline events. Nil callbacks are skipped. They are
// invoked synchronously on the caller's goroutine, so live callers must keep
// them cheap (hand off to channels) while replays rely on the synchrony for
// determinism.
type Callbacks struct {
	// OnSignal fires when a candidate clears the filter chain and becomes
	// a pending signal.
	OnSignal func(sig *model.Signal)

	// OnTrade fires when a pending signal resolves (TP, SL, or expiry).
	OnTrade func(sig *model.Signal)

	// OnReject fires when a candidate is dropped by an admission filter.
	OnReject func(c *Candidate, filter, reason string)

	// OnDefect fires when a sample is rejected before windowing.
	OnDefect func(s *model.MarketSample)
}

// Stats counts what the engine did with its input.
type Stats struct {
	Samples      int64 // accepted samples
	Defects      int64 // samples rejected before windowing
	Candidates   int64 // reclaims produced by the detector
	Rejected     int64 // candidates dropped by a filter
	Signals      int64 // pending signals emitted
	Trades       int64 // resolved signals
	WarmupSkips  int64 // samples processed during warm-up
	PendingSkips int64 // detector ticks skipped because a signal was pending
}

// Engine is the single-instrument pipeline core: window, feature
// computation, breakout detector, admission filters, and pending-signal
// tracker. It is not safe for concurrent use; the Router gives each
// instrument its own engine and goroutine, and the backtester drives one
// engine from one loop.
type Engine struct {
	key      model.InstrumentKey
	cfg      config.Strategy
	win      *window.Window
	features *feature.Engine
	detector *Detector
	chain    *Chain
	tracker  *Tracker
	cb       Callbacks
	stats    Stats
}

// NewEngine creates an engine for one instrument.
func NewEngine(key model.InstrumentKey, cfg config.Strategy, cb Callbacks) *Engine {
	return &Engine{
		key:      key,
		cfg:      cfg,
		win:      window.New(cfg.WindowCapacity),
		features: feature.NewEngine(cfg),
		detector: NewDetector(cfg),
		chain:    NewChain(cfg),
		tracker:  NewTracker(cfg.SignalMaxAgeSec),
		cb:       cb,
	}
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats { return e.stats }

// PendingCount returns the number of open signals.
func (e *Engine) PendingCount() int { return e.tracker.PendingCount() }

// Window exposes the rolling window for inspection.
func (e *Engine) Window() *window.Window { return e.win }

// Process runs one sample through the full pipeline. It returns false when
// the sample was rejected as defective (wrong instrument, non-positive mid,
// or out of order) and true otherwise.
func (e *Engine) Process(s *model.MarketSample) bool {
	if s.Source != e.key.Source || s.Ticker != e.key.Ticker {
		return e.defect(s)
	}
	if s.Mid <= 0 || s.TS.IsZero() {
		return e.defect(s)
	}
	if !e.win.Append(*s) {
		return e.defect(s)
	}
	e.stats.Samples++

	fv, ready := e.features.Compute(e.win, s)

	// Resolution runs on every sample, warm or not: a pending signal's TP/SL
	// must react to each price even while features are still filling in.
	for _, sig := range e.tracker.Tick(s.TS, s.Mid) {
		e.stats.Trades++
		if e.cb.OnTrade != nil {
			e.cb.OnTrade(sig)
		}
	}

	if !ready {
		e.stats.WarmupSkips++
		return true
	}

	if e.cfg.SinglePosition && e.tracker.PendingCount() > 0 {
		e.stats.PendingSkips++
		return true
	}

	c := e.detector.Tick(&fv)
	if c == nil {
		return true
	}
	e.stats.Candidates++

	passed, rejectedBy, reason := e.chain.Check(c, &fv)
	if rejectedBy != "" {
		e.stats.Rejected++
		if e.cb.OnReject != nil {
			e.cb.OnReject(c, rejectedBy, reason)
		}
		return true
	}

	sig := e.buildSignal(c, &fv, passed)
	e.tracker.Add(sig)
	e.stats.Signals++
	if e.cb.OnSignal != nil {
		e.cb.OnSignal(sig)
	}
	return true
}

func (e *Engine) defect(s *model.MarketSample) bool {
	e.stats.Defects++
	if e.cb.OnDefect != nil {
		e.cb.OnDefect(s)
	}
	return false
}

// Finish force-expires all pending signals at the last seen mid. Replay
// callers invoke it after the final sample; live callers on shutdown.
func (e *Engine) Finish() {
	if e.win.Len() == 0 {
		return
	}
	last := e.win.Last()
	for _, sig := range e.tracker.CloseAll(last.TS, last.Mid) {
		e.stats.Trades++
		if e.cb.OnTrade != nil {
			e.cb.OnTrade(sig)
		}
	}
}

// buildSignal turns an admitted candidate into a pending signal. The stop
// sits beyond the breakout extreme with a small buffer; the target is placed
// so reward/risk equals the configured ratio.
func (e *Engine) buildSignal(c *Candidate, fv *model.FeatureVector, passed []string) *model.Signal {
	entry := c.EntryPrice
	buffer := entry * e.cfg.SLBufferBps / 10000

	var sl, tp float64
	if c.Side == model.SideShort {
		sl = c.BreakoutPrice + buffer
		risk := sl - entry
		tp = entry - e.cfg.RRRatio*risk
	} else {
		sl = c.BreakoutPrice - buffer
		risk := entry - sl
		tp = entry + e.cfg.RRRatio*risk
	}

	sig := &model.Signal{
		ID:            signalSeq.Add(1),
		Source:        e.key.Source,
		Ticker:        e.key.Ticker,
		TS:            c.TS,
		Side:          c.Side,
		EntryPrice:    entry,
		TPPrice:       tp,
		SLPrice:       sl,
		BreakoutPrice: c.BreakoutPrice,
		ReclaimPrice:  entry,
		RangeHigh:     c.RangeHigh,
		RangeLow:      c.RangeLow,
		Confidence:    e.confidence(c, fv),
		Rationale:     e.rationale(c),
		FiltersPassed: passed,
		Status:        model.StatusPending,
	}
	return sig
}

// confidence scores the candidate: 0.5 base, +0.2 when RSI reached the full
// extreme zone during the breakout, +0.1 when positioning leans against the
// reclaim direction (crowded longs for a short, crowded shorts for a long).
func (e *Engine) confidence(c *Candidate, fv *model.FeatureVector) float64 {
	conf := 0.5
	if c.RSISeen {
		if c.Side == model.SideShort && c.RSIMax >= e.cfg.RSIOverbought {
			conf += 0.2
		}
		if c.Side == model.SideLong && c.RSIMin <= e.cfg.RSIOversold {
			conf += 0.2
		}
	}
	if fv.LongShortRatio > 0 {
		if c.Side == model.SideShort && fv.LongShortRatio > 1 {
			conf += 0.1
		}
		if c.Side == model.SideLong && fv.LongShortRatio < 1 {
			conf += 0.1
		}
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

func (e *Engine) rationale(c *Candidate) string {
	if c.Side == model.SideShort {
		return fmt.Sprintf("false breakout above range high %.4f peaked at %.4f, reclaimed at %.4f",
			c.RangeHigh, c.BreakoutPrice, c.EntryPrice)
	}
	return fmt.Sprintf("false breakdown below range low %.4f bottomed at %.4f, reclaimed at %.4f",
		c.RangeLow, c.BreakoutPrice, c.EntryPrice)
}
