// Package signal implements the breakout/reclaim detection pipeline for one
// instrument: the detector state machine, the admission filter chain, the
// pending-signal tracker, and the engine that ties them together. All state
// is per-instrument and single-writer; time is always the sample clock, so
// live processing and historical replay run the identical code path.
package signal

import (
	"log"
	"time"

	"trapwatch/config"
	"trapwatch/internal/model"
)

// Direction of an active breakout.
type Direction int

const (
	DirUp Direction = iota
	DirDown
)

func (d Direction) String() string {
	if d == DirUp {
		return "UP"
	}
	return "DOWN"
}

// Candidate is a signal candidate produced by a reclaim, before filtering
// and before TP/SL construction.
type Candidate struct {
	Side          model.Side
	TS            time.Time
	EntryPrice    float64 // mid at reclaim
	BreakoutPrice float64 // extreme reached during the breakout
	RangeHigh     float64
	RangeLow      float64

	// RSI extremes observed while the breakout was active, for the momentum
	// confirmation filter. Valid only when RSISeen is true.
	RSIMax  float64
	RSIMin  float64
	RSISeen bool
}

// breakoutState records one active breakout. At most one exists per detector.
type breakoutState struct {
	dir       Direction
	startTS   time.Time
	startMid  float64
	extreme   float64 // running max (up) or min (down) since breakout
	rangeHigh float64 // range frozen at breakout time
	rangeLow  float64
	rsiMax    float64
	rsiMin    float64
	rsiSeen   bool
}

// Detector is the per-instrument breakout/reclaim state machine. Evaluation
// order each tick: timeout expiry, breakout registration (idle only, with
// up-direction precedence), extreme update, reclaim. A tick that reclaims
// never also registers a new breakout.
type Detector struct {
	cfg   config.Strategy
	state *breakoutState // nil when idle
}

// NewDetector creates a detector with the given parameters.
func NewDetector(cfg config.Strategy) *Detector {
	return &Detector{cfg: cfg}
}

// Active reports whether a breakout is currently being tracked.
func (d *Detector) Active() bool { return d.state != nil }

// ActiveDirection returns the direction of the active breakout.
// Only meaningful when Active() is true.
func (d *Detector) ActiveDirection() Direction {
	if d.state == nil {
		return DirUp
	}
	return d.state.dir
}

// Reset clears any active breakout.
func (d *Detector) Reset() { d.state = nil }

// Tick advances the state machine with a new feature vector and returns a
// candidate if this sample completed a reclaim, or nil.
func (d *Detector) Tick(fv *model.FeatureVector) *Candidate {
	// 1. Force-expire a breakout that outlived the reclaim timeout.
	if d.state != nil {
		elapsed := fv.TS.Sub(d.state.startTS)
		if elapsed > time.Duration(d.cfg.ReclaimTimeoutSec)*time.Second {
			d.state = nil
		}
	}

	// 2. Idle: check for a fresh breakout. Up takes precedence if both
	// boundaries were somehow crossed in one tick.
	if d.state == nil {
		if !fv.RangeReady {
			return nil
		}
		upThreshold := fv.RangeHigh * d.cfg.BreakoutThresholdBps / 10000
		downThreshold := fv.RangeLow * d.cfg.BreakoutThresholdBps / 10000
		switch {
		case fv.Mid > fv.RangeHigh+upThreshold:
			d.register(DirUp, fv)
		case fv.Mid < fv.RangeLow-downThreshold:
			d.register(DirDown, fv)
		}
		return nil
	}

	st := d.state

	// 3. Update running extremes while the breakout is active.
	if st.dir == DirUp {
		if fv.Mid > st.extreme {
			st.extreme = fv.Mid
		}
	} else {
		if fv.Mid < st.extreme {
			st.extreme = fv.Mid
		}
	}
	if fv.RSIReady {
		if !st.rsiSeen {
			st.rsiMax, st.rsiMin, st.rsiSeen = fv.RSI, fv.RSI, true
		} else {
			if fv.RSI > st.rsiMax {
				st.rsiMax = fv.RSI
			}
			if fv.RSI < st.rsiMin {
				st.rsiMin = fv.RSI
			}
		}
	}

	// 4. Reclaim: price back inside the range frozen at breakout time emits
	// the counter-trend candidate and returns to idle.
	if st.dir == DirUp && fv.Mid < st.rangeHigh {
		d.state = nil
		return d.candidate(model.SideShort, st, fv)
	}
	if st.dir == DirDown && fv.Mid > st.rangeLow {
		d.state = nil
		return d.candidate(model.SideLong, st, fv)
	}
	return nil
}

func (d *Detector) register(dir Direction, fv *model.FeatureVector) {
	st := &breakoutState{
		dir:       dir,
		startTS:   fv.TS,
		startMid:  fv.Mid,
		extreme:   fv.Mid,
		rangeHigh: fv.RangeHigh,
		rangeLow:  fv.RangeLow,
	}
	if fv.RSIReady {
		st.rsiMax, st.rsiMin, st.rsiSeen = fv.RSI, fv.RSI, true
	}
	d.state = st
	log.Printf("[detector] %s:%s breakout %s at %.4f (range %.4f..%.4f)",
		fv.Source, fv.Ticker, dir, fv.Mid, fv.RangeLow, fv.RangeHigh)
}

func (d *Detector) candidate(side model.Side, st *breakoutState, fv *model.FeatureVector) *Candidate {
	return &Candidate{
		Side:          side,
		TS:            fv.TS,
		EntryPrice:    fv.Mid,
		BreakoutPrice: st.extreme,
		RangeHigh:     st.rangeHigh,
		RangeLow:      st.rangeLow,
		RSIMax:        st.rsiMax,
		RSIMin:        st.rsiMin,
		RSISeen:       st.rsiSeen,
	}
}
