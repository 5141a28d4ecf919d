package feature

import (
	"math"
	"time"

	"trapwatch/config"
	"trapwatch/internal/model"
	"trapwatch/internal/window"
)

// Engine computes a FeatureVector for each new sample from the instrument's
// window. It is stateless apart from its configuration; all history lives in
// the window, so replays through identical windows are bit-for-bit identical.
type Engine struct {
	cfg config.Strategy
}

// NewEngine creates a feature engine with the given strategy parameters.
func NewEngine(cfg config.Strategy) *Engine {
	return &Engine{cfg: cfg}
}

// Compute derives the feature vector for the newest sample in w. ready is
// false during warm-up (window below the configured minimum count), in which
// case the vector must not be fed to the detector or filters.
func (e *Engine) Compute(w *window.Window, s *model.MarketSample) (model.FeatureVector, bool) {
	fv := model.FeatureVector{
		Source:        s.Source,
		Ticker:        s.Ticker,
		TS:            s.TS,
		Mid:           s.Mid,
		ReturnShort:   math.NaN(),
		ReturnMedium:  math.NaN(),
		ReturnLong:    math.NaN(),
		SpreadBps:     s.SpreadBps,
		ImpactBuyBps:  s.ImpactBuyBps,
		ImpactSellBps: s.ImpactSellBps,
		QuoteAgeMs:    s.QuoteAgeMs,
	}
	if s.LongOI > 0 && s.ShortOI > 0 {
		fv.LongShortRatio = s.LongOI / s.ShortOI
	}

	if w.Len() < e.cfg.WarmupCount {
		return fv, false
	}

	tol := time.Duration(e.cfg.OffsetToleranceSec) * time.Second
	if prev, ok := w.MidAt(time.Duration(e.cfg.ReturnShortSec)*time.Second, tol); ok {
		fv.ReturnShort = Return(s.Mid, prev)
	}
	if prev, ok := w.MidAt(time.Duration(e.cfg.ReturnMediumSec)*time.Second, tol); ok {
		fv.ReturnMedium = Return(s.Mid, prev)
	}
	if prev, ok := w.MidAt(time.Duration(e.cfg.ReturnLongSec)*time.Second, tol); ok {
		fv.ReturnLong = Return(s.Mid, prev)
	}

	volMids := w.MidsSince(time.Duration(e.cfg.VolWindowSec) * time.Second)
	fv.Volatility, fv.VolatilityReady = StdDev(volMids)

	// z-score of the current mid against an EMA mean of the vol sub-window.
	// The EMA period shrinks with available data, capped at 30 (matching the
	// upstream sampling cadence of roughly one sample per 2s).
	emaPeriod := len(volMids)
	if emaPeriod > 30 {
		emaPeriod = 30
	}
	if mean, ok := EMA(volMids, emaPeriod); ok && fv.VolatilityReady {
		fv.ZScore, fv.ZScoreReady = ZScore(s.Mid, mean, fv.Volatility)
	}

	rangeMids := w.MidsSince(time.Duration(e.cfg.RangeWindowMin) * time.Minute)
	fv.RSI, fv.RSIReady = RSI(rangeMids, e.cfg.RSIPeriod)

	// The range excludes the newest sample: a breakout is the current mid
	// leaving the range established by the samples before it. Including the
	// current mid would make the breakout condition unsatisfiable.
	priorMids := rangeMids
	if len(priorMids) > 0 {
		priorMids = priorMids[:len(priorMids)-1]
	}
	if len(priorMids) >= 2 {
		high, low := priorMids[0], priorMids[0]
		for _, m := range priorMids[1:] {
			if m > high {
				high = m
			}
			if m < low {
				low = m
			}
		}
		fv.RangeHigh = high
		fv.RangeLow = low
		fv.RangeReady = high > low
	}

	return fv, true
}
