package model

import "time"

// FeatureVector holds the derived values computed from one instrument's
// rolling window at a single sample. Returns that cannot be computed yet
// (no sample far enough back) are NaN, so the struct is deliberately not
// JSON-encodable; values that downstream decisions depend on carry explicit
// readiness flags instead.
type FeatureVector struct {
	Source string
	Ticker string
	TS     time.Time
	Mid    float64

	ReturnShort  float64 // NaN until the short horizon is filled
	ReturnMedium float64 // NaN until the medium horizon is filled
	ReturnLong   float64 // NaN until the long horizon is filled

	Volatility      float64 // population stddev of mid over the vol sub-window
	VolatilityReady bool

	RSI      float64
	RSIReady bool

	ZScore      float64
	ZScoreReady bool

	RangeHigh  float64
	RangeLow   float64
	RangeReady bool

	// Liquidity features carried through from the sample.
	SpreadBps      float64
	ImpactBuyBps   float64
	ImpactSellBps  float64
	QuoteAgeMs     int64
	LongShortRatio float64 // 0 when OI data is absent
}

// Key returns "source:ticker" for map keying.
func (f *FeatureVector) Key() string {
	return f.Source + ":" + f.Ticker
}
