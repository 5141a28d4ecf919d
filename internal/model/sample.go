package model

import (
	"encoding/json"
	"time"
)

// InstrumentKey identifies one (data source, ticker) pair. All per-instrument
// pipeline state is keyed by this pair.
type InstrumentKey struct {
	Source string `json:"source"`
	Ticker string `json:"ticker"`
}

// Key returns the canonical string form: "source:ticker".
func (k InstrumentKey) Key() string {
	return k.Source + ":" + k.Ticker
}

// MarketSample is one normalized periodic market observation.
// Prices are in quote currency (float64); liquidity metrics are in bps.
// Optional fields (funding, OI, volume) are zero when the upstream source
// did not report them.
type MarketSample struct {
	Source        string    `json:"source"`
	Ticker        string    `json:"ticker"`
	TS            time.Time `json:"ts"` // UTC observation time
	Mid           float64   `json:"mid"`
	Bid1k         float64   `json:"bid_1k"` // bid price for a $1k clip
	Ask1k         float64   `json:"ask_1k"`
	SpreadBps     float64   `json:"spread_bps"`
	ImpactBuyBps  float64   `json:"impact_buy_bps"`
	ImpactSellBps float64   `json:"impact_sell_bps"`
	QuoteAgeMs    int64     `json:"quote_age_ms"`
	FundingRate   float64   `json:"funding_rate"`
	LongOI        float64   `json:"long_oi"`
	ShortOI       float64   `json:"short_oi"`
	Volume24h     float64   `json:"volume_24h"`
}

// Instrument returns the sample's instrument key.
func (s *MarketSample) Instrument() InstrumentKey {
	return InstrumentKey{Source: s.Source, Ticker: s.Ticker}
}

// Key returns "source:ticker" for map keying.
func (s *MarketSample) Key() string {
	return s.Source + ":" + s.Ticker
}

// JSON returns the JSON-encoded sample (ignoring errors for hot-path usage).
func (s *MarketSample) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
