package model

import (
	"encoding/json"
	"time"
)

// Side is the direction of a trade signal.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// SignalStatus is the lifecycle state of a signal. A signal transitions from
// PENDING to exactly one terminal state and never changes again.
type SignalStatus string

const (
	StatusPending SignalStatus = "PENDING"
	StatusTPHit   SignalStatus = "TP_HIT"
	StatusSLHit   SignalStatus = "SL_HIT"
	StatusExpired SignalStatus = "EXPIRED"
)

// Terminal reports whether the status is a terminal state.
func (s SignalStatus) Terminal() bool {
	return s == StatusTPHit || s == StatusSLHit || s == StatusExpired
}

// Signal is one breakout-reclaim trade signal with explicit TP/SL levels.
// TP and SL are set so that |TP-entry| / |entry-SL| equals the configured
// reward:risk ratio. A resolved signal doubles as the trade record.
type Signal struct {
	ID            int64     `json:"id"`
	Source        string    `json:"source"`
	Ticker        string    `json:"ticker"`
	TS            time.Time `json:"ts"` // creation time (sample clock)
	Side          Side      `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	TPPrice       float64   `json:"tp_price"`
	SLPrice       float64   `json:"sl_price"`
	BreakoutPrice float64   `json:"breakout_price"` // extreme reached during the breakout
	ReclaimPrice  float64   `json:"reclaim_price"`
	RangeHigh     float64   `json:"range_high"`
	RangeLow      float64   `json:"range_low"`
	Confidence    float64   `json:"confidence"`
	Rationale     string    `json:"rationale"`
	FiltersPassed []string  `json:"filters_passed"`

	Status    SignalStatus `json:"status"`
	ExitPrice float64      `json:"exit_price,omitempty"`
	PnlBps    float64      `json:"pnl_bps,omitempty"`
	ClosedAt  time.Time    `json:"closed_at,omitempty"`
}

// Instrument returns the signal's instrument key.
func (s *Signal) Instrument() InstrumentKey {
	return InstrumentKey{Source: s.Source, Ticker: s.Ticker}
}

// Key returns "source:ticker" for map keying.
func (s *Signal) Key() string {
	return s.Source + ":" + s.Ticker
}

// Win reports whether the closed signal was profitable.
func (s *Signal) Win() bool {
	return s.PnlBps > 0
}

// JSON returns the JSON-encoded signal (ignoring errors for hot-path usage).
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
