package backtest

import (
	"fmt"
	"log"
	"time"

	"trapwatch/config"
	"trapwatch/internal/model"
	"trapwatch/internal/signal"
)

// RunStatus is the terminal state of a replay.
type RunStatus string

const (
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// Result is one finished backtest run. On failure the partial ledger and
// metrics up to the abort point are retained for inspection.
type Result struct {
	Key    model.InstrumentKey `json:"instrument"`
	From   time.Time           `json:"from"`
	To     time.Time           `json:"to"`
	Status RunStatus           `json:"status"`
	Error  string              `json:"error,omitempty"`

	Samples int `json:"samples"`
	Defects int `json:"defects"`
	Signals int `json:"signals"`

	Trades  []model.Signal `json:"trades"`
	Metrics Metrics        `json:"metrics"`
	Equity  []EquityPoint  `json:"equity"`
}

// Backtester replays a time-ordered sample sequence through a fresh copy of
// the live pipeline. All elapsed-time decisions inside the pipeline use
// sample timestamps, so two replays of the same sequence produce identical
// ledgers. Strictly single-threaded.
type Backtester struct {
	cfg config.Strategy
}

// New creates a backtester with the given strategy parameters.
func New(cfg config.Strategy) *Backtester {
	return &Backtester{cfg: cfg}
}

// Run replays samples for one instrument. Samples must be ordered by
// timestamp; a regression within the configured tolerance is skipped as a
// data defect, a larger one aborts the run as FAILED with the partial
// ledger retained. Open signals at the end of the span are force-expired at
// the last mid so the ledger never contains open positions.
func (b *Backtester) Run(key model.InstrumentKey, samples []model.MarketSample) Result {
	res := Result{Key: key, Status: RunCompleted}
	if len(samples) > 0 {
		res.From = samples[0].TS
		res.To = samples[len(samples)-1].TS
	}

	var trades []model.Signal
	eng := signal.NewEngine(key, b.cfg, signal.Callbacks{
		OnTrade: func(sig *model.Signal) { trades = append(trades, *sig) },
	})

	tolerance := time.Duration(b.cfg.MonotonicToleranceSec) * time.Second
	var lastTS time.Time
	for i := range samples {
		s := &samples[i]
		if !lastTS.IsZero() && s.TS.Before(lastTS.Add(-tolerance)) {
			res.Status = RunFailed
			res.Error = fmt.Sprintf("timestamp regression at sample %d: %s after %s",
				i, s.TS.Format(time.RFC3339), lastTS.Format(time.RFC3339))
			log.Printf("[backtest] %s aborted: %s", key.Key(), res.Error)
			break
		}
		if s.TS.After(lastTS) {
			lastTS = s.TS
		}
		eng.Process(s)
	}
	eng.Finish()

	st := eng.Stats()
	res.Samples = int(st.Samples)
	res.Defects = int(st.Defects)
	res.Signals = int(st.Signals)
	res.Trades = trades
	res.Metrics = ComputeMetrics(trades, b.cfg.SharpePeriodsPerYear, b.cfg.RiskFreeRate)
	res.Equity = EquityCurve(trades)
	return res
}
