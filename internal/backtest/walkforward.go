package backtest

import (
	"log"
	"math"
	"time"

	"trapwatch/config"
	"trapwatch/internal/model"
)

// Slice is one train/test pair of a walk-forward tiling. The train window
// marks provenance only; detection parameters are fixed configuration, not
// fitted per slice.
type Slice struct {
	TrainFrom time.Time `json:"train_from"`
	TrainTo   time.Time `json:"train_to"`
	TestFrom  time.Time `json:"test_from"`
	TestTo    time.Time `json:"test_to"`
}

// GenerateSlices tiles [start, end) with successive train/test windows,
// advancing by step each iteration, stopping when the test slice would
// cross end. Non-positive window sizes yield no slices.
func GenerateSlices(start, end time.Time, train, test, step time.Duration) []Slice {
	if train <= 0 || test <= 0 || step <= 0 {
		return nil
	}
	var slices []Slice
	for from := start; ; from = from.Add(step) {
		trainTo := from.Add(train)
		testTo := trainTo.Add(test)
		if testTo.After(end) {
			break
		}
		slices = append(slices, Slice{
			TrainFrom: from,
			TrainTo:   trainTo,
			TestFrom:  trainTo,
			TestTo:    testTo,
		})
	}
	return slices
}

// SliceResult pairs a test slice with its backtest outcome.
type SliceResult struct {
	Slice  Slice  `json:"slice"`
	Result Result `json:"result"`
}

// Stability summarizes win-rate dispersion across the test slices that
// closed at least one trade. A strategy whose pooled numbers come from one
// lucky slice shows up here as a wide spread.
type Stability struct {
	SlicesWithTrades int     `json:"slices_with_trades"`
	AvgWinRate       float64 `json:"avg_win_rate"`
	StdWinRate       float64 `json:"std_win_rate"`
	MinWinRate       float64 `json:"min_win_rate"`
	MaxWinRate       float64 `json:"max_win_rate"`
}

// WalkForwardResult aggregates every test slice of one walk-forward run.
// Pooled metrics are computed over the union of all slice ledgers rather
// than averaged per slice, so low-trade slices do not bias the estimate.
type WalkForwardResult struct {
	Key    model.InstrumentKey `json:"instrument"`
	From   time.Time           `json:"from"`
	To     time.Time           `json:"to"`
	Slices []SliceResult       `json:"slices"`

	PooledTrades  []model.Signal `json:"pooled_trades"`
	PooledMetrics Metrics        `json:"pooled_metrics"`
	Stability     Stability      `json:"stability"`
	FailedSlices  int            `json:"failed_slices"`
}

// WalkForwardRunner drives one backtest per test slice over a span.
type WalkForwardRunner struct {
	cfg    config.Strategy
	reader model.SampleReader
}

// NewWalkForward creates a runner that loads each slice's samples from
// reader.
func NewWalkForward(cfg config.Strategy, reader model.SampleReader) *WalkForwardRunner {
	return &WalkForwardRunner{cfg: cfg, reader: reader}
}

// Run tiles [from, to) per the configured train/test/step day counts and
// executes an independent backtest per test slice. A slice whose samples
// cannot be loaded is marked FAILED and the remaining slices still run.
func (r *WalkForwardRunner) Run(key model.InstrumentKey, from, to time.Time) (WalkForwardResult, error) {
	day := 24 * time.Hour
	slices := GenerateSlices(from, to,
		time.Duration(r.cfg.WFTrainDays)*day,
		time.Duration(r.cfg.WFTestDays)*day,
		time.Duration(r.cfg.WFStepDays)*day)

	out := WalkForwardResult{Key: key, From: from, To: to}
	bt := New(r.cfg)

	for _, sl := range slices {
		samples, err := r.reader.ReadSamples(key, sl.TestFrom, sl.TestTo)
		if err != nil {
			log.Printf("[walkforward] %s slice %s..%s: load failed: %v",
				key.Key(), sl.TestFrom.Format("2006-01-02"), sl.TestTo.Format("2006-01-02"), err)
			out.Slices = append(out.Slices, SliceResult{
				Slice:  sl,
				Result: Result{Key: key, From: sl.TestFrom, To: sl.TestTo, Status: RunFailed, Error: err.Error()},
			})
			out.FailedSlices++
			continue
		}

		res := bt.Run(key, samples)
		res.From, res.To = sl.TestFrom, sl.TestTo
		if res.Status == RunFailed {
			out.FailedSlices++
		}
		out.Slices = append(out.Slices, SliceResult{Slice: sl, Result: res})
		out.PooledTrades = append(out.PooledTrades, res.Trades...)
	}

	out.PooledMetrics = ComputeMetrics(out.PooledTrades, r.cfg.SharpePeriodsPerYear, r.cfg.RiskFreeRate)
	out.Stability = computeStability(out.Slices)
	return out, nil
}

// computeStability aggregates per-slice win rates over slices with trades.
func computeStability(slices []SliceResult) Stability {
	var st Stability
	var rates []float64
	for i := range slices {
		m := &slices[i].Result.Metrics
		if m.TotalTrades == 0 {
			continue
		}
		rates = append(rates, m.WinRate)
	}
	st.SlicesWithTrades = len(rates)
	if len(rates) == 0 {
		return st
	}

	st.MinWinRate, st.MaxWinRate = rates[0], rates[0]
	sum := 0.0
	for _, r := range rates {
		sum += r
		if r < st.MinWinRate {
			st.MinWinRate = r
		}
		if r > st.MaxWinRate {
			st.MaxWinRate = r
		}
	}
	st.AvgWinRate = sum / float64(len(rates))

	variance := 0.0
	for _, r := range rates {
		d := r - st.AvgWinRate
		variance += d * d
	}
	st.StdWinRate = math.Sqrt(variance / float64(len(rates)))
	return st
}
