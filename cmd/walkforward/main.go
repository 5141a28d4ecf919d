// cmd/walkforward tiles a stored span into train/test slices, backtests each
// test slice independently, and reports per-slice and pooled metrics.
//
// Usage:
//
//	go run ./cmd/walkforward --instrument=variational:ETH --from=2025-06-01 --to=2025-06-11
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"trapwatch/config"
	"trapwatch/internal/backtest"
	"trapwatch/internal/model"
	sqlitestore "trapwatch/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	instrument := flag.String("instrument", "variational:ETH", "Instrument as source:ticker")
	fromStr := flag.String("from", "", "Span start (YYYY-MM-DD); default first stored sample")
	toStr := flag.String("to", "", "Span end (YYYY-MM-DD); default last stored sample")
	trainDays := flag.Int("train", 0, "Training window in days (0 = config default)")
	testDays := flag.Int("test", 0, "Test window in days (0 = config default)")
	stepDays := flag.Int("step", 0, "Slice advance in days (0 = config default)")
	dbPath := flag.String("db", "", "Path to SQLite database (default from config)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[walkforward] config: %v", err)
	}
	if *dbPath == "" {
		*dbPath = cfg.SQLitePath
	}
	if *trainDays > 0 {
		cfg.Strategy.WFTrainDays = *trainDays
	}
	if *testDays > 0 {
		cfg.Strategy.WFTestDays = *testDays
	}
	if *stepDays > 0 {
		cfg.Strategy.WFStepDays = *stepDays
	}

	key, err := parseInstrument(*instrument)
	if err != nil {
		log.Fatalf("[walkforward] %v", err)
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[walkforward] sqlite open failed: %v", err)
	}
	defer reader.Close()

	from, to, err := resolveSpan(reader, key, *fromStr, *toStr)
	if err != nil {
		log.Fatalf("[walkforward] %v", err)
	}
	log.Printf("[walkforward] %s span %s to %s (train=%dd test=%dd step=%dd)",
		key.Key(), from.Format("2006-01-02"), to.Format("2006-01-02"),
		cfg.Strategy.WFTrainDays, cfg.Strategy.WFTestDays, cfg.Strategy.WFStepDays)

	res, err := backtest.NewWalkForward(cfg.Strategy, reader).Run(key, from, to)
	if err != nil {
		log.Fatalf("[walkforward] run: %v", err)
	}
	if len(res.Slices) == 0 {
		log.Fatalf("[walkforward] span too short for %d+%d day slices",
			cfg.Strategy.WFTrainDays, cfg.Strategy.WFTestDays)
	}
	printResult(&res)

	if res.FailedSlices == len(res.Slices) {
		os.Exit(1)
	}
}

func parseInstrument(s string) (model.InstrumentKey, error) {
	src, ticker, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || src == "" || ticker == "" {
		return model.InstrumentKey{}, fmt.Errorf("invalid instrument %q, want source:ticker", s)
	}
	return model.InstrumentKey{Source: src, Ticker: ticker}, nil
}

func resolveSpan(reader *sqlitestore.Reader, key model.InstrumentKey,
	fromStr, toStr string) (time.Time, time.Time, error) {

	first, last, ok, err := reader.SampleSpan(key)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("no samples stored for %s", key.Key())
	}

	from, to := first, last.Add(time.Millisecond)
	if fromStr != "" {
		if from, err = time.Parse("2006-01-02", fromStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad --from: %w", err)
		}
	}
	if toStr != "" {
		if to, err = time.Parse("2006-01-02", toStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad --to: %w", err)
		}
	}
	return from, to, nil
}

func printResult(res *backtest.WalkForwardResult) {
	fmt.Println()
	fmt.Printf("  %-12s %-12s %9s %8s %10s %9s\n",
		"test from", "test to", "status", "trades", "pnl bps", "win rate")
	for i := range res.Slices {
		sl := &res.Slices[i]
		m := sl.Result.Metrics
		fmt.Printf("  %-12s %-12s %9s %8d %10.1f %9s\n",
			sl.Slice.TestFrom.Format("2006-01-02"),
			sl.Slice.TestTo.Format("2006-01-02"),
			sl.Result.Status, m.TotalTrades, m.TotalPnlBps, pct(m.WinRate))
	}

	m := res.PooledMetrics
	fmt.Println()
	fmt.Println("╔════════════════════════════════════════════╗")
	fmt.Println("║  WALK-FORWARD POOLED                       ║")
	fmt.Println("╠════════════════════════════════════════════╣")
	fmt.Printf("║  Slices run:        %-22d ║\n", len(res.Slices))
	fmt.Printf("║  Slices failed:     %-22d ║\n", res.FailedSlices)
	fmt.Printf("║  Trades pooled:     %-22d ║\n", m.TotalTrades)
	fmt.Printf("║  Win rate:          %-22s ║\n", pct(m.WinRate))
	fmt.Printf("║  Win rate by slice: %-22s ║\n",
		fmt.Sprintf("%s ± %s (n=%d)", pct(res.Stability.AvgWinRate),
			pct(res.Stability.StdWinRate), res.Stability.SlicesWithTrades))
	fmt.Printf("║  Win rate range:    %-22s ║\n",
		fmt.Sprintf("%s .. %s", pct(res.Stability.MinWinRate), pct(res.Stability.MaxWinRate)))
	fmt.Printf("║  Total P&L:         %-22s ║\n", fmt.Sprintf("%.1f bps", m.TotalPnlBps))
	fmt.Printf("║  Max drawdown:      %-22s ║\n", fmt.Sprintf("%.1f bps", m.MaxDrawdownBps))
	fmt.Printf("║  Profit factor:     %-22s ║\n", ratio(m.ProfitFactor, m.ProfitFactorDefined))
	fmt.Printf("║  Sharpe:            %-22s ║\n", ratio(m.Sharpe, m.SharpeDefined))
	fmt.Printf("║  Sortino:           %-22s ║\n", ratio(m.Sortino, m.SortinoDefined))
	fmt.Printf("║  Calmar:            %-22s ║\n", ratio(m.Calmar, m.CalmarDefined))
	fmt.Println("╚════════════════════════════════════════════╝")
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func ratio(v float64, defined bool) string {
	if !defined {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}
