// cmd/backtest replays stored samples for one instrument through the
// detection pipeline and prints the resulting trade ledger and metrics.
//
// Usage:
//
//	go run ./cmd/backtest --instrument=variational:ETH --days=7
//	go run ./cmd/backtest --instrument=bybit:ETH --from=2025-06-01 --to=2025-06-08
//	go run ./cmd/backtest --instrument=variational:ETH --days=7 --signals
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
	fromStr := flag.String("from", "", "Replay start (YYYY-MM-DD); default derived from --days")
	toStr := flag.String("to", "", "Replay end (YYYY-MM-DD); default last stored sample")
	days := flag.Int("days", 0, "Replay the last N days (ignored when --from is set; 0 = config default)")
	dbPath := flag.String("db", "", "Path to SQLite database (default from config)")
	save := flag.Bool("save", true, "Persist the run to the backtest_runs table")
	listSignals := flag.Bool("signals", false, "List signals the live daemon stored for the span instead of replaying")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[backtest] config: %v", err)
	}
	if *dbPath == "" {
		*dbPath = cfg.SQLitePath
	}

	key, err := parseInstrument(*instrument)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer reader.Close()

	from, to, err := resolveSpan(reader, key, *fromStr, *toStr, *days, cfg.Strategy.BacktestDefaultDays)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	log.Printf("[backtest] %s from %s to %s", key.Key(),
		from.Format("2006-01-02 15:04"), to.Format("2006-01-02 15:04"))

	if *listSignals {
		sigs, err := reader.ReadSignals(key, from, to)
		if err != nil {
			log.Fatalf("[backtest] read signals: %v", err)
		}
		printSignals(sigs)
		return
	}

	samples, err := reader.ReadSamples(key, from, to)
	if err != nil {
		log.Fatalf("[backtest] read samples: %v", err)
	}
	if len(samples) == 0 {
		log.Fatalf("[backtest] no samples stored for %s in span", key.Key())
	}
	log.Printf("[backtest] replaying %d samples", len(samples))

	res := backtest.New(cfg.Strategy).Run(key, samples)
	printResult(&res)

	if *save {
		writer, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
		if err != nil {
			log.Printf("[backtest] WARNING: cannot open writer to save run: %v", err)
		} else {
			defer writer.Close()
			if err := writer.SaveBacktestRun(&res); err != nil {
				log.Printf("[backtest] WARNING: save run: %v", err)
			}
		}
	}

	if res.Status == backtest.RunFailed {
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
	fromStr, toStr string, days, defaultDays int) (time.Time, time.Time, error) {

	first, last, ok, err := reader.SampleSpan(key)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("no samples stored for %s", key.Key())
	}

	to := last.Add(time.Millisecond) // half-open upper bound includes the last sample
	if toStr != "" {
		if to, err = time.Parse("2006-01-02", toStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad --to: %w", err)
		}
	}

	var from time.Time
	switch {
	case fromStr != "":
		if from, err = time.Parse("2006-01-02", fromStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad --from: %w", err)
		}
	case days > 0:
		from = to.AddDate(0, 0, -days)
	default:
		from = to.AddDate(0, 0, -defaultDays)
	}
	if from.Before(first) {
		from = first
	}
	return from, to, nil
}

func printResult(res *backtest.Result) {
	m := res.Metrics
	fmt.Println()
	fmt.Println("╔════════════════════════════════════════════╗")
	fmt.Printf("║  BACKTEST %-33s ║\n", res.Status)
	fmt.Println("╠════════════════════════════════════════════╣")
	fmt.Printf("║  Samples replayed:  %-22d ║\n", res.Samples)
	fmt.Printf("║  Data defects:      %-22d ║\n", res.Defects)
	fmt.Printf("║  Signals emitted:   %-22d ║\n", res.Signals)
	fmt.Printf("║  Trades closed:     %-22d ║\n", m.TotalTrades)
	fmt.Printf("║  Win rate:          %-22s ║\n", pct(m.WinRate))
	fmt.Printf("║  Total P&L:         %-22s ║\n", fmt.Sprintf("%.1f bps", m.TotalPnlBps))
	fmt.Printf("║  Avg win / loss:    %-22s ║\n",
		fmt.Sprintf("%.1f / %.1f bps", m.AvgWinBps, m.AvgLossBps))
	fmt.Printf("║  Max drawdown:      %-22s ║\n", fmt.Sprintf("%.1f bps", m.MaxDrawdownBps))
	fmt.Printf("║  Profit factor:     %-22s ║\n", ratio(m.ProfitFactor, m.ProfitFactorDefined))
	fmt.Printf("║  Sharpe:            %-22s ║\n", ratio(m.Sharpe, m.SharpeDefined))
	fmt.Printf("║  Sortino:           %-22s ║\n", ratio(m.Sortino, m.SortinoDefined))
	fmt.Println("╚════════════════════════════════════════════╝")
	if res.Error != "" {
		fmt.Printf("  error: %s\n", res.Error)
	}

	for i := range res.Trades {
		tr := &res.Trades[i]
		fmt.Printf("  [%s] %s %s entry=%.4f exit=%.4f pnl=%+.1fbps %s\n",
			tr.TS.Format("2006-01-02 15:04:05"), tr.Side, tr.Status,
			tr.EntryPrice, tr.ExitPrice, tr.PnlBps, tr.Rationale)
	}
}

func printSignals(sigs []model.Signal) {
	if len(sigs) == 0 {
		fmt.Println("  no signals stored in span")
		return
	}
	for i := range sigs {
		s := &sigs[i]
		line := fmt.Sprintf("  [%s] %s %s %s entry=%.4f tp=%.4f sl=%.4f conf=%.2f",
			s.TS.Format("2006-01-02 15:04:05"), s.Key(), s.Side, s.Status,
			s.EntryPrice, s.TPPrice, s.SLPrice, s.Confidence)
		if s.Status.Terminal() {
			line += fmt.Sprintf(" exit=%.4f pnl=%+.1fbps", s.ExitPrice, s.PnlBps)
		}
		fmt.Println(line)
	}
	fmt.Printf("  %d signals\n", len(sigs))
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
