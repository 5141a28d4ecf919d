package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"trapwatch/internal/backtest"
	"trapwatch/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/trapwatch.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
// Samples are append-only; signals are upserted by instrument and creation
// time so a resolution overwrites its pending row. Signal ids restart per
// process and are stored as a plain column, never as the row key.
type Writer struct {
	db *sql.DB

	// OnCommit, if set, is called with each successful batch commit duration.
	OnCommit func(d time.Duration, rows int)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer connection pool
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS samples (
			source          TEXT    NOT NULL,
			ticker          TEXT    NOT NULL,
			ts_ms           INTEGER NOT NULL,
			mid             REAL    NOT NULL,
			bid_1k          REAL,
			ask_1k          REAL,
			spread_bps      REAL,
			impact_buy_bps  REAL,
			impact_sell_bps REAL,
			quote_age_ms    INTEGER,
			funding_rate    REAL,
			long_oi         REAL,
			short_oi        REAL,
			volume_24h      REAL,
			PRIMARY KEY (source, ticker, ts_ms)
		);

		CREATE TABLE IF NOT EXISTS signals (
			id             INTEGER NOT NULL,
			source         TEXT    NOT NULL,
			ticker         TEXT    NOT NULL,
			ts_ms          INTEGER NOT NULL,
			side           TEXT    NOT NULL,
			entry_price    REAL    NOT NULL,
			tp_price       REAL    NOT NULL,
			sl_price       REAL    NOT NULL,
			breakout_price REAL,
			reclaim_price  REAL,
			range_high     REAL,
			range_low      REAL,
			confidence     REAL,
			rationale      TEXT,
			filters_passed TEXT,
			status         TEXT    NOT NULL,
			exit_price     REAL,
			pnl_bps        REAL,
			closed_at_ms   INTEGER,
			PRIMARY KEY (source, ticker, ts_ms)
		);

		CREATE TABLE IF NOT EXISTS backtest_runs (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			source     TEXT    NOT NULL,
			ticker     TEXT    NOT NULL,
			from_ms    INTEGER NOT NULL,
			to_ms      INTEGER NOT NULL,
			status     TEXT    NOT NULL,
			error      TEXT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// RunSamples reads samples from sampleCh and inserts them in batched
// transactions. Flushes every batchSize samples OR every flushDelay,
// whichever first. Blocks until ctx is cancelled or sampleCh is closed.
func (w *Writer) RunSamples(ctx context.Context, sampleCh <-chan model.MarketSample) {
	batch := make([]model.MarketSample, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertSampleBatch(batch); err != nil {
			log.Printf("[sqlite] sample batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d samples in %v", len(batch), time.Since(start))
			if w.OnCommit != nil {
				w.OnCommit(time.Since(start), len(batch))
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case s, ok := <-sampleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, s)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (w *Writer) insertSampleBatch(samples []model.MarketSample) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO samples
			(source, ticker, ts_ms, mid, bid_1k, ask_1k, spread_bps,
			 impact_buy_bps, impact_sell_bps, quote_age_ms,
			 funding_rate, long_oi, short_oi, volume_24h)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, s := range samples {
		_, err := stmt.Exec(s.Source, s.Ticker, s.TS.UnixMilli(), s.Mid, s.Bid1k, s.Ask1k,
			s.SpreadBps, s.ImpactBuyBps, s.ImpactSellBps, s.QuoteAgeMs,
			s.FundingRate, s.LongOI, s.ShortOI, s.Volume24h)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// RunSignals reads signal events from sigCh and upserts them in batched
// transactions. A signal appears once as PENDING and again with its terminal
// status; the second write replaces the first.
func (w *Writer) RunSignals(ctx context.Context, sigCh <-chan model.Signal) {
	batch := make([]model.Signal, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.upsertSignalBatch(batch); err != nil {
			log.Printf("[sqlite] signal batch upsert error: %v", err)
		} else if w.OnCommit != nil {
			w.OnCommit(time.Since(start), len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case sig, ok := <-sigCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, sig)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (w *Writer) upsertSignalBatch(signals []model.Signal) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO signals
			(id, source, ticker, ts_ms, side, entry_price, tp_price, sl_price,
			 breakout_price, reclaim_price, range_high, range_low,
			 confidence, rationale, filters_passed, status,
			 exit_price, pnl_bps, closed_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range signals {
		sig := &signals[i]
		filters, _ := json.Marshal(sig.FiltersPassed)
		var closedAt int64
		if !sig.ClosedAt.IsZero() {
			closedAt = sig.ClosedAt.UnixMilli()
		}
		_, err := stmt.Exec(sig.ID, sig.Source, sig.Ticker, sig.TS.UnixMilli(), string(sig.Side),
			sig.EntryPrice, sig.TPPrice, sig.SLPrice,
			sig.BreakoutPrice, sig.ReclaimPrice, sig.RangeHigh, sig.RangeLow,
			sig.Confidence, sig.Rationale, string(filters), string(sig.Status),
			sig.ExitPrice, sig.PnlBps, closedAt)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// SaveBacktestRun persists a finished backtest result as a JSON document
// with its span and status indexed for listing.
func (w *Writer) SaveBacktestRun(res *backtest.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal backtest result: %w", err)
	}
	_, err = w.db.Exec(`
		INSERT INTO backtest_runs (source, ticker, from_ms, to_ms, status, error, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, res.Key.Source, res.Key.Ticker, res.From.UnixMilli(), res.To.UnixMilli(),
		string(res.Status), res.Error, string(data))
	if err != nil {
		return fmt.Errorf("sqlite insert backtest run: %w", err)
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
