package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"trapwatch/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for backtest replay.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadSamples returns one instrument's samples in [from, to), ordered by
// timestamp ascending for correct replay order.
func (r *Reader) ReadSamples(key model.InstrumentKey, from, to time.Time) ([]model.MarketSample, error) {
	rows, err := r.db.Query(`
		SELECT source, ticker, ts_ms, mid, bid_1k, ask_1k, spread_bps,
		       impact_buy_bps, impact_sell_bps, quote_age_ms,
		       funding_rate, long_oi, short_oi, volume_24h
		FROM samples
		WHERE source = ? AND ticker = ? AND ts_ms >= ? AND ts_ms < ?
		ORDER BY ts_ms ASC
	`, key.Source, key.Ticker, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("sqlite query samples: %w", err)
	}
	defer rows.Close()

	var samples []model.MarketSample
	for rows.Next() {
		var s model.MarketSample
		var tsMs int64
		if err := rows.Scan(&s.Source, &s.Ticker, &tsMs, &s.Mid, &s.Bid1k, &s.Ask1k,
			&s.SpreadBps, &s.ImpactBuyBps, &s.ImpactSellBps, &s.QuoteAgeMs,
			&s.FundingRate, &s.LongOI, &s.ShortOI, &s.Volume24h); err != nil {
			return nil, fmt.Errorf("sqlite scan sample: %w", err)
		}
		s.TS = time.UnixMilli(tsMs).UTC()
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// SampleSpan returns the first and last stored timestamps for an instrument.
// ok is false when no samples exist.
func (r *Reader) SampleSpan(key model.InstrumentKey) (first, last time.Time, ok bool, err error) {
	var minMs, maxMs sql.NullInt64
	err = r.db.QueryRow(`
		SELECT MIN(ts_ms), MAX(ts_ms) FROM samples WHERE source = ? AND ticker = ?
	`, key.Source, key.Ticker).Scan(&minMs, &maxMs)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("sqlite sample span: %w", err)
	}
	if !minMs.Valid || !maxMs.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return time.UnixMilli(minMs.Int64).UTC(), time.UnixMilli(maxMs.Int64).UTC(), true, nil
}

// ReadSignals returns an instrument's signals in [from, to) by creation
// time, ordered ascending.
func (r *Reader) ReadSignals(key model.InstrumentKey, from, to time.Time) ([]model.Signal, error) {
	rows, err := r.db.Query(`
		SELECT id, source, ticker, ts_ms, side, entry_price, tp_price, sl_price,
		       breakout_price, reclaim_price, range_high, range_low,
		       confidence, rationale, status, exit_price, pnl_bps, closed_at_ms
		FROM signals
		WHERE source = ? AND ticker = ? AND ts_ms >= ? AND ts_ms < ?
		ORDER BY ts_ms ASC
	`, key.Source, key.Ticker, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var signals []model.Signal
	for rows.Next() {
		var sig model.Signal
		var tsMs int64
		var closedAt sql.NullInt64
		var side, status string
		if err := rows.Scan(&sig.ID, &sig.Source, &sig.Ticker, &tsMs, &side,
			&sig.EntryPrice, &sig.TPPrice, &sig.SLPrice,
			&sig.BreakoutPrice, &sig.ReclaimPrice, &sig.RangeHigh, &sig.RangeLow,
			&sig.Confidence, &sig.Rationale, &status,
			&sig.ExitPrice, &sig.PnlBps, &closedAt); err != nil {
			return nil, fmt.Errorf("sqlite scan signal: %w", err)
		}
		sig.TS = time.UnixMilli(tsMs).UTC()
		sig.Side = model.Side(side)
		sig.Status = model.SignalStatus(status)
		if closedAt.Valid && closedAt.Int64 > 0 {
			sig.ClosedAt = time.UnixMilli(closedAt.Int64).UTC()
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
