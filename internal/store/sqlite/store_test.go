package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"trapwatch/internal/model"
)

var st0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func storedSignal(id int64, ticker string, sec int, status model.SignalStatus) model.Signal {
	sig := model.Signal{
		ID:     id,
		Source: "variational", Ticker: ticker,
		TS:            st0.Add(time.Duration(sec) * time.Second),
		Side:          model.SideShort,
		EntryPrice:    101.5,
		TPPrice:       98.4594,
		SLPrice:       103.0203,
		BreakoutPrice: 103.0,
		RangeHigh:     101.8,
		RangeLow:      101.0,
		Confidence:    0.7,
		Rationale:     "false breakout above range high",
		FiltersPassed: []string{"spread", "quote_age", "impact", "volatility", "momentum"},
		Status:        status,
	}
	if status.Terminal() {
		sig.ExitPrice = sig.TPPrice
		sig.PnlBps = 299.5
		sig.ClosedAt = sig.TS.Add(90 * time.Second)
	}
	return sig
}

func openWriter(t *testing.T, path string) *Writer {
	t.Helper()
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	return w
}

func readBack(t *testing.T, path string, ticker string) []model.Signal {
	t.Helper()
	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()
	key := model.InstrumentKey{Source: "variational", Ticker: ticker}
	sigs, err := r.ReadSignals(key, st0.Add(-time.Hour), st0.Add(time.Hour))
	if err != nil {
		t.Fatalf("read signals: %v", err)
	}
	return sigs
}

func TestWriter_ResolutionReplacesPendingRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trapwatch.db")
	w := openWriter(t, path)

	pending := storedSignal(1, "ETH", 0, model.StatusPending)
	if err := w.upsertSignalBatch([]model.Signal{pending}); err != nil {
		t.Fatalf("upsert pending: %v", err)
	}
	resolved := storedSignal(1, "ETH", 0, model.StatusTPHit)
	if err := w.upsertSignalBatch([]model.Signal{resolved}); err != nil {
		t.Fatalf("upsert resolved: %v", err)
	}
	w.Close()

	sigs := readBack(t, path, "ETH")
	if len(sigs) != 1 {
		t.Fatalf("got %d rows, want the resolution to replace the pending row", len(sigs))
	}
	got := sigs[0]
	if got.Status != model.StatusTPHit {
		t.Errorf("status: got %s, want TP_HIT", got.Status)
	}
	if got.ExitPrice != resolved.ExitPrice || got.PnlBps != resolved.PnlBps {
		t.Errorf("resolution fields: got exit=%v pnl=%v", got.ExitPrice, got.PnlBps)
	}
	if !got.ClosedAt.Equal(resolved.ClosedAt) {
		t.Errorf("closed at: got %s, want %s", got.ClosedAt, resolved.ClosedAt)
	}
}

func TestWriter_RestartKeepsEarlierSessionsSignals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trapwatch.db")

	// First session resolves an ETH trade with the session-local id 1.
	w1 := openWriter(t, path)
	if err := w1.upsertSignalBatch([]model.Signal{storedSignal(1, "ETH", 0, model.StatusTPHit)}); err != nil {
		t.Fatalf("session 1 upsert: %v", err)
	}
	w1.Close()

	// A restarted daemon begins its id sequence at 1 again, on another
	// instrument. The colliding id must not replace the first session's row.
	w2 := openWriter(t, path)
	if err := w2.upsertSignalBatch([]model.Signal{storedSignal(1, "BTC", 30, model.StatusPending)}); err != nil {
		t.Fatalf("session 2 upsert: %v", err)
	}
	w2.Close()

	eth := readBack(t, path, "ETH")
	if len(eth) != 1 {
		t.Fatalf("first session's ETH trade lost: got %d rows, want 1", len(eth))
	}
	if eth[0].Status != model.StatusTPHit {
		t.Errorf("ETH status: got %s, want TP_HIT", eth[0].Status)
	}
	btc := readBack(t, path, "BTC")
	if len(btc) != 1 || btc[0].Status != model.StatusPending {
		t.Fatalf("second session's BTC signal: got %+v, want one PENDING row", btc)
	}
}

func TestReader_ReadSignalsSpanIsHalfOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trapwatch.db")
	w := openWriter(t, path)
	batch := []model.Signal{
		storedSignal(1, "ETH", 0, model.StatusTPHit),
		storedSignal(2, "ETH", 60, model.StatusSLHit),
		storedSignal(3, "ETH", 120, model.StatusPending),
	}
	if err := w.upsertSignalBatch(batch); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	w.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	key := model.InstrumentKey{Source: "variational", Ticker: "ETH"}
	sigs, err := r.ReadSignals(key, st0, st0.Add(120*time.Second))
	if err != nil {
		t.Fatalf("read signals: %v", err)
	}
	if len(sigs) != 2 {
		t.Fatalf("got %d rows, want 2 (upper bound excluded)", len(sigs))
	}
	if !sigs[0].TS.Before(sigs[1].TS) {
		t.Error("signals must come back in creation order")
	}
	if sigs[0].Side != model.SideShort {
		t.Errorf("side round trip: got %s", sigs[0].Side)
	}
}
