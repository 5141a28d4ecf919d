package signal

import (
	"testing"
	"time"

	"trapwatch/config"
	"trapwatch/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func fv(sec int, mid, rangeHigh, rangeLow float64) model.FeatureVector {
	return model.FeatureVector{
		Source: "variational", Ticker: "ETH",
		TS:         t0.Add(time.Duration(sec) * time.Second),
		Mid:        mid,
		RangeHigh:  rangeHigh,
		RangeLow:   rangeLow,
		RangeReady: true,
	}
}

func detectorCfg() config.Strategy {
	cfg := config.DefaultStrategy()
	cfg.BreakoutThresholdBps = 5
	cfg.ReclaimTimeoutSec = 60
	return cfg
}

// ────────────────────────────────────────────────────────────
// Breakout / reclaim transitions
// ────────────────────────────────────────────────────────────

func TestDetector_UpBreakoutThenReclaim_EmitsShort(t *testing.T) {
	d := NewDetector(detectorCfg())

	// Range high 101.8, threshold 5 bps => trigger above 101.8509.
	if c := d.Tick(ptr(fv(0, 101.5, 101.8, 101.0))); c != nil {
		t.Fatalf("no breakout yet, got candidate %+v", c)
	}
	if c := d.Tick(ptr(fv(2, 101.84, 101.8, 101.0))); c != nil || d.Active() {
		t.Fatalf("101.84 is within threshold, detector must stay idle")
	}
	if c := d.Tick(ptr(fv(4, 103.0, 101.8, 101.0))); c != nil {
		t.Fatalf("breakout tick must not emit, got %+v", c)
	}
	if !d.Active() || d.ActiveDirection() != DirUp {
		t.Fatalf("expected active UP breakout")
	}

	// Extreme keeps updating while above the frozen range high.
	d.Tick(ptr(fv(6, 103.5, 102.9, 101.0)))

	c := d.Tick(ptr(fv(8, 101.5, 102.9, 101.0)))
	if c == nil {
		t.Fatal("reclaim below frozen range high 101.8 must emit a candidate")
	}
	if c.Side != model.SideShort {
		t.Errorf("side: got %s, want SHORT", c.Side)
	}
	if c.EntryPrice != 101.5 {
		t.Errorf("entry: got %v, want 101.5", c.EntryPrice)
	}
	if c.BreakoutPrice != 103.5 {
		t.Errorf("breakout extreme: got %v, want 103.5", c.BreakoutPrice)
	}
	if c.RangeHigh != 101.8 {
		t.Errorf("range high must be frozen at breakout time: got %v, want 101.8", c.RangeHigh)
	}
	if d.Active() {
		t.Error("detector must return to idle after reclaim")
	}
}

func TestDetector_DownBreakoutThenReclaim_EmitsLong(t *testing.T) {
	d := NewDetector(detectorCfg())

	d.Tick(ptr(fv(0, 100.5, 101.8, 100.4)))
	d.Tick(ptr(fv(2, 100.0, 101.8, 100.4))) // below 100.4 - 5bps
	if !d.Active() || d.ActiveDirection() != DirDown {
		t.Fatal("expected active DOWN breakout")
	}
	d.Tick(ptr(fv(4, 99.5, 101.8, 100.4)))

	c := d.Tick(ptr(fv(6, 100.6, 101.8, 100.4)))
	if c == nil || c.Side != model.SideLong {
		t.Fatalf("expected LONG candidate on reclaim, got %+v", c)
	}
	if c.BreakoutPrice != 99.5 {
		t.Errorf("breakout extreme: got %v, want 99.5", c.BreakoutPrice)
	}
}

func TestDetector_UpPrecedenceWhenBothTrigger(t *testing.T) {
	// A degenerate inverted range makes both breakout conditions true at
	// once; the up direction must win the tie explicitly.
	d := NewDetector(detectorCfg())
	v := fv(0, 102.0, 100.0, 103.0)
	d.Tick(&v)
	if !d.Active() || d.ActiveDirection() != DirUp {
		t.Fatalf("expected UP breakout to take precedence, got active=%v dir=%v",
			d.Active(), d.ActiveDirection())
	}
}

func TestDetector_TimeoutExpiresWithoutSignal(t *testing.T) {
	d := NewDetector(detectorCfg())
	d.Tick(ptr(fv(0, 103.0, 101.8, 101.0)))
	if !d.Active() {
		t.Fatal("expected active breakout")
	}

	// 61s later and still outside the range: timeout, no candidate even
	// though the same tick would re-trigger a breakout check next tick.
	c := d.Tick(ptr(fv(61, 103.2, 101.8, 101.0)))
	if c != nil {
		t.Fatalf("timeout must not emit a candidate, got %+v", c)
	}
	// The post-timeout tick re-entered idle detection and re-registered.
	if !d.Active() {
		t.Fatal("fresh breakout should register on the tick after timeout")
	}
}

func TestDetector_ReclaimTickDoesNotRegisterNewBreakout(t *testing.T) {
	d := NewDetector(detectorCfg())
	d.Tick(ptr(fv(0, 103.0, 101.8, 101.0)))

	// Mid gaps all the way below the range low: this is a reclaim of the
	// up-breakout, not a fresh down-breakout.
	c := d.Tick(ptr(fv(2, 100.5, 101.8, 101.0)))
	if c == nil || c.Side != model.SideShort {
		t.Fatalf("expected SHORT reclaim candidate, got %+v", c)
	}
	if d.Active() {
		t.Error("same tick must not register a new breakout after a reclaim")
	}
}

func TestDetector_NotReadyRangeNeverTriggers(t *testing.T) {
	d := NewDetector(detectorCfg())
	v := fv(0, 200.0, 101.8, 101.0)
	v.RangeReady = false
	if c := d.Tick(&v); c != nil || d.Active() {
		t.Error("detector must ignore samples with an unready range")
	}
}

func TestDetector_TracksRSIExtremeDuringBreakout(t *testing.T) {
	d := NewDetector(detectorCfg())

	v := fv(0, 103.0, 101.8, 101.0)
	v.RSI, v.RSIReady = 70, true
	d.Tick(&v)

	v = fv(2, 103.5, 101.8, 101.0)
	v.RSI, v.RSIReady = 82, true
	d.Tick(&v)

	v = fv(4, 101.5, 101.8, 101.0)
	v.RSI, v.RSIReady = 65, true
	c := d.Tick(&v)
	if c == nil {
		t.Fatal("expected reclaim candidate")
	}
	if !c.RSISeen || c.RSIMax != 82 {
		t.Errorf("RSI max during breakout: got seen=%v max=%v, want seen=true max=82",
			c.RSISeen, c.RSIMax)
	}
}

func ptr(v model.FeatureVector) *model.FeatureVector { return &v }
