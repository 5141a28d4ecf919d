package signal

import (
	"strings"
	"testing"

	"trapwatch/internal/model"
)

func cleanFV() model.FeatureVector {
	return model.FeatureVector{
		Source: "variational", Ticker: "ETH",
		TS:              t0,
		Mid:             101.5,
		SpreadBps:       1,
		QuoteAgeMs:      200,
		ImpactBuyBps:    1,
		ImpactSellBps:   1,
		Volatility:      0.002,
		VolatilityReady: true,
	}
}

func shortCandidate() *Candidate {
	return &Candidate{
		Side:          model.SideShort,
		TS:            t0,
		EntryPrice:    101.5,
		BreakoutPrice: 103.0,
		RangeHigh:     101.8,
		RangeLow:      101.0,
	}
}

func TestChain_AllPass_RecordsEveryFilter(t *testing.T) {
	ch := NewChain(detectorCfg())
	passed, rejectedBy, reason := ch.Check(shortCandidate(), ptr(cleanFV()))
	if rejectedBy != "" {
		t.Fatalf("expected admission, rejected by %s: %s", rejectedBy, reason)
	}
	want := []string{"spread", "quote_age", "impact", "volatility", "momentum"}
	if len(passed) != len(want) {
		t.Fatalf("passed list: got %v, want %v", passed, want)
	}
	for i, name := range want {
		if passed[i] != name {
			t.Errorf("passed[%d]: got %s, want %s", i, passed[i], name)
		}
	}
}

func TestChain_QuoteAgeRejection(t *testing.T) {
	ch := NewChain(detectorCfg())
	v := cleanFV()
	v.QuoteAgeMs = 8000 // max is 5000
	passed, rejectedBy, reason := ch.Check(shortCandidate(), &v)
	if rejectedBy != "quote_age" {
		t.Fatalf("expected quote_age rejection, got %q (%s)", rejectedBy, reason)
	}
	// Spread runs first and passed before the verdict.
	if len(passed) != 1 || passed[0] != "spread" {
		t.Errorf("passed before rejection: got %v, want [spread]", passed)
	}
	if !strings.Contains(reason, "8000ms") {
		t.Errorf("reason should carry the observed age, got %q", reason)
	}
}

func TestChain_SpreadShortCircuits(t *testing.T) {
	ch := NewChain(detectorCfg())
	v := cleanFV()
	v.SpreadBps = 10
	v.QuoteAgeMs = 999999 // would also fail, but spread must reject first
	passed, rejectedBy, _ := ch.Check(shortCandidate(), &v)
	if rejectedBy != "spread" || len(passed) != 0 {
		t.Errorf("expected spread to short-circuit, got rejectedBy=%q passed=%v", rejectedBy, passed)
	}
}

func TestImpactFilter_SideAware(t *testing.T) {
	f := impactFilter{max: 5}

	v := cleanFV()
	v.ImpactBuyBps = 9
	v.ImpactSellBps = 1
	if ok, _ := f.Check(shortCandidate(), &v); !ok {
		t.Error("short candidate must only check sell impact")
	}

	long := shortCandidate()
	long.Side = model.SideLong
	if ok, _ := f.Check(long, &v); ok {
		t.Error("long candidate must be rejected on buy impact 9 > 5")
	}
}

func TestVolatilityFilter_Band(t *testing.T) {
	f := volatilityFilter{min: 0.0001, max: 0.01}

	v := cleanFV()
	v.Volatility = 0.00005
	if ok, _ := f.Check(shortCandidate(), &v); ok {
		t.Error("below-band volatility must reject")
	}

	v.Volatility = 0.05
	if ok, _ := f.Check(shortCandidate(), &v); ok {
		t.Error("above-band volatility must reject")
	}

	v.VolatilityReady = false
	if ok, _ := f.Check(shortCandidate(), &v); !ok {
		t.Error("unready volatility must pass, not veto on missing data")
	}
}

func TestMomentumFilter_ExhaustionThenRetrace(t *testing.T) {
	f := momentumFilter{overbought: 75, oversold: 25, buffer: 5}

	c := shortCandidate()
	c.RSISeen, c.RSIMax = true, 80
	v := cleanFV()
	v.RSIReady, v.RSI = true, 72 // retraced 8 from the max
	if ok, reason := f.Check(c, &v); !ok {
		t.Errorf("short with RSI 80 peak retraced to 72 must pass: %s", reason)
	}

	c.RSIMax = 73 // never reached overbought
	if ok, _ := f.Check(c, &v); ok {
		t.Error("short whose RSI never exceeded 75 must reject")
	}

	c.RSIMax = 80
	v.RSI = 78 // retraced only 2, buffer is 5
	if ok, _ := f.Check(c, &v); ok {
		t.Error("short with insufficient retrace must reject")
	}

	long := shortCandidate()
	long.Side = model.SideLong
	long.RSISeen, long.RSIMin = true, 20
	v.RSI = 28 // recovered 8 from the min
	if ok, reason := f.Check(long, &v); !ok {
		t.Errorf("long with RSI 20 trough recovered to 28 must pass: %s", reason)
	}

	// Missing RSI data passes rather than vetoing.
	c.RSISeen = false
	if ok, _ := f.Check(c, &v); !ok {
		t.Error("candidate without RSI history must pass")
	}
}
