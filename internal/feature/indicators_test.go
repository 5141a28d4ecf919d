package feature

import (
	"math"
	"testing"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %v, want %v (tol %v)", label, got, want, tol)
	}
}

// ────────────────────────────────────────────────────────────
// Moving averages
// ────────────────────────────────────────────────────────────

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	got, ok := SMA(values, 3)
	if !ok {
		t.Fatal("expected ok")
	}
	// Last three values: (3+4+5)/3 = 4.
	assertClose(t, "SMA(3)", got, 4.0, 1e-9)

	if _, ok := SMA(values, 6); ok {
		t.Error("period longer than series must not be ok")
	}
	if _, ok := SMA(values, 0); ok {
		t.Error("zero period must not be ok")
	}
}

func TestEMA_HandCalculated(t *testing.T) {
	// Period 3, k = 0.5. Seed = SMA(1,2,3) = 2.
	// v=4: 4*0.5 + 2*0.5 = 3. v=5: 5*0.5 + 3*0.5 = 4.
	got, ok := EMA([]float64{1, 2, 3, 4, 5}, 3)
	if !ok {
		t.Fatal("expected ok")
	}
	assertClose(t, "EMA(3)", got, 4.0, 1e-9)

	// Exactly period values: EMA equals the seed SMA.
	got, ok = EMA([]float64{1, 2, 3}, 3)
	if !ok {
		t.Fatal("expected ok")
	}
	assertClose(t, "EMA seed", got, 2.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// RSI (Wilder smoothing)
// ────────────────────────────────────────────────────────────

func TestRSI_HandCalculated(t *testing.T) {
	// Period 3 over {10, 11, 12, 11, 13}.
	// Seed deltas: +1, +1, -1 => avgGain = 2/3, avgLoss = 1/3.
	// Next delta +2: avgGain = (2/3*2 + 2)/3 = 10/9, avgLoss = (1/3*2)/3 = 2/9.
	// RS = 5, RSI = 100 - 100/6 = 83.333.
	got, ok := RSI([]float64{10, 11, 12, 11, 13}, 3)
	if !ok {
		t.Fatal("expected ok")
	}
	assertClose(t, "RSI", got, 83.3333, 0.001)
}

func TestRSI_Degenerate(t *testing.T) {
	// Monotone rise: no losses => RSI pegged at 100.
	got, _ := RSI([]float64{1, 2, 3, 4, 5}, 3)
	assertClose(t, "all gains", got, 100, 1e-9)

	// Flat series: no gains, no losses => neutral 50.
	got, _ = RSI([]float64{5, 5, 5, 5, 5}, 3)
	assertClose(t, "flat", got, 50, 1e-9)

	// Needs period+1 values.
	if _, ok := RSI([]float64{1, 2, 3}, 3); ok {
		t.Error("period+1 values required")
	}
}

// ────────────────────────────────────────────────────────────
// Dispersion
// ────────────────────────────────────────────────────────────

func TestStdDev_Population(t *testing.T) {
	// Mean 5, population variance 4 => std 2.
	got, ok := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if !ok {
		t.Fatal("expected ok")
	}
	assertClose(t, "std", got, 2.0, 1e-9)

	if _, ok := StdDev([]float64{42}); ok {
		t.Error("fewer than 2 values must not be ok")
	}
}

func TestZScore(t *testing.T) {
	got, ok := ZScore(7, 5, 2)
	if !ok {
		t.Fatal("expected ok")
	}
	assertClose(t, "zscore", got, 1.0, 1e-9)

	if _, ok := ZScore(7, 5, 0); ok {
		t.Error("zero std must read as not ready")
	}
	if _, ok := ZScore(7, 5, math.NaN()); ok {
		t.Error("NaN std must read as not ready")
	}
}

func TestReturn(t *testing.T) {
	assertClose(t, "return", Return(102, 100), 0.02, 1e-12)

	if !math.IsNaN(Return(102, 0)) {
		t.Error("zero previous must yield NaN")
	}
	if !math.IsNaN(Return(math.NaN(), 100)) {
		t.Error("NaN current must yield NaN")
	}
}
