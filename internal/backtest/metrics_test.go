package backtest

import (
	"math"
	"testing"
	"time"

	"trapwatch/internal/model"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f)", label, got, want, tol)
	}
}

func trade(pnlBps float64, closeSec int) model.Signal {
	status := model.StatusTPHit
	if pnlBps <= 0 {
		status = model.StatusSLHit
	}
	return model.Signal{
		Source: "variational", Ticker: "ETH",
		Side:     model.SideShort,
		Status:   status,
		PnlBps:   pnlBps,
		ClosedAt: time.Date(2025, 6, 1, 0, 0, closeSec, 0, time.UTC),
	}
}

func TestComputeMetrics_HandCalculated(t *testing.T) {
	// P&L sequence: +50, -20, +30, -10
	// total = 50, wins = 2, win rate = 0.5
	// avg win = 40, avg loss = -15
	// gross win = 80, gross loss = 30, profit factor = 2.6667
	// cumulative: 50, 30, 60, 50 -> peaks 50, 50, 60, 60
	// max drawdown = 20 (50 -> 30), calmar = 50/20 = 2.5
	trades := []model.Signal{trade(50, 1), trade(-20, 2), trade(30, 3), trade(-10, 4)}
	m := ComputeMetrics(trades, 252*24*60, 0)

	if m.TotalTrades != 4 || m.Wins != 2 || m.Losses != 2 {
		t.Fatalf("counts: got %d/%d/%d, want 4/2/2", m.TotalTrades, m.Wins, m.Losses)
	}
	assertClose(t, "win rate", m.WinRate, 0.5, 1e-12)
	assertClose(t, "total pnl", m.TotalPnlBps, 50, 1e-12)
	assertClose(t, "avg win", m.AvgWinBps, 40, 1e-12)
	assertClose(t, "avg loss", m.AvgLossBps, -15, 1e-12)
	if !m.ProfitFactorDefined {
		t.Fatal("profit factor must be defined with losses present")
	}
	assertClose(t, "profit factor", m.ProfitFactor, 80.0/30.0, 1e-12)
	assertClose(t, "max drawdown", m.MaxDrawdownBps, 20, 1e-12)
	if !m.CalmarDefined {
		t.Fatal("calmar must be defined with a drawdown present")
	}
	assertClose(t, "calmar", m.Calmar, 2.5, 1e-12)

	// mean = 12.5, population variance = (37.5^2+32.5^2+17.5^2+22.5^2)/4
	variance := (37.5*37.5 + 32.5*32.5 + 17.5*17.5 + 22.5*22.5) / 4
	wantSharpe := 12.5 / math.Sqrt(variance) * math.Sqrt(252*24*60)
	if !m.SharpeDefined {
		t.Fatal("sharpe must be defined with nonzero variance")
	}
	assertClose(t, "sharpe", m.Sharpe, wantSharpe, 1e-9)
}

func TestComputeMetrics_DegenerateLedgers(t *testing.T) {
	m := ComputeMetrics(nil, 252*24*60, 0)
	if m.TotalTrades != 0 || m.SharpeDefined || m.ProfitFactorDefined {
		t.Errorf("empty ledger must define nothing: %+v", m)
	}

	// Identical winners: zero variance, no losses, no drawdown.
	wins := []model.Signal{trade(10, 1), trade(10, 2), trade(10, 3)}
	m = ComputeMetrics(wins, 252*24*60, 0)
	if m.SharpeDefined {
		t.Error("zero-variance ledger must leave sharpe undefined, not zero or Inf")
	}
	if m.SortinoDefined {
		t.Error("loss-free ledger must leave sortino undefined")
	}
	if m.ProfitFactorDefined {
		t.Error("loss-free ledger must leave profit factor undefined")
	}
	if m.CalmarDefined {
		t.Error("drawdown-free ledger must leave calmar undefined")
	}
	assertClose(t, "total pnl", m.TotalPnlBps, 30, 1e-12)
	assertClose(t, "win rate", m.WinRate, 1.0, 1e-12)
}

func TestEquityCurve_Cumulative(t *testing.T) {
	trades := []model.Signal{trade(50, 1), trade(-20, 2), trade(30, 3)}
	curve := EquityCurve(trades)
	if len(curve) != 3 {
		t.Fatalf("curve length: got %d, want 3", len(curve))
	}
	wantCum := []float64{50, 30, 60}
	for i, p := range curve {
		assertClose(t, "cum", p.CumBps, wantCum[i], 1e-12)
	}
	if curve[0].TS >= curve[2].TS {
		t.Error("curve must be in close-time order")
	}
}
