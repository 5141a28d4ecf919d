// Package backtest replays historical samples through the live detection
// pipeline with simulated time and summarizes the resulting trade ledger.
package backtest

import (
	"math"

	"trapwatch/internal/model"
)

// Metrics aggregates a trade ledger. Ratio metrics that need a nonzero
// denominator carry an explicit Defined flag; an undefined metric is absent,
// never a silent zero.
type Metrics struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`

	AvgWinBps   float64 `json:"avg_win_bps"`
	AvgLossBps  float64 `json:"avg_loss_bps"`
	TotalPnlBps float64 `json:"total_pnl_bps"`

	MaxDrawdownBps float64 `json:"max_drawdown_bps"`

	ProfitFactor        float64 `json:"profit_factor"`
	ProfitFactorDefined bool    `json:"profit_factor_defined"`

	Sharpe        float64 `json:"sharpe"`
	SharpeDefined bool    `json:"sharpe_defined"`

	Sortino        float64 `json:"sortino"`
	SortinoDefined bool    `json:"sortino_defined"`

	Calmar        float64 `json:"calmar"`
	CalmarDefined bool    `json:"calmar_defined"`
}

// EquityPoint is one step of the cumulative P&L curve, recorded per closed
// trade.
type EquityPoint struct {
	TS     int64   `json:"ts"` // unix seconds of trade close
	PnlBps float64 `json:"pnl_bps"`
	CumBps float64 `json:"cum_bps"`
}

// ComputeMetrics summarizes a ledger of closed trades. periodsPerYear is the
// annualization factor for the Sharpe/Sortino ratios (trade opportunities
// per year at the sampling cadence); riskFree is the per-period risk-free
// return in bps.
func ComputeMetrics(trades []model.Signal, periodsPerYear, riskFree float64) Metrics {
	var m Metrics
	m.TotalTrades = len(trades)
	if m.TotalTrades == 0 {
		return m
	}

	var grossWin, grossLoss float64
	for i := range trades {
		pnl := trades[i].PnlBps
		m.TotalPnlBps += pnl
		if pnl > 0 {
			m.Wins++
			grossWin += pnl
		} else {
			m.Losses++
			grossLoss += -pnl
		}
	}
	m.WinRate = float64(m.Wins) / float64(m.TotalTrades)
	if m.Wins > 0 {
		m.AvgWinBps = grossWin / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLossBps = -grossLoss / float64(m.Losses)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
		m.ProfitFactorDefined = true
	}

	m.MaxDrawdownBps = maxDrawdown(trades)

	mean := m.TotalPnlBps / float64(m.TotalTrades)
	variance := 0.0
	downside := 0.0
	for i := range trades {
		d := trades[i].PnlBps - mean
		variance += d * d
		if trades[i].PnlBps < riskFree {
			dd := trades[i].PnlBps - riskFree
			downside += dd * dd
		}
	}
	variance /= float64(m.TotalTrades)
	downside /= float64(m.TotalTrades)

	ann := math.Sqrt(periodsPerYear)
	if variance > 0 {
		m.Sharpe = (mean - riskFree) / math.Sqrt(variance) * ann
		m.SharpeDefined = true
	}
	if downside > 0 {
		m.Sortino = (mean - riskFree) / math.Sqrt(downside) * ann
		m.SortinoDefined = true
	}
	if m.MaxDrawdownBps > 0 {
		m.Calmar = m.TotalPnlBps / m.MaxDrawdownBps
		m.CalmarDefined = true
	}
	return m
}

// EquityCurve returns the cumulative P&L per closed trade in ledger order.
func EquityCurve(trades []model.Signal) []EquityPoint {
	curve := make([]EquityPoint, 0, len(trades))
	cum := 0.0
	for i := range trades {
		cum += trades[i].PnlBps
		curve = append(curve, EquityPoint{
			TS:     trades[i].ClosedAt.Unix(),
			PnlBps: trades[i].PnlBps,
			CumBps: cum,
		})
	}
	return curve
}

// maxDrawdown is the largest peak-to-trough decline of the cumulative P&L
// curve, in bps (reported positive).
func maxDrawdown(trades []model.Signal) float64 {
	peak, cum, maxDD := 0.0, 0.0, 0.0
	for i := range trades {
		cum += trades[i].PnlBps
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}
