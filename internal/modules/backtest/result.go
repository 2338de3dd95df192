package backtest

import (
	"time"

	"paperbot/internal/domain"
	"paperbot/pkg/formulas"
)

// Result is one complete backtest run.
type Result struct {
	Points   []domain.EquityPoint `json:"points"`
	Events   []RebalanceEvent     `json:"events"`
	Stats    Stats                `json:"stats"`
	Executed int                  `json:"rebalances_executed"`
	Missed   int                  `json:"rebalances_missed"`
	Delayed  int                  `json:"rebalances_delayed"`
}

// RebalanceEvent records one rebalance opportunity and its outcome. A
// missed opportunity has Executed false; Delayed marks that a retry was
// scheduled for it.
type RebalanceEvent struct {
	Date     time.Time          `json:"date"`
	Executed bool               `json:"executed"`
	Delayed  bool               `json:"delayed"`
	Leverage float64            `json:"leverage,omitempty"`
	Turnover float64            `json:"turnover,omitempty"`
	Cost     float64            `json:"cost,omitempty"`
	Weights  map[string]float64 `json:"weights,omitempty"`
}

// Stats summarizes a run's equity curve.
type Stats struct {
	Days         int     `json:"days"`
	FinalEquity  float64 `json:"final_equity"`
	TotalReturn  float64 `json:"total_return"`
	AnnualReturn float64 `json:"annual_return"`
	Sharpe       float64 `json:"sharpe"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	CVaR95       float64 `json:"cvar_95"`
}

func computeStats(points []domain.EquityPoint) Stats {
	if len(points) == 0 {
		return Stats{FinalEquity: 1.0}
	}

	returns := make([]float64, len(points))
	equities := make([]float64, 0, len(points)+1)
	equities = append(equities, 1.0)
	for i, p := range points {
		returns[i] = p.Return
		equities = append(equities, p.Equity)
	}

	stats := Stats{
		Days:         len(points),
		FinalEquity:  points[len(points)-1].Equity,
		AnnualReturn: formulas.CalculateAnnualReturn(returns),
		CVaR95:       formulas.CalculateCVaR(returns, 0.95),
	}
	stats.TotalReturn = stats.FinalEquity - 1

	if sharpe := formulas.CalculateSharpeRatio(returns, 0, 252); sharpe != nil {
		stats.Sharpe = *sharpe
	}
	if maxDD := formulas.CalculateMaxDrawdown(equities); maxDD != nil {
		stats.MaxDrawdown = *maxDD
	}
	return stats
}
