// Package journal records account equity, orders, positions and signals in
// the ledger database.
package journal

import (
	"time"

	"paperbot/internal/domain"
)

// EquitySnapshot is one recorded account state
type EquitySnapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	Equity         float64   `json:"equity"`
	Cash           float64   `json:"cash"`
	PortfolioValue float64   `json:"portfolio_value"`

	// BenchmarkValue is the benchmark close at snapshot time, nil when the
	// quote was unavailable.
	BenchmarkValue *float64 `json:"benchmark_value,omitempty"`
}

// SignalRecord is one persisted signal row
type SignalRecord struct {
	Timestamp time.Time   `json:"timestamp"`
	Symbol    string      `json:"symbol"`
	Score     float64     `json:"score"`
	Side      domain.Side `json:"side"`
}
