// Package metrics exposes the strategy's operational counters and gauges
// through Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rebalance cycle results.
const (
	RebalanceExecuted = "executed"
	RebalanceHeld     = "held"
	RebalanceFailed   = "failed"
)

// Recorder registers and updates the strategy's instruments. Construct one
// per process; pass a fresh registry in tests.
type Recorder struct {
	rebalances   *prometheus.CounterVec
	orders       *prometheus.CounterVec
	rejected     prometheus.Counter
	jobRuns      *prometheus.CounterVec
	backtests    *prometheus.CounterVec
	backtestTime prometheus.Histogram
	equity       prometheus.Gauge
	leverage     prometheus.Gauge
}

// New builds a Recorder on the given registerer. Wire
// prometheus.DefaultRegisterer in production so promhttp serves the
// instruments.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperbot_rebalances_total",
				Help: "Rebalance cycles by result",
			},
			[]string{"result"},
		),
		orders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperbot_orders_submitted_total",
				Help: "Orders submitted to the paper venue by side",
			},
			[]string{"side"},
		),
		rejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "paperbot_orders_rejected_total",
				Help: "Orders the venue refused",
			},
		),
		jobRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperbot_job_runs_total",
				Help: "Scheduled job executions by job and status",
			},
			[]string{"job", "status"},
		),
		backtests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paperbot_backtests_total",
				Help: "Backtest runs by status",
			},
			[]string{"status"},
		),
		backtestTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "paperbot_backtest_duration_seconds",
				Help:    "Wall time of backtest runs in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		equity: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "paperbot_equity",
				Help: "Last journaled account equity",
			},
		),
		leverage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "paperbot_leverage",
				Help: "Leverage applied by the most recent rebalance",
			},
		),
	}
}

// RecordRebalance counts one rebalance cycle outcome.
func (r *Recorder) RecordRebalance(result string) {
	r.rebalances.WithLabelValues(result).Inc()
}

// RecordOrder counts one submitted order by side, or a rejection,
// matching the journal's view of a cycle.
func (r *Recorder) RecordOrder(side string, rejected bool) {
	if rejected {
		r.rejected.Inc()
		return
	}
	r.orders.WithLabelValues(side).Inc()
}

// RecordJobRun counts one scheduled job execution.
func (r *Recorder) RecordJobRun(job, status string) {
	r.jobRuns.WithLabelValues(job, status).Inc()
}

// RecordBacktest counts a run and observes its wall time.
func (r *Recorder) RecordBacktest(status string, seconds float64) {
	r.backtests.WithLabelValues(status).Inc()
	r.backtestTime.Observe(seconds)
}

// SetEquity publishes the latest account equity.
func (r *Recorder) SetEquity(equity float64) {
	r.equity.Set(equity)
}

// SetLeverage publishes the leverage of the latest rebalance.
func (r *Recorder) SetLeverage(leverage float64) {
	r.leverage.Set(leverage)
}
