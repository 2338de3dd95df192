package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordRebalance(RebalanceExecuted)
	r.RecordRebalance(RebalanceExecuted)
	r.RecordRebalance(RebalanceHeld)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.rebalances.WithLabelValues(RebalanceExecuted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rebalances.WithLabelValues(RebalanceHeld)))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.rebalances.WithLabelValues(RebalanceFailed)))

	r.RecordOrder("buy", false)
	r.RecordOrder("sell", false)
	r.RecordOrder("sell", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.orders.WithLabelValues("buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.orders.WithLabelValues("sell")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rejected))

	r.RecordJobRun("daily-sync", "ok")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.jobRuns.WithLabelValues("daily-sync", "ok")))
}

func TestRecorderGauges(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.SetEquity(101_250.5)
	r.SetLeverage(0.6)
	assert.Equal(t, 101_250.5, testutil.ToFloat64(r.equity))
	assert.Equal(t, 0.6, testutil.ToFloat64(r.leverage))
}

func TestRecorderBacktestHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordBacktest("ok", 1.5)
	r.RecordBacktest("failed", 0.2)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.backtests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.backtests.WithLabelValues("failed")))

	count, err := testutil.GatherAndCount(reg, "paperbot_backtest_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecorderIsolatedRegistries(t *testing.T) {
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())

	a.RecordRebalance(RebalanceExecuted)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.rebalances.WithLabelValues(RebalanceExecuted)))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.rebalances.WithLabelValues(RebalanceExecuted)))
}
