package backtest

import (
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperbot/internal/domain"
	"paperbot/internal/metrics"
	"paperbot/internal/modules/history"
)

func newServiceHarness(t *testing.T, days int) (*Service, *prometheus.Registry) {
	t.Helper()

	db, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := history.NewStore(db, zerolog.Nop())
	require.NoError(t, store.Init())
	for symbol, series := range simHistory(days) {
		require.NoError(t, store.UpsertBars(symbol, series))
	}

	reg := prometheus.NewRegistry()
	svc := NewService(ServiceConfig{
		Log:         zerolog.Nop(),
		Store:       store,
		Simulator:   NewSimulator(simParams(), "SPY", zerolog.Nop()),
		Universe:    []string{"AAPL", "MSFT", "NVDA", "GE", "F"},
		Benchmark:   "SPY",
		HistoryDays: 400,
		Metrics:     metrics.New(reg),
	})
	return svc, reg
}

func TestBacktestServiceRunAndLatest(t *testing.T) {
	svc, reg := newServiceHarness(t, 130)

	require.Nil(t, svc.Latest())

	run, err := svc.Run()
	require.NoError(t, err)
	assert.Greater(t, run.Stats.Days, 0)
	assert.Equal(t, 6, run.Symbols)
	assert.False(t, run.RanAt.IsZero())
	assert.GreaterOrEqual(t, run.DurationSeconds, 0.0)

	assert.Same(t, run, svc.Latest())

	count, err := testutil.GatherAndCount(reg, "paperbot_backtests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = testutil.GatherAndCount(reg, "paperbot_backtest_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBacktestServiceRejectsConcurrentRuns(t *testing.T) {
	svc, _ := newServiceHarness(t, 130)

	svc.running = true
	_, err := svc.Run()
	assert.ErrorIs(t, err, ErrRunInProgress)

	svc.running = false
	_, err = svc.Run()
	assert.NoError(t, err)
}

func TestBacktestServiceShortHistoryFails(t *testing.T) {
	svc, reg := newServiceHarness(t, 70)

	_, err := svc.Run()
	require.ErrorIs(t, err, domain.ErrInsufficientData)
	assert.Nil(t, svc.Latest())

	// The failure still lands in the run counter.
	count, err := testutil.GatherAndCount(reg, "paperbot_backtests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
