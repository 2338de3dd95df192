package trading

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperbot/internal/broker"
	"paperbot/internal/domain"
	"paperbot/internal/metrics"
	"paperbot/internal/modules/history"
	"paperbot/internal/modules/journal"
)

type cycleHarness struct {
	cycle     *Cycle
	broker    *broker.PaperBroker
	equity    *journal.EquityRepository
	signals   *journal.SignalRepository
	trades    *journal.TradeRepository
	positions *journal.PositionRepository
	registry  *prometheus.Registry
}

func newCycleHarness(t *testing.T, bars map[string][]domain.Bar) *cycleHarness {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(broker.Schema)
	require.NoError(t, err)
	_, err = db.Exec(journal.Schema)
	require.NoError(t, err)

	store := history.NewStore(db, zerolog.Nop())
	require.NoError(t, store.Init())
	for symbol, series := range bars {
		require.NoError(t, store.UpsertBars(symbol, series))
	}

	b := broker.NewPaperBroker(db, zerolog.Nop())
	require.NoError(t, b.Init(100_000, false))

	quotes := map[string]float64{"SPY": 500}
	symbols := make([]string, 0, len(bars))
	for symbol, series := range bars {
		if symbol != "SPY" {
			symbols = append(symbols, symbol)
			quotes[symbol] = series[len(series)-1].Close
		}
	}

	equityRepo := journal.NewEquityRepository(db, zerolog.Nop())
	signalRepo := journal.NewSignalRepository(db, zerolog.Nop())
	tradeRepo := journal.NewTradeRepository(db, zerolog.Nop())
	positionRepo := journal.NewPositionRepository(db, zerolog.Nop())

	registry := prometheus.NewRegistry()
	params := rebalanceParams()

	h := &cycleHarness{
		broker:    b,
		equity:    equityRepo,
		signals:   signalRepo,
		trades:    tradeRepo,
		positions: positionRepo,
		registry:  registry,
	}
	h.cycle = NewCycle(CycleConfig{
		Params:     params,
		Benchmark:  "SPY",
		Universe:   symbols,
		Store:      store,
		Model:      func() (Predictor, error) { return stubPredictor{}, nil },
		Rebalancer: NewRebalancer(params, "SPY", b, zerolog.Nop()),
		Snapshots: NewSnapshotService(
			b, stubPrices{quotes: quotes}, equityRepo, positionRepo, "SPY", zerolog.Nop()),
		Equity:  equityRepo,
		Signals: signalRepo,
		Trades:  tradeRepo,
		Metrics: metrics.New(registry),
		Log:     zerolog.Nop(),
	})
	return h
}

func TestCycleTradesAndJournals(t *testing.T) {
	h := newCycleHarness(t, liveUniverse(40))

	out, err := h.cycle.Run()
	require.NoError(t, err)
	require.Len(t, out.Orders, 2)

	trades, err := h.trades.GetRecent(10)
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	signals, err := h.signals.GetRecent(10)
	require.NoError(t, err)
	assert.Len(t, signals, 3)

	equity, err := h.equity.GetRecent(5)
	require.NoError(t, err)
	require.Len(t, equity, 1)
	assert.InDelta(t, 100_000, equity[0].Equity, 1e-6)
	require.NotNil(t, equity[0].BenchmarkValue)
	assert.InDelta(t, 500, *equity[0].BenchmarkValue, 1e-9)

	journaled, err := h.positions.GetRecent(10)
	require.NoError(t, err)
	assert.Len(t, journaled, 2)

	count, err := testutil.GatherAndCount(h.registry, "paperbot_rebalances_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = testutil.GatherAndCount(h.registry, "paperbot_orders_submitted_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCycleHoldsOnStaleCrossSection(t *testing.T) {
	bars := liveUniverse(40)
	bars["SPY"] = liveBars(41, 400, 0.0005)
	h := newCycleHarness(t, bars)

	out, err := h.cycle.Run()
	require.NoError(t, err)
	assert.Empty(t, out.Orders)
	assert.Empty(t, out.Signals)

	// Nothing to journal for the book, but the snapshot still lands.
	trades, err := h.trades.GetRecent(5)
	require.NoError(t, err)
	assert.Empty(t, trades)

	equity, err := h.equity.GetRecent(5)
	require.NoError(t, err)
	assert.Len(t, equity, 1)
}

func TestCycleFailsWithoutModel(t *testing.T) {
	h := newCycleHarness(t, liveUniverse(40))
	h.cycle.model = func() (Predictor, error) {
		return nil, errors.New("model file missing")
	}

	_, err := h.cycle.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading forecast model")
}

func TestCycleFailsWithoutBenchmarkHistory(t *testing.T) {
	bars := liveUniverse(40)
	delete(bars, "SPY")
	h := newCycleHarness(t, bars)

	_, err := h.cycle.Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestTrimToWindow(t *testing.T) {
	long := liveBars(400, 100, 0.001)
	trimmed := trimToWindow(map[string][]domain.Bar{"AAPL": long}, 30)

	require.NotEmpty(t, trimmed["AAPL"])
	assert.Less(t, len(trimmed["AAPL"]), len(long))

	latest := long[len(long)-1].Timestamp
	for _, bar := range trimmed["AAPL"] {
		assert.False(t, bar.Timestamp.Before(latest.AddDate(0, 0, -30)))
	}
}
