package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperbot/internal/broker"
	"paperbot/internal/config"
	"paperbot/internal/database"
	"paperbot/internal/domain"
	"paperbot/internal/modules/backtest"
	"paperbot/internal/modules/history"
	"paperbot/internal/modules/journal"
	"paperbot/internal/scheduler"
)

type stubJob struct {
	name string
	runs int
	err  error
}

func (j *stubJob) Run() error {
	j.runs++
	return j.err
}

func (j *stubJob) Name() string { return j.name }

type serverHarness struct {
	srv     *Server
	broker  *broker.PaperBroker
	equity  *journal.EquityRepository
	signals *journal.SignalRepository
	trades  *journal.TradeRepository
	job     *stubJob
}

func serverStrategy() config.Strategy {
	return config.Strategy{
		TrainLookbackDays:  60,
		PredHorizonDays:    1,
		RebalanceFrequency: "W",
		TopK:               3,
		MinLongReturn:      0.0,
		MaxShortReturn:     -0.001,
		MaxPositionPct:     0.25,
		GrossLeverage:      1.0,
		BearLeverage:       0.6,
		TCostBps:           5,
		VolWindow:          20,
		DrawdownWindow:     120,
		SimSeed:            42,
	}
}

func weekdayBars(days int, base, growth float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Bar, 0, days)
	day := start
	price := base
	for len(out) < days {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			out = append(out, domain.Bar{
				Timestamp: day,
				Open:      price * 0.999,
				High:      price * 1.01,
				Low:       price * 0.99,
				Close:     price,
				Volume:    1e6,
			})
			price *= 1 + growth
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

func newServerHarness(t *testing.T, barDays int) *serverHarness {
	t.Helper()
	dir := t.TempDir()

	journalDB, err := database.New(database.Config{
		Path:    filepath.Join(dir, "journal.db"),
		Profile: database.ProfileLedger,
		Name:    "journal",
	})
	require.NoError(t, err)
	t.Cleanup(func() { journalDB.Close() })
	require.NoError(t, journalDB.Migrate(broker.Schema))
	require.NoError(t, journalDB.Migrate(journal.Schema))

	barsDB, err := history.Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { barsDB.Close() })
	store := history.NewStore(barsDB, zerolog.Nop())
	require.NoError(t, store.Init())

	if barDays > 0 {
		seed := map[string][]domain.Bar{
			"AAPL": weekdayBars(barDays, 100, 0.004),
			"MSFT": weekdayBars(barDays, 200, 0.002),
			"NVDA": weekdayBars(barDays, 300, 0.003),
			"GE":   weekdayBars(barDays, 80, -0.003),
			"F":    weekdayBars(barDays, 40, -0.002),
			"SPY":  weekdayBars(barDays, 400, 0.0005),
		}
		for symbol, series := range seed {
			require.NoError(t, store.UpsertBars(symbol, series))
		}
	}

	b := broker.NewPaperBroker(journalDB.Conn(), zerolog.Nop())
	require.NoError(t, b.Init(100_000, false))

	h := &serverHarness{
		broker:  b,
		equity:  journal.NewEquityRepository(journalDB.Conn(), zerolog.Nop()),
		signals: journal.NewSignalRepository(journalDB.Conn(), zerolog.Nop()),
		trades:  journal.NewTradeRepository(journalDB.Conn(), zerolog.Nop()),
		job:     &stubJob{name: "rebalance"},
	}

	backtests := backtest.NewService(backtest.ServiceConfig{
		Log:         zerolog.Nop(),
		Store:       store,
		Simulator:   backtest.NewSimulator(serverStrategy(), "SPY", zerolog.Nop()),
		Universe:    []string{"AAPL", "MSFT", "NVDA", "GE", "F"},
		Benchmark:   "SPY",
		HistoryDays: 400,
	})

	h.srv = New(Config{
		Log:          zerolog.Nop(),
		Port:         0,
		Equity:       h.equity,
		Signals:      h.signals,
		Trades:       h.trades,
		Positions:    b,
		Backtests:    backtests,
		Scheduler:    scheduler.New(nil, zerolog.Nop()),
		RebalanceJob: h.job,
		JournalDB:    journalDB,
		Bars:         store,
	})
	return h
}

func (h *serverHarness) request(t *testing.T, method, path string, want int) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.srv.router.ServeHTTP(rec, req)
	require.Equal(t, want, rec.Code, "unexpected status for %s %s: %s", method, path, rec.Body.String())
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h := newServerHarness(t, 0)

	rec := h.request(t, http.MethodGet, "/api/health", http.StatusOK)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestEquityEndpoint(t *testing.T) {
	h := newServerHarness(t, 0)
	base := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		require.NoError(t, h.equity.Log(journal.EquitySnapshot{
			Timestamp:      base.AddDate(0, 0, i),
			Equity:         100_000 + float64(i),
			Cash:           100_000,
			PortfolioValue: 100_000 + float64(i),
		}))
	}

	rec := h.request(t, http.MethodGet, "/api/equity", http.StatusOK)
	var rows []journal.EquitySnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, 100_001.0, rows[0].Equity) // newest first

	rec = h.request(t, http.MethodGet, "/api/equity?limit=1", http.StatusOK)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 1)
}

func TestSignalsEndpoint(t *testing.T) {
	h := newServerHarness(t, 0)
	ts := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)
	require.NoError(t, h.signals.Log(ts, []domain.Signal{
		{Symbol: "AAPL", Score: 0.012, Side: domain.SideLong, Vol: 0.02},
		{Symbol: "GE", Score: -0.008, Side: domain.SideShort, Vol: 0.03},
	}))

	rec := h.request(t, http.MethodGet, "/api/signals", http.StatusOK)
	var rows []journal.SignalRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 2)
}

func TestTradesEndpoint(t *testing.T) {
	h := newServerHarness(t, 0)
	order, err := h.broker.SubmitOrder("AAPL", "buy", 10, 100)
	require.NoError(t, err)
	require.NoError(t, h.trades.Log([]domain.Order{order}))

	rec := h.request(t, http.MethodGet, "/api/trades", http.StatusOK)
	var rows []domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "AAPL", rows[0].Symbol)
	assert.Equal(t, domain.OrderBuy, rows[0].Side)
}

func TestPositionsEndpoint(t *testing.T) {
	h := newServerHarness(t, 0)
	_, err := h.broker.SubmitOrder("AAPL", "buy", 10, 100)
	require.NoError(t, err)

	rec := h.request(t, http.MethodGet, "/api/positions", http.StatusOK)
	var positions []domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Symbol)
	assert.Equal(t, 10.0, positions[0].Quantity)
}

func TestBacktestEndpoints(t *testing.T) {
	h := newServerHarness(t, 130)

	h.request(t, http.MethodGet, "/api/backtest/latest", http.StatusNotFound)

	rec := h.request(t, http.MethodPost, "/api/backtest/run", http.StatusOK)
	var run backtest.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Greater(t, run.Stats.Days, 0)
	assert.Equal(t, 6, run.Symbols)

	rec = h.request(t, http.MethodGet, "/api/backtest/latest", http.StatusOK)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Greater(t, run.Stats.Days, 0)
}

func TestBacktestRunWithoutHistory(t *testing.T) {
	h := newServerHarness(t, 0)

	h.request(t, http.MethodPost, "/api/backtest/run", http.StatusInternalServerError)
}

func TestRebalanceRunEndpoint(t *testing.T) {
	h := newServerHarness(t, 0)

	rec := h.request(t, http.MethodPost, "/api/rebalance/run", http.StatusOK)
	assert.Equal(t, 1, h.job.runs)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
}

func TestRebalanceRunUnregistered(t *testing.T) {
	h := newServerHarness(t, 0)
	h.srv.handlers.rebalance = nil

	h.request(t, http.MethodPost, "/api/rebalance/run", http.StatusServiceUnavailable)
}

func TestSystemHealthEndpoint(t *testing.T) {
	h := newServerHarness(t, 0)

	rec := h.request(t, http.MethodGet, "/api/system/health", http.StatusOK)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotNil(t, body["goroutines"])
	assert.Contains(t, body["databases"], "journal")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newServerHarness(t, 0)

	h.request(t, http.MethodGet, "/metrics", http.StatusOK)
}
