package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"paperbot/internal/domain"
	"paperbot/internal/modules/backtest"
	"paperbot/internal/modules/journal"
	"paperbot/internal/scheduler"
)

// PositionSource reads the current book from the trading venue
type PositionSource interface {
	GetPositions() ([]domain.Position, error)
}

// Handlers serves the journal and engine control endpoints
type Handlers struct {
	log       zerolog.Logger
	equity    *journal.EquityRepository
	signals   *journal.SignalRepository
	trades    *journal.TradeRepository
	positions PositionSource
	backtests *backtest.Service
	scheduler *scheduler.Scheduler
	rebalance scheduler.Job
}

// HandlersConfig holds configuration for the API handlers
type HandlersConfig struct {
	Log          zerolog.Logger
	Equity       *journal.EquityRepository
	Signals      *journal.SignalRepository
	Trades       *journal.TradeRepository
	Positions    PositionSource
	Backtests    *backtest.Service
	Scheduler    *scheduler.Scheduler
	RebalanceJob scheduler.Job
}

// NewHandlers creates the API handlers
func NewHandlers(cfg HandlersConfig) *Handlers {
	return &Handlers{
		log:       cfg.Log.With().Str("component", "api").Logger(),
		equity:    cfg.Equity,
		signals:   cfg.Signals,
		trades:    cfg.Trades,
		positions: cfg.Positions,
		backtests: cfg.Backtests,
		scheduler: cfg.Scheduler,
		rebalance: cfg.RebalanceJob,
	}
}

// HandleHealth reports process liveness
// GET /api/health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleEquity returns recent equity snapshots, newest first
// GET /api/equity?limit=N
func (h *Handlers) HandleEquity(w http.ResponseWriter, r *http.Request) {
	rows, err := h.equity.GetRecent(queryLimit(r, 180))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read equity history")
		h.writeError(w, http.StatusInternalServerError, "failed to read equity history")
		return
	}
	h.writeJSON(w, rows)
}

// HandleSignals returns recently journaled signals, newest first
// GET /api/signals?limit=N
func (h *Handlers) HandleSignals(w http.ResponseWriter, r *http.Request) {
	rows, err := h.signals.GetRecent(queryLimit(r, 50))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read signal history")
		h.writeError(w, http.StatusInternalServerError, "failed to read signal history")
		return
	}
	h.writeJSON(w, rows)
}

// HandleTrades returns recently journaled orders, newest first
// GET /api/trades?limit=N
func (h *Handlers) HandleTrades(w http.ResponseWriter, r *http.Request) {
	rows, err := h.trades.GetRecent(queryLimit(r, 50))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read trade history")
		h.writeError(w, http.StatusInternalServerError, "failed to read trade history")
		return
	}
	h.writeJSON(w, rows)
}

// HandlePositions returns the venue's current open positions
// GET /api/positions
func (h *Handlers) HandlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.GetPositions()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read positions")
		h.writeError(w, http.StatusInternalServerError, "failed to read positions")
		return
	}
	h.writeJSON(w, positions)
}

// HandleBacktestLatest returns the most recent completed backtest
// GET /api/backtest/latest
func (h *Handlers) HandleBacktestLatest(w http.ResponseWriter, r *http.Request) {
	run := h.backtests.Latest()
	if run == nil {
		h.writeError(w, http.StatusNotFound, "no backtest has completed yet")
		return
	}
	h.writeJSON(w, run)
}

// HandleBacktestRun runs a backtest over the stored history and returns
// the result. Only one runs at a time.
// POST /api/backtest/run
func (h *Handlers) HandleBacktestRun(w http.ResponseWriter, r *http.Request) {
	h.log.Info().Msg("Manual backtest triggered")

	run, err := h.backtests.Run()
	if errors.Is(err, backtest.ErrRunInProgress) {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Backtest failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, run)
}

// HandleRebalanceRun triggers the live rebalance job immediately
// POST /api/rebalance/run
func (h *Handlers) HandleRebalanceRun(w http.ResponseWriter, r *http.Request) {
	if h.rebalance == nil {
		h.writeError(w, http.StatusServiceUnavailable, "rebalance job not registered")
		return
	}

	h.log.Info().Msg("Manual rebalance triggered")

	if err := h.scheduler.RunNow(h.rebalance); err != nil {
		h.log.Error().Err(err).Msg("Failed to trigger rebalance")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, map[string]string{
		"status":  "success",
		"message": "Rebalance triggered successfully",
	})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON error")
	}
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
