package backtest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"paperbot/internal/metrics"
	"paperbot/internal/modules/history"
	"paperbot/internal/modules/universe"
)

// ErrRunInProgress rejects a second simulation while one is still running.
var ErrRunInProgress = errors.New("a backtest is already running")

// Run is one completed backtest with its provenance.
type Run struct {
	*Result
	RanAt           time.Time `json:"ran_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Symbols         int       `json:"symbols"`
}

// Service runs simulations over the stored bar history and keeps the
// most recent result for the API to serve.
type Service struct {
	store       *history.Store
	sim         *Simulator
	universe    []string
	benchmark   string
	historyDays int
	metrics     *metrics.Recorder
	log         zerolog.Logger

	mu      sync.Mutex
	running bool
	latest  *Run
}

// ServiceConfig holds configuration for the backtest service
type ServiceConfig struct {
	Log         zerolog.Logger
	Store       *history.Store
	Simulator   *Simulator
	Universe    []string
	Benchmark   string
	HistoryDays int
	Metrics     *metrics.Recorder
}

// NewService creates a new backtest service
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		store:       cfg.Store,
		sim:         cfg.Simulator,
		universe:    cfg.Universe,
		benchmark:   cfg.Benchmark,
		historyDays: cfg.HistoryDays,
		metrics:     cfg.Metrics,
		log:         cfg.Log.With().Str("service", "backtest").Logger(),
	}
}

// Run loads the stored history and simulates the strategy over it. Only
// one simulation runs at a time; concurrent callers get ErrRunInProgress.
func (s *Service) Run() (*Run, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	run, err := s.runOnce()
	elapsed := time.Since(start).Seconds()

	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordBacktest(status, elapsed)
	}
	if err != nil {
		return nil, err
	}

	run.RanAt = start.UTC()
	run.DurationSeconds = elapsed

	s.mu.Lock()
	s.latest = run
	s.mu.Unlock()

	s.log.Info().
		Int("days", run.Stats.Days).
		Float64("final_equity", run.Stats.FinalEquity).
		Float64("seconds", elapsed).
		Msg("Backtest complete")
	return run, nil
}

func (s *Service) runOnce() (*Run, error) {
	symbols := universe.WithBenchmark(s.universe, s.benchmark)

	bars, err := s.store.LoadBars(symbols, s.historyDays)
	if err != nil {
		return nil, fmt.Errorf("loading bar history: %w", err)
	}

	result, err := s.sim.Run(bars)
	if err != nil {
		return nil, err
	}

	return &Run{Result: result, Symbols: len(bars)}, nil
}

// Latest returns the most recent completed run, or nil when none has
// finished since the process started.
func (s *Service) Latest() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}
