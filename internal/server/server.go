// Package server exposes the JSON status and control API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"paperbot/internal/database"
	"paperbot/internal/modules/backtest"
	"paperbot/internal/modules/history"
	"paperbot/internal/modules/journal"
	"paperbot/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log          zerolog.Logger
	Port         int
	Equity       *journal.EquityRepository
	Signals      *journal.SignalRepository
	Trades       *journal.TradeRepository
	Positions    PositionSource
	Backtests    *backtest.Service
	Scheduler    *scheduler.Scheduler
	RebalanceJob scheduler.Job
	JournalDB    *database.DB
	Bars         *history.Store
}

// Server represents the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	handlers *Handlers
	system   *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		handlers: NewHandlers(HandlersConfig{
			Log:          cfg.Log,
			Equity:       cfg.Equity,
			Signals:      cfg.Signals,
			Trades:       cfg.Trades,
			Positions:    cfg.Positions,
			Backtests:    cfg.Backtests,
			Scheduler:    cfg.Scheduler,
			RebalanceJob: cfg.RebalanceJob,
		}),
		system: NewSystemHandlers(cfg.JournalDB, cfg.Bars, cfg.Log),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handlers.HandleHealth)
		r.Get("/equity", s.handlers.HandleEquity)
		r.Get("/signals", s.handlers.HandleSignals)
		r.Get("/trades", s.handlers.HandleTrades)
		r.Get("/positions", s.handlers.HandlePositions)

		r.Route("/backtest", func(r chi.Router) {
			r.Get("/latest", s.handlers.HandleBacktestLatest)
			r.Post("/run", s.handlers.HandleBacktestRun)
		})
		r.Post("/rebalance/run", s.handlers.HandleRebalanceRun)

		r.Get("/system/health", s.system.HandleSystemHealth)
	})

	s.router.Handle("/metrics", promhttp.Handler())
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
