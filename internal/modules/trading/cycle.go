package trading

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"paperbot/internal/config"
	"paperbot/internal/domain"
	"paperbot/internal/metrics"
	"paperbot/internal/modules/history"
	"paperbot/internal/modules/journal"
	"paperbot/internal/modules/universe"
)

// signalWindowDays is the calendar span of bar history a live cycle
// scores against.
const signalWindowDays = 260

// ModelSource resolves the trained forecast model before each cycle.
// Loading fresh every run picks up retrained models without a restart.
type ModelSource func() (Predictor, error)

// CycleConfig wires one live trading cycle.
type CycleConfig struct {
	Params     config.Strategy
	Benchmark  string
	Universe   []string // tradable symbols, benchmark handled separately
	Store      *history.Store
	Sync       *history.SyncService // nil trades on stored history only
	Model      ModelSource
	Rebalancer *Rebalancer
	Snapshots  *SnapshotService
	Equity     *journal.EquityRepository
	Signals    *journal.SignalRepository
	Trades     *journal.TradeRepository
	Metrics    *metrics.Recorder // nil disables instrumentation
	Log        zerolog.Logger
}

// Cycle runs one complete live pass: refresh bars, score the latest
// cross-section, move the account, journal everything. The rebalance
// command, the weekly scheduler job and the API trigger all share it.
type Cycle struct {
	params     config.Strategy
	benchmark  string
	universe   []string
	store      *history.Store
	sync       *history.SyncService
	model      ModelSource
	rebalancer *Rebalancer
	snapshots  *SnapshotService
	equity     *journal.EquityRepository
	signals    *journal.SignalRepository
	trades     *journal.TradeRepository
	metrics    *metrics.Recorder
	log        zerolog.Logger
}

func NewCycle(cfg CycleConfig) *Cycle {
	return &Cycle{
		params:     cfg.Params,
		benchmark:  cfg.Benchmark,
		universe:   cfg.Universe,
		store:      cfg.Store,
		sync:       cfg.Sync,
		model:      cfg.Model,
		rebalancer: cfg.Rebalancer,
		snapshots:  cfg.Snapshots,
		equity:     cfg.Equity,
		signals:    cfg.Signals,
		trades:     cfg.Trades,
		metrics:    cfg.Metrics,
		log:        cfg.Log.With().Str("component", "cycle").Logger(),
	}
}

// Run executes the cycle and returns the rebalance outcome. A failed bar
// refresh degrades to stored history; a missing model aborts, because the
// live driver never trains inline.
func (c *Cycle) Run() (*Outcome, error) {
	symbols := universe.WithBenchmark(c.universe, c.benchmark)

	if c.sync != nil {
		if _, err := c.sync.SyncAll(symbols, signalWindowDays); err != nil {
			c.log.Warn().Err(err).Msg("Bar refresh failed, trading on stored history")
		}
	}

	bars, err := c.store.LoadBars(symbols, signalWindowDays)
	if err != nil {
		return nil, fmt.Errorf("loading bar history: %w", err)
	}
	bars = trimToWindow(bars, signalWindowDays)

	model, err := c.model()
	if err != nil {
		return nil, fmt.Errorf("loading forecast model (train one first): %w", err)
	}

	window, err := c.recentEquity()
	if err != nil {
		return nil, err
	}

	out, err := c.rebalancer.Run(bars, model, window)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordRebalance(metrics.RebalanceFailed)
		}
		return nil, err
	}

	if len(out.Orders) > 0 {
		if err := c.trades.Log(out.Orders); err != nil {
			return nil, fmt.Errorf("journaling trades: %w", err)
		}
	}
	if len(out.Signals) > 0 {
		if err := c.signals.Log(out.Timestamp, out.Signals); err != nil {
			return nil, fmt.Errorf("journaling signals: %w", err)
		}
	}

	snap, err := c.snapshots.Take()
	if err != nil {
		return nil, fmt.Errorf("recording snapshot: %w", err)
	}

	if c.metrics != nil {
		result := metrics.RebalanceExecuted
		if len(out.Signals) == 0 {
			result = metrics.RebalanceHeld
		}
		c.metrics.RecordRebalance(result)
		for _, order := range out.Orders {
			c.metrics.RecordOrder(order.Side, strings.HasPrefix(order.Status, "rejected"))
		}
		c.metrics.SetLeverage(out.Leverage)
		c.metrics.SetEquity(snap.Account.Equity)
	}

	c.log.Info().
		Time("date", out.Timestamp).
		Int("orders", len(out.Orders)).
		Float64("equity", snap.Account.Equity).
		Msg("Trading cycle complete")

	return out, nil
}

// recentEquity reads the journaled drawdown window back into
// chronological order.
func (c *Cycle) recentEquity() ([]float64, error) {
	rows, err := c.equity.GetRecent(c.params.DrawdownWindow)
	if err != nil {
		return nil, fmt.Errorf("reading equity window: %w", err)
	}
	out := make([]float64, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = row.Equity
	}
	return out, nil
}

// trimToWindow drops bars older than the calendar window ending at the
// newest bar in the set.
func trimToWindow(bars map[string][]domain.Bar, days int) map[string][]domain.Bar {
	var latest time.Time
	for _, series := range bars {
		for _, bar := range series {
			if bar.Timestamp.After(latest) {
				latest = bar.Timestamp
			}
		}
	}
	if latest.IsZero() {
		return bars
	}
	cutoff := latest.AddDate(0, 0, -days)

	out := make(map[string][]domain.Bar, len(bars))
	for symbol, series := range bars {
		kept := make([]domain.Bar, 0, len(series))
		for _, bar := range series {
			if !bar.Timestamp.Before(cutoff) {
				kept = append(kept, bar)
			}
		}
		if len(kept) > 0 {
			out[symbol] = kept
		}
	}
	return out
}
