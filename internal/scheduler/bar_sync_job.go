package scheduler

import (
	"fmt"

	"github.com/rs/zerolog"

	"paperbot/internal/modules/universe"
)

// BarSyncer refreshes stored daily bars for one symbol
type BarSyncer interface {
	SyncSymbol(symbol string, seedDays, refreshDays int) error
}

// BarSyncJob refreshes daily bars for the trading universe plus the
// benchmark. Symbols with no stored history get the full seed window,
// the rest only the recent refresh window.
type BarSyncJob struct {
	log         zerolog.Logger
	sync        BarSyncer
	universe    []string
	benchmark   string
	seedDays    int
	refreshDays int
}

// BarSyncConfig holds configuration for the bar sync job
type BarSyncConfig struct {
	Log         zerolog.Logger
	Sync        BarSyncer
	Universe    []string
	Benchmark   string
	SeedDays    int
	RefreshDays int
}

// NewBarSyncJob creates a new bar sync job
func NewBarSyncJob(cfg BarSyncConfig) *BarSyncJob {
	return &BarSyncJob{
		log:         cfg.Log.With().Str("job", "bar_sync").Logger(),
		sync:        cfg.Sync,
		universe:    cfg.Universe,
		benchmark:   cfg.Benchmark,
		seedDays:    cfg.SeedDays,
		refreshDays: cfg.RefreshDays,
	}
}

// Name returns the job name
func (j *BarSyncJob) Name() string {
	return "bar_sync"
}

// Run refreshes every symbol, skipping the ones that fail. Only a sync
// that stores nothing at all is an error.
func (j *BarSyncJob) Run() error {
	symbols := universe.WithBenchmark(j.universe, j.benchmark)

	failed := 0
	for _, symbol := range symbols {
		if err := j.sync.SyncSymbol(symbol, j.seedDays, j.refreshDays); err != nil {
			j.log.Warn().Err(err).Str("symbol", symbol).Msg("Bar sync failed for symbol")
			failed++
		}
	}

	if len(symbols) > 0 && failed == len(symbols) {
		return fmt.Errorf("bar sync failed for all %d symbols", failed)
	}
	if failed > 0 {
		j.log.Warn().Int("failed", failed).Int("total", len(symbols)).
			Msg("Bar sync finished with failures")
	}
	return nil
}
