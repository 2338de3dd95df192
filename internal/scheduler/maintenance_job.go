package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"paperbot/internal/database"
	"paperbot/internal/modules/history"
)

// MaintenanceJob keeps the SQLite files healthy: WAL checkpoints on both
// databases, an integrity check on the journal, and pruning of bars for
// symbols that have left the universe.
type MaintenanceJob struct {
	log     zerolog.Logger
	journal *database.DB
	bars    *history.Store
	keep    []string
}

// NewMaintenanceJob creates a new maintenance job. keep lists the symbols
// whose bars survive pruning; nil disables it.
func NewMaintenanceJob(journal *database.DB, bars *history.Store, keep []string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		log:     log.With().Str("job", "maintenance").Logger(),
		journal: journal,
		bars:    bars,
		keep:    keep,
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run performs all maintenance steps, logging each failure and reporting
// an error only when at least one step failed.
func (j *MaintenanceJob) Run() error {
	failed := 0

	if j.journal != nil {
		if err := j.journal.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Error().Err(err).Msg("Journal WAL checkpoint failed")
			failed++
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := j.journal.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Msg("Journal integrity check failed")
			failed++
		}
		cancel()
	}

	if j.bars != nil {
		if _, err := j.bars.PruneExcept(j.keep); err != nil {
			j.log.Error().Err(err).Msg("Bar pruning failed")
			failed++
		}

		if err := j.bars.Checkpoint(); err != nil {
			j.log.Error().Err(err).Msg("Bar store WAL checkpoint failed")
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d maintenance steps failed", failed)
	}

	j.log.Debug().Msg("Database maintenance complete")
	return nil
}
