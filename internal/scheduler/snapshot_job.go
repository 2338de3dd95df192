package scheduler

import (
	"github.com/rs/zerolog"

	"paperbot/internal/modules/trading"
)

// SnapshotTaker marks the book to market and journals the account state
type SnapshotTaker interface {
	Take() (*trading.Snapshot, error)
}

// SnapshotJob records an end-of-day account snapshot so the equity curve
// keeps moving between rebalances.
type SnapshotJob struct {
	log       zerolog.Logger
	snapshots SnapshotTaker
}

// NewSnapshotJob creates a new snapshot job
func NewSnapshotJob(snapshots SnapshotTaker, log zerolog.Logger) *SnapshotJob {
	return &SnapshotJob{
		log:       log.With().Str("job", "snapshot").Logger(),
		snapshots: snapshots,
	}
}

// Name returns the job name
func (j *SnapshotJob) Name() string {
	return "snapshot"
}

// Run takes one snapshot
func (j *SnapshotJob) Run() error {
	snap, err := j.snapshots.Take()
	if err != nil {
		return err
	}

	j.log.Info().
		Float64("equity", snap.Account.Equity).
		Int("positions", len(snap.Positions)).
		Msg("Scheduled snapshot recorded")
	return nil
}
