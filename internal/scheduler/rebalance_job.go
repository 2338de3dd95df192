package scheduler

import (
	"github.com/rs/zerolog"

	"paperbot/internal/modules/trading"
)

// Trader runs one full trading cycle
type Trader interface {
	Run() (*trading.Outcome, error)
}

// RebalanceJob drives the live trading cycle on its schedule
type RebalanceJob struct {
	log   zerolog.Logger
	cycle Trader
}

// NewRebalanceJob creates a new rebalance job
func NewRebalanceJob(cycle Trader, log zerolog.Logger) *RebalanceJob {
	return &RebalanceJob{
		log:   log.With().Str("job", "rebalance").Logger(),
		cycle: cycle,
	}
}

// Name returns the job name
func (j *RebalanceJob) Name() string {
	return "rebalance"
}

// Run executes one trading cycle
func (j *RebalanceJob) Run() error {
	out, err := j.cycle.Run()
	if err != nil {
		return err
	}

	j.log.Info().
		Time("date", out.Timestamp).
		Int("orders", len(out.Orders)).
		Float64("leverage", out.Leverage).
		Msg("Scheduled rebalance complete")
	return nil
}
