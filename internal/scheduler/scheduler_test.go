package scheduler

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperbot/internal/metrics"
)

type stubJob struct {
	name string
	err  error
	runs int
}

func (j *stubJob) Run() error {
	j.runs++
	return j.err
}

func (j *stubJob) Name() string { return j.name }

func TestSchedulerRunNow(t *testing.T) {
	s := New(nil, zerolog.Nop())
	job := &stubJob{name: "noop"}

	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, job.runs)
}

func TestSchedulerRunNowPropagatesError(t *testing.T) {
	s := New(nil, zerolog.Nop())
	boom := errors.New("boom")
	job := &stubJob{name: "broken", err: boom}

	assert.ErrorIs(t, s.RunNow(job), boom)
	assert.Equal(t, 1, job.runs)
}

func TestSchedulerRecordsJobRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(metrics.New(reg), zerolog.Nop())

	require.NoError(t, s.RunNow(&stubJob{name: "good"}))
	require.Error(t, s.RunNow(&stubJob{name: "bad", err: errors.New("boom")}))

	// One child per job/status pair.
	count, err := testutil.GatherAndCount(reg, "paperbot_job_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSchedulerAddJob(t *testing.T) {
	s := New(nil, zerolog.Nop())

	assert.NoError(t, s.AddJob("0 30 21 * * MON-FRI", &stubJob{name: "daily"}))
	assert.NoError(t, s.AddJob("@every 1h", &stubJob{name: "hourly"}))
	assert.Error(t, s.AddJob("not a schedule", &stubJob{name: "bogus"}))
}

func TestSchedulerStartStop(t *testing.T) {
	s := New(nil, zerolog.Nop())
	require.NoError(t, s.AddJob("@every 24h", &stubJob{name: "idle"}))

	s.Start()
	s.Stop()
}
