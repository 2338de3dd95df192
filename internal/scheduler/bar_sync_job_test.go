package scheduler

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncCall struct {
	symbol  string
	seed    int
	refresh int
}

type fakeSyncer struct {
	calls []syncCall
	fail  map[string]error
}

func (f *fakeSyncer) SyncSymbol(symbol string, seedDays, refreshDays int) error {
	f.calls = append(f.calls, syncCall{symbol, seedDays, refreshDays})
	return f.fail[symbol]
}

func newBarSyncJob(syncer *fakeSyncer) *BarSyncJob {
	return NewBarSyncJob(BarSyncConfig{
		Log:         zerolog.Nop(),
		Sync:        syncer,
		Universe:    []string{"AAPL", "MSFT"},
		Benchmark:   "SPY",
		SeedDays:    900,
		RefreshDays: 10,
	})
}

func TestBarSyncJobCoversUniverseAndBenchmark(t *testing.T) {
	syncer := &fakeSyncer{}
	job := newBarSyncJob(syncer)

	require.NoError(t, job.Run())
	assert.Equal(t, []syncCall{
		{"AAPL", 900, 10},
		{"MSFT", 900, 10},
		{"SPY", 900, 10},
	}, syncer.calls)
}

func TestBarSyncJobToleratesPartialFailure(t *testing.T) {
	syncer := &fakeSyncer{fail: map[string]error{"AAPL": errors.New("rate limited")}}
	job := newBarSyncJob(syncer)

	require.NoError(t, job.Run())
	assert.Len(t, syncer.calls, 3)
}

func TestBarSyncJobFailsWhenNothingSyncs(t *testing.T) {
	syncer := &fakeSyncer{fail: map[string]error{
		"AAPL": errors.New("down"),
		"MSFT": errors.New("down"),
		"SPY":  errors.New("down"),
	}}
	job := newBarSyncJob(syncer)

	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 symbols")
}

func TestBarSyncJobName(t *testing.T) {
	assert.Equal(t, "bar_sync", newBarSyncJob(&fakeSyncer{}).Name())
}
