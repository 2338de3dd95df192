package history

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperbot/internal/domain"
)

type stubFetcher struct {
	daily       map[string][]domain.Bar
	dailyErr    error
	single      []domain.Bar
	singleErr   error
	lastDays    int
	lastSymbols []string
}

func (f *stubFetcher) GetDailyBars(symbols []string, days int) (map[string][]domain.Bar, error) {
	f.lastSymbols = symbols
	f.lastDays = days
	return f.daily, f.dailyErr
}

func (f *stubFetcher) GetHistoricalBars(symbol string, days int, maxRetries int) ([]domain.Bar, error) {
	f.lastDays = days
	return f.single, f.singleErr
}

func TestSyncAllStoresDownloadedBars(t *testing.T) {
	store := newTestStore(t)
	fetcher := &stubFetcher{
		daily: map[string][]domain.Bar{
			"AAPL": {makeBar("AAPL", "2024-01-02", 100)},
			"MSFT": {makeBar("MSFT", "2024-01-02", 400)},
		},
	}
	svc := NewSyncService(fetcher, store, 0, zerolog.Nop())

	synced, err := svc.SyncAll([]string{"AAPL", "MSFT"}, 365)

	require.NoError(t, err)
	assert.Equal(t, 2, synced)
	assert.Equal(t, 365, fetcher.lastDays)

	bars, err := store.GetBars("MSFT", 0)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
}

func TestSyncAllSkipsMissingSymbols(t *testing.T) {
	store := newTestStore(t)
	fetcher := &stubFetcher{
		daily: map[string][]domain.Bar{
			"AAPL": {makeBar("AAPL", "2024-01-02", 100)},
		},
	}
	svc := NewSyncService(fetcher, store, 0, zerolog.Nop())

	synced, err := svc.SyncAll([]string{"AAPL", "DELISTED"}, 365)

	require.NoError(t, err)
	assert.Equal(t, 1, synced)
}

func TestSyncAllFailsWhenNothingSynced(t *testing.T) {
	store := newTestStore(t)
	svc := NewSyncService(&stubFetcher{daily: map[string][]domain.Bar{}}, store, 0, zerolog.Nop())

	_, err := svc.SyncAll([]string{"AAPL"}, 365)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no symbols synced")
}

func TestSyncAllPropagatesDownloadError(t *testing.T) {
	store := newTestStore(t)
	boom := errors.New("network down")
	svc := NewSyncService(&stubFetcher{dailyErr: boom}, store, 0, zerolog.Nop())

	_, err := svc.SyncAll([]string{"AAPL"}, 365)

	require.ErrorIs(t, err, boom)
}

func TestSyncSymbolSeedsEmptyStore(t *testing.T) {
	store := newTestStore(t)
	fetcher := &stubFetcher{single: []domain.Bar{makeBar("AAPL", "2024-01-02", 100)}}
	svc := NewSyncService(fetcher, store, 0, zerolog.Nop())

	err := svc.SyncSymbol("AAPL", 730, 30)

	require.NoError(t, err)
	assert.Equal(t, 730, fetcher.lastDays)

	count, err := store.BarCount("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSyncSymbolRefreshesSeededStore(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertBars("AAPL", []domain.Bar{makeBar("AAPL", "2024-01-02", 100)}))

	fetcher := &stubFetcher{single: []domain.Bar{makeBar("AAPL", "2024-01-03", 101)}}
	svc := NewSyncService(fetcher, store, 0, zerolog.Nop())

	err := svc.SyncSymbol("AAPL", 730, 30)

	require.NoError(t, err)
	assert.Equal(t, 30, fetcher.lastDays)

	count, err := store.BarCount("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
