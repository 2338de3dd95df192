package journal

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperbot/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(Schema)
	require.NoError(t, err)

	return db
}

func ts(day int, hour int) time.Time {
	return time.Date(2024, 6, day, hour, 0, 0, 0, time.UTC)
}

func TestEquityLogAndGetRecent(t *testing.T) {
	repo := NewEquityRepository(newTestDB(t), zerolog.Nop())

	bench := 520.5
	require.NoError(t, repo.Log(EquitySnapshot{Timestamp: ts(1, 16), Equity: 100_000, Cash: 40_000, PortfolioValue: 100_000}))
	require.NoError(t, repo.Log(EquitySnapshot{Timestamp: ts(2, 16), Equity: 101_000, Cash: 39_000, PortfolioValue: 101_000, BenchmarkValue: &bench}))
	require.NoError(t, repo.Log(EquitySnapshot{Timestamp: ts(3, 16), Equity: 99_500, Cash: 41_000, PortfolioValue: 99_500}))

	snapshots, err := repo.GetRecent(2)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)

	// Newest first
	assert.Equal(t, 99_500.0, snapshots[0].Equity)
	assert.Equal(t, 101_000.0, snapshots[1].Equity)
	require.NotNil(t, snapshots[1].BenchmarkValue)
	assert.Equal(t, 520.5, *snapshots[1].BenchmarkValue)
	assert.Nil(t, snapshots[0].BenchmarkValue)
}

func TestEquityLogReplacesSameTimestamp(t *testing.T) {
	repo := NewEquityRepository(newTestDB(t), zerolog.Nop())

	require.NoError(t, repo.Log(EquitySnapshot{Timestamp: ts(1, 16), Equity: 100_000, Cash: 50_000, PortfolioValue: 100_000}))
	require.NoError(t, repo.Log(EquitySnapshot{Timestamp: ts(1, 16), Equity: 100_500, Cash: 50_000, PortfolioValue: 100_500}))

	snapshots, err := repo.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, 100_500.0, snapshots[0].Equity)
}

func TestEquityLatestEmpty(t *testing.T) {
	repo := NewEquityRepository(newTestDB(t), zerolog.Nop())

	latest, err := repo.Latest()

	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestTradeLogAndGetRecent(t *testing.T) {
	repo := NewTradeRepository(newTestDB(t), zerolog.Nop())

	orders := []domain.Order{
		{SubmittedAt: ts(1, 15), ID: "ord-1", Symbol: "AAPL", Side: "buy", Quantity: 10, Price: 180, Status: "filled"},
		{SubmittedAt: ts(1, 15), Symbol: "MSFT", Side: "sell", Quantity: 5, Price: 410, Status: "rejected: insufficient qty"},
	}
	require.NoError(t, repo.Log(orders))

	got, err := repo.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "MSFT", got[0].Symbol)
	assert.Empty(t, got[0].ID)
	assert.Equal(t, "AAPL", got[1].Symbol)
	assert.Equal(t, "ord-1", got[1].ID)
	assert.Equal(t, "filled", got[1].Status)
}

func TestTradeLogEmptyBatch(t *testing.T) {
	repo := NewTradeRepository(newTestDB(t), zerolog.Nop())

	require.NoError(t, repo.Log(nil))

	got, err := repo.GetRecent(10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPositionSnapshotRoundTrip(t *testing.T) {
	repo := NewPositionRepository(newTestDB(t), zerolog.Nop())

	positions := []domain.Position{
		{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 175, MarketValue: 1800, UnrealizedPL: 50},
		{Symbol: "TSLA", Quantity: -3, AvgEntryPrice: 250, MarketValue: -720, UnrealizedPL: 30},
	}
	require.NoError(t, repo.LogSnapshot(ts(1, 16), positions))

	got, err := repo.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "TSLA", got[0].Symbol)
	assert.Equal(t, -3.0, got[0].Quantity)
	assert.Equal(t, ts(1, 16), got[0].LastUpdated)
	assert.Equal(t, "AAPL", got[1].Symbol)
}

func TestSignalLogAndGetRecent(t *testing.T) {
	repo := NewSignalRepository(newTestDB(t), zerolog.Nop())

	signals := []domain.Signal{
		{Symbol: "AAPL", Score: 0.012, Side: domain.SideLong, Vol: 0.02},
		{Symbol: "TSLA", Score: -0.015, Side: domain.SideShort, Vol: 0.04},
		{Symbol: "MSFT", Score: 0.001, Side: domain.SideHold, Vol: 0.015},
	}
	require.NoError(t, repo.Log(ts(1, 16), signals))

	got, err := repo.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "MSFT", got[0].Symbol)
	assert.Equal(t, domain.SideHold, got[0].Side)
	assert.Equal(t, domain.SideShort, got[1].Side)
	assert.InDelta(t, -0.015, got[1].Score, 1e-12)
}
