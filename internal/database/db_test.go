package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, profile DatabaseProfile) *DB {
	t.Helper()

	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "test.db"),
		Profile: profile,
		Name:    "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestNew_AllProfiles(t *testing.T) {
	for _, profile := range []DatabaseProfile{ProfileLedger, ProfileCache, ProfileStandard} {
		t.Run(string(profile), func(t *testing.T) {
			db := newTestDB(t, profile)
			assert.Equal(t, profile, db.Profile())
			assert.NoError(t, db.HealthCheck(context.Background()))
		})
	}
}

func TestNew_DefaultsToStandardProfile(t *testing.T) {
	db, err := New(Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
		Name: "test",
	})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, ProfileStandard, db.Profile())
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t, ProfileStandard)

	schema := `CREATE TABLE things (id INTEGER PRIMARY KEY, name TEXT NOT NULL);`
	require.NoError(t, db.Migrate(schema))

	_, err := db.Exec("INSERT INTO things (name) VALUES (?)", "a")
	require.NoError(t, err)

	// Re-applying the same schema must not fail
	require.NoError(t, db.Migrate(schema))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM things").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWALCheckpoint(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	require.NoError(t, db.Migrate(`CREATE TABLE t (v TEXT);`))

	_, err := db.Exec("INSERT INTO t (v) VALUES ('x')")
	require.NoError(t, err)

	assert.NoError(t, db.WALCheckpoint(""))
	assert.NoError(t, db.WALCheckpoint("PASSIVE"))
}

func TestGetStats(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	require.NoError(t, db.Migrate(`CREATE TABLE t (v TEXT);`))

	stats, err := db.GetStats()
	require.NoError(t, err)

	assert.Greater(t, stats.PageCount, int64(0))
	assert.Greater(t, stats.PageSize, int64(0))
}

func TestWithTransaction_CommitsOnSuccess(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	require.NoError(t, db.Migrate(`CREATE TABLE t (v TEXT NOT NULL);`))

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO t (v) VALUES (?)", "committed")
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	require.NoError(t, db.Migrate(`CREATE TABLE t (v TEXT NOT NULL);`))

	boom := errors.New("boom")
	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO t (v) VALUES (?)", "rolled back"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 0, count)
}
