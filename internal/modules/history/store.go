// Package history persists daily OHLCV bars in a local SQLite database.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"

	"paperbot/internal/domain"
)

const dateLayout = "2006-01-02"

const schema = `
CREATE TABLE IF NOT EXISTS daily_bars (
	symbol TEXT NOT NULL,
	date   TEXT NOT NULL,
	open   REAL NOT NULL,
	high   REAL NOT NULL,
	low    REAL NOT NULL,
	close  REAL NOT NULL,
	volume REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, date)
);
CREATE INDEX IF NOT EXISTS idx_daily_bars_date ON daily_bars(date);
`

// Open opens the bar history database at path, creating parent directories
// as needed.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	return db, nil
}

// Store provides access to stored daily bars
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a new bar store
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "history_store").Logger(),
	}
}

// Init creates the bar schema if it does not exist yet
func (s *Store) Init() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create history schema: %w", err)
	}
	return nil
}

// UpsertBars inserts or replaces daily bars for a symbol in a single
// transaction.
func (s *Store) UpsertBars(symbol string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be no-op if Commit succeeds

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO daily_bars
		(symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		date := bar.Timestamp.Format(dateLayout)
		_, err = stmt.Exec(symbol, date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert bar for %s: %w", date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Debug().
		Str("symbol", symbol).
		Int("count", len(bars)).
		Msg("Stored daily bars")

	return nil
}

// GetBars fetches the most recent bars for a symbol in chronological order.
// A non-positive limit returns the full series.
func (s *Store) GetBars(symbol string, limit int) ([]domain.Bar, error) {
	query := `
		SELECT symbol, date, open, high, low, close, volume
		FROM daily_bars
		WHERE symbol = ?
		ORDER BY date ASC
	`
	args := []any{symbol}

	if limit > 0 {
		query = `
			SELECT symbol, date, open, high, low, close, volume
			FROM (
				SELECT symbol, date, open, high, low, close, volume
				FROM daily_bars
				WHERE symbol = ?
				ORDER BY date DESC
				LIMIT ?
			)
			ORDER BY date ASC
		`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily bars: %w", err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var bar domain.Bar
		var date string

		err := rows.Scan(&bar.Symbol, &date, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily bar: %w", err)
		}

		bar.Timestamp, err = time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bar date %q: %w", date, err)
		}

		bars = append(bars, bar)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily bars: %w", err)
	}

	return bars, nil
}

// LoadBars fetches bars for a set of symbols, keyed by symbol. Symbols with
// no stored bars are omitted from the result.
func (s *Store) LoadBars(symbols []string, limit int) (map[string][]domain.Bar, error) {
	out := make(map[string][]domain.Bar, len(symbols))
	for _, symbol := range symbols {
		bars, err := s.GetBars(symbol, limit)
		if err != nil {
			return nil, err
		}
		if len(bars) > 0 {
			out[symbol] = bars
		}
	}
	return out, nil
}

// BarCount returns the number of stored bars for a symbol
func (s *Store) BarCount(symbol string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM daily_bars WHERE symbol = ?", symbol).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bars: %w", err)
	}
	return count, nil
}

// LatestDate returns the most recent bar date across all symbols, or the
// empty string when the store is empty.
func (s *Store) LatestDate() (string, error) {
	var date sql.NullString
	err := s.db.QueryRow("SELECT MAX(date) FROM daily_bars").Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to query latest bar date: %w", err)
	}
	if !date.Valid {
		return "", nil
	}
	return date.String, nil
}

// PruneExcept deletes stored bars for every symbol not in keep, returning
// the number of rows removed. An empty keep list is a no-op rather than a
// full wipe.
func (s *Store) PruneExcept(keep []string) (int64, error) {
	if len(keep) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",")
	args := make([]any, len(keep))
	for i, symbol := range keep {
		args[i] = symbol
	}

	result, err := s.db.Exec("DELETE FROM daily_bars WHERE symbol NOT IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune stale symbols: %w", err)
	}

	removed, _ := result.RowsAffected()
	if removed > 0 {
		s.log.Info().Int64("rows", removed).Msg("Pruned bars for symbols no longer in the universe")
	}
	return removed, nil
}

// Checkpoint truncates the WAL so daily upserts cannot grow it unbounded
func (s *Store) Checkpoint() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("history WAL checkpoint failed: %w", err)
	}
	return nil
}

// Backup writes an atomic copy of the bar database to path.
func (s *Store) Backup(path string) error {
	if _, err := s.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", path)); err != nil {
		return fmt.Errorf("history backup failed: %w", err)
	}
	return nil
}
