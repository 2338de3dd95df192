package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"paperbot/internal/domain"
)

// SignalRepository handles signal log database operations
type SignalRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSignalRepository creates a new signal repository
func NewSignalRepository(db *sql.DB, log zerolog.Logger) *SignalRepository {
	return &SignalRepository{
		db:  db,
		log: log.With().Str("repo", "signals").Logger(),
	}
}

// Log appends one timestamped batch of signals
func (r *SignalRepository) Log(ts time.Time, signals []domain.Signal) error {
	if len(signals) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be no-op if Commit succeeds

	stmt, err := tx.Prepare(`
		INSERT INTO signals (ts, symbol, score, signal)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	tsStr := ts.UTC().Format(time.RFC3339)
	for _, signal := range signals {
		_, err = stmt.Exec(tsStr, signal.Symbol, signal.Score, string(signal.Side))
		if err != nil {
			return fmt.Errorf("failed to insert signal for %s: %w", signal.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debug().Int("count", len(signals)).Msg("Signals logged")
	return nil
}

// GetRecent returns the most recent signal rows, newest first.
func (r *SignalRepository) GetRecent(limit int) ([]SignalRecord, error) {
	query := `
		SELECT ts, symbol, score, signal
		FROM signals
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var records []SignalRecord
	for rows.Next() {
		var record SignalRecord
		var ts, side string

		err := rows.Scan(&ts, &record.Symbol, &record.Score, &side)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}

		record.Timestamp, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signal timestamp %q: %w", ts, err)
		}
		record.Side = domain.Side(side)

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signals: %w", err)
	}

	return records, nil
}
