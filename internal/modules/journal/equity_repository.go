package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// EquityRepository handles equity snapshot database operations
type EquityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewEquityRepository creates a new equity repository
func NewEquityRepository(db *sql.DB, log zerolog.Logger) *EquityRepository {
	return &EquityRepository{
		db:  db,
		log: log.With().Str("repo", "equity").Logger(),
	}
}

// Log inserts or replaces an equity snapshot. The timestamp is the primary
// key so re-running a snapshot in the same instant is idempotent.
func (r *EquityRepository) Log(snapshot EquitySnapshot) error {
	query := `
		INSERT OR REPLACE INTO equity (ts, equity, cash, portfolio_value, benchmark_value)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		snapshot.Timestamp.UTC().Format(time.RFC3339),
		snapshot.Equity,
		snapshot.Cash,
		snapshot.PortfolioValue,
		nullFloat64Ptr(snapshot.BenchmarkValue),
	)
	if err != nil {
		return fmt.Errorf("failed to log equity snapshot: %w", err)
	}

	r.log.Debug().Float64("equity", snapshot.Equity).Msg("Equity snapshot logged")
	return nil
}

// GetRecent returns the most recent equity snapshots, newest first.
func (r *EquityRepository) GetRecent(limit int) ([]EquitySnapshot, error) {
	query := `
		SELECT ts, equity, cash, portfolio_value, benchmark_value
		FROM equity
		ORDER BY ts DESC
		LIMIT ?
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []EquitySnapshot
	for rows.Next() {
		var snapshot EquitySnapshot
		var ts string
		var benchmark sql.NullFloat64

		err := rows.Scan(&ts, &snapshot.Equity, &snapshot.Cash, &snapshot.PortfolioValue, &benchmark)
		if err != nil {
			return nil, fmt.Errorf("failed to scan equity snapshot: %w", err)
		}

		snapshot.Timestamp, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse snapshot timestamp %q: %w", ts, err)
		}
		if benchmark.Valid {
			snapshot.BenchmarkValue = &benchmark.Float64
		}

		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating equity snapshots: %w", err)
	}

	return snapshots, nil
}

// Latest returns the newest equity snapshot, or nil when none exist.
func (r *EquityRepository) Latest() (*EquitySnapshot, error) {
	snapshots, err := r.GetRecent(1)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}
	return &snapshots[0], nil
}

func nullFloat64Ptr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
