package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"paperbot/internal/domain"
)

// PositionRepository handles position snapshot database operations
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "positions").Logger(),
	}
}

// LogSnapshot appends one timestamped batch of positions
func (r *PositionRepository) LogSnapshot(ts time.Time, positions []domain.Position) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be no-op if Commit succeeds

	stmt, err := tx.Prepare(`
		INSERT INTO positions (ts, symbol, qty, avg_entry_price, market_value, unrealized_pl)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	tsStr := ts.UTC().Format(time.RFC3339)
	for _, position := range positions {
		_, err = stmt.Exec(tsStr, position.Symbol, position.Quantity,
			position.AvgEntryPrice, position.MarketValue, position.UnrealizedPL)
		if err != nil {
			return fmt.Errorf("failed to insert position for %s: %w", position.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debug().Int("count", len(positions)).Msg("Position snapshot logged")
	return nil
}

// GetRecent returns the most recent position rows, newest first.
func (r *PositionRepository) GetRecent(limit int) ([]domain.Position, error) {
	query := `
		SELECT ts, symbol, qty, avg_entry_price, market_value, unrealized_pl
		FROM positions
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var position domain.Position
		var ts string
		var avgEntry, marketValue, unrealizedPL sql.NullFloat64

		err := rows.Scan(&ts, &position.Symbol, &position.Quantity, &avgEntry, &marketValue, &unrealizedPL)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}

		position.LastUpdated, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse position timestamp %q: %w", ts, err)
		}
		if avgEntry.Valid {
			position.AvgEntryPrice = avgEntry.Float64
		}
		if marketValue.Valid {
			position.MarketValue = marketValue.Float64
		}
		if unrealizedPL.Valid {
			position.UnrealizedPL = unrealizedPL.Float64
		}

		positions = append(positions, position)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return positions, nil
}
