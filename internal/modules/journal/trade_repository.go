package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"paperbot/internal/domain"
)

// TradeRepository handles order log database operations
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		db:  db,
		log: log.With().Str("repo", "trades").Logger(),
	}
}

// Log appends a batch of submitted orders to the trade log
func (r *TradeRepository) Log(orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be no-op if Commit succeeds

	stmt, err := tx.Prepare(`
		INSERT INTO trades (ts, symbol, side, qty, price, order_id, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, order := range orders {
		_, err = stmt.Exec(
			order.SubmittedAt.UTC().Format(time.RFC3339),
			order.Symbol,
			order.Side,
			order.Quantity,
			order.Price,
			nullString(order.ID),
			nullString(order.Status),
		)
		if err != nil {
			return fmt.Errorf("failed to insert trade for %s: %w", order.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Info().Int("count", len(orders)).Msg("Orders logged")
	return nil
}

// GetRecent returns the most recent logged orders, newest first.
func (r *TradeRepository) GetRecent(limit int) ([]domain.Order, error) {
	query := `
		SELECT ts, symbol, side, qty, price, order_id, status
		FROM trades
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var order domain.Order
		var ts string
		var price sql.NullFloat64
		var orderID, status sql.NullString

		err := rows.Scan(&ts, &order.Symbol, &order.Side, &order.Quantity, &price, &orderID, &status)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		order.SubmittedAt, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse trade timestamp %q: %w", ts, err)
		}
		if price.Valid {
			order.Price = price.Float64
		}
		if orderID.Valid {
			order.ID = orderID.String
		}
		if status.Valid {
			order.Status = status.String
		}

		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return orders, nil
}
