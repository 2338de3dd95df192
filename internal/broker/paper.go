// Package broker simulates an execution venue for paper trading. Market
// orders fill immediately at the submitted reference price and account
// state persists in the ledger database.
package broker

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"paperbot/internal/database"
	"paperbot/internal/domain"
)

// ErrInsufficientShortable is returned when an order would open or extend a
// short position in a symbol with no borrow availability.
var ErrInsufficientShortable = errors.New("insufficient shortable quantity")

// ErrShortingDisabled is returned when an order would open a short position
// while the account has shorting disabled.
var ErrShortingDisabled = errors.New("shorting disabled for account")

// Schema creates the paper broker tables
const Schema = `
CREATE TABLE IF NOT EXISTS broker_account (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	cash REAL NOT NULL,
	shorting_enabled INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS broker_positions (
	symbol TEXT PRIMARY KEY,
	qty REAL NOT NULL,
	avg_entry_price REAL NOT NULL,
	last_price REAL NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS broker_orders (
	id TEXT PRIMARY KEY,
	ts TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	qty REAL NOT NULL,
	price REAL NOT NULL,
	status TEXT NOT NULL
);
`

// PaperBroker is a simulated execution gateway backed by the ledger database
type PaperBroker struct {
	db           *sql.DB
	hardToBorrow map[string]bool
	log          zerolog.Logger
}

// NewPaperBroker creates a new paper broker
func NewPaperBroker(db *sql.DB, log zerolog.Logger) *PaperBroker {
	return &PaperBroker{
		db:           db,
		hardToBorrow: make(map[string]bool),
		log:          log.With().Str("component", "paper_broker").Logger(),
	}
}

// Init seeds the account row when the broker runs for the first time.
// An existing account is left untouched.
func (b *PaperBroker) Init(startingCash float64, shortingEnabled bool) error {
	query := `
		INSERT OR IGNORE INTO broker_account (id, cash, shorting_enabled, updated_at)
		VALUES (1, ?, ?, ?)
	`

	enabled := 0
	if shortingEnabled {
		enabled = 1
	}

	result, err := b.db.Exec(query, startingCash, enabled, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to seed broker account: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		b.log.Info().Float64("cash", startingCash).Bool("shorting", shortingEnabled).
			Msg("Paper account created")
	}

	return nil
}

// SetHardToBorrow marks symbols as having no borrow availability. Short
// orders on them are rejected the way a real venue would reject them.
func (b *PaperBroker) SetHardToBorrow(symbols []string) {
	b.hardToBorrow = make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		b.hardToBorrow[symbol] = true
	}
}

// GetAccount returns the current account state. Equity is cash plus the
// marked value of all open positions.
func (b *PaperBroker) GetAccount() (domain.Account, error) {
	var account domain.Account
	var enabled int

	err := b.db.QueryRow("SELECT cash, shorting_enabled FROM broker_account WHERE id = 1").
		Scan(&account.Cash, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return account, fmt.Errorf("broker account not initialized")
	}
	if err != nil {
		return account, fmt.Errorf("failed to read broker account: %w", err)
	}
	account.ShortingEnabled = enabled != 0

	var positionsValue sql.NullFloat64
	err = b.db.QueryRow("SELECT SUM(qty * last_price) FROM broker_positions").Scan(&positionsValue)
	if err != nil {
		return account, fmt.Errorf("failed to value positions: %w", err)
	}

	account.Equity = account.Cash
	if positionsValue.Valid {
		account.Equity += positionsValue.Float64
	}
	account.PortfolioValue = account.Equity

	return account, nil
}

// GetPositions returns all open positions
func (b *PaperBroker) GetPositions() ([]domain.Position, error) {
	query := `
		SELECT symbol, qty, avg_entry_price, last_price, updated_at
		FROM broker_positions
		ORDER BY symbol ASC
	`

	rows, err := b.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var position domain.Position
		var lastPrice float64
		var updatedAt string

		err := rows.Scan(&position.Symbol, &position.Quantity, &position.AvgEntryPrice, &lastPrice, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}

		position.LastUpdated, _ = time.Parse(time.RFC3339, updatedAt)
		position.MarketValue = position.Quantity * lastPrice
		position.UnrealizedPL = (lastPrice - position.AvgEntryPrice) * position.Quantity

		positions = append(positions, position)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return positions, nil
}

// GetOpenOrderSymbols returns symbols with unfilled orders. Paper fills are
// immediate, so this is only non-empty if a crash left an order mid-flight.
func (b *PaperBroker) GetOpenOrderSymbols() (map[string]bool, error) {
	rows, err := b.db.Query("SELECT DISTINCT symbol FROM broker_orders WHERE status IN ('new', 'accepted')")
	if err != nil {
		return nil, fmt.Errorf("failed to query open orders: %w", err)
	}
	defer rows.Close()

	symbols := make(map[string]bool)
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("failed to scan open order symbol: %w", err)
		}
		symbols[symbol] = true
	}

	return symbols, rows.Err()
}

// IsTradable reports whether a symbol accepts orders. Every symbol is
// tradable on the paper venue.
func (b *PaperBroker) IsTradable(symbol string) (bool, error) {
	return true, nil
}

// IsShortable reports whether a symbol has borrow availability
func (b *PaperBroker) IsShortable(symbol string) (bool, error) {
	return !b.hardToBorrow[symbol], nil
}

// MarkToMarket updates the last known price for any held position present
// in the price map.
func (b *PaperBroker) MarkToMarket(prices map[string]float64) error {
	return database.WithTransaction(b.db, func(tx *sql.Tx) error {
		now := time.Now().UTC().Format(time.RFC3339)
		for symbol, price := range prices {
			if price <= 0 {
				continue
			}
			_, err := tx.Exec(
				"UPDATE broker_positions SET last_price = ?, updated_at = ? WHERE symbol = ?",
				price, now, symbol,
			)
			if err != nil {
				return fmt.Errorf("failed to mark %s: %w", symbol, err)
			}
		}
		return nil
	})
}

// SubmitOrder fills a market order at the given reference price and updates
// cash and positions atomically. Orders that would open or extend a short
// are rejected when shorting is disabled or the symbol is hard to borrow.
func (b *PaperBroker) SubmitOrder(symbol, side string, qty, price float64) (domain.Order, error) {
	var order domain.Order

	if qty <= 0 {
		return order, fmt.Errorf("order quantity must be positive, got %f", qty)
	}
	if price <= 0 {
		return order, fmt.Errorf("order price must be positive, got %f", price)
	}
	if side != domain.OrderBuy && side != domain.OrderSell {
		return order, fmt.Errorf("unknown order side %q", side)
	}

	err := database.WithTransaction(b.db, func(tx *sql.Tx) error {
		var cash float64
		var enabled int
		err := tx.QueryRow("SELECT cash, shorting_enabled FROM broker_account WHERE id = 1").
			Scan(&cash, &enabled)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("broker account not initialized")
		}
		if err != nil {
			return fmt.Errorf("failed to read broker account: %w", err)
		}

		currentQty := 0.0
		avgEntry := 0.0
		err = tx.QueryRow("SELECT qty, avg_entry_price FROM broker_positions WHERE symbol = ?", symbol).
			Scan(&currentQty, &avgEntry)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read position: %w", err)
		}

		delta := qty
		if side == domain.OrderSell {
			delta = -qty

			// Quantity beyond current holdings opens or extends a short
			shortQty := qty - math.Max(currentQty, 0)
			if shortQty > 1e-9 {
				if enabled == 0 {
					return fmt.Errorf("cannot sell %f %s: %w", qty, symbol, ErrShortingDisabled)
				}
				if b.hardToBorrow[symbol] {
					return fmt.Errorf("cannot short %f %s: %w", shortQty, symbol, ErrInsufficientShortable)
				}
			}
		}

		newQty := currentQty + delta
		newAvg := avgEntry
		switch {
		case currentQty == 0 || (currentQty > 0) == (delta > 0):
			newAvg = (math.Abs(currentQty)*avgEntry + qty*price) / (math.Abs(currentQty) + qty)
		case newQty != 0 && (newQty > 0) != (currentQty > 0):
			// Crossed through flat; the residual starts a new basis
			newAvg = price
		}

		now := time.Now().UTC()
		nowStr := now.Format(time.RFC3339)

		if math.Abs(newQty) < 1e-9 {
			if _, err := tx.Exec("DELETE FROM broker_positions WHERE symbol = ?", symbol); err != nil {
				return fmt.Errorf("failed to close position: %w", err)
			}
		} else {
			_, err := tx.Exec(`
				INSERT OR REPLACE INTO broker_positions (symbol, qty, avg_entry_price, last_price, updated_at)
				VALUES (?, ?, ?, ?, ?)
			`, symbol, newQty, newAvg, price, nowStr)
			if err != nil {
				return fmt.Errorf("failed to update position: %w", err)
			}
		}

		cash -= delta * price
		_, err = tx.Exec("UPDATE broker_account SET cash = ?, updated_at = ? WHERE id = 1", cash, nowStr)
		if err != nil {
			return fmt.Errorf("failed to update cash: %w", err)
		}

		order = domain.Order{
			SubmittedAt: now,
			ID:          uuid.New().String(),
			Symbol:      symbol,
			Side:        side,
			Quantity:    qty,
			Price:       price,
			Status:      "filled",
		}

		_, err = tx.Exec(`
			INSERT INTO broker_orders (id, ts, symbol, side, qty, price, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, order.ID, nowStr, order.Symbol, order.Side, order.Quantity, order.Price, order.Status)
		if err != nil {
			return fmt.Errorf("failed to record order: %w", err)
		}

		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	b.log.Info().
		Str("symbol", symbol).
		Str("side", side).
		Float64("qty", qty).
		Float64("price", price).
		Msg("Order filled")

	return order, nil
}
