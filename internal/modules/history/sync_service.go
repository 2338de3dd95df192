package history

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"paperbot/internal/domain"
)

// BarFetcher downloads daily bars from the market data provider
type BarFetcher interface {
	GetDailyBars(symbols []string, days int) (map[string][]domain.Bar, error)
	GetHistoricalBars(symbol string, days int, maxRetries int) ([]domain.Bar, error)
}

// SyncService keeps the bar store in sync with the market data provider
type SyncService struct {
	fetcher        BarFetcher
	store          *Store
	rateLimitDelay time.Duration // External API rate limit delay
	log            zerolog.Logger
}

// NewSyncService creates a new bar sync service
func NewSyncService(fetcher BarFetcher, store *Store, rateLimitDelay time.Duration, log zerolog.Logger) *SyncService {
	return &SyncService{
		fetcher:        fetcher,
		store:          store,
		rateLimitDelay: rateLimitDelay,
		log:            log.With().Str("service", "bar_sync").Logger(),
	}
}

// SyncAll refreshes daily bars for every symbol in one batched download.
// Symbols that fail are logged and skipped. Returns the number of symbols
// whose bars were stored.
func (s *SyncService) SyncAll(symbols []string, days int) (int, error) {
	s.log.Info().Int("symbols", len(symbols)).Int("days", days).Msg("Starting daily bar sync")

	bars, err := s.fetcher.GetDailyBars(symbols, days)
	if err != nil {
		return 0, fmt.Errorf("failed to download daily bars: %w", err)
	}

	synced := 0
	for _, symbol := range symbols {
		symbolBars, ok := bars[symbol]
		if !ok || len(symbolBars) == 0 {
			s.log.Warn().Str("symbol", symbol).Msg("No bars downloaded for symbol")
			continue
		}

		if err := s.store.UpsertBars(symbol, symbolBars); err != nil {
			s.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to store bars")
			continue
		}
		synced++
	}

	if synced == 0 {
		return 0, fmt.Errorf("no symbols synced out of %d", len(symbols))
	}

	s.log.Info().Int("synced", synced).Int("total", len(symbols)).Msg("Daily bar sync complete")
	return synced, nil
}

// SyncSymbol refreshes bars for a single symbol. When the store has no rows
// for the symbol yet the full seed window is fetched, otherwise only the
// recent refresh window.
func (s *SyncService) SyncSymbol(symbol string, seedDays, refreshDays int) error {
	count, err := s.store.BarCount(symbol)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to count stored bars, assuming none")
		count = 0
	}

	days := refreshDays
	if count == 0 {
		days = seedDays
		s.log.Info().Str("symbol", symbol).Int("days", days).Msg("No stored bars found, performing initial seed")
	}

	bars, err := s.fetcher.GetHistoricalBars(symbol, days, 3)
	if err != nil {
		return fmt.Errorf("failed to fetch bars for %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		s.log.Warn().Str("symbol", symbol).Msg("No bar data from provider")
		return nil
	}

	if err := s.store.UpsertBars(symbol, bars); err != nil {
		return fmt.Errorf("failed to store bars for %s: %w", symbol, err)
	}

	if s.rateLimitDelay > 0 {
		time.Sleep(s.rateLimitDelay)
	}

	s.log.Info().Str("symbol", symbol).Int("count", len(bars)).Msg("Bar sync complete")
	return nil
}
