package trading

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"paperbot/internal/domain"
	"paperbot/internal/modules/journal"
)

// PriceSource resolves a current price for a symbol.
type PriceSource interface {
	GetLatestClose(symbol string) (*float64, error)
}

// SnapshotGateway is the account surface a snapshot reads and reprices.
type SnapshotGateway interface {
	GetAccount() (domain.Account, error)
	GetPositions() ([]domain.Position, error)
	MarkToMarket(prices map[string]float64) error
}

// SnapshotService journals the account state: marked positions, equity
// against the benchmark, and the open position set.
type SnapshotService struct {
	gateway   SnapshotGateway
	prices    PriceSource
	equity    *journal.EquityRepository
	positions *journal.PositionRepository
	benchmark string
	log       zerolog.Logger
}

func NewSnapshotService(
	gateway SnapshotGateway,
	prices PriceSource,
	equityRepo *journal.EquityRepository,
	positionRepo *journal.PositionRepository,
	benchmarkSymbol string,
	log zerolog.Logger,
) *SnapshotService {
	return &SnapshotService{
		gateway:   gateway,
		prices:    prices,
		equity:    equityRepo,
		positions: positionRepo,
		benchmark: benchmarkSymbol,
		log:       log.With().Str("component", "snapshot").Logger(),
	}
}

// Snapshot is one recorded account state.
type Snapshot struct {
	Timestamp      time.Time         `json:"timestamp"`
	Account        domain.Account    `json:"account"`
	Positions      []domain.Position `json:"positions"`
	BenchmarkClose *float64          `json:"benchmark_close,omitempty"`
}

// Take reprices open positions from the latest available closes, then
// journals equity and the position set. A symbol without a fresh quote
// keeps its last mark; a missing benchmark quote leaves the comparison
// column empty rather than failing the snapshot.
func (s *SnapshotService) Take() (*Snapshot, error) {
	now := time.Now().UTC()

	positions, err := s.gateway.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("reading positions: %w", err)
	}

	marks := make(map[string]float64, len(positions))
	for _, pos := range positions {
		price, err := s.prices.GetLatestClose(pos.Symbol)
		if err != nil || price == nil {
			s.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("No fresh price for position")
			continue
		}
		marks[pos.Symbol] = *price
	}
	if len(marks) > 0 {
		if err := s.gateway.MarkToMarket(marks); err != nil {
			return nil, fmt.Errorf("marking positions: %w", err)
		}
		positions, err = s.gateway.GetPositions()
		if err != nil {
			return nil, fmt.Errorf("re-reading positions: %w", err)
		}
	}

	account, err := s.gateway.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("reading account: %w", err)
	}

	benchmarkClose, err := s.prices.GetLatestClose(s.benchmark)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", s.benchmark).Msg("Benchmark quote unavailable")
		benchmarkClose = nil
	}

	if err := s.equity.Log(journal.EquitySnapshot{
		Timestamp:      now,
		Equity:         account.Equity,
		Cash:           account.Cash,
		PortfolioValue: account.PortfolioValue,
		BenchmarkValue: benchmarkClose,
	}); err != nil {
		return nil, fmt.Errorf("journaling equity: %w", err)
	}
	if err := s.positions.LogSnapshot(now, positions); err != nil {
		return nil, fmt.Errorf("journaling positions: %w", err)
	}

	s.log.Info().
		Float64("equity", account.Equity).
		Int("positions", len(positions)).
		Msg("Snapshot recorded")

	return &Snapshot{
		Timestamp:      now,
		Account:        account,
		Positions:      positions,
		BenchmarkClose: benchmarkClose,
	}, nil
}
