package trading

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"paperbot/internal/broker"
	"paperbot/internal/config"
	"paperbot/internal/domain"
	"paperbot/internal/modules/features"
	"paperbot/internal/modules/portfolio"
	"paperbot/pkg/formulas"
)

// Gateway is the execution venue surface the rebalancer drives.
type Gateway interface {
	GetAccount() (domain.Account, error)
	GetPositions() ([]domain.Position, error)
	GetOpenOrderSymbols() (map[string]bool, error)
	IsTradable(symbol string) (bool, error)
	IsShortable(symbol string) (bool, error)
	SubmitOrder(symbol, side string, qty, price float64) (domain.Order, error)
}

// marker is implemented by venues that need explicit repricing. A live
// venue marks continuously; the paper venue needs telling.
type marker interface {
	MarkToMarket(prices map[string]float64) error
}

// Rebalancer moves the account toward the model's target book.
type Rebalancer struct {
	params    config.Strategy
	benchmark string
	gateway   Gateway
	log       zerolog.Logger
}

func NewRebalancer(params config.Strategy, benchmarkSymbol string, gateway Gateway, log zerolog.Logger) *Rebalancer {
	return &Rebalancer{
		params:    params,
		benchmark: benchmarkSymbol,
		gateway:   gateway,
		log:       log.With().Str("component", "rebalancer").Logger(),
	}
}

// Outcome is one completed rebalance cycle.
type Outcome struct {
	Timestamp time.Time          `json:"timestamp"`
	Leverage  float64            `json:"leverage"`
	Signals   []domain.Signal    `json:"signals"`
	Weights   map[string]float64 `json:"weights"`
	Orders    []domain.Order     `json:"orders"`
}

// Run scores the latest cross-section, sizes the target book under the
// leverage governors, and submits the orders that move the account there.
// A day with no eligible symbols holds the current book and submits
// nothing. recentEquity is the journaled equity window in chronological
// order; it feeds the drawdown governor.
func (r *Rebalancer) Run(bars map[string][]domain.Bar, model Predictor, recentEquity []float64) (*Outcome, error) {
	rows, err := features.Build(bars, r.benchmark)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("not enough data to build signals for the universe: %w",
			domain.ErrInsufficientData)
	}

	signals, ts, err := GenerateSignals(rows, model, r.benchmark, r.params)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Timestamp: ts, Signals: signals, Weights: map[string]float64{}}
	if len(signals) == 0 {
		r.log.Warn().Time("date", ts).Msg("No eligible symbols in latest cross-section, holding current book")
		return outcome, nil
	}

	// The venue account decides whether the short book gets sized at all.
	account, err := r.gateway.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("reading account: %w", err)
	}

	leverage := r.targetLeverage(bars[r.benchmark], recentEquity)
	outcome.Leverage = leverage

	candidates := make([]portfolio.Candidate, len(signals))
	for i, sig := range signals {
		candidates[i] = portfolio.Candidate{Symbol: sig.Symbol, Pred: sig.Score, Vol: sig.Vol}
	}
	weights := portfolio.BuildWeights(candidates, leverage, portfolio.Limits{
		TopK:           r.params.TopK,
		MinLongReturn:  r.params.MinLongReturn,
		MaxShortReturn: r.params.MaxShortReturn,
		MaxPositionPct: r.params.MaxPositionPct,
	}, account.ShortingEnabled)

	weights, err = r.filterUntradable(weights)
	if err != nil {
		return nil, err
	}
	outcome.Weights = weights

	prices := make(map[string]float64)
	for _, row := range rows {
		if row.Timestamp.Equal(ts) && row.Symbol != r.benchmark {
			prices[row.Symbol] = row.Close
		}
	}
	if m, ok := r.gateway.(marker); ok {
		if err := m.MarkToMarket(prices); err != nil {
			return nil, fmt.Errorf("marking positions: %w", err)
		}
	}

	orders, err := r.placeOrders(account, weights, prices)
	if err != nil {
		return nil, err
	}
	outcome.Orders = orders

	r.log.Info().
		Time("date", ts).
		Float64("leverage", leverage).
		Int("positions", len(weights)).
		Int("orders", len(orders)).
		Msg("Rebalance cycle complete")

	return outcome, nil
}

// targetLeverage runs the regime call and the governor chain off the raw
// benchmark history and the journaled equity window.
func (r *Rebalancer) targetLeverage(benchBars []domain.Bar, recentEquity []float64) float64 {
	closes := chronologicalCloses(benchBars)
	lev := portfolio.RegimeLeverage(closes, r.params.GrossLeverage, r.params.BearLeverage)

	marketVol := 0.0
	if r.params.VolTarget > 0 {
		rets := formulas.CalculateReturns(closes)
		if len(rets) >= r.params.VolWindow {
			marketVol = formulas.StdDev(rets[len(rets)-r.params.VolWindow:])
		}
	}

	// A single journaled equity point has no drawdown to measure yet.
	drawdown := 0.0
	if len(recentEquity) > 1 {
		drawdown = formulas.CurrentDrawdown(recentEquity)
	}

	return portfolio.ApplyGovernors(portfolio.GovernorInputs{
		BaseLeverage:  lev,
		MarketVol:     marketVol,
		VolTarget:     r.params.VolTarget,
		Drawdown:      drawdown,
		MaxDrawdown:   r.params.MaxDrawdown,
		MinLeverage:   r.params.MinLeverage,
		GrossLeverage: r.params.GrossLeverage,
	})
}

// filterUntradable drops weights the venue cannot take: longs in symbols
// that stopped trading, shorts with no borrow. Dropped symbols leave the
// book entirely, so any existing position in them gets closed.
func (r *Rebalancer) filterUntradable(weights map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(weights))
	for _, symbol := range sortedKeys(weights) {
		w := weights[symbol]
		if w > 0 {
			tradable, err := r.gateway.IsTradable(symbol)
			if err != nil {
				return nil, fmt.Errorf("checking tradability of %s: %w", symbol, err)
			}
			if !tradable {
				r.log.Warn().Str("symbol", symbol).Msg("Symbol not tradable, dropping from book")
				continue
			}
		}
		if w < 0 {
			shortable, err := r.gateway.IsShortable(symbol)
			if err != nil {
				return nil, fmt.Errorf("checking borrow for %s: %w", symbol, err)
			}
			if !shortable {
				r.log.Warn().Str("symbol", symbol).Msg("No borrow for symbol, dropping from book")
				continue
			}
		}
		out[symbol] = w
	}
	return out, nil
}

func (r *Rebalancer) placeOrders(account domain.Account, weights, prices map[string]float64) ([]domain.Order, error) {
	positions, err := r.gateway.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("reading positions: %w", err)
	}
	openOrders, err := r.gateway.GetOpenOrderSymbols()
	if err != nil {
		return nil, fmt.Errorf("reading open orders: %w", err)
	}

	held := make(map[string]float64, len(positions))
	markPrices := make(map[string]float64, len(positions))
	for _, pos := range positions {
		held[pos.Symbol] = pos.Quantity
		if pos.Quantity != 0 {
			markPrices[pos.Symbol] = pos.MarketValue / pos.Quantity
		}
	}

	var orders []domain.Order

	for _, symbol := range sortedKeys(weights) {
		w := weights[symbol]

		price, ok := prices[symbol]
		if !ok || price <= 0 {
			r.log.Warn().Str("symbol", symbol).Msg("No usable price, skipping")
			continue
		}
		if openOrders[symbol] {
			r.log.Info().Str("symbol", symbol).Msg("Open order in flight, skipping")
			continue
		}

		targetQty := account.Equity * w / price
		if !account.ShortingEnabled && targetQty < 0 {
			targetQty = 0
		}

		currentQty := held[symbol]
		delta := targetQty - currentQty
		if math.Abs(delta) < 1e-3 {
			continue
		}

		side := domain.OrderBuy
		if delta < 0 {
			side = domain.OrderSell
		}
		qty := math.Abs(delta)
		if targetQty < 0 {
			// Short targets trade whole shares only
			qty = math.Trunc(qty)
		}
		if qty < 1 {
			continue
		}
		if !account.ShortingEnabled && side == domain.OrderSell {
			qty = math.Min(qty, currentQty)
			if qty <= 0 {
				continue
			}
		}

		order, err := r.gateway.SubmitOrder(symbol, side, qty, price)
		switch {
		case errors.Is(err, broker.ErrInsufficientShortable) || errors.Is(err, broker.ErrShortingDisabled):
			if fallback, placed := r.closeOnlyRetry(symbol, side, qty, currentQty, price); placed {
				orders = append(orders, fallback)
			}
		case err != nil:
			return nil, fmt.Errorf("submitting %s %s: %w", side, symbol, err)
		default:
			orders = append(orders, order)
		}
	}

	// Close whatever the new book no longer wants
	for _, pos := range positions {
		if _, wanted := weights[pos.Symbol]; wanted {
			continue
		}
		qty := math.Abs(pos.Quantity)
		if qty < 1e-3 {
			continue
		}
		if openOrders[pos.Symbol] {
			r.log.Info().Str("symbol", pos.Symbol).Msg("Open order in flight, not closing")
			continue
		}

		side := domain.OrderSell
		if pos.Quantity < 0 {
			side = domain.OrderBuy
		}
		price := markPrices[pos.Symbol]
		if price <= 0 {
			r.log.Warn().Str("symbol", pos.Symbol).Msg("No mark price for position, cannot close")
			continue
		}

		order, err := r.gateway.SubmitOrder(pos.Symbol, side, qty, price)
		if err != nil {
			return nil, fmt.Errorf("closing %s: %w", pos.Symbol, err)
		}
		orders = append(orders, order)
	}

	return orders, nil
}

// closeOnlyRetry sells down to flat when the venue rejects the short leg
// of a sell. A second rejection is reported as a rejected order instead of
// an error so one bad borrow cannot abort the whole cycle.
func (r *Rebalancer) closeOnlyRetry(symbol, side string, qty, currentQty, price float64) (domain.Order, bool) {
	if side != domain.OrderSell || currentQty <= 0 {
		r.log.Info().Str("symbol", symbol).Msg("Order skipped, no shortable quantity available")
		return domain.Order{}, false
	}

	closeQty := math.Min(qty, currentQty)
	order, err := r.gateway.SubmitOrder(symbol, domain.OrderSell, closeQty, price)
	if err != nil {
		r.log.Warn().Err(err).Str("symbol", symbol).Msg("Close-only retry rejected")
		return domain.Order{
			SubmittedAt: time.Now().UTC(),
			Symbol:      symbol,
			Side:        domain.OrderSell,
			Quantity:    closeQty,
			Price:       price,
			Status:      fmt.Sprintf("rejected: %v", err),
		}, true
	}

	r.log.Info().Str("symbol", symbol).Float64("qty", closeQty).Msg("Scaled back to close-only sell")
	return order, true
}

func chronologicalCloses(bars []domain.Bar) []float64 {
	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	closes := make([]float64, len(sorted))
	for i, bar := range sorted {
		closes[i] = bar.Close
	}
	return closes
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
