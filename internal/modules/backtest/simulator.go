// Package backtest replays the strategy against history: walk-forward
// model retraining, scheduled rebalances with an optional stochastic miss
// model, volatility and drawdown governors, and per-day equity accounting.
//
// A simulated day only sees information available before it. Models train
// on rows strictly before the rebalance date, and the forward returns the
// portfolio earns were attached per symbol without reaching outside the
// feature matrix.
package backtest

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"paperbot/internal/config"
	"paperbot/internal/domain"
	"paperbot/internal/modules/features"
	"paperbot/internal/modules/forecast"
	"paperbot/internal/modules/portfolio"
	"paperbot/pkg/formulas"
)

// minBacktestDays is the smallest feature history worth simulating.
const minBacktestDays = 60

// Simulator replays the trading strategy over historical bars.
type Simulator struct {
	params    config.Strategy
	benchmark string
	log       zerolog.Logger
}

func NewSimulator(params config.Strategy, benchmarkSymbol string, log zerolog.Logger) *Simulator {
	return &Simulator{
		params:    params,
		benchmark: benchmarkSymbol,
		log:       log.With().Str("component", "backtest").Logger(),
	}
}

// simState is the portfolio carried from one simulated day to the next.
// A pending retry survives across days until a tradable day reaches it.
type simState struct {
	weights map[string]float64
	equity  float64
	curve   []float64
	pending *time.Time
}

// prepared holds the feature matrix and benchmark series shared by every
// run over the same bars. Runs must not mutate it.
type prepared struct {
	rows  []domain.FeatureRow
	byDay map[time.Time][]domain.FeatureRow
	days  []time.Time
	bench benchmarkSeries
}

// Run simulates the strategy over the full bar history and returns the
// daily equity curve with summary statistics.
func (s *Simulator) Run(bars map[string][]domain.Bar) (*Result, error) {
	prep, err := s.prepare(bars)
	if err != nil {
		return nil, err
	}
	return s.runPrepared(prep)
}

func (s *Simulator) prepare(bars map[string][]domain.Bar) (*prepared, error) {
	rows, err := features.Build(bars, s.benchmark)
	if err != nil {
		return nil, err
	}

	tradable := make([]domain.FeatureRow, 0, len(rows))
	for _, row := range rows {
		if row.Symbol != s.benchmark {
			tradable = append(tradable, row)
		}
	}
	features.AttachNextReturns(tradable, s.params.PredHorizonDays)

	byDay := make(map[time.Time][]domain.FeatureRow)
	for _, row := range tradable {
		byDay[row.Timestamp] = append(byDay[row.Timestamp], row)
	}
	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	if len(days) < minBacktestDays {
		return nil, fmt.Errorf("not enough data to backtest: %d trading days, need at least %d: %w",
			len(days), minBacktestDays, domain.ErrInsufficientData)
	}

	return &prepared{
		rows:  tradable,
		byDay: byDay,
		days:  days,
		bench: newBenchmarkSeries(bars[s.benchmark]),
	}, nil
}

func (s *Simulator) runPrepared(prep *prepared) (*Result, error) {
	started := time.Now()
	anchors := rebalanceAnchors(prep.days, s.params.RebalanceFrequency)
	rng := rand.New(rand.NewSource(s.params.SimSeed))

	st := simState{weights: map[string]float64{}, equity: 1.0, curve: []float64{1.0}}
	points := make([]domain.EquityPoint, 0, len(prep.days))
	var events []RebalanceEvent
	var executed, missed, delayed int

	for _, day := range prep.days {
		slice := s.eligibleRows(prep.byDay[day])
		if len(slice) == 0 {
			// Nothing tradable today. The book rides unchanged and a
			// pending retry stays armed for the next tradable day.
			st.curve = append(st.curve, st.equity)
			points = append(points, domain.EquityPoint{Timestamp: day, Return: 0, Equity: st.equity})
			continue
		}

		shouldRebalance := anchors[day]
		if st.pending != nil && !day.Before(*st.pending) {
			shouldRebalance = true
			st.pending = nil
		}

		if shouldRebalance && s.params.MissRebalanceProb > 0 && rng.Float64() < s.params.MissRebalanceProb {
			missed++
			event := RebalanceEvent{Date: day}
			if s.params.RebalanceDelayDays > 0 {
				retry := day.AddDate(0, 0, s.params.RebalanceDelayDays)
				st.pending = &retry
				delayed++
				event.Delayed = true
			}
			events = append(events, event)
			s.log.Debug().Time("date", day).Bool("delayed", event.Delayed).Msg("Rebalance missed")
			shouldRebalance = false
		}

		cost := 0.0
		if shouldRebalance {
			event, err := s.rebalanceDay(&st, day, slice, prep)
			if err != nil {
				return nil, err
			}
			executed++
			cost = event.Cost
			events = append(events, event)
		}

		dailyRet := 0.0
		for _, row := range slice {
			dailyRet += st.weights[row.Symbol] * *row.NextReturn
		}
		dailyRet -= cost

		st.equity *= 1 + dailyRet
		st.curve = append(st.curve, st.equity)
		points = append(points, domain.EquityPoint{Timestamp: day, Return: dailyRet, Equity: st.equity})
	}

	result := &Result{Points: points, Events: events, Executed: executed, Missed: missed, Delayed: delayed}
	result.Stats = computeStats(points)

	s.log.Info().
		Int("days", len(points)).
		Int("rebalances", executed).
		Int("missed", missed).
		Float64("final_equity", result.Stats.FinalEquity).
		Dur("elapsed", time.Since(started)).
		Msg("Backtest complete")

	return result, nil
}

// rebalanceDay retrains the model on the trailing window, sizes the new
// book, and swaps it into the state. The returned event carries the cost
// charged against the day's return.
func (s *Simulator) rebalanceDay(st *simState, day time.Time, slice []domain.FeatureRow, prep *prepared) (RebalanceEvent, error) {
	closes := prep.bench.through(day)
	lev := portfolio.RegimeLeverage(closes, s.params.GrossLeverage, s.params.BearLeverage)

	preds, err := s.walkForwardPredictions(day, slice, prep.rows)
	if err != nil {
		return RebalanceEvent{}, err
	}

	marketVol := 0.0
	if s.params.VolTarget > 0 {
		rets := formulas.CalculateReturns(closes)
		if len(rets) >= s.params.VolWindow {
			marketVol = formulas.StdDev(rets[len(rets)-s.params.VolWindow:])
		}
	}

	lev = portfolio.ApplyGovernors(portfolio.GovernorInputs{
		BaseLeverage:  lev,
		MarketVol:     marketVol,
		VolTarget:     s.params.VolTarget,
		Drawdown:      formulas.CurrentDrawdown(st.curve),
		MaxDrawdown:   s.params.MaxDrawdown,
		MinLeverage:   s.params.MinLeverage,
		GrossLeverage: s.params.GrossLeverage,
	})

	candidates := make([]portfolio.Candidate, len(slice))
	for i, row := range slice {
		candidates[i] = portfolio.Candidate{Symbol: row.Symbol, Pred: preds[i], Vol: row.Vol20D}
	}

	// The simulator always sizes both books; the shorting toggle is a
	// live-trading concern.
	weights := portfolio.BuildWeights(candidates, lev, portfolio.Limits{
		TopK:           s.params.TopK,
		MinLongReturn:  s.params.MinLongReturn,
		MaxShortReturn: s.params.MaxShortReturn,
		MaxPositionPct: s.params.MaxPositionPct,
	}, true)

	turnover := portfolio.Turnover(st.weights, weights)
	st.weights = weights

	event := RebalanceEvent{
		Date:     day,
		Executed: true,
		Leverage: lev,
		Turnover: turnover,
		Cost:     s.params.TCostBps / 10000.0 * turnover,
		Weights:  weights,
	}

	s.log.Debug().
		Time("date", day).
		Float64("leverage", lev).
		Int("positions", len(weights)).
		Float64("turnover", turnover).
		Msg("Rebalanced")

	return event, nil
}

// walkForwardPredictions trains a fresh model on the lookback window ending
// the day before and scores the day's candidates. An unlabelable window
// falls back to zero predictions, which leaves both books empty.
func (s *Simulator) walkForwardPredictions(day time.Time, slice []domain.FeatureRow, rows []domain.FeatureRow) ([]float64, error) {
	trainStart := day.AddDate(0, 0, -s.params.TrainLookbackDays)
	var trainRows []domain.FeatureRow
	for _, row := range rows {
		if row.Timestamp.Before(trainStart) || !row.Timestamp.Before(day) {
			continue
		}
		if !s.passesLiquidity(row) {
			continue
		}
		trainRows = append(trainRows, row)
	}

	preds := make([]float64, len(slice))
	if len(trainRows) == 0 {
		return preds, nil
	}

	model, _, err := forecast.Train(trainRows, s.params.PredHorizonDays, s.log.Level(zerolog.WarnLevel))
	if errors.Is(err, domain.ErrInsufficientData) {
		s.log.Debug().Time("date", day).Msg("No labeled rows in training window, holding no positions")
		return preds, nil
	}
	if err != nil {
		return nil, fmt.Errorf("walk-forward training at %s: %w", day.Format("2006-01-02"), err)
	}

	vectors := make([][]float64, len(slice))
	for i, row := range slice {
		vectors[i] = row.Vector()
	}
	preds, err = model.PredictBatch(vectors)
	if err != nil {
		return nil, fmt.Errorf("scoring candidates at %s: %w", day.Format("2006-01-02"), err)
	}
	return preds, nil
}

// eligibleRows applies the liquidity gates and drops rows whose forward
// return is still unknown.
func (s *Simulator) eligibleRows(rows []domain.FeatureRow) []domain.FeatureRow {
	out := make([]domain.FeatureRow, 0, len(rows))
	for _, row := range rows {
		if !s.passesLiquidity(row) || row.NextReturn == nil {
			continue
		}
		out = append(out, row)
	}
	return out
}

func (s *Simulator) passesLiquidity(row domain.FeatureRow) bool {
	if s.params.MinPrice > 0 && row.Close < s.params.MinPrice {
		return false
	}
	if s.params.MinDollarVol > 0 {
		if math.IsNaN(row.DollarVol20D) || row.DollarVol20D < s.params.MinDollarVol {
			return false
		}
	}
	return true
}

// rebalanceAnchors marks the last trading day of each calendar bucket:
// ISO weeks for "W", calendar months for "M".
func rebalanceAnchors(days []time.Time, frequency string) map[time.Time]bool {
	last := make(map[string]time.Time)
	for _, day := range days {
		key := bucketKey(day, frequency)
		if cur, ok := last[key]; !ok || day.After(cur) {
			last[key] = day
		}
	}

	anchors := make(map[time.Time]bool, len(last))
	for _, day := range last {
		anchors[day] = true
	}
	return anchors
}

func bucketKey(day time.Time, frequency string) string {
	if frequency == "M" {
		return day.Format("2006-01")
	}
	year, week := day.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// benchmarkSeries is the benchmark's close history in chronological order.
type benchmarkSeries struct {
	times  []time.Time
	closes []float64
}

func newBenchmarkSeries(bars []domain.Bar) benchmarkSeries {
	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	series := benchmarkSeries{
		times:  make([]time.Time, len(sorted)),
		closes: make([]float64, len(sorted)),
	}
	for i, bar := range sorted {
		series.times[i] = bar.Timestamp
		series.closes[i] = bar.Close
	}
	return series
}

// through returns the closes up to and including day.
func (b benchmarkSeries) through(day time.Time) []float64 {
	idx := sort.Search(len(b.times), func(i int) bool { return b.times[i].After(day) })
	return b.closes[:idx]
}
