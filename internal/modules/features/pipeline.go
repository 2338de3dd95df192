// Package features derives model inputs from daily bars.
//
// Every feature is computed per symbol over its own chronological bar
// series; market-relative features join on the bar timestamp. A row is
// emitted only once all model inputs have a value, which happens after 20
// prior bars for both the symbol and the market.
package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"paperbot/internal/domain"
	"paperbot/pkg/formulas"
)

type marketPoint struct {
	return1D float64
	mom20D   float64
}

// Build computes the feature matrix from per-symbol daily bars. The market
// symbol must be present; its rows are included in the output with a
// neutral momentum rank of 0.5, and callers exclude them from candidate
// selection. The dollar-volume liquidity column may still be NaN on early
// rows because it is not a model input.
func Build(bars map[string][]domain.Bar, marketSymbol string) ([]domain.FeatureRow, error) {
	marketBars, ok := bars[marketSymbol]
	if !ok || len(marketBars) == 0 {
		return nil, fmt.Errorf("market symbol %s not found in bars, include it in the universe: %w",
			marketSymbol, domain.ErrInsufficientData)
	}

	symbols := make([]string, 0, len(bars))
	for symbol := range bars {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	market := marketFeatures(marketBars)

	var rows []domain.FeatureRow
	for _, symbol := range symbols {
		rows = append(rows, symbolRows(symbol, bars[symbol], marketSymbol, market)...)
	}

	rankMomentum(rows, marketSymbol)

	out := rows[:0]
	for _, row := range rows {
		if rowComplete(row) {
			out = append(out, row)
		}
	}

	return out, nil
}

// marketFeatures indexes the market's own 1-day return and 20-day momentum
// by bar timestamp.
func marketFeatures(marketBars []domain.Bar) map[time.Time]marketPoint {
	sorted := sortedBars(marketBars)

	closes := make([]float64, len(sorted))
	for i, bar := range sorted {
		closes[i] = bar.Close
	}

	ret1 := formulas.PctChange(closes, 1)
	mom20 := formulas.PctChange(closes, 20)

	points := make(map[time.Time]marketPoint, len(sorted))
	for i, bar := range sorted {
		points[bar.Timestamp] = marketPoint{return1D: ret1[i], mom20D: mom20[i]}
	}
	return points
}

func symbolRows(symbol string, symbolBars []domain.Bar, marketSymbol string, market map[time.Time]marketPoint) []domain.FeatureRow {
	sorted := sortedBars(symbolBars)
	n := len(sorted)
	if n == 0 {
		return nil
	}

	closes := make([]float64, n)
	intradayRange := make([]float64, n)
	dollarVol := make([]float64, n)
	for i, bar := range sorted {
		closes[i] = bar.Close
		if bar.Close != 0 {
			intradayRange[i] = (bar.High - bar.Low) / bar.Close
		} else {
			intradayRange[i] = math.NaN()
		}
		dollarVol[i] = bar.Close * bar.Volume
	}

	ret1 := formulas.PctChange(closes, 1)
	ret5 := formulas.PctChange(closes, 5)
	ret10 := formulas.PctChange(closes, 10)
	mom20 := formulas.PctChange(closes, 20)
	vol20 := formulas.RollingStdDev(ret1, 20)
	range5 := formulas.RollingMean(intradayRange, 5)
	dollarVol20 := formulas.RollingMean(dollarVol, 20)

	rows := make([]domain.FeatureRow, n)
	for i, bar := range sorted {
		row := domain.FeatureRow{
			Timestamp:    bar.Timestamp,
			Symbol:       symbol,
			Close:        bar.Close,
			Return1D:     ret1[i],
			Return5D:     ret5[i],
			Return10D:    ret10[i],
			Mom20D:       mom20[i],
			Vol20D:       vol20[i],
			Range5D:      range5[i],
			DollarVol20D: dollarVol20[i],
			RankMom20D:   math.NaN(),
		}

		point, ok := market[bar.Timestamp]
		if ok {
			row.MarketReturn1D = point.return1D
			row.MarketMom20D = point.mom20D
		} else {
			row.MarketReturn1D = math.NaN()
			row.MarketMom20D = math.NaN()
		}

		if symbol == marketSymbol {
			row.RankMom20D = 0.5
		}

		rows[i] = row
	}

	return rows
}

// rankMomentum assigns each non-market row its cross-sectional momentum
// percentile for the day: ascending rank over mom_20d with ties averaged,
// divided by the day's count of ranked symbols. The market symbol keeps its
// neutral 0.5.
func rankMomentum(rows []domain.FeatureRow, marketSymbol string) {
	type entry struct {
		idx int
		mom float64
	}

	byDay := make(map[time.Time][]entry)
	for i, row := range rows {
		if row.Symbol == marketSymbol || math.IsNaN(row.Mom20D) {
			continue
		}
		byDay[row.Timestamp] = append(byDay[row.Timestamp], entry{idx: i, mom: row.Mom20D})
	}

	for _, entries := range byDay {
		sort.Slice(entries, func(i, j int) bool { return entries[i].mom < entries[j].mom })

		n := float64(len(entries))
		i := 0
		for i < len(entries) {
			j := i
			for j+1 < len(entries) && entries[j+1].mom == entries[i].mom {
				j++
			}
			// 1-based positions i+1 .. j+1 share their average rank
			pct := (float64(i+1) + float64(j+1)) / 2.0 / n
			for k := i; k <= j; k++ {
				rows[entries[k].idx].RankMom20D = pct
			}
			i = j + 1
		}
	}
}

func rowComplete(row domain.FeatureRow) bool {
	for _, v := range row.Vector() {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}

func sortedBars(bars []domain.Bar) []domain.Bar {
	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	return sorted
}

// AttachNextReturns fills each row's NextReturn with the realized forward
// return horizonDays feature rows ahead within the same symbol. Trailing
// rows have no future bar yet and keep a nil NextReturn.
func AttachNextReturns(rows []domain.FeatureRow, horizonDays int) {
	bySymbol := make(map[string][]int)
	for i, row := range rows {
		bySymbol[row.Symbol] = append(bySymbol[row.Symbol], i)
	}

	for _, idxs := range bySymbol {
		for k, idx := range idxs {
			if k+horizonDays >= len(idxs) {
				continue
			}
			if rows[idx].Close == 0 {
				continue
			}
			next := rows[idxs[k+horizonDays]].Close/rows[idx].Close - 1
			rows[idx].NextReturn = &next
		}
	}
}

// LatestDay returns the most recent timestamp present in the rows together
// with the rows carrying it.
func LatestDay(rows []domain.FeatureRow) (time.Time, []domain.FeatureRow) {
	var latest time.Time
	for _, row := range rows {
		if row.Timestamp.After(latest) {
			latest = row.Timestamp
		}
	}

	var out []domain.FeatureRow
	for _, row := range rows {
		if row.Timestamp.Equal(latest) {
			out = append(out, row)
		}
	}
	return latest, out
}
