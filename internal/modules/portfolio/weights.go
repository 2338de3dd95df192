// Package portfolio converts return forecasts into target position
// weights and governs how much gross exposure those weights receive.
// The same constructor serves the simulator and the live rebalancer.
package portfolio

import (
	"math"
	"sort"
)

// Candidate is one symbol eligible for selection on a rebalance day
type Candidate struct {
	Symbol string
	Pred   float64 // forecast forward return
	Vol    float64 // 20-day return volatility, sizing input
}

// Limits bound what the weight constructor may select and how large any
// single position can get.
type Limits struct {
	TopK           int
	MinLongReturn  float64
	MaxShortReturn float64
	MaxPositionPct float64
}

// BuildWeights selects the long and short books and sizes them by inverse
// volatility. With shorts allowed the leverage splits evenly between the
// books even when one side has no qualifying names. Position caps truncate
// without redistributing the excess, so capped days deliberately run below
// target gross. Returns an empty map when nothing qualifies.
func BuildWeights(candidates []Candidate, leverage float64, limits Limits, allowShorts bool) map[string]float64 {
	var longs, shorts []Candidate
	for _, c := range candidates {
		if c.Pred >= limits.MinLongReturn {
			longs = append(longs, c)
		}
		if allowShorts && c.Pred <= limits.MaxShortReturn {
			shorts = append(shorts, c)
		}
	}

	sort.Slice(longs, func(i, j int) bool {
		if longs[i].Pred != longs[j].Pred {
			return longs[i].Pred > longs[j].Pred
		}
		return longs[i].Symbol < longs[j].Symbol
	})
	sort.Slice(shorts, func(i, j int) bool {
		if shorts[i].Pred != shorts[j].Pred {
			return shorts[i].Pred < shorts[j].Pred
		}
		return shorts[i].Symbol < shorts[j].Symbol
	})

	if limits.TopK > 0 && len(longs) > limits.TopK {
		longs = longs[:limits.TopK]
	}
	if limits.TopK > 0 && len(shorts) > limits.TopK {
		shorts = shorts[:limits.TopK]
	}

	longGross := leverage
	shortGross := 0.0
	if allowShorts {
		longGross = leverage / 2
		shortGross = leverage / 2
	}

	weights := make(map[string]float64)
	for symbol, w := range inverseVolWeights(longs, longGross, limits.MaxPositionPct) {
		weights[symbol] = w
	}
	for symbol, w := range inverseVolWeights(shorts, shortGross, limits.MaxPositionPct) {
		weights[symbol] = -w
	}
	return weights
}

// inverseVolWeights allocates gross exposure proportionally to 1/vol,
// flooring volatility so a flat series cannot blow up the allocation.
func inverseVolWeights(cands []Candidate, gross float64, maxPositionPct float64) map[string]float64 {
	out := make(map[string]float64, len(cands))
	if len(cands) == 0 {
		return out
	}

	total := 0.0
	inv := make([]float64, len(cands))
	for i, c := range cands {
		inv[i] = 1.0 / math.Max(c.Vol, 1e-6)
		total += inv[i]
	}

	for i, c := range cands {
		out[c.Symbol] = math.Min(maxPositionPct, inv[i]/total*gross)
	}
	return out
}
