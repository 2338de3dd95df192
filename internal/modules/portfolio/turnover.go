package portfolio

import (
	"math"
	"sort"
)

// Turnover sums absolute weight changes across the union of both books.
// A full rotation from one name into another therefore counts twice, once
// for the exit and once for the entry. Symbols are visited in sorted order
// so repeated runs accumulate identically.
func Turnover(oldWeights, newWeights map[string]float64) float64 {
	symbols := make([]string, 0, len(oldWeights)+len(newWeights))
	for s := range newWeights {
		symbols = append(symbols, s)
	}
	for s := range oldWeights {
		if _, ok := newWeights[s]; !ok {
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)

	total := 0.0
	for _, s := range symbols {
		total += math.Abs(newWeights[s] - oldWeights[s])
	}
	return total
}
