package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// CalculateReturns converts prices to percentage returns
// Returns[i] = (Price[i] - Price[i-1]) / Price[i-1]
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}

	return returns
}

// PctChange computes the fractional change between each value and the value
// lag positions earlier. The first lag positions are NaN.
func PctChange(values []float64, lag int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < lag || values[i-lag] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[i]/values[i-lag] - 1
	}
	return out
}

// RollingMean computes the trailing mean over a fixed window.
// Output[i] is the mean of data[i-window+1 .. i]; positions with fewer than
// window observations are NaN.
func RollingMean(data []float64, window int) []float64 {
	out := make([]float64, len(data))
	var sum float64
	for i := range data {
		sum += data[i]
		if i >= window {
			sum -= data[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// RollingStdDev computes the trailing sample standard deviation over a fixed
// window. Positions with fewer than window observations are NaN.
func RollingStdDev(data []float64, window int) []float64 {
	out := make([]float64, len(data))
	for i := range data {
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = StdDev(data[i-window+1 : i+1])
	}
	return out
}

// CalculateAnnualReturn computes the compound annual growth rate from a
// series of periodic returns.
//
// Formula: ((1+r1)*(1+r2)*...*(1+rN))^(252/N) - 1
func CalculateAnnualReturn(returns []float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}

	cumulative := 1.0
	for _, r := range returns {
		cumulative *= (1 + r)
	}

	numPeriods := float64(len(returns))

	// Very short periods would annualize to absurd numbers; report the
	// simple cumulative return instead.
	if numPeriods < 3 {
		return cumulative - 1
	}

	years := numPeriods / 252.0
	return math.Pow(cumulative, 1.0/years) - 1
}
