package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// CalculateSMA returns the simple moving average of the last length closes,
// or nil when the series is shorter than the window.
func CalculateSMA(closes []float64, length int) *float64 {
	if len(closes) < length {
		return nil
	}

	sma := talib.Sma(closes, length)
	if len(sma) > 0 && !math.IsNaN(sma[len(sma)-1]) {
		result := sma[len(sma)-1]
		return &result
	}

	return nil
}
