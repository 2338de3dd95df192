package portfolio

import (
	"math"

	"paperbot/pkg/formulas"
)

// RegimeLeverage picks the base leverage from the benchmark's trend: when
// the 50-day average closes below the 200-day average the market is
// treated as bearish. Short histories default to the full gross.
func RegimeLeverage(benchmarkCloses []float64, grossLeverage, bearLeverage float64) float64 {
	ma50 := formulas.CalculateSMA(benchmarkCloses, 50)
	ma200 := formulas.CalculateSMA(benchmarkCloses, 200)
	if ma50 == nil || ma200 == nil {
		return grossLeverage
	}
	if *ma50 < *ma200 {
		return bearLeverage
	}
	return grossLeverage
}

// GovernorInputs carries everything the leverage governors look at.
// MarketVol is the benchmark's rolling daily-return volatility; zero means
// unknown and skips the scaler. A non-positive MaxDrawdown disables the
// throttle entirely.
type GovernorInputs struct {
	BaseLeverage  float64
	MarketVol     float64
	VolTarget     float64
	Drawdown      float64
	MaxDrawdown   float64
	MinLeverage   float64
	GrossLeverage float64
}

// ApplyGovernors runs the base leverage through the volatility scaler,
// then the drawdown throttle, then the final clamp. Order matters: the
// throttle acts on the already vol-scaled value, and the clamp keeps the
// result inside [MinLeverage, GrossLeverage] no matter what the earlier
// stages produced.
func ApplyGovernors(in GovernorInputs) float64 {
	lev := in.BaseLeverage

	if in.VolTarget > 0 && in.MarketVol > 0 {
		scale := math.Min(1.0, in.VolTarget/in.MarketVol)
		lev = math.Min(lev, lev*scale)
	}

	if in.MaxDrawdown > 0 && in.Drawdown > in.MaxDrawdown {
		lev *= math.Max(in.MaxDrawdown/in.Drawdown, 0.1)
	}

	return math.Max(in.MinLeverage, math.Min(lev, in.GrossLeverage))
}
