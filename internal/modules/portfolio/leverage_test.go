package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegimeLeverageShortHistoryDefaultsToGross(t *testing.T) {
	closes := make([]float64, 150)
	for i := range closes {
		closes[i] = 100 - float64(i)*0.1
	}

	assert.InDelta(t, 1.0, RegimeLeverage(closes, 1.0, 0.5), 1e-12)
}

func TestRegimeLeverageBearWhenTrendRollsOver(t *testing.T) {
	closes := make([]float64, 300)
	for i := range closes {
		closes[i] = 400 - float64(i)*0.5
	}

	assert.InDelta(t, 0.5, RegimeLeverage(closes, 1.0, 0.5), 1e-12)
}

func TestRegimeLeverageBullKeepsGross(t *testing.T) {
	closes := make([]float64, 300)
	for i := range closes {
		closes[i] = 200 + float64(i)*0.5
	}

	assert.InDelta(t, 1.0, RegimeLeverage(closes, 1.0, 0.5), 1e-12)
}

func TestApplyGovernorsVolScaleReducesLeverage(t *testing.T) {
	lev := ApplyGovernors(GovernorInputs{
		BaseLeverage:  1.0,
		MarketVol:     0.40,
		VolTarget:     0.20,
		MaxDrawdown:   0.20,
		MinLeverage:   0.0,
		GrossLeverage: 1.0,
	})
	assert.InDelta(t, 0.5, lev, 1e-12)
}

func TestApplyGovernorsCalmMarketNeverBoosts(t *testing.T) {
	lev := ApplyGovernors(GovernorInputs{
		BaseLeverage:  1.0,
		MarketVol:     0.10,
		VolTarget:     0.20,
		MaxDrawdown:   0.20,
		MinLeverage:   0.0,
		GrossLeverage: 1.0,
	})
	assert.InDelta(t, 1.0, lev, 1e-12)
}

func TestApplyGovernorsUnknownVolSkipsScaler(t *testing.T) {
	lev := ApplyGovernors(GovernorInputs{
		BaseLeverage:  1.0,
		MarketVol:     0,
		VolTarget:     0.20,
		MaxDrawdown:   0.20,
		MinLeverage:   0.0,
		GrossLeverage: 1.0,
	})
	assert.InDelta(t, 1.0, lev, 1e-12)
}

func TestApplyGovernorsDrawdownThrottle(t *testing.T) {
	lev := ApplyGovernors(GovernorInputs{
		BaseLeverage:  1.0,
		Drawdown:      0.30,
		MaxDrawdown:   0.20,
		MinLeverage:   0.0,
		GrossLeverage: 1.0,
	})
	assert.InDelta(t, 2.0/3.0, lev, 1e-12)
}

func TestApplyGovernorsThrottleFloorsAtTenth(t *testing.T) {
	lev := ApplyGovernors(GovernorInputs{
		BaseLeverage:  1.0,
		Drawdown:      0.90,
		MaxDrawdown:   0.02,
		MinLeverage:   0.0,
		GrossLeverage: 1.0,
	})
	assert.InDelta(t, 0.1, lev, 1e-12)
}

func TestApplyGovernorsZeroMaxDrawdownDisablesThrottle(t *testing.T) {
	lev := ApplyGovernors(GovernorInputs{
		BaseLeverage:  1.0,
		Drawdown:      0.50,
		MaxDrawdown:   0,
		MinLeverage:   0.0,
		GrossLeverage: 1.0,
	})
	assert.InDelta(t, 1.0, lev, 1e-12)
}

func TestApplyGovernorsClampBounds(t *testing.T) {
	// Min leverage wins over a deep throttle
	lev := ApplyGovernors(GovernorInputs{
		BaseLeverage:  1.0,
		Drawdown:      0.90,
		MaxDrawdown:   0.02,
		MinLeverage:   0.25,
		GrossLeverage: 1.0,
	})
	assert.InDelta(t, 0.25, lev, 1e-12)

	// Gross caps anything larger
	lev = ApplyGovernors(GovernorInputs{
		BaseLeverage:  2.0,
		MaxDrawdown:   0.20,
		MinLeverage:   0.0,
		GrossLeverage: 1.5,
	})
	assert.InDelta(t, 1.5, lev, 1e-12)
}

func TestApplyGovernorsLeverageNeverExceedsGross(t *testing.T) {
	for _, in := range []GovernorInputs{
		{BaseLeverage: 1.0, MarketVol: 0.05, VolTarget: 0.20, MaxDrawdown: 0.20, GrossLeverage: 1.0},
		{BaseLeverage: 3.0, MarketVol: 0.01, VolTarget: 0.50, MaxDrawdown: 0.20, GrossLeverage: 1.0},
		{BaseLeverage: 1.0, Drawdown: 0.0, MaxDrawdown: 0.20, GrossLeverage: 1.0},
	} {
		lev := ApplyGovernors(in)
		assert.LessOrEqual(t, lev, in.GrossLeverage)
		assert.GreaterOrEqual(t, lev, in.MinLeverage)
	}
}

func TestApplyGovernorsDeeperDrawdownNeverRaisesLeverage(t *testing.T) {
	drawdowns := []float64{0, 0.10, 0.20, 0.25, 0.30, 0.50, 0.90}

	prev := 2.0
	for _, dd := range drawdowns {
		lev := ApplyGovernors(GovernorInputs{
			BaseLeverage:  1.0,
			Drawdown:      dd,
			MaxDrawdown:   0.20,
			MinLeverage:   0.0,
			GrossLeverage: 1.0,
		})
		assert.LessOrEqual(t, lev, prev+1e-12, "drawdown %.2f", dd)
		prev = lev
	}
}
