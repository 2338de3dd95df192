package domain

import "time"

// Side classifies a signal's trade direction
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideHold  Side = "HOLD"
)

// Bar represents one daily OHLCV bar for a symbol
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// FeatureRow holds the derived features for one (symbol, day).
// Rows only exist once every rolling window is populated.
type FeatureRow struct {
	Timestamp      time.Time `json:"timestamp"`
	Symbol         string    `json:"symbol"`
	Close          float64   `json:"close"`
	Return1D       float64   `json:"return_1d"`
	Return5D       float64   `json:"return_5d"`
	Return10D      float64   `json:"return_10d"`
	Mom20D         float64   `json:"mom_20d"`
	Vol20D         float64   `json:"vol_20d"`
	Range5D        float64   `json:"range_5d"`
	DollarVol20D   float64   `json:"dollar_vol_20d"`
	MarketReturn1D float64   `json:"market_return_1d"`
	MarketMom20D   float64   `json:"market_mom_20d"`
	RankMom20D     float64   `json:"rank_mom_20d"`

	// NextReturn is the realized forward return over the prediction
	// horizon; nil when the future bar is not yet known.
	NextReturn *float64 `json:"next_return,omitempty"`
}

// FeatureColumns is the canonical model input order. Training and
// prediction both follow it; the stored model records its length.
var FeatureColumns = []string{
	"return_1d",
	"return_5d",
	"return_10d",
	"mom_20d",
	"vol_20d",
	"range_5d",
	"market_return_1d",
	"market_mom_20d",
	"rank_mom_20d",
}

// Vector returns the row's model inputs in FeatureColumns order.
func (r FeatureRow) Vector() []float64 {
	return []float64{
		r.Return1D,
		r.Return5D,
		r.Return10D,
		r.Mom20D,
		r.Vol20D,
		r.Range5D,
		r.MarketReturn1D,
		r.MarketMom20D,
		r.RankMom20D,
	}
}

// Signal represents one symbol's scored trade candidate at a point in time
type Signal struct {
	Symbol string  `json:"symbol"`
	Score  float64 `json:"score"`
	Side   Side    `json:"side"`
	Vol    float64 `json:"vol"`
}

// EquityPoint is one day of a strategy equity curve
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Return    float64   `json:"strategy_return"`
	Equity    float64   `json:"strategy_equity"`
}

// Position represents a held paper position
type Position struct {
	LastUpdated   time.Time `json:"last_updated"`
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	MarketValue   float64   `json:"market_value"`
	UnrealizedPL  float64   `json:"unrealized_pl"`
}

// Order sides as the execution gateway expects them
const (
	OrderBuy  = "buy"
	OrderSell = "sell"
)

// Order represents one order emitted by the rebalance driver
type Order struct {
	SubmittedAt time.Time `json:"submitted_at"`
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"` // buy or sell
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Status      string    `json:"status"`
}

// Account is a snapshot of the paper trading account
type Account struct {
	Equity          float64 `json:"equity"`
	Cash            float64 `json:"cash"`
	PortfolioValue  float64 `json:"portfolio_value"`
	ShortingEnabled bool    `json:"shorting_enabled"`
}
