// Package trading turns the latest model scores into signals and drives
// the paper account toward the target book.
package trading

import (
	"fmt"
	"sort"
	"time"

	"paperbot/internal/config"
	"paperbot/internal/domain"
)

// Predictor scores feature vectors. The forecast forest satisfies this.
type Predictor interface {
	PredictBatch(rows [][]float64) ([]float64, error)
}

// GenerateSignals classifies the most recent cross-section into LONG,
// SHORT and HOLD signals. Every row of the latest day is scored first;
// the price and liquidity gates then decide who may appear at all. The
// shorting toggle does not change labels, only what the book later does
// with them.
func GenerateSignals(rows []domain.FeatureRow, model Predictor, benchmark string, params config.Strategy) ([]domain.Signal, time.Time, error) {
	if len(rows) == 0 {
		return nil, time.Time{}, fmt.Errorf("not enough data to build signals for the universe: %w",
			domain.ErrInsufficientData)
	}

	latestTs, latest := latestCrossSection(rows, benchmark)
	if len(latest) == 0 {
		return nil, latestTs, nil
	}

	vectors := make([][]float64, len(latest))
	for i, row := range latest {
		vectors[i] = row.Vector()
	}
	preds, err := model.PredictBatch(vectors)
	if err != nil {
		return nil, latestTs, fmt.Errorf("scoring latest cross-section: %w", err)
	}

	type scored struct {
		row  domain.FeatureRow
		pred float64
	}
	var eligible []scored
	for i, row := range latest {
		if params.MinPrice > 0 && row.Close < params.MinPrice {
			continue
		}
		if params.MinDollarVol > 0 && !(row.DollarVol20D >= params.MinDollarVol) {
			continue
		}
		eligible = append(eligible, scored{row: row, pred: preds[i]})
	}

	var longs, shorts, holds []scored
	for _, s := range eligible {
		switch {
		case s.pred >= params.MinLongReturn:
			longs = append(longs, s)
		case s.pred <= params.MaxShortReturn:
			shorts = append(shorts, s)
		default:
			holds = append(holds, s)
		}
	}

	sort.Slice(longs, func(i, j int) bool {
		if longs[i].pred != longs[j].pred {
			return longs[i].pred > longs[j].pred
		}
		return longs[i].row.Symbol < longs[j].row.Symbol
	})
	sort.Slice(shorts, func(i, j int) bool {
		if shorts[i].pred != shorts[j].pred {
			return shorts[i].pred < shorts[j].pred
		}
		return shorts[i].row.Symbol < shorts[j].row.Symbol
	})
	// Candidates past the top-k keep their HOLD label in the journal
	// instead of vanishing.
	if len(longs) > params.TopK {
		holds = append(holds, longs[params.TopK:]...)
		longs = longs[:params.TopK]
	}
	if len(shorts) > params.TopK {
		holds = append(holds, shorts[params.TopK:]...)
		shorts = shorts[:params.TopK]
	}
	sort.Slice(holds, func(i, j int) bool { return holds[i].row.Symbol < holds[j].row.Symbol })

	signals := make([]domain.Signal, 0, len(eligible))
	appendBook := func(book []scored, side domain.Side) {
		for _, s := range book {
			signals = append(signals, domain.Signal{
				Symbol: s.row.Symbol,
				Score:  s.pred,
				Side:   side,
				Vol:    s.row.Vol20D,
			})
		}
	}
	appendBook(longs, domain.SideLong)
	appendBook(shorts, domain.SideShort)
	appendBook(holds, domain.SideHold)

	return signals, latestTs, nil
}

// latestCrossSection returns the newest timestamp across all rows and the
// non-benchmark rows carrying it, in symbol order.
func latestCrossSection(rows []domain.FeatureRow, benchmark string) (time.Time, []domain.FeatureRow) {
	var latest time.Time
	for _, row := range rows {
		if row.Timestamp.After(latest) {
			latest = row.Timestamp
		}
	}

	var out []domain.FeatureRow
	for _, row := range rows {
		if row.Timestamp.Equal(latest) && row.Symbol != benchmark {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return latest, out
}
