package forecast

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"paperbot/internal/domain"
)

// modelSeed fixes the ensemble so retraining on identical data yields an
// identical model.
const modelSeed = 42

// Metrics reports in-sample fit quality. Diagnostic only, nothing gates on it.
type Metrics struct {
	R2      float64
	MAE     float64
	Samples int
}

// Train fits a fresh forest on the rows, labeling each row with the
// forward close-to-close return over the horizon. Labels come from rows
// inside the given slice only, so a caller passing a historical window
// never trains on anything beyond it. Rows whose forward bar falls outside
// the window are left unlabeled and excluded.
func Train(rows []domain.FeatureRow, horizonDays int, log zerolog.Logger) (*Forest, Metrics, error) {
	if horizonDays <= 0 {
		return nil, Metrics{}, fmt.Errorf("horizon must be positive, got %d", horizonDays)
	}

	labels := make([]float64, len(rows))
	labeled := make([]bool, len(rows))

	bySymbol := make(map[string][]int)
	for i, row := range rows {
		bySymbol[row.Symbol] = append(bySymbol[row.Symbol], i)
	}
	for _, idxs := range bySymbol {
		for k, idx := range idxs {
			if k+horizonDays >= len(idxs) || rows[idx].Close == 0 {
				continue
			}
			labels[idx] = rows[idxs[k+horizonDays]].Close/rows[idx].Close - 1
			labeled[idx] = true
		}
	}

	var X [][]float64
	var y []float64
	for i := range rows {
		if !labeled[i] {
			continue
		}
		X = append(X, rows[i].Vector())
		y = append(y, labels[i])
	}
	if len(X) == 0 {
		return nil, Metrics{}, fmt.Errorf("no labeled training samples in window: %w",
			domain.ErrInsufficientData)
	}

	forest := NewForest(len(domain.FeatureColumns), modelSeed)
	if err := forest.Fit(X, y); err != nil {
		return nil, Metrics{}, fmt.Errorf("fitting forest: %w", err)
	}

	preds, err := forest.PredictBatch(X)
	if err != nil {
		return nil, Metrics{}, fmt.Errorf("scoring training set: %w", err)
	}

	mae := 0.0
	for i := range preds {
		mae += math.Abs(preds[i] - y[i])
	}
	mae /= float64(len(preds))

	metrics := Metrics{
		R2:      stat.RSquaredFrom(preds, y, nil),
		MAE:     mae,
		Samples: len(y),
	}

	log.Info().
		Int("samples", metrics.Samples).
		Float64("r2", metrics.R2).
		Float64("mae", metrics.MAE).
		Msg("Model trained")

	return forest, metrics, nil
}
