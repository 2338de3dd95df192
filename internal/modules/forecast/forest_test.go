package forecast

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperbot/internal/domain"
)

// makeTrainingSet builds n samples where only the first feature carries
// signal: y = 3*x0 plus nothing else.
func makeTrainingSet(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		row := make([]float64, 9)
		for j := range row {
			row[j] = (rng.Float64() - 0.5) * 0.1
		}
		X[i] = row
		y[i] = 3 * row[0]
	}
	return X, y
}

func TestForestLearnsLinearSignal(t *testing.T) {
	X, y := makeTrainingSet(200, 7)

	f := NewForest(9, 42)
	require.NoError(t, f.Fit(X, y))

	preds, err := f.PredictBatch(X)
	require.NoError(t, err)

	var sse, tss, mean float64
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))
	for i := range y {
		sse += (preds[i] - y[i]) * (preds[i] - y[i])
		tss += (y[i] - mean) * (y[i] - mean)
	}
	assert.Greater(t, 1-sse/tss, 0.8, "in-sample fit should capture most of the signal")

	up := make([]float64, 9)
	down := make([]float64, 9)
	up[0] = 0.04
	down[0] = -0.04
	predUp, err := f.Predict(up)
	require.NoError(t, err)
	predDown, err := f.Predict(down)
	require.NoError(t, err)
	assert.Greater(t, predUp, predDown)
}

func TestForestReproducibleForSameSeed(t *testing.T) {
	X, y := makeTrainingSet(120, 3)

	a := NewForest(9, 42)
	require.NoError(t, a.Fit(X, y))
	b := NewForest(9, 42)
	require.NoError(t, b.Fit(X, y))

	predsA, err := a.PredictBatch(X)
	require.NoError(t, err)
	predsB, err := b.PredictBatch(X)
	require.NoError(t, err)
	assert.Equal(t, predsA, predsB, "identical seed and data must reproduce the model exactly")
}

func TestForestSeedChangesModel(t *testing.T) {
	X, y := makeTrainingSet(120, 3)

	a := NewForest(9, 42)
	require.NoError(t, a.Fit(X, y))
	b := NewForest(9, 99)
	require.NoError(t, b.Fit(X, y))

	predsA, err := a.PredictBatch(X)
	require.NoError(t, err)
	predsB, err := b.PredictBatch(X)
	require.NoError(t, err)
	assert.NotEqual(t, predsA, predsB)
}

func TestForestCannotBeRefitted(t *testing.T) {
	X, y := makeTrainingSet(50, 1)

	f := NewForest(9, 42)
	require.NoError(t, f.Fit(X, y))

	err := f.Fit(X, y)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already trained")
}

func TestForestEmptyTrainingSet(t *testing.T) {
	f := NewForest(9, 42)
	err := f.Fit(nil, nil)
	require.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestForestFeatureWidthMismatch(t *testing.T) {
	f := NewForest(9, 42)
	err := f.Fit([][]float64{{1, 2, 3}}, []float64{0.1})
	require.ErrorIs(t, err, domain.ErrModelDrift)

	X, y := makeTrainingSet(50, 1)
	require.NoError(t, f.Fit(X, y))

	_, err = f.Predict([]float64{1, 2, 3})
	require.ErrorIs(t, err, domain.ErrModelDrift)
}

func TestForestUntrainedPredict(t *testing.T) {
	f := NewForest(9, 42)
	_, err := f.Predict(make([]float64, 9))
	require.Error(t, err)
}

func TestForestConstantLabels(t *testing.T) {
	X, _ := makeTrainingSet(60, 5)
	y := make([]float64, len(X))
	for i := range y {
		y[i] = 0.02
	}

	f := NewForest(9, 42)
	require.NoError(t, f.Fit(X, y))

	pred, err := f.Predict(make([]float64, 9))
	require.NoError(t, err)
	assert.InDelta(t, 0.02, pred, 1e-12)
	assert.False(t, math.IsNaN(pred))
}
