// Package forecast trains and applies the return-forecast model, an
// ensemble of regression trees with fixed hyperparameters.
package forecast

import (
	"fmt"
	"math/rand"
	"sort"

	"paperbot/internal/domain"
)

const (
	numTrees       = 300
	maxDepth       = 6
	minSamplesLeaf = 5
)

// treeNode is one node of a regression tree. Leaves have no children and
// predict Value, the mean label of their training samples.
type treeNode struct {
	Feature   int       `msgpack:"f"`
	Threshold float64   `msgpack:"t"`
	Value     float64   `msgpack:"v"`
	Left      *treeNode `msgpack:"l,omitempty"`
	Right     *treeNode `msgpack:"r,omitempty"`
}

func (n *treeNode) predict(x []float64) float64 {
	if n.Left == nil || n.Right == nil {
		return n.Value
	}
	if x[n.Feature] <= n.Threshold {
		return n.Left.predict(x)
	}
	return n.Right.predict(x)
}

// Forest is a bootstrap ensemble of regression trees. It is immutable once
// fitted; retraining always builds a new instance.
type Forest struct {
	NumFeatures int         `msgpack:"num_features"`
	Seed        int64       `msgpack:"seed"`
	Trees       []*treeNode `msgpack:"trees"`
}

// NewForest creates an unfitted forest for the given feature count
func NewForest(numFeatures int, seed int64) *Forest {
	return &Forest{NumFeatures: numFeatures, Seed: seed}
}

// Fit trains the ensemble. Each tree sees a bootstrap resample of the rows
// and considers a third of the features at every split. The same seed over
// the same data reproduces the ensemble exactly.
func (f *Forest) Fit(X [][]float64, y []float64) error {
	if len(f.Trees) > 0 {
		return fmt.Errorf("model already trained; build a new forest to retrain")
	}
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("training set has %d rows and %d labels: %w",
			len(X), len(y), domain.ErrInsufficientData)
	}
	for i, row := range X {
		if len(row) != f.NumFeatures {
			return fmt.Errorf("training row %d has %d features, expected %d: %w",
				i, len(row), f.NumFeatures, domain.ErrModelDrift)
		}
	}

	master := rand.New(rand.NewSource(f.Seed))
	f.Trees = make([]*treeNode, numTrees)

	n := len(X)
	for t := 0; t < numTrees; t++ {
		rng := rand.New(rand.NewSource(master.Int63()))

		sample := make([]int, n)
		for i := range sample {
			sample[i] = rng.Intn(n)
		}

		f.Trees[t] = f.buildNode(X, y, sample, 0, rng)
	}

	return nil
}

// Predict returns the ensemble mean for one feature vector
func (f *Forest) Predict(x []float64) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, fmt.Errorf("model has not been trained")
	}
	if len(x) != f.NumFeatures {
		return 0, fmt.Errorf("input has %d features, model expects %d: %w",
			len(x), f.NumFeatures, domain.ErrModelDrift)
	}

	sum := 0.0
	for _, tree := range f.Trees {
		sum += tree.predict(x)
	}
	return sum / float64(len(f.Trees)), nil
}

// PredictBatch returns the ensemble mean for each feature vector
func (f *Forest) PredictBatch(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, x := range X {
		pred, err := f.Predict(x)
		if err != nil {
			return nil, err
		}
		out[i] = pred
	}
	return out, nil
}

func (f *Forest) buildNode(X [][]float64, y []float64, idx []int, depth int, rng *rand.Rand) *treeNode {
	sum := 0.0
	for _, i := range idx {
		sum += y[i]
	}
	mean := sum / float64(len(idx))

	node := &treeNode{Feature: -1, Value: mean}
	if depth >= maxDepth || len(idx) < 2*minSamplesLeaf {
		return node
	}

	feature, threshold, ok := f.bestSplit(X, y, idx, rng)
	if !ok {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	node.Feature = feature
	node.Threshold = threshold
	node.Left = f.buildNode(X, y, left, depth+1, rng)
	node.Right = f.buildNode(X, y, right, depth+1, rng)
	return node
}

// bestSplit finds the threshold that most reduces the squared error over a
// random third of the features. Reports ok=false when no split improves on
// the node mean, which also covers constant-label nodes.
func (f *Forest) bestSplit(X [][]float64, y []float64, idx []int, rng *rand.Rand) (int, float64, bool) {
	numSplitFeatures := (f.NumFeatures + 2) / 3

	total := 0.0
	totalSq := 0.0
	for _, i := range idx {
		total += y[i]
		totalSq += y[i] * y[i]
	}
	n := float64(len(idx))
	baseSSE := totalSq - total*total/n

	bestFeature := -1
	bestThreshold := 0.0
	bestSSE := baseSSE

	sorted := make([]int, len(idx))
	for _, feature := range rng.Perm(f.NumFeatures)[:numSplitFeatures] {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, b int) bool {
			return X[sorted[a]][feature] < X[sorted[b]][feature]
		})

		leftSum := 0.0
		leftSq := 0.0
		for p := 1; p < len(sorted); p++ {
			yv := y[sorted[p-1]]
			leftSum += yv
			leftSq += yv * yv

			if p < minSamplesLeaf || len(sorted)-p < minSamplesLeaf {
				continue
			}

			prev := X[sorted[p-1]][feature]
			cur := X[sorted[p]][feature]
			if prev == cur {
				continue
			}

			nl := float64(p)
			nr := n - nl
			rightSum := total - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/nl) + (rightSq - rightSum*rightSum/nr)

			if sse < bestSSE-1e-12 {
				bestSSE = sse
				bestFeature = feature
				bestThreshold = (prev + cur) / 2
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}
