package ml

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearDataset builds y = 3*x0 + noise with two distractor features.
func linearDataset(n int) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(3))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = []float64{rng.Float64() * 10, rng.Float64(), rng.Float64()}
		y[i] = 3*x[i][0] + rng.NormFloat64()*0.1
	}
	return x, y
}

func TestRandomForestFitErrors(t *testing.T) {
	f := NewRandomForest()
	assert.Error(t, f.Fit(nil, nil))
	assert.Error(t, f.Fit([][]float64{{1}}, []float64{1, 2}))
}

func TestRandomForestLearnsSignal(t *testing.T) {
	x, y := linearDataset(300)

	f := NewRandomForest()
	require.NoError(t, f.Fit(x, y))

	preds := make([]float64, len(x))
	for i, row := range x {
		p, err := f.Predict(row)
		require.NoError(t, err)
		preds[i] = p
	}

	r2 := RSquared(y, preds)
	assert.Greater(t, r2, 0.9, "forest should explain most of a clean linear signal")
}

func TestRandomForestImportances(t *testing.T) {
	x, y := linearDataset(300)

	f := NewRandomForest()
	require.NoError(t, f.Fit(x, y))
	require.Len(t, f.Importances, 3)

	var total float64
	for _, imp := range f.Importances {
		assert.GreaterOrEqual(t, imp, 0.0)
		total += imp
	}
	assert.InDelta(t, 1.0, total, 1e-9)

	// The only informative feature dominates.
	assert.Greater(t, f.Importances[0], f.Importances[1])
	assert.Greater(t, f.Importances[0], f.Importances[2])
}

func TestRandomForestDeterministic(t *testing.T) {
	x, y := linearDataset(100)

	a := NewRandomForest()
	b := NewRandomForest()
	require.NoError(t, a.Fit(x, y))
	require.NoError(t, b.Fit(x, y))

	for _, row := range x[:10] {
		pa, err := a.Predict(row)
		require.NoError(t, err)
		pb, err := b.Predict(row)
		require.NoError(t, err)
		assert.InDelta(t, pa, pb, 1e-12)
	}
}

func TestGradientBoostingBeatsMeanBaseline(t *testing.T) {
	x, y := linearDataset(300)

	g := NewGradientBoosting()
	require.NoError(t, g.Fit(x, y))

	preds := make([]float64, len(x))
	for i, row := range x {
		p, err := g.Predict(row)
		require.NoError(t, err)
		preds[i] = p
	}

	r2 := RSquared(y, preds)
	assert.Greater(t, r2, 0.8, "boosting should beat predicting the mean")
}

func TestGradientBoostingUntrained(t *testing.T) {
	g := NewGradientBoosting()
	_, err := g.Predict([]float64{1, 2, 3})
	assert.Error(t, err)
}

func TestGradientBoostingConstantTarget(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}, {4}}
	y := []float64{5, 5, 5, 5}

	g := NewGradientBoosting()
	require.NoError(t, g.Fit(x, y))

	p, err := g.Predict([]float64{2.5})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, p, 1e-6)
}
