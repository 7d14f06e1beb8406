package ml

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clusteredRows returns n points near the origin plus one extreme point at
// the end.
func clusteredRows(n int) [][]float64 {
	rng := rand.New(rand.NewSource(7))
	rows := make([][]float64, 0, n+1)
	for i := 0; i < n; i++ {
		rows = append(rows, []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()})
	}
	rows = append(rows, []float64{50, 50, 50})
	return rows
}

func TestIsolationForestFitEmpty(t *testing.T) {
	f := NewIsolationForest()
	assert.Error(t, f.Fit(nil))
}

func TestIsolationForestPredictUntrained(t *testing.T) {
	f := NewIsolationForest()
	_, err := f.Predict([][]float64{{1, 2, 3}})
	assert.Error(t, err)
}

func TestIsolationForestFlagsExtremePoint(t *testing.T) {
	rows := clusteredRows(200)

	f := NewIsolationForest()
	require.NoError(t, f.Fit(rows))

	scores := f.Scores(rows)
	require.Len(t, scores, len(rows))

	// The injected extreme point must score higher than every inlier.
	extreme := scores[len(scores)-1]
	for i := 0; i < len(scores)-1; i++ {
		assert.Less(t, scores[i], extreme, "inlier %d should score below the extreme point", i)
	}

	flags, err := f.Predict(rows)
	require.NoError(t, err)
	assert.True(t, flags[len(flags)-1], "extreme point should be flagged")
}

func TestIsolationForestFlagRateNearContamination(t *testing.T) {
	rows := clusteredRows(400)

	f := NewIsolationForest()
	require.NoError(t, f.Fit(rows))

	flags, err := f.Predict(rows)
	require.NoError(t, err)

	flagged := 0
	for _, fl := range flags {
		if fl {
			flagged++
		}
	}
	rate := float64(flagged) / float64(len(flags))
	assert.InDelta(t, f.Contamination, rate, 0.05)
}

func TestIsolationForestDeterministic(t *testing.T) {
	rows := clusteredRows(100)

	a := NewIsolationForest()
	b := NewIsolationForest()
	require.NoError(t, a.Fit(rows))
	require.NoError(t, b.Fit(rows))

	sa := a.Scores(rows)
	sb := b.Scores(rows)
	for i := range sa {
		assert.InDelta(t, sa[i], sb[i], 1e-12)
	}
	assert.InDelta(t, a.Threshold, b.Threshold, 1e-12)
}

func TestIsolationForestSerializationRoundTrip(t *testing.T) {
	rows := clusteredRows(100)

	f := NewIsolationForest()
	require.NoError(t, f.Fit(rows))

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var restored IsolationForest
	require.NoError(t, json.Unmarshal(data, &restored))

	orig := f.Scores(rows)
	got := restored.Scores(rows)
	for i := range orig {
		assert.InDelta(t, orig[i], got[i], 1e-12)
	}
}
