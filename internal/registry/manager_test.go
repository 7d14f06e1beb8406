package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sightline-legal/spendscope/internal/model"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	return m
}

func TestNewManagerEmptyDir(t *testing.T) {
	_, err := NewManager("")
	assert.Error(t, err)
}

func TestManagerLoadBeforeSave(t *testing.T) {
	m := newTestManager(t)

	_, _, err := m.LoadModel(model.ModelOutlierDetector)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, m.Available(model.ModelOutlierDetector))
}

func TestManagerVersionsAreMonotonic(t *testing.T) {
	m := newTestManager(t)

	v1, err := m.SaveModel(model.ModelRiskPredictor, []byte(`{"a":1}`), map[string]float64{"train_r2": 0.9})
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	v2, err := m.SaveModel(model.ModelRiskPredictor, []byte(`{"a":2}`), map[string]float64{"train_r2": 0.95})
	require.NoError(t, err)
	assert.Equal(t, 2, v2)

	// Current pointer follows the latest save.
	data, version, err := m.LoadModel(model.ModelRiskPredictor)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.JSONEq(t, `{"a":2}`, string(data))
}

func TestManagerVersionsPerTypeIndependent(t *testing.T) {
	m := newTestManager(t)

	v, err := m.SaveModel(model.ModelOutlierDetector, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = m.SaveModel(model.ModelOverspendEstimator, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestManagerModelMetrics(t *testing.T) {
	m := newTestManager(t)

	_, err := m.SaveModel(model.ModelOverspendEstimator, []byte(`{}`), map[string]float64{
		"train_r2": 0.8,
		"test_r2":  0.7,
	})
	require.NoError(t, err)

	metrics, err := m.ModelMetrics(model.ModelOverspendEstimator)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, metrics["train_r2"], 1e-9)
	assert.InDelta(t, 0.7, metrics["test_r2"], 1e-9)

	createdAt, err := m.CurrentCreatedAt(model.ModelOverspendEstimator)
	require.NoError(t, err)
	assert.False(t, createdAt.IsZero())
}

func TestManagerListVersions(t *testing.T) {
	m := newTestManager(t)

	for i := 0; i < 3; i++ {
		_, err := m.SaveModel(model.ModelVendorCluster, []byte(`{}`), map[string]float64{"k": 3})
		require.NoError(t, err)
	}

	infos, err := m.ListVersions(model.ModelVendorCluster)
	require.NoError(t, err)
	require.Len(t, infos, 3)

	for i, info := range infos {
		assert.Equal(t, i+1, info.Version)
		assert.Equal(t, i == 2, info.Current, "only the newest version is current")
		assert.InDelta(t, 3, info.Metrics["k"], 1e-9)
	}
}

func TestManagerPruneKeepsNewestAndCurrent(t *testing.T) {
	m := newTestManager(t)

	for i := 0; i < 5; i++ {
		_, err := m.SaveModel(model.ModelOutlierDetector, []byte(`{}`), nil)
		require.NoError(t, err)
	}

	removed, err := m.Prune(model.ModelOutlierDetector, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	infos, err := m.ListVersions(model.ModelOutlierDetector)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, 4, infos[0].Version)
	assert.Equal(t, 5, infos[1].Version)
	assert.True(t, infos[1].Current)

	// Current version still loads after pruning.
	_, version, err := m.LoadModel(model.ModelOutlierDetector)
	require.NoError(t, err)
	assert.Equal(t, 5, version)
}

func TestManagerPruneNothingToRemove(t *testing.T) {
	m := newTestManager(t)

	_, err := m.SaveModel(model.ModelRiskPredictor, []byte(`{}`), nil)
	require.NoError(t, err)

	removed, err := m.Prune(model.ModelRiskPredictor, 5)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
