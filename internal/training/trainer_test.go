package training

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sightline-legal/spendscope/internal/model"
	"github.com/sightline-legal/spendscope/internal/registry"
	"github.com/sightline-legal/spendscope/internal/store"
	"github.com/sightline-legal/spendscope/internal/synth"
)

func seededTrainer(t *testing.T, vendors, invoices int) (*Trainer, store.Store, *registry.Manager) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "training_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	gen := synth.NewGenerator(synth.Options{Seed: 42, Vendors: vendors, Invoices: invoices})
	vs := gen.Vendors()
	for _, v := range vs {
		require.NoError(t, st.UpsertVendor(ctx, v))
	}
	for _, inv := range gen.Invoices(vs) {
		require.NoError(t, st.CreateInvoice(ctx, inv))
	}

	reg, err := registry.NewManager(t.TempDir())
	require.NoError(t, err)
	return NewTrainer(st, reg), st, reg
}

func TestTrainAll(t *testing.T) {
	trainer, _, reg := seededTrainer(t, 6, 60)

	results, err := trainer.TrainAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, len(model.AllModelTypes))

	for i, mt := range model.AllModelTypes {
		assert.Equal(t, mt, results[i].ModelType)
		assert.Equal(t, 1, results[i].Version)
		assert.True(t, reg.Available(mt), "artifact for %s", mt)
	}
}

func TestTrainSingleModelVersionsAdvance(t *testing.T) {
	trainer, _, _ := seededTrainer(t, 4, 40)
	ctx := context.Background()

	first, err := trainer.Train(ctx, model.ModelOutlierDetector)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.Contains(t, first.Metrics, "flag_fraction")

	second, err := trainer.Train(ctx, model.ModelOutlierDetector)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
}

func TestTrainUnknownModelType(t *testing.T) {
	trainer, _, _ := seededTrainer(t, 3, 20)

	_, err := trainer.Train(context.Background(), model.ModelType("sentiment"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model type")
}

func TestTrainAllSkipsVendorClusteringWithOneVendor(t *testing.T) {
	trainer, st, reg := seededTrainer(t, 1, 40)
	ctx := context.Background()

	results, err := trainer.TrainAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, len(model.AllModelTypes)-1)
	assert.False(t, reg.Available(model.ModelVendorCluster))

	// The lone vendor is pinned to tier 0 without a model.
	metrics, err := st.ListVendorMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	require.NotNil(t, metrics[0].Cluster)
	assert.Equal(t, 0, *metrics[0].Cluster)
}

func TestTrainVendorClusterPersistsAssignments(t *testing.T) {
	trainer, st, _ := seededTrainer(t, 8, 80)
	ctx := context.Background()

	res, err := trainer.Train(ctx, model.ModelVendorCluster)
	require.NoError(t, err)
	assert.Contains(t, res.Metrics, "k")

	metrics, err := st.ListVendorMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, metrics, 8)
	for _, m := range metrics {
		require.NotNil(t, m.Cluster, "vendor %s missing cluster", m.VendorID)
		assert.GreaterOrEqual(t, *m.Cluster, 0)
		assert.Less(t, *m.Cluster, 3)
	}
}

func TestRefreshVendorMetrics(t *testing.T) {
	trainer, st, _ := seededTrainer(t, 5, 50)
	ctx := context.Background()

	require.NoError(t, trainer.RefreshVendorMetrics(ctx))

	metrics, err := st.ListVendorMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, metrics, 5)

	var totalInvoices int
	for _, m := range metrics {
		if m.InvoiceCount > 0 {
			assert.Greater(t, m.AverageRate, 0.0)
			assert.Greater(t, m.TotalSpend, 0.0)
		}
		totalInvoices += m.InvoiceCount
	}
	assert.Equal(t, 50, totalInvoices)
}

func TestRefreshVendorMetricsSeedsNeutralPriors(t *testing.T) {
	trainer, st, _ := seededTrainer(t, 2, 5)
	ctx := context.Background()

	// No metrics rows exist yet, so the outcome signals start neutral.
	require.NoError(t, trainer.RefreshVendorMetrics(ctx))

	metrics, err := st.ListVendorMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	for _, m := range metrics {
		assert.InDelta(t, 0.5, m.SuccessRate, 1e-9)
		assert.InDelta(t, 0.5, m.DiversityScore, 1e-9)
	}

	// An existing row's signals are carried through, not reset.
	tuned := metrics[0]
	tuned.SuccessRate = 0.9
	tuned.DiversityScore = 0.2
	require.NoError(t, st.UpsertVendorMetrics(ctx, tuned))

	require.NoError(t, trainer.RefreshVendorMetrics(ctx))
	metrics, err = st.ListVendorMetrics(ctx)
	require.NoError(t, err)
	for _, m := range metrics {
		if m.VendorID == tuned.VendorID {
			assert.InDelta(t, 0.9, m.SuccessRate, 1e-9)
			assert.InDelta(t, 0.2, m.DiversityScore, 1e-9)
		}
	}
}
