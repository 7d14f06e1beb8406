package analyzer

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sightline-legal/spendscope/internal/model"
)

// overspendCorpus builds invoices whose totals run a consistent markup over
// the heuristic baseline so the estimator has a learnable signal.
func overspendCorpus(n int) ([]model.Invoice, map[string][]model.LineItem) {
	rng := rand.New(rand.NewSource(17))
	invoices := make([]model.Invoice, 0, n)
	items := make(map[string][]model.LineItem, n)

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("inv-%d", i)
		numLines := 2 + rng.Intn(6)
		var lines []model.LineItem
		var lineTotal float64
		for j := 0; j < numLines; j++ {
			hours := 1 + rng.Float64()*7
			rate := 200 + rng.Float64()*400
			lines = append(lines, model.LineItem{
				InvoiceID: id,
				Hours:     hours,
				Rate:      rate,
				Amount:    hours * rate,
			})
			lineTotal += hours * rate
		}

		invoices = append(invoices, model.Invoice{
			ID:          id,
			VendorID:    "v1",
			TotalAmount: lineTotal * 1.1, // consistent 10% markup over lines
			Status:      model.StatusApproved,
		})
		items[id] = lines
	}
	return invoices, items
}

func TestExpectedBaseline(t *testing.T) {
	items := []model.LineItem{
		{Hours: 2, Rate: 300},
		{Hours: 4, Rate: 500},
	}
	// 0.8 * total_hours (6) * mean rate (400) = 1920.
	assert.InDelta(t, 1920, ExpectedBaseline(items), 1e-9)
}

func TestExpectedBaselineEmpty(t *testing.T) {
	assert.Zero(t, ExpectedBaseline(nil))
}

func TestOverspendEstimatorTrainEmpty(t *testing.T) {
	e := NewOverspendEstimator()
	_, err := e.Train(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestOverspendEstimatorSkipsInvoicesWithoutLines(t *testing.T) {
	invoices := []model.Invoice{
		{ID: "a", TotalAmount: 500},
	}
	e := NewOverspendEstimator()
	_, err := e.Train(invoices, map[string][]model.LineItem{})
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestOverspendEstimatorTrainAndPredict(t *testing.T) {
	invoices, items := overspendCorpus(150)

	e := NewOverspendEstimator()
	metrics, err := e.Train(invoices, items)
	require.NoError(t, err)
	assert.True(t, e.Trained())

	// Split is 80/20 over 150 invoices.
	assert.InDelta(t, 120, metrics["training_rows"], 0.5)
	assert.InDelta(t, 30, metrics["test_rows"], 0.5)
	assert.Greater(t, metrics["train_r2"], 0.5)
	require.Contains(t, metrics, "test_r2")

	inv := invoices[0]
	got, err := e.Predict(inv, items[inv.ID])
	require.NoError(t, err)

	actual := inv.TotalAmount - ExpectedBaseline(items[inv.ID])
	// Prediction should land in the right ballpark of the actual overspend.
	assert.InDelta(t, actual, got, actual*0.8)
}

func TestOverspendEstimatorPredictErrors(t *testing.T) {
	e := NewOverspendEstimator()
	_, err := e.Predict(model.Invoice{}, []model.LineItem{{Hours: 1, Rate: 100, Amount: 100}})
	assert.ErrorIs(t, err, ErrNotTrained)

	invoices, items := overspendCorpus(50)
	_, trainErr := e.Train(invoices, items)
	require.NoError(t, trainErr)

	_, err = e.Predict(model.Invoice{TotalAmount: 100}, nil)
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestOverspendEstimatorStateRoundTrip(t *testing.T) {
	invoices, items := overspendCorpus(80)

	e := NewOverspendEstimator()
	_, err := e.Train(invoices, items)
	require.NoError(t, err)

	state, err := e.State()
	require.NoError(t, err)

	restored := NewOverspendEstimator()
	require.NoError(t, restored.Restore(state))

	inv := invoices[3]
	orig, err := e.Predict(inv, items[inv.ID])
	require.NoError(t, err)
	got, err := restored.Predict(inv, items[inv.ID])
	require.NoError(t, err)
	assert.InDelta(t, orig, got, 1e-9)
}
