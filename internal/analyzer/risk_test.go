package analyzer

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sightline-legal/spendscope/internal/model"
)

// invoiceCorpus builds n invoices with varied totals, hours, and statuses so
// the synthetic target has spread. A handful at the end are large pending
// invoices that should score high.
func invoiceCorpus(n int) ([]model.Invoice, map[string][]model.LineItem) {
	rng := rand.New(rand.NewSource(9))
	invoices := make([]model.Invoice, 0, n)
	items := make(map[string][]model.LineItem, n)

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("inv-%d", i)
		status := model.StatusApproved
		if i%3 == 0 {
			status = model.StatusPending
		}

		numLines := 2 + rng.Intn(5)
		var lines []model.LineItem
		total := 0.0
		for j := 0; j < numLines; j++ {
			hours := 1 + rng.Float64()*5
			rate := 250 + rng.Float64()*300
			if i >= n-5 {
				// Tail invoices bill extreme hours at high totals.
				hours = 30 + rng.Float64()*20
				rate = 800
			}
			lines = append(lines, model.LineItem{
				InvoiceID: id,
				Hours:     hours,
				Rate:      rate,
				Amount:    hours * rate,
			})
			total += hours * rate
		}
		if i >= n-5 {
			status = model.StatusPending
		}

		invoices = append(invoices, model.Invoice{
			ID:          id,
			VendorID:    "v1",
			TotalAmount: total,
			Status:      status,
		})
		items[id] = lines
	}
	return invoices, items
}

func TestRiskPredictorTrainEmpty(t *testing.T) {
	p := NewRiskPredictor()
	_, err := p.Train(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestRiskPredictorInsufficientDistinctTargets(t *testing.T) {
	// Identical approved invoices produce a constant target.
	invoices := []model.Invoice{
		{ID: "a", TotalAmount: 100, Status: model.StatusApproved},
		{ID: "b", TotalAmount: 100, Status: model.StatusApproved},
	}
	p := NewRiskPredictor()
	_, err := p.Train(invoices, map[string][]model.LineItem{})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRiskPredictorPredictUntrained(t *testing.T) {
	p := NewRiskPredictor()
	_, err := p.Predict(model.Invoice{TotalAmount: 100}, nil)
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestRiskPredictorScoresInUnitInterval(t *testing.T) {
	invoices, items := invoiceCorpus(120)

	p := NewRiskPredictor()
	metrics, err := p.Train(invoices, items)
	require.NoError(t, err)
	assert.True(t, p.Trained())
	assert.Greater(t, metrics["train_r2"], 0.0)

	for _, inv := range invoices {
		score, err := p.Predict(inv, items[inv.ID])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestRiskPredictorRanksExtremeInvoicesHigher(t *testing.T) {
	invoices, items := invoiceCorpus(120)

	p := NewRiskPredictor()
	_, err := p.Train(invoices, items)
	require.NoError(t, err)

	// Mean score of the extreme tail should beat the ordinary head.
	var headSum, tailSum float64
	head := invoices[:20]
	tail := invoices[len(invoices)-5:]
	for _, inv := range head {
		s, err := p.Predict(inv, items[inv.ID])
		require.NoError(t, err)
		headSum += s
	}
	for _, inv := range tail {
		s, err := p.Predict(inv, items[inv.ID])
		require.NoError(t, err)
		tailSum += s
	}
	assert.Greater(t, tailSum/5, headSum/20)
}

func TestRiskPredictorExplainRisk(t *testing.T) {
	invoices, items := invoiceCorpus(120)

	p := NewRiskPredictor()
	_, err := p.Train(invoices, items)
	require.NoError(t, err)

	inv := invoices[len(invoices)-1]
	factors, err := p.ExplainRisk(inv, items[inv.ID])
	require.NoError(t, err)
	require.NotEmpty(t, factors)

	for i, f := range factors {
		assert.Greater(t, f.Importance, 0.05, "factor %s below significance threshold", f.Factor)
		if i > 0 {
			assert.LessOrEqual(t, f.Importance, factors[i-1].Importance, "factors must be sorted descending")
		}
	}
}

func TestRiskPredictorStateRoundTrip(t *testing.T) {
	invoices, items := invoiceCorpus(80)

	p := NewRiskPredictor()
	_, err := p.Train(invoices, items)
	require.NoError(t, err)

	state, err := p.State()
	require.NoError(t, err)

	restored := NewRiskPredictor()
	require.NoError(t, restored.Restore(state))
	assert.True(t, restored.Trained())

	inv := invoices[0]
	orig, err := p.Predict(inv, items[inv.ID])
	require.NoError(t, err)
	got, err := restored.Predict(inv, items[inv.ID])
	require.NoError(t, err)
	assert.InDelta(t, orig, got, 1e-12)
}

func TestRiskPredictorRestoreRejectsPartialState(t *testing.T) {
	p := NewRiskPredictor()
	assert.Error(t, p.Restore([]byte(`{}`)))
}
