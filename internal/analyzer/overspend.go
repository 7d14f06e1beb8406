package analyzer

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sightline-legal/spendscope/internal/ml"
	"github.com/sightline-legal/spendscope/internal/model"
)

// baselineFraction defines the expected-spend baseline as 80% of
// total_hours * average_rate. An explicit heuristic standing in for a real
// historical-average baseline; callers may substitute an external baseline
// without touching the rest of the pipeline.
const baselineFraction = 0.8

// overspendFeatureNames are the per-invoice aggregate columns, in order.
var overspendFeatureNames = []string{
	"total_hours", "avg_hours", "std_hours",
	"avg_rate", "std_rate",
	"total_amount", "avg_amount", "item_count",
}

type overspendState struct {
	Model  *ml.GradientBoosting `json:"model"`
	Scaler *ml.StandardScaler   `json:"scaler"`
}

// OverspendEstimator predicts the dollar gap between an invoice's actual
// total and its expected baseline. Negative predictions mean under-baseline.
type OverspendEstimator struct {
	state overspendState
}

// NewOverspendEstimator returns an untrained estimator (100 stages, learning
// rate 0.1, depth 3, fixed seed).
func NewOverspendEstimator() *OverspendEstimator {
	return &OverspendEstimator{state: overspendState{
		Model:  ml.NewGradientBoosting(),
		Scaler: &ml.StandardScaler{},
	}}
}

// ExpectedBaseline returns the heuristic expected spend for a set of line
// items.
func ExpectedBaseline(items []model.LineItem) float64 {
	var totalHours float64
	rates := make([]float64, 0, len(items))
	for _, item := range items {
		totalHours += item.Hours
		rates = append(rates, item.Rate)
	}
	return baselineFraction * totalHours * ml.Mean(rates)
}

// Train aggregates line items per invoice, derives overspend_amount against
// the baseline, splits 80/20, standardizes, and fits the boosted ensemble.
// Train and test R² are reported in the returned metrics.
func (e *OverspendEstimator) Train(invoices []model.Invoice, items map[string][]model.LineItem) (map[string]float64, error) {
	var x [][]float64
	var y []float64
	for _, inv := range invoices {
		lines := items[inv.ID]
		if len(lines) == 0 {
			continue
		}
		x = append(x, overspendVector(inv, lines))
		y = append(y, inv.TotalAmount-ExpectedBaseline(lines))
	}
	if len(x) == 0 {
		return nil, eris.Wrap(ErrEmptyDataset, "overspend estimator: no invoices with line items")
	}

	// 80/20 split; invoices arrive in store order, which is stable.
	cut := len(x) * 8 / 10
	if cut < 1 {
		cut = 1
	}
	trainX, testX := x[:cut], x[cut:]
	trainY, testY := y[:cut], y[cut:]

	if err := e.state.Scaler.Fit(trainX); err != nil {
		return nil, eris.Wrap(err, "overspend estimator: fit scaler")
	}
	if err := e.state.Model.Fit(e.state.Scaler.Transform(trainX), trainY); err != nil {
		return nil, eris.Wrap(err, "overspend estimator: fit model")
	}

	metrics := map[string]float64{
		"training_rows": float64(len(trainX)),
		"test_rows":     float64(len(testX)),
		"train_r2":      e.r2(trainX, trainY),
		"test_r2":       e.r2(testX, testY),
	}

	zap.L().Info("analyzer: overspend estimator trained",
		zap.Int("train_rows", len(trainX)),
		zap.Int("test_rows", len(testX)),
		zap.Float64("train_r2", metrics["train_r2"]),
		zap.Float64("test_r2", metrics["test_r2"]),
	)
	return metrics, nil
}

// Predict returns the estimated overspend amount for one invoice. Requires at
// least one line item.
func (e *OverspendEstimator) Predict(inv model.Invoice, items []model.LineItem) (float64, error) {
	if !e.state.Model.Trained {
		return 0, eris.Wrap(ErrNotTrained, "overspend estimator")
	}
	if len(items) == 0 {
		return 0, eris.Wrap(ErrEmptyDataset, "overspend estimator: predict without line items")
	}
	row := e.state.Scaler.TransformRow(overspendVector(inv, items))
	out, err := e.state.Model.Predict(row)
	if err != nil {
		return 0, eris.Wrap(err, "overspend estimator: predict")
	}
	return out, nil
}

// Trained reports whether the estimator holds a fitted model.
func (e *OverspendEstimator) Trained() bool { return e.state.Model.Trained }

// State serializes model and scaler together.
func (e *OverspendEstimator) State() ([]byte, error) {
	data, err := json.Marshal(e.state)
	return data, eris.Wrap(err, "overspend estimator: marshal state")
}

// Restore replaces the estimator's state with previously serialized state.
func (e *OverspendEstimator) Restore(data []byte) error {
	var st overspendState
	if err := json.Unmarshal(data, &st); err != nil {
		return eris.Wrap(err, "overspend estimator: unmarshal state")
	}
	if st.Model == nil || st.Scaler == nil {
		return eris.New("overspend estimator: state missing model or scaler")
	}
	e.state = st
	return nil
}

// Save writes the trained state to dir/model.json, creating dir as needed.
func (e *OverspendEstimator) Save(dir string) error { return saveState(e, dir) }

// Load reads trained state from dir/model.json.
func (e *OverspendEstimator) Load(dir string) error { return loadState(e, dir) }

func overspendVector(inv model.Invoice, items []model.LineItem) []float64 {
	hours := make([]float64, 0, len(items))
	rates := make([]float64, 0, len(items))
	amounts := make([]float64, 0, len(items))
	var totalHours float64
	for _, item := range items {
		hours = append(hours, item.Hours)
		rates = append(rates, item.Rate)
		amounts = append(amounts, item.Amount)
		totalHours += item.Hours
	}
	return []float64{
		totalHours,
		ml.Mean(hours),
		ml.Std(hours),
		ml.Mean(rates),
		ml.Std(rates),
		inv.TotalAmount,
		ml.Mean(amounts),
		float64(len(items)),
	}
}

func (e *OverspendEstimator) r2(x [][]float64, y []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	preds := make([]float64, len(x))
	for i, row := range x {
		preds[i], _ = e.state.Model.Predict(e.state.Scaler.TransformRow(row))
	}
	return ml.RSquared(y, preds)
}
