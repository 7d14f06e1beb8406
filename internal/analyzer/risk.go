package analyzer

import (
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sightline-legal/spendscope/internal/features"
	"github.com/sightline-legal/spendscope/internal/ml"
	"github.com/sightline-legal/spendscope/internal/model"
)

// importanceThreshold is the minimum trained feature importance for a factor
// to appear in an explanation.
const importanceThreshold = 0.05

// Synthetic target weights, used only when historical risk labels are absent.
const (
	targetAmountWeight  = 0.3
	targetHoursWeight   = 0.3
	targetPendingWeight = 0.2
)

// riskState is the serialized unit persisting model, scaler, and importances
// together so import/export stays atomic.
type riskState struct {
	Forest      *ml.RandomForest   `json:"forest"`
	Scaler      *ml.StandardScaler `json:"scaler"`
	Importances map[string]float64 `json:"importances"`
}

// RiskPredictor produces a continuous invoice-level risk score in [0,1] with
// ranked explanatory factors from the model's global feature importances.
type RiskPredictor struct {
	state riskState
}

// NewRiskPredictor returns an untrained predictor (100 trees, fixed seed).
func NewRiskPredictor() *RiskPredictor {
	return &RiskPredictor{state: riskState{
		Forest: ml.NewRandomForest(),
		Scaler: &ml.StandardScaler{},
	}}
}

// Train builds the invoice-level feature matrix, manufactures the synthetic
// risk target (P90 amount, P90 mean hours, pending status, max-normalized),
// standardizes features, and fits the forest.
//
// The synthetic target is a documented approximation standing in for real
// historical labels, which the original system did not have.
func (p *RiskPredictor) Train(invoices []model.Invoice, items map[string][]model.LineItem) (map[string]float64, error) {
	if len(invoices) == 0 {
		return nil, eris.Wrap(ErrEmptyDataset, "risk predictor")
	}

	x := make([][]float64, 0, len(invoices))
	amounts := make([]float64, 0, len(invoices))
	meanHours := make([]float64, 0, len(invoices))
	for _, inv := range invoices {
		vec, err := features.InvoiceVector(inv, items[inv.ID])
		if err != nil {
			return nil, err
		}
		x = append(x, vec)
		amounts = append(amounts, inv.TotalAmount)

		var hours []float64
		for _, item := range items[inv.ID] {
			hours = append(hours, item.Hours)
		}
		meanHours = append(meanHours, ml.Mean(hours))
	}

	y := syntheticTarget(invoices, amounts, meanHours)
	if distinct(y) < 2 {
		return nil, eris.Wrap(ErrInsufficientData, "risk predictor: fewer than 2 distinct target values")
	}

	if err := p.state.Scaler.Fit(x); err != nil {
		return nil, eris.Wrap(err, "risk predictor: fit scaler")
	}
	scaled := p.state.Scaler.Transform(x)

	if err := p.state.Forest.Fit(scaled, y); err != nil {
		return nil, eris.Wrap(err, "risk predictor: fit forest")
	}

	p.state.Importances = make(map[string]float64, len(features.InvoiceFeatureNames))
	for i, name := range features.InvoiceFeatureNames {
		if i < len(p.state.Forest.Importances) {
			p.state.Importances[name] = p.state.Forest.Importances[i]
		}
	}

	preds := make([]float64, len(scaled))
	for i, row := range scaled {
		preds[i], _ = p.state.Forest.Predict(row)
	}
	metrics := map[string]float64{
		"training_rows": float64(len(invoices)),
		"train_r2":      ml.RSquared(y, preds),
		"target_mean":   ml.Mean(y),
	}

	zap.L().Info("analyzer: risk predictor trained",
		zap.Int("invoices", len(invoices)),
		zap.Float64("train_r2", metrics["train_r2"]),
	)
	return metrics, nil
}

// Predict returns the invoice's risk score clamped to [0,1].
func (p *RiskPredictor) Predict(inv model.Invoice, items []model.LineItem) (float64, error) {
	if !p.state.Forest.Trained {
		return 0, eris.Wrap(ErrNotTrained, "risk predictor")
	}
	vec, err := features.InvoiceVector(inv, items)
	if err != nil {
		return 0, err
	}
	raw, err := p.state.Forest.Predict(p.state.Scaler.TransformRow(vec))
	if err != nil {
		return 0, eris.Wrap(err, "risk predictor: predict")
	}
	return ml.Clamp(raw, 0, 1), nil
}

// ExplainRisk returns factors whose trained importance exceeds the
// significance threshold, each with the invoice's raw feature value, sorted
// descending by importance. This surfaces the model's global importance
// ranking, not a per-prediction attribution.
func (p *RiskPredictor) ExplainRisk(inv model.Invoice, items []model.LineItem) ([]model.RiskFactor, error) {
	if !p.state.Forest.Trained {
		return nil, eris.Wrap(ErrNotTrained, "risk predictor")
	}
	vec, err := features.InvoiceVector(inv, items)
	if err != nil {
		return nil, err
	}

	var factors []model.RiskFactor
	for i, name := range features.InvoiceFeatureNames {
		imp := p.state.Importances[name]
		if imp <= importanceThreshold {
			continue
		}
		factors = append(factors, model.RiskFactor{
			Factor:     name,
			Importance: imp,
			Value:      vec[i],
		})
	}
	sort.Slice(factors, func(i, j int) bool { return factors[i].Importance > factors[j].Importance })
	return factors, nil
}

// Trained reports whether the predictor holds a fitted model.
func (p *RiskPredictor) Trained() bool { return p.state.Forest.Trained }

// State serializes model, scaler, and importances as one unit.
func (p *RiskPredictor) State() ([]byte, error) {
	data, err := json.Marshal(p.state)
	return data, eris.Wrap(err, "risk predictor: marshal state")
}

// Restore replaces the predictor's state with previously serialized state.
func (p *RiskPredictor) Restore(data []byte) error {
	var st riskState
	if err := json.Unmarshal(data, &st); err != nil {
		return eris.Wrap(err, "risk predictor: unmarshal state")
	}
	if st.Forest == nil || st.Scaler == nil {
		return eris.New("risk predictor: state missing forest or scaler")
	}
	p.state = st
	return nil
}

// Save writes the trained state to dir/model.json, creating dir as needed.
func (p *RiskPredictor) Save(dir string) error { return saveState(p, dir) }

// Load reads trained state from dir/model.json.
func (p *RiskPredictor) Load(dir string) error { return loadState(p, dir) }

// syntheticTarget builds the weighted heuristic target in [0,1]: amount over
// the 90th percentile (0.3), mean hours over the 90th percentile (0.3), and
// pending status (0.2), normalized by the maximum observed raw score.
func syntheticTarget(invoices []model.Invoice, amounts, meanHours []float64) []float64 {
	p90Amount := ml.Percentile(amounts, 90)
	p90Hours := ml.Percentile(meanHours, 90)

	raw := make([]float64, len(invoices))
	var maxRaw float64
	for i, inv := range invoices {
		var score float64
		if amounts[i] > p90Amount {
			score += targetAmountWeight
		}
		if meanHours[i] > p90Hours {
			score += targetHoursWeight
		}
		if inv.Status == model.StatusPending {
			score += targetPendingWeight
		}
		raw[i] = score
		if score > maxRaw {
			maxRaw = score
		}
	}
	if maxRaw > 0 {
		for i := range raw {
			raw[i] /= maxRaw
		}
	}
	return raw
}

func distinct(xs []float64) int {
	seen := make(map[float64]struct{}, len(xs))
	for _, x := range xs {
		seen[x] = struct{}{}
	}
	return len(seen)
}
