package analyzer

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sightline-legal/spendscope/internal/features"
	"github.com/sightline-legal/spendscope/internal/ml"
	"github.com/sightline-legal/spendscope/internal/model"
)

// maxVendorClusters caps k at 3 performance tiers.
const maxVendorClusters = 3

type vendorState struct {
	Model  *ml.KMeans         `json:"model"`
	Scaler *ml.StandardScaler `json:"scaler"`
}

// VendorAnalyzer groups vendors into performance tiers by k-means over
// standardized {average rate, flag rate, success rate, diversity score}.
// Success rate and diversity score may be synthetic placeholders when not
// derivable from billing data alone; that is a known limitation, not a
// design requirement.
type VendorAnalyzer struct {
	state vendorState
}

// NewVendorAnalyzer returns an untrained analyzer.
func NewVendorAnalyzer() *VendorAnalyzer {
	return &VendorAnalyzer{state: vendorState{Scaler: &ml.StandardScaler{}}}
}

// Train clusters the given vendors with k = min(3, vendor count) and returns
// the per-vendor assignment keyed by vendor id. Callers must not invoke the
// model with fewer than 2 distinct vendors; treat them all as cluster 0
// instead.
func (a *VendorAnalyzer) Train(metrics []model.VendorMetrics) (map[string]int, map[string]float64, error) {
	if len(metrics) == 0 {
		return nil, nil, eris.Wrap(ErrEmptyDataset, "vendor analyzer")
	}
	if len(metrics) < 2 {
		return nil, nil, eris.Wrap(ErrInsufficientData, "vendor analyzer: need at least 2 vendors")
	}

	rows := make([][]float64, 0, len(metrics))
	for _, m := range metrics {
		vec, err := features.VendorVector(m)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, vec)
	}

	if err := a.state.Scaler.Fit(rows); err != nil {
		return nil, nil, eris.Wrap(err, "vendor analyzer: fit scaler")
	}
	scaled := a.state.Scaler.Transform(rows)

	k := maxVendorClusters
	if len(metrics) < k {
		k = len(metrics)
	}
	a.state.Model = ml.NewKMeans(k)

	assign, err := a.state.Model.Fit(scaled)
	if err != nil {
		return nil, nil, eris.Wrap(err, "vendor analyzer: fit kmeans")
	}

	clusters := make(map[string]int, len(metrics))
	counts := make([]int, k)
	for i, m := range metrics {
		clusters[m.VendorID] = assign[i]
		counts[assign[i]]++
	}
	occupied := 0
	for _, c := range counts {
		if c > 0 {
			occupied++
		}
	}

	trainMetrics := map[string]float64{
		"vendors":  float64(len(metrics)),
		"k":        float64(k),
		"occupied": float64(occupied),
	}

	zap.L().Info("analyzer: vendor clusters trained",
		zap.Int("vendors", len(metrics)),
		zap.Int("k", k),
	)
	return clusters, trainMetrics, nil
}

// Predict assigns a single vendor's standardized features to the nearest
// existing centroid.
func (a *VendorAnalyzer) Predict(m model.VendorMetrics) (int, error) {
	if a.state.Model == nil || !a.state.Model.Trained {
		return 0, eris.Wrap(ErrNotTrained, "vendor analyzer")
	}
	vec, err := features.VendorVector(m)
	if err != nil {
		return 0, err
	}
	return a.state.Model.Predict(a.state.Scaler.TransformRow(vec))
}

// Trained reports whether the analyzer holds a fitted model.
func (a *VendorAnalyzer) Trained() bool {
	return a.state.Model != nil && a.state.Model.Trained
}

// State serializes model and scaler together.
func (a *VendorAnalyzer) State() ([]byte, error) {
	data, err := json.Marshal(a.state)
	return data, eris.Wrap(err, "vendor analyzer: marshal state")
}

// Restore replaces the analyzer's state with previously serialized state.
func (a *VendorAnalyzer) Restore(data []byte) error {
	var st vendorState
	if err := json.Unmarshal(data, &st); err != nil {
		return eris.Wrap(err, "vendor analyzer: unmarshal state")
	}
	if st.Scaler == nil {
		return eris.New("vendor analyzer: state missing scaler")
	}
	a.state = st
	return nil
}

// Save writes the trained state to dir/model.json, creating dir as needed.
func (a *VendorAnalyzer) Save(dir string) error { return saveState(a, dir) }

// Load reads trained state from dir/model.json.
func (a *VendorAnalyzer) Load(dir string) error { return loadState(a, dir) }
