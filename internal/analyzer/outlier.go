package analyzer

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sightline-legal/spendscope/internal/features"
	"github.com/sightline-legal/spendscope/internal/ml"
	"github.com/sightline-legal/spendscope/internal/model"
)

// OutlierDetector flags anomalous line items (unusual hours/rate/amount
// combinations) with an isolation forest trained under a fixed contamination
// prior and seed.
type OutlierDetector struct {
	forest *ml.IsolationForest
}

// NewOutlierDetector returns an untrained detector with the default ensemble
// parameters (100 trees, 5% contamination).
func NewOutlierDetector() *OutlierDetector {
	return &OutlierDetector{forest: ml.NewIsolationForest()}
}

// Train fits the detector on the {hours, rate, amount} matrix of the given
// line items. Returns ErrEmptyDataset when given zero rows.
func (d *OutlierDetector) Train(items []model.LineItem) (map[string]float64, error) {
	if len(items) == 0 {
		return nil, eris.Wrap(ErrEmptyDataset, "outlier detector")
	}
	rows, err := features.LineItemMatrix(items)
	if err != nil {
		return nil, err
	}
	if err := d.forest.Fit(rows); err != nil {
		return nil, eris.Wrap(err, "outlier detector: fit")
	}

	flags, err := d.forest.Predict(rows)
	if err != nil {
		return nil, eris.Wrap(err, "outlier detector: self-predict")
	}
	flagged := 0
	for _, f := range flags {
		if f {
			flagged++
		}
	}

	metrics := map[string]float64{
		"training_rows": float64(len(items)),
		"flagged_rows":  float64(flagged),
		"flag_fraction": float64(flagged) / float64(len(items)),
		"threshold":     d.forest.Threshold,
	}

	zap.L().Info("analyzer: outlier detector trained",
		zap.Int("rows", len(items)),
		zap.Int("flagged", flagged),
	)
	return metrics, nil
}

// Predict returns one flag per line item, true meaning anomalous.
func (d *OutlierDetector) Predict(items []model.LineItem) ([]bool, error) {
	if !d.forest.Trained {
		return nil, eris.Wrap(ErrNotTrained, "outlier detector")
	}
	rows, err := features.LineItemMatrix(items)
	if err != nil {
		return nil, err
	}
	return d.forest.Predict(rows)
}

// AnomalyScores returns a continuous score per item, higher meaning more
// anomalous regardless of the underlying decision-function convention.
func (d *OutlierDetector) AnomalyScores(items []model.LineItem) ([]float64, error) {
	if !d.forest.Trained {
		return nil, eris.Wrap(ErrNotTrained, "outlier detector")
	}
	rows, err := features.LineItemMatrix(items)
	if err != nil {
		return nil, err
	}
	return d.forest.Scores(rows), nil
}

// Trained reports whether the detector holds a fitted model.
func (d *OutlierDetector) Trained() bool { return d.forest.Trained }

// State serializes the trained forest.
func (d *OutlierDetector) State() ([]byte, error) {
	data, err := json.Marshal(d.forest)
	return data, eris.Wrap(err, "outlier detector: marshal state")
}

// Restore replaces the detector's state with previously serialized state.
func (d *OutlierDetector) Restore(data []byte) error {
	var forest ml.IsolationForest
	if err := json.Unmarshal(data, &forest); err != nil {
		return eris.Wrap(err, "outlier detector: unmarshal state")
	}
	d.forest = &forest
	return nil
}

// Save writes the trained state to dir/model.json, creating dir as needed.
func (d *OutlierDetector) Save(dir string) error {
	return saveState(d, dir)
}

// Load reads trained state from dir/model.json.
func (d *OutlierDetector) Load(dir string) error {
	return loadState(d, dir)
}

// stateful is implemented by every analyzer for artifact persistence.
type stateful interface {
	State() ([]byte, error)
	Restore([]byte) error
}

func saveState(m stateful, dir string) error {
	data, err := m.State()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "analyzer: create dir %s", dir)
	}
	path := filepath.Join(dir, "model.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "analyzer: write %s", path)
	}
	return nil
}

func loadState(m stateful, dir string) error {
	path := filepath.Join(dir, "model.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "analyzer: read %s", path)
	}
	return m.Restore(data)
}
