// Package analyzer wraps the ml primitives into the four domain models:
// outlier detection, risk prediction, overspend estimation, and vendor
// clustering. All wrappers share the feature extraction contract from the
// features package and serialize their full trained state as one unit.
package analyzer

import "github.com/rotisserie/eris"

// ErrEmptyDataset indicates training was invoked with zero rows.
var ErrEmptyDataset = eris.New("analyzer: empty training dataset")

// ErrInsufficientData indicates training data was present but below the
// trainable minimum (e.g. fewer than 2 distinct target values).
var ErrInsufficientData = eris.New("analyzer: insufficient training data")

// ErrNotTrained indicates prediction was requested before training or a
// state restore.
var ErrNotTrained = eris.New("analyzer: model not trained")
