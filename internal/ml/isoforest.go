package ml

import (
	"math"
	"math/rand"

	"github.com/rotisserie/eris"
)

// isoNode is one node of an isolation tree. Leaves record the number of
// training points that reached them so path lengths can be adjusted.
type isoNode struct {
	Feature float64  `json:"f,omitempty"` // split feature index, as float for compact JSON
	Split   float64  `json:"s,omitempty"`
	Left    *isoNode `json:"l,omitempty"`
	Right   *isoNode `json:"r,omitempty"`
	Size    int      `json:"n,omitempty"` // leaf only
}

// IsolationForest flags anomalous rows by how quickly random recursive
// partitioning isolates them. Points with shorter average path lengths score
// higher. Scores are oriented so that larger always means more anomalous.
type IsolationForest struct {
	NumTrees      int     `json:"num_trees"`
	SubsampleSize int     `json:"subsample_size"`
	Contamination float64 `json:"contamination"`
	Seed          int64   `json:"seed"`

	Trees     []*isoNode `json:"trees,omitempty"`
	Threshold float64    `json:"threshold"`
	Trained   bool       `json:"trained"`
}

// NewIsolationForest returns a forest with the standard ensemble parameters:
// 100 trees, 5% contamination prior, and a fixed seed.
func NewIsolationForest() *IsolationForest {
	return &IsolationForest{
		NumTrees:      100,
		SubsampleSize: 256,
		Contamination: 0.05,
		Seed:          42,
	}
}

// Fit builds the ensemble and calibrates the anomaly threshold at the
// (1 - contamination) quantile of the training scores.
func (f *IsolationForest) Fit(rows [][]float64) error {
	if len(rows) == 0 {
		return eris.New("ml: isolation forest fit on empty dataset")
	}

	rng := rand.New(rand.NewSource(f.Seed))
	sub := f.SubsampleSize
	if sub > len(rows) {
		sub = len(rows)
	}
	heightLimit := int(math.Ceil(math.Log2(math.Max(2, float64(sub)))))

	f.Trees = make([]*isoNode, f.NumTrees)
	idx := make([]int, sub)
	for t := 0; t < f.NumTrees; t++ {
		for i := range idx {
			idx[i] = rng.Intn(len(rows))
		}
		sample := make([][]float64, sub)
		for i, id := range idx {
			sample[i] = rows[id]
		}
		f.Trees[t] = buildIsoTree(sample, 0, heightLimit, rng)
	}
	f.Trained = true

	scores := f.Scores(rows)
	f.Threshold = Percentile(scores, (1-f.Contamination)*100)
	return nil
}

// Scores returns one anomaly score per row in [0, 1], higher meaning more
// anomalous. This inverts the usual decision-function sign convention.
func (f *IsolationForest) Scores(rows [][]float64) []float64 {
	scores := make([]float64, len(rows))
	if !f.Trained || len(f.Trees) == 0 {
		return scores
	}
	sub := f.SubsampleSize
	c := avgPathLength(sub)
	for i, row := range rows {
		var total float64
		for _, tree := range f.Trees {
			total += pathLength(tree, row, 0)
		}
		mean := total / float64(len(f.Trees))
		scores[i] = math.Pow(2, -mean/c)
	}
	return scores
}

// Predict returns one flag per row, true meaning anomalous.
func (f *IsolationForest) Predict(rows [][]float64) ([]bool, error) {
	if !f.Trained {
		return nil, eris.New("ml: isolation forest not trained")
	}
	scores := f.Scores(rows)
	flags := make([]bool, len(rows))
	for i, s := range scores {
		flags[i] = s >= f.Threshold
	}
	return flags, nil
}

func buildIsoTree(rows [][]float64, depth, heightLimit int, rng *rand.Rand) *isoNode {
	if len(rows) <= 1 || depth >= heightLimit {
		return &isoNode{Size: maxInt(len(rows), 1)}
	}

	cols := len(rows[0])
	feature := rng.Intn(cols)

	lo, hi := rows[0][feature], rows[0][feature]
	for _, row := range rows {
		if row[feature] < lo {
			lo = row[feature]
		}
		if row[feature] > hi {
			hi = row[feature]
		}
	}
	if hi == lo {
		return &isoNode{Size: len(rows)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, row := range rows {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{Size: len(rows)}
	}

	return &isoNode{
		Feature: float64(feature),
		Split:   split,
		Left:    buildIsoTree(left, depth+1, heightLimit, rng),
		Right:   buildIsoTree(right, depth+1, heightLimit, rng),
	}
}

func pathLength(n *isoNode, row []float64, depth float64) float64 {
	if n.Left == nil && n.Right == nil {
		return depth + avgPathLength(n.Size)
	}
	if row[int(n.Feature)] < n.Split {
		return pathLength(n.Left, row, depth+1)
	}
	return pathLength(n.Right, row, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n points.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
