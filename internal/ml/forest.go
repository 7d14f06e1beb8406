package ml

import (
	"math"
	"math/rand"

	"github.com/rotisserie/eris"
)

// RandomForest is a bagged ensemble of regression trees with per-tree
// bootstrap samples and random feature subsets.
type RandomForest struct {
	NumTrees       int   `json:"num_trees"`
	MaxDepth       int   `json:"max_depth"`
	MinSamplesLeaf int   `json:"min_samples_leaf"`
	Seed           int64 `json:"seed"`

	Trees       []*treeNode `json:"trees,omitempty"`
	Importances []float64   `json:"importances,omitempty"`
	Trained     bool        `json:"trained"`
}

// NewRandomForest returns a forest with 100 trees and a fixed seed.
func NewRandomForest() *RandomForest {
	return &RandomForest{
		NumTrees:       100,
		MaxDepth:       8,
		MinSamplesLeaf: 1,
		Seed:           42,
	}
}

// Fit trains the ensemble and records normalized feature importances.
func (f *RandomForest) Fit(x [][]float64, y []float64) error {
	if len(x) == 0 || len(x) != len(y) {
		return eris.New("ml: random forest fit on empty or mismatched dataset")
	}

	rng := rand.New(rand.NewSource(f.Seed))
	cols := len(x[0])
	maxFeatures := int(math.Max(1, math.Round(math.Sqrt(float64(cols)))))
	params := treeParams{maxDepth: f.MaxDepth, minSamplesLeaf: f.MinSamplesLeaf, maxFeatures: maxFeatures}

	f.Trees = make([]*treeNode, f.NumTrees)
	f.Importances = make([]float64, cols)
	idx := make([]int, len(x))
	for t := 0; t < f.NumTrees; t++ {
		for i := range idx {
			idx[i] = rng.Intn(len(x))
		}
		f.Trees[t] = buildTree(x, y, idx, 0, params, rng, f.Importances)
	}

	var total float64
	for _, imp := range f.Importances {
		total += imp
	}
	if total > 0 {
		for i := range f.Importances {
			f.Importances[i] /= total
		}
	}

	f.Trained = true
	return nil
}

// Predict returns the ensemble mean for one feature vector.
func (f *RandomForest) Predict(row []float64) (float64, error) {
	if !f.Trained || len(f.Trees) == 0 {
		return 0, eris.New("ml: random forest not trained")
	}
	var sum float64
	for _, tree := range f.Trees {
		sum += tree.predict(row)
	}
	return sum / float64(len(f.Trees)), nil
}

// GradientBoosting is a stagewise additive ensemble of shallow regression
// trees fit to residuals.
type GradientBoosting struct {
	Stages       int     `json:"stages"`
	LearningRate float64 `json:"learning_rate"`
	MaxDepth     int     `json:"max_depth"`
	Seed         int64   `json:"seed"`

	Init    float64     `json:"init"`
	Trees   []*treeNode `json:"trees,omitempty"`
	Trained bool        `json:"trained"`
}

// NewGradientBoosting returns an estimator with 100 stages, learning rate
// 0.1, depth 3, and a fixed seed.
func NewGradientBoosting() *GradientBoosting {
	return &GradientBoosting{
		Stages:       100,
		LearningRate: 0.1,
		MaxDepth:     3,
		Seed:         42,
	}
}

// Fit trains the boosted ensemble on squared-error residuals.
func (g *GradientBoosting) Fit(x [][]float64, y []float64) error {
	if len(x) == 0 || len(x) != len(y) {
		return eris.New("ml: gradient boosting fit on empty or mismatched dataset")
	}

	rng := rand.New(rand.NewSource(g.Seed))
	params := treeParams{maxDepth: g.MaxDepth, minSamplesLeaf: 2}

	g.Init = Mean(y)
	pred := make([]float64, len(y))
	residual := make([]float64, len(y))
	for i := range pred {
		pred[i] = g.Init
	}

	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}

	g.Trees = make([]*treeNode, 0, g.Stages)
	for stage := 0; stage < g.Stages; stage++ {
		for i := range y {
			residual[i] = y[i] - pred[i]
		}
		tree := buildTree(x, residual, idx, 0, params, rng, nil)
		g.Trees = append(g.Trees, tree)
		for i := range pred {
			pred[i] += g.LearningRate * tree.predict(x[i])
		}
	}

	g.Trained = true
	return nil
}

// Predict returns the boosted estimate for one feature vector.
func (g *GradientBoosting) Predict(row []float64) (float64, error) {
	if !g.Trained {
		return 0, eris.New("ml: gradient boosting not trained")
	}
	out := g.Init
	for _, tree := range g.Trees {
		out += g.LearningRate * tree.predict(row)
	}
	return out, nil
}
