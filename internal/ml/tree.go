package ml

import (
	"math/rand"
	"sort"
)

// treeNode is one node of a regression tree. Leaves carry the mean target of
// the training rows that reached them.
type treeNode struct {
	Feature int       `json:"f"`
	Split   float64   `json:"s"`
	Value   float64   `json:"v"`
	Left    *treeNode `json:"l,omitempty"`
	Right   *treeNode `json:"r,omitempty"`
}

func (n *treeNode) isLeaf() bool { return n.Left == nil && n.Right == nil }

func (n *treeNode) predict(row []float64) float64 {
	for !n.isLeaf() {
		if row[n.Feature] <= n.Split {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

// treeParams controls regression tree growth.
type treeParams struct {
	maxDepth       int
	minSamplesLeaf int
	maxFeatures    int // 0 means consider all features
}

// buildTree grows a CART regression tree by variance reduction over the rows
// selected by idx. importances accumulates per-feature weighted impurity
// decrease when non-nil.
func buildTree(x [][]float64, y []float64, idx []int, depth int, p treeParams, rng *rand.Rand, importances []float64) *treeNode {
	node := &treeNode{Feature: -1, Value: meanAt(y, idx)}
	if depth >= p.maxDepth || len(idx) < 2*p.minSamplesLeaf {
		return node
	}

	parentVar := varianceAt(y, idx)
	if parentVar == 0 {
		return node
	}

	cols := len(x[0])
	features := featureSubset(cols, p.maxFeatures, rng)

	bestGain := 0.0
	bestFeature := -1
	bestSplit := 0.0
	var bestLeft, bestRight []int

	vals := make([]float64, len(idx))
	for _, f := range features {
		for i, id := range idx {
			vals[i] = x[id][f]
		}
		for _, split := range candidateSplits(vals) {
			var left, right []int
			for _, id := range idx {
				if x[id][f] <= split {
					left = append(left, id)
				} else {
					right = append(right, id)
				}
			}
			if len(left) < p.minSamplesLeaf || len(right) < p.minSamplesLeaf {
				continue
			}
			n := float64(len(idx))
			gain := parentVar -
				(float64(len(left))/n)*varianceAt(y, left) -
				(float64(len(right))/n)*varianceAt(y, right)
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestSplit = split
				bestLeft, bestRight = left, right
			}
		}
	}

	if bestFeature < 0 {
		return node
	}

	if importances != nil {
		importances[bestFeature] += bestGain * float64(len(idx))
	}

	node.Feature = bestFeature
	node.Split = bestSplit
	node.Left = buildTree(x, y, bestLeft, depth+1, p, rng, importances)
	node.Right = buildTree(x, y, bestRight, depth+1, p, rng, importances)
	return node
}

// candidateSplits returns midpoints between consecutive distinct sorted
// values, thinned to at most 16 candidates to bound growth cost.
func candidateSplits(vals []float64) []float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	var splits []float64
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			splits = append(splits, (sorted[i]+sorted[i-1])/2)
		}
	}
	if len(splits) > 16 {
		step := len(splits) / 16
		thinned := make([]float64, 0, 16)
		for i := 0; i < len(splits); i += step {
			thinned = append(thinned, splits[i])
		}
		splits = thinned
	}
	return splits
}

func featureSubset(cols, maxFeatures int, rng *rand.Rand) []int {
	all := make([]int, cols)
	for i := range all {
		all[i] = i
	}
	if maxFeatures <= 0 || maxFeatures >= cols {
		return all
	}
	rng.Shuffle(cols, func(i, j int) { all[i], all[j] = all[j], all[i] })
	subset := all[:maxFeatures]
	sort.Ints(subset)
	return subset
}

func meanAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, id := range idx {
		sum += y[id]
	}
	return sum / float64(len(idx))
}

func varianceAt(y []float64, idx []int) float64 {
	if len(idx) < 2 {
		return 0
	}
	m := meanAt(y, idx)
	var sum float64
	for _, id := range idx {
		d := y[id] - m
		sum += d * d
	}
	return sum / float64(len(idx))
}
