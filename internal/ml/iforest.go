package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// eulerGamma is the Euler–Mascheroni constant used by the harmonic
// number approximation in averagePathLength.
const eulerGamma = 0.5772156649015329

// ForestParams configures an isolation forest.
type ForestParams struct {
	Trees         int
	MaxSamples    int
	Contamination float64
	Seed          uint64
}

// DefaultForestParams mirrors the conventional isolation forest defaults
// with a 1% contamination rate.
func DefaultForestParams() ForestParams {
	return ForestParams{
		Trees:         100,
		MaxSamples:    256,
		Contamination: 0.01,
		Seed:          0,
	}
}

// IsolationForest is an ensemble of random partitioning trees. Points that
// are isolated after few splits receive a low (more negative) score.
type IsolationForest struct {
	Params      ForestParams `json:"params"`
	NumFeatures int          `json:"num_features"`
	SampleSize  int          `json:"sample_size"`
	Offset      float64      `json:"offset"`
	Trees       [][]node     `json:"trees"`
}

// node is one element of a flattened tree. Index 0 is the root, so a zero
// Left marks a leaf.
type node struct {
	Feature int     `json:"f,omitempty"`
	Split   float64 `json:"s,omitempty"`
	Left    int     `json:"l,omitempty"`
	Right   int     `json:"r,omitempty"`
	Size    int     `json:"n,omitempty"`
}

// FitForest trains a forest on rows of data and sets the decision offset so
// that the Contamination share of training points scores below it.
func FitForest(data [][]float64, params ForestParams) (*IsolationForest, error) {
	n := len(data)
	if n == 0 {
		return nil, errors.New("fit forest: no samples")
	}
	if params.Trees <= 0 || params.MaxSamples <= 0 {
		return nil, fmt.Errorf("fit forest: invalid params %+v", params)
	}
	if params.Contamination <= 0 || params.Contamination > 0.5 {
		return nil, fmt.Errorf("fit forest: contamination %v out of range (0, 0.5]", params.Contamination)
	}
	nf := len(data[0])
	for i, row := range data {
		if len(row) != nf || nf == 0 {
			return nil, fmt.Errorf("fit forest: row %d has %d features, want %d", i, len(row), nf)
		}
	}

	psi := min(params.MaxSamples, n)
	maxDepth := int(math.Ceil(math.Log2(float64(max(psi, 2)))))
	rng := rand.New(rand.NewPCG(params.Seed, params.Seed))

	f := &IsolationForest{
		Params:      params,
		NumFeatures: nf,
		SampleSize:  psi,
		Trees:       make([][]node, params.Trees),
	}
	for t := range f.Trees {
		idx := rng.Perm(n)[:psi]
		b := treeBuilder{data: data, rng: rng, maxDepth: maxDepth}
		b.build(idx, 0)
		f.Trees[t] = b.nodes
	}

	scores := f.ScoreSamples(data)
	f.Offset = percentile(scores, 100*params.Contamination)
	return f, nil
}

// ScoreSamples returns the negated anomaly score of each row, in [-1, 0).
// Lower is more anomalous.
func (f *IsolationForest) ScoreSamples(data [][]float64) []float64 {
	norm := averagePathLength(f.SampleSize)
	out := make([]float64, len(data))
	for i, row := range data {
		var total float64
		for _, tree := range f.Trees {
			total += pathLength(tree, row)
		}
		mean := total / float64(len(f.Trees))
		if norm == 0 {
			out[i] = -1
			continue
		}
		out[i] = -math.Pow(2, -mean/norm)
	}
	return out
}

// Predict labels each row -1 (outlier) or 1 (inlier).
func (f *IsolationForest) Predict(data [][]float64) ([]int, error) {
	for i, row := range data {
		if len(row) != f.NumFeatures {
			return nil, fmt.Errorf("predict: row %d has %d features, want %d", i, len(row), f.NumFeatures)
		}
	}
	scores := f.ScoreSamples(data)
	labels := make([]int, len(scores))
	for i, s := range scores {
		if s < f.Offset {
			labels[i] = -1
		} else {
			labels[i] = 1
		}
	}
	return labels, nil
}

// Column reshapes a series into a single-feature matrix.
func Column(values []float64) [][]float64 {
	out := make([][]float64, len(values))
	for i, v := range values {
		out[i] = []float64{v}
	}
	return out
}

type treeBuilder struct {
	data     [][]float64
	rng      *rand.Rand
	maxDepth int
	nodes    []node
}

func (b *treeBuilder) build(idx []int, depth int) int {
	at := len(b.nodes)
	b.nodes = append(b.nodes, node{Size: len(idx)})
	if depth >= b.maxDepth || len(idx) <= 1 {
		return at
	}

	feature, lo, hi, ok := b.pickFeature(idx)
	if !ok {
		return at
	}
	split := lo + b.rng.Float64()*(hi-lo)

	var left, right []int
	for _, i := range idx {
		if b.data[i][feature] <= split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return at
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[at] = node{Feature: feature, Split: split, Left: l, Right: r}
	return at
}

// pickFeature draws features in random order until one has a non-zero range.
func (b *treeBuilder) pickFeature(idx []int) (feature int, lo, hi float64, ok bool) {
	for _, f := range b.rng.Perm(len(b.data[idx[0]])) {
		lo, hi = math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := b.data[i][f]
			lo = min(lo, v)
			hi = max(hi, v)
		}
		if hi > lo {
			return f, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

func pathLength(tree []node, row []float64) float64 {
	i, depth := 0, 0
	for tree[i].Left != 0 {
		if row[tree[i].Feature] <= tree[i].Split {
			i = tree[i].Left
		} else {
			i = tree[i].Right
		}
		depth++
	}
	return float64(depth) + averagePathLength(tree[i].Size)
}

// averagePathLength is the expected path length of an unsuccessful search
// in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := min(lo+1, len(sorted)-1)
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
