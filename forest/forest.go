// Package forest implements a random forest of CART classification trees and
// permutation feature importance. The selector reducer uses it to rank
// compressed dimensions by how well they tell variants apart.
package forest

import (
	"math"
	"math/rand"
	"sort"

	"github.com/mdobak/go-xerrors"

	"variant-mil/models"
)

// Options configures forest training.
type Options struct {
	Trees int
	// MaxDepth limits the number of splits on any path; 0 means unlimited.
	MaxDepth int
	// MinLeaf is the minimum number of samples in each leaf.
	MinLeaf int
	// MaxFeatures is the number of candidate features per split; 0 means sqrt(d).
	MaxFeatures int
}

// Forest is an ensemble of trees whose class distributions are averaged.
type Forest struct {
	Trees   []Tree `json:"trees"`
	Classes int    `json:"classes"`
}

// Fit trains a forest on bootstrap samples of (x, y). Labels must lie in
// [0, classes).
func Fit(x [][]float64, y []int, classes int, opts Options, rng *rand.Rand) (*Forest, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, xerrors.Newf("forest needs matching non-empty samples, got %d rows and %d labels: %w",
			len(x), len(y), models.ErrDataShape)
	}
	if opts.Trees <= 0 {
		return nil, xerrors.Newf("forest needs at least one tree: %w", models.ErrConfiguration)
	}
	if opts.MinLeaf <= 0 {
		opts.MinLeaf = 1
	}
	width := len(x[0])
	for i, row := range x {
		if len(row) != width {
			return nil, xerrors.Newf("row %d has %d features, expected %d: %w", i, len(row), width, models.ErrDataShape)
		}
		if y[i] < 0 || y[i] >= classes {
			return nil, xerrors.Newf("label %d outside [0, %d): %w", y[i], classes, models.ErrDataShape)
		}
	}
	if opts.MaxFeatures <= 0 || opts.MaxFeatures > width {
		opts.MaxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(width)))))
	}

	f := &Forest{Classes: classes}
	for t := 0; t < opts.Trees; t++ {
		sample := make([]int, len(x))
		for i := range sample {
			sample[i] = rng.Intn(len(x))
		}
		b := &builder{x: x, y: y, classes: classes, opts: opts, rng: rng}
		b.tree.FeatureSize = width
		b.grow(sample, 0)
		f.Trees = append(f.Trees, b.tree)
	}
	return f, nil
}

// Probabilities averages the class distributions of all trees.
func (f *Forest) Probabilities(x []float64) []float64 {
	out := make([]float64, f.Classes)
	for i := range f.Trees {
		for c, p := range f.Trees[i].Probabilities(x) {
			out[c] += p
		}
	}
	for c := range out {
		out[c] /= float64(len(f.Trees))
	}
	return out
}

// Predict returns the most probable class; ties go to the lower class index.
func (f *Forest) Predict(x []float64) int {
	probs := f.Probabilities(x)
	best := 0
	for c, p := range probs {
		if p > probs[best] {
			best = c
		}
	}
	return best
}

// Score is the accuracy of the forest on (x, y).
func (f *Forest) Score(x [][]float64, y []int) float64 {
	if len(x) == 0 {
		return 0
	}
	correct := 0
	for i, row := range x {
		if f.Predict(row) == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(x))
}

type builder struct {
	x       [][]float64
	y       []int
	classes int
	opts    Options
	rng     *rand.Rand
	tree    Tree
}

type split struct {
	feature   int
	threshold float64
	gain      float64
}

// grow adds the subtree for samples and returns its index and whether it is
// a leaf.
func (b *builder) grow(samples []int, depth int) (int, bool) {
	counts := b.counts(samples)
	if depth > b.tree.Depth {
		b.tree.Depth = depth
	}
	if pure(counts) || (b.opts.MaxDepth > 0 && depth >= b.opts.MaxDepth) || len(samples) < 2*b.opts.MinLeaf {
		return b.leaf(counts), true
	}

	s, ok := b.bestSplit(samples, counts)
	if !ok {
		return b.leaf(counts), true
	}

	var left, right []int
	for _, i := range samples {
		if b.x[i][s.feature] < s.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	idx := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, Node{FeatureIndex: s.feature, Threshold: s.threshold})
	l, lLeaf := b.grow(left, depth+1)
	r, rLeaf := b.grow(right, depth+1)
	node := &b.tree.Nodes[idx]
	node.LeftChild, node.LeftIsLeaf = l, lLeaf
	node.RightChild, node.RightIsLeaf = r, rLeaf
	return idx, false
}

func (b *builder) leaf(counts []float64) int {
	var total float64
	for _, c := range counts {
		total += c
	}
	dist := make([]float64, len(counts))
	for i, c := range counts {
		dist[i] = c / total
	}
	b.tree.Leaves = append(b.tree.Leaves, dist)
	return len(b.tree.Leaves) - 1
}

func (b *builder) counts(samples []int) []float64 {
	counts := make([]float64, b.classes)
	for _, i := range samples {
		counts[b.y[i]]++
	}
	return counts
}

// bestSplit scans random features until MaxFeatures non-constant ones have
// been evaluated and returns the split with the largest Gini decrease.
func (b *builder) bestSplit(samples []int, counts []float64) (split, bool) {
	n := float64(len(samples))
	parent := gini(counts, n)
	best := split{gain: 0}
	found := false
	visited := 0

	order := make([]int, len(samples))
	for _, feature := range b.rng.Perm(b.tree.FeatureSize) {
		if visited >= b.opts.MaxFeatures {
			break
		}
		copy(order, samples)
		sort.SliceStable(order, func(i, j int) bool { return b.x[order[i]][feature] < b.x[order[j]][feature] })
		if b.x[order[0]][feature] == b.x[order[len(order)-1]][feature] {
			continue
		}
		visited++

		left := make([]float64, b.classes)
		right := append([]float64(nil), counts...)
		for k := 0; k < len(order)-1; k++ {
			c := b.y[order[k]]
			left[c]++
			right[c]--
			lo, hi := b.x[order[k]][feature], b.x[order[k+1]][feature]
			if lo == hi {
				continue
			}
			nl := float64(k + 1)
			nr := n - nl
			if int(nl) < b.opts.MinLeaf || int(nr) < b.opts.MinLeaf {
				continue
			}
			gain := parent - (nl/n)*gini(left, nl) - (nr/n)*gini(right, nr)
			if gain > best.gain {
				threshold := (lo + hi) / 2
				if threshold <= lo {
					threshold = hi
				}
				best = split{feature: feature, threshold: threshold, gain: gain}
				found = true
			}
		}
	}
	return best, found
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := c / n
		g -= p * p
	}
	return g
}

func pure(counts []float64) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}
