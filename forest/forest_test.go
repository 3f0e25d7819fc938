package forest

import (
	"math/rand"
	"testing"
)

// twoBlobs builds samples whose class depends only on feature 0; feature 1
// is noise.
func twoBlobs(rng *rand.Rand, n int) ([][]float64, []int) {
	x := make([][]float64, n)
	y := make([]int, n)
	for i := range x {
		class := i % 2
		centre := -2.0
		if class == 1 {
			centre = 2.0
		}
		x[i] = []float64{centre + rng.NormFloat64()*0.3, rng.NormFloat64()}
		y[i] = class
	}
	return x, y
}

func TestDepthOneTree(t *testing.T) {
	t.Parallel()

	tree := Tree{
		Nodes:       []Node{{FeatureIndex: 0, Threshold: 2.5, LeftChild: 0, LeftIsLeaf: true, RightChild: 1, RightIsLeaf: true}},
		Leaves:      [][]float64{{1, 0}, {0, 1}},
		FeatureSize: 2,
		Depth:       1,
	}
	if got := tree.Bin([]float64{1, 0}); got != 0 {
		t.Fatalf("expected bin 0, got %d", got)
	}
	if got := tree.Probabilities([]float64{5, 0}); got[1] != 1 {
		t.Fatalf("expected right leaf distribution, got %v", got)
	}
}

func TestForestSeparatesBlobs(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	x, y := twoBlobs(rng, 200)
	f, err := Fit(x, y, 2, Options{Trees: 10}, rng)
	if err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	xt, yt := twoBlobs(rng, 100)
	if acc := f.Score(xt, yt); acc < 0.95 {
		t.Fatalf("expected accuracy >= 0.95, got %.3f", acc)
	}
	for _, row := range xt[:5] {
		var sum float64
		for _, p := range f.Probabilities(row) {
			sum += p
		}
		if sum < 0.999999 || sum > 1.000001 {
			t.Fatalf("probabilities do not sum to 1: %f", sum)
		}
	}
}

func TestSingleClassForestIsALeaf(t *testing.T) {
	t.Parallel()

	x := [][]float64{{1, 2}, {3, 4}, {5, 6}}
	y := []int{1, 1, 1}
	f, err := Fit(x, y, 3, Options{Trees: 2}, rand.New(rand.NewSource(0)))
	if err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	if got := f.Predict([]float64{0, 0}); got != 1 {
		t.Fatalf("expected class 1, got %d", got)
	}
	if len(f.Trees[0].Nodes) != 0 {
		t.Fatalf("expected a leaf-only tree, got %d nodes", len(f.Trees[0].Nodes))
	}
}

func TestPermutationImportancePrefersInformativeFeature(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	x, y := twoBlobs(rng, 200)
	f, err := Fit(x, y, 2, Options{Trees: 20, MaxFeatures: 2}, rng)
	if err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	xt, yt := twoBlobs(rng, 100)
	imp := PermutationImportance(f, xt, yt, 5, rng)
	if len(imp) != 2 {
		t.Fatalf("expected 2 importances, got %d", len(imp))
	}
	if imp[0].Mean <= imp[1].Mean {
		t.Fatalf("informative feature should rank higher: %+v", imp)
	}
	ranked := Rank(imp)
	if ranked[0].Feature != 0 {
		t.Fatalf("expected feature 0 first, got %+v", ranked)
	}
}

func TestFitRejectsBadLabels(t *testing.T) {
	t.Parallel()

	_, err := Fit([][]float64{{1}}, []int{4}, 2, Options{Trees: 1}, rand.New(rand.NewSource(0)))
	if err == nil {
		t.Fatalf("expected error for out-of-range label")
	}
}
