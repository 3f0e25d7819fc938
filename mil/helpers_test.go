package mil

import (
	"math"
	"testing"

	"variant-mil/config"
	"variant-mil/dataset"
	"variant-mil/models"
)

// bagsDataset builds variants whose frames sit near a centre with a small
// deterministic wobble, so tests do not depend on a random source.
func bagsDataset(frames int, centres map[string][]float64, labels map[string]models.Label, order []string) *dataset.Dataset {
	ds := &dataset.Dataset{Gene: "TEST"}
	for vi, id := range order {
		v := dataset.Variant{ID: id, Label: labels[id]}
		centre := centres[id]
		for i := 0; i < frames; i++ {
			f := make([]float64, len(centre))
			for j, c := range centre {
				f[j] = c + 0.1*math.Sin(float64(i*(j+2)+vi))
			}
			v.Frames = append(v.Frames, f)
		}
		ds.Variants = append(ds.Variants, v)
	}
	if err := ds.Validate(); err != nil {
		panic(err)
	}
	return ds
}

// smallConfig is a configuration sized for unit tests.
func smallConfig(method config.Method) *config.Config {
	cfg := config.Default()
	cfg.Gene = "TEST"
	cfg.Seed = 11
	cfg.Reduction.Method = method
	cfg.Reduction.Components = 2
	cfg.Reduction.Intermediate = 4
	cfg.Reduction.Autoencoder = config.AutoencoderConfig{Hidden: 1, Units: 8, Lag: 1}
	cfg.Reduction.Selector = config.SelectorConfig{Trees: 10, MinLeaf: 1, TestFraction: 0.25, Repeats: 2}
	cfg.Classifier = config.ClassifierConfig{Hidden: 1, Units: 8, Activation: "leaky_relu"}
	cfg.Training = config.TrainingConfig{Epochs: 30, BatchSize: 8, LearningRate: 0.01, ClassWeights: map[int]float64{0: 1, 1: 1}}
	cfg.Oversampling = config.OversamplingConfig{Enabled: false, Neighbors: 2}
	return cfg
}

func assertSameMatrix(t *testing.T, want, got [][]float64) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("row count differs: %d vs %d", len(want), len(got))
	}
	for i := range want {
		if len(want[i]) != len(got[i]) {
			t.Fatalf("row %d width differs: %d vs %d", i, len(want[i]), len(got[i]))
		}
		for j := range want[i] {
			if want[i][j] != got[i][j] {
				t.Fatalf("value differs at (%d,%d): %v vs %v", i, j, want[i][j], got[i][j])
			}
		}
	}
}

func columnStats(x [][]float64, j int) (mean, std float64) {
	for _, row := range x {
		mean += row[j]
	}
	mean /= float64(len(x))
	for _, row := range x {
		d := row[j] - mean
		std += d * d
	}
	return mean, math.Sqrt(std / float64(len(x)))
}

// threeVariants is the usual fixture: two benign variants around different
// centres and one pathogenic variant.
func threeVariants(frames int) *dataset.Dataset {
	return bagsDataset(frames,
		map[string][]float64{
			"wildtype": {0, 0, 1, 0},
			"b1":       {0.5, -0.5, 1, 0.2},
			"p1":       {2, 2, -1, 1},
		},
		map[string]models.Label{"wildtype": models.Benign, "b1": models.Benign, "p1": models.Pathogenic},
		[]string{"wildtype", "b1", "p1"})
}
