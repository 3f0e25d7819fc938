package mil

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"variant-mil/config"
	"variant-mil/models"
)

func separated() ([][]float64, [][]float64) {
	var x, y [][]float64
	for i := 0; i < 24; i++ {
		d := 0.1 * float64(i%6)
		if i%2 == 0 {
			x = append(x, []float64{-1 - d, -1 + d})
			y = append(y, []float64{1, 0})
		} else {
			x = append(x, []float64{1 + d, 1 - d})
			y = append(y, []float64{0, 1})
		}
	}
	return x, y
}

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	cfg := smallConfig(config.MethodLinear)
	c, err := NewClassifier(2, cfg.Classifier, cfg.Training.LearningRate, 7, nil)
	if err != nil {
		t.Fatalf("NewClassifier returned error: %v", err)
	}
	return c
}

func TestClassifierFitsAndOutputsDistributions(t *testing.T) {
	t.Parallel()

	x, y := separated()
	c := testClassifier(t)
	if _, err := c.Predict(x); !errors.Is(err, models.ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted before Fit, got %v", err)
	}
	losses, err := c.Fit(x, y, nil, 150, 8)
	if err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	if losses[len(losses)-1] >= losses[0] {
		t.Fatalf("loss did not decrease: %v -> %v", losses[0], losses[len(losses)-1])
	}
	probs, err := c.Predict(x)
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	for i, p := range probs {
		if math.Abs(p[0]+p[1]-1) > 1e-9 || p[0] < 0 || p[1] < 0 {
			t.Fatalf("row %d is not a distribution: %v", i, p)
		}
		if (p[1] > 0.5) != (y[i][1] == 1) {
			t.Fatalf("row %d misclassified: %v", i, p)
		}
	}
	if _, err := c.Predict([][]float64{{1, 2, 3}}); !errors.Is(err, models.ErrDataShape) {
		t.Fatalf("wrong width should be ErrDataShape, got %v", err)
	}
}

func TestClassWeightShiftsDecisions(t *testing.T) {
	t.Parallel()

	// Identical inputs with conflicting labels: the weighted class must win.
	x := [][]float64{{0, 0}, {0, 0}, {0, 0}, {0, 0}}
	y := [][]float64{{1, 0}, {0, 1}, {1, 0}, {0, 1}}
	c := testClassifier(t)
	weights := map[models.Label]float64{models.Benign: 1, models.Pathogenic: 4}
	if _, err := c.Fit(x, y, weights, 200, 4); err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	probs, err := c.Predict(x[:1])
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	if probs[0][1] < 0.65 {
		t.Fatalf("weighted pathogenic class should dominate, got %v", probs[0])
	}
}

func TestClassifierSaveLoad(t *testing.T) {
	t.Parallel()

	x, y := separated()
	c := testClassifier(t)
	if _, err := c.Fit(x, y, nil, 5, 8); err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	var buf bytes.Buffer
	if err := c.Save(&buf); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	restored, err := LoadClassifier(&buf, nil)
	if err != nil {
		t.Fatalf("LoadClassifier returned error: %v", err)
	}
	want, _ := c.Predict(x)
	got, err := restored.Predict(x)
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	assertSameMatrix(t, want, got)
}
