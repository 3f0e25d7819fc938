package mil

import (
	"errors"
	"testing"

	"variant-mil/models"
)

func imbalanced() ([][]float64, []models.Label) {
	var x [][]float64
	var y []models.Label
	for i := 0; i < 8; i++ {
		x = append(x, []float64{float64(i), -float64(i)})
		y = append(y, models.Benign)
	}
	for i := 0; i < 3; i++ {
		x = append(x, []float64{10 + float64(i), 20 + 2*float64(i)})
		y = append(y, models.Pathogenic)
	}
	return x, y
}

func TestOversamplerBalancesClasses(t *testing.T) {
	t.Parallel()

	x, y := imbalanced()
	res, err := NewOversampler(2, 1).FitResample(x, y)
	if err != nil {
		t.Fatalf("FitResample returned error: %v", err)
	}
	if len(res.X) != 16 || res.Synthetic != 5 {
		t.Fatalf("expected 16 rows with 5 synthetic, got %d rows, %d synthetic", len(res.X), res.Synthetic)
	}
	counts := map[models.Label]int{}
	for _, l := range res.Labels {
		counts[l]++
	}
	if counts[models.Benign] != 8 || counts[models.Pathogenic] != 8 {
		t.Fatalf("classes not balanced: %v", counts)
	}
	for i := range x {
		if res.X[i][0] != x[i][0] || res.X[i][1] != x[i][1] || res.Labels[i] != y[i] {
			t.Fatalf("original row %d not kept in place", i)
		}
	}
	for i := len(x); i < len(res.X); i++ {
		row := res.X[i]
		if res.Labels[i] != models.Pathogenic {
			t.Fatalf("synthetic row %d is not pathogenic", i)
		}
		// Minority frames lie on the line y = 2x; so do their interpolations.
		if row[0] < 10 || row[0] > 12 || row[1] != 2*row[0] {
			t.Fatalf("synthetic row %d = %v is not between minority frames", i, row)
		}
	}
	for i, l := range res.Labels {
		if res.OneHot[i][l] != 1 || res.OneHot[i][1-l] != 0 {
			t.Fatalf("one-hot row %d = %v for label %d", i, res.OneHot[i], l)
		}
	}
}

func TestOversamplerIsSeeded(t *testing.T) {
	t.Parallel()

	x, y := imbalanced()
	a, _ := NewOversampler(2, 9).FitResample(x, y)
	b, _ := NewOversampler(2, 9).FitResample(x, y)
	assertSameMatrix(t, a.X, b.X)
}

func TestOversamplerBalancedInputIsCopied(t *testing.T) {
	t.Parallel()

	x := [][]float64{{1}, {2}}
	y := []models.Label{models.Benign, models.Pathogenic}
	res, err := NewOversampler(5, 1).FitResample(x, y)
	if err != nil {
		t.Fatalf("FitResample returned error: %v", err)
	}
	if res.Synthetic != 0 || len(res.X) != 2 {
		t.Fatalf("balanced input should not grow: %+v", res)
	}
	res.X[0][0] = 99
	if x[0][0] != 1 {
		t.Fatalf("result shares memory with the input")
	}
}

func TestOversamplerNeedsEnoughMinority(t *testing.T) {
	t.Parallel()

	x, y := imbalanced()
	if _, err := NewOversampler(3, 1).FitResample(x, y); !errors.Is(err, models.ErrInsufficientSamples) {
		t.Fatalf("3 minority frames cannot support 3 neighbours, got %v", err)
	}
	if _, err := NewOversampler(2, 1).FitResample(x, y[:3]); !errors.Is(err, models.ErrDataShape) {
		t.Fatalf("label count mismatch should be ErrDataShape, got %v", err)
	}
}
