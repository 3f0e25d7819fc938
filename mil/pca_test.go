package mil

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"variant-mil/models"
)

func TestPCAFindsDominantAxis(t *testing.T) {
	t.Parallel()

	var x [][]float64
	for i := 0; i < 20; i++ {
		v := float64(i) - 9.5
		x = append(x, []float64{v, v, 0.01 * math.Sin(float64(i))})
	}
	p := NewPCA(2, false)
	if err := p.Fit(x, nil); err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	explained := p.ExplainedVariance()
	if explained[0] < 0.99 {
		t.Fatalf("first component should explain almost everything, got %v", explained)
	}
	out, err := p.Transform(x)
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	if len(out[0]) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(out[0]))
	}
	// Largest loading is positive, so the projection grows with v.
	if out[19][0] <= out[0][0] {
		t.Fatalf("sign of the first axis is not fixed: %v .. %v", out[0][0], out[19][0])
	}
	want := (19 - 9.5) * math.Sqrt2
	if math.Abs(out[19][0]-want) > 1e-3 {
		t.Fatalf("projection %v, want %v", out[19][0], want)
	}
}

func TestPCAWhitenGivesUnitVariance(t *testing.T) {
	t.Parallel()

	x := threeVariants(6).Matrix()
	p := NewPCA(2, true)
	if err := p.Fit(x, nil); err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	out, err := p.Transform(x)
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	for j := 0; j < 2; j++ {
		if _, std := columnStats(out, j); math.Abs(std-1) > 1e-9 {
			t.Fatalf("column %d std %g", j, std)
		}
	}
}

func TestPCASaveLoad(t *testing.T) {
	t.Parallel()

	x := threeVariants(5).Matrix()
	p := NewPCA(3, true)
	if err := p.Fit(x, nil); err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	var buf bytes.Buffer
	if err := p.Save(&buf); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	restored := NewPCA(0, false)
	if err := restored.Load(&buf); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want, _ := p.Transform(x)
	got, err := restored.Transform(x)
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	assertSameMatrix(t, want, got)
}

func TestPCARejectsTooManyComponents(t *testing.T) {
	t.Parallel()

	p := NewPCA(3, false)
	if err := p.Fit([][]float64{{1, 2}, {3, 4}, {5, 7}}, nil); !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if _, err := NewPCA(1, false).Transform([][]float64{{1}}); !errors.Is(err, models.ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
}
