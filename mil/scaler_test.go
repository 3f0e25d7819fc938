package mil

import (
	"errors"
	"math"
	"testing"

	"variant-mil/models"
)

func TestScalerStandardisesColumns(t *testing.T) {
	t.Parallel()

	x := [][]float64{{1, 10, 5}, {2, 20, 5}, {3, 30, 5}, {4, 40, 5}}
	var s Scaler
	out, err := s.FitTransform(x)
	if err != nil {
		t.Fatalf("FitTransform returned error: %v", err)
	}
	for j := 0; j < 2; j++ {
		mean, std := columnStats(out, j)
		if math.Abs(mean) > 1e-12 || math.Abs(std-1) > 1e-12 {
			t.Fatalf("column %d: mean=%g std=%g", j, mean, std)
		}
	}
	for i := range out {
		if out[i][2] != 0 {
			t.Fatalf("constant column should map to 0, got %v", out[i][2])
		}
	}
	if x[0][0] != 1 {
		t.Fatalf("input was modified")
	}
}

func TestScalerRoundTripsThroughMeanAndStd(t *testing.T) {
	t.Parallel()

	x := [][]float64{{-3, 0.5}, {7, 1.5}, {2, -2}}
	var s Scaler
	out, err := s.FitTransform(x)
	if err != nil {
		t.Fatalf("FitTransform returned error: %v", err)
	}
	for i := range x {
		for j := range x[i] {
			back := out[i][j]*s.Stddev[j] + s.Mean[j]
			if math.Abs(back-x[i][j]) > 1e-12 {
				t.Fatalf("(%d,%d): %g != %g", i, j, back, x[i][j])
			}
		}
	}
}

func TestScalerErrors(t *testing.T) {
	t.Parallel()

	var s Scaler
	if _, err := s.Transform([][]float64{{1}}); !errors.Is(err, models.ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
	if err := s.Fit(nil); !errors.Is(err, models.ErrDataShape) {
		t.Fatalf("empty fit should be ErrDataShape, got %v", err)
	}
	if err := s.Fit([][]float64{{1, 2}, {3}}); !errors.Is(err, models.ErrDataShape) {
		t.Fatalf("ragged fit should be ErrDataShape, got %v", err)
	}
	if err := s.Fit([][]float64{{1, 2}, {3, 4}}); err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	if _, err := s.Transform([][]float64{{1, 2, 3}}); !errors.Is(err, models.ErrDataShape) {
		t.Fatalf("wrong width should be ErrDataShape, got %v", err)
	}
}
