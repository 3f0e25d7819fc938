package dataset

import (
	"fmt"
	"math/rand"

	"github.com/mdobak/go-xerrors"

	"variant-mil/models"
)

// SyntheticOptions describes a generated gene. Each variant's frames follow
// a slow random walk around a class centre, so frames of one variant are
// correlated in time the way trajectory frames are.
type SyntheticOptions struct {
	Gene       string
	Benign     int
	Pathogenic int
	Wildtype   bool
	Frames     int
	Features   int
	// Separation is the distance between class centres along each feature.
	Separation float64
	// Noise is the per-frame Gaussian jitter.
	Noise float64
	// Drift is the step size of the per-variant random walk.
	Drift float64
}

// Synthesize generates a dataset from opts using rng.
func Synthesize(opts SyntheticOptions, rng *rand.Rand) (*Dataset, error) {
	if opts.Frames <= 0 || opts.Features <= 0 {
		return nil, xerrors.Newf("synthetic data needs frames and features, got %d x %d: %w",
			opts.Frames, opts.Features, models.ErrConfiguration)
	}
	if opts.Benign+opts.Pathogenic == 0 {
		return nil, xerrors.Newf("synthetic data needs at least one variant: %w", models.ErrConfiguration)
	}

	d := &Dataset{Gene: opts.Gene, FramesPerVariant: opts.Frames, FeatureDim: opts.Features}
	add := func(id string, label models.Label) {
		sign := -1.0
		if label == models.Pathogenic {
			sign = 1
		}
		pos := make([]float64, opts.Features)
		for j := range pos {
			pos[j] = sign*opts.Separation/2 + rng.NormFloat64()*opts.Noise
		}
		v := Variant{ID: id, Label: label}
		for i := 0; i < opts.Frames; i++ {
			frame := make([]float64, opts.Features)
			for j := range frame {
				pos[j] += rng.NormFloat64() * opts.Drift
				frame[j] = pos[j] + rng.NormFloat64()*opts.Noise
			}
			v.Frames = append(v.Frames, frame)
		}
		d.Variants = append(d.Variants, v)
	}

	if opts.Wildtype {
		add(models.WildtypeMarker, models.Benign)
	}
	for i := 0; i < opts.Benign; i++ {
		add(fmt.Sprintf("b%03d", i+1), models.Benign)
	}
	for i := 0; i < opts.Pathogenic; i++ {
		add(fmt.Sprintf("p%03d", i+1), models.Pathogenic)
	}
	return d, nil
}
