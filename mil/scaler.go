package mil

// Feature standardisation
//
// Raw MD descriptors mix angles, distances and contact counts whose scales
// differ by orders of magnitude, and the learned embeddings come out of the
// reducers with arbitrary scale as well. The pipeline therefore standardises
// twice: once on the raw frames and once on the embeddings, each with its own
// Scaler fitted on the training frames only.

import (
	"github.com/mdobak/go-xerrors"
	"gonum.org/v1/gonum/stat"

	"variant-mil/models"
)

// minStddev keeps constant columns from dividing by zero.
const minStddev = 1e-10

// Scaler standardises features column-wise to zero mean and unit variance.
type Scaler struct {
	Mean   []float64 `json:"mean" msgpack:"mean"`
	Stddev []float64 `json:"stddev" msgpack:"stddev"`
}

// Fitted reports whether Fit has been called.
func (s *Scaler) Fitted() bool {
	return s != nil && len(s.Mean) > 0
}

// Fit computes the per-column mean and population standard deviation of x.
func (s *Scaler) Fit(x [][]float64) error {
	width, err := matrixWidth(x)
	if err != nil {
		return err
	}

	mean := make([]float64, width)
	stddev := make([]float64, width)
	column := make([]float64, len(x))
	for j := 0; j < width; j++ {
		for i, row := range x {
			column[i] = row[j]
		}
		mean[j], stddev[j] = stat.PopMeanStdDev(column, nil)
		if stddev[j] < minStddev {
			stddev[j] = 1.0
		}
	}

	s.Mean = mean
	s.Stddev = stddev
	return nil
}

// Transform returns (x - mean) / stddev for every row; x is not modified.
func (s *Scaler) Transform(x [][]float64) ([][]float64, error) {
	if !s.Fitted() {
		return nil, xerrors.Newf("scaler transform: %w", models.ErrNotFitted)
	}
	if err := checkWidth(x, len(s.Mean)); err != nil {
		return nil, err
	}

	scaled := make([][]float64, len(x))
	for i, row := range x {
		out := make([]float64, len(row))
		for j, val := range row {
			out[j] = (val - s.Mean[j]) / s.Stddev[j]
		}
		scaled[i] = out
	}
	return scaled, nil
}

// FitTransform fits on x and returns its standardised copy.
func (s *Scaler) FitTransform(x [][]float64) ([][]float64, error) {
	if err := s.Fit(x); err != nil {
		return nil, err
	}
	return s.Transform(x)
}

// matrixWidth validates that x is non-empty and rectangular and returns its
// column count.
func matrixWidth(x [][]float64) (int, error) {
	if len(x) == 0 {
		return 0, xerrors.Newf("empty matrix: %w", models.ErrDataShape)
	}
	width := len(x[0])
	if width == 0 {
		return 0, xerrors.Newf("matrix has no columns: %w", models.ErrDataShape)
	}
	if err := checkWidth(x, width); err != nil {
		return 0, err
	}
	return width, nil
}

func checkWidth(x [][]float64, width int) error {
	for i, row := range x {
		if len(row) != width {
			return xerrors.Newf("row %d has %d columns, expected %d: %w", i, len(row), width, models.ErrDataShape)
		}
	}
	return nil
}

func copyMatrix(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
