package mil

import (
	"io"
	"math"

	"github.com/mdobak/go-xerrors"
	"gonum.org/v1/gonum/mat"

	"variant-mil/config"
	"variant-mil/models"
)

// PCA is the linear projection reducer: the top principal axes of the
// centred training frames, found by a thin SVD. It has no training loop and
// no randomness.
type PCA struct {
	components int
	whiten     bool

	mean     []float64
	axes     *mat.Dense // components x D, one principal axis per row
	explain  []float64
	whitener whitening
}

// NewPCA returns an unfitted projection onto the top components axes.
func NewPCA(components int, whiten bool) *PCA {
	return &PCA{components: components, whiten: whiten}
}

func (p *PCA) Method() config.Method { return config.MethodLinear }

func (p *PCA) Components() int { return p.components }

// ExplainedVariance is the fraction of total variance captured by each kept axis.
func (p *PCA) ExplainedVariance() []float64 { return p.explain }

// Fit computes the principal axes of x. groups is ignored.
func (p *PCA) Fit(x [][]float64, _ []string) error {
	width, err := matrixWidth(x)
	if err != nil {
		return err
	}
	rows := len(x)
	if p.components <= 0 || p.components > width || p.components > rows {
		return xerrors.Newf("cannot extract %d components from %d frames of %d features: %w",
			p.components, rows, width, models.ErrConfiguration)
	}

	mean := make([]float64, width)
	for _, row := range x {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(rows)
	}

	centred := mat.NewDense(rows, width, nil)
	for i, row := range x {
		for j, v := range row {
			centred.Set(i, j, v-mean[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centred, mat.SVDThin); !ok {
		return xerrors.New("SVD factorization failed")
	}
	values := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v) // D x min(rows, D); columns are the right singular vectors

	var total float64
	for _, s := range values {
		total += s * s
	}

	axes := mat.NewDense(p.components, width, nil)
	explain := make([]float64, p.components)
	for k := 0; k < p.components; k++ {
		// Fix the sign so the largest loading is positive; SVD output is only
		// defined up to sign.
		largest := 0
		for j := 1; j < width; j++ {
			if math.Abs(v.At(j, k)) > math.Abs(v.At(largest, k)) {
				largest = j
			}
		}
		sign := 1.0
		if v.At(largest, k) < 0 {
			sign = -1
		}
		for j := 0; j < width; j++ {
			axes.Set(k, j, sign*v.At(j, k))
		}
		if total > 0 {
			explain[k] = values[k] * values[k] / total
		}
	}

	p.mean = mean
	p.axes = axes
	p.explain = explain
	p.whitener = whitening{}
	if p.whiten {
		embedding, err := p.project(x)
		if err != nil {
			return err
		}
		p.whitener.fit(embedding)
	}
	return nil
}

// Transform projects x onto the fitted axes.
func (p *PCA) Transform(x [][]float64) ([][]float64, error) {
	if p.axes == nil {
		return nil, xerrors.Newf("linear projection transform: %w", models.ErrNotFitted)
	}
	out, err := p.project(x)
	if err != nil {
		return nil, err
	}
	p.whitener.apply(out)
	return out, nil
}

func (p *PCA) project(x [][]float64) ([][]float64, error) {
	if len(x) == 0 {
		return [][]float64{}, nil
	}
	width := len(p.mean)
	if err := checkWidth(x, width); err != nil {
		return nil, err
	}
	centred := mat.NewDense(len(x), width, nil)
	for i, row := range x {
		for j, v := range row {
			centred.Set(i, j, v-p.mean[j])
		}
	}
	var projected mat.Dense
	projected.Mul(centred, p.axes.T())

	out := make([][]float64, len(x))
	for i := range out {
		out[i] = mat.Row(nil, i, &projected)
	}
	return out, nil
}

type pcaState struct {
	Components int         `msgpack:"components"`
	Whiten     bool        `msgpack:"whiten"`
	Mean       []float64   `msgpack:"mean"`
	Axes       [][]float64 `msgpack:"axes"`
	Explained  []float64   `msgpack:"explained"`
	Whitening  whitening   `msgpack:"whitening"`
}

func (p *PCA) Save(w io.Writer) error {
	if p.axes == nil {
		return xerrors.Newf("save linear projection: %w", models.ErrNotFitted)
	}
	state := pcaState{
		Components: p.components,
		Whiten:     p.whiten,
		Mean:       p.mean,
		Explained:  p.explain,
		Whitening:  p.whitener,
	}
	for k := 0; k < p.components; k++ {
		state.Axes = append(state.Axes, mat.Row(nil, k, p.axes))
	}
	return encodeState(w, state)
}

func (p *PCA) Load(r io.Reader) error {
	var state pcaState
	if err := decodeState(r, &state); err != nil {
		return err
	}
	if state.Components == 0 || len(state.Axes) != state.Components {
		return xerrors.Newf("linear projection state has %d axes for %d components: %w",
			len(state.Axes), state.Components, models.ErrDataShape)
	}
	width := len(state.Mean)
	axes := mat.NewDense(state.Components, width, nil)
	for k, row := range state.Axes {
		if len(row) != width {
			return xerrors.Newf("axis %d has %d loadings, expected %d: %w", k, len(row), width, models.ErrDataShape)
		}
		axes.SetRow(k, row)
	}
	p.components = state.Components
	p.whiten = state.Whiten
	p.mean = state.Mean
	p.axes = axes
	p.explain = state.Explained
	p.whitener = state.Whitening
	return nil
}
