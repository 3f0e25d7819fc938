// Package nn implements the small dense feed-forward networks used by the
// autoencoder reducers and the cost-sensitive classifier.
//
// A Network is a stack of fully connected layers, each followed by an
// activation and (during training only) inverted dropout. Weights start from
// a Glorot-uniform draw, biases from zero. Training is mini-batch Adam on
// either mean squared error or categorical cross-entropy with a per-sample
// weight, plus optional L1/L2 penalties on the kernels.
//
// Every random draw (initialisation, shuffling, dropout masks) comes from the
// rand.Rand seeded in New, so two networks built from the same Spec and seed
// and fed the same data end up with identical weights.
package nn

import (
	"math"
	"math/rand"

	"github.com/mdobak/go-xerrors"
	"gonum.org/v1/gonum/mat"

	"variant-mil/models"
)

// Loss selects the training objective.
type Loss string

const (
	MeanSquaredError Loss = "mse"
	CrossEntropy     Loss = "categorical_crossentropy"
)

// probabilityFloor clips probabilities inside the log of the cross-entropy.
const probabilityFloor = 1e-7

// LayerSpec describes one fully connected layer.
type LayerSpec struct {
	Units      int
	Activation Activation
	// Dropout is the fraction of this layer's outputs zeroed during training.
	// It is ignored on the output layer.
	Dropout float64
}

// Spec describes a network architecture and its optimiser settings.
type Spec struct {
	Inputs       int
	Layers       []LayerSpec
	L1           float64
	L2           float64
	Loss         Loss
	LearningRate float64
}

// FitOptions controls one call to Fit.
type FitOptions struct {
	Epochs    int
	BatchSize int
	// SampleWeights scales each sample's loss. Nil means all ones.
	SampleWeights []float64
	// OnEpoch, if set, is called after every epoch with the mean loss.
	OnEpoch func(epoch int, loss float64)
}

type layer struct {
	w       *mat.Dense
	b       []float64
	act     Activation
	dropout float64
	optW    *adam
	optB    *adam
}

// Network is a trainable multi-layer perceptron.
type Network struct {
	spec   Spec
	layers []*layer
	rng    *rand.Rand
	steps  int
}

// New builds a network with freshly initialised weights.
func New(spec Spec, seed int64) (*Network, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))

	net := &Network{spec: spec, rng: rng}
	in := spec.Inputs
	for _, ls := range spec.Layers {
		limit := math.Sqrt(6 / float64(in+ls.Units))
		data := make([]float64, in*ls.Units)
		for i := range data {
			data[i] = (rng.Float64()*2 - 1) * limit
		}
		net.layers = append(net.layers, newLayer(mat.NewDense(in, ls.Units, data), make([]float64, ls.Units), ls))
		in = ls.Units
	}
	return net, nil
}

func newLayer(w *mat.Dense, b []float64, ls LayerSpec) *layer {
	rows, cols := w.Dims()
	return &layer{
		w:       w,
		b:       b,
		act:     ls.Activation,
		dropout: ls.Dropout,
		optW:    newAdam(rows * cols),
		optB:    newAdam(cols),
	}
}

func (s Spec) validate() error {
	if s.Inputs <= 0 {
		return xerrors.Newf("network needs a positive input width, got %d: %w", s.Inputs, models.ErrConfiguration)
	}
	if len(s.Layers) == 0 {
		return xerrors.Newf("network needs at least one layer: %w", models.ErrConfiguration)
	}
	for i, ls := range s.Layers {
		if ls.Units <= 0 {
			return xerrors.Newf("layer %d has %d units: %w", i, ls.Units, models.ErrConfiguration)
		}
		if !ls.Activation.valid() {
			return xerrors.Newf("layer %d has unknown activation %q: %w", i, ls.Activation, models.ErrConfiguration)
		}
		if ls.Dropout < 0 || ls.Dropout >= 1 {
			return xerrors.Newf("layer %d dropout %g outside [0, 1): %w", i, ls.Dropout, models.ErrConfiguration)
		}
		if ls.Activation == Softmax && i != len(s.Layers)-1 {
			return xerrors.Newf("softmax is only supported on the output layer: %w", models.ErrConfiguration)
		}
	}
	switch s.Loss {
	case MeanSquaredError:
	case CrossEntropy:
		if s.Layers[len(s.Layers)-1].Activation != Softmax {
			return xerrors.Newf("cross-entropy requires a softmax output: %w", models.ErrConfiguration)
		}
	default:
		return xerrors.Newf("unknown loss %q: %w", s.Loss, models.ErrConfiguration)
	}
	if s.LearningRate <= 0 {
		return xerrors.Newf("learning rate must be positive: %w", models.ErrConfiguration)
	}
	if s.L1 < 0 || s.L2 < 0 {
		return xerrors.Newf("l1/l2 must be non-negative: %w", models.ErrConfiguration)
	}
	return nil
}

// InputDim is the expected width of every input row.
func (n *Network) InputDim() int { return n.spec.Inputs }

// OutputDim is the width of the final layer.
func (n *Network) OutputDim() int { return n.spec.Layers[len(n.spec.Layers)-1].Units }

// LayerCount returns the number of dense layers.
func (n *Network) LayerCount() int { return len(n.layers) }

// LayerWidth returns the output width of layer i.
func (n *Network) LayerWidth(i int) int { return n.spec.Layers[i].Units }

// Predict runs the whole network in inference mode.
func (n *Network) Predict(x [][]float64) ([][]float64, error) {
	return n.PredictLayers(x, len(n.layers))
}

// PredictLayers runs only the first count layers in inference mode and
// returns the output of layer count-1. The autoencoders use it to read the
// bottleneck.
func (n *Network) PredictLayers(x [][]float64, count int) ([][]float64, error) {
	if count <= 0 || count > len(n.layers) {
		return nil, xerrors.Newf("layer count %d outside [1, %d]: %w", count, len(n.layers), models.ErrConfiguration)
	}
	if len(x) == 0 {
		return [][]float64{}, nil
	}
	input, err := toDense(x, n.spec.Inputs)
	if err != nil {
		return nil, err
	}
	p := n.forward(input, count, false)
	return fromDense(p.out), nil
}

// Fit trains the network in place on (x, y) and returns the mean loss of
// each epoch. There is no early stopping and no convergence check.
func (n *Network) Fit(x, y [][]float64, opts FitOptions) ([]float64, error) {
	if len(x) == 0 {
		return nil, xerrors.Newf("no training samples: %w", models.ErrDataShape)
	}
	if len(x) != len(y) {
		return nil, xerrors.Newf("%d inputs but %d targets: %w", len(x), len(y), models.ErrDataShape)
	}
	if opts.SampleWeights != nil && len(opts.SampleWeights) != len(x) {
		return nil, xerrors.Newf("%d samples but %d weights: %w", len(x), len(opts.SampleWeights), models.ErrDataShape)
	}
	if opts.Epochs <= 0 || opts.BatchSize <= 0 {
		return nil, xerrors.Newf("epochs and batch size must be positive: %w", models.ErrConfiguration)
	}
	inputs, err := toDense(x, n.spec.Inputs)
	if err != nil {
		return nil, err
	}
	targets, err := toDense(y, n.OutputDim())
	if err != nil {
		return nil, err
	}

	samples := len(x)
	history := make([]float64, 0, opts.Epochs)
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		order := n.rng.Perm(samples)
		var total float64
		for start := 0; start < samples; start += opts.BatchSize {
			end := start + opts.BatchSize
			if end > samples {
				end = samples
			}
			idx := order[start:end]
			bx := gatherRows(inputs, idx)
			by := gatherRows(targets, idx)
			var bw []float64
			if opts.SampleWeights != nil {
				bw = make([]float64, len(idx))
				for i, j := range idx {
					bw[i] = opts.SampleWeights[j]
				}
			}
			total += n.trainBatch(bx, by, bw) * float64(len(idx))
		}
		loss := total / float64(samples)
		history = append(history, loss)
		if opts.OnEpoch != nil {
			opts.OnEpoch(epoch, loss)
		}
	}
	return history, nil
}

type pass struct {
	inputs []*mat.Dense // input of each layer, after the previous layer's dropout
	pre    []*mat.Dense // pre-activations
	masks  []*mat.Dense // dropout masks, nil when unused
	out    *mat.Dense
}

func (n *Network) forward(x *mat.Dense, count int, train bool) *pass {
	p := &pass{
		inputs: make([]*mat.Dense, count),
		pre:    make([]*mat.Dense, count),
		masks:  make([]*mat.Dense, count),
	}
	a := x
	for l := 0; l < count; l++ {
		ly := n.layers[l]
		p.inputs[l] = a

		rows, _ := a.Dims()
		_, cols := ly.w.Dims()
		z := mat.NewDense(rows, cols, nil)
		z.Mul(a, ly.w)
		z.Apply(func(_, j int, v float64) float64 { return v + ly.b[j] }, z)
		p.pre[l] = z

		out := mat.NewDense(rows, cols, nil)
		ly.act.apply(out, z)

		if train && ly.dropout > 0 && l < len(n.layers)-1 {
			keep := 1 - ly.dropout
			mask := mat.NewDense(rows, cols, nil)
			mask.Apply(func(_, _ int, _ float64) float64 {
				if n.rng.Float64() < ly.dropout {
					return 0
				}
				return 1 / keep
			}, mask)
			out.MulElem(out, mask)
			p.masks[l] = mask
		}
		a = out
	}
	p.out = a
	return p
}

// trainBatch runs forward and backward passes on one batch, updates every
// parameter and returns the batch loss including the penalty term.
func (n *Network) trainBatch(x, y *mat.Dense, weights []float64) float64 {
	p := n.forward(x, len(n.layers), true)
	rows, cols := p.out.Dims()
	batch := float64(rows)
	last := len(n.layers) - 1

	weightOf := func(i int) float64 {
		if weights == nil {
			return 1
		}
		return weights[i]
	}

	var loss float64
	dz := mat.NewDense(rows, cols, nil)
	switch n.spec.Loss {
	case CrossEntropy:
		for i := 0; i < rows; i++ {
			w := weightOf(i)
			var sampleLoss float64
			for j := 0; j < cols; j++ {
				prob := p.out.At(i, j)
				target := y.At(i, j)
				if target != 0 {
					sampleLoss -= target * math.Log(math.Max(prob, probabilityFloor))
				}
				dz.Set(i, j, w*(prob-target)/batch)
			}
			loss += w * sampleLoss
		}
	case MeanSquaredError:
		act := n.layers[last].act
		for i := 0; i < rows; i++ {
			w := weightOf(i)
			var sampleLoss float64
			for j := 0; j < cols; j++ {
				diff := p.out.At(i, j) - y.At(i, j)
				sampleLoss += diff * diff
				dz.Set(i, j, 2*diff*w/(batch*float64(cols))*act.deriv(p.pre[last].At(i, j)))
			}
			loss += w * sampleLoss / float64(cols)
		}
	}
	loss /= batch

	n.steps++
	for l := last; l >= 0; l-- {
		ly := n.layers[l]
		in, out := ly.w.Dims()

		gradW := mat.NewDense(in, out, nil)
		gradW.Mul(p.inputs[l].T(), dz)
		if n.spec.L1 > 0 || n.spec.L2 > 0 {
			gradW.Apply(func(i, j int, g float64) float64 {
				w := ly.w.At(i, j)
				return g + n.spec.L1*sign(w) + 2*n.spec.L2*w
			}, gradW)
		}
		gradB := make([]float64, out)
		for i := 0; i < rows; i++ {
			for j := 0; j < out; j++ {
				gradB[j] += dz.At(i, j)
			}
		}

		if l > 0 {
			prev := n.layers[l-1]
			da := mat.NewDense(rows, in, nil)
			da.Mul(dz, ly.w.T())
			if mask := p.masks[l-1]; mask != nil {
				da.MulElem(da, mask)
			}
			pre := p.pre[l-1]
			da.Apply(func(i, j int, v float64) float64 { return v * prev.act.deriv(pre.At(i, j)) }, da)
			dz = da
		}

		ly.optW.step(ly.w.RawMatrix().Data, gradW.RawMatrix().Data, n.spec.LearningRate, n.steps)
		ly.optB.step(ly.b, gradB, n.spec.LearningRate, n.steps)
	}

	return loss + n.penalty()
}

func (n *Network) penalty() float64 {
	if n.spec.L1 == 0 && n.spec.L2 == 0 {
		return 0
	}
	var sum float64
	for _, ly := range n.layers {
		for _, w := range ly.w.RawMatrix().Data {
			sum += n.spec.L1*math.Abs(w) + n.spec.L2*w*w
		}
	}
	return sum
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func toDense(rows [][]float64, width int) (*mat.Dense, error) {
	data := make([]float64, 0, len(rows)*width)
	for i, r := range rows {
		if len(r) != width {
			return nil, xerrors.Newf("row %d has %d columns, expected %d: %w", i, len(r), width, models.ErrDataShape)
		}
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), width, data), nil
}

func fromDense(m *mat.Dense) [][]float64 {
	rows, cols := m.Dims()
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		mat.Row(out[i], i, m)
	}
	return out
}

func gatherRows(m *mat.Dense, idx []int) *mat.Dense {
	_, cols := m.Dims()
	out := mat.NewDense(len(idx), cols, nil)
	for i, j := range idx {
		out.SetRow(i, m.RawRowView(j))
	}
	return out
}
