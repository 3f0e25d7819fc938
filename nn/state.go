package nn

import (
	"github.com/mdobak/go-xerrors"
	"gonum.org/v1/gonum/mat"

	"variant-mil/models"
)

// LayerState is the serialisable form of one dense layer.
type LayerState struct {
	Inputs     int        `msgpack:"inputs"`
	Units      int        `msgpack:"units"`
	Weights    []float64  `msgpack:"weights"` // row-major Inputs x Units
	Bias       []float64  `msgpack:"bias"`
	Activation Activation `msgpack:"activation"`
	Dropout    float64    `msgpack:"dropout"`
}

// State is everything needed to rebuild a network that predicts exactly as
// the one it was taken from. Optimiser moments are not kept.
type State struct {
	Inputs       int          `msgpack:"inputs"`
	Layers       []LayerState `msgpack:"layers"`
	L1           float64      `msgpack:"l1"`
	L2           float64      `msgpack:"l2"`
	Loss         Loss         `msgpack:"loss"`
	LearningRate float64      `msgpack:"learning_rate"`
}

// State snapshots the current parameters.
func (n *Network) State() State {
	s := State{
		Inputs:       n.spec.Inputs,
		L1:           n.spec.L1,
		L2:           n.spec.L2,
		Loss:         n.spec.Loss,
		LearningRate: n.spec.LearningRate,
	}
	for _, ly := range n.layers {
		in, out := ly.w.Dims()
		weights := make([]float64, in*out)
		copy(weights, ly.w.RawMatrix().Data)
		bias := make([]float64, out)
		copy(bias, ly.b)
		s.Layers = append(s.Layers, LayerState{
			Inputs:     in,
			Units:      out,
			Weights:    weights,
			Bias:       bias,
			Activation: ly.act,
			Dropout:    ly.dropout,
		})
	}
	return s
}

// FromState rebuilds a network. The seed only matters if the restored
// network is trained further.
func FromState(s State, seed int64) (*Network, error) {
	spec := Spec{
		Inputs:       s.Inputs,
		L1:           s.L1,
		L2:           s.L2,
		Loss:         s.Loss,
		LearningRate: s.LearningRate,
	}
	for _, ls := range s.Layers {
		spec.Layers = append(spec.Layers, LayerSpec{Units: ls.Units, Activation: ls.Activation, Dropout: ls.Dropout})
	}
	net, err := New(spec, seed)
	if err != nil {
		return nil, err
	}

	in := s.Inputs
	for i, ls := range s.Layers {
		if ls.Inputs != in || len(ls.Weights) != ls.Inputs*ls.Units || len(ls.Bias) != ls.Units {
			return nil, xerrors.Newf("layer %d state is inconsistent: %w", i, models.ErrDataShape)
		}
		weights := make([]float64, len(ls.Weights))
		copy(weights, ls.Weights)
		bias := make([]float64, len(ls.Bias))
		copy(bias, ls.Bias)
		net.layers[i] = newLayer(mat.NewDense(ls.Inputs, ls.Units, weights), bias, spec.Layers[i])
		in = ls.Units
	}
	return net, nil
}
