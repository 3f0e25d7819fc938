package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Activation names an element-wise (or, for softmax, row-wise) output
// function of a layer.
type Activation string

const (
	Linear    Activation = "linear"
	ReLU      Activation = "relu"
	LeakyReLU Activation = "leaky_relu"
	Tanh      Activation = "tanh"
	Softmax   Activation = "softmax"
)

// LeakyAlpha is the negative slope of LeakyReLU.
const LeakyAlpha = 0.2

// ParseActivation maps a configuration string to an Activation.
func ParseActivation(s string) (Activation, bool) {
	switch s {
	case "", "leaky_relu", "leaky-relu":
		return LeakyReLU, true
	case "relu":
		return ReLU, true
	case "tanh":
		return Tanh, true
	case "linear":
		return Linear, true
	case "softmax":
		return Softmax, true
	}
	return "", false
}

func (a Activation) valid() bool {
	switch a {
	case Linear, ReLU, LeakyReLU, Tanh, Softmax:
		return true
	}
	return false
}

// apply writes act(z) into dst, which must have the dims of z.
func (a Activation) apply(dst, z *mat.Dense) {
	switch a {
	case Softmax:
		rows, cols := z.Dims()
		for i := 0; i < rows; i++ {
			max := math.Inf(-1)
			for j := 0; j < cols; j++ {
				if v := z.At(i, j); v > max {
					max = v
				}
			}
			var sum float64
			for j := 0; j < cols; j++ {
				e := math.Exp(z.At(i, j) - max)
				dst.Set(i, j, e)
				sum += e
			}
			for j := 0; j < cols; j++ {
				dst.Set(i, j, dst.At(i, j)/sum)
			}
		}
	default:
		dst.Apply(func(_, _ int, v float64) float64 { return a.value(v) }, z)
	}
}

func (a Activation) value(v float64) float64 {
	switch a {
	case ReLU:
		return math.Max(v, 0)
	case LeakyReLU:
		if v < 0 {
			return LeakyAlpha * v
		}
		return v
	case Tanh:
		return math.Tanh(v)
	}
	return v
}

// deriv is d act / dz evaluated at the pre-activation z. Softmax is only used
// together with cross-entropy, whose combined gradient skips this step.
func (a Activation) deriv(z float64) float64 {
	switch a {
	case ReLU:
		if z > 0 {
			return 1
		}
		return 0
	case LeakyReLU:
		if z < 0 {
			return LeakyAlpha
		}
		return 1
	case Tanh:
		t := math.Tanh(z)
		return 1 - t*t
	}
	return 1
}
