package nn

import "math"

// adam keeps the first and second moment estimates for one parameter block.
type adam struct {
	m []float64
	v []float64
}

func newAdam(size int) *adam {
	return &adam{m: make([]float64, size), v: make([]float64, size)}
}

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

// step applies one bias-corrected Adam update to params in place.
func (a *adam) step(params, grads []float64, lr float64, t int) {
	correction := math.Sqrt(1-math.Pow(adamBeta2, float64(t))) / (1 - math.Pow(adamBeta1, float64(t)))
	rate := lr * correction
	for i, g := range grads {
		a.m[i] = adamBeta1*a.m[i] + (1-adamBeta1)*g
		a.v[i] = adamBeta2*a.v[i] + (1-adamBeta2)*g*g
		params[i] -= rate * a.m[i] / (math.Sqrt(a.v[i]) + adamEpsilon)
	}
}
