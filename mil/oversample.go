package mil

import (
	"math/rand"
	"sort"

	"github.com/mdobak/go-xerrors"
	"gonum.org/v1/gonum/floats"

	"variant-mil/models"
)

// Resampled is a training set after oversampling. The first len(X)-Synthetic
// rows are the original frames in their original order.
type Resampled struct {
	X         [][]float64
	Labels    []models.Label
	OneHot    [][]float64
	Synthetic int
}

// Oversampler balances the two classes with SMOTE: every synthetic frame lies
// on the segment between a minority frame and one of its Neighbors nearest
// minority neighbours.
type Oversampler struct {
	Neighbors int
	rng       *rand.Rand
}

func NewOversampler(neighbors int, seed int64) *Oversampler {
	return &Oversampler{Neighbors: neighbors, rng: rand.New(rand.NewSource(seed))}
}

// FitResample returns x extended with synthetic minority frames until both
// classes have the same count. A balanced input comes back as a copy.
func (o *Oversampler) FitResample(x [][]float64, labels []models.Label) (*Resampled, error) {
	if len(x) != len(labels) {
		return nil, xerrors.Newf("oversampling %d frames with %d labels: %w", len(x), len(labels), models.ErrDataShape)
	}
	if _, err := matrixWidth(x); err != nil {
		return nil, err
	}

	var byClass [2][]int
	for i, l := range labels {
		if l != models.Benign && l != models.Pathogenic {
			return nil, xerrors.Newf("frame %d has label %d: %w", i, l, models.ErrDataShape)
		}
		byClass[l] = append(byClass[l], i)
	}

	out := &Resampled{X: copyMatrix(x), Labels: append([]models.Label(nil), labels...)}
	minority, majority := models.Benign, models.Pathogenic
	if len(byClass[minority]) > len(byClass[majority]) {
		minority, majority = majority, minority
	}
	need := len(byClass[majority]) - len(byClass[minority])
	if need > 0 {
		if o.Neighbors < 1 {
			return nil, xerrors.Newf("SMOTE needs at least one neighbour, got %d: %w", o.Neighbors, models.ErrConfiguration)
		}
		members := byClass[minority]
		if len(members) < o.Neighbors+1 {
			return nil, xerrors.Newf("SMOTE with %d neighbours needs at least %d %s frames, have %d: %w",
				o.Neighbors, o.Neighbors+1, minority, len(members), models.ErrInsufficientSamples)
		}
		neighbours := nearestNeighbours(x, members, o.Neighbors)
		for s := 0; s < need; s++ {
			pick := o.rng.Intn(len(members))
			base := x[members[pick]]
			other := x[neighbours[pick][o.rng.Intn(len(neighbours[pick]))]]
			gap := o.rng.Float64()

			synth := make([]float64, len(base))
			copy(synth, other)
			floats.Sub(synth, base)
			floats.Scale(gap, synth)
			floats.Add(synth, base)
			out.X = append(out.X, synth)
			out.Labels = append(out.Labels, minority)
		}
		out.Synthetic = need
	}

	out.OneHot = oneHot(out.Labels)
	return out, nil
}

// nearestNeighbours returns, for each member, the indices (into x) of its k
// closest other members by Euclidean distance. Ties keep the lower index.
func nearestNeighbours(x [][]float64, members []int, k int) [][]int {
	out := make([][]int, len(members))
	type candidate struct {
		idx  int
		dist float64
	}
	cands := make([]candidate, 0, len(members)-1)
	for a, i := range members {
		cands = cands[:0]
		for _, j := range members {
			if j == i {
				continue
			}
			cands = append(cands, candidate{idx: j, dist: floats.Distance(x[i], x[j], 2)})
		}
		sort.SliceStable(cands, func(p, q int) bool { return cands[p].dist < cands[q].dist })
		nn := make([]int, k)
		for n := range nn {
			nn[n] = cands[n].idx
		}
		out[a] = nn
	}
	return out
}

func oneHot(labels []models.Label) [][]float64 {
	out := make([][]float64, len(labels))
	for i, l := range labels {
		row := make([]float64, 2)
		row[l] = 1
		out[i] = row
	}
	return out
}
