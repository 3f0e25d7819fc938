package forest

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Scorer is any fitted model that reports accuracy on labelled data.
type Scorer interface {
	Score(x [][]float64, y []int) float64
}

// Importance is the accuracy drop caused by shuffling one feature.
type Importance struct {
	Feature int     `json:"feature"`
	Mean    float64 `json:"mean"`
	Std     float64 `json:"std"`
}

// PermutationImportance shuffles each column of x repeats times and records
// how much the model's accuracy falls. Results are in feature order.
func PermutationImportance(model Scorer, x [][]float64, y []int, repeats int, rng *rand.Rand) []Importance {
	if len(x) == 0 {
		return nil
	}
	if repeats <= 0 {
		repeats = 1
	}
	baseline := model.Score(x, y)
	width := len(x[0])

	shuffled := make([][]float64, len(x))
	for i, row := range x {
		shuffled[i] = append([]float64(nil), row...)
	}

	out := make([]Importance, width)
	drops := make([]float64, repeats)
	for j := 0; j < width; j++ {
		for r := 0; r < repeats; r++ {
			perm := rng.Perm(len(x))
			for i := range shuffled {
				shuffled[i][j] = x[perm[i]][j]
			}
			drops[r] = baseline - model.Score(shuffled, y)
		}
		for i := range shuffled {
			shuffled[i][j] = x[i][j]
		}
		mean, std := stat.PopMeanStdDev(drops, nil)
		out[j] = Importance{Feature: j, Mean: mean, Std: std}
	}
	return out
}

// Rank orders importances from most to least important; ties keep the lower
// feature index first.
func Rank(importances []Importance) []Importance {
	ranked := append([]Importance(nil), importances...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Mean != ranked[j].Mean {
			return ranked[i].Mean > ranked[j].Mean
		}
		return ranked[i].Feature < ranked[j].Feature
	})
	return ranked
}
