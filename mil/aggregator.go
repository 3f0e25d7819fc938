package mil

import (
	"math"
	"sort"

	"github.com/mdobak/go-xerrors"
	"gonum.org/v1/gonum/stat"

	"variant-mil/config"
	"variant-mil/models"
)

// Aggregator turns the frame probabilities of a variant into one verdict.
//
// The centre of each class is the mean of its frame probabilities, or a
// configured percentile with the percentile strategy. The two centres are
// passed through a softmax so the score stays normalised whatever the
// strategy: Confidence is the pathogenic share and Certainty the share of
// whichever class dominates. A variant is Unknown only when the benign centre
// is strictly larger than the pathogenic one.
type Aggregator struct {
	cfg config.AggregationConfig
}

func NewAggregator(cfg config.AggregationConfig) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// Aggregate summarises the probability pairs of a single variant.
func (a *Aggregator) Aggregate(variantID string, probs [][]float64) (models.Verdict, error) {
	if len(probs) == 0 {
		return models.Verdict{}, xerrors.Newf("variant %s has no frames to aggregate: %w", variantID, models.ErrDataShape)
	}
	benign := make([]float64, len(probs))
	pathogenic := make([]float64, len(probs))
	for i, p := range probs {
		if len(p) != 2 {
			return models.Verdict{}, xerrors.Newf("variant %s frame %d has %d probabilities, expected 2: %w",
				variantID, i, len(p), models.ErrDataShape)
		}
		benign[i], pathogenic[i] = p[0], p[1]
	}

	meanB, stdB := stat.PopMeanStdDev(benign, nil)
	meanP, stdP := stat.PopMeanStdDev(pathogenic, nil)
	centreB, centreP := meanB, meanP
	if a.cfg.Strategy == config.AggregatePercentile {
		centreB = percentile(benign, a.cfg.BenignPercentile)
		centreP = percentile(pathogenic, a.cfg.PathogenicPercentile)
	}

	softB, softP := softmax2(centreB, centreP)
	decision := models.DecisionDeleterious
	if centreB > centreP {
		decision = models.DecisionUnknown
	}
	return models.Verdict{
		VariantID:      variantID,
		Decision:       decision,
		Confidence:     softP,
		Certainty:      math.Max(softB, softP),
		MeanBenign:     centreB,
		MeanPathogenic: centreP,
		StdBenign:      stdB,
		StdPathogenic:  stdP,
		Frames:         len(probs),
	}, nil
}

// AggregateAll groups probs by the variant of the matching frame and returns
// one verdict per variant in first-seen order.
func (a *Aggregator) AggregateAll(frames []models.Frame, probs [][]float64) ([]models.Verdict, error) {
	if len(frames) != len(probs) {
		return nil, xerrors.Newf("%d frames but %d probability rows: %w", len(frames), len(probs), models.ErrDataShape)
	}
	var order []string
	grouped := make(map[string][][]float64)
	for i, f := range frames {
		if _, ok := grouped[f.VariantID]; !ok {
			order = append(order, f.VariantID)
		}
		grouped[f.VariantID] = append(grouped[f.VariantID], probs[i])
	}

	verdicts := make([]models.Verdict, 0, len(order))
	for _, id := range order {
		v, err := a.Aggregate(id, grouped[id])
		if err != nil {
			return nil, err
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, nil
}

// percentile is the empirical quantile of xs: the smallest value whose
// cumulative share reaches pct. It is defined for every pct in (0, 100]
// whatever the number of frames.
func percentile(xs []float64, pct float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return stat.Quantile(pct/100, stat.Empirical, sorted, nil)
}

func softmax2(a, b float64) (float64, float64) {
	m := math.Max(a, b)
	ea, eb := math.Exp(a-m), math.Exp(b-m)
	return ea / (ea + eb), eb / (ea + eb)
}
