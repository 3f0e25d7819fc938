package mil

import (
	"errors"
	"math"
	"testing"

	"variant-mil/config"
	"variant-mil/models"
)

func meanAggregator() *Aggregator {
	return NewAggregator(config.AggregationConfig{Strategy: config.AggregateMean})
}

func TestAggregateConfidentBenign(t *testing.T) {
	t.Parallel()

	probs := [][]float64{{0.9, 0.1}, {0.9, 0.1}, {0.9, 0.1}, {0.9, 0.1}}
	v, err := meanAggregator().Aggregate("R71G", probs)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if v.Decision != models.DecisionUnknown {
		t.Fatalf("expected Unknown, got %s", v.Decision)
	}
	if math.Abs(v.MeanBenign-0.9) > 1e-12 || v.StdBenign > 1e-12 || v.StdPathogenic > 1e-12 {
		t.Fatalf("unexpected moments: %+v", v)
	}
	wantP := 1 / (1 + math.Exp(0.8))
	if math.Abs(v.Confidence-wantP) > 1e-12 || math.Abs(v.Certainty-(1-wantP)) > 1e-12 {
		t.Fatalf("confidence %v certainty %v, want %v and %v", v.Confidence, v.Certainty, wantP, 1-wantP)
	}
	if v.Frames != 4 || v.VariantID != "R71G" {
		t.Fatalf("unexpected identity fields: %+v", v)
	}
}

func TestAggregateTieIsDeleterious(t *testing.T) {
	t.Parallel()

	v, err := meanAggregator().Aggregate("x", [][]float64{{0.5, 0.5}, {0.5, 0.5}})
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if v.Decision != models.DecisionDeleterious {
		t.Fatalf("a tie must be Deleterious, got %s", v.Decision)
	}
	if v.Confidence != 0.5 || v.Certainty != 0.5 {
		t.Fatalf("tie should score 0.5, got %v / %v", v.Confidence, v.Certainty)
	}

	// Split frames average to a tie as well.
	v, _ = meanAggregator().Aggregate("y", [][]float64{{1, 0}, {0, 1}})
	if v.Decision != models.DecisionDeleterious || math.Abs(v.StdBenign-0.5) > 1e-12 {
		t.Fatalf("unexpected verdict for split frames: %+v", v)
	}
}

func TestAggregatePercentileStrategy(t *testing.T) {
	t.Parallel()

	a := NewAggregator(config.AggregationConfig{
		Strategy:             config.AggregatePercentile,
		BenignPercentile:     75,
		PathogenicPercentile: 50,
	})
	probs := [][]float64{{0.2, 0.8}, {0.4, 0.6}, {0.6, 0.4}, {0.8, 0.2}}
	v, err := a.Aggregate("z", probs)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if v.MeanBenign <= 0.5 {
		t.Fatalf("75th benign percentile should exceed the median, got %v", v.MeanBenign)
	}
	if v.MeanBenign <= v.MeanPathogenic || v.Decision != models.DecisionUnknown {
		t.Fatalf("upper benign percentile should make the call Unknown: %+v", v)
	}
	sB, sP := softmax2(v.MeanBenign, v.MeanPathogenic)
	if math.Abs(sB+sP-1) > 1e-12 || v.Confidence != sP {
		t.Fatalf("confidence is not normalised: %+v", v)
	}
}

func TestAggregateAllGroupsInFirstSeenOrder(t *testing.T) {
	t.Parallel()

	frames := []models.Frame{{VariantID: "b"}, {VariantID: "a"}, {VariantID: "b"}, {VariantID: "a"}}
	probs := [][]float64{{0.1, 0.9}, {0.8, 0.2}, {0.3, 0.7}, {0.6, 0.4}}
	verdicts, err := meanAggregator().AggregateAll(frames, probs)
	if err != nil {
		t.Fatalf("AggregateAll returned error: %v", err)
	}
	if len(verdicts) != 2 || verdicts[0].VariantID != "b" || verdicts[1].VariantID != "a" {
		t.Fatalf("unexpected order: %+v", verdicts)
	}
	if verdicts[0].Decision != models.DecisionDeleterious || verdicts[1].Decision != models.DecisionUnknown {
		t.Fatalf("unexpected decisions: %+v", verdicts)
	}
	if math.Abs(verdicts[0].MeanPathogenic-0.8) > 1e-12 || verdicts[0].Frames != 2 {
		t.Fatalf("unexpected moments: %+v", verdicts[0])
	}

	if _, err := meanAggregator().AggregateAll(frames, probs[:3]); !errors.Is(err, models.ErrDataShape) {
		t.Fatalf("expected ErrDataShape, got %v", err)
	}
	if _, err := meanAggregator().Aggregate("e", nil); !errors.Is(err, models.ErrDataShape) {
		t.Fatalf("expected ErrDataShape for an empty variant, got %v", err)
	}
}

func TestAggregateLowPercentileWithFewFrames(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Gene = "TP53"
	cfg.Aggregation = config.AggregationConfig{
		Strategy:             config.AggregatePercentile,
		BenignPercentile:     10,
		PathogenicPercentile: 5,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("configuration should validate: %v", err)
	}

	probs := [][]float64{{0.7, 0.3}, {0.2, 0.8}, {0.9, 0.1}, {0.4, 0.6}}
	v, err := NewAggregator(cfg.Aggregation).Aggregate("few", probs)
	if err != nil {
		t.Fatalf("Aggregate returned error for 4 frames: %v", err)
	}
	if v.MeanBenign != 0.2 || v.MeanPathogenic != 0.1 {
		t.Fatalf("low percentiles should fall on the smallest frame values, got %v and %v",
			v.MeanBenign, v.MeanPathogenic)
	}
	if v.Decision != models.DecisionUnknown {
		t.Fatalf("benign centre 0.2 > pathogenic centre 0.1 should be Unknown, got %s", v.Decision)
	}

	top, err := NewAggregator(config.AggregationConfig{
		Strategy:             config.AggregatePercentile,
		BenignPercentile:     100,
		PathogenicPercentile: 100,
	}).Aggregate("few", probs)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if top.MeanBenign != 0.9 || top.MeanPathogenic != 0.8 {
		t.Fatalf("100th percentile should be the maximum, got %v and %v", top.MeanBenign, top.MeanPathogenic)
	}
}
