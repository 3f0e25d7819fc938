package models

import (
	"strings"
	"time"
)

// Label is the binary ground truth of a variant. It is broadcast to every frame
// of the variant during training.
type Label int

const (
	Benign     Label = 0
	Pathogenic Label = 1
)

func (l Label) String() string {
	if l == Pathogenic {
		return "pathogenic"
	}
	return "benign"
}

// Decision is the conservative two-outcome call produced for a variant.
type Decision string

const (
	DecisionUnknown     Decision = "Unknown"
	DecisionDeleterious Decision = "Deleterious"
)

// Short returns the one-letter code used in run reports.
func (d Decision) Short() string {
	if d == DecisionUnknown {
		return "U"
	}
	return "D"
}

// Truth is the three-way labelling used only for evaluation and diagnostics.
type Truth string

const (
	TruthBenign     Truth = "benign"
	TruthPathogenic Truth = "pathogenic"
	TruthWildtype   Truth = "wildtype"
)

// WildtypeMarker identifies the unmutated reference among variant ids.
const WildtypeMarker = "wildtype"

// TruthOf derives the evaluation category of a variant from its id and label.
func TruthOf(variantID string, label Label) Truth {
	if strings.Contains(strings.ToLower(variantID), WildtypeMarker) {
		return TruthWildtype
	}
	if label == Pathogenic {
		return TruthPathogenic
	}
	return TruthBenign
}

// Frame is one simulated frame carrying the id of the variant it belongs to.
type Frame struct {
	VariantID string    `json:"variantId" msgpack:"variant_id"`
	Index     int       `json:"index" msgpack:"index"`
	Features  []float64 `json:"features" msgpack:"features"`
}

// Verdict is the per-variant aggregate of frame-level class probabilities.
type Verdict struct {
	VariantID      string   `json:"variantId"`
	Decision       Decision `json:"decision"`
	Confidence     float64  `json:"confidence"` // softmax share of the pathogenic class
	Certainty      float64  `json:"certainty"`  // softmax share of the dominant class
	MeanBenign     float64  `json:"meanBenign"`
	MeanPathogenic float64  `json:"meanPathogenic"`
	StdBenign      float64  `json:"stdBenign"`
	StdPathogenic  float64  `json:"stdPathogenic"`
	Frames         int      `json:"frames"`
}

// VerdictRecord is a verdict as exported to CSV and stored in the database,
// annotated with the run it came from and the known truth (if any).
type VerdictRecord struct {
	ID             int64   `csv:"-" json:"id"`
	RunID          string  `csv:"run_id" json:"runId"`
	Gene           string  `csv:"gene" json:"gene"`
	VariantID      string  `csv:"variant" json:"variantId"`
	Truth          string  `csv:"truth" json:"truth,omitempty"`
	Decision       string  `csv:"decision" json:"decision"`
	Confidence     float64 `csv:"confidence" json:"confidence"`
	Certainty      float64 `csv:"certainty" json:"certainty"`
	MeanBenign     float64 `csv:"mean_benign" json:"meanBenign"`
	MeanPathogenic float64 `csv:"mean_pathogenic" json:"meanPathogenic"`
	StdBenign      float64 `csv:"std_benign" json:"stdBenign"`
	StdPathogenic  float64 `csv:"std_pathogenic" json:"stdPathogenic"`
	Frames         int     `csv:"frames" json:"frames"`
}

// NewVerdictRecord flattens a verdict for export.
func NewVerdictRecord(runID, gene string, truth Truth, v Verdict) VerdictRecord {
	return VerdictRecord{
		RunID:          runID,
		Gene:           gene,
		VariantID:      v.VariantID,
		Truth:          string(truth),
		Decision:       string(v.Decision),
		Confidence:     v.Confidence,
		Certainty:      v.Certainty,
		MeanBenign:     v.MeanBenign,
		MeanPathogenic: v.MeanPathogenic,
		StdBenign:      v.StdBenign,
		StdPathogenic:  v.StdPathogenic,
		Frames:         v.Frames,
	}
}

// Verdict converts the record back into a verdict.
func (r VerdictRecord) Verdict() Verdict {
	return Verdict{
		VariantID:      r.VariantID,
		Decision:       Decision(r.Decision),
		Confidence:     r.Confidence,
		Certainty:      r.Certainty,
		MeanBenign:     r.MeanBenign,
		MeanPathogenic: r.MeanPathogenic,
		StdBenign:      r.StdBenign,
		StdPathogenic:  r.StdPathogenic,
		Frames:         r.Frames,
	}
}

// RunRecord describes one pipeline execution.
type RunRecord struct {
	ID         string    `json:"id"`
	Gene       string    `json:"gene"`
	Method     string    `json:"method"`
	Seed       int64     `json:"seed"`
	Components int       `json:"components"`
	Cached     bool      `json:"cached"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Variants   int       `json:"variants"`
	Frames     int       `json:"frames"`
	FinalLoss  float64   `json:"finalLoss"`
	ConfigYAML string    `json:"config,omitempty"`
}
