// Package dataset loads the per-gene frame tables, writes them back out and
// exports embeddings and verdicts for inspection.
//
// A gene directory holds two files:
//
//	variants.csv  variant,label            one row per variant, label 0 or 1
//	frames.csv    variant,frame,f0,...     one row per simulated frame
//
// Every variant must have the same number of frames and every frame the same
// number of features.
package dataset

import (
	"variant-mil/models"
)

const (
	VariantsFile = "variants.csv"
	FramesFile   = "frames.csv"
)

// Variant is one labelled bag of frames, in time order.
type Variant struct {
	ID     string
	Label  models.Label
	Frames [][]float64
}

// Truth is the evaluation category of the variant.
func (v Variant) Truth() models.Truth {
	return models.TruthOf(v.ID, v.Label)
}

// Dataset holds all variants of one gene.
type Dataset struct {
	Gene             string
	FramesPerVariant int
	FeatureDim       int
	Variants         []Variant
}

// Len is the total number of frames.
func (d *Dataset) Len() int {
	n := 0
	for _, v := range d.Variants {
		n += len(v.Frames)
	}
	return n
}

// Matrix stacks all frames variant by variant.
func (d *Dataset) Matrix() [][]float64 {
	out := make([][]float64, 0, d.Len())
	for _, v := range d.Variants {
		out = append(out, v.Frames...)
	}
	return out
}

// Frames lists every frame with its variant id, in the order of Matrix.
func (d *Dataset) Frames() []models.Frame {
	out := make([]models.Frame, 0, d.Len())
	for _, v := range d.Variants {
		for i, f := range v.Frames {
			out = append(out, models.Frame{VariantID: v.ID, Index: i, Features: f})
		}
	}
	return out
}

// FrameLabels broadcasts each variant's label to its frames.
func (d *Dataset) FrameLabels() []models.Label {
	out := make([]models.Label, 0, d.Len())
	for _, v := range d.Variants {
		for range v.Frames {
			out = append(out, v.Label)
		}
	}
	return out
}

// Groups returns the variant id of every frame, in the order of Matrix.
func (d *Dataset) Groups() []string {
	out := make([]string, 0, d.Len())
	for _, v := range d.Variants {
		for range v.Frames {
			out = append(out, v.ID)
		}
	}
	return out
}

// Subset returns the variants for which keep is true. Frames are shared.
func (d *Dataset) Subset(keep func(Variant) bool) *Dataset {
	out := &Dataset{Gene: d.Gene, FramesPerVariant: d.FramesPerVariant, FeatureDim: d.FeatureDim}
	for _, v := range d.Variants {
		if keep(v) {
			out.Variants = append(out.Variants, v)
		}
	}
	return out
}

// Variant looks up a variant by id.
func (d *Dataset) Variant(id string) (Variant, bool) {
	for _, v := range d.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// Counts returns the number of benign and pathogenic variants.
func (d *Dataset) Counts() (benign, pathogenic int) {
	for _, v := range d.Variants {
		if v.Label == models.Pathogenic {
			pathogenic++
		} else {
			benign++
		}
	}
	return benign, pathogenic
}
