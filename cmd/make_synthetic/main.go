package main

import (
	"flag"
	"log"
	"math/rand"
	"path/filepath"

	"variant-mil/dataset"
)

// Generates a synthetic gene in the layout the pipeline reads, for smoke tests
// and demos when no simulation data is at hand.
func main() {
	outDir := flag.String("dir", "data", "Data directory to write the gene folder into")
	gene := flag.String("gene", "SYNTH", "Gene name (folder name)")
	benign := flag.Int("benign", 8, "Number of benign variants")
	pathogenic := flag.Int("pathogenic", 4, "Number of pathogenic variants")
	wildtype := flag.Bool("wildtype", true, "Include a wildtype variant")
	frames := flag.Int("frames", 200, "Frames per variant")
	features := flag.Int("features", 24, "Features per frame")
	separation := flag.Float64("separation", 1.0, "Distance between class centres per feature")
	noise := flag.Float64("noise", 0.5, "Per-frame noise standard deviation")
	drift := flag.Float64("drift", 0.05, "Random-walk step of each variant's trajectory")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	ds, err := dataset.Synthesize(dataset.SyntheticOptions{
		Gene:       *gene,
		Benign:     *benign,
		Pathogenic: *pathogenic,
		Wildtype:   *wildtype,
		Frames:     *frames,
		Features:   *features,
		Separation: *separation,
		Noise:      *noise,
		Drift:      *drift,
	}, rand.New(rand.NewSource(*seed)))
	if err != nil {
		log.Fatalf("failed to generate data: %v", err)
	}

	if err := dataset.Write(*outDir, ds); err != nil {
		log.Fatalf("failed to write data: %v", err)
	}

	b, p := ds.Counts()
	log.Printf("Wrote %d variants (%d benign, %d pathogenic) x %d frames x %d features to %s\n",
		len(ds.Variants), b, p, ds.FramesPerVariant, ds.FeatureDim, filepath.Join(*outDir, *gene))
}
