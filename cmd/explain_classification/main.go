package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"sort"

	"github.com/montanaflynn/stats"

	"variant-mil/config"
	"variant-mil/dataset"
	"variant-mil/mil"
	"variant-mil/models"
	"variant-mil/utils"
)

// Explains how a variant's verdict comes about from its frames
func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration")
	gene := flag.String("gene", "", "Gene of the variant")
	method := flag.String("method", "", "Reduction method: pca, ae or aerf")
	modelDir := flag.String("model", "", "Model folder (default <out>/<method>-model-<seed>)")
	flag.Parse()

	if flag.NArg() < 1 {
		log.Fatal("Usage: explain_classification [flags] <variant-id>")
	}
	variantID := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *gene != "" {
		cfg.Gene = *gene
	}
	if *method != "" {
		if cfg.Reduction.Method, err = config.ParseMethod(*method); err != nil {
			log.Fatal(err)
		}
	}
	if *modelDir == "" {
		*modelDir = filepath.Join(cfg.OutDir, fmt.Sprintf("%s-model-%d", cfg.Reduction.Method.Short(), cfg.Seed))
	}
	utils.SetLogLevel("warn")

	ds, err := dataset.Load(cfg.DataDir, cfg.Gene)
	if err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}
	variant, ok := ds.Variant(variantID)
	if !ok {
		log.Fatalf("Variant %s not found in %s", variantID, cfg.Gene)
	}
	single := ds.Subset(func(v dataset.Variant) bool { return v.ID == variantID })

	pipeline, err := mil.LoadPipeline(*modelDir, cfg, utils.GetLogger())
	if err != nil {
		log.Fatalf("Failed to load model: %v", err)
	}

	fmt.Printf("=== Explaining Classification for: %s (%s) ===\n\n", variantID, cfg.Gene)
	fmt.Printf("📊 Variant Overview:\n")
	fmt.Printf("   Truth: %s\n", variant.Truth())
	fmt.Printf("   Frames: %d x %d features\n", len(variant.Frames), ds.FeatureDim)
	fmt.Printf("   Reduction: %s to %d components\n\n", cfg.Reduction.Method, cfg.Reduction.Components)

	switch r := pipeline.Reducer().(type) {
	case *mil.PCA:
		fmt.Println("🔎 Explained variance per component:")
		for k, v := range r.ExplainedVariance() {
			fmt.Printf("   PC%d: %.2f%%\n", k+1, v*100)
		}
		fmt.Println()
	case *mil.Selector:
		fmt.Println("🔎 Selected compressed dimensions (permutation importance):")
		imp := r.Importances()
		for rank, j := range r.Selected() {
			fmt.Printf("   #%d dim %3d: %.4f ± %.4f\n", rank+1, j, imp[j].Mean, imp[j].Std)
		}
		fmt.Printf("   Variant-identity accuracy on held-out frames: %.2f%%\n\n", r.HeldOutAccuracy()*100)
	}

	probs, err := pipeline.PredictFrames(single)
	if err != nil {
		log.Fatalf("Prediction failed: %v", err)
	}
	pathogenic := make([]float64, len(probs))
	votes := 0
	for i, p := range probs {
		pathogenic[i] = p[1]
		if p[1] >= p[0] {
			votes++
		}
	}

	fmt.Println("🧮 Frame-level p(pathogenic):")
	q, _ := stats.Quartile(pathogenic)
	minP, _ := stats.Min(pathogenic)
	maxP, _ := stats.Max(pathogenic)
	fmt.Printf("   min=%.4f  Q1=%.4f  median=%.4f  Q3=%.4f  max=%.4f\n", minP, q.Q1, q.Q2, q.Q3, maxP)
	fmt.Printf("   Frames leaning pathogenic: %d/%d\n\n", votes, len(probs))

	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return pathogenic[order[a]] > pathogenic[order[b]] })
	fmt.Println("   Most pathogenic-looking frames:")
	for _, i := range order[:min(5, len(order))] {
		fmt.Printf("   frame %4d: p(B)=%.4f p(P)=%.4f\n", i, probs[i][0], probs[i][1])
	}
	fmt.Println()

	verdicts, err := mil.NewAggregator(cfg.Aggregation).AggregateAll(single.Frames(), probs)
	if err != nil {
		log.Fatalf("Aggregation failed: %v", err)
	}
	v := verdicts[0]
	fmt.Println("🎯 Verdict:")
	fmt.Printf("   mean p(B)=%.4f ± %.4f   mean p(P)=%.4f ± %.4f\n", v.MeanBenign, v.StdBenign, v.MeanPathogenic, v.StdPathogenic)
	fmt.Printf("   confidence (pathogenic share) = %.4f, certainty = %.4f\n", v.Confidence, v.Certainty)
	fmt.Printf("   Decision: %s\n", v.Decision)
	if v.Decision == models.DecisionUnknown {
		fmt.Println("   Benign probability dominates, so the variant is not called deleterious.")
	} else {
		fmt.Println("   Pathogenic probability is at least as large as benign, so the variant is called deleterious.")
	}
}
