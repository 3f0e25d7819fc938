package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/montanaflynn/stats"

	"variant-mil/config"
	"variant-mil/dataset"
	"variant-mil/mil"
	"variant-mil/utils"
)

// Options holds training configuration
type Options struct {
	ConfigPath string
	Gene       string
	Method     string
	Seed       int64
	OutputDir  string
	Verbose    bool
}

func main() {
	opts := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("=== Variant Classifier Training Pipeline ===\n")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to load configuration: %v", err)
	}
	if opts.Gene != "" {
		cfg.Gene = opts.Gene
	}
	if opts.Method != "" {
		if cfg.Reduction.Method, err = config.ParseMethod(opts.Method); err != nil {
			log.Fatalf("ERROR: %v", err)
		}
	}
	if opts.Seed >= 0 {
		cfg.Seed = opts.Seed
	}
	if opts.Verbose {
		utils.SetLogLevel("debug")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("ERROR: Invalid configuration: %v", err)
	}
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(cfg.OutDir, fmt.Sprintf("%s-model-%d", cfg.Reduction.Method.Short(), cfg.Seed))
	}

	log.Printf("Gene: %s\n", cfg.Gene)
	log.Printf("Method: %s (K=%d)\n", cfg.Reduction.Method, cfg.Reduction.Components)
	log.Printf("Output model: %s\n", outputDir)
	log.Println()

	startTime := time.Now()

	// Step 1: Load training data
	log.Println("Step 1: Loading training data...")
	ds, err := dataset.Load(cfg.DataDir, cfg.Gene)
	if err != nil {
		log.Fatalf("ERROR: Failed to load dataset: %v", err)
	}
	benign, pathogenic := ds.Counts()
	log.Printf("Found %d variants (%d benign, %d pathogenic), %d frames each, %d features\n",
		len(ds.Variants), benign, pathogenic, ds.FramesPerVariant, ds.FeatureDim)
	log.Println()

	// Step 2: Fit the pipeline
	log.Println("Step 2: Fitting reducer and classifier...")
	pipeline, err := mil.NewPipeline(cfg, utils.GetLogger())
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	report, err := pipeline.Fit(ds)
	if err != nil {
		log.Fatalf("ERROR: Training failed: %v", err)
	}
	log.Println()

	// Step 3: Save model
	log.Println("Step 3: Saving model to disk...")
	if err := pipeline.Save(outputDir); err != nil {
		log.Fatalf("ERROR: Failed to save model: %v", err)
	}
	if err := cfg.Save(filepath.Join(outputDir, "config.yaml")); err != nil {
		log.Printf("WARNING: Failed to archive configuration: %v\n", err)
	}
	log.Printf("Model saved to: %s\n", outputDir)
	log.Println()

	printTrainingSummary(report, startTime)
}

func parseFlags() Options {
	opts := Options{}

	flag.StringVar(&opts.ConfigPath, "config", "config.yaml", "Path to YAML configuration")
	flag.StringVar(&opts.Gene, "gene", "", "Gene to train on")
	flag.StringVar(&opts.Method, "method", "", "Reduction method: pca, ae or aerf")
	flag.Int64Var(&opts.Seed, "seed", -1, "Random seed")
	flag.StringVar(&opts.OutputDir, "output", "", "Model folder (default <out>/<method>-model-<seed>)")
	flag.BoolVar(&opts.Verbose, "verbose", false, "Enable verbose logging")

	flag.Parse()

	return opts
}

func printTrainingSummary(report *mil.TrainingReport, startTime time.Time) {
	log.Println("=== Training Summary ===")
	log.Printf("Variants: %d\n", report.Variants)
	log.Printf("Frames: %d (+%d synthetic)\n", report.Frames, report.Synthetic)
	if len(report.ReducerLosses) > 0 {
		log.Printf("Reducer loss: %.5f -> %.5f\n", report.ReducerLosses[0], report.ReducerLosses[len(report.ReducerLosses)-1])
	}
	if len(report.Selected) > 0 {
		log.Printf("Selected dimensions: %v\n", report.Selected)
	}
	losses := stats.Float64Data(report.ClassifierLosses)
	minLoss, _ := losses.Min()
	median, _ := losses.Median()
	log.Printf("Classifier loss: first=%.5f median=%.5f min=%.5f final=%.5f\n",
		report.ClassifierLosses[0], median, minLoss, report.FinalLoss)
	if report.FinalLoss > report.ClassifierLosses[0] {
		log.Println("WARNING: Classifier loss increased; consider a lower learning rate")
	}
	log.Printf("Processing time: %.2f seconds\n", time.Since(startTime).Seconds())
	os.Stdout.Sync()
}
