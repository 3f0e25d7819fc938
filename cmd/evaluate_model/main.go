package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"variant-mil/config"
	"variant-mil/dataset"
	"variant-mil/mil"
	"variant-mil/models"
	"variant-mil/utils"
)

// EvaluationConfig holds evaluation parameters
type EvaluationConfig struct {
	ConfigPath string
	Gene       string
	Method     string
	Folds      int
	ReportPath string
	Verbose    bool
}

// ClassMetrics tracks per-class performance
type ClassMetrics struct {
	ClassName     string
	TotalSamples  int
	CorrectCount  int
	Accuracy      float64
	AvgConfidence float64
	ConfidenceStd float64
	Misclassified []MisclassificationInfo
}

// MisclassificationInfo stores details of incorrect calls
type MisclassificationInfo struct {
	Variant    string
	Truth      string
	Decision   string
	Confidence float64
}

// EvaluationReport contains comprehensive evaluation results
type EvaluationReport struct {
	Timestamp       time.Time
	Gene            string
	Method          string
	Folds           int
	TotalSamples    int
	CorrectCount    int
	OverallAccuracy float64
	Sensitivity     float64
	Specificity     float64
	AUC             float64
	ClassMetrics    []ClassMetrics
	ConfusionMatrix map[string]map[string]int
	Verdicts        []models.VerdictRecord
	ProcessingTime  time.Duration
}

func main() {
	evalCfg := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime)
	log.Println("=== Model Evaluation Pipeline ===")

	cfg, err := config.Load(evalCfg.ConfigPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to load configuration: %v", err)
	}
	if evalCfg.Gene != "" {
		cfg.Gene = evalCfg.Gene
	}
	if evalCfg.Method != "" {
		if cfg.Reduction.Method, err = config.ParseMethod(evalCfg.Method); err != nil {
			log.Fatalf("ERROR: %v", err)
		}
	}
	if !evalCfg.Verbose {
		utils.SetLogLevel("warn")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("ERROR: Invalid configuration: %v", err)
	}

	log.Printf("Gene: %s\n", cfg.Gene)
	log.Printf("Method: %s\n", cfg.Reduction.Method)
	log.Println()

	ds, err := dataset.Load(cfg.DataDir, cfg.Gene)
	if err != nil {
		log.Fatalf("ERROR: Failed to load dataset: %v", err)
	}
	folds := evalCfg.Folds
	if folds <= 0 || folds > len(ds.Variants) {
		folds = len(ds.Variants)
	}
	log.Printf("Cross-validating %d variants in %d folds (held-out by variant)\n", len(ds.Variants), folds)
	log.Println()

	report := EvaluationReport{
		Timestamp:       time.Now(),
		Gene:            cfg.Gene,
		Method:          string(cfg.Reduction.Method),
		Folds:           folds,
		ConfusionMatrix: make(map[string]map[string]int),
	}

	fold := assignFolds(ds, folds, cfg.Seed)
	for f := 0; f < folds; f++ {
		train := ds.Subset(func(v dataset.Variant) bool { return fold[v.ID] != f })
		test := ds.Subset(func(v dataset.Variant) bool { return fold[v.ID] == f })
		log.Printf("Fold %d/%d: training on %d variants, scoring %d\n", f+1, folds, len(train.Variants), len(test.Variants))

		pipeline, err := mil.NewPipeline(cfg, utils.GetLogger())
		if err != nil {
			log.Fatalf("ERROR: %v", err)
		}
		if _, err := pipeline.Fit(train); err != nil {
			log.Printf("  WARNING: fold skipped: %v\n", err)
			continue
		}
		verdicts, err := pipeline.Predict(test)
		if err != nil {
			log.Fatalf("ERROR: Prediction failed: %v", err)
		}
		for _, v := range verdicts {
			variant, _ := test.Variant(v.VariantID)
			report.Verdicts = append(report.Verdicts, models.NewVerdictRecord("", cfg.Gene, variant.Truth(), v))
		}
	}

	summarise(&report, ds)
	report.ProcessingTime = time.Since(report.Timestamp)

	printEvaluationReport(report)

	if evalCfg.ReportPath != "" {
		if err := saveReport(report, evalCfg.ReportPath); err != nil {
			log.Printf("WARNING: Failed to save report: %v\n", err)
		} else {
			log.Printf("\nReport saved to: %s\n", evalCfg.ReportPath)
		}
	}

	log.Println()
	printVerdict(report)
}

func parseFlags() EvaluationConfig {
	evalCfg := EvaluationConfig{}

	flag.StringVar(&evalCfg.ConfigPath, "config", "config.yaml", "Path to YAML configuration")
	flag.StringVar(&evalCfg.Gene, "gene", "", "Gene to evaluate")
	flag.StringVar(&evalCfg.Method, "method", "", "Reduction method: pca, ae or aerf")
	flag.IntVar(&evalCfg.Folds, "folds", 0, "Number of folds (0 = leave one variant out)")
	flag.StringVar(&evalCfg.ReportPath, "report", "evaluation_report.json", "Path to save evaluation report (empty to skip)")
	flag.BoolVar(&evalCfg.Verbose, "verbose", false, "Enable verbose logging")

	flag.Parse()

	return evalCfg
}

// assignFolds spreads variants over folds after a seeded shuffle.
func assignFolds(ds *dataset.Dataset, folds int, seed int64) map[string]int {
	rng := rand.New(rand.NewSource(seed))
	out := make(map[string]int, len(ds.Variants))
	for i, j := range rng.Perm(len(ds.Variants)) {
		out[ds.Variants[j].ID] = i % folds
	}
	return out
}

func summarise(report *EvaluationReport, ds *dataset.Dataset) {
	byClass := map[models.Label]*ClassMetrics{
		models.Benign:     {ClassName: "benign"},
		models.Pathogenic: {ClassName: "pathogenic"},
	}
	confidences := map[models.Label][]float64{}

	for _, r := range report.Verdicts {
		variant, _ := ds.Variant(r.VariantID)
		m := byClass[variant.Label]
		m.TotalSamples++
		confidences[variant.Label] = append(confidences[variant.Label], r.Confidence)

		// Rows are the evaluation truth, so wildtype gets its own row.
		if report.ConfusionMatrix[r.Truth] == nil {
			report.ConfusionMatrix[r.Truth] = make(map[string]int)
		}
		report.ConfusionMatrix[r.Truth][r.Decision]++

		want := models.DecisionUnknown
		if variant.Label == models.Pathogenic {
			want = models.DecisionDeleterious
		}
		if models.Decision(r.Decision) == want {
			m.CorrectCount++
		} else {
			m.Misclassified = append(m.Misclassified, MisclassificationInfo{
				Variant:    r.VariantID,
				Truth:      r.Truth,
				Decision:   r.Decision,
				Confidence: r.Confidence,
			})
		}
	}

	for _, label := range []models.Label{models.Benign, models.Pathogenic} {
		m := byClass[label]
		if m.TotalSamples > 0 {
			m.Accuracy = float64(m.CorrectCount) / float64(m.TotalSamples) * 100
		}
		if c := confidences[label]; len(c) > 0 {
			m.AvgConfidence, _ = stats.Mean(c)
			m.ConfidenceStd, _ = stats.StandardDeviationPopulation(c)
		}
		report.ClassMetrics = append(report.ClassMetrics, *m)
		report.TotalSamples += m.TotalSamples
		report.CorrectCount += m.CorrectCount
	}
	if report.TotalSamples > 0 {
		report.OverallAccuracy = float64(report.CorrectCount) / float64(report.TotalSamples) * 100
	}
	report.Specificity = byClass[models.Benign].Accuracy
	report.Sensitivity = byClass[models.Pathogenic].Accuracy
	report.AUC = rankAUC(confidences[models.Pathogenic], confidences[models.Benign])
}

// rankAUC is the probability that a random pathogenic variant scores above a
// random benign one, ties counting half.
func rankAUC(positive, negative []float64) float64 {
	if len(positive) == 0 || len(negative) == 0 {
		return 0
	}
	var wins float64
	for _, p := range positive {
		for _, n := range negative {
			switch {
			case p > n:
				wins++
			case p == n:
				wins += 0.5
			}
		}
	}
	return wins / float64(len(positive)*len(negative))
}

func printEvaluationReport(report EvaluationReport) {
	log.Println()
	log.Println("=" + strings.Repeat("=", 79))
	log.Println("EVALUATION RESULTS")
	log.Println("=" + strings.Repeat("=", 79))
	log.Println()

	log.Printf("Overall Accuracy: %.2f%% (%d/%d correct)\n",
		report.OverallAccuracy, report.CorrectCount, report.TotalSamples)
	log.Printf("Sensitivity: %.2f%%  Specificity: %.2f%%  AUC: %.3f\n",
		report.Sensitivity, report.Specificity, report.AUC)
	log.Printf("Processing Time: %.2f seconds\n", report.ProcessingTime.Seconds())
	log.Println()

	log.Println("Per-Class Performance:")
	log.Println(strings.Repeat("-", 80))
	log.Printf("%-20s %8s %10s %12s\n", "Class", "Accuracy", "Confidence", "Variants")
	log.Println(strings.Repeat("-", 80))
	for _, m := range report.ClassMetrics {
		status := "✓"
		if m.Accuracy < 70 {
			status = "⚠"
		}
		log.Printf("%-20s %7.1f%% %9.3f±%.3f %6d   %s\n",
			m.ClassName, m.Accuracy, m.AvgConfidence, m.ConfidenceStd, m.TotalSamples, status)
	}
	log.Println()

	printConfusionMatrix(report.ConfusionMatrix)
	printMisclassifications(report.ClassMetrics)
}

func printConfusionMatrix(matrix map[string]map[string]int) {
	if len(matrix) == 0 {
		return
	}

	log.Println("Confusion Matrix:")
	log.Println(strings.Repeat("-", 80))

	var truths []string
	for truth := range matrix {
		truths = append(truths, truth)
	}
	sort.Strings(truths)
	decisions := []string{string(models.DecisionUnknown), string(models.DecisionDeleterious)}

	fmt.Printf("%-15s", "Truth \\ Call")
	for _, d := range decisions {
		fmt.Printf(" %12s", d)
	}
	fmt.Println()
	for _, truth := range truths {
		fmt.Printf("%-15s", truth)
		for _, d := range decisions {
			if count := matrix[truth][d]; count > 0 {
				fmt.Printf(" %12d", count)
			} else {
				fmt.Printf(" %12s", ".")
			}
		}
		fmt.Println()
	}
	log.Println()
}

func printMisclassifications(metrics []ClassMetrics) {
	total := 0
	for _, m := range metrics {
		total += len(m.Misclassified)
	}

	if total == 0 {
		log.Println("✓ No misclassifications!")
		return
	}

	log.Printf("Misclassifications (%d total):\n", total)
	log.Println(strings.Repeat("-", 80))
	for _, m := range metrics {
		if len(m.Misclassified) == 0 {
			continue
		}
		log.Printf("\n%s:", m.ClassName)
		for _, misc := range m.Misclassified {
			log.Printf("  %s → called %s (pathogenic confidence %.3f)\n",
				misc.Variant, misc.Decision, misc.Confidence)
		}
	}
	log.Println()
}

func printVerdict(report EvaluationReport) {
	log.Println("=" + strings.Repeat("=", 79))
	log.Println("VERDICT")
	log.Println("=" + strings.Repeat("=", 79))

	var verdict string
	switch {
	case report.AUC >= 0.9:
		verdict = "✓ EXCELLENT"
	case report.AUC >= 0.8:
		verdict = "✓ GOOD"
	case report.AUC >= 0.7:
		verdict = "⚠ FAIR"
	default:
		verdict = "✗ POOR"
	}

	log.Printf("Overall Assessment: %s\n", verdict)
	log.Printf("Accuracy: %.2f%%, AUC: %.3f\n", report.OverallAccuracy, report.AUC)
	log.Println("=" + strings.Repeat("=", 79))
}

func saveReport(report EvaluationReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
