package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mdobak/go-xerrors"

	"variant-mil/config"
	"variant-mil/dataset"
	"variant-mil/db"
	"variant-mil/mil"
	"variant-mil/models"
	"variant-mil/utils"
)

// commonOptions are the flags shared by run and predict. Empty or negative
// values leave the configuration file (and MIL_* environment) untouched.
type commonOptions struct {
	ConfigPath string
	Gene       string
	Method     string
	Seed       int64
	DataDir    string
	OutDir     string
	Cached     bool
	Verbose    bool
	Plot       bool
}

func bindCommonFlags(fs *flag.FlagSet) *commonOptions {
	opts := &commonOptions{}
	fs.StringVar(&opts.ConfigPath, "config", "config.yaml", "Path to YAML configuration")
	fs.StringVar(&opts.Gene, "g", "", "Gene for analysis")
	fs.StringVar(&opts.Method, "m", "", "Reduction method: pca, ae or aerf")
	fs.Int64Var(&opts.Seed, "s", -1, "Random seed")
	fs.StringVar(&opts.DataDir, "data", "", "Data directory holding one folder per gene")
	fs.StringVar(&opts.OutDir, "out", "", "Output directory")
	fs.BoolVar(&opts.Cached, "x", false, "Use the cached model instead of training")
	fs.BoolVar(&opts.Verbose, "v", false, "Verbose logging")
	fs.BoolVar(&opts.Plot, "p", false, "Write embedding dumps for plotting")
	return opts
}

func loadConfig(opts *commonOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Gene != "" {
		cfg.Gene = opts.Gene
	}
	if opts.Method != "" {
		m, err := config.ParseMethod(opts.Method)
		if err != nil {
			return nil, err
		}
		cfg.Reduction.Method = m
	}
	if opts.Seed >= 0 {
		cfg.Seed = opts.Seed
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.OutDir != "" {
		cfg.OutDir = opts.OutDir
	}
	cfg.Cached = cfg.Cached || opts.Cached
	cfg.Verbose = cfg.Verbose || opts.Verbose
	cfg.Plot = cfg.Plot || opts.Plot

	if cfg.Verbose {
		utils.SetLogLevel("debug")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func modelDir(cfg *config.Config) string {
	return filepath.Join(cfg.OutDir, fmt.Sprintf("%s-model-%d", cfg.Reduction.Method.Short(), cfg.Seed))
}

// runPipeline trains (or loads) the model for a gene, classifies every
// variant and records the outcome.
func runPipeline(opts *commonOptions) error {
	ctx := context.Background()
	logger := utils.GetLogger()
	started := time.Now()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "Starting run.",
		slog.String("gene", cfg.Gene),
		slog.String("method", string(cfg.Reduction.Method)),
		slog.Int64("seed", cfg.Seed),
		slog.Bool("cached", cfg.Cached))

	ds, err := dataset.Load(cfg.DataDir, cfg.Gene)
	if err != nil {
		return err
	}
	benign, pathogenic := ds.Counts()
	logger.InfoContext(ctx, "Loaded dataset.",
		slog.Int("variants", len(ds.Variants)),
		slog.Int("benign", benign),
		slog.Int("pathogenic", pathogenic),
		slog.Int("frames_per_variant", ds.FramesPerVariant),
		slog.Int("features", ds.FeatureDim))

	if err := utils.CreateFolder(cfg.OutDir); err != nil {
		return xerrors.Newf("create output folder: %w", err)
	}
	short := cfg.Reduction.Method.Short()
	logPath := filepath.Join(cfg.OutDir, fmt.Sprintf("%s-mlc-input-%d.txt", short, cfg.Seed))
	if err := utils.WriteFileAtomic(logPath, []byte(cfg.HyperparameterLog())); err != nil {
		return xerrors.Newf("write hyperparameter log: %w", err)
	}

	var pipeline *mil.Pipeline
	var report *mil.TrainingReport
	if cfg.Cached {
		if pipeline, err = mil.LoadPipeline(modelDir(cfg), cfg, logger); err != nil {
			return err
		}
	} else {
		if pipeline, err = mil.NewPipeline(cfg, logger); err != nil {
			return err
		}
		if report, err = pipeline.Fit(ds); err != nil {
			return err
		}
		if err := pipeline.Save(modelDir(cfg)); err != nil {
			return err
		}
	}

	verdicts, err := pipeline.Predict(ds)
	if err != nil {
		return err
	}
	run := &models.RunRecord{
		ID:         utils.GenerateRunID(),
		Gene:       cfg.Gene,
		Method:     string(cfg.Reduction.Method),
		Seed:       cfg.Seed,
		Components: cfg.Reduction.Components,
		Cached:     cfg.Cached,
		StartedAt:  started,
		Variants:   len(ds.Variants),
		Frames:     ds.Len(),
		ConfigYAML: cfg.YAML(),
	}
	if report != nil {
		run.FinalLoss = report.FinalLoss
	}
	records := verdictRecords(run.ID, ds, verdicts)
	printVerdicts(records)

	if cfg.Plot {
		embedding, err := pipeline.Embed(ds)
		if err != nil {
			return err
		}
		paths, err := dataset.WriteEmbeddingDumps(cfg.OutDir, short, cfg.Seed, ds, embedding)
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "Wrote embedding dumps.", slog.Any("files", paths))
	}

	run.FinishedAt = time.Now()
	return recordRun(ctx, cfg, run, records)
}

// predictVariants classifies a gene with an existing model without training.
func predictVariants(opts *commonOptions, dir string) error {
	ctx := context.Background()
	logger := utils.GetLogger()
	started := time.Now()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	cfg.Cached = true
	if dir == "" {
		dir = modelDir(cfg)
	}
	ds, err := dataset.Load(cfg.DataDir, cfg.Gene)
	if err != nil {
		return err
	}
	pipeline, err := mil.LoadPipeline(dir, cfg, logger)
	if err != nil {
		return err
	}
	verdicts, err := pipeline.Predict(ds)
	if err != nil {
		return err
	}

	run := &models.RunRecord{
		ID:         utils.GenerateRunID(),
		Gene:       cfg.Gene,
		Method:     string(cfg.Reduction.Method),
		Seed:       cfg.Seed,
		Components: cfg.Reduction.Components,
		Cached:     true,
		StartedAt:  started,
		Variants:   len(ds.Variants),
		Frames:     ds.Len(),
		ConfigYAML: cfg.YAML(),
	}
	records := verdictRecords(run.ID, ds, verdicts)
	printVerdicts(records)
	run.FinishedAt = time.Now()
	logger.InfoContext(ctx, "Classified with saved model.", slog.String("model", dir))
	return recordRun(ctx, cfg, run, records)
}

func verdictRecords(runID string, ds *dataset.Dataset, verdicts []models.Verdict) []models.VerdictRecord {
	records := make([]models.VerdictRecord, len(verdicts))
	for i, v := range verdicts {
		truth := models.Truth("")
		if variant, ok := ds.Variant(v.VariantID); ok {
			truth = variant.Truth()
		}
		records[i] = models.NewVerdictRecord(runID, ds.Gene, truth, v)
	}
	return records
}

// printVerdicts writes the per-variant report table to stdout.
func printVerdicts(records []models.VerdictRecord) {
	fmt.Printf("\n%-16s %-10s %-5s %-9s %-7s %-7s\n", "Variant", "Truth", "Guess", "P", "p(B)", "p(P)")
	for _, r := range records {
		fmt.Printf("%-16s %-10s %-5s %-9.4f %-7.4f %-7.4f\n",
			r.VariantID, r.Truth, models.Decision(r.Decision).Short(), r.Certainty, r.MeanBenign, r.MeanPathogenic)
	}
	fmt.Println()
}

// recordRun writes the verdict CSV and stores the run in SQLite.
func recordRun(ctx context.Context, cfg *config.Config, run *models.RunRecord, records []models.VerdictRecord) error {
	logger := utils.GetLogger()

	csvPath := filepath.Join(cfg.OutDir, fmt.Sprintf("%s-verdicts-%d.csv", cfg.Reduction.Method.Short(), cfg.Seed))
	if err := utils.CreateFolder(cfg.OutDir); err != nil {
		return xerrors.Newf("create output folder: %w", err)
	}
	if err := dataset.WriteVerdicts(csvPath, records); err != nil {
		return err
	}

	client, err := db.NewSQLiteClient(cfg.Database)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.StoreRun(run); err != nil {
		return err
	}
	if err := client.StoreVerdicts(records); err != nil {
		return err
	}

	logger.InfoContext(ctx, "Run recorded.",
		slog.String("run_id", run.ID),
		slog.String("verdicts", csvPath),
		slog.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)))
	return nil
}

// showHistory lists stored runs, or one variant's verdicts across runs.
func showHistory(configPath, gene, variant string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if gene == "" {
		gene = cfg.Gene
	}
	client, err := db.NewSQLiteClient(cfg.Database)
	if err != nil {
		return err
	}
	defer client.Close()

	if variant != "" {
		if gene == "" {
			return xerrors.Newf("variant history needs a gene: %w", models.ErrConfiguration)
		}
		history, err := client.VariantHistory(gene, variant)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s: %d stored verdicts\n", gene, variant, len(history))
		for _, r := range history {
			fmt.Printf("  %s  %-11s confidence=%.4f certainty=%.4f\n", r.RunID, r.Decision, r.Confidence, r.Certainty)
		}
		return nil
	}

	runs, err := client.ListRuns(gene)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s  %-6s %-21s seed=%-4d K=%d variants=%d cached=%t loss=%.4f  %s\n",
			r.ID, r.Gene, r.Method, r.Seed, r.Components, r.Variants, r.Cached, r.FinalLoss,
			r.StartedAt.Local().Format(time.RFC3339))
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs recorded")
	}
	return nil
}
