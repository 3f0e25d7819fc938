package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
	"gopkg.in/yaml.v3"

	"variant-mil/models"
)

// Method selects the dimensionality reduction strategy.
type Method string

const (
	MethodLinear              Method = "linear"
	MethodAutoencoder         Method = "autoencoder"
	MethodAutoencoderSelector Method = "autoencoder+selector"
)

// ParseMethod accepts the canonical names and the short aliases pca, ae and aerf.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear", "pca":
		return MethodLinear, nil
	case "autoencoder", "ae":
		return MethodAutoencoder, nil
	case "autoencoder+selector", "aerf", "ae+rf":
		return MethodAutoencoderSelector, nil
	}
	return "", xerrors.Newf("unknown reduction method %q: %w", s, models.ErrConfiguration)
}

// Short is the tag used in output file names.
func (m Method) Short() string {
	switch m {
	case MethodLinear:
		return "pca"
	case MethodAutoencoder:
		return "ae"
	case MethodAutoencoderSelector:
		return "aerf"
	}
	return string(m)
}

// Aggregation strategies for collapsing frame probabilities.
const (
	AggregateMean       = "mean"
	AggregatePercentile = "percentile"
)

// Config holds every option recognised by the pipeline and its tools.
type Config struct {
	Gene     string `yaml:"gene"`
	DataDir  string `yaml:"data_dir"`
	OutDir   string `yaml:"out_dir"`
	Database string `yaml:"database"`
	Seed     int64  `yaml:"seed"`
	Cached   bool   `yaml:"cached"`
	Verbose  bool   `yaml:"verbose"`
	Plot     bool   `yaml:"plot"`

	Reduction    ReductionConfig    `yaml:"reduction"`
	Classifier   ClassifierConfig   `yaml:"classifier"`
	Training     TrainingConfig     `yaml:"training"`
	Oversampling OversamplingConfig `yaml:"oversampling"`
	Aggregation  AggregationConfig  `yaml:"aggregation"`
}

type ReductionConfig struct {
	Method     Method `yaml:"method"`
	Components int    `yaml:"components"`
	Whiten     bool   `yaml:"whiten"`
	// Intermediate is the autoencoder width used before feature selection.
	Intermediate int               `yaml:"intermediate"`
	Autoencoder  AutoencoderConfig `yaml:"autoencoder"`
	Selector     SelectorConfig    `yaml:"selector"`
}

type AutoencoderConfig struct {
	Hidden  int     `yaml:"hidden"`
	Units   int     `yaml:"units"`
	L1      float64 `yaml:"l1"`
	L2      float64 `yaml:"l2"`
	Dropout float64 `yaml:"dropout"`
	// Lag pairs frame t with frame t+Lag of the same variant as the
	// reconstruction target. Zero trains a plain autoencoder.
	Lag int `yaml:"lag"`
}

type SelectorConfig struct {
	Trees        int     `yaml:"trees"`
	MaxDepth     int     `yaml:"max_depth"`
	MinLeaf      int     `yaml:"min_leaf"`
	TestFraction float64 `yaml:"test_fraction"`
	Repeats      int     `yaml:"repeats"`
}

type ClassifierConfig struct {
	Hidden     int     `yaml:"hidden"`
	Units      int     `yaml:"units"`
	Activation string  `yaml:"activation"`
	L1         float64 `yaml:"l1"`
	L2         float64 `yaml:"l2"`
	Dropout    float64 `yaml:"dropout"`
}

type TrainingConfig struct {
	Epochs       int             `yaml:"epochs"`
	BatchSize    int             `yaml:"batch_size"`
	LearningRate float64         `yaml:"learning_rate"`
	ClassWeights map[int]float64 `yaml:"class_weights"`
}

type OversamplingConfig struct {
	Enabled   bool `yaml:"enabled"`
	Neighbors int  `yaml:"neighbors"`
}

type AggregationConfig struct {
	Strategy             string  `yaml:"strategy"`
	BenignPercentile     float64 `yaml:"benign_percentile"`
	PathogenicPercentile float64 `yaml:"pathogenic_percentile"`
}

// Default returns the settings of the published study.
func Default() *Config {
	return &Config{
		DataDir:  "data",
		OutDir:   "out/mlc-pred",
		Database: "out/mlc-pred/runs.db",
		Reduction: ReductionConfig{
			Method:       MethodAutoencoder,
			Components:   6,
			Intermediate: 100,
			Autoencoder: AutoencoderConfig{
				Hidden:  2,
				Units:   1000,
				Dropout: 0.1,
				Lag:     1,
			},
			Selector: SelectorConfig{
				Trees:        50,
				MinLeaf:      1,
				TestFraction: 0.25,
				Repeats:      5,
			},
		},
		Classifier: ClassifierConfig{
			Hidden:     3,
			Units:      128,
			Activation: "leaky_relu",
			Dropout:    0.2,
		},
		Training: TrainingConfig{
			Epochs:       100,
			BatchSize:    512,
			LearningRate: 0.001,
			ClassWeights: map[int]float64{0: 1, 1: 1},
		},
		Oversampling: OversamplingConfig{
			Enabled:   true,
			Neighbors: 5,
		},
		Aggregation: AggregationConfig{
			Strategy:             AggregateMean,
			BenignPercentile:     75,
			PathogenicPercentile: 50,
		},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies .env
// and MIL_* environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, xerrors.Newf("parse %s: %v: %w", path, err, models.ErrConfiguration)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MIL_GENE"); v != "" {
		c.Gene = v
	}
	if v := os.Getenv("MIL_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("MIL_OUT_DIR"); v != "" {
		c.OutDir = v
	}
	if v := os.Getenv("MIL_DATABASE"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("MIL_METHOD"); v != "" {
		m, err := ParseMethod(v)
		if err != nil {
			return err
		}
		c.Reduction.Method = m
	}
	if v := os.Getenv("MIL_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return xerrors.Newf("MIL_SEED=%q: %w", v, models.ErrConfiguration)
		}
		c.Seed = seed
	}
	if v := os.Getenv("MIL_CACHED"); v != "" {
		cached, err := strconv.ParseBool(v)
		if err != nil {
			return xerrors.Newf("MIL_CACHED=%q: %w", v, models.ErrConfiguration)
		}
		c.Cached = cached
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// YAML renders the configuration, used to archive it alongside a run.
func (c *Config) YAML() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	return string(data)
}

// ClassWeight returns the loss weight of a class, 1 when unset.
func (c *Config) ClassWeight(label models.Label) float64 {
	if w, ok := c.Training.ClassWeights[int(label)]; ok {
		return w
	}
	return 1
}

// Validate checks the options that can be verified before any data is read.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return xerrors.Newf(format+": %w", append(args, models.ErrConfiguration)...)
	}

	if strings.TrimSpace(c.Gene) == "" {
		return invalid("gene selection is required")
	}
	if _, err := ParseMethod(string(c.Reduction.Method)); err != nil {
		return err
	}
	if c.Reduction.Components <= 0 {
		return invalid("reduction.components must be positive, got %d", c.Reduction.Components)
	}
	if c.Reduction.Method == MethodAutoencoderSelector && c.Reduction.Components > c.Reduction.Intermediate {
		return invalid("cannot select %d components from %d compressed features",
			c.Reduction.Components, c.Reduction.Intermediate)
	}
	if c.Reduction.Method != MethodLinear {
		ae := c.Reduction.Autoencoder
		if ae.Hidden < 0 || (ae.Hidden > 0 && ae.Units <= 0) {
			return invalid("autoencoder needs positive units for %d hidden layers", ae.Hidden)
		}
		if ae.Lag < 0 {
			return invalid("autoencoder lag must be >= 0, got %d", ae.Lag)
		}
		if err := checkRegularisation("autoencoder", ae.L1, ae.L2, ae.Dropout); err != nil {
			return err
		}
	}
	if c.Reduction.Method == MethodAutoencoderSelector {
		s := c.Reduction.Selector
		if s.Trees <= 0 || s.Repeats <= 0 {
			return invalid("selector needs positive trees and repeats")
		}
		if s.TestFraction <= 0 || s.TestFraction >= 1 {
			return invalid("selector.test_fraction must be in (0, 1), got %g", s.TestFraction)
		}
	}

	cl := c.Classifier
	if cl.Hidden < 0 || (cl.Hidden > 0 && cl.Units <= 0) {
		return invalid("classifier needs positive units for %d hidden layers", cl.Hidden)
	}
	switch strings.ToLower(cl.Activation) {
	case "", "leaky_relu", "leaky-relu", "relu", "tanh":
	default:
		return invalid("unsupported classifier activation %q", cl.Activation)
	}
	if err := checkRegularisation("classifier", cl.L1, cl.L2, cl.Dropout); err != nil {
		return err
	}

	t := c.Training
	if t.Epochs <= 0 || t.BatchSize <= 0 {
		return invalid("epochs and batch_size must be positive")
	}
	if t.LearningRate <= 0 {
		return invalid("learning_rate must be positive, got %g", t.LearningRate)
	}
	for class, w := range t.ClassWeights {
		if class != 0 && class != 1 {
			return invalid("class weight for unknown class %d", class)
		}
		if w < 0 {
			return invalid("class weight for class %d is negative", class)
		}
	}

	if c.Oversampling.Enabled && c.Oversampling.Neighbors <= 0 {
		return invalid("oversampling.neighbors must be positive")
	}

	switch c.Aggregation.Strategy {
	case "", AggregateMean:
	case AggregatePercentile:
		for _, p := range []float64{c.Aggregation.BenignPercentile, c.Aggregation.PathogenicPercentile} {
			if p <= 0 || p > 100 {
				return invalid("percentile %g outside (0, 100]", p)
			}
		}
	default:
		return invalid("unknown aggregation strategy %q", c.Aggregation.Strategy)
	}
	return nil
}

func checkRegularisation(section string, l1, l2, dropout float64) error {
	if l1 < 0 || l2 < 0 {
		return xerrors.Newf("%s: l1/l2 must be >= 0: %w", section, models.ErrConfiguration)
	}
	if dropout < 0 || dropout >= 1 {
		return xerrors.Newf("%s: dropout %g outside [0, 1): %w", section, dropout, models.ErrConfiguration)
	}
	return nil
}

// HyperparameterLog renders the human readable record written next to the
// trained models.
func (c *Config) HyperparameterLog() string {
	var b strings.Builder
	ae := c.Reduction.Autoencoder
	cl := c.Classifier
	t := c.Training

	fmt.Fprintf(&b, "Gene: %s\nMethod: %s\nSeed: %d\n\n", c.Gene, c.Reduction.Method, c.Seed)
	b.WriteString("AE hyperparameters:\n\n")
	fmt.Fprintf(&b, "n_pcs = %d\n", c.Reduction.Components)
	fmt.Fprintf(&b, "n_neurons_ae = %d\n", ae.Units)
	fmt.Fprintf(&b, "n_hiddens_ae = %d\n", ae.Hidden)
	fmt.Fprintf(&b, "l1l2_ae = %s\n", formatL1L2(ae.L1, ae.L2))
	fmt.Fprintf(&b, "dropout_ae = %g\n", ae.Dropout)
	fmt.Fprintf(&b, "lag_ae = %d\n", ae.Lag)
	fmt.Fprintf(&b, "whiten = %t\n", c.Reduction.Whiten)
	if c.Reduction.Method == MethodAutoencoderSelector {
		fmt.Fprintf(&b, "n_compression = %d\n", c.Reduction.Intermediate)
		fmt.Fprintf(&b, "rf_trees = %d\n", c.Reduction.Selector.Trees)
	}
	b.WriteString("\nMLC hyperparameters:\n\n")
	fmt.Fprintf(&b, "n_neurons = %d\n", cl.Units)
	fmt.Fprintf(&b, "n_hiddens = %d\n", cl.Hidden)
	fmt.Fprintf(&b, "activation = %s\n", cl.Activation)
	fmt.Fprintf(&b, "l1l2 = %s\n", formatL1L2(cl.L1, cl.L2))
	fmt.Fprintf(&b, "dropout = %g\n", cl.Dropout)
	b.WriteString("\nTraining:\n\n")
	fmt.Fprintf(&b, "epochs = %d\n", t.Epochs)
	fmt.Fprintf(&b, "batch_size = %d\n", t.BatchSize)
	fmt.Fprintf(&b, "lr = %g\n", t.LearningRate)

	classes := make([]int, 0, len(t.ClassWeights))
	for k := range t.ClassWeights {
		classes = append(classes, k)
	}
	sort.Ints(classes)
	parts := make([]string, len(classes))
	for i, k := range classes {
		parts[i] = fmt.Sprintf("%d:%g", k, t.ClassWeights[k])
	}
	fmt.Fprintf(&b, "weights = {%s}\n", strings.Join(parts, ", "))
	fmt.Fprintf(&b, "smote = %t (k=%d)\n", c.Oversampling.Enabled, c.Oversampling.Neighbors)
	fmt.Fprintf(&b, "aggregation = %s\n", c.Aggregation.Strategy)
	return b.String()
}

func formatL1L2(l1, l2 float64) string {
	if l1 == 0 && l2 == 0 {
		return "None"
	}
	return fmt.Sprintf("(l1=%g, l2=%g)", l1, l2)
}
