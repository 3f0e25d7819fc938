package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"variant-mil/models"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Gene = "TP53"
	return cfg
}

func TestDefaultsMatchStudySettings(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.Reduction.Components != 6 || cfg.Reduction.Autoencoder.Units != 1000 || cfg.Reduction.Autoencoder.Lag != 1 {
		t.Fatalf("unexpected reduction defaults: %+v", cfg.Reduction)
	}
	if cfg.Classifier.Hidden != 3 || cfg.Classifier.Units != 128 || cfg.Classifier.Dropout != 0.2 {
		t.Fatalf("unexpected classifier defaults: %+v", cfg.Classifier)
	}
	if cfg.Training.Epochs != 100 || cfg.Training.BatchSize != 512 || cfg.Training.LearningRate != 0.001 {
		t.Fatalf("unexpected training defaults: %+v", cfg.Training)
	}
	if err := cfg.Validate(); !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("defaults without a gene must not validate, got %v", err)
	}
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("defaults with a gene should validate, got %v", err)
	}
}

func TestParseMethodAliases(t *testing.T) {
	t.Parallel()

	cases := map[string]Method{
		"pca":                  MethodLinear,
		"Linear":               MethodLinear,
		"ae":                   MethodAutoencoder,
		"aerf":                 MethodAutoencoderSelector,
		"autoencoder+selector": MethodAutoencoderSelector,
	}
	for in, want := range cases {
		got, err := ParseMethod(in)
		if err != nil || got != want {
			t.Fatalf("ParseMethod(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseMethod("tica"); !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("unknown method should be ErrConfiguration, got %v", err)
	}
	if MethodAutoencoderSelector.Short() != "aerf" || MethodLinear.Short() != "pca" {
		t.Fatalf("unexpected short names")
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"zero components":        func(c *Config) { c.Reduction.Components = 0 },
		"selector wider than ae": func(c *Config) { c.Reduction.Method = MethodAutoencoderSelector; c.Reduction.Components = 200 },
		"negative lag":           func(c *Config) { c.Reduction.Autoencoder.Lag = -1 },
		"dropout of one":         func(c *Config) { c.Classifier.Dropout = 1 },
		"unknown activation":     func(c *Config) { c.Classifier.Activation = "swish" },
		"zero epochs":            func(c *Config) { c.Training.Epochs = 0 },
		"unknown class weight":   func(c *Config) { c.Training.ClassWeights[2] = 1 },
		"zero neighbours":        func(c *Config) { c.Oversampling.Neighbors = 0 },
		"bad percentile": func(c *Config) {
			c.Aggregation.Strategy = AggregatePercentile
			c.Aggregation.BenignPercentile = 0
		},
		"unknown strategy": func(c *Config) { c.Aggregation.Strategy = "median" },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(cfg)
		if err := cfg.Validate(); !errors.Is(err, models.ErrConfiguration) {
			t.Fatalf("%s: expected ErrConfiguration, got %v", name, err)
		}
	}
}

func TestLoadOverlaysYAMLOnDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
gene: MLH1
seed: 3
reduction:
  method: autoencoder+selector
  components: 4
training:
  epochs: 20
  class_weights:
    1: 2.5
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Gene != "MLH1" || cfg.Seed != 3 || cfg.Reduction.Method != MethodAutoencoderSelector {
		t.Fatalf("YAML values not applied: %+v", cfg)
	}
	if cfg.Reduction.Intermediate != 100 || cfg.Training.BatchSize != 512 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.ClassWeight(models.Pathogenic) != 2.5 || cfg.ClassWeight(models.Benign) != 1 {
		t.Fatalf("unexpected class weights: %v", cfg.Training.ClassWeights)
	}

	saved := filepath.Join(t.TempDir(), "out", "saved.yaml")
	if err := cfg.Save(saved); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	again, err := Load(saved)
	if err != nil {
		t.Fatalf("Load of saved config returned error: %v", err)
	}
	if again.YAML() != cfg.YAML() {
		t.Fatalf("saved configuration does not reload identically")
	}
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Reduction.Components != Default().Reduction.Components {
		t.Fatalf("expected defaults")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("reduction: [unclosed"), 0o644)
	if _, err := Load(bad); !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("malformed YAML should be ErrConfiguration, got %v", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("MIL_GENE", "MSH2")
	t.Setenv("MIL_METHOD", "pca")
	t.Setenv("MIL_SEED", "42")
	t.Setenv("MIL_CACHED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Gene != "MSH2" || cfg.Reduction.Method != MethodLinear || cfg.Seed != 42 || !cfg.Cached {
		t.Fatalf("environment not applied: %+v", cfg)
	}

	t.Setenv("MIL_SEED", "forty-two")
	if _, err := Load(""); !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("bad seed should be ErrConfiguration, got %v", err)
	}
}

func TestHyperparameterLog(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Reduction.Method = MethodAutoencoderSelector
	out := cfg.HyperparameterLog()
	for _, want := range []string{"n_pcs = 6", "n_neurons_ae = 1000", "l1l2 = None", "weights = {0:1, 1:1}", "n_compression = 100"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log is missing %q:\n%s", want, out)
		}
	}
}
