package mil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"variant-mil/config"
	"variant-mil/dataset"
	"variant-mil/models"
)

func endToEndData() (train, score *dataset.Dataset) {
	jitter := []float64{0, 0.1, -0.1, 0.05}
	bag := func(id string, label models.Label, centres ...float64) dataset.Variant {
		v := dataset.Variant{ID: id, Label: label}
		for i, j := range jitter {
			c := centres[i%len(centres)]
			v.Frames = append(v.Frames, []float64{c + j, c - j})
		}
		return v
	}
	a := bag("A", models.Benign, -2)
	b := bag("B", models.Pathogenic, 2)
	c := bag("C", models.Benign, -2, 2)

	// C mixes both centres and is never trained on, so its verdict shows how
	// an ambiguous unseen variant is scored while A and B stay balanced.
	train = &dataset.Dataset{Gene: "TEST", Variants: []dataset.Variant{a, b}}
	score = &dataset.Dataset{Gene: "TEST", Variants: []dataset.Variant{a, b, c}}
	for _, d := range []*dataset.Dataset{train, score} {
		if err := d.Validate(); err != nil {
			panic(err)
		}
	}
	return train, score
}

func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	train, score := endToEndData()
	cfg := smallConfig(config.MethodLinear)
	cfg.Training.Epochs = 300
	cfg.Training.BatchSize = 8

	p, err := NewPipeline(cfg, nil)
	if err != nil {
		t.Fatalf("NewPipeline returned error: %v", err)
	}
	if _, err := p.Predict(score); !errors.Is(err, models.ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted before Fit, got %v", err)
	}
	report, err := p.Fit(train)
	if err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	if report.Frames != 8 || report.Synthetic != 0 || len(report.ClassifierLosses) != 300 {
		t.Fatalf("unexpected report: %+v", report)
	}

	verdicts, err := p.Predict(score)
	if err != nil {
		t.Fatalf("Predict returned error: %v", err)
	}
	if len(verdicts) != 3 {
		t.Fatalf("expected 3 verdicts, got %d", len(verdicts))
	}
	a, b, c := verdicts[0], verdicts[1], verdicts[2]
	if a.VariantID != "A" || a.Decision != models.DecisionUnknown {
		t.Fatalf("benign variant: %+v", a)
	}
	if b.VariantID != "B" || b.Decision != models.DecisionDeleterious {
		t.Fatalf("pathogenic variant: %+v", b)
	}
	if !(a.Confidence < c.Confidence && c.Confidence < b.Confidence) {
		t.Fatalf("ambiguous confidence %v not strictly between %v and %v", c.Confidence, a.Confidence, b.Confidence)
	}

	embedding, err := p.Embed(score)
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if len(embedding) != 12 || len(embedding[0]) != 2 {
		t.Fatalf("unexpected embedding shape %d x %d", len(embedding), len(embedding[0]))
	}
}

func TestPipelineSaveLoadAllMethods(t *testing.T) {
	t.Parallel()

	for _, method := range []config.Method{config.MethodLinear, config.MethodAutoencoder, config.MethodAutoencoderSelector} {
		method := method
		t.Run(method.Short(), func(t *testing.T) {
			t.Parallel()

			ds := threeVariants(12)
			cfg := smallConfig(method)
			cfg.Training.Epochs = 10
			cfg.Oversampling.Enabled = true
			p, err := NewPipeline(cfg, nil)
			if err != nil {
				t.Fatalf("NewPipeline returned error: %v", err)
			}
			report, err := p.Fit(ds)
			if err != nil {
				t.Fatalf("Fit returned error: %v", err)
			}
			if report.Synthetic != 12 {
				t.Fatalf("expected 12 synthetic pathogenic frames, got %d", report.Synthetic)
			}
			if method != config.MethodLinear && len(report.ReducerLosses) != 10 {
				t.Fatalf("expected reducer losses, got %d", len(report.ReducerLosses))
			}
			if method == config.MethodAutoencoderSelector && len(report.Selected) != 2 {
				t.Fatalf("expected 2 selected dimensions, got %v", report.Selected)
			}
			want, err := p.PredictFrames(ds)
			if err != nil {
				t.Fatalf("PredictFrames returned error: %v", err)
			}

			dir := filepath.Join(t.TempDir(), "model")
			if err := p.Save(dir); err != nil {
				t.Fatalf("Save returned error: %v", err)
			}
			loaded, err := LoadPipeline(dir, cfg, nil)
			if err != nil {
				t.Fatalf("LoadPipeline returned error: %v", err)
			}
			got, err := loaded.PredictFrames(ds)
			if err != nil {
				t.Fatalf("PredictFrames returned error: %v", err)
			}
			assertSameMatrix(t, want, got)
		})
	}
}

func TestPipelineIsDeterministic(t *testing.T) {
	t.Parallel()

	ds := threeVariants(8)
	run := func() []models.Verdict {
		cfg := smallConfig(config.MethodAutoencoder)
		cfg.Training.Epochs = 5
		p, err := NewPipeline(cfg, nil)
		if err != nil {
			t.Fatalf("NewPipeline returned error: %v", err)
		}
		if _, err := p.Fit(ds); err != nil {
			t.Fatalf("Fit returned error: %v", err)
		}
		v, err := p.Predict(ds)
		if err != nil {
			t.Fatalf("Predict returned error: %v", err)
		}
		return v
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("verdict %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestLoadPipelineErrors(t *testing.T) {
	t.Parallel()

	cfg := smallConfig(config.MethodLinear)
	if _, err := LoadPipeline(t.TempDir(), cfg, nil); !errors.Is(err, models.ErrNotFitted) {
		t.Fatalf("empty model folder should be ErrNotFitted, got %v", err)
	}

	ds := threeVariants(6)
	p, err := NewPipeline(cfg, nil)
	if err != nil {
		t.Fatalf("NewPipeline returned error: %v", err)
	}
	if _, err := p.Fit(ds); err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}
	dir := t.TempDir()
	if err := p.Save(dir); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	other := smallConfig(config.MethodAutoencoder)
	if _, err := LoadPipeline(dir, other, nil); !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("method mismatch should be ErrConfiguration, got %v", err)
	}

	bad := smallConfig(config.MethodLinear)
	bad.Gene = ""
	if _, err := NewPipeline(bad, nil); !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("missing gene should be ErrConfiguration, got %v", err)
	}
}

func TestPipelineSaveWritesManifestLast(t *testing.T) {
	t.Parallel()

	train, _ := endToEndData()
	cfg := smallConfig(config.MethodLinear)
	p, err := NewPipeline(cfg, nil)
	if err != nil {
		t.Fatalf("NewPipeline returned error: %v", err)
	}
	if _, err := p.Fit(train); err != nil {
		t.Fatalf("Fit returned error: %v", err)
	}

	// A directory in the way of the classifier's temp file makes that write fail.
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, classifierFile+".tmp"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := p.Save(dir); err == nil {
		t.Fatalf("expected Save to fail when the classifier cannot be written")
	}
	if _, err := os.Stat(filepath.Join(dir, manifestFile)); !os.IsNotExist(err) {
		t.Fatalf("manifest written although the save failed: %v", err)
	}
	if _, err := LoadPipeline(dir, cfg, nil); !errors.Is(err, models.ErrNotFitted) {
		t.Fatalf("partial folder should load as ErrNotFitted, got %v", err)
	}

	if err := os.Remove(filepath.Join(dir, classifierFile+".tmp")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := p.Save(dir); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if _, err := LoadPipeline(dir, cfg, nil); err != nil {
		t.Fatalf("LoadPipeline returned error: %v", err)
	}
}
