package mil

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mdobak/go-xerrors"
	"github.com/vmihailenco/msgpack/v5"

	"variant-mil/config"
	"variant-mil/dataset"
	"variant-mil/models"
	"variant-mil/utils"
)

const (
	manifestFile        = "manifest.msgpack"
	rawScalerFile       = "scaler-raw.msgpack"
	reducerFile         = "reducer.msgpack"
	embeddingScalerFile = "scaler-embedding.msgpack"
	classifierFile      = "classifier.msgpack"
)

// Pipeline chains the fitted components:
//
//	frames -> Scaler -> Reducer -> Scaler -> Classifier -> Aggregator
//
// with SMOTE between the second scaler and the classifier during Fit only.
// Both scalers and the reducer are fitted on the training frames and frozen
// afterwards, so Predict never sees statistics of the data it scores.
type Pipeline struct {
	cfg    *config.Config
	logger *slog.Logger

	rawScaler       *Scaler
	reducer         Reducer
	embeddingScaler *Scaler
	classifier      *Classifier
	aggregator      *Aggregator
}

// TrainingReport summarises one Fit.
type TrainingReport struct {
	Variants         int
	Frames           int
	Synthetic        int
	ReducerLosses    []float64
	ClassifierLosses []float64
	FinalLoss        float64
	// Selected lists the kept intermediate dimensions for the selector method.
	Selected []int
}

type manifest struct {
	Method     config.Method `msgpack:"method"`
	Components int           `msgpack:"components"`
	FeatureDim int           `msgpack:"feature_dim"`
}

// NewPipeline validates cfg and builds the unfitted components.
func NewPipeline(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reducer, err := NewReducer(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:             cfg,
		logger:          logger.With("component", "pipeline"),
		rawScaler:       &Scaler{},
		reducer:         reducer,
		embeddingScaler: &Scaler{},
		aggregator:      NewAggregator(cfg.Aggregation),
	}, nil
}

// Reducer exposes the reducer, mainly for its diagnostics.
func (p *Pipeline) Reducer() Reducer { return p.reducer }

// Fitted reports whether Predict can be called.
func (p *Pipeline) Fitted() bool { return p.classifier != nil }

// Fit trains every component on ds.
func (p *Pipeline) Fit(ds *dataset.Dataset) (*TrainingReport, error) {
	x := ds.Matrix()
	groups := ds.Groups()
	labels := ds.FrameLabels()
	p.logger.Info("fitting pipeline",
		"gene", ds.Gene,
		"method", p.reducer.Method(),
		"variants", len(ds.Variants),
		"frames", len(x))

	scaled, err := p.rawScaler.FitTransform(x)
	if err != nil {
		return nil, err
	}
	if err := p.reducer.Fit(scaled, groups); err != nil {
		return nil, err
	}
	embedded, err := p.reducer.Transform(scaled)
	if err != nil {
		return nil, err
	}
	embedded, err = p.embeddingScaler.FitTransform(embedded)
	if err != nil {
		return nil, err
	}

	train := &Resampled{X: embedded, Labels: labels, OneHot: oneHot(labels)}
	if p.cfg.Oversampling.Enabled {
		sampler := NewOversampler(p.cfg.Oversampling.Neighbors, p.cfg.Seed+seedOffsetOversample)
		if train, err = sampler.FitResample(embedded, labels); err != nil {
			return nil, err
		}
		p.logger.Info("oversampled minority class", "synthetic", train.Synthetic, "frames", len(train.X))
	}

	classifier, err := NewClassifier(p.reducer.Components(), p.cfg.Classifier,
		p.cfg.Training.LearningRate, p.cfg.Seed+seedOffsetClassifier, p.logger)
	if err != nil {
		return nil, err
	}
	weights := map[models.Label]float64{
		models.Benign:     p.cfg.ClassWeight(models.Benign),
		models.Pathogenic: p.cfg.ClassWeight(models.Pathogenic),
	}
	losses, err := classifier.Fit(train.X, train.OneHot, weights, p.cfg.Training.Epochs, p.cfg.Training.BatchSize)
	if err != nil {
		return nil, err
	}
	p.classifier = classifier

	report := &TrainingReport{
		Variants:         len(ds.Variants),
		Frames:           len(x),
		Synthetic:        train.Synthetic,
		ClassifierLosses: losses,
		FinalLoss:        losses[len(losses)-1],
	}
	switch r := p.reducer.(type) {
	case *Autoencoder:
		report.ReducerLosses = r.Losses()
	case *Selector:
		report.ReducerLosses = r.ae.Losses()
		report.Selected = r.Selected()
	}
	return report, nil
}

// Embed returns the standardised embedding of every frame of ds, in the row
// order of ds.Matrix.
func (p *Pipeline) Embed(ds *dataset.Dataset) ([][]float64, error) {
	scaled, err := p.rawScaler.Transform(ds.Matrix())
	if err != nil {
		return nil, err
	}
	embedded, err := p.reducer.Transform(scaled)
	if err != nil {
		return nil, err
	}
	return p.embeddingScaler.Transform(embedded)
}

// PredictFrames returns the classifier output for every frame of ds.
func (p *Pipeline) PredictFrames(ds *dataset.Dataset) ([][]float64, error) {
	if !p.Fitted() {
		return nil, xerrors.Newf("pipeline predict: %w", models.ErrNotFitted)
	}
	embedded, err := p.Embed(ds)
	if err != nil {
		return nil, err
	}
	return p.classifier.Predict(embedded)
}

// Predict returns one verdict per variant of ds, in dataset order.
func (p *Pipeline) Predict(ds *dataset.Dataset) ([]models.Verdict, error) {
	probs, err := p.PredictFrames(ds)
	if err != nil {
		return nil, err
	}
	return p.aggregator.AggregateAll(ds.Frames(), probs)
}

// Save writes every fitted component into dir.
func (p *Pipeline) Save(dir string) error {
	if !p.Fitted() {
		return xerrors.Newf("save pipeline: %w", models.ErrNotFitted)
	}
	if err := utils.CreateFolder(dir); err != nil {
		return xerrors.Newf("create model folder %s: %w", dir, err)
	}

	m := manifest{
		Method:     p.reducer.Method(),
		Components: p.reducer.Components(),
		FeatureDim: len(p.rawScaler.Mean),
	}
	// The manifest goes last so a folder with a manifest always holds a
	// complete set of components.
	blobs := []struct {
		name   string
		encode func(*bytes.Buffer) error
	}{
		{rawScalerFile, func(b *bytes.Buffer) error { return msgpack.NewEncoder(b).Encode(p.rawScaler) }},
		{reducerFile, func(b *bytes.Buffer) error { return p.reducer.Save(b) }},
		{embeddingScalerFile, func(b *bytes.Buffer) error { return msgpack.NewEncoder(b).Encode(p.embeddingScaler) }},
		{classifierFile, func(b *bytes.Buffer) error { return p.classifier.Save(b) }},
		{manifestFile, func(b *bytes.Buffer) error { return msgpack.NewEncoder(b).Encode(m) }},
	}
	for _, blob := range blobs {
		var buf bytes.Buffer
		if err := blob.encode(&buf); err != nil {
			return xerrors.Newf("encode %s: %w", blob.name, err)
		}
		if err := utils.WriteFileAtomic(filepath.Join(dir, blob.name), buf.Bytes()); err != nil {
			return xerrors.Newf("write %s: %w", blob.name, err)
		}
	}
	p.logger.Info("saved model", "dir", dir)
	return nil
}

// LoadPipeline restores a pipeline saved by Save. cfg must select the same
// reduction method the model was trained with.
func LoadPipeline(dir string, cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	p, err := NewPipeline(cfg, logger)
	if err != nil {
		return nil, err
	}
	read := func(name string) (*bytes.Reader, error) {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			return nil, xerrors.Newf("no saved %s in %s: %w", name, dir, models.ErrNotFitted)
		}
		if err != nil {
			return nil, xerrors.Newf("read %s: %w", name, err)
		}
		return bytes.NewReader(data), nil
	}

	r, err := read(manifestFile)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := msgpack.NewDecoder(r).Decode(&m); err != nil {
		return nil, xerrors.Newf("decode manifest: %w", err)
	}
	if m.Method != cfg.Reduction.Method || m.Components != cfg.Reduction.Components {
		return nil, xerrors.Newf("saved model uses %s with %d components, configuration asks for %s with %d: %w",
			m.Method, m.Components, cfg.Reduction.Method, cfg.Reduction.Components, models.ErrConfiguration)
	}

	for _, s := range []struct {
		name   string
		scaler *Scaler
	}{{rawScalerFile, p.rawScaler}, {embeddingScalerFile, p.embeddingScaler}} {
		r, err := read(s.name)
		if err != nil {
			return nil, err
		}
		if err := msgpack.NewDecoder(r).Decode(s.scaler); err != nil {
			return nil, xerrors.Newf("decode %s: %w", s.name, err)
		}
	}
	if len(p.rawScaler.Mean) != m.FeatureDim || len(p.embeddingScaler.Mean) != m.Components {
		return nil, xerrors.Newf("saved scalers do not match the manifest: %w", models.ErrDataShape)
	}

	if r, err = read(reducerFile); err != nil {
		return nil, err
	}
	if err := p.reducer.Load(r); err != nil {
		return nil, err
	}

	if r, err = read(classifierFile); err != nil {
		return nil, err
	}
	classifier, err := LoadClassifier(r, logger)
	if err != nil {
		return nil, err
	}
	if classifier.InputDim() != p.reducer.Components() {
		return nil, xerrors.Newf("classifier expects %d features but the reducer produces %d: %w",
			classifier.InputDim(), p.reducer.Components(), models.ErrConfiguration)
	}
	p.classifier = classifier
	p.logger.Info("loaded model", "dir", dir, "method", m.Method)
	return p, nil
}
