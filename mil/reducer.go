package mil

import (
	"io"
	"log/slog"

	"github.com/mdobak/go-xerrors"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/stat"

	"variant-mil/config"
	"variant-mil/models"
	"variant-mil/utils"
)

// Reducer maps D-dimensional frames to a fixed K-dimensional embedding.
//
// Fit receives the variant id of every row in groups; methods that need to
// know which frames belong together (the lagged autoencoder, the selector)
// use it, the linear projection ignores it. After Fit the mapping is frozen:
// Transform is deterministic and a reducer restored with Load produces the
// same output as the one that was saved.
type Reducer interface {
	Method() config.Method
	Components() int
	Fit(x [][]float64, groups []string) error
	Transform(x [][]float64) ([][]float64, error)
	Save(w io.Writer) error
	Load(r io.Reader) error
}

// Seed offsets keep the random streams of different components independent
// while deriving all of them from the one run seed.
const (
	seedOffsetReducer    = 1
	seedOffsetSelector   = 2
	seedOffsetOversample = 3
	seedOffsetClassifier = 4
)

// NewReducer builds the unfitted reducer selected by cfg.Reduction.Method.
func NewReducer(cfg *config.Config, logger *slog.Logger) (Reducer, error) {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	rc := cfg.Reduction
	seed := cfg.Seed + seedOffsetReducer

	switch rc.Method {
	case config.MethodLinear:
		return NewPCA(rc.Components, rc.Whiten), nil
	case config.MethodAutoencoder:
		return NewAutoencoder(rc.Components, rc.Autoencoder, cfg.Training, rc.Whiten, seed, logger), nil
	case config.MethodAutoencoderSelector:
		if rc.Components > rc.Intermediate {
			return nil, xerrors.Newf("cannot select %d components from %d compressed features: %w",
				rc.Components, rc.Intermediate, models.ErrConfiguration)
		}
		ae := NewAutoencoder(rc.Intermediate, rc.Autoencoder, cfg.Training, false, seed, logger)
		return NewSelector(rc.Components, ae, rc.Selector, cfg.Seed+seedOffsetSelector, logger), nil
	}
	return nil, xerrors.Newf("unknown reduction method %q: %w", rc.Method, models.ErrConfiguration)
}

// whitening rescales each embedding dimension to unit variance using the
// spread observed on the training embedding.
type whitening struct {
	Scale []float64 `msgpack:"scale"`
}

func (w *whitening) fit(embedding [][]float64) {
	if len(embedding) == 0 {
		return
	}
	width := len(embedding[0])
	w.Scale = make([]float64, width)
	column := make([]float64, len(embedding))
	for j := 0; j < width; j++ {
		for i, row := range embedding {
			column[i] = row[j]
		}
		w.Scale[j] = stat.PopStdDev(column, nil)
		if w.Scale[j] < minStddev {
			w.Scale[j] = 1
		}
	}
}

func (w *whitening) apply(embedding [][]float64) {
	if len(w.Scale) == 0 {
		return
	}
	for _, row := range embedding {
		for j := range row {
			row[j] /= w.Scale[j]
		}
	}
}

func encodeState(w io.Writer, state any) error {
	if err := msgpack.NewEncoder(w).Encode(state); err != nil {
		return xerrors.Newf("encode reducer state: %w", err)
	}
	return nil
}

func decodeState(r io.Reader, state any) error {
	if err := msgpack.NewDecoder(r).Decode(state); err != nil {
		return xerrors.Newf("decode reducer state: %w", err)
	}
	return nil
}
