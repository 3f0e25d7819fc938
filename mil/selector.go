package mil

import (
	"bytes"
	"io"
	"log/slog"
	"math"
	"math/rand"

	"github.com/mdobak/go-xerrors"

	"variant-mil/config"
	"variant-mil/forest"
	"variant-mil/models"
	"variant-mil/utils"
)

// Selector compresses frames with an autoencoder to an intermediate width and
// then keeps the K compressed dimensions that best identify which variant a
// frame came from. A random forest is trained to predict the variant id from
// the compressed frames and each dimension is scored by permutation
// importance on a held-out split.
type Selector struct {
	components int
	ae         *Autoencoder
	opts       config.SelectorConfig
	seed       int64
	logger     *slog.Logger

	selected    []int
	importances []forest.Importance
	accuracy    float64
}

// NewSelector wraps an unfitted autoencoder whose bottleneck is the
// intermediate width.
func NewSelector(components int, ae *Autoencoder, opts config.SelectorConfig, seed int64, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &Selector{
		components: components,
		ae:         ae,
		opts:       opts,
		seed:       seed,
		logger:     logger.With("component", "selector"),
	}
}

func (s *Selector) Method() config.Method { return config.MethodAutoencoderSelector }

func (s *Selector) Components() int { return s.components }

// Selected returns the kept intermediate dimensions, most important first.
func (s *Selector) Selected() []int { return s.selected }

// Importances returns the permutation importance of every intermediate dimension.
func (s *Selector) Importances() []forest.Importance { return s.importances }

// HeldOutAccuracy is the forest's variant-identity accuracy on the held-out split.
func (s *Selector) HeldOutAccuracy() float64 { return s.accuracy }

// Fit trains the autoencoder, then the forest, then ranks dimensions.
func (s *Selector) Fit(x [][]float64, groups []string) error {
	if len(groups) != len(x) {
		return xerrors.Newf("selector needs a variant id per frame, got %d ids for %d frames: %w",
			len(groups), len(x), models.ErrDataShape)
	}
	if s.components > s.ae.Components() {
		return xerrors.Newf("cannot select %d components from %d compressed features: %w",
			s.components, s.ae.Components(), models.ErrConfiguration)
	}
	if err := s.ae.Fit(x, groups); err != nil {
		return err
	}
	compressed, err := s.ae.Transform(x)
	if err != nil {
		return err
	}

	classOf := make(map[string]int)
	labels := make([]int, len(groups))
	for i, g := range groups {
		c, ok := classOf[g]
		if !ok {
			c = len(classOf)
			classOf[g] = c
		}
		labels[i] = c
	}

	rng := rand.New(rand.NewSource(s.seed))
	train, test := splitIndices(len(compressed), s.opts.TestFraction, rng)
	if len(train) == 0 || len(test) == 0 {
		return xerrors.Newf("cannot split %d frames with test fraction %g: %w",
			len(compressed), s.opts.TestFraction, models.ErrDataShape)
	}
	xTrain, yTrain := gather(compressed, labels, train)
	xTest, yTest := gather(compressed, labels, test)

	model, err := forest.Fit(xTrain, yTrain, len(classOf), forest.Options{
		Trees:    s.opts.Trees,
		MaxDepth: s.opts.MaxDepth,
		MinLeaf:  s.opts.MinLeaf,
	}, rng)
	if err != nil {
		return err
	}
	s.accuracy = model.Score(xTest, yTest)
	s.importances = forest.PermutationImportance(model, xTest, yTest, s.opts.Repeats, rng)

	ranked := forest.Rank(s.importances)
	s.selected = make([]int, s.components)
	for i := range s.selected {
		s.selected[i] = ranked[i].Feature
	}
	s.logger.Info("selected compressed dimensions",
		"variants", len(classOf),
		"held_out_accuracy", s.accuracy,
		"selected", s.selected)
	return nil
}

// splitIndices shuffles [0, n) and holds out ceil(fraction*n) indices.
func splitIndices(n int, fraction float64, rng *rand.Rand) (train, test []int) {
	perm := rng.Perm(n)
	held := int(math.Ceil(fraction * float64(n)))
	if held > n {
		held = n
	}
	return perm[held:], perm[:held]
}

func gather(x [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for i, j := range idx {
		xs[i] = x[j]
		ys[i] = y[j]
	}
	return xs, ys
}

// Transform compresses x and keeps the selected dimensions in rank order.
func (s *Selector) Transform(x [][]float64) ([][]float64, error) {
	if s.selected == nil {
		return nil, xerrors.Newf("selector transform: %w", models.ErrNotFitted)
	}
	compressed, err := s.ae.Transform(x)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(compressed))
	for i, row := range compressed {
		picked := make([]float64, len(s.selected))
		for k, j := range s.selected {
			picked[k] = row[j]
		}
		out[i] = picked
	}
	return out, nil
}

type selectorState struct {
	Components  int                 `msgpack:"components"`
	Selected    []int               `msgpack:"selected"`
	Importances []forest.Importance `msgpack:"importances"`
	Accuracy    float64             `msgpack:"accuracy"`
	Autoencoder []byte              `msgpack:"autoencoder"`
}

func (s *Selector) Save(w io.Writer) error {
	if s.selected == nil {
		return xerrors.Newf("save selector: %w", models.ErrNotFitted)
	}
	var inner bytes.Buffer
	if err := s.ae.Save(&inner); err != nil {
		return err
	}
	return encodeState(w, selectorState{
		Components:  s.components,
		Selected:    s.selected,
		Importances: s.importances,
		Accuracy:    s.accuracy,
		Autoencoder: inner.Bytes(),
	})
}

func (s *Selector) Load(r io.Reader) error {
	var state selectorState
	if err := decodeState(r, &state); err != nil {
		return err
	}
	if len(state.Selected) != state.Components {
		return xerrors.Newf("selector state keeps %d of %d components: %w",
			len(state.Selected), state.Components, models.ErrDataShape)
	}
	if err := s.ae.Load(bytes.NewReader(state.Autoencoder)); err != nil {
		return err
	}
	for _, j := range state.Selected {
		if j < 0 || j >= s.ae.Components() {
			return xerrors.Newf("selected dimension %d outside the %d compressed features: %w",
				j, s.ae.Components(), models.ErrDataShape)
		}
	}
	s.components = state.Components
	s.selected = state.Selected
	s.importances = state.Importances
	s.accuracy = state.Accuracy
	return nil
}
