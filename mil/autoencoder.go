package mil

import (
	"io"
	"log/slog"

	"github.com/mdobak/go-xerrors"

	"variant-mil/config"
	"variant-mil/models"
	"variant-mil/nn"
	"variant-mil/utils"
)

// Autoencoder is the nonlinear reducer. It trains an encoder/decoder pair
//
//	D -> units x hidden -> K (linear) -> units x hidden -> D (linear)
//
// on mean squared reconstruction error and keeps only the encoder half for
// Transform. With Lag > 0 the target of frame t is frame t+Lag of the same
// variant (a time-lagged autoencoder), which pushes the bottleneck towards
// the slow, structurally meaningful motions of the trajectory. Pairs never
// cross from one variant into the next.
type Autoencoder struct {
	components int
	arch       config.AutoencoderConfig
	training   config.TrainingConfig
	whiten     bool
	seed       int64
	logger     *slog.Logger

	net      *nn.Network
	encoder  int // number of layers up to and including the bottleneck
	whitener whitening
	losses   []float64
}

// NewAutoencoder returns an unfitted autoencoder reducer with a K-wide bottleneck.
func NewAutoencoder(components int, arch config.AutoencoderConfig, training config.TrainingConfig,
	whiten bool, seed int64, logger *slog.Logger) *Autoencoder {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &Autoencoder{
		components: components,
		arch:       arch,
		training:   training,
		whiten:     whiten,
		seed:       seed,
		logger:     logger.With("component", "autoencoder"),
	}
}

func (a *Autoencoder) Method() config.Method { return config.MethodAutoencoder }

func (a *Autoencoder) Components() int { return a.components }

// Losses returns the per-epoch reconstruction loss of the last Fit.
func (a *Autoencoder) Losses() []float64 { return a.losses }

func (a *Autoencoder) spec(inputs int) nn.Spec {
	var layers []nn.LayerSpec
	for i := 0; i < a.arch.Hidden; i++ {
		layers = append(layers, nn.LayerSpec{Units: a.arch.Units, Activation: nn.LeakyReLU, Dropout: a.arch.Dropout})
	}
	layers = append(layers, nn.LayerSpec{Units: a.components, Activation: nn.Linear})
	for i := 0; i < a.arch.Hidden; i++ {
		layers = append(layers, nn.LayerSpec{Units: a.arch.Units, Activation: nn.LeakyReLU, Dropout: a.arch.Dropout})
	}
	layers = append(layers, nn.LayerSpec{Units: inputs, Activation: nn.Linear})
	return nn.Spec{
		Inputs:       inputs,
		Layers:       layers,
		L1:           a.arch.L1,
		L2:           a.arch.L2,
		Loss:         nn.MeanSquaredError,
		LearningRate: a.training.LearningRate,
	}
}

// Fit trains the network on x. groups holds the variant id of each row and is
// required when Lag > 0.
func (a *Autoencoder) Fit(x [][]float64, groups []string) error {
	width, err := matrixWidth(x)
	if err != nil {
		return err
	}
	if a.components <= 0 {
		return xerrors.Newf("autoencoder needs a positive bottleneck, got %d: %w", a.components, models.ErrConfiguration)
	}
	inputs, targets, err := lagPairs(x, groups, a.arch.Lag)
	if err != nil {
		return err
	}

	net, err := nn.New(a.spec(width), a.seed)
	if err != nil {
		return err
	}
	a.logger.Info("training autoencoder",
		"frames", len(x),
		"pairs", len(inputs),
		"features", width,
		"components", a.components,
		"lag", a.arch.Lag,
		"epochs", a.training.Epochs)

	losses, err := net.Fit(inputs, targets, nn.FitOptions{
		Epochs:    a.training.Epochs,
		BatchSize: a.training.BatchSize,
		OnEpoch: func(epoch int, loss float64) {
			a.logger.Debug("autoencoder epoch", "epoch", epoch+1, "loss", loss)
		},
	})
	if err != nil {
		return err
	}

	a.net = net
	a.encoder = a.arch.Hidden + 1
	a.losses = losses
	a.whitener = whitening{}
	if a.whiten {
		embedding, err := a.encode(x)
		if err != nil {
			return err
		}
		a.whitener.fit(embedding)
	}
	a.logger.Info("autoencoder trained", "final_loss", losses[len(losses)-1])
	return nil
}

// lagPairs builds (input, target) rows. With lag 0 every frame reconstructs
// itself; otherwise frame i is paired with frame i+lag when both carry the
// same group id. Frames of a variant are expected to be contiguous and in
// time order, which is how Dataset.Frames lays them out.
func lagPairs(x [][]float64, groups []string, lag int) ([][]float64, [][]float64, error) {
	if lag == 0 {
		return x, x, nil
	}
	if len(groups) != len(x) {
		return nil, nil, xerrors.Newf("lag %d needs a variant id per frame, got %d ids for %d frames: %w",
			lag, len(groups), len(x), models.ErrDataShape)
	}
	var inputs, targets [][]float64
	for i := 0; i+lag < len(x); i++ {
		if groups[i] != groups[i+lag] {
			continue
		}
		inputs = append(inputs, x[i])
		targets = append(targets, x[i+lag])
	}
	if len(inputs) == 0 {
		return nil, nil, xerrors.Newf("lag %d leaves no frame pairs inside any variant: %w", lag, models.ErrDataShape)
	}
	return inputs, targets, nil
}

func (a *Autoencoder) encode(x [][]float64) ([][]float64, error) {
	if len(x) == 0 {
		return [][]float64{}, nil
	}
	return a.net.PredictLayers(x, a.encoder)
}

// Transform returns the bottleneck activations for x.
func (a *Autoencoder) Transform(x [][]float64) ([][]float64, error) {
	if a.net == nil {
		return nil, xerrors.Newf("autoencoder transform: %w", models.ErrNotFitted)
	}
	out, err := a.encode(x)
	if err != nil {
		return nil, err
	}
	a.whitener.apply(out)
	return out, nil
}

type autoencoderState struct {
	Components int       `msgpack:"components"`
	Lag        int       `msgpack:"lag"`
	Whiten     bool      `msgpack:"whiten"`
	Encoder    int       `msgpack:"encoder"`
	Network    nn.State  `msgpack:"network"`
	Whitening  whitening `msgpack:"whitening"`
	Losses     []float64 `msgpack:"losses"`
}

func (a *Autoencoder) state() (autoencoderState, error) {
	if a.net == nil {
		return autoencoderState{}, xerrors.Newf("save autoencoder: %w", models.ErrNotFitted)
	}
	return autoencoderState{
		Components: a.components,
		Lag:        a.arch.Lag,
		Whiten:     a.whiten,
		Encoder:    a.encoder,
		Network:    a.net.State(),
		Whitening:  a.whitener,
		Losses:     a.losses,
	}, nil
}

func (a *Autoencoder) restore(state autoencoderState) error {
	net, err := nn.FromState(state.Network, a.seed)
	if err != nil {
		return err
	}
	if state.Encoder <= 0 || state.Encoder > net.LayerCount() || net.LayerWidth(state.Encoder-1) != state.Components {
		return xerrors.Newf("autoencoder state has an inconsistent bottleneck: %w", models.ErrDataShape)
	}
	a.components = state.Components
	a.arch.Lag = state.Lag
	a.whiten = state.Whiten
	a.encoder = state.Encoder
	a.net = net
	a.whitener = state.Whitening
	a.losses = state.Losses
	return nil
}

func (a *Autoencoder) Save(w io.Writer) error {
	state, err := a.state()
	if err != nil {
		return err
	}
	return encodeState(w, state)
}

func (a *Autoencoder) Load(r io.Reader) error {
	var state autoencoderState
	if err := decodeState(r, &state); err != nil {
		return err
	}
	return a.restore(state)
}
