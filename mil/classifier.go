package mil

import (
	"io"
	"log/slog"
	"strings"

	"github.com/mdobak/go-xerrors"

	"variant-mil/config"
	"variant-mil/models"
	"variant-mil/nn"
	"variant-mil/utils"
)

// Classifier is the frame-level cost-sensitive dense network. It outputs
// [P(benign), P(pathogenic)] for each embedded frame.
type Classifier struct {
	net    *nn.Network
	logger *slog.Logger
	losses []float64
	fitted bool
}

// NewClassifier builds an untrained classifier for inputDim features.
func NewClassifier(inputDim int, cc config.ClassifierConfig, learningRate float64, seed int64, logger *slog.Logger) (*Classifier, error) {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	act, ok := nn.ParseActivation(strings.ToLower(cc.Activation))
	if !ok {
		return nil, xerrors.Newf("unknown classifier activation %q: %w", cc.Activation, models.ErrConfiguration)
	}
	var layers []nn.LayerSpec
	for i := 0; i < cc.Hidden; i++ {
		layers = append(layers, nn.LayerSpec{Units: cc.Units, Activation: act, Dropout: cc.Dropout})
	}
	layers = append(layers, nn.LayerSpec{Units: 2, Activation: nn.Softmax})

	net, err := nn.New(nn.Spec{
		Inputs:       inputDim,
		Layers:       layers,
		L1:           cc.L1,
		L2:           cc.L2,
		Loss:         nn.CrossEntropy,
		LearningRate: learningRate,
	}, seed)
	if err != nil {
		return nil, err
	}
	return &Classifier{net: net, logger: logger.With("component", "classifier")}, nil
}

func (c *Classifier) InputDim() int { return c.net.InputDim() }

// Losses returns the per-epoch training loss of the last Fit.
func (c *Classifier) Losses() []float64 { return c.losses }

// Fit trains on one-hot targets y. Each frame's loss is scaled by the weight
// of its class; a class missing from classWeight counts with weight 1.
func (c *Classifier) Fit(x, y [][]float64, classWeight map[models.Label]float64, epochs, batchSize int) ([]float64, error) {
	weights := make([]float64, len(y))
	for i, row := range y {
		label := models.Benign
		if len(row) > 1 && row[1] > row[0] {
			label = models.Pathogenic
		}
		w, ok := classWeight[label]
		if !ok {
			w = 1
		}
		weights[i] = w
	}

	c.logger.Info("training classifier", "frames", len(x), "epochs", epochs, "batch_size", batchSize)
	losses, err := c.net.Fit(x, y, nn.FitOptions{
		Epochs:        epochs,
		BatchSize:     batchSize,
		SampleWeights: weights,
		OnEpoch: func(epoch int, loss float64) {
			c.logger.Debug("classifier epoch", "epoch", epoch+1, "loss", loss)
		},
	})
	if err != nil {
		return nil, err
	}
	c.losses = losses
	c.fitted = true
	c.logger.Info("classifier trained", "final_loss", losses[len(losses)-1])
	return losses, nil
}

// Predict returns one probability pair per row of x.
func (c *Classifier) Predict(x [][]float64) ([][]float64, error) {
	if !c.fitted {
		return nil, xerrors.Newf("classifier predict: %w", models.ErrNotFitted)
	}
	if len(x) == 0 {
		return [][]float64{}, nil
	}
	return c.net.Predict(x)
}

type classifierState struct {
	Network nn.State  `msgpack:"network"`
	Losses  []float64 `msgpack:"losses"`
}

func (c *Classifier) Save(w io.Writer) error {
	if !c.fitted {
		return xerrors.Newf("save classifier: %w", models.ErrNotFitted)
	}
	return encodeState(w, classifierState{Network: c.net.State(), Losses: c.losses})
}

// LoadClassifier restores a classifier written by Save.
func LoadClassifier(r io.Reader, logger *slog.Logger) (*Classifier, error) {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	var state classifierState
	if err := decodeState(r, &state); err != nil {
		return nil, err
	}
	net, err := nn.FromState(state.Network, 0)
	if err != nil {
		return nil, err
	}
	if net.OutputDim() != 2 {
		return nil, xerrors.Newf("classifier state has %d outputs, expected 2: %w", net.OutputDim(), models.ErrDataShape)
	}
	return &Classifier{net: net, logger: logger.With("component", "classifier"), losses: state.Losses, fitted: true}, nil
}
