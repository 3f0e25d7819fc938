package mil

import (
	"math"
	"testing"

	"variant-mil/config"
)

func TestReducersEmitComponentsForAnyRowCount(t *testing.T) {
	t.Parallel()

	methods := []config.Method{config.MethodLinear, config.MethodAutoencoder, config.MethodAutoencoderSelector}
	for _, method := range methods {
		method := method
		t.Run(method.Short(), func(t *testing.T) {
			t.Parallel()

			cfg := smallConfig(method)
			reducer, err := NewReducer(cfg, nil)
			if err != nil {
				t.Fatalf("NewReducer returned error: %v", err)
			}
			train := threeVariants(12)
			if err := reducer.Fit(train.Matrix(), train.Groups()); err != nil {
				t.Fatalf("Fit returned error: %v", err)
			}

			unseen := threeVariants(50).Matrix()
			shifted := [][]float64{{3, -2, 0.5, 7}}
			inputs := map[string][][]float64{
				"single training row": train.Matrix()[:1],
				"single unseen row":   shifted,
				"larger unseen batch": unseen,
			}
			for name, x := range inputs {
				out, err := reducer.Transform(x)
				if err != nil {
					t.Fatalf("%s: Transform returned error: %v", name, err)
				}
				if len(out) != len(x) {
					t.Fatalf("%s: expected %d rows, got %d", name, len(x), len(out))
				}
				for i, row := range out {
					if len(row) != cfg.Reduction.Components {
						t.Fatalf("%s: row %d has %d columns, expected %d", name, i, len(row), cfg.Reduction.Components)
					}
				}
			}

			// A row transformed alone matches the same row inside a batch.
			batch, _ := reducer.Transform(unseen)
			alone, _ := reducer.Transform(unseen[7:8])
			for j := range alone[0] {
				if math.Abs(alone[0][j]-batch[7][j]) > 1e-12 {
					t.Fatalf("row transformed alone differs at column %d: %v vs %v", j, alone[0], batch[7])
				}
			}
		})
	}
}
