package models

import "github.com/mdobak/go-xerrors"

// Error kinds shared by every stage of the pipeline. Call sites wrap them with
// xerrors.Newf("...: %w", ErrX) so errors.Is can classify a failure while the
// wrapper still records where it happened. None of them are retryable.
var (
	// ErrConfiguration: invalid method, reducer/classifier width mismatch,
	// missing gene selection and other bad options. Raised before training.
	ErrConfiguration = xerrors.Message("configuration error")

	// ErrDataShape: input rank/shape does not match (variant, frame, feature).
	ErrDataShape = xerrors.Message("data shape error")

	// ErrNotFitted: transform/predict called on a component that was never fit.
	ErrNotFitted = xerrors.Message("component used before fit")

	// ErrInsufficientSamples: the minority class is smaller than the
	// oversampling neighbourhood.
	ErrInsufficientSamples = xerrors.Message("insufficient samples")
)
