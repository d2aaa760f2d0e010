package ml

import (
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"
)

// Vote is one model's judgement on a request.
type Vote int

const (
	// Pass means the model considers the request normal.
	Pass Vote = 0
	// Flag means the model considers the request fraudulent.
	Flag Vote = 1
)

// ReconstructionThreshold is the mean squared reconstruction error below which
// a reconstruction model votes Pass.
const ReconstructionThreshold = 5.0

// Decide turns a classifier's raw output into a vote.
//
// GenericBinary and OneClassMargin only look at the first row of raw, so a
// multi-row request is judged by its first sample. ReconstructionBased uses the
// whole matrix.
func Decide(kind Kind, raw, scaled mat.Matrix) (Vote, error) {
	switch kind {
	case GenericBinary:
		label, err := firstLabel(raw)
		if err != nil {
			return Flag, err
		}
		if label == 0 {
			return Pass, nil
		}
		return Flag, nil
	case OneClassMargin:
		label, err := firstLabel(raw)
		if err != nil {
			return Flag, err
		}
		if label == 1 {
			return Pass, nil
		}
		return Flag, nil
	case ReconstructionBased:
		mse, err := MeanSquaredError(scaled, raw)
		if err != nil {
			return Flag, err
		}
		if mse < ReconstructionThreshold {
			return Pass, nil
		}
		return Flag, nil
	default:
		return Flag, errors.Wrapf(ErrUnknownKind, "kind %d", int(kind))
	}
}

// MeanSquaredError averages (a-b)^2 over every element. Shapes must match.
func MeanSquaredError(a, b mat.Matrix) (float64, error) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return 0, errors.Wrapf(ErrDimension, "reconstruction shape %dx%d, input shape %dx%d", br, bc, ar, ac)
	}
	if ar == 0 || ac == 0 {
		return 0, errors.Wrap(ErrInference, "empty reconstruction")
	}

	var sum float64
	for i := 0; i < ar; i++ {
		for j := 0; j < ac; j++ {
			d := a.At(i, j) - b.At(i, j)
			sum += d * d
		}
	}
	mse := sum / float64(ar*ac)
	if math.IsNaN(mse) {
		return 0, errors.Wrap(ErrInference, "reconstruction error is NaN")
	}
	return mse, nil
}

func firstLabel(raw mat.Matrix) (float64, error) {
	r, c := raw.Dims()
	if r == 0 || c == 0 {
		return 0, errors.Wrap(ErrInference, "empty prediction")
	}
	return raw.At(0, 0), nil
}
