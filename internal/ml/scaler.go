package ml

import (
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"
)

// StandardScaler centres each feature on Mean and divides by Scale.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) validate() error {
	if len(s.Mean) == 0 {
		return errors.New("standard scaler: empty mean")
	}
	if len(s.Scale) != len(s.Mean) {
		return errors.Newf("standard scaler: %d means but %d scales", len(s.Mean), len(s.Scale))
	}
	for j, v := range s.Scale {
		// zero-variance features are left unscaled
		if math.Abs(v) < 1e-12 {
			s.Scale[j] = 1.0
		}
	}
	return nil
}

// NFeatures returns the number of features the scaler was fitted on.
func (s *StandardScaler) NFeatures() int { return len(s.Mean) }

// Transform returns (x - Mean) / Scale.
func (s *StandardScaler) Transform(x mat.Matrix) (mat.Matrix, error) {
	r, c := x.Dims()
	if c != len(s.Mean) {
		return nil, newDimensionError("StandardScaler.Transform", len(s.Mean), c)
	}

	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, (x.At(i, j)-s.Mean[j])/s.Scale[j])
		}
	}
	return out, nil
}

// MinMaxScaler maps features with x*Scale + Min, the fitted form of a min-max scaler.
type MinMaxScaler struct {
	Min   []float64 `json:"min"`
	Scale []float64 `json:"scale"`
}

func (s *MinMaxScaler) validate() error {
	if len(s.Min) == 0 {
		return errors.New("minmax scaler: empty min")
	}
	if len(s.Scale) != len(s.Min) {
		return errors.Newf("minmax scaler: %d mins but %d scales", len(s.Min), len(s.Scale))
	}
	return nil
}

// NFeatures returns the number of features the scaler was fitted on.
func (s *MinMaxScaler) NFeatures() int { return len(s.Min) }

// Transform returns x*Scale + Min.
func (s *MinMaxScaler) Transform(x mat.Matrix) (mat.Matrix, error) {
	r, c := x.Dims()
	if c != len(s.Min) {
		return nil, newDimensionError("MinMaxScaler.Transform", len(s.Min), c)
	}

	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, x.At(i, j)*s.Scale[j]+s.Min[j])
		}
	}
	return out, nil
}

// IdentityScaler passes features through unchanged.
type IdentityScaler struct{}

func (IdentityScaler) validate() error { return nil }

// Transform returns a copy of x.
func (IdentityScaler) Transform(x mat.Matrix) (mat.Matrix, error) {
	return mat.DenseCopyOf(x), nil
}
