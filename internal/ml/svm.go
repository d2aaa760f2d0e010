package ml

import (
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// kernelParams is the fitted kernel shared by the SVM variants.
type kernelParams struct {
	Kernel string  `json:"kernel"`
	Gamma  float64 `json:"gamma"`
}

func (k *kernelParams) validate() error {
	switch k.Kernel {
	case "":
		k.Kernel = "rbf"
	case "rbf", "linear":
	default:
		return errors.Newf("unsupported kernel %q", k.Kernel)
	}
	if k.Kernel == "rbf" && k.Gamma <= 0 {
		return errors.New("rbf kernel needs a positive gamma")
	}
	return nil
}

func (k *kernelParams) eval(a, b []float64) float64 {
	if k.Kernel == "linear" {
		return floats.Dot(a, b)
	}
	d := floats.Distance(a, b, 2)
	return math.Exp(-k.Gamma * d * d)
}

// supportVectors holds the dual form shared by SVC and OneClassSVM.
type supportVectors struct {
	kernelParams
	Vectors  [][]float64 `json:"support_vectors"`
	DualCoef []float64   `json:"dual_coef"`
}

func (s *supportVectors) validate() error {
	if err := s.kernelParams.validate(); err != nil {
		return err
	}
	if len(s.Vectors) == 0 {
		return errors.New("no support vectors")
	}
	if len(s.DualCoef) != len(s.Vectors) {
		return errors.Newf("%d support vectors but %d dual coefficients", len(s.Vectors), len(s.DualCoef))
	}
	width := len(s.Vectors[0])
	for i, v := range s.Vectors {
		if len(v) != width || width == 0 {
			return errors.Newf("support vector %d has %d features, want %d", i, len(v), width)
		}
	}
	return nil
}

func (s *supportVectors) NFeatures() int { return len(s.Vectors[0]) }

func (s *supportVectors) decision(row []float64) float64 {
	var sum float64
	for i, v := range s.Vectors {
		sum += s.DualCoef[i] * s.kernelParams.eval(v, row)
	}
	return sum
}

// SVC is a fitted binary support vector classifier.
type SVC struct {
	supportVectors
	Intercept float64   `json:"intercept"`
	Classes   []float64 `json:"classes"`
}

func (m *SVC) validate() error {
	if err := m.supportVectors.validate(); err != nil {
		return errors.Wrap(err, "svc")
	}
	if len(m.Classes) == 0 {
		m.Classes = []float64{0, 1}
	}
	if len(m.Classes) != 2 {
		return errors.Newf("svc: binary model needs 2 classes, got %d", len(m.Classes))
	}
	return nil
}

// Predict returns Classes[1] where the decision function is positive, else Classes[0].
func (m *SVC) Predict(x mat.Matrix) (mat.Matrix, error) {
	r, c := x.Dims()
	if c != m.NFeatures() {
		return nil, newDimensionError("SVC.Predict", m.NFeatures(), c)
	}

	labels := make([]float64, r)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, x)
		if m.decision(row)+m.Intercept > 0 {
			labels[i] = m.Classes[1]
		} else {
			labels[i] = m.Classes[0]
		}
	}
	return mat.NewDense(r, 1, labels), nil
}

// OneClassSVM is a fitted novelty detector. Predict follows the libsvm
// convention: +1 for inliers, -1 for outliers.
type OneClassSVM struct {
	supportVectors
	Rho float64 `json:"rho"`
}

func (m *OneClassSVM) validate() error {
	return errors.Wrap(m.supportVectors.validate(), "one-class svm")
}

// Predict returns an n×1 matrix of +1/-1.
func (m *OneClassSVM) Predict(x mat.Matrix) (mat.Matrix, error) {
	r, c := x.Dims()
	if c != m.NFeatures() {
		return nil, newDimensionError("OneClassSVM.Predict", m.NFeatures(), c)
	}

	out := make([]float64, r)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, x)
		if m.decision(row)-m.Rho > 0 {
			out[i] = 1
		} else {
			out[i] = -1
		}
	}
	return mat.NewDense(r, 1, out), nil
}
