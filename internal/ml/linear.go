package ml

import (
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LogisticRegression is a fitted binary logistic model.
type LogisticRegression struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
	// Threshold on the positive-class probability; defaults to 0.5.
	Threshold float64 `json:"threshold"`
}

func (m *LogisticRegression) validate() error {
	if len(m.Coef) == 0 {
		return errors.New("logistic regression: empty coef")
	}
	if m.Threshold <= 0 || m.Threshold >= 1 {
		m.Threshold = 0.5
	}
	return nil
}

// NFeatures returns the model's input width.
func (m *LogisticRegression) NFeatures() int { return len(m.Coef) }

// Predict returns an n×1 matrix of 0/1 labels.
func (m *LogisticRegression) Predict(x mat.Matrix) (mat.Matrix, error) {
	r, c := x.Dims()
	if c != len(m.Coef) {
		return nil, newDimensionError("LogisticRegression.Predict", len(m.Coef), c)
	}

	labels := make([]float64, r)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, x)
		if sigmoid(floats.Dot(row, m.Coef)+m.Intercept) >= m.Threshold {
			labels[i] = 1
		}
	}
	return mat.NewDense(r, 1, labels), nil
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
