package ml

import (
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"
)

// DenseLayer is one fully connected layer. Weights is in×out.
type DenseLayer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`

	w *mat.Dense
}

// Autoencoder is a feed-forward network whose output reconstructs its input.
type Autoencoder struct {
	Layers []DenseLayer `json:"layers"`
}

func (m *Autoencoder) validate() error {
	if len(m.Layers) == 0 {
		return errors.New("autoencoder: no layers")
	}

	prevOut := 0
	for i := range m.Layers {
		l := &m.Layers[i]
		in := len(l.Weights)
		if in == 0 || len(l.Weights[0]) == 0 {
			return errors.Newf("autoencoder: layer %d has empty weights", i)
		}
		out := len(l.Weights[0])
		if i > 0 && in != prevOut {
			return errors.Newf("autoencoder: layer %d takes %d inputs, previous layer emits %d", i, in, prevOut)
		}
		if len(l.Bias) != out {
			return errors.Newf("autoencoder: layer %d has %d biases, want %d", i, len(l.Bias), out)
		}
		if _, ok := activations[l.Activation]; !ok {
			return errors.Newf("autoencoder: layer %d has unknown activation %q", i, l.Activation)
		}

		flat := make([]float64, 0, in*out)
		for r, row := range l.Weights {
			if len(row) != out {
				return errors.Newf("autoencoder: layer %d weight row %d has %d columns, want %d", i, r, len(row), out)
			}
			flat = append(flat, row...)
		}
		l.w = mat.NewDense(in, out, flat)
		prevOut = out
	}

	if prevOut != m.NFeatures() {
		return errors.Newf("autoencoder: output width %d does not match input width %d", prevOut, m.NFeatures())
	}
	return nil
}

var activations = map[string]func(float64) float64{
	"":        func(v float64) float64 { return v },
	"linear":  func(v float64) float64 { return v },
	"relu":    func(v float64) float64 { return math.Max(0, v) },
	"tanh":    math.Tanh,
	"sigmoid": sigmoid,
}

// NFeatures returns the input width.
func (m *Autoencoder) NFeatures() int { return len(m.Layers[0].Weights) }

// Reconstructs reports that Predict returns a reconstruction of its input.
func (m *Autoencoder) Reconstructs() bool { return true }

// Predict runs the forward pass and returns a matrix shaped like x.
func (m *Autoencoder) Predict(x mat.Matrix) (mat.Matrix, error) {
	r, c := x.Dims()
	if c != m.NFeatures() {
		return nil, newDimensionError("Autoencoder.Predict", m.NFeatures(), c)
	}

	h := mat.DenseCopyOf(x)
	for _, l := range m.Layers {
		_, out := l.w.Dims()
		next := mat.NewDense(r, out, nil)
		next.Mul(h, l.w)
		act := activations[l.Activation]
		next.Apply(func(_, j int, v float64) float64 {
			return act(v + l.Bias[j])
		}, next)
		h = next
	}
	return h, nil
}
