package ml

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"
)

// constClassifier predicts the same label for every row and counts its calls.
type constClassifier struct {
	label float64
	calls atomic.Int32
}

func (c *constClassifier) Predict(x mat.Matrix) (mat.Matrix, error) {
	c.calls.Add(1)
	r, _ := x.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, c.label)
	}
	return out, nil
}

// panicClassifier fails the test run if voting ever reaches it.
type panicClassifier struct{}

func (panicClassifier) Predict(mat.Matrix) (mat.Matrix, error) {
	panic("model should not have been evaluated")
}

type errClassifier struct{}

func (errClassifier) Predict(mat.Matrix) (mat.Matrix, error) {
	return nil, errors.New("boom")
}

// shiftReconstructor returns its input plus a constant.
type shiftReconstructor struct {
	shift float64
}

func (s shiftReconstructor) Predict(x mat.Matrix) (mat.Matrix, error) {
	out := mat.DenseCopyOf(x)
	out.Apply(func(_, _ int, v float64) float64 { return v + s.shift }, out)
	return out, nil
}

func (shiftReconstructor) Reconstructs() bool { return true }

// releaseCounter records Release calls.
type releaseCounter struct {
	constClassifier
	released atomic.Int32
}

func (r *releaseCounter) Release() error {
	r.released.Add(1)
	return nil
}

func passModel() *constClassifier { return &constClassifier{label: 0} }

func flagModel() *constClassifier { return &constClassifier{label: 1} }

func member(name string, c Classifier, kind Kind) Member {
	return Member{Name: name, Classifier: c, Scaler: IdentityScaler{}, Kind: kind}
}

func row(values ...float64) *mat.Dense {
	return mat.NewDense(1, len(values), values)
}

// mapSource serves artifacts from memory.
type mapSource struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *mapSource) Fetch(_ context.Context, location string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[location]
	if !ok {
		return nil, errors.Wrapf(os.ErrNotExist, "artifact %s", location)
	}
	return data, nil
}

const (
	identityScalerJSON = `{"type":"identity"}`
	passLogisticJSON   = `{"type":"logistic_regression","coef":[0,0],"intercept":-10}`
	flagLogisticJSON   = `{"type":"logistic_regression","coef":[0,0],"intercept":10}`
)
