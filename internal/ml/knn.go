package ml

import (
	"sort"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// KNeighbors is a k-nearest-neighbours classifier with Euclidean distance.
// The fitted state is the training set itself.
type KNeighbors struct {
	K      int         `json:"k"`
	Points [][]float64 `json:"points"`
	Labels []float64   `json:"labels"`
}

func (m *KNeighbors) validate() error {
	if len(m.Points) == 0 {
		return errors.New("knn: no training points")
	}
	if len(m.Labels) != len(m.Points) {
		return errors.Newf("knn: %d points but %d labels", len(m.Points), len(m.Labels))
	}
	if m.K <= 0 {
		m.K = 5
	}
	if m.K > len(m.Points) {
		m.K = len(m.Points)
	}
	width := len(m.Points[0])
	for i, p := range m.Points {
		if len(p) != width || width == 0 {
			return errors.Newf("knn: point %d has %d features, want %d", i, len(p), width)
		}
	}
	return nil
}

// NFeatures returns the model's input width.
func (m *KNeighbors) NFeatures() int { return len(m.Points[0]) }

// Predict returns the majority label among the K nearest training points.
// Ties go to the smallest label.
func (m *KNeighbors) Predict(x mat.Matrix) (mat.Matrix, error) {
	r, c := x.Dims()
	if c != m.NFeatures() {
		return nil, newDimensionError("KNeighbors.Predict", m.NFeatures(), c)
	}

	type neighbour struct {
		dist  float64
		label float64
	}

	labels := make([]float64, r)
	row := make([]float64, c)
	ns := make([]neighbour, len(m.Points))
	for i := 0; i < r; i++ {
		mat.Row(row, i, x)
		for j, p := range m.Points {
			ns[j] = neighbour{dist: floats.Distance(row, p, 2), label: m.Labels[j]}
		}
		sort.SliceStable(ns, func(a, b int) bool { return ns[a].dist < ns[b].dist })

		counts := make(map[float64]int, 2)
		for _, n := range ns[:m.K] {
			counts[n.label]++
		}
		best, bestCount := 0.0, -1
		for label, count := range counts {
			if count > bestCount || (count == bestCount && label < best) {
				best, bestCount = label, count
			}
		}
		labels[i] = best
	}
	return mat.NewDense(r, 1, labels), nil
}
