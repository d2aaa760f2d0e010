package ml

import (
	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DecisionTree is a fitted binary-split tree in the flat array layout used by
// scikit-learn's tree_ attribute. A node is a leaf when ChildrenLeft is -1.
type DecisionTree struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

func (t *DecisionTree) validate(nFeatures, nClasses int) error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return errors.New("empty tree")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return errors.Newf("tree arrays disagree on node count %d", n)
	}
	for i := 0; i < n; i++ {
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		if l == -1 {
			if len(t.Value[i]) != nClasses {
				return errors.Newf("leaf %d has %d class weights, want %d", i, len(t.Value[i]), nClasses)
			}
			continue
		}
		if l <= i || l >= n || r <= i || r >= n {
			return errors.Newf("node %d has children (%d, %d) outside (%d, %d)", i, l, r, i, n)
		}
		if t.Feature[i] < 0 || t.Feature[i] >= nFeatures {
			return errors.Newf("node %d splits on feature %d of %d", i, t.Feature[i], nFeatures)
		}
	}
	return nil
}

// leaf walks the tree for one sample. Children always have larger indices than
// their parent, so the walk terminates.
func (t *DecisionTree) leaf(row []float64) []float64 {
	node := 0
	for t.ChildrenLeft[node] != -1 {
		if row[t.Feature[node]] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	return t.Value[node]
}

// RandomForest averages the normalised leaf distributions of its trees and
// predicts the class with the highest mean probability.
type RandomForest struct {
	NFeatureCount int            `json:"n_features"`
	Classes       []float64      `json:"classes"`
	Trees         []DecisionTree `json:"trees"`
}

func (m *RandomForest) validate() error {
	if m.NFeatureCount <= 0 {
		return errors.New("random forest: n_features must be positive")
	}
	if len(m.Classes) == 0 {
		m.Classes = []float64{0, 1}
	}
	if len(m.Trees) == 0 {
		return errors.New("random forest: no trees")
	}
	for i := range m.Trees {
		if err := m.Trees[i].validate(m.NFeatureCount, len(m.Classes)); err != nil {
			return errors.Wrapf(err, "random forest: tree %d", i)
		}
	}
	return nil
}

// NFeatures returns the model's input width.
func (m *RandomForest) NFeatures() int { return m.NFeatureCount }

// Predict returns an n×1 matrix of class labels.
func (m *RandomForest) Predict(x mat.Matrix) (mat.Matrix, error) {
	r, c := x.Dims()
	if c != m.NFeatureCount {
		return nil, newDimensionError("RandomForest.Predict", m.NFeatureCount, c)
	}

	labels := make([]float64, r)
	row := make([]float64, c)
	proba := make([]float64, len(m.Classes))
	for i := 0; i < r; i++ {
		mat.Row(row, i, x)
		for k := range proba {
			proba[k] = 0
		}
		for t := range m.Trees {
			dist := m.Trees[t].leaf(row)
			total := floats.Sum(dist)
			if total <= 0 {
				continue
			}
			for k, w := range dist {
				proba[k] += w / total
			}
		}
		labels[i] = m.Classes[floats.MaxIdx(proba)]
	}
	return mat.NewDense(r, 1, labels), nil
}
