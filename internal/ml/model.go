// Package ml holds the fraud-scoring core: model kinds and their decision policies,
// the artifact decoders that turn serialized classifiers and scalers into Go values,
// the ensemble voting engine and the registry that owns the loaded ensemble.
//
// Loaded artifacts are immutable and shared read-only by every connection handler.
package ml

import "gonum.org/v1/gonum/mat"

// Classifier is a trained model. For label-producing models Predict returns an
// n×1 matrix of labels; for reconstruction models it returns a matrix shaped like x.
type Classifier interface {
	Predict(x mat.Matrix) (mat.Matrix, error)
}

// Scaler transforms raw features into the space a classifier was trained on.
type Scaler interface {
	Transform(x mat.Matrix) (mat.Matrix, error)
}

// Reconstructor marks classifiers whose output reconstructs their input.
// Only these may be registered under ReconstructionBased.
type Reconstructor interface {
	Classifier
	Reconstructs() bool
}

// Featured is implemented by artifacts that know their input width.
type Featured interface {
	NFeatures() int
}

// Releaser is implemented by artifacts holding native resources.
type Releaser interface {
	Release() error
}
