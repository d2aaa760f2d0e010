package ml

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Artifacts are JSON objects tagged by "type":
//
//	{"type": "standard", "mean": [...], "scale": [...]}
//	{"type": "random_forest", "n_features": 30, "trees": [...]}
//
// A classifier artifact that is not a JSON object is taken to be a raw ONNX model.

type validator interface {
	validate() error
}

type classifierDecoder func(data []byte, rt *Runtime) (Classifier, error)

type scalerDecoder func(data []byte) (Scaler, error)

var classifierDecoders = map[string]classifierDecoder{
	"logistic_regression": jsonClassifier(func() *LogisticRegression { return &LogisticRegression{} }),
	"random_forest":       jsonClassifier(func() *RandomForest { return &RandomForest{} }),
	"knn":                 jsonClassifier(func() *KNeighbors { return &KNeighbors{} }),
	"svm":                 jsonClassifier(func() *SVC { return &SVC{} }),
	"one_class_svm":       jsonClassifier(func() *OneClassSVM { return &OneClassSVM{} }),
	"autoencoder":         jsonClassifier(func() *Autoencoder { return &Autoencoder{} }),
	"onnx":                decodeOnnxEnvelope,
}

var scalerDecoders = map[string]scalerDecoder{
	"standard": jsonScaler(func() *StandardScaler { return &StandardScaler{} }),
	"minmax":   jsonScaler(func() *MinMaxScaler { return &MinMaxScaler{} }),
	"identity": jsonScaler(func() *IdentityScaler { return &IdentityScaler{} }),
}

type artifactHeader struct {
	Type string `json:"type"`
}

// DecodeClassifier builds a classifier from artifact bytes. rt is only used by
// ONNX artifacts.
func DecodeClassifier(data []byte, rt *Runtime) (Classifier, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty classifier artifact")
	}
	if trimmed[0] != '{' {
		return onnxClassifier(rt, data, "", "")
	}

	typ, err := artifactType(trimmed)
	if err != nil {
		return nil, err
	}
	dec, ok := classifierDecoders[typ]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownArtifact, "classifier type %q", typ)
	}
	return dec(trimmed, rt)
}

// DecodeScaler builds a scaler from artifact bytes.
func DecodeScaler(data []byte) (Scaler, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty scaler artifact")
	}

	typ, err := artifactType(trimmed)
	if err != nil {
		return nil, err
	}
	dec, ok := scalerDecoders[typ]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownArtifact, "scaler type %q", typ)
	}
	return dec(trimmed)
}

func artifactType(data []byte) (string, error) {
	var h artifactHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return "", errors.Wrap(err, "artifact header")
	}
	if h.Type == "" {
		return "", errors.New("artifact has no type")
	}
	return h.Type, nil
}

func decodeArtifact(data []byte, v validator) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "decode artifact")
	}
	return v.validate()
}

func jsonClassifier[T interface {
	Classifier
	validator
}](newT func() T) classifierDecoder {
	return func(data []byte, _ *Runtime) (Classifier, error) {
		v := newT()
		if err := decodeArtifact(data, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func jsonScaler[T interface {
	Scaler
	validator
}](newT func() T) scalerDecoder {
	return func(data []byte) (Scaler, error) {
		v := newT()
		if err := decodeArtifact(data, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func decodeOnnxEnvelope(data []byte, rt *Runtime) (Classifier, error) {
	var a onnxArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, errors.Wrap(err, "decode onnx artifact")
	}
	return onnxClassifier(rt, a.Model, a.Input, a.Output)
}

func onnxClassifier(rt *Runtime, model []byte, input, output string) (Classifier, error) {
	m, err := newOnnxAutoencoder(rt, model, input, output)
	if err != nil {
		return nil, err
	}
	return m, nil
}
