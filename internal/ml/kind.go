package ml

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind selects the decision policy applied to a classifier's raw output.
type Kind int

const (
	// GenericBinary classifiers predict 0 for normal and anything else for fraud.
	GenericBinary Kind = iota
	// OneClassMargin classifiers predict +1 for inliers and -1 for outliers.
	OneClassMargin
	// ReconstructionBased classifiers reconstruct their input; the vote comes from reconstruction error.
	ReconstructionBased
)

var kindNames = map[Kind]string{
	GenericBinary:       "generic",
	OneClassMargin:      "one_class",
	ReconstructionBased: "reconstruction",
}

// aliases accepted in configuration, including the model family names used by the training scripts
var kindAliases = map[string]Kind{
	"generic":        GenericBinary,
	"generic_binary": GenericBinary,
	"random_forest":  GenericBinary,
	"svm":            GenericBinary,
	"knn":            GenericBinary,
	"logistic":       GenericBinary,
	"one_class":      OneClassMargin,
	"ocsvm":          OneClassMargin,
	"one_class_svm":  OneClassMargin,
	"reconstruction": ReconstructionBased,
	"autoencoder":    ReconstructionBased,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind maps a configuration string to a Kind. Matching is case-insensitive and
// treats '-' and ' ' like '_'.
func ParseKind(s string) (Kind, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if k, ok := kindAliases[key]; ok {
		return k, nil
	}
	return 0, errors.Wrapf(ErrUnknownKind, "%q", s)
}
