package ml

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error classes shared by the registry, the voting engine and the connection handler.
// Callers match them with errors.Is; the wrapped message names the artifact or member.
var (
	// ErrLoadFailure aborts registry construction. The server must not start.
	ErrLoadFailure = errors.New("model load failure")

	// ErrInference is returned when a scaler or classifier fails for one request.
	ErrInference = errors.New("inference failure")

	// ErrDimension reports a matrix whose shape does not match what the artifact was trained on.
	ErrDimension = errors.New("dimension mismatch")

	// ErrUnknownKind is returned by ParseKind for unrecognised kind names.
	ErrUnknownKind = errors.New("unknown model kind")

	// ErrUnknownArtifact is returned when an artifact envelope names an unsupported type.
	ErrUnknownArtifact = errors.New("unknown artifact type")
)

// DimensionError describes a shape mismatch between a request and an artifact.
type DimensionError struct {
	Op       string
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: expected %d features, got %d", e.Op, e.Expected, e.Got)
}

// Is lets errors.Is(err, ErrDimension) match any *DimensionError.
func (e *DimensionError) Is(target error) bool {
	return target == ErrDimension
}

func newDimensionError(op string, expected, got int) error {
	return errors.WithStack(&DimensionError{Op: op, Expected: expected, Got: got})
}
