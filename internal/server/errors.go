package server

import "github.com/cockroachdb/errors"

var (
	// ErrDecode marks a request payload that is not a numeric feature matrix of the
	// width the ensemble expects. The connection is closed without a response.
	ErrDecode = errors.New("request decode failure")

	// ErrRequestTooLarge is returned when a request exceeds the configured byte bound.
	ErrRequestTooLarge = errors.New("request too large")

	// ErrServerClosed is returned by Start after Stop has been called.
	ErrServerClosed = errors.New("server closed")
)
