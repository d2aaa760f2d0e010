package server

import (
	"time"

	"ccfd-server/internal/ml"
)

// Metrics receives connection and decision events. A nil Metrics disables reporting.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	ConnectionFailed(reason string)
	DecisionMade(members []ml.Member, d ml.Decision, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened()                                    {}
func (noopMetrics) ConnectionClosed()                                    {}
func (noopMetrics) ConnectionFailed(string)                              {}
func (noopMetrics) DecisionMade([]ml.Member, ml.Decision, time.Duration) {}

type options struct {
	metrics         Metrics
	maxRequestBytes int
	readTimeout     time.Duration
	writeTimeout    time.Duration
}

func defaultOptions() options {
	return options{
		metrics:         noopMetrics{},
		maxRequestBytes: DefaultMaxRequestBytes,
	}
}

// Option configures a Server.
type Option func(*options)

// WithMetrics reports connection and vote events to m.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithMaxRequestBytes sets the request size bound. Non-positive values keep the default.
func WithMaxRequestBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRequestBytes = n
		}
	}
}

// WithReadTimeout bounds how long a handler waits for the request. Zero waits forever.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = d }
}

// WithWriteTimeout bounds how long a handler waits to write the response. Zero waits forever.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}
