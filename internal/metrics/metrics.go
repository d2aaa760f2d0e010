// Package metrics provides Prometheus metrics for the fraud scoring server:
// connection traffic, per-model votes, fused decisions and the loaded ensemble.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ccfd"

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	// Connection metrics
	ConnectionsTotal   prometheus.Counter     // Connections accepted
	ConnectionFailures *prometheus.CounterVec // Connections closed without a response, by reason
	ActiveConnections  prometheus.Gauge       // Handlers currently running

	// Voting metrics
	DecisionsTotal  *prometheus.CounterVec // Fused decisions, by label
	ModelVotes      *prometheus.CounterVec // Individual votes, by model and vote
	ModelsEvaluated prometheus.Histogram   // Members evaluated per request before early exit
	VoteLatency     prometheus.Histogram   // Ensemble voting latency in seconds

	// Registry metrics
	EnsembleSize prometheus.Gauge       // Members in the serving ensemble
	PassScore    prometheus.Gauge       // Passing votes required for acceptance
	ReloadsTotal *prometheus.CounterVec // Ensemble reload attempts, by result
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics on a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of connections accepted",
		}),
		ConnectionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_failures_total",
			Help:      "Connections closed without a response, by failure reason",
		}, []string{"reason"}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of connections currently being handled",
		}),
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Fused ensemble decisions, by label (0 normal, 1 fraud)",
		}, []string{"label"}),
		ModelVotes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_votes_total",
			Help:      "Votes cast by each ensemble member",
		}, []string{"model", "vote"}),
		ModelsEvaluated: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "models_evaluated",
			Help:      "Ensemble members evaluated per request",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		VoteLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vote_latency_seconds",
			Help:      "Ensemble voting latency in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		EnsembleSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ensemble_size",
			Help:      "Number of members in the serving ensemble",
		}),
		PassScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pass_score",
			Help:      "Passing votes required to accept a request",
		}),
		ReloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Ensemble reload attempts, by result",
		}, []string{"result"}),
	}
}

// SetEnsemble records the shape of the serving ensemble.
func (m *Metrics) SetEnsemble(size, passScore int) {
	m.EnsembleSize.Set(float64(size))
	m.PassScore.Set(float64(passScore))
}

// ReloadResult counts one reload attempt.
func (m *Metrics) ReloadResult(err error) {
	if err != nil {
		m.ReloadsTotal.WithLabelValues("failure").Inc()
		return
	}
	m.ReloadsTotal.WithLabelValues("success").Inc()
}
