package metrics

import (
	"strconv"
	"time"

	"ccfd-server/internal/ml"
)

// ServerWrapper adapts Metrics to the connection handler's event interface.
type ServerWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *ServerWrapper {
	return &ServerWrapper{m: m}
}

func (w *ServerWrapper) ConnectionOpened() {
	w.m.ConnectionsTotal.Inc()
	w.m.ActiveConnections.Inc()
}

func (w *ServerWrapper) ConnectionClosed() {
	w.m.ActiveConnections.Dec()
}

func (w *ServerWrapper) ConnectionFailed(reason string) {
	w.m.ConnectionFailures.WithLabelValues(reason).Inc()
}

// DecisionMade records the fused decision and every vote that was cast. members is
// the ensemble in voting order; only the first len(d.Flags) of them ran.
func (w *ServerWrapper) DecisionMade(members []ml.Member, d ml.Decision, elapsed time.Duration) {
	w.m.DecisionsTotal.WithLabelValues(strconv.Itoa(int(d.Label))).Inc()
	w.m.ModelsEvaluated.Observe(float64(d.Evaluated()))
	w.m.VoteLatency.Observe(elapsed.Seconds())

	for i, v := range d.Flags {
		if i >= len(members) {
			break
		}
		w.m.ModelVotes.WithLabelValues(members[i].Name, strconv.Itoa(int(v))).Inc()
	}
}
