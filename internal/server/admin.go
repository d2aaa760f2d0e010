package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Admin is the HTTP side channel of a Server: health, Prometheus metrics and the
// loaded ensemble's layout.
type Admin struct {
	srv    *Server
	server *http.Server
}

// HealthStatus is the /health response body.
type HealthStatus struct {
	Healthy  bool `json:"healthy"`
	Running  bool `json:"running"`
	Stopping bool `json:"stopping"`
	Models   int  `json:"models"`
}

// EnsembleInfo is the /ensemble response body.
type EnsembleInfo struct {
	PassScore int          `json:"pass_score"`
	Features  int          `json:"features,omitempty"`
	Members   []MemberInfo `json:"members"`
}

// MemberInfo describes one ensemble member in voting order.
type MemberInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// NewAdmin builds the admin HTTP server for srv on addr. Metrics come from gatherer,
// or the default registry when gatherer is nil.
func NewAdmin(addr string, srv *Server, gatherer prometheus.Gatherer) *Admin {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	a := &Admin{srv: srv}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/ensemble", a.handleEnsemble)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	a.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a
}

// Handler returns the admin mux, for tests and embedding.
func (a *Admin) Handler() http.Handler { return a.server.Handler }

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (a *Admin) Start() error {
	log.Info().Str("addr", a.server.Addr).Msg("starting admin server")
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "admin server")
	}
	return nil
}

// Shutdown stops the admin server.
func (a *Admin) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

func (a *Admin) health() HealthStatus {
	var h HealthStatus
	select {
	case <-a.srv.Ready():
		h.Running = true
	default:
	}
	h.Stopping = a.srv.Stopped()
	if ens := a.srv.models.Ensemble(); ens != nil {
		h.Models = ens.Size()
	}
	h.Healthy = h.Running && !h.Stopping && h.Models > 0
	return h
}

func (a *Admin) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := a.health()
	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (a *Admin) handleEnsemble(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ens := a.srv.models.Ensemble()
	if ens == nil {
		http.Error(w, "no ensemble loaded", http.StatusServiceUnavailable)
		return
	}

	info := EnsembleInfo{PassScore: ens.PassScore(), Features: ens.NFeatures()}
	for _, m := range ens.Members() {
		info.Members = append(info.Members, MemberInfo{Name: m.Name, Kind: m.Kind.String()})
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode admin response")
	}
}
