package server

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"ccfd-server/internal/ml"
)

type labelModel float64

func (l labelModel) Predict(x mat.Matrix) (mat.Matrix, error) {
	r, _ := x.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		out.Set(i, 0, float64(l))
	}
	return out, nil
}

const (
	passes = labelModel(0)
	flags  = labelModel(1)
)

type failingModel struct{}

func (failingModel) Predict(mat.Matrix) (mat.Matrix, error) {
	return nil, errors.New("model exploded")
}

// gateModel passes once release is closed, signalling entered on every call.
type gateModel struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateModel) Predict(x mat.Matrix) (mat.Matrix, error) {
	g.entered <- struct{}{}
	<-g.release
	return passes.Predict(x)
}

type staticModels struct {
	ens      *ml.Ensemble
	closed   atomic.Int32
	acquired atomic.Int32
	released atomic.Int32
}

func (m *staticModels) Ensemble() *ml.Ensemble { return m.ens }

func (m *staticModels) Acquire() (*ml.Ensemble, func()) {
	m.acquired.Add(1)
	return m.ens, func() { m.released.Add(1) }
}

func (m *staticModels) Close() error {
	m.closed.Add(1)
	return nil
}

func newModels(t *testing.T, passScore int, scaler ml.Scaler, cs ...ml.Classifier) *staticModels {
	t.Helper()
	if scaler == nil {
		scaler = ml.IdentityScaler{}
	}
	members := make([]ml.Member, len(cs))
	for i, c := range cs {
		members[i] = ml.Member{Classifier: c, Scaler: scaler, Kind: ml.GenericBinary}
	}
	ens, err := ml.NewEnsemble(members, passScore)
	require.NoError(t, err)
	return &staticModels{ens: ens}
}

func startServer(t *testing.T, models Models, opts ...Option) (*Server, string) {
	t.Helper()
	srv := New("127.0.0.1:0", models, opts...)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(context.Background()) }()

	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	if srv.Addr() == nil {
		t.Fatalf("server failed to start: %v", <-errCh)
	}

	t.Cleanup(func() {
		_ = srv.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Wait(ctx)
	})
	return srv, srv.Addr().String()
}

// send writes payload on a fresh connection and returns everything the server
// writes back before closing.
func send(t *testing.T, addr, payload string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, _ = conn.Write([]byte(payload))

	resp, _ := io.ReadAll(conn)
	return string(resp)
}

type recordingMetrics struct {
	mu        sync.Mutex
	opened    int
	closed    int
	failures  map[string]int
	decisions []ml.Decision
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{failures: map[string]int{}}
}

func (m *recordingMetrics) ConnectionOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
}

func (m *recordingMetrics) ConnectionClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *recordingMetrics) ConnectionFailed(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[reason]++
}

func (m *recordingMetrics) DecisionMade(_ []ml.Member, d ml.Decision, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
}

func (m *recordingMetrics) snapshot() (opened, closed int, failures map[string]int, decisions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := make(map[string]int, len(m.failures))
	for k, v := range m.failures {
		f[k] = v
	}
	return m.opened, m.closed, f, len(m.decisions)
}
