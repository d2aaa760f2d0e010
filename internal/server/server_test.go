package server

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ccfd-server/internal/ml"
)

func TestServer_Scenarios(t *testing.T) {
	tests := []struct {
		name      string
		passScore int
		models    []ml.Classifier
		want      string
	}{
		{"two of three pass", 2, []ml.Classifier{passes, flags, passes}, "0,2"},
		{"both flag", 2, []ml.Classifier{flags, flags}, "1,0"},
		{"early exit skips failing model", 1, []ml.Classifier{passes, failingModel{}}, "0,1"},
		{"one pass is not enough", 2, []ml.Classifier{flags, passes}, "1,1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, addr := startServer(t, newModels(t, tt.passScore, nil, tt.models...))
			assert.Equal(t, tt.want, send(t, addr, `[[0.1,0.2,0.3]]`))
		})
	}
}

func TestServer_MalformedRequestGetsNoResponse(t *testing.T) {
	m := newRecordingMetrics()
	_, addr := startServer(t, newModels(t, 1, nil, passes), WithMetrics(m))

	assert.Empty(t, send(t, addr, "hello world"))
	assert.Empty(t, send(t, addr, `[["a","b"]]`))

	// the accept loop is unaffected
	assert.Equal(t, "0,1", send(t, addr, `[[1,2]]`))

	require.Eventually(t, func() bool {
		opened, closed, failures, decisions := m.snapshot()
		return opened == 3 && closed == 3 && failures["decode"] == 2 && decisions == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_FeatureCountMismatch(t *testing.T) {
	scaler := &ml.StandardScaler{Mean: []float64{0, 0}, Scale: []float64{1, 1}}
	_, addr := startServer(t, newModels(t, 1, scaler, passes))

	assert.Empty(t, send(t, addr, `[[1,2,3]]`))
	assert.Equal(t, "0,1", send(t, addr, `[[1,2]]`))
}

func TestServer_InferenceFailureClosesConnection(t *testing.T) {
	m := newRecordingMetrics()
	_, addr := startServer(t, newModels(t, 1, nil, failingModel{}), WithMetrics(m))

	assert.Empty(t, send(t, addr, `[[1,2]]`))
	require.Eventually(t, func() bool {
		_, _, failures, _ := m.snapshot()
		return failures["inference"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_OversizeRequest(t *testing.T) {
	m := newRecordingMetrics()
	_, addr := startServer(t, newModels(t, 1, nil, passes), WithMetrics(m), WithMaxRequestBytes(64))

	payload := "[[" + strings.Repeat("1,", 100) + "1]]"
	assert.Empty(t, send(t, addr, payload))
	assert.Equal(t, "0,1", send(t, addr, `[[1,2]]`))

	require.Eventually(t, func() bool {
		_, _, failures, _ := m.snapshot()
		return failures["too_large"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ReadTimeout(t *testing.T) {
	_, addr := startServer(t, newModels(t, 1, nil, passes), WithReadTimeout(50*time.Millisecond))

	// an incomplete request is dropped once the deadline passes
	assert.Empty(t, send(t, addr, `[[1,`))
}

func TestServer_ReplayIsIdempotent(t *testing.T) {
	_, addr := startServer(t, newModels(t, 2, nil, flags, passes, passes))

	const req = `[{"V1":-1.35,"V2":-0.07},{"V1":1.19,"V2":0.26}]`
	first := send(t, addr, req)
	require.Equal(t, "0,2", first)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, send(t, addr, req))
	}
}

func TestServer_ConcurrentClients(t *testing.T) {
	_, addr := startServer(t, newModels(t, 2, nil, passes, flags, passes))

	var wg sync.WaitGroup
	responses := make([]string, 20)
	for i := range responses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i] = send(t, addr, `[[0.5,0.5]]`)
		}(i)
	}
	wg.Wait()

	for _, r := range responses {
		assert.Equal(t, "0,2", r)
	}
}

func TestServer_StopDrainsInFlight(t *testing.T) {
	gate := &gateModel{entered: make(chan struct{}, 5), release: make(chan struct{})}
	models := newModels(t, 1, nil, gate)
	srv, addr := startServer(t, models)

	const inFlight = 5
	results := make(chan string, inFlight)
	for i := 0; i < inFlight; i++ {
		go func() { results <- send(t, addr, `[[1,2]]`) }()
	}
	for i := 0; i < inFlight; i++ {
		select {
		case <-gate.entered:
		case <-time.After(5 * time.Second):
			t.Fatal("handlers did not reach the model")
		}
	}

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop(), "second stop is a no-op")
	assert.True(t, srv.Stopped())

	_, err := net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err, "no new connections after stop")

	// models stay loaded while handlers are running
	assert.Zero(t, models.closed.Load())
	select {
	case <-srv.Done():
		t.Fatal("server finished before in-flight handlers")
	default:
	}

	close(gate.release)
	for i := 0; i < inFlight; i++ {
		assert.Equal(t, "0,1", <-results)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Wait(ctx))
	assert.Equal(t, int32(1), models.closed.Load())
}

func TestServer_StartReturnsAfterStop(t *testing.T) {
	models := newModels(t, 1, nil, passes)
	srv := New("127.0.0.1:0", models)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(context.Background()) }()
	<-srv.Ready()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, srv.Stop())
		}()
	}
	wg.Wait()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Wait(ctx))
	assert.Equal(t, int32(1), models.closed.Load())
}

func TestServer_ContextCancelStops(t *testing.T) {
	models := newModels(t, 1, nil, passes)
	srv := New("127.0.0.1:0", models)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()
	<-srv.Ready()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	assert.True(t, srv.Stopped())

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, srv.Wait(waitCtx))
}

func TestServer_StopBeforeStart(t *testing.T) {
	models := newModels(t, 1, nil, passes)
	srv := New("127.0.0.1:0", models)

	require.NoError(t, srv.Stop())
	err := srv.Start(context.Background())
	assert.True(t, errors.Is(err, ErrServerClosed))
	assert.Nil(t, srv.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Wait(ctx))
	assert.Equal(t, int32(1), models.closed.Load())
}

func TestServer_StartTwice(t *testing.T) {
	srv, _ := startServer(t, newModels(t, 1, nil, passes))
	assert.Error(t, srv.Start(context.Background()))
}

func TestServer_ListenFailure(t *testing.T) {
	_, addr := startServer(t, newModels(t, 1, nil, passes))

	srv := New(addr, newModels(t, 1, nil, passes))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(context.Background()) }()

	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("Ready not closed after bind failure")
	}
	assert.Nil(t, srv.Addr())

	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
	require.NoError(t, srv.Stop())
}

func TestNew_NilModels(t *testing.T) {
	assert.Panics(t, func() { New("127.0.0.1:0", nil) })
}

func TestServer_WaitHonoursContext(t *testing.T) {
	gate := &gateModel{entered: make(chan struct{}, 1), release: make(chan struct{})}
	srv, addr := startServer(t, newModels(t, 1, nil, gate))

	done := make(chan string, 1)
	go func() { done <- send(t, addr, `[[1]]`) }()
	<-gate.entered

	require.NoError(t, srv.Stop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(srv.Wait(ctx), context.DeadlineExceeded))

	close(gate.release)
	assert.Equal(t, "0,1", <-done)
}

func TestServer_HoldsEnsembleWhileVoting(t *testing.T) {
	gate := &gateModel{entered: make(chan struct{}, 1), release: make(chan struct{})}
	models := newModels(t, 1, nil, gate)
	_, addr := startServer(t, models)

	done := make(chan string, 1)
	go func() { done <- send(t, addr, `[[1,2]]`) }()
	<-gate.entered
	assert.Equal(t, int32(1), models.acquired.Load())
	assert.Equal(t, int32(0), models.released.Load())

	close(gate.release)
	assert.Equal(t, "0,1", <-done)
	require.Eventually(t, func() bool { return models.released.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	// a request that never reaches voting takes no hold
	assert.Equal(t, "", send(t, addr, `not json`))
	assert.Equal(t, int32(1), models.acquired.Load())
}
