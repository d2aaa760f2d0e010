// Package server exposes an ensemble over TCP. Each connection carries exactly one
// JSON feature table and receives "<label>,<score>" before the server closes it.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"

	"ccfd-server/internal/ml"
)

// Models supplies the ensemble used for each request and owns the resources behind it.
// *ml.Registry implements it.
type Models interface {
	// Ensemble returns the current ensemble without pinning it.
	Ensemble() *ml.Ensemble
	// Acquire pins the current ensemble until done is called.
	Acquire() (ens *ml.Ensemble, done func())
	Close() error
}

// Server is the lifecycle manager: Constructed, Running after Start, Stopping after
// Stop, Stopped once in-flight handlers drain and model resources are released.
type Server struct {
	addr   string
	models Models
	opts   options

	mu       sync.Mutex
	listener net.Listener
	started  bool
	stopping bool

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
	closeErr error

	ready chan struct{}
	quit  chan struct{}
	done  chan struct{}
}

// New returns a server that will listen on addr. It does not bind until Start.
// It panics if models is nil.
func New(addr string, models Models, opts ...Option) *Server {
	if models == nil {
		panic("server: nil Models")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		addr:   addr,
		models: models,
		opts:   o,
		ready:  make(chan struct{}),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start binds the listener and accepts connections until Stop is called or ctx is
// canceled, handling each connection on its own goroutine. It returns nil after a
// stop, ErrServerClosed if Stop came first, and an error if binding or accepting fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.stopping:
		s.mu.Unlock()
		return ErrServerClosed
	case s.started:
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.started = true
	s.mu.Unlock()

	markReady := sync.OnceFunc(func() { close(s.ready) })
	defer markReady()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.addr)
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()
	markReady()

	log.Info().Str("addr", ln.Addr().String()).Msg("fraud scoring server listening")

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-s.quit:
		}
	}()

	// handlers outlive ctx; only Stop ends the accept loop
	handlerCtx := context.WithoutCancel(ctx)

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.Stopped() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				tempDelay = backoff(tempDelay)
				log.Warn().Err(err).Dur("retry_in", tempDelay).Msg("accept error")
				time.Sleep(tempDelay)
				continue
			}
			_ = s.Stop()
			return errors.Wrap(err, "accept")
		}
		tempDelay = 0

		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handle(handlerCtx, conn)
	}
}

func backoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// Stop stops accepting connections and closes the listener. In-flight handlers
// run to completion; model resources are released after they finish. Stop is
// safe to call more than once and from any goroutine.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		ln := s.listener
		s.mu.Unlock()

		close(s.quit)
		if ln != nil {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.stopErr = errors.Wrap(err, "close listener")
			}
		}
		log.Info().Msg("server stopping, draining connections")

		go s.drain()
	})
	return s.stopErr
}

func (s *Server) drain() {
	defer close(s.done)

	s.wg.Wait()
	if err := s.models.Close(); err != nil {
		s.closeErr = errors.Wrap(err, "release models")
		log.Error().Err(err).Msg("failed to release model resources")
	}
	log.Info().Msg("server stopped")
}

// Stopped reports whether Stop has been requested.
func (s *Server) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// Ready is closed once Start has tried to bind. Addr is nil if binding failed.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Done is closed once the server has stopped and released its models.
func (s *Server) Done() <-chan struct{} { return s.done }

// Addr returns the bound address, or nil before the listener is bound.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Wait blocks until the server has stopped and drained, or ctx is done. It
// returns any error from releasing model resources.
func (s *Server) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.closeErr
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for connections to drain")
	}
}
