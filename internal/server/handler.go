package server

import (
	"context"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// connState is a connection's position in its single request/response exchange.
type connState int

const (
	awaitingRequest connState = iota
	decoding
	voting
	responding
	closed
)

func (s connState) String() string {
	switch s {
	case awaitingRequest:
		return "awaiting_request"
	case decoding:
		return "decoding"
	case voting:
		return "voting"
	case responding:
		return "responding"
	case closed:
		return "closed"
	default:
		return "unknown"
	}
}

// failureReason is the metrics label for a connection that failed in state s.
func failureReason(s connState, err error) string {
	switch {
	case errors.Is(err, ErrRequestTooLarge):
		return "too_large"
	case s == awaitingRequest:
		return "read"
	case s == decoding:
		return "decode"
	case s == voting:
		return "inference"
	default:
		return "write"
	}
}

// handle runs one exchange on conn and closes it. Errors never escape the connection.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	logger := log.With().
		Str("conn_id", uuid.NewString()).
		Str("peer", conn.RemoteAddr().String()).
		Logger()
	logger.Info().Time("accepted_at", time.Now()).Msg("connection accepted")

	s.opts.metrics.ConnectionOpened()
	defer s.opts.metrics.ConnectionClosed()

	state, err := s.exchange(ctx, conn, &logger)
	if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		logger.Debug().Err(cerr).Msg("error closing connection")
	}
	if err != nil {
		s.opts.metrics.ConnectionFailed(failureReason(state, err))
		switch state {
		case decoding, voting:
			logger.Warn().Err(err).Stringer("state", state).Msg("decode failure, closing connection")
		default:
			logger.Warn().Err(err).Stringer("state", state).Msg("connection failed")
		}
	}
}

// exchange walks one connection through request, decode, vote and response. It
// returns the state it stopped in; on success that is closed.
func (s *Server) exchange(ctx context.Context, conn net.Conn, logger *zerolog.Logger) (connState, error) {
	state := awaitingRequest
	if s.opts.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.readTimeout))
	}
	payload, err := readRequest(conn, s.opts.maxRequestBytes)
	if err != nil {
		if errors.Is(err, ErrDecode) {
			return decoding, err
		}
		return state, err
	}

	state = decoding
	x, err := DecodeRequest(payload)
	if err != nil {
		return state, err
	}
	ens, release := s.models.Acquire()
	defer release()
	if ens == nil {
		return state, errors.New("no ensemble loaded")
	}
	if want := ens.NFeatures(); want > 0 {
		if _, got := x.Dims(); got != want {
			return state, errors.Wrapf(ErrDecode, "request has %d features, want %d", got, want)
		}
	}

	state = voting
	start := time.Now()
	d, err := ens.Vote(ctx, x)
	if err != nil {
		return state, err
	}
	elapsed := time.Since(start)
	s.opts.metrics.DecisionMade(ens.Members(), d, elapsed)
	logger.Debug().
		Int("label", int(d.Label)).
		Int("score", d.Score).
		Ints("flags", votesToInts(d.Flags)).
		Dur("elapsed", elapsed).
		Msg("request scored")

	state = responding
	if s.opts.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.writeTimeout))
	}
	if _, err := conn.Write(EncodeResponse(d)); err != nil {
		return state, errors.Wrap(err, "write response")
	}
	return closed, nil
}

func votesToInts[V ~int](vs []V) []int {
	out := make([]int, len(vs))
	for i, v := range vs {
		out[i] = int(v)
	}
	return out
}
