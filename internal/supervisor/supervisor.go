// Package supervisor owns the TCP connection lifecycle described in
// spec.md §4.G: dialing out in client mode or accepting in server mode,
// reconnect backoff, and a clean, idempotent shutdown. It knows nothing
// about ASTM or HL7 — it hands each live net.Conn to a Handler and leaves
// the protocol work to the caller (internal/coordinator).
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/sysmex-astm-bridge/internal/logging"
	"github.com/kstaniek/sysmex-astm-bridge/internal/metrics"
)

// Sentinel errors, wrapped with fmt.Errorf("%w: %v", ...) so callers can
// classify via errors.Is, mirroring internal/server/errors.go.
var (
	ErrBind        = errors.New("supervisor: bind failed")
	ErrAccept      = errors.New("supervisor: accept failed")
	ErrInvalidMode = errors.New("supervisor: invalid connection type")
)

const (
	minBackoff = 5 * time.Second
	maxBackoff = 60 * time.Second
)

// sleepFn and dialFn are test seams, mirroring the teacher's
// cmd/can-server/backend_serial.go sleepFn/openSerialPort hooks: unit
// tests substitute them to exercise backoff without real sleeps or dials.
var (
	sleepFn = time.Sleep
	dialFn  = func(network, addr string, timeout time.Duration) (net.Conn, error) {
		return net.DialTimeout(network, addr, timeout)
	}
)

// Handler processes one live connection until it ends (read error, EOF, or
// ctx cancellation) and returns. The supervisor closes conn afterward.
type Handler func(ctx context.Context, conn net.Conn)

// Mode selects client (dial out) or server (accept) operation, per
// spec.md §4.G.
type Mode string

const (
	ModeClient Mode = "client"
	ModeServer Mode = "server"
)

// Supervisor drives one analyzer connection's lifecycle per spec.md §4.G.
type Supervisor struct {
	Mode    Mode
	Addr    string // "host:port" to dial (client) or ":port" to bind (server)
	Handler Handler
	Logger  *slog.Logger

	listening atomic.Bool

	// active guards server mode against more than one live analyzer
	// connection at a time: spec.md models each analyzer as a single
	// process-like unit, not a multiplexed multi-client server.
	active atomic.Bool

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn

	wg sync.WaitGroup
}

// New returns a Supervisor ready to Start.
func New(mode Mode, addr string, handler Handler) *Supervisor {
	return &Supervisor{Mode: mode, Addr: addr, Handler: handler, Logger: logging.L()}
}

// IsListening reports whether the supervisor is currently (or attempting
// to be) active, per spec.md's "isListening" operation.
func (s *Supervisor) IsListening() bool { return s.listening.Load() }

// BoundAddr returns the server-mode listener's actual address (useful when
// Addr was ":0"), or "" if not currently listening.
func (s *Supervisor) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Start runs the supervisor loop until Stop is called or ctx is cancelled.
// It blocks the calling goroutine; callers typically run it via `go`.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.Mode != ModeClient && s.Mode != ModeServer {
		return fmt.Errorf("%w: %q", ErrInvalidMode, s.Mode)
	}
	s.listening.Store(true)
	logger := s.Logger
	if logger == nil {
		logger = logging.L()
	}

	if s.Mode == ModeServer {
		return s.runServer(ctx, logger)
	}
	return s.runClient(ctx, logger)
}

// Stop implements spec.md §4.G's stopListening: idempotent, releases the
// listening port before returning, and closes any in-flight connection so
// a blocked reader wakes with an error.
func (s *Supervisor) Stop() {
	s.listening.Store(false)
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Supervisor) runServer(ctx context.Context, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.listening.Store(false)
		wrap := fmt.Errorf("%w: %v", ErrBind, err)
		metrics.IncError(metrics.ErrEstablishment)
		return wrap
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	logger.Info("tcp_listen", "addr", ln.Addr().String())

	go func() { <-ctx.Done(); s.Stop() }()

	for s.listening.Load() {
		conn, err := ln.Accept()
		if err != nil {
			if !s.listening.Load() {
				return nil
			}
			wrap := fmt.Errorf("%w: %v", ErrAccept, err)
			metrics.IncError(metrics.ErrEstablishment)
			logger.Warn("accept_error", "error", wrap)
			continue
		}
		if !s.active.CompareAndSwap(false, true) {
			logger.Warn("connection_rejected", "remote", conn.RemoteAddr().String(), "reason", "an analyzer connection is already active")
			_ = conn.Close()
			continue
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.wg.Add(1)
		metrics.SetActiveConnections(1)
		connLogger := logger.With("remote", conn.RemoteAddr().String())
		connLogger.Info("analyzer_connected")
		go func() {
			defer s.wg.Done()
			defer func() {
				_ = conn.Close()
				s.mu.Lock()
				if s.conn == conn {
					s.conn = nil
				}
				s.mu.Unlock()
				metrics.SetActiveConnections(0)
				s.active.Store(false)
			}()
			s.Handler(ctx, conn)
			connLogger.Info("analyzer_disconnected")
		}()
	}
	return nil
}

func (s *Supervisor) runClient(ctx context.Context, logger *slog.Logger) error {
	backoff := minBackoff
	for s.listening.Load() {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := dialFn("tcp", s.Addr, 10*time.Second)
		if err != nil {
			logger.Warn("connect_failed", "addr", s.Addr, "error", err, "backoff", backoff)
			metrics.IncReconnect()
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			sleepFn(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = minBackoff
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		metrics.SetActiveConnections(1)
		logger.Info("analyzer_connected", "addr", s.Addr)
		s.Handler(ctx, conn)
		_ = conn.Close()
		metrics.SetActiveConnections(0)
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		logger.Info("analyzer_disconnected", "addr", s.Addr)
	}
	return nil
}
