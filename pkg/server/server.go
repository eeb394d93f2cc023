// Package server implements the fileshare TCP server: the acceptor, the
// per-connection session handlers and the shutdown coordinator.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"fileshare/pkg/config"
	"fileshare/pkg/metrics"
	"fileshare/pkg/protocol"
	"fileshare/pkg/registry"
	"fileshare/pkg/storage"
	"fileshare/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	cfg      config.ServerConfig
	storage  *storage.Backend
	registry *registry.Registry
	sessions *SessionTable
	metrics  *metrics.ServerMetrics
	logger   *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	pending  map[net.Conn]struct{}

	handlers sync.WaitGroup
	closing  atomic.Bool
	stopped  chan struct{}
}

// New opens the storage directory and rebuilds the registry from it. It
// refuses to start without a storage directory. Metrics go to a private
// registry; use NewWithMetrics to export them.
func New(cfg config.ServerConfig, logger *zap.Logger) (*Server, error) {
	return NewWithMetrics(cfg, logger, metrics.New(prometheus.NewRegistry()))
}

func NewWithMetrics(cfg config.ServerConfig, logger *zap.Logger, m *metrics.ServerMetrics) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	backend, err := storage.New(cfg.StorageDir, logger.Named("storage"))
	if err != nil {
		return nil, err
	}

	reg := registry.New(logger.Named("registry"))
	count, err := reg.Rebuild(backend)
	if err != nil {
		return nil, err
	}
	m.StoredFiles.Set(float64(count))

	return &Server{
		cfg:      cfg,
		storage:  backend,
		registry: reg,
		sessions: NewSessionTable(),
		metrics:  m,
		logger:   logger,
		pending:  make(map[net.Conn]struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

func (s *Server) Registry() *registry.Registry    { return s.registry }
func (s *Server) Storage() *storage.Backend       { return s.storage }
func (s *Server) Sessions() *SessionTable         { return s.sessions }
func (s *Server) Metrics() *metrics.ServerMetrics { return s.metrics }

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("%w on %s: %v", protocol.ErrBind, s.cfg.Address, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Server listening",
		zap.String("address", ln.Addr().String()),
		zap.String("storage_dir", s.storage.Dir()),
		zap.Int("file_count", s.registry.Len()))
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds and serves until Shutdown.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve accepts connections until Shutdown is called, handing each to its
// own handler goroutine. It returns ErrServerClosed after a shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return protocol.ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else {
					backoff *= 2
				}
				if backoff > time.Second {
					backoff = time.Second
				}
				s.logger.Warn("Accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		backoff = 0

		if !s.track(conn) {
			conn.Close()
			continue
		}

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.pending[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.pending, conn)
	s.mu.Unlock()
}

// handleConn runs one connection from the username prompt to teardown.
func (s *Server) handleConn(conn net.Conn) {
	logger := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	logger.Debug("Accepted connection")
	s.metrics.ConnectionsTotal.Inc()

	sess, err := s.handshake(conn, logger)
	if err != nil {
		logger.Info("Handshake failed", zap.Error(err))
		s.metrics.HandshakeFailures.WithLabelValues(handshakeFailure(err)).Inc()
		conn.Close()
		return
	}

	s.metrics.ActiveSessions.Inc()
	defer func() {
		sess.transition(types.StateActive, types.StateClosing)
		s.sessions.Release(sess)
		s.metrics.ActiveSessions.Dec()
		sess.Close()
		<-sess.drained
		sess.state.Store(int32(types.StateClosed))
		sess.logger.Info("Client disconnected")
	}()

	s.serveSession(sess)
}

func handshakeFailure(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUsernameTaken):
		return "username_taken"
	case errors.Is(err, protocol.ErrInvalidUsername):
		return "invalid_username"
	case errors.Is(err, protocol.ErrServerClosed):
		return "shutting_down"
	default:
		return "io"
	}
}

// handshake prompts for a username and claims it. The handshake timeout
// applies only here; the command loop that follows has no read deadline.
func (s *Server) handshake(conn net.Conn, logger *zap.Logger) (*Session, error) {
	if s.cfg.HandshakeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	}

	reader := bufio.NewReader(conn)
	if err := protocol.WriteLine(conn, protocol.UsernamePrompt); err != nil {
		return nil, fmt.Errorf("failed to send username prompt: %w", err)
	}

	line, err := protocol.ReadLine(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read username: %w", err)
	}

	username, err := protocol.ValidateUsername(line)
	if err != nil {
		protocol.WriteLine(conn, protocol.ErrorLine(err))
		return nil, err
	}

	sess := newSession(username, conn, reader, s.cfg.QueueSize, s.cfg.WriteTimeout, logger)
	if err := s.sessions.Claim(sess); err != nil {
		protocol.WriteLine(conn, protocol.ErrorLine(err))
		return nil, fmt.Errorf("failed to claim %q: %w", username, err)
	}

	sess.writeMu.Lock()
	sess.state.Store(int32(types.StateActive))
	go sess.drain()
	err = sess.reply(protocol.WelcomeLine(username))
	sess.writeMu.Unlock()

	conn.SetDeadline(time.Time{})

	if err != nil {
		sess.Close()
		<-sess.drained
		s.sessions.Release(sess)
		return nil, fmt.Errorf("failed to send welcome: %w", err)
	}

	sess.logger.Info("Client connected")
	return sess, nil
}

// Shutdown stops accepting, sends every live session the disconnect signal
// and closes its connection within ShutdownGrace whether or not the signal
// went out, then waits for handlers to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closing.CompareAndSwap(false, true) {
		select {
		case <-s.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	sessions := s.sessions.CloseAll()
	s.logger.Info("Shutting down", zap.Int("session_count", len(sessions)))

	var g errgroup.Group
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error {
			sess.Disconnect(s.cfg.ShutdownGrace)
			return nil
		})
	}
	g.Wait()

	// Connections still in the handshake have no session to signal.
	s.mu.Lock()
	for conn := range s.pending {
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(s.stopped)
		s.logger.Info("Server stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	}
}
