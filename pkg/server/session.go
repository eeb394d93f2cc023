package server

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"fileshare/pkg/protocol"
	"fileshare/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is the server side of one authenticated connection.
//
// Two paths write to conn: the command handler, which holds writeMu for a
// whole request/response exchange, and the drain goroutine, which delivers
// queued notifications and the disconnect signal between exchanges. Pushes
// never block the caller and the outbound queue is never closed, so a push
// racing with teardown is simply dropped.
type Session struct {
	id       string
	username types.Username
	conn     net.Conn
	reader   *bufio.Reader
	logger   *zap.Logger

	writeMu      sync.Mutex
	writeTimeout time.Duration

	outbound   chan string
	disconnect chan struct{}
	done       chan struct{}
	drained    chan struct{}

	// outcome is the protocol error reported for the current command. Only
	// the handler goroutine touches it, under writeMu.
	outcome error

	state          atomic.Int32
	disconnectOnce sync.Once
	closeOnce      sync.Once
}

func newSession(username types.Username, conn net.Conn, reader *bufio.Reader, queueSize int, writeTimeout time.Duration, logger *zap.Logger) *Session {
	id := uuid.New().String()
	s := &Session{
		id:           id,
		username:     username,
		conn:         conn,
		reader:       reader,
		writeTimeout: writeTimeout,
		outbound:     make(chan string, queueSize),
		disconnect:   make(chan struct{}),
		done:         make(chan struct{}),
		drained:      make(chan struct{}),
		logger: logger.With(
			zap.String("session_id", id),
			zap.String("username", string(username))),
	}
	s.state.Store(int32(types.StateUnauthenticated))
	return s
}

func (s *Session) ID() string               { return s.id }
func (s *Session) Username() types.Username { return s.username }

func (s *Session) State() types.SessionState {
	return types.SessionState(s.state.Load())
}

func (s *Session) transition(from, to types.SessionState) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Push queues an asynchronous line for delivery. It reports false if the
// session is closed or its queue is full.
func (s *Session) Push(line string) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.outbound <- line:
		return true
	default:
		return false
	}
}

// Notify queues a download notification.
func (s *Session) Notify(n protocol.Notification) bool {
	return s.Push(n.Line())
}

// drain delivers queued lines until the session closes or is told to
// disconnect. It must be started while the caller holds writeMu so nothing
// overtakes the welcome line.
func (s *Session) drain() {
	defer close(s.drained)

	for {
		select {
		case <-s.done:
			return
		case <-s.disconnect:
			if err := s.writeAsync(protocol.DisconnectToken); err != nil {
				s.logger.Debug("Failed to deliver disconnect signal", zap.Error(err))
			}
			return
		case line := <-s.outbound:
			if err := s.writeAsync(line); err != nil {
				s.logger.Warn("Failed to deliver message, closing session", zap.Error(err))
				s.Close()
				return
			}
		}
	}
}

func (s *Session) writeAsync(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	return protocol.WriteLine(s.conn, line)
}

// exchange runs fn with exclusive write access to the connection.
func (s *Session) exchange(fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn()
}

// reply writes a response line. Callers hold writeMu.
func (s *Session) reply(line string) error {
	return protocol.WriteLine(s.conn, line)
}

// fail reports a per-command error to the client and records it as the
// command's outcome.
func (s *Session) fail(err error) error {
	s.outcome = err
	return s.reply(protocol.ErrorLine(err))
}

// Disconnect asks the drain goroutine to send the disconnect signal, waits
// up to grace for it to go out, then closes the connection regardless.
func (s *Session) Disconnect(grace time.Duration) {
	s.transition(types.StateActive, types.StateClosing)
	s.disconnectOnce.Do(func() { close(s.disconnect) })

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-s.drained:
	case <-s.done:
	case <-timer.C:
		s.logger.Debug("Disconnect signal not flushed in time")
	}
	s.Close()
}

// Close tears down the connection. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.transition(types.StateActive, types.StateClosing)
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
