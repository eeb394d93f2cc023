package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"fileshare/pkg/protocol"
	"fileshare/pkg/types"

	"go.uber.org/zap"
)

// EventBufferSize bounds undelivered events; further events are dropped.
const EventBufferSize = 64

var ErrUnexpectedResponse = errors.New("unexpected response from server")

// instruction tells the reader goroutine what to do after it hands over a
// response line: keep reading lines, or copy the next n raw bytes into w.
type instruction struct {
	n      int64
	w      io.Writer
	result chan rawResult
}

type rawResult struct {
	n   int64
	err error
}

// Client is a connection to a fileshare server with a claimed username.
// Requests are serialised; asynchronous server messages are delivered on
// Events whether or not a request is in flight.
type Client struct {
	conn     net.Conn
	reader   *bufio.Reader
	username types.Username
	logger   *zap.Logger

	mu sync.Mutex

	responses chan string
	instr     chan instruction
	events    chan Event

	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	errMu        sync.Mutex
	readErr      error
	disconnected bool
}

// Dial connects to addr and claims username. A rejected claim is reported
// as protocol.ErrUsernameTaken (or ErrInvalidUsername).
func Dial(ctx context.Context, addr, username string, logger *zap.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	c, err := handshake(ctx, conn, username, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func handshake(ctx context.Context, conn net.Conn, username string, logger *zap.Logger) (*Client, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	reader := bufio.NewReader(conn)
	prompt, err := protocol.ReadLine(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read username prompt: %w", err)
	}
	if prompt != protocol.UsernamePrompt {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedResponse, prompt)
	}

	if err := protocol.WriteLine(conn, username); err != nil {
		return nil, fmt.Errorf("failed to send username: %w", err)
	}

	reply, err := protocol.ReadLine(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read handshake reply: %w", err)
	}
	if protocol.IsError(reply) {
		return nil, protocol.ErrorFromLine(reply)
	}
	if !protocol.IsWelcome(reply) {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedResponse, reply)
	}

	conn.SetDeadline(time.Time{})

	c := &Client{
		conn:      conn,
		reader:    reader,
		username:  types.Username(username),
		logger:    logger.With(zap.String("username", username)),
		responses: make(chan string),
		instr:     make(chan instruction),
		events:    make(chan Event, EventBufferSize),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.readLoop()

	c.logger.Debug("Connected", zap.String("server", conn.RemoteAddr().String()))
	return c, nil
}

// readLoop owns the read side of the connection. Asynchronous lines become
// events; every other line is handed to the waiting request, after which
// the loop waits for that request's instruction.
func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		line, err := protocol.ReadLine(c.reader)
		if err != nil {
			c.setErr(err)
			return
		}

		if protocol.IsAsync(line) {
			c.emit(line)
			continue
		}

		select {
		case c.responses <- line:
		case <-c.closing:
			return
		}

		var in instruction
		select {
		case in = <-c.instr:
		case <-c.closing:
			return
		}
		if in.w == nil {
			continue
		}

		n, err := io.CopyN(in.w, c.reader, in.n)
		in.result <- rawResult{n: n, err: err}
		if err != nil {
			c.setErr(err)
			return
		}
	}
}

func (c *Client) emit(line string) {
	var ev Event
	if line == protocol.DisconnectToken {
		c.errMu.Lock()
		c.disconnected = true
		c.errMu.Unlock()
		ev = Event{Type: EventDisconnect}
	} else {
		n, ok := protocol.ParseNotification(line)
		if !ok {
			c.logger.Warn("Unparseable notification", zap.String("line", line))
			return
		}
		ev = Event{Type: EventNotification, Notification: n}
	}

	select {
	case c.events <- ev:
	default:
		c.logger.Warn("Event buffer full, dropping event", zap.String("event", ev.Type.String()))
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		c.readErr = err
	}
}

// err describes why the connection is no longer usable.
func (c *Client) err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	switch {
	case c.disconnected:
		return protocol.ErrServerClosed
	case c.readErr == nil, errors.Is(c.readErr, io.EOF), errors.Is(c.readErr, net.ErrClosed):
		return fmt.Errorf("connection closed: %w", io.ErrUnexpectedEOF)
	default:
		return fmt.Errorf("connection failed: %w", c.readErr)
	}
}

// Close shuts the connection and waits for the reader to exit.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.conn.Close()
	})
	<-c.done
	return err
}

// Username returns the claimed username.
func (c *Client) Username() types.Username {
	return c.username
}

// Events delivers notifications and the disconnect signal. The channel is
// closed when the connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
