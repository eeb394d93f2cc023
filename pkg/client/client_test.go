package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"fileshare/pkg/protocol"
	"fileshare/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// peer is the server end of a scripted conversation.
type peer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (p *peer) send(lines ...string) {
	for _, l := range lines {
		if err := protocol.WriteLine(p.conn, l); err != nil {
			p.t.Errorf("peer write: %v", err)
		}
	}
}

func (p *peer) expect(want string) {
	line, err := protocol.ReadLine(p.r)
	if err != nil {
		p.t.Errorf("peer read: %v", err)
		return
	}
	if line != want {
		p.t.Errorf("peer got %q, want %q", line, want)
	}
}

// scripted serves exactly one connection with script after a successful
// handshake for username.
func scripted(t *testing.T, username string, script func(p *peer)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	finished := make(chan struct{})
	t.Cleanup(func() {
		ln.Close()
		<-finished
	})

	go func() {
		defer close(finished)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		p := &peer{t: t, conn: conn, r: bufio.NewReader(conn)}
		p.send(protocol.UsernamePrompt)
		p.expect(username)
		p.send(protocol.WelcomeLine(types.Username(username)))
		script(p)
	}()

	return ln.Addr().String()
}

func dialScripted(t *testing.T, username string, script func(p *peer)) *Client {
	t.Helper()
	addr := scripted(t, username, script)
	c, err := Dial(context.Background(), addr, username, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDialRejected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		protocol.WriteLine(conn, protocol.UsernamePrompt)
		protocol.ReadLine(r)
		protocol.WriteLine(conn, "Error: Username already taken!")
	}()

	_, err = Dial(context.Background(), ln.Addr().String(), "alice", zaptest.NewLogger(t))
	assert.ErrorIs(t, err, protocol.ErrUsernameTaken)
}

func TestListSkipsAsyncLines(t *testing.T) {
	c := dialScripted(t, "alice", func(p *peer) {
		p.expect("list")
		p.send(
			"NOTIFICATION: Your file 'a.txt' was downloaded by bob.",
			"Files: 2",
			"a.txt (Owner: alice)",
			"b c.txt (Owner: bob)",
		)
		p.expect("list")
		p.send(protocol.NoFiles)
	})

	entries, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.FileEntry{
		{Name: "a.txt", Owner: "alice"},
		{Name: "b c.txt", Owner: "bob"},
	}, entries)

	select {
	case ev := <-c.Events():
		assert.Equal(t, EventNotification, ev.Type)
		assert.Equal(t, protocol.Notification{File: "a.txt", Requester: "bob"}, ev.Notification)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}

	entries, err = c.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloadPayloadIsNotParsed(t *testing.T) {
	payload := "line one\nNOTIFICATION: not really\nDISCONNECT\n"

	c := dialScripted(t, "bob", func(p *peer) {
		p.expect(`download "notes.txt" "alice"`)
		p.send(protocol.FormatSize(int64(len(payload))))
		p.expect(protocol.ReadyToken)
		io.WriteString(p.conn, payload)
		p.send(protocol.DownloadSuccess)
	})

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), "notes.txt", "alice", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, buf.String())

	select {
	case ev := <-c.Events():
		t.Fatalf("payload bytes surfaced as event: %+v", ev)
	default:
	}
}

func TestDownloadNotFound(t *testing.T) {
	c := dialScripted(t, "bob", func(p *peer) {
		p.expect(`download "missing" "alice"`)
		p.send("Error: File not found.")
		p.expect("list")
		p.send(protocol.NoFiles)
	})

	_, err := c.Download(context.Background(), "missing", "alice", io.Discard)
	assert.ErrorIs(t, err, protocol.ErrFileNotFound)

	// The connection is still in step.
	_, err = c.List(context.Background())
	assert.NoError(t, err)
}

func TestUploadRejected(t *testing.T) {
	c := dialScripted(t, "alice", func(p *peer) {
		p.expect(`upload "big.bin"`)
		p.send(protocol.SizePrompt)
		p.expect("4")
		buf := make([]byte, 4)
		io.ReadFull(p.r, buf)
		p.send("Error: File exceeds maximum upload size.")
	})

	err := c.Upload(context.Background(), "big.bin", strings.NewReader("data"), 4)
	assert.ErrorIs(t, err, protocol.ErrFileTooLarge)
	assert.ErrorIs(t, err, protocol.ErrInvalidFileSize)
}

func TestUploadValidatesLocally(t *testing.T) {
	c := dialScripted(t, "alice", func(p *peer) {})

	assert.ErrorIs(t, c.Upload(context.Background(), "a/b", strings.NewReader(""), 0), protocol.ErrInvalidFilename)
	assert.ErrorIs(t, c.Upload(context.Background(), "a", strings.NewReader(""), -1), protocol.ErrInvalidFileSize)
}

func TestUploadShortReader(t *testing.T) {
	c := dialScripted(t, "alice", func(p *peer) {
		p.expect(`upload "a.txt"`)
		p.send(protocol.SizePrompt)
		io.Copy(io.Discard, p.r)
	})

	err := c.Upload(context.Background(), "a.txt", strings.NewReader("ab"), 10)
	assert.Error(t, err)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client not closed after short upload")
	}
}

func TestDisconnectEvent(t *testing.T) {
	c := dialScripted(t, "alice", func(p *peer) {
		p.send(protocol.DisconnectToken)
	})

	ev, ok := <-c.Events()
	require.True(t, ok)
	assert.Equal(t, EventDisconnect, ev.Type)

	_, ok = <-c.Events()
	assert.False(t, ok, "events close with the connection")

	err := c.Delete(context.Background(), "a.txt")
	assert.ErrorIs(t, err, protocol.ErrServerClosed)
}

func TestRequestContextCancelled(t *testing.T) {
	c := dialScripted(t, "alice", func(p *peer) {
		p.expect("list")
		// Never answer.
		io.Copy(io.Discard, p.r)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.List(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client not closed after cancellation")
	}
}
