// Package client is a Go client for the fileshare server. It is what the
// command line tools and any graphical front end call into.
package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"fileshare/pkg/protocol"
	"fileshare/pkg/types"

	"go.uber.org/zap"
)

type EventType int

const (
	EventNotification EventType = iota
	EventDisconnect
)

func (t EventType) String() string {
	switch t {
	case EventNotification:
		return "notification"
	case EventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Event is an asynchronous message pushed by the server.
type Event struct {
	Type         EventType
	Notification protocol.Notification
}

// request serialises one exchange. If ctx ends mid-exchange the connection
// is closed, since the stream can no longer be framed.
func (c *Client) request(ctx context.Context, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return c.err()
	default:
	}

	stop := context.AfterFunc(ctx, func() { c.Close() })
	err := fn()
	if !stop() && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) send(line string) error {
	if err := protocol.WriteLine(c.conn, line); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	return nil
}

// response waits for the next response line without releasing the reader.
// The caller must follow up with proceed or readRaw.
func (c *Client) response() (string, error) {
	select {
	case line := <-c.responses:
		return line, nil
	case <-c.done:
		return "", c.err()
	}
}

func (c *Client) proceed() error {
	select {
	case c.instr <- instruction{}:
		return nil
	case <-c.done:
		return c.err()
	}
}

// next returns the next response line and lets the reader continue.
func (c *Client) next() (string, error) {
	line, err := c.response()
	if err != nil {
		return "", err
	}
	if err := c.proceed(); err != nil {
		return "", err
	}
	return line, nil
}

// readRaw has the reader copy exactly n payload bytes into w. before runs
// once the reader is committed, typically to send the readiness token.
func (c *Client) readRaw(n int64, w io.Writer, before func() error) (int64, error) {
	in := instruction{n: n, w: w, result: make(chan rawResult, 1)}
	select {
	case c.instr <- in:
	case <-c.done:
		return 0, c.err()
	}

	if err := before(); err != nil {
		c.Close()
		return 0, err
	}

	select {
	case res := <-in.result:
		if res.err != nil {
			c.Close()
			return res.n, fmt.Errorf("%w after %d of %d bytes: %v", protocol.ErrConnectionInterrupted, res.n, n, res.err)
		}
		return res.n, nil
	case <-c.done:
		return 0, c.err()
	}
}

// expect reads the status line that ends an exchange.
func (c *Client) expect(want string) error {
	line, err := c.next()
	if err != nil {
		return err
	}
	switch {
	case line == want:
		return nil
	case protocol.IsError(line):
		return protocol.ErrorFromLine(line)
	default:
		return fmt.Errorf("%w: %q", ErrUnexpectedResponse, line)
	}
}

// List returns every file on the server.
func (c *Client) List(ctx context.Context) ([]types.FileEntry, error) {
	var entries []types.FileEntry
	err := c.request(ctx, func() error {
		if err := c.send(string(protocol.VerbList)); err != nil {
			return err
		}
		header, err := c.next()
		if err != nil {
			return err
		}
		if header == protocol.NoFiles {
			return nil
		}
		if protocol.IsError(header) {
			return protocol.ErrorFromLine(header)
		}
		count, ok := protocol.ParseFilesHeader(header)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnexpectedResponse, header)
		}

		entries = make([]types.FileEntry, 0, count)
		for i := 0; i < count; i++ {
			line, err := c.next()
			if err != nil {
				return err
			}
			entry, ok := protocol.ParseListLine(line)
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnexpectedResponse, line)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// Upload sends size bytes from r as name. A reader that runs short leaves
// the connection unusable and it is closed.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := protocol.ValidateFilename(name); err != nil {
		return err
	}
	if size < 0 {
		return protocol.ErrInvalidFileSize
	}

	return c.request(ctx, func() error {
		if err := c.send(protocol.FormatCommand(protocol.VerbUpload, name)); err != nil {
			return err
		}
		prompt, err := c.next()
		if err != nil {
			return err
		}
		if protocol.IsError(prompt) {
			return protocol.ErrorFromLine(prompt)
		}
		if prompt != protocol.SizePrompt {
			return fmt.Errorf("%w: %q", ErrUnexpectedResponse, prompt)
		}

		if err := c.send(protocol.FormatSize(size)); err != nil {
			return err
		}
		if written, err := io.CopyN(c.conn, r, size); err != nil {
			c.Close()
			return fmt.Errorf("upload of %s stopped after %d of %d bytes: %w", name, written, size, err)
		}

		if err := c.expect(protocol.UploadSuccess); err != nil {
			return err
		}
		c.logger.Debug("Uploaded file", zap.String("file", name), zap.Int64("size", size))
		return nil
	})
}

// UploadFile uploads a local file under its base name.
func (c *Client) UploadFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}

	return c.Upload(ctx, filepath.Base(path), f, info.Size())
}

// Download writes owner's file into w and returns the byte count.
func (c *Client) Download(ctx context.Context, name string, owner types.Username, w io.Writer) (int64, error) {
	if w == nil {
		w = io.Discard
	}

	var n int64
	err := c.request(ctx, func() error {
		if err := c.send(protocol.FormatCommand(protocol.VerbDownload, name, string(owner))); err != nil {
			return err
		}

		line, err := c.response()
		if err != nil {
			return err
		}
		size, sizeErr := protocol.ParseSize(line)
		if sizeErr != nil {
			if err := c.proceed(); err != nil {
				return err
			}
			if protocol.IsError(line) {
				return protocol.ErrorFromLine(line)
			}
			return fmt.Errorf("%w: %q", ErrUnexpectedResponse, line)
		}

		n, err = c.readRaw(size, w, func() error { return c.send(protocol.ReadyToken) })
		if err != nil {
			return err
		}
		if err := c.expect(protocol.DownloadSuccess); err != nil {
			return err
		}
		c.logger.Debug("Downloaded file",
			zap.String("file", name),
			zap.String("owner", string(owner)),
			zap.Int64("size", n))
		return nil
	})
	return n, err
}

// DownloadFile saves owner's file into dir under its original name.
func (c *Client) DownloadFile(ctx context.Context, name string, owner types.Username, dir string) (string, int64, error) {
	if err := protocol.ValidateFilename(name); err != nil {
		return "", 0, err
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create %s: %w", path, err)
	}

	n, err := c.Download(ctx, name, owner, f)
	closeErr := f.Close()
	if err != nil {
		os.Remove(path)
		return "", n, err
	}
	if closeErr != nil {
		return "", n, fmt.Errorf("failed to close %s: %w", path, closeErr)
	}
	return path, n, nil
}

// Delete removes one of the caller's own files.
func (c *Client) Delete(ctx context.Context, name string) error {
	return c.request(ctx, func() error {
		if err := c.send(protocol.FormatCommand(protocol.VerbDelete, name)); err != nil {
			return err
		}
		return c.expect(protocol.DeleteSuccess)
	})
}
