package server

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"fileshare/pkg/metrics"
	"fileshare/pkg/protocol"
	"fileshare/pkg/storage"
	"fileshare/pkg/types"

	"go.uber.org/zap"
)

// serveSession is the command loop. Per-command failures are reported to
// the client and the loop continues; only transport errors end it.
func (s *Server) serveSession(sess *Session) {
	for {
		line, err := protocol.ReadLine(sess.reader)
		if err != nil {
			if errors.Is(err, protocol.ErrLineTooLong) {
				sess.exchange(func() error { return sess.reply(protocol.ErrorLine(err)) })
				sess.logger.Warn("Command line too long, closing session")
				return
			}
			if !errors.Is(err, io.EOF) {
				sess.logger.Debug("Read failed", zap.Error(err))
			}
			return
		}

		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			sess.logger.Debug("Rejected command", zap.String("line", line), zap.Error(err))
			if err := sess.exchange(func() error { return sess.reply(protocol.ErrorLine(err)) }); err != nil {
				return
			}
			continue
		}

		if err := sess.exchange(func() error { return s.dispatch(sess, cmd) }); err != nil {
			sess.logger.Debug("Session ended during command",
				zap.String("command", string(cmd.Verb)),
				zap.Error(err))
			return
		}
	}
}

// dispatch runs one command. The returned error is a transport failure;
// protocol errors have already been reported to the client.
func (s *Server) dispatch(sess *Session, cmd protocol.Command) error {
	sess.outcome = nil
	start := time.Now()

	err := s.route(sess, cmd)

	outcome := sess.outcome
	if err != nil {
		outcome = err
	}
	s.metrics.ObserveCommand(string(cmd.Verb), outcome, time.Since(start))
	return err
}

func (s *Server) route(sess *Session, cmd protocol.Command) error {
	switch cmd.Verb {
	case protocol.VerbList:
		return s.handleList(sess)
	case protocol.VerbUpload:
		return s.handleUpload(sess, cmd.Args[0])
	case protocol.VerbDelete:
		return s.handleDelete(sess, cmd.Args[0])
	case protocol.VerbDownload:
		return s.handleDownload(sess, cmd.Args[0], types.Username(cmd.Args[1]))
	default:
		return sess.fail(&protocol.CommandError{})
	}
}

// handleList sends the whole listing in one write.
func (s *Server) handleList(sess *Session) error {
	entries := s.registry.List()
	if len(entries) == 0 {
		return sess.reply(protocol.NoFiles)
	}

	var b strings.Builder
	b.WriteString(protocol.FilesHeader(len(entries)))
	for _, e := range entries {
		b.WriteByte('\n')
		b.WriteString(protocol.ListLine(e))
	}
	return sess.reply(b.String())
}

func (s *Server) handleUpload(sess *Session, name string) error {
	if err := protocol.ValidateFilename(name); err != nil {
		return sess.fail(err)
	}

	if err := sess.reply(protocol.SizePrompt); err != nil {
		return err
	}
	line, err := protocol.ReadLine(sess.reader)
	if err != nil {
		return fmt.Errorf("failed to read upload size: %w", err)
	}
	size, err := protocol.ParseSize(line)
	if err != nil {
		sess.logger.Debug("Rejected upload size", zap.String("size", line))
		return sess.fail(err)
	}

	logger := sess.logger.With(zap.String("file", name), zap.Int64("size", size))

	if s.cfg.MaxUploadSize > 0 && size > s.cfg.MaxUploadSize {
		// The client sends the payload without waiting, so it has to be
		// consumed to keep the stream in step.
		if _, err := io.CopyN(io.Discard, sess.reader, size); err != nil {
			return fmt.Errorf("failed to discard oversized upload: %w", err)
		}
		logger.Warn("Rejected oversized upload", zap.Int64("max_upload_size", s.cfg.MaxUploadSize))
		return sess.fail(protocol.ErrFileTooLarge)
	}

	key := storage.EncodeKey(sess.username, name)
	body := &io.LimitedReader{R: sess.reader, N: size}

	replaced, err := s.storage.Store(key, body, size)
	if err != nil {
		if errors.Is(err, storage.ErrIncomplete) {
			logger.Warn("Upload interrupted", zap.Error(err))
			sess.fail(protocol.ErrConnectionInterrupted)
			return nil
		}
		logger.Error("Failed to store upload", zap.Error(err))
		if _, err := io.Copy(io.Discard, body); err != nil {
			return fmt.Errorf("failed to discard upload: %w", err)
		}
		return sess.fail(err)
	}

	if replaced {
		logger.Warn("Overwriting existing file", zap.String("key", string(key)))
	}

	if _, err := s.registry.Put(key, sess.username); err != nil {
		logger.Error("Failed to record upload", zap.Error(err))
		return sess.fail(err)
	}

	s.metrics.BytesUploaded.Add(float64(size))
	s.metrics.StoredFiles.Set(float64(s.registry.Len()))
	logger.Info("File uploaded")
	return sess.reply(protocol.UploadSuccess)
}

func (s *Server) handleDownload(sess *Session, name string, owner types.Username) error {
	logger := sess.logger.With(zap.String("file", name), zap.String("owner", string(owner)))

	// An owner containing the key separator would address another user's
	// file, so malformed names are answered like missing files.
	if _, err := protocol.ValidateUsername(string(owner)); err != nil {
		logger.Debug("Download with invalid owner", zap.Error(err))
		return sess.fail(protocol.ErrFileNotFound)
	}
	if err := protocol.ValidateFilename(name); err != nil {
		logger.Debug("Download with invalid filename", zap.Error(err))
		return sess.fail(protocol.ErrFileNotFound)
	}

	key := storage.EncodeKey(owner, name)
	recorded, ok := s.registry.Owner(key)
	if !ok || recorded != owner {
		logger.Debug("Download of unknown file")
		return sess.fail(protocol.ErrFileNotFound)
	}

	f, size, err := s.storage.Open(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn("Registry entry had no file on disk")
			return sess.fail(protocol.ErrFileNotFound)
		}
		logger.Error("Failed to open file for download", zap.Error(err))
		return sess.fail(err)
	}
	defer f.Close()

	if err := sess.reply(protocol.FormatSize(size)); err != nil {
		return err
	}

	token, err := protocol.ReadLine(sess.reader)
	if err != nil {
		return fmt.Errorf("failed to read ready token: %w", err)
	}
	if token != protocol.ReadyToken {
		logger.Warn("Client did not confirm download", zap.String("token", token))
		return sess.fail(protocol.ErrTransferCancelled)
	}

	if _, err := io.CopyN(sess.conn, f, size); err != nil {
		// Either the peer went away or the file shrank under us; in both
		// cases the byte stream can no longer be framed.
		return fmt.Errorf("failed to stream %s: %w", key, err)
	}
	if err := sess.reply(protocol.DownloadSuccess); err != nil {
		return err
	}

	s.metrics.BytesDownloaded.Add(float64(size))
	logger.Info("File downloaded")

	if recorded != sess.username {
		s.notifyOwner(recorded, protocol.Notification{File: name, Requester: sess.username})
	}
	return nil
}

// notifyOwner delivers a best-effort notification. Nothing is reported to
// the requester if the owner is offline or the push is dropped.
func (s *Server) notifyOwner(owner types.Username, n protocol.Notification) {
	target, ok := s.sessions.Lookup(owner)
	if !ok {
		s.logger.Debug("Owner offline, notification skipped",
			zap.String("owner", string(owner)),
			zap.String("file", n.File))
		s.metrics.Notifications.WithLabelValues(metrics.NotificationOffline).Inc()
		return
	}
	if !target.Notify(n) {
		s.metrics.Notifications.WithLabelValues(metrics.NotificationDropped).Inc()
		s.logger.Warn("Dropped download notification",
			zap.String("owner", string(owner)),
			zap.String("file", n.File),
			zap.String("requester", string(n.Requester)))
		return
	}
	s.metrics.Notifications.WithLabelValues(metrics.NotificationQueued).Inc()
}

func (s *Server) handleDelete(sess *Session, name string) error {
	key := storage.EncodeKey(sess.username, name)

	if err := s.registry.Delete(key, sess.username, s.storage.Remove); err != nil {
		if !errors.Is(err, protocol.ErrPermissionDenied) {
			sess.logger.Error("Failed to delete file", zap.String("file", name), zap.Error(err))
		}
		return sess.fail(err)
	}

	s.metrics.StoredFiles.Set(float64(s.registry.Len()))
	sess.logger.Info("File deleted", zap.String("file", name))
	return sess.reply(protocol.DeleteSuccess)
}
