package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fileshare/pkg/protocol"
	"fileshare/pkg/types"

	"go.uber.org/zap"
)

// KeySeparator joins owner and filename in a composite key. Usernames may
// not contain it, so the first occurrence always ends the owner part.
const KeySeparator = "_"

// stagingPrefix marks in-flight uploads. It can never start a valid key.
const stagingPrefix = ".upload-"

var (
	ErrNoStorageDir = errors.New("storage directory not set")
	ErrNotFound     = errors.New("stored file not found")
	ErrIncomplete   = errors.New("incomplete write")
	ErrInvalidKey   = errors.New("invalid storage key")
)

// EncodeKey builds the composite key for owner's file.
func EncodeKey(owner types.Username, filename string) types.FileKey {
	return types.FileKey(string(owner) + KeySeparator + filename)
}

// DecodeKey splits a composite key back into owner and filename.
func DecodeKey(key types.FileKey) (types.Username, string, error) {
	owner, name, ok := strings.Cut(string(key), KeySeparator)
	if !ok {
		return "", "", fmt.Errorf("%w: %q has no owner separator", ErrInvalidKey, key)
	}
	username, err := protocol.ValidateUsername(owner)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if err := protocol.ValidateFilename(name); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return username, name, nil
}

// Backend stores one file per composite key in a flat directory.
type Backend struct {
	dir    string
	logger *zap.Logger
}

// New opens (creating if needed) the storage directory.
func New(dir string, logger *zap.Logger) (*Backend, error) {
	if dir == "" {
		return nil, ErrNoStorageDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Backend{dir: abs, logger: logger}, nil
}

// Dir returns the absolute storage directory.
func (b *Backend) Dir() string {
	return b.dir
}

func (b *Backend) path(key types.FileKey) string {
	return filepath.Join(b.dir, string(key))
}

// Store streams exactly size bytes from r into the file for key, replacing
// any previous content. The bytes are staged in a temporary file and renamed
// over the key, so readers that already opened the old file keep reading it
// in full. If r ends early the partial file still replaces the key and
// ErrIncomplete is returned.
func (b *Backend) Store(key types.FileKey, r io.Reader, size int64) (replaced bool, err error) {
	path := b.path(key)
	if _, statErr := os.Stat(path); statErr == nil {
		replaced = true
	}

	f, err := os.CreateTemp(b.dir, stagingPrefix+"*")
	if err != nil {
		return replaced, fmt.Errorf("failed to stage %s: %w", key, err)
	}
	staged := f.Name()

	written, copyErr := io.CopyN(f, r, size)
	closeErr := f.Close()

	if copyErr != nil {
		if errors.Is(copyErr, io.EOF) || errors.Is(copyErr, io.ErrUnexpectedEOF) {
			if err := b.commit(staged, path, key); err != nil {
				return replaced, err
			}
			b.logger.Warn("Partial file left on disk",
				zap.String("key", string(key)),
				zap.Int64("written", written),
				zap.Int64("expected", size))
			return replaced, fmt.Errorf("%w: received %d of %d bytes", ErrIncomplete, written, size)
		}
		os.Remove(staged)
		return replaced, fmt.Errorf("failed to write %s: %w", key, copyErr)
	}
	if closeErr != nil {
		os.Remove(staged)
		return replaced, fmt.Errorf("failed to close %s: %w", key, closeErr)
	}
	if err := b.commit(staged, path, key); err != nil {
		return replaced, err
	}

	b.logger.Debug("Stored file",
		zap.String("key", string(key)),
		zap.Int64("size", written),
		zap.Bool("replaced", replaced))

	return replaced, nil
}

func (b *Backend) commit(staged, path string, key types.FileKey) error {
	if err := os.Chmod(staged, 0644); err != nil {
		os.Remove(staged)
		return fmt.Errorf("failed to set mode on %s: %w", key, err)
	}
	if err := os.Rename(staged, path); err != nil {
		os.Remove(staged)
		return fmt.Errorf("failed to move %s into place: %w", key, err)
	}
	return nil
}

// Open returns the file for key and its current size.
func (b *Backend) Open(key types.FileKey) (*os.File, int64, error) {
	f, err := os.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, 0, fmt.Errorf("failed to open %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return f, info.Size(), nil
}

// Stat describes the stored file for key.
func (b *Backend) Stat(key types.FileKey) (types.StoredFile, error) {
	owner, name, err := DecodeKey(key)
	if err != nil {
		return types.StoredFile{}, err
	}
	info, err := os.Stat(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return types.StoredFile{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return types.StoredFile{}, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return types.StoredFile{
		Key:      key,
		Name:     name,
		Owner:    owner,
		Size:     info.Size(),
		Modified: info.ModTime(),
	}, nil
}

// Remove deletes the file for key.
func (b *Backend) Remove(key types.FileKey) error {
	if err := os.Remove(b.path(key)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	b.logger.Debug("Removed file", zap.String("key", string(key)))
	return nil
}

// List enumerates every regular file whose name decodes as a composite key,
// sorted by key. Anything else in the directory is skipped with a warning.
func (b *Backend) List() ([]types.StoredFile, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	files := make([]types.StoredFile, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.HasPrefix(entry.Name(), stagingPrefix) {
			// Left behind by an upload that was cut off by a crash.
			continue
		}
		key := types.FileKey(entry.Name())
		owner, name, err := DecodeKey(key)
		if err != nil {
			b.logger.Warn("Skipping unrecognised file in storage directory",
				zap.String("name", entry.Name()),
				zap.Error(err))
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		files = append(files, types.StoredFile{
			Key:      key,
			Name:     name,
			Owner:    owner,
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Key < files[j].Key })
	return files, nil
}
