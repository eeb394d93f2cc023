// Package registry keeps the in-memory index of stored files and their
// owners. It is derived from the storage directory and rebuilt from it at
// startup; the directory stays the source of truth.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"fileshare/pkg/protocol"
	"fileshare/pkg/storage"
	"fileshare/pkg/types"

	"go.uber.org/zap"
)

// ErrOwnerMismatch is returned when a write would change an entry's owner.
var ErrOwnerMismatch = errors.New("registry entry owned by another user")

// Lister enumerates stored files; satisfied by *storage.Backend.
type Lister interface {
	List() ([]types.StoredFile, error)
}

// Registry maps composite keys to owners.
type Registry struct {
	mu      sync.RWMutex
	entries map[types.FileKey]types.Username
	logger  *zap.Logger
}

func New(logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[types.FileKey]types.Username),
		logger:  logger,
	}
}

// Rebuild replaces the index with whatever the lister reports.
func (r *Registry) Rebuild(src Lister) (int, error) {
	files, err := src.List()
	if err != nil {
		return 0, fmt.Errorf("failed to list stored files: %w", err)
	}

	entries := make(map[types.FileKey]types.Username, len(files))
	for _, f := range files {
		entries[f.Key] = f.Owner
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()

	r.logger.Info("Rebuilt file registry", zap.Int("file_count", len(entries)))
	return len(entries), nil
}

// Put records owner for key. It reports whether an existing entry was
// replaced.
func (r *Registry) Put(key types.FileKey, owner types.Username) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[key]
	if ok && existing != owner {
		return false, fmt.Errorf("%w: %s belongs to %s", ErrOwnerMismatch, key, existing)
	}
	r.entries[key] = owner
	return ok, nil
}

// Owner looks up the owner of key.
func (r *Registry) Owner(key types.FileKey) (types.Username, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.entries[key]
	return owner, ok
}

// Delete removes key if requester owns it. remove is called while the lock
// is held so a concurrent upload of the same key cannot slip in between the
// ownership check and the unlink. A file already missing from disk still
// drops the entry but is reported as ErrPermissionDenied, the same answer
// given for keys that never existed.
func (r *Registry) Delete(key types.FileKey, requester types.Username, remove func(types.FileKey) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.entries[key]
	if !ok || owner != requester {
		return protocol.ErrPermissionDenied
	}

	if err := remove(key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			delete(r.entries, key)
			r.logger.Warn("Registry entry had no file on disk",
				zap.String("key", string(key)),
				zap.String("owner", string(owner)))
			return protocol.ErrPermissionDenied
		}
		return err
	}

	delete(r.entries, key)
	return nil
}

// List returns every entry as (display name, owner), sorted by owner and
// then name.
func (r *Registry) List() []types.FileEntry {
	r.mu.RLock()
	out := make([]types.FileEntry, 0, len(r.entries))
	for key, owner := range r.entries {
		name := strings.TrimPrefix(string(key), string(owner)+storage.KeySeparator)
		out = append(out, types.FileEntry{Name: name, Owner: owner})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Owners returns the distinct owners that currently have files.
func (r *Registry) Owners() []types.Username {
	r.mu.RLock()
	seen := make(map[types.Username]struct{})
	for _, owner := range r.entries {
		seen[owner] = struct{}{}
	}
	r.mu.RUnlock()

	out := make([]types.Username, 0, len(seen))
	for owner := range seen {
		out = append(out, owner)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
