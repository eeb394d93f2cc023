package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"fileshare/pkg/protocol"
	"fileshare/pkg/storage"
	"fileshare/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeLister struct {
	files []types.StoredFile
	err   error
}

func (f fakeLister) List() ([]types.StoredFile, error) {
	return f.files, f.err
}

func noopRemove(types.FileKey) error { return nil }

func TestRebuildFromStorage(t *testing.T) {
	logger := zaptest.NewLogger(t)
	backend, err := storage.New(t.TempDir(), logger)
	require.NoError(t, err)

	for _, key := range []types.FileKey{
		storage.EncodeKey("alice", "notes.txt"),
		storage.EncodeKey("alice", "bob_fake.txt"),
		storage.EncodeKey("bob", "photo.png"),
	} {
		_, err := backend.Store(key, strings.NewReader("x"), 1)
		require.NoError(t, err)
	}

	reg := New(logger)
	n, err := reg.Rebuild(backend)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, []types.FileEntry{
		{Name: "bob_fake.txt", Owner: "alice"},
		{Name: "notes.txt", Owner: "alice"},
		{Name: "photo.png", Owner: "bob"},
	}, reg.List())
	assert.Equal(t, []types.Username{"alice", "bob"}, reg.Owners())
}

func TestRebuildReplacesEntries(t *testing.T) {
	reg := New(zaptest.NewLogger(t))
	_, err := reg.Put("stale_entry", "stale")
	require.NoError(t, err)

	_, err = reg.Rebuild(fakeLister{files: []types.StoredFile{{Key: "alice_a", Owner: "alice"}}})
	require.NoError(t, err)

	_, ok := reg.Owner("stale_entry")
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Len())

	_, err = reg.Rebuild(fakeLister{err: errors.New("boom")})
	assert.Error(t, err)
	assert.Equal(t, 1, reg.Len(), "failed rebuild keeps the previous index")
}

func TestPutReportsReplacement(t *testing.T) {
	reg := New(zaptest.NewLogger(t))
	key := storage.EncodeKey("alice", "notes.txt")

	replaced, err := reg.Put(key, "alice")
	require.NoError(t, err)
	assert.False(t, replaced)

	replaced, err = reg.Put(key, "alice")
	require.NoError(t, err)
	assert.True(t, replaced)

	_, err = reg.Put(key, "mallory")
	assert.ErrorIs(t, err, ErrOwnerMismatch)

	owner, ok := reg.Owner(key)
	require.True(t, ok)
	assert.Equal(t, types.Username("alice"), owner)
}

func TestDeletePermissions(t *testing.T) {
	reg := New(zaptest.NewLogger(t))
	key := storage.EncodeKey("bob", "secret.txt")
	_, err := reg.Put(key, "bob")
	require.NoError(t, err)

	t.Run("NotOwner", func(t *testing.T) {
		called := false
		err := reg.Delete(key, "alice", func(types.FileKey) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, protocol.ErrPermissionDenied)
		assert.False(t, called)
		_, ok := reg.Owner(key)
		assert.True(t, ok)
	})

	t.Run("Missing", func(t *testing.T) {
		err := reg.Delete(storage.EncodeKey("alice", "nothing"), "alice", noopRemove)
		assert.ErrorIs(t, err, protocol.ErrPermissionDenied)
	})

	t.Run("RemoveFails", func(t *testing.T) {
		err := reg.Delete(key, "bob", func(types.FileKey) error { return errors.New("read-only fs") })
		assert.EqualError(t, err, "read-only fs")
		_, ok := reg.Owner(key)
		assert.True(t, ok)
	})

	t.Run("Owner", func(t *testing.T) {
		var removed types.FileKey
		err := reg.Delete(key, "bob", func(k types.FileKey) error {
			removed = k
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, key, removed)
		_, ok := reg.Owner(key)
		assert.False(t, ok)
	})
}

func TestDeleteDropsEntryWhenFileVanished(t *testing.T) {
	reg := New(zaptest.NewLogger(t))
	key := storage.EncodeKey("alice", "gone.txt")
	_, err := reg.Put(key, "alice")
	require.NoError(t, err)

	err = reg.Delete(key, "alice", func(k types.FileKey) error {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, k)
	})
	assert.ErrorIs(t, err, protocol.ErrPermissionDenied)
	assert.Zero(t, reg.Len())
}

func TestListIsStable(t *testing.T) {
	reg := New(zaptest.NewLogger(t))
	assert.Empty(t, reg.List())

	for i := 0; i < 20; i++ {
		owner := types.Username(fmt.Sprintf("user%d", i%3))
		_, err := reg.Put(storage.EncodeKey(owner, fmt.Sprintf("f%02d", i)), owner)
		require.NoError(t, err)
	}

	assert.Equal(t, reg.List(), reg.List())
}

func TestConcurrentDeleteSingleWinner(t *testing.T) {
	reg := New(zaptest.NewLogger(t))
	key := storage.EncodeKey("alice", "race.txt")
	_, err := reg.Put(key, "alice")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		removes   int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reg.Delete(key, "alice", func(types.FileKey) error {
				mu.Lock()
				removes++
				mu.Unlock()
				return nil
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, removes)
}
