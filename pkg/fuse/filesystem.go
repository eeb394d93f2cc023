// Package fuse mounts the shared file namespace read-only as
// /<owner>/<file>, backed by the live registry and storage directory.
package fuse

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"fileshare/pkg/types"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"
)

const attrTimeout = time.Second

// Index is the view of the registry the filesystem needs.
type Index interface {
	List() []types.FileEntry
	Owners() []types.Username
	Owner(key types.FileKey) (types.Username, bool)
}

// Store is the view of the storage backend the filesystem needs.
type Store interface {
	Stat(key types.FileKey) (types.StoredFile, error)
	Open(key types.FileKey) (*os.File, int64, error)
}

// KeyFunc builds a composite key; storage.EncodeKey in production.
type KeyFunc func(owner types.Username, name string) types.FileKey

// ShareFS holds what every node in the tree shares.
type ShareFS struct {
	index  Index
	store  Store
	key    KeyFunc
	logger *zap.Logger
}

func NewShareFS(index Index, store Store, key KeyFunc, logger *zap.Logger) *ShareFS {
	return &ShareFS{
		index:  index,
		store:  store,
		key:    key,
		logger: logger,
	}
}

// Mount serves the tree at mountpoint until the returned server is
// unmounted.
func Mount(mountpoint string, sfs *ShareFS) (*fuse.Server, error) {
	timeout := attrTimeout
	opts := &fs.Options{
		EntryTimeout: &timeout,
		AttrTimeout:  &timeout,
		MountOptions: fuse.MountOptions{
			FsName: "fileshare",
			Name:   "fileshare",
		},
	}

	server, err := fs.Mount(mountpoint, NewRootNode(sfs), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to mount %s: %w", mountpoint, err)
	}
	sfs.logger.Info("Mounted shared files", zap.String("mountpoint", mountpoint))
	return server, nil
}

// filesOf returns the names owner currently has in the registry.
func (s *ShareFS) filesOf(owner types.Username) []string {
	var names []string
	for _, e := range s.index.List() {
		if e.Owner == owner {
			names = append(names, e.Name)
		}
	}
	return names
}

func (s *ShareFS) hasOwner(owner types.Username) bool {
	for _, o := range s.index.Owners() {
		if o == owner {
			return true
		}
	}
	return false
}

func setDirAttr(out *fuse.Attr) {
	out.Mode = syscall.S_IFDIR | 0555
	out.Nlink = 2
	out.Uid = uint32(os.Getuid())
	out.Gid = uint32(os.Getgid())
}

func setFileAttr(out *fuse.Attr, f types.StoredFile) {
	out.Mode = syscall.S_IFREG | 0444
	out.Size = uint64(f.Size)
	out.Nlink = 1
	out.Uid = uint32(os.Getuid())
	out.Gid = uint32(os.Getgid())

	mtime := uint64(f.Modified.Unix())
	out.Mtime = mtime
	out.Atime = mtime
	out.Ctime = mtime
}

var _ fs.NodeReaddirer = (*OwnerDir)(nil)
var _ fs.NodeLookuper = (*OwnerDir)(nil)
var _ fs.NodeGetattrer = (*OwnerDir)(nil)

// OwnerDir lists one owner's files.
type OwnerDir struct {
	fs.Inode
	sfs   *ShareFS
	owner types.Username
}

func (d *OwnerDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	setDirAttr(&out.Attr)
	out.SetTimeout(attrTimeout)
	return fs.OK
}

func (d *OwnerDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names := d.sfs.filesOf(d.owner)
	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, fuse.DirEntry{Name: name, Mode: syscall.S_IFREG})
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (d *OwnerDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	key := d.sfs.key(d.owner, name)
	if _, ok := d.sfs.index.Owner(key); !ok {
		return nil, syscall.ENOENT
	}

	info, err := d.sfs.store.Stat(key)
	if err != nil {
		d.sfs.logger.Debug("Lookup failed", zap.String("key", string(key)), zap.Error(err))
		return nil, syscall.ENOENT
	}

	setFileAttr(&out.Attr, info)
	out.SetEntryTimeout(attrTimeout)
	out.SetAttrTimeout(attrTimeout)

	child := &FileNode{sfs: d.sfs, key: key}
	return d.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFREG}), fs.OK
}
