package fuse

import (
	"context"
	"syscall"

	"fileshare/pkg/types"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

var _ fs.NodeStatfser = (*RootNode)(nil)
var _ fs.NodeGetattrer = (*RootNode)(nil)
var _ fs.NodeReaddirer = (*RootNode)(nil)
var _ fs.NodeLookuper = (*RootNode)(nil)

// RootNode lists one directory per owner.
type RootNode struct {
	fs.Inode
	sfs *ShareFS
}

func NewRootNode(sfs *ShareFS) *RootNode {
	return &RootNode{sfs: sfs}
}

func (r *RootNode) OnAdd(ctx context.Context) {
	r.sfs.logger.Debug("Filesystem root attached")
}

func (r *RootNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	setDirAttr(&out.Attr)
	out.SetTimeout(attrTimeout)
	return fs.OK
}

func (r *RootNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	owners := r.sfs.index.Owners()
	entries := make([]fuse.DirEntry, 0, len(owners))
	for _, owner := range owners {
		entries = append(entries, fuse.DirEntry{Name: string(owner), Mode: syscall.S_IFDIR})
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (r *RootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	owner := types.Username(name)
	if !r.sfs.hasOwner(owner) {
		return nil, syscall.ENOENT
	}

	setDirAttr(&out.Attr)
	out.SetEntryTimeout(attrTimeout)
	out.SetAttrTimeout(attrTimeout)

	child := &OwnerDir{sfs: r.sfs, owner: owner}
	return r.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFDIR}), fs.OK
}

// Statfs reports a read-only filesystem with the shared file count.
func (r *RootNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	const blockSize = 4096

	out.Bsize = blockSize
	out.Frsize = blockSize
	out.Files = uint64(len(r.sfs.index.List()))
	out.NameLen = 255
	return fs.OK
}
