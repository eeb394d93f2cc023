package fuse

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"syscall"

	"fileshare/pkg/types"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"
)

var _ fs.NodeGetattrer = (*FileNode)(nil)
var _ fs.NodeOpener = (*FileNode)(nil)

// FileNode is one stored file.
type FileNode struct {
	fs.Inode
	sfs *ShareFS
	key types.FileKey
}

func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := f.sfs.store.Stat(f.key)
	if err != nil {
		return syscall.ENOENT
	}
	setFileAttr(&out.Attr, info)
	out.SetTimeout(attrTimeout)
	return fs.OK
}

// Open only allows reading; the mount never changes shared files.
func (f *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_APPEND|syscall.O_TRUNC) != 0 {
		return nil, 0, syscall.EROFS
	}

	file, _, err := f.sfs.store.Open(f.key)
	if err != nil {
		f.sfs.logger.Debug("Open failed", zap.String("key", string(f.key)), zap.Error(err))
		return nil, 0, syscall.ENOENT
	}
	return &fileHandle{file: file}, 0, fs.OK
}

var _ fs.FileReader = (*fileHandle)(nil)
var _ fs.FileReleaser = (*fileHandle)(nil)

type fileHandle struct {
	mu   sync.Mutex
	file *os.File
}

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, err := h.file.ReadAt(dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fs.ToErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), fs.OK
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fs.ToErrno(h.file.Close())
}
