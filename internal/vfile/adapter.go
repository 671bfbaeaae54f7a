// Package vfile binds an [overlay.Engine] into a single-file go-fuse mount:
// one backing file presented at the mount root under its own base name,
// readable and writable through the normal filesystem API while every
// divergence from the backing content lands in the engine's sidecars.
package vfile

import (
	"context"
	"errors"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/andrewarrow/cowblock/pkg/overlay"
)

// Root is the go-fuse filesystem root for a single overlaid file. It has
// exactly one child: the file named after the backing path's base name.
type Root struct {
	fs.Inode

	engine   *overlay.Engine
	baseName string
}

// NewRoot builds a go-fuse root exposing engine's content as baseName.
//
// Use this when the mount target is a directory: the backing file appears
// as a single entry named baseName inside it.
func NewRoot(engine *overlay.Engine, baseName string) *Root {
	return &Root{engine: engine, baseName: baseName}
}

// NewFileRoot builds a go-fuse root that is itself the overlaid file, with
// no child entries.
//
// Use this when the mount target is a pre-existing regular file path: the
// kernel lets a FUSE filesystem be mounted directly onto a file, in which
// case the root inode must answer file operations (Getattr/Open/Setattr)
// rather than expose a directory listing.
func NewFileRoot(engine *overlay.Engine) fs.InodeEmbedder {
	return &fileNode{engine: engine}
}

var _ = (fs.NodeOnAdder)((*Root)(nil))

// OnAdd attaches the single overlaid file node as a child of the mount root.
func (r *Root) OnAdd(ctx context.Context) {
	child := &fileNode{engine: r.engine}
	r.Inode.AddChild(r.baseName, r.Inode.NewPersistentInode(ctx, child, fs.StableAttr{}), false)
}

// fileNode is the Inode for the single overlaid file.
type fileNode struct {
	fs.Inode

	engine *overlay.Engine
}

var _ = (fs.NodeGetattrer)((*fileNode)(nil))

// Getattr reports the engine's current logical size as the file size.
func (n *fileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Size = n.engine.Size()
	out.Mode = 0o644

	now := timeNow()
	out.SetTimes(&now, &now, &now)

	return fs.OK
}

var _ = (fs.NodeSetattrer)((*fileNode)(nil))

// Setattr handles truncate requests. Permission and ownership changes are
// rejected with ENOTSUP, since the overlay format has no representation for
// them; timestamp changes are accepted without effect.
func (n *fileNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	_, modeSet := in.GetMode()
	_, uidSet := in.GetUID()
	_, gidSet := in.GetGID()

	if modeSet || uidSet || gidSet {
		return syscall.ENOTSUP
	}

	if size, ok := in.GetSize(); ok {
		if err := n.engine.Truncate(size); err != nil {
			return errToErrno(err)
		}
	}

	out.Size = n.engine.Size()
	out.Mode = 0o644

	return fs.OK
}

var _ = (fs.NodeOpener)((*fileNode)(nil))

// Open always succeeds; the engine itself enforces no open-mode semantics
// beyond what Read/Write/Setattr already check.
func (n *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return &fileHandle{engine: n.engine}, fuse.FOPEN_DIRECT_IO, fs.OK
}

// fileHandle is the per-open handle; it carries no state of its own because
// the engine already serializes all access.
type fileHandle struct {
	engine *overlay.Engine
}

var _ = (fs.FileReader)((*fileHandle)(nil))

// Read returns up to len(dest) bytes from offset off, short at the logical
// end, matching [overlay.Engine.Read]'s contract.
func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off < 0 {
		return nil, syscall.EINVAL
	}

	data, err := h.engine.Read(uint64(off), uint64(len(dest)))
	if err != nil {
		return nil, errToErrno(err)
	}

	return fuse.ReadResultData(data), fs.OK
}

var _ = (fs.FileWriter)((*fileHandle)(nil))

// Write writes data at offset off, growing the engine's logical size as
// needed.
func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if off < 0 {
		return 0, syscall.EINVAL
	}

	n, err := h.engine.Write(uint64(off), data)
	if err != nil {
		return uint32(n), errToErrno(err)
	}

	return uint32(n), fs.OK
}

var _ = (fs.FileFlusher)((*fileHandle)(nil))

// Flush syncs the sidecars on every close(2), matching the conservative
// durability stance of always syncing rather than batching.
func (h *fileHandle) Flush(ctx context.Context) syscall.Errno {
	if err := h.engine.Sync(); err != nil {
		return errToErrno(err)
	}

	return fs.OK
}

var _ = (fs.FileFsyncer)((*fileHandle)(nil))

// Fsync syncs the sidecars on an explicit fsync(2).
func (h *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	if err := h.engine.Sync(); err != nil {
		return errToErrno(err)
	}

	return fs.OK
}

func errToErrno(err error) syscall.Errno {
	switch {
	case errors.Is(err, overlay.ErrUnsupported):
		return syscall.ENOTSUP
	case errors.Is(err, overlay.ErrClosed):
		return syscall.EBADF
	default:
		return syscall.EIO
	}
}

func timeNow() time.Time { return time.Now() }

// BaseName returns the file name under which backingPath's content is
// exposed at the mount root.
func BaseName(backingPath string) string {
	return filepath.Base(backingPath)
}
