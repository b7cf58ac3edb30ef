// Package mount serves the container through FUSE.
package mount

import (
	"context"
	"io"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/packfs"
	"github.com/outofforest/packfs/tree"
	"github.com/outofforest/packfs/types"
)

const (
	dirMode      = syscall.S_IFDIR | 0o555
	readOnlyMode = syscall.S_IFREG | 0o444
	writableMode = syscall.S_IFREG | 0o644
)

// Metrics counts the operations served by the mount.
type Metrics interface {
	Operation(name string, failed bool)
}

type noopMetrics struct{}

func (noopMetrics) Operation(string, bool) {}

// Options configures the mount.
type Options struct {
	// Mountpoint is the directory where the container is mounted. It is created if missing.
	Mountpoint string

	Container packfs.Container

	// AllowOther permits other users to access the mount.
	AllowOther bool

	Logger  *zap.Logger
	Metrics Metrics
}

// Mount mounts the container. Caller unmounts it using the returned server.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, errors.New("mountpoint is required")
	}
	if options.Container == nil {
		return nil, errors.New("container is required")
	}
	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating mountpoint %s failed", options.Mountpoint)
	}

	fsys := newFileSystem(options)
	attrTimeout := time.Second
	server, err := gofuse.Mount(options.Mountpoint, fsys.dir(fsys.c.Tree().Root()), &gofuse.Options{
		EntryTimeout: &attrTimeout,
		AttrTimeout:  &attrTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "packfs",
			Name:       "packfs",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "mounting container at %s failed", options.Mountpoint)
	}

	fsys.log.Info("Container mounted", zap.String("mountpoint", options.Mountpoint))
	return server, nil
}

// Errno maps container errors to errnos returned to the kernel.
func Errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, types.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, types.ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, types.ErrNotAFile):
		return syscall.EISDIR
	case errors.Is(err, types.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, types.ErrOutOfRange):
		return syscall.EINVAL
	case errors.Is(err, types.ErrClosed):
		return syscall.EBADF
	default:
		return syscall.EIO
	}
}

type fileSystem struct {
	c       packfs.Container
	log     *zap.Logger
	metrics Metrics
}

func newFileSystem(options Options) *fileSystem {
	fsys := &fileSystem{
		c:       options.Container,
		log:     options.Logger,
		metrics: options.Metrics,
	}
	if fsys.log == nil {
		fsys.log = zap.NewNop()
	}
	if fsys.metrics == nil {
		fsys.metrics = noopMetrics{}
	}
	return fsys
}

func (fsys *fileSystem) dir(n *tree.Node) *dirNode {
	return &dirNode{fsys: fsys, node: n}
}

func (fsys *fileSystem) file(n *tree.Node) *fileNode {
	return &fileNode{fsys: fsys, node: n}
}

func (fsys *fileSystem) writable(n *tree.Node) bool {
	_, ok := fsys.c.(packfs.Writable)
	return ok && !fsys.c.IsReadOnly(n)
}

func (fsys *fileSystem) fileMode(n *tree.Node) uint32 {
	if fsys.writable(n) {
		return writableMode
	}
	return readOnlyMode
}

func (fsys *fileSystem) done(op string, n *tree.Node, err error) syscall.Errno {
	errno := Errno(err)
	fsys.metrics.Operation(op, errno != 0)
	if errno == syscall.EIO {
		fsys.log.Error("Operation failed", zap.String("operation", op),
			zap.String("path", fsys.c.Tree().Path(n)), zap.Error(err))
	}
	return errno
}

func (fsys *fileSystem) setAttr(n *tree.Node, out *fuse.Attr) {
	if n.IsDir() {
		out.Mode = dirMode
		return
	}
	out.Mode = fsys.fileMode(n)
	out.Size = fsys.c.Size(n)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = types.BlockSize
}

type dirNode struct {
	gofuse.Inode

	fsys *fileSystem
	node *tree.Node
}

var (
	_ gofuse.InodeEmbedder = (*dirNode)(nil)
	_ gofuse.NodeLookuper  = (*dirNode)(nil)
	_ gofuse.NodeReaddirer = (*dirNode)(nil)
	_ gofuse.NodeGetattrer = (*dirNode)(nil)
)

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	n, err := d.fsys.c.Tree().Child(d.node, name)
	if err != nil {
		return nil, d.fsys.done("lookup", d.node, err)
	}

	d.fsys.setAttr(n, &out.Attr)
	d.fsys.metrics.Operation("lookup", false)

	// Inode 1 belongs to the root.
	ino := uint64(n.ID) + 1
	if n.IsDir() {
		return d.NewInode(ctx, d.fsys.dir(n), gofuse.StableAttr{Mode: syscall.S_IFDIR, Ino: ino}), 0
	}
	return d.NewInode(ctx, d.fsys.file(n), gofuse.StableAttr{Mode: syscall.S_IFREG, Ino: ino}), 0
}

func (d *dirNode) Readdir(_ context.Context) (gofuse.DirStream, syscall.Errno) {
	children, err := d.fsys.c.Tree().Children(d.node, 1)
	if err != nil {
		return nil, d.fsys.done("readdir", d.node, err)
	}

	entries := make([]fuse.DirEntry, 0, len(children))
	for _, n := range children {
		mode := uint32(syscall.S_IFREG)
		if n.IsDir() {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: n.Name, Mode: mode})
	}
	d.fsys.metrics.Operation("readdir", false)
	return gofuse.NewListDirStream(entries), 0
}

func (d *dirNode) Getattr(_ context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	d.fsys.setAttr(d.node, &out.Attr)
	return 0
}

type fileNode struct {
	gofuse.Inode

	fsys *fileSystem
	node *tree.Node
}

var (
	_ gofuse.InodeEmbedder = (*fileNode)(nil)
	_ gofuse.NodeGetattrer = (*fileNode)(nil)
	_ gofuse.NodeSetattrer = (*fileNode)(nil)
	_ gofuse.NodeOpener    = (*fileNode)(nil)
)

func (f *fileNode) Getattr(_ context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	f.fsys.setAttr(f.node, &out.Attr)
	return 0
}

func (f *fileNode) Setattr(_ context.Context, fh gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := f.truncate(fh, size); err != nil {
			return f.fsys.done("truncate", f.node, err)
		}
		f.fsys.metrics.Operation("truncate", false)
	}
	f.fsys.setAttr(f.node, &out.Attr)
	return 0
}

func (f *fileNode) truncate(fh gofuse.FileHandle, size uint64) error {
	if h, ok := fh.(*fileHandle); ok {
		return h.h.Truncate(int64(size))
	}

	h, err := f.fsys.c.OpenFile(f.node, types.ReadWrite)
	if err != nil {
		return err
	}
	defer h.Close()

	return h.Truncate(int64(size))
}

func (f *fileNode) Open(_ context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	mode := types.ReadOnly
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		mode = types.ReadWrite
	}

	h, err := f.fsys.c.OpenFile(f.node, mode)
	if err != nil {
		return nil, 0, f.fsys.done("open", f.node, err)
	}
	if mode == types.ReadWrite && flags&syscall.O_TRUNC != 0 {
		if err := h.Truncate(0); err != nil {
			_ = h.Close()
			return nil, 0, f.fsys.done("open", f.node, err)
		}
	}
	f.fsys.metrics.Operation("open", false)

	var fuseFlags uint32
	if !f.fsys.writable(f.node) {
		fuseFlags = fuse.FOPEN_KEEP_CACHE
	}
	return &fileHandle{fsys: f.fsys, node: f.node, h: h}, fuseFlags, 0
}

type fileHandle struct {
	fsys *fileSystem
	node *tree.Node
	h    packfs.Handle
}

var (
	_ gofuse.FileReader   = (*fileHandle)(nil)
	_ gofuse.FileWriter   = (*fileHandle)(nil)
	_ gofuse.FileFsyncer  = (*fileHandle)(nil)
	_ gofuse.FileReleaser = (*fileHandle)(nil)
)

func (fh *fileHandle) Read(_ context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := fh.h.ReadAt(dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fh.fsys.done("read", fh.node, err)
	}
	fh.fsys.metrics.Operation("read", false)
	return fuse.ReadResultData(dest[:n]), 0
}

func (fh *fileHandle) Write(_ context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := fh.h.WriteAt(data, off)
	if err != nil {
		return uint32(n), fh.fsys.done("write", fh.node, err)
	}
	fh.fsys.metrics.Operation("write", false)
	return uint32(n), 0
}

func (fh *fileHandle) Fsync(_ context.Context, _ uint32) syscall.Errno {
	w, ok := fh.fsys.c.(packfs.Writable)
	if !ok {
		return 0
	}
	return fh.fsys.done("fsync", fh.node, w.Sync())
}

func (fh *fileHandle) Release(_ context.Context) syscall.Errno {
	return fh.fsys.done("release", fh.node, fh.h.Close())
}
