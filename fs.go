package packfs

import (
	"io"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/packfs/tree"
	"github.com/outofforest/packfs/types"
)

var (
	_ fs.FS         = &FS{}
	_ fs.ReadDirFS  = &FS{}
	_ fs.ReadFileFS = &FS{}
	_ fs.StatFS     = &FS{}
)

// FS exposes the container as read-only file system.
type FS struct {
	c Container
}

// NewFS returns the file system view of the container.
func NewFS(c Container) *FS {
	return &FS{c: c}
}

// Open opens the file or directory.
func (fsys *FS) Open(name string) (fs.File, error) {
	n, err := fsys.lookup("open", name)
	if err != nil {
		return nil, err
	}
	if n.IsDir() {
		return &dir{fsys: fsys, node: n}, nil
	}

	h, err := fsys.c.OpenFile(n, types.ReadOnly)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &file{fsys: fsys, node: n, h: h}, nil
}

// ReadDir returns entries of the directory sorted by name.
func (fsys *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	n, err := fsys.lookup("readdir", name)
	if err != nil {
		return nil, err
	}
	entries, err := fsys.entries(n)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	return entries, nil
}

// ReadFile returns the content of the file.
func (fsys *FS) ReadFile(name string) ([]byte, error) {
	n, err := fsys.lookup("readfile", name)
	if err != nil {
		return nil, err
	}
	data, err := fsys.c.Read(n)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return data, nil
}

// Stat returns the info of the file or directory.
func (fsys *FS) Stat(name string) (fs.FileInfo, error) {
	n, err := fsys.lookup("stat", name)
	if err != nil {
		return nil, err
	}
	return fsys.info(n), nil
}

func (fsys *FS) lookup(op, name string) (*tree.Node, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	n, err := fsys.c.Lookup(name)
	if err != nil {
		return nil, &fs.PathError{Op: op, Path: name, Err: err}
	}
	return n, nil
}

func (fsys *FS) entries(n *tree.Node) ([]fs.DirEntry, error) {
	children, err := fsys.c.Tree().Children(n, 1)
	if err != nil {
		return nil, err
	}
	entries := make([]fs.DirEntry, 0, len(children))
	for _, child := range children {
		entries = append(entries, fs.FileInfoToDirEntry(fsys.info(child)))
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries, nil
}

func (fsys *FS) info(n *tree.Node) fileInfo {
	name := n.Name
	if n.ID == types.RootID {
		name = "."
	}
	mode := fs.FileMode(0o444)
	if !fsys.c.IsReadOnly(n) {
		mode = 0o644
	}
	if n.IsDir() {
		mode = fs.ModeDir | 0o555
	}
	return fileInfo{
		name: name,
		size: int64(fsys.c.Size(n)),
		mode: mode,
	}
}

type fileInfo struct {
	name string
	size int64
	mode fs.FileMode
}

func (fi fileInfo) Name() string {
	return fi.name
}

func (fi fileInfo) Size() int64 {
	return fi.size
}

func (fi fileInfo) Mode() fs.FileMode {
	return fi.mode
}

func (fi fileInfo) ModTime() time.Time {
	return time.Time{}
}

func (fi fileInfo) IsDir() bool {
	return fi.mode.IsDir()
}

func (fi fileInfo) Sys() any {
	return nil
}

type file struct {
	fsys *FS
	node *tree.Node
	h    Handle
}

func (f *file) Stat() (fs.FileInfo, error) {
	return f.fsys.info(f.node), nil
}

func (f *file) Read(p []byte) (int, error) {
	return f.h.Read(p)
}

func (f *file) ReadAt(p []byte, offset int64) (int, error) {
	return f.h.ReadAt(p, offset)
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	return f.h.Seek(offset, whence)
}

func (f *file) Close() error {
	return f.h.Close()
}

type dir struct {
	fsys    *FS
	node    *tree.Node
	entries []fs.DirEntry
	offset  int
	read    bool
	closed  bool
}

func (d *dir) Stat() (fs.FileInfo, error) {
	return d.fsys.info(d.node), nil
}

func (d *dir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.fsys.c.Tree().Path(d.node), Err: errors.WithStack(types.ErrNotAFile)}
}

func (d *dir) ReadDir(count int) ([]fs.DirEntry, error) {
	if d.closed {
		return nil, errors.WithStack(types.ErrClosed)
	}
	if !d.read {
		entries, err := d.fsys.entries(d.node)
		if err != nil {
			return nil, err
		}
		d.entries = entries
		d.read = true
	}

	remaining := d.entries[d.offset:]
	if count <= 0 {
		d.offset = len(d.entries)
		return slices.Clone(remaining), nil
	}
	if len(remaining) == 0 {
		return nil, io.EOF
	}
	count = min(count, len(remaining))
	d.offset += count
	return slices.Clone(remaining[:count]), nil
}

func (d *dir) Close() error {
	if d.closed {
		return errors.WithStack(types.ErrClosed)
	}
	d.closed = true
	return nil
}
