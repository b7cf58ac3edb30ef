// Package tabulator walks the source tree and produces the file table and the bytes of the
// contiguous container.
package tabulator

import (
	"io"
	"io/fs"
	"path"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/packfs/pkg/wire"
	"github.com/outofforest/packfs/types"
)

// entryHeaderSize is the size of fixed-width fields of the entry: parent id, offset and size.
const entryHeaderSize = 4 + 8 + 8

// Entry is the row of the file table.
type Entry struct {
	Parent types.EntryID
	Name   string
	Dir    bool

	// Size is the exact length of the file or the aligned size of the directory content.
	Size uint64

	// Offset is the absolute offset of the content in the container.
	Offset uint64

	path string
}

// Table is the file table of the source tree.
type Table struct {
	fsys    fs.FS
	entries []Entry
	log     *zap.Logger

	headerSize  uint64
	contentSize uint64
}

// Option configures the tabulator.
type Option func(t *Table)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(t *Table) {
		t.log = log
	}
}

// Build walks the directory root of fsys and builds the file table.
// Files are tabulated before subdirectories on every level.
func Build(fsys fs.FS, root string, opts ...Option) (*Table, error) {
	t := &Table{
		fsys: fsys,
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	info, err := fs.Stat(fsys, root)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !info.IsDir() {
		return nil, errors.Wrapf(types.ErrNotADirectory, "source %q", root)
	}

	t.entries = []Entry{{Dir: true, path: root}}
	if err := t.tabulate(0); err != nil {
		return nil, err
	}
	t.contentSize = t.entries[0].Size
	t.entries = t.entries[1:]

	t.headerSize = 4
	for _, e := range t.entries {
		t.headerSize += entryHeaderSize + wire.NameSize(e.Name)
	}
	for i := range t.entries {
		t.entries[i].Offset += t.headerSize
	}

	t.log.Debug("Source tabulated",
		zap.String("root", root),
		zap.Int("entries", len(t.entries)),
		zap.Uint64("headerSize", t.headerSize),
		zap.Uint64("contentSize", t.contentSize))

	return t, nil
}

// Entries returns entries of the table. Entry with index i has id i+1.
func (t *Table) Entries() []Entry {
	return t.entries
}

// HeaderSize returns the size of the encoded file table.
func (t *Table) HeaderSize() uint64 {
	return t.headerSize
}

// ContentSize returns the aligned size of all the content.
func (t *Table) ContentSize() uint64 {
	return t.contentSize
}

// Size returns the size of the contiguous container.
func (t *Table) Size() uint64 {
	return t.headerSize + t.contentSize
}

// EncodeHeader encodes the file table of the contiguous container.
func (t *Table) EncodeHeader() []byte {
	b := make([]byte, 0, t.headerSize)
	b = wire.AppendUint32(b, uint32(len(t.entries)))
	for _, e := range t.entries {
		b = wire.AppendUint32(b, uint32(e.Parent))
		b = wire.AppendUint64(b, e.Offset)
		b = wire.AppendUint64(b, e.Size)
		b = wire.AppendName(b, e.Name)
	}
	return b
}

// Encode returns the bytes of the contiguous container. Files are read by the pool of workers.
func (t *Table) Encode(workers int) ([]byte, error) {
	if workers < 1 {
		return nil, errors.Wrapf(types.ErrOutOfRange, "number of workers must be positive, provided: %d", workers)
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer pool.Release()

	buf := make([]byte, t.Size())
	copy(buf, t.EncodeHeader())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	for i := range t.entries {
		e := &t.entries[i]
		if e.Dir {
			continue
		}

		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if err := t.ReadFile(e, buf[e.Offset:e.Offset+e.Size]); err != nil {
				setErr(err)
			}
		}); err != nil {
			wg.Done()
			setErr(errors.WithStack(err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return buf, nil
}

// WriteTo writes the contiguous container to w, reading files sequentially.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	if _, err := cw.Write(t.EncodeHeader()); err != nil {
		return cw.n, errors.WithStack(err)
	}

	var buf []byte
	for i := range t.entries {
		e := &t.entries[i]
		if e.Dir {
			continue
		}
		if err := cw.pad(e.Offset); err != nil {
			return cw.n, err
		}
		if uint64(cap(buf)) < e.Size {
			buf = make([]byte, e.Size)
		}
		if err := t.ReadFile(e, buf[:e.Size]); err != nil {
			return cw.n, err
		}
		if _, err := cw.Write(buf[:e.Size]); err != nil {
			return cw.n, errors.WithStack(err)
		}
	}
	if err := cw.pad(t.Size()); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// ReadFile reads the whole content of the file entry into p. Length of p must be equal to the size of the entry.
func (t *Table) ReadFile(e *Entry, p []byte) error {
	if e.Dir {
		return errors.Wrapf(types.ErrNotAFile, "source %q", e.path)
	}
	if uint64(len(p)) != e.Size {
		return errors.Wrapf(types.ErrOutOfRange, "buffer of %d bytes for file of %d bytes", len(p), e.Size)
	}

	f, err := t.fsys.Open(e.path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	if _, err := io.ReadFull(f, p); err != nil {
		return errors.Wrapf(err, "reading source file %q", e.path)
	}
	var probe [1]byte
	if n, _ := f.Read(probe[:]); n > 0 {
		return errors.Errorf("source file %q grew after it was tabulated", e.path)
	}
	return nil
}

func (t *Table) tabulate(id int) error {
	dirPath := t.entries[id].path
	dirEntries, err := fs.ReadDir(t.fsys, dirPath)
	if err != nil {
		return errors.WithStack(err)
	}

	t.entries[id].Size = 0
	cursor := t.entries[id].Offset

	var subdirs []fs.DirEntry
	for _, de := range dirEntries {
		switch {
		case de.IsDir():
			subdirs = append(subdirs, de)
		case de.Type().IsRegular():
			info, err := de.Info()
			if err != nil {
				return errors.WithStack(err)
			}
			size := uint64(info.Size())
			t.entries = append(t.entries, Entry{
				Parent: types.EntryID(id),
				Name:   de.Name(),
				Size:   size,
				Offset: cursor,
				path:   path.Join(dirPath, de.Name()),
			})
			t.entries[id].Size += types.Align(size)
			cursor += types.Align(size)
		default:
			t.log.Debug("Skipping irregular file", zap.String("path", path.Join(dirPath, de.Name())),
				zap.Stringer("type", de.Type()))
		}
	}

	for _, de := range subdirs {
		subID := len(t.entries)
		t.entries = append(t.entries, Entry{
			Parent: types.EntryID(id),
			Name:   de.Name(),
			Dir:    true,
			Offset: cursor,
			path:   path.Join(dirPath, de.Name()),
		})
		if err := t.tabulate(subID); err != nil {
			return err
		}
		t.entries[id].Size += t.entries[subID].Size
		cursor += t.entries[subID].Size
	}

	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

var zeros [types.Alignment * 256]byte

func (cw *countingWriter) pad(offset uint64) error {
	for uint64(cw.n) < offset {
		chunk := min(offset-uint64(cw.n), uint64(len(zeros)))
		if _, err := cw.Write(zeros[:chunk]); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
