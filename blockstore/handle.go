package blockstore

import (
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/packfs/blocks"
	"github.com/outofforest/packfs/types"
)

// Handle is the stream over the content of one entry.
// Handles of the same entry share its blocks and length, position is private to the handle.
type Handle struct {
	c     *Controller
	id    types.EntryID
	entry *blocks.Entry
	mode  types.Mode

	mu       sync.Mutex
	position int64
	closed   bool
}

// ID returns the id of the entry.
func (h *Handle) ID() types.EntryID {
	return h.id
}

// Mode returns the mode handle was opened in.
func (h *Handle) Mode() types.Mode {
	return h.mode
}

// Read reads from the current position.
func (h *Handle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, errors.WithStack(types.ErrClosed)
	}
	n, err := h.readAt(p, h.position)
	h.position += int64(n)
	return n, err
}

// ReadAt reads from offset without changing the position.
func (h *Handle) ReadAt(p []byte, offset int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, errors.WithStack(types.ErrClosed)
	}
	return h.readAt(p, offset)
}

// Write writes at the current position, growing the entry if needed.
func (h *Handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.checkWritable(); err != nil {
		return 0, err
	}
	n, err := h.writeAt(p, h.position)
	h.position += int64(n)
	return n, err
}

// WriteAt writes at offset without changing the position, growing the entry if needed.
func (h *Handle) WriteAt(p []byte, offset int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.checkWritable(); err != nil {
		return 0, err
	}
	return h.writeAt(p, offset)
}

// Seek sets the position. Position may be set beyond the end of the entry.
func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, errors.WithStack(types.ErrClosed)
	}

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += h.position
	case io.SeekEnd:
		size, err := h.c.Size(h.id)
		if err != nil {
			return 0, err
		}
		offset += int64(size)
	default:
		return 0, errors.Wrapf(types.ErrOutOfRange, "invalid whence: %d", whence)
	}
	if offset < 0 {
		return 0, errors.Wrapf(types.ErrOutOfRange, "negative position: %d", offset)
	}
	h.position = offset
	return offset, nil
}

// Truncate sets the length of the entry, allocating or releasing nodes.
func (h *Handle) Truncate(length int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.checkWritable(); err != nil {
		return err
	}
	if length < 0 {
		return errors.Wrapf(types.ErrOutOfRange, "negative length: %d", length)
	}

	unlock := h.c.lockWrite()
	defer unlock()

	if err := h.c.resize(h.id, h.entry, uint64(length)); err != nil {
		return err
	}
	h.position = min(h.position, length)
	return nil
}

// Size returns the current length of the entry.
func (h *Handle) Size() int64 {
	h.c.mu.RLock()
	defer h.c.mu.RUnlock()

	return int64(h.entry.Size)
}

// Close closes the handle.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errors.WithStack(types.ErrClosed)
	}
	h.closed = true
	return nil
}

func (h *Handle) checkWritable() error {
	if h.closed {
		return errors.WithStack(types.ErrClosed)
	}
	if h.mode != types.ReadWrite {
		return errors.Wrapf(types.ErrReadOnly, "entry %d is opened in %s mode", h.id, h.mode)
	}
	return nil
}

func (h *Handle) readAt(p []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, errors.Wrapf(types.ErrOutOfRange, "negative offset: %d", offset)
	}
	if len(p) == 0 {
		return 0, nil
	}

	unlock := h.c.lockRead()
	defer unlock()

	n, err := h.c.read(h.entry, p, uint64(offset))
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (h *Handle) writeAt(p []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, errors.Wrapf(types.ErrOutOfRange, "negative offset: %d", offset)
	}
	if len(p) == 0 {
		return 0, nil
	}

	unlock := h.c.lockWrite()
	defer unlock()

	return h.c.write(h.id, h.entry, p, uint64(offset))
}
