package contiguous

import (
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/packfs/types"
)

// Handle reads the file stored in contiguous container.
type Handle struct {
	c      *Container
	offset int64
	size   int64

	mu       sync.Mutex
	position int64
	closed   bool
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
	closed := h.closed
	h.mu.Unlock()

	if closed {
		return 0, errors.WithStack(types.ErrClosed)
	}
	return h.readAt(p, offset)
}

// Seek sets the position.
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
		offset += h.size
	default:
		return 0, errors.Wrapf(types.ErrOutOfRange, "invalid whence: %d", whence)
	}
	if offset < 0 {
		return 0, errors.Wrapf(types.ErrOutOfRange, "negative position: %d", offset)
	}
	h.position = offset
	return offset, nil
}

// Write always fails.
func (h *Handle) Write([]byte) (int, error) {
	return 0, errors.WithStack(types.ErrReadOnly)
}

// WriteAt always fails.
func (h *Handle) WriteAt([]byte, int64) (int, error) {
	return 0, errors.WithStack(types.ErrReadOnly)
}

// Truncate always fails.
func (h *Handle) Truncate(int64) error {
	return errors.WithStack(types.ErrReadOnly)
}

// Size returns the size of the file.
func (h *Handle) Size() int64 {
	return h.size
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

func (h *Handle) readAt(p []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, errors.Wrapf(types.ErrOutOfRange, "negative offset: %d", offset)
	}
	if offset >= h.size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	toRead := p
	if remaining := h.size - offset; int64(len(toRead)) > remaining {
		toRead = toRead[:remaining]
	}
	n, err := h.c.readAt(toRead, h.offset+offset)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
