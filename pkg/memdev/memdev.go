package memdev

import (
	"io"

	"github.com/pkg/errors"
)

var (
	_ io.Seeker   = &MemDev{}
	_ io.Reader   = &MemDev{}
	_ io.Writer   = &MemDev{}
	_ io.ReaderAt = &MemDev{}
	_ io.WriterAt = &MemDev{}
)

// MemDev simulates device io operations in memory.
// Concurrent ReadAt and WriteAt on disjoint ranges are allowed, everything else
// must be serialized by the caller.
type MemDev struct {
	offset int64
	data   []byte
}

// New returns new memdev of the provided size.
func New(size int64) *MemDev {
	return &MemDev{
		data: make([]byte, size),
	}
}

// NewFromBytes returns new memdev containing the provided bytes.
func NewFromBytes(data []byte) *MemDev {
	return &MemDev{
		data: data,
	}
}

// Seek seeks the position.
func (md *MemDev) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = md.offset + offset
	case io.SeekEnd:
		offset = int64(len(md.data)) + offset
	default:
		return 0, errors.Errorf("invalid whence: %d", whence)
	}

	if offset < 0 || offset > int64(len(md.data)) {
		return 0, errors.Errorf("invalid offset: %d", offset)
	}

	md.offset = offset
	return offset, nil
}

// Read reads data from the memdev.
func (md *MemDev) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if md.offset >= int64(len(md.data)) {
		return 0, io.EOF
	}
	n := copy(p, md.data[md.offset:])
	md.offset += int64(n)
	return n, nil
}

// Write writes data to the memdev, growing it if needed.
func (md *MemDev) Write(p []byte) (int, error) {
	n, err := md.WriteAt(p, md.offset)
	md.offset += int64(n)
	return n, err
}

// ReadAt reads data from the memdev at offset.
func (md *MemDev) ReadAt(p []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, errors.Errorf("invalid offset: %d", offset)
	}
	if offset >= int64(len(md.data)) {
		return 0, io.EOF
	}
	n := copy(p, md.data[offset:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes data to the memdev at offset, growing it if needed.
func (md *MemDev) WriteAt(p []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, errors.Errorf("invalid offset: %d", offset)
	}
	if end := offset + int64(len(p)); end > int64(len(md.data)) {
		md.resize(end)
	}
	return copy(md.data[offset:], p), nil
}

// Truncate changes the size of the memdev.
func (md *MemDev) Truncate(size int64) error {
	if size < 0 {
		return errors.Errorf("invalid size: %d", size)
	}
	md.resize(size)
	if md.offset > size {
		md.offset = size
	}
	return nil
}

// Size returns the byte size of the memdev.
func (md *MemDev) Size() int64 {
	return int64(len(md.data))
}

// Sync does nothing.
func (md *MemDev) Sync() error {
	return nil
}

// Bytes returns the content of the memdev.
func (md *MemDev) Bytes() []byte {
	return md.data
}

func (md *MemDev) resize(size int64) {
	if size <= int64(len(md.data)) {
		clear(md.data[size:])
		md.data = md.data[:size]
		return
	}
	if size <= int64(cap(md.data)) {
		md.data = md.data[:size]
		return
	}
	data := make([]byte, size, size+size/4)
	copy(data, md.data)
	md.data = data
}
