// Package wire encodes and decodes fixed-width big-endian integers and 4-byte aligned names
// used by container headers.
package wire

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/outofforest/packfs/types"
)

// MaxNameLength is the maximum accepted length of the name stored in the header.
const MaxNameLength = 4096

// NameSize returns the number of bytes used by the name field, including its length.
func NameSize(name string) uint64 {
	return 4 + types.Align(uint64(len(name)))
}

// AppendUint32 appends big-endian uint32.
func AppendUint32(b []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(b, v)
}

// AppendUint64 appends big-endian uint64.
func AppendUint64(b []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(b, v)
}

// AppendName appends length of the name followed by name bytes padded with zeros to 4 bytes.
func AppendName(b []byte, name string) []byte {
	b = AppendUint32(b, uint32(len(name)))
	b = append(b, name...)
	for range types.Align(uint64(len(name))) - uint64(len(name)) {
		b = append(b, 0)
	}
	return b
}

// Reader decodes header fields. First error is kept and returned by Err,
// subsequent reads return zero values.
type Reader struct {
	r     *bufio.Reader
	n     int64
	err   error
	buf   [8]byte
	field string
}

// NewReader returns new reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int64 {
	return r.n
}

// Err returns the first error encountered.
func (r *Reader) Err() error {
	if r.err == nil {
		return nil
	}
	return errors.Wrapf(types.ErrCorruptContainer, "reading %s at offset %d: %s", r.field, r.n, r.err)
}

// Uint32 reads big-endian uint32.
func (r *Reader) Uint32(field string) uint32 {
	if !r.read(field, r.buf[:4]) {
		return 0
	}
	return binary.BigEndian.Uint32(r.buf[:4])
}

// Uint64 reads big-endian uint64.
func (r *Reader) Uint64(field string) uint64 {
	if !r.read(field, r.buf[:8]) {
		return 0
	}
	return binary.BigEndian.Uint64(r.buf[:8])
}

// Name reads the length-prefixed, padded name.
func (r *Reader) Name(field string) string {
	length := r.Uint32(field)
	if r.err != nil {
		return ""
	}
	if length > MaxNameLength {
		r.fail(field, errors.Errorf("name length %d exceeds limit", length))
		return ""
	}
	buf := make([]byte, types.Align(uint64(length)))
	if !r.read(field, buf) {
		return ""
	}
	return string(buf[:length])
}

func (r *Reader) read(field string, p []byte) bool {
	if r.err != nil {
		return false
	}
	n, err := io.ReadFull(r.r, p)
	r.n += int64(n)
	if err != nil {
		r.fail(field, err)
		return false
	}
	return true
}

func (r *Reader) fail(field string, err error) {
	r.field = field
	r.err = err
}
