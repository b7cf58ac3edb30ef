// Package archive compresses containers for transfer. Containers themselves are never compressed
// because files are read at random offsets.
package archive

import (
	"bufio"
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Codec is the compression algorithm.
type Codec string

// Codecs.
const (
	CodecNone Codec = "none"
	CodecLZ4  Codec = "lz4"
	CodecZstd Codec = "zstd"
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// ParseCodec parses the name of the codec.
func ParseCodec(s string) (Codec, error) {
	switch c := Codec(s); c {
	case CodecNone, CodecLZ4, CodecZstd:
		return c, nil
	default:
		return "", errors.Errorf("unknown codec %q", s)
	}
}

// Compress copies r to w compressing it with the codec.
func Compress(w io.Writer, r io.Reader, codec Codec) (int64, error) {
	var cw io.WriteCloser
	switch codec {
	case CodecNone:
		n, err := io.Copy(w, r)
		return n, errors.WithStack(err)
	case CodecLZ4:
		cw = lz4.NewWriter(w)
	case CodecZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return 0, errors.Wrap(err, "zstd encoder initialization failed")
		}
		cw = zw
	default:
		return 0, errors.Errorf("unsupported codec %q", codec)
	}

	n, err := io.Copy(cw, r)
	if err != nil {
		_ = cw.Close()
		return n, errors.WithStack(err)
	}
	return n, errors.WithStack(cw.Close())
}

// Decompress copies r to w decompressing it. Codec is detected from the stream header,
// stream which is not compressed is copied as is.
func Decompress(w io.Writer, r io.Reader) (int64, Codec, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, "", errors.WithStack(err)
	}

	switch {
	case bytes.Equal(magic, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return 0, CodecZstd, errors.Wrap(err, "zstd decoder initialization failed")
		}
		defer zr.Close()

		n, err := io.Copy(w, zr)
		return n, CodecZstd, errors.WithStack(err)
	case bytes.Equal(magic, lz4Magic):
		n, err := io.Copy(w, lz4.NewReader(br))
		return n, CodecLZ4, errors.WithStack(err)
	default:
		n, err := io.Copy(w, br)
		return n, CodecNone, errors.WithStack(err)
	}
}
