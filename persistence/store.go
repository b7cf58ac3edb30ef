package persistence

import (
	"io"

	"github.com/pkg/errors"
)

// Store represents the region of the device following the container header.
// Store is not safe for concurrent use unless the device is positional, callers are
// responsible for locking.
type Store struct {
	dev        Dev
	positional PositionalDev
	base       int64
	blockSize  int64
}

// OpenStore opens the store. Region starts at base and is divided into blocks of blockSize bytes.
func OpenStore(dev Dev, base, blockSize int64) (*Store, error) {
	if base < 0 {
		return nil, errors.Errorf("invalid base offset: %d", base)
	}
	if blockSize <= 0 {
		return nil, errors.Errorf("invalid block size: %d", blockSize)
	}
	if dev.Size() < base {
		return nil, errors.Errorf("device is too small, header requires %d bytes, provided: %d", base, dev.Size())
	}

	s := &Store{
		dev:       dev,
		base:      base,
		blockSize: blockSize,
	}
	if pDev, ok := dev.(PositionalDev); ok {
		s.positional = pDev
	}
	return s, nil
}

// Positional returns true if device supports concurrent positioned I/O.
func (s *Store) Positional() bool {
	return s.positional != nil
}

// Base returns the offset of the region.
func (s *Store) Base() int64 {
	return s.base
}

// Size returns the byte size of the region.
func (s *Store) Size() int64 {
	return s.dev.Size() - s.base
}

// ReadAt reads bytes from the region at offset.
func (s *Store) ReadAt(p []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, errors.Errorf("invalid offset: %d", offset)
	}
	if s.positional != nil {
		n, err := s.positional.ReadAt(p, s.base+offset)
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return n, errors.WithStack(err)
	}

	if _, err := s.dev.Seek(s.base+offset, io.SeekStart); err != nil {
		return 0, errors.WithStack(err)
	}
	n, err := s.dev.Read(p)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, errors.WithStack(err)
}

// WriteAt writes bytes to the region at offset.
func (s *Store) WriteAt(p []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, errors.Errorf("invalid offset: %d", offset)
	}
	if s.positional != nil {
		n, err := s.positional.WriteAt(p, s.base+offset)
		return n, errors.WithStack(err)
	}

	if _, err := s.dev.Seek(s.base+offset, io.SeekStart); err != nil {
		return 0, errors.WithStack(err)
	}
	n, err := s.dev.Write(p)
	return n, errors.WithStack(err)
}

// ReadBlock reads bytes from the block starting at intra-block offset.
func (s *Store) ReadBlock(address uint32, offset int64, p []byte) (int, error) {
	if err := s.checkBlockRange(offset, p); err != nil {
		return 0, err
	}
	return s.ReadAt(p, int64(address)*s.blockSize+offset)
}

// WriteBlock writes bytes to the block starting at intra-block offset.
func (s *Store) WriteBlock(address uint32, offset int64, p []byte) (int, error) {
	if err := s.checkBlockRange(offset, p); err != nil {
		return 0, err
	}
	return s.WriteAt(p, int64(address)*s.blockSize+offset)
}

// Grow extends the region so it contains at least nBlocks blocks.
func (s *Store) Grow(nBlocks int64) error {
	size := s.base + nBlocks*s.blockSize
	if size <= s.dev.Size() {
		return nil
	}
	return s.dev.Truncate(size)
}

// Sync forces data to be written to the dev.
func (s *Store) Sync() error {
	return s.dev.Sync()
}

func (s *Store) checkBlockRange(offset int64, p []byte) error {
	if offset < 0 || offset+int64(len(p)) > s.blockSize {
		return errors.Errorf("invalid block range, offset: %d, size: %d", offset, len(p))
	}
	return nil
}
