package persistence

import (
	"io"

	"github.com/pkg/errors"
)

// Dev is the interface required from the device backing the container.
// Devices expose a single cursor, callers serialize access.
type Dev interface {
	io.ReadWriteSeeker
	Truncate(size int64) error
	Size() int64
	Sync() error
}

// PositionalDev is implemented by devices supporting concurrent positioned reads and writes.
type PositionalDev interface {
	Dev
	io.ReaderAt
	io.WriterAt
}

// ErrAlreadyInitialized is returned if during initialization, existing content is detected on the device.
var ErrAlreadyInitialized = errors.New("device already contains data")

// Initialize writes the header of new container to the device and sizes the device to
// header plus dataSize bytes.
func Initialize(dev Dev, header []byte, dataSize int64, overwrite bool) error {
	if dataSize < 0 {
		return errors.Errorf("invalid data size: %d", dataSize)
	}
	if dev.Size() > 0 && !overwrite {
		return errors.WithStack(ErrAlreadyInitialized)
	}

	if err := dev.Truncate(0); err != nil {
		return err
	}
	if err := dev.Truncate(int64(len(header)) + dataSize); err != nil {
		return err
	}
	if _, err := dev.Seek(0, io.SeekStart); err != nil {
		return errors.WithStack(err)
	}
	if _, err := dev.Write(header); err != nil {
		return errors.WithStack(err)
	}

	return dev.Sync()
}
