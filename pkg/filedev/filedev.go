package filedev

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

var (
	_ io.ReadWriteSeeker = &FileDev{}
	_ io.ReaderAt        = &FileDev{}
	_ io.WriterAt        = &FileDev{}
)

// FileDev uses file handle as a device.
type FileDev struct {
	file *os.File
}

// New returns new filedev.
func New(file *os.File) *FileDev {
	return &FileDev{
		file: file,
	}
}

// Open opens the file at path as a device.
func Open(path string, create bool) (*FileDev, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return New(file), nil
}

// Seek seeks the position.
func (fd *FileDev) Seek(offset int64, whence int) (int64, error) {
	n, err := fd.file.Seek(offset, whence)
	if err != nil {
		return n, errors.WithStack(err)
	}
	return n, nil
}

// Read reads data from the file.
func (fd *FileDev) Read(p []byte) (int, error) {
	n, err := fd.file.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, errors.WithStack(err)
	}
	return n, err
}

// Write writes data to the file.
func (fd *FileDev) Write(p []byte) (int, error) {
	n, err := fd.file.Write(p)
	if err != nil {
		return n, errors.WithStack(err)
	}
	return n, nil
}

// ReadAt reads data from the file at offset.
func (fd *FileDev) ReadAt(p []byte, offset int64) (int, error) {
	n, err := fd.file.ReadAt(p, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, errors.WithStack(err)
	}
	return n, err
}

// WriteAt writes data to the file at offset.
func (fd *FileDev) WriteAt(p []byte, offset int64) (int, error) {
	n, err := fd.file.WriteAt(p, offset)
	if err != nil {
		return n, errors.WithStack(err)
	}
	return n, nil
}

// Truncate changes the size of the file.
func (fd *FileDev) Truncate(size int64) error {
	return errors.WithStack(fd.file.Truncate(size))
}

// Sync syncs data to the file.
func (fd *FileDev) Sync() error {
	if err := fd.file.Sync(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Size returns the byte size of the file.
func (fd *FileDev) Size() int64 {
	info, err := fd.file.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

// Close closes the file.
func (fd *FileDev) Close() error {
	return errors.WithStack(fd.file.Close())
}
