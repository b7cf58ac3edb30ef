// Package xordev splits the content of the device into two shares, neither of which reveals the content alone.
package xordev

import (
	"crypto/rand"
	"io"

	"github.com/pkg/errors"

	"github.com/outofforest/packfs/persistence"
)

var _ persistence.Dev = &Dev{}

// Dev stores random pad on the first device and content XORed with the pad on the second one.
// Both devices are kept at the same size and position.
type Dev struct {
	pad  persistence.Dev
	data persistence.Dev
}

// New returns new split device.
func New(pad, data persistence.Dev) (*Dev, error) {
	if pad.Size() != data.Size() {
		return nil, errors.Errorf("sizes of shares differ, pad: %d, data: %d", pad.Size(), data.Size())
	}
	return &Dev{
		pad:  pad,
		data: data,
	}, nil
}

// Seek seeks the position.
func (d *Dev) Seek(offset int64, whence int) (int64, error) {
	offset, err := d.pad.Seek(offset, whence)
	if err != nil {
		return 0, err
	}
	if _, err := d.data.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	return offset, nil
}

// Read reads both shares and combines them.
func (d *Dev) Read(p []byte) (int, error) {
	n, err := d.data.Read(p)
	if n == 0 {
		return 0, err
	}

	pad := make([]byte, n)
	if _, err := io.ReadFull(d.pad, pad); err != nil {
		return 0, errors.Wrap(err, "reading pad share")
	}
	for i := range n {
		p[i] ^= pad[i]
	}
	return n, err
}

// Write writes fresh random pad and the content XORed with it.
func (d *Dev) Write(p []byte) (int, error) {
	pad := make([]byte, len(p))
	if _, err := rand.Read(pad); err != nil {
		return 0, errors.WithStack(err)
	}
	if _, err := d.pad.Write(pad); err != nil {
		return 0, err
	}
	for i := range pad {
		pad[i] ^= p[i]
	}
	return d.data.Write(pad)
}

// Truncate changes the size of both shares. Bytes added by growing read as zeros.
func (d *Dev) Truncate(size int64) error {
	if err := d.pad.Truncate(size); err != nil {
		return err
	}
	return d.data.Truncate(size)
}

// Size returns the size of the device.
func (d *Dev) Size() int64 {
	return d.data.Size()
}

// Sync syncs both shares.
func (d *Dev) Sync() error {
	if err := d.pad.Sync(); err != nil {
		return err
	}
	return d.data.Sync()
}

// Close closes both shares if they are closable.
func (d *Dev) Close() error {
	var firstErr error
	for _, dev := range []persistence.Dev{d.pad, d.data} {
		if c, ok := dev.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
