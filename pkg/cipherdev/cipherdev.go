// Package cipherdev encrypts the device with seekable ChaCha20 keystream.
package cipherdev

import (
	"crypto/sha256"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"

	"github.com/outofforest/packfs/persistence"
)

const (
	// MinKeySize is the minimal size of the master key.
	MinKeySize = 16

	// MaxSize is the size of the keystream addressable by the 32-bit block counter.
	MaxSize = int64(1<<32) * blockSize

	blockSize = 64
)

var hkdfInfo = []byte("packfs.cipherdev.v1")

var (
	_ persistence.Dev           = &Dev{}
	_ persistence.PositionalDev = &PositionalDev{}
)

// Dev encrypts content of the wrapped device. Byte at offset o is XORed with byte o of the keystream,
// so the device stays seekable and its size is unchanged.
type Dev struct {
	dev   persistence.Dev
	key   []byte
	nonce []byte
}

// New wraps the device. If the device supports positioned I/O, so does the returned one.
func New(dev persistence.Dev, masterKey []byte) (persistence.Dev, error) {
	d, err := newDev(dev, masterKey)
	if err != nil {
		return nil, err
	}
	if pDev, ok := dev.(persistence.PositionalDev); ok {
		return &PositionalDev{Dev: d, positional: pDev}, nil
	}
	return d, nil
}

// LoadKey reads the master key from the file. Surrounding whitespace is ignored.
func LoadKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	key := []byte(strings.TrimSpace(string(data)))
	if len(key) < MinKeySize {
		return nil, errors.Errorf("key in %q is too short, expected at least %d bytes", path, MinKeySize)
	}
	return key, nil
}

func newDev(dev persistence.Dev, masterKey []byte) (*Dev, error) {
	if len(masterKey) < MinKeySize {
		return nil, errors.Errorf("key is too short, expected at least %d bytes, provided: %d", MinKeySize, len(masterKey))
	}

	material := make([]byte, chacha20.KeySize+chacha20.NonceSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, hkdfInfo), material); err != nil {
		return nil, errors.Wrap(err, "HKDF key derivation failed")
	}
	return &Dev{
		dev:   dev,
		key:   material[:chacha20.KeySize],
		nonce: material[chacha20.KeySize:],
	}, nil
}

// Seek seeks the position.
func (d *Dev) Seek(offset int64, whence int) (int64, error) {
	return d.dev.Seek(offset, whence)
}

// Read reads and decrypts data from the current position.
func (d *Dev) Read(p []byte) (int, error) {
	offset, err := d.dev.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	n, err := d.dev.Read(p)
	if n > 0 {
		if xErr := d.xor(p[:n], p[:n], offset); xErr != nil {
			return 0, xErr
		}
	}
	return n, err
}

// Write encrypts and writes data at the current position.
func (d *Dev) Write(p []byte) (int, error) {
	offset, err := d.dev.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, len(p))
	if err := d.xor(buf, p, offset); err != nil {
		return 0, err
	}
	return d.dev.Write(buf)
}

// Truncate changes the size of the device. Bytes added by growing are not zeros once decrypted.
func (d *Dev) Truncate(size int64) error {
	if size > MaxSize {
		return errors.Errorf("size %d exceeds the keystream limit %d", size, MaxSize)
	}
	return d.dev.Truncate(size)
}

// Size returns the size of the device.
func (d *Dev) Size() int64 {
	return d.dev.Size()
}

// Sync syncs the device.
func (d *Dev) Sync() error {
	return d.dev.Sync()
}

// Close closes the wrapped device if it is closable.
func (d *Dev) Close() error {
	if c, ok := d.dev.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// xor XORs src with the keystream starting at offset and stores result in dst.
// Cipher is created for each call because chacha20 counter can't be moved backwards.
func (d *Dev) xor(dst, src []byte, offset int64) error {
	if offset < 0 || offset+int64(len(src)) > MaxSize {
		return errors.Errorf("range %d-%d exceeds the keystream limit %d", offset, offset+int64(len(src)), MaxSize)
	}

	c, err := chacha20.NewUnauthenticatedCipher(d.key, d.nonce)
	if err != nil {
		return errors.WithStack(err)
	}
	c.SetCounter(uint32(offset / blockSize))

	if skip := offset % blockSize; skip > 0 {
		var discard [blockSize]byte
		c.XORKeyStream(discard[:skip], discard[:skip])
	}
	c.XORKeyStream(dst, src)
	return nil
}

// PositionalDev is the encrypted device supporting positioned I/O.
type PositionalDev struct {
	*Dev
	positional persistence.PositionalDev
}

// ReadAt reads and decrypts data at offset.
func (d *PositionalDev) ReadAt(p []byte, offset int64) (int, error) {
	n, err := d.positional.ReadAt(p, offset)
	if n > 0 {
		if xErr := d.xor(p[:n], p[:n], offset); xErr != nil {
			return 0, xErr
		}
	}
	return n, err
}

// WriteAt encrypts and writes data at offset.
func (d *PositionalDev) WriteAt(p []byte, offset int64) (int, error) {
	buf := make([]byte, len(p))
	if err := d.xor(buf, p, offset); err != nil {
		return 0, err
	}
	return d.positional.WriteAt(buf, offset)
}
