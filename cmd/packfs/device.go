package main

import (
	"io"

	"github.com/pkg/errors"

	"github.com/outofforest/packfs"
	"github.com/outofforest/packfs/persistence"
	"github.com/outofforest/packfs/pkg/cipherdev"
	"github.com/outofforest/packfs/pkg/filedev"
	"github.com/outofforest/packfs/pkg/memdev"
	"github.com/outofforest/packfs/pkg/xordev"
)

// openDevice opens the container file and stacks the split and cipher devices configured on top of it.
func (e *env) openDevice(path string, create bool) (persistence.Dev, error) {
	data, err := filedev.Open(path, create)
	if err != nil {
		return nil, err
	}

	var dev persistence.Dev = data
	if e.cfg.SplitFile != "" {
		pad, err := filedev.Open(e.cfg.SplitFile, create)
		if err != nil {
			_ = data.Close()
			return nil, err
		}
		xdev, err := xordev.New(pad, data)
		if err != nil {
			_ = pad.Close()
			_ = data.Close()
			return nil, err
		}
		dev = xdev
	}

	if e.cfg.CipherKeyFile != "" {
		key, err := cipherdev.LoadKey(e.cfg.CipherKeyFile)
		if err != nil {
			_ = closeDevice(dev)
			return nil, err
		}
		cdev, err := cipherdev.New(dev, key)
		if err != nil {
			_ = closeDevice(dev)
			return nil, err
		}
		dev = cdev
	}
	return dev, nil
}

func closeDevice(dev persistence.Dev) error {
	if c, ok := dev.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// loadDevice copies the whole device to memory.
func loadDevice(dev persistence.Dev) (*memdev.MemDev, error) {
	if _, err := dev.Seek(0, io.SeekStart); err != nil {
		return nil, errors.WithStack(err)
	}
	data := make([]byte, dev.Size())
	if _, err := io.ReadFull(dev, data); err != nil {
		return nil, errors.Wrap(err, "reading device failed")
	}
	return memdev.NewFromBytes(data), nil
}

// storeContainer replaces the content of the device with the container.
func storeContainer(dev persistence.Dev, c packfs.Writable) error {
	if err := dev.Truncate(0); err != nil {
		return err
	}
	if _, err := dev.Seek(0, io.SeekStart); err != nil {
		return errors.WithStack(err)
	}
	if _, err := c.WriteTo(dev); err != nil {
		return err
	}
	return dev.Sync()
}

// editContainer loads the block container to memory, applies fn and stores the result back.
func (e *env) editContainer(path string, fn func(c packfs.Writable) error) error {
	if e.cfg.Format != packfs.FormatBlock {
		return errors.Errorf("containers of format %q can't be modified", e.cfg.Format)
	}

	dev, err := e.openDevice(path, false)
	if err != nil {
		return err
	}
	defer closeDevice(dev)

	mem, err := loadDevice(dev)
	if err != nil {
		return err
	}
	c, err := packfs.Open(mem, packfs.FormatBlock, e.containerOptions()...)
	if err != nil {
		return err
	}
	w := c.(packfs.Writable)
	if err := fn(w); err != nil {
		return err
	}
	return storeContainer(dev, w)
}

// readContainer opens the container and passes it to fn.
func (e *env) readContainer(path string, fn func(c packfs.Container) error, opts ...packfs.Option) error {
	dev, err := e.openDevice(path, false)
	if err != nil {
		return err
	}
	defer closeDevice(dev)

	c, err := packfs.Open(dev, e.cfg.Format, e.containerOptions(opts...)...)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(c)
}
