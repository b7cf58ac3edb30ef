// Package packfs packs directory trees into single-file containers and serves them back as file systems.
package packfs

import (
	"io"
	"io/fs"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/packfs/blockfs"
	"github.com/outofforest/packfs/blocks"
	"github.com/outofforest/packfs/blockstore"
	"github.com/outofforest/packfs/contiguous"
	"github.com/outofforest/packfs/persistence"
	"github.com/outofforest/packfs/tree"
	"github.com/outofforest/packfs/types"
)

// Handle is the open file of the container.
type Handle interface {
	io.ReadWriteSeeker
	io.ReaderAt
	io.WriterAt
	io.Closer

	Truncate(size int64) error
	Size() int64
}

// Container is the packed directory tree.
type Container interface {
	Format() Format
	Tree() *tree.Tree
	Lookup(path string) (*tree.Node, error)
	Size(n *tree.Node) uint64
	IsReadOnly(n *tree.Node) bool
	Read(n *tree.Node) ([]byte, error)
	OpenFile(n *tree.Node, mode types.Mode) (Handle, error)
	Close() error
}

// Writable is implemented by containers whose content may be modified and saved.
type Writable interface {
	Container
	io.WriterTo

	Checksum() blocks.Hash
	FreeBlocks() int
	Sync() error
}

var (
	_ Container = &contiguousContainer{}
	_ Writable  = &blockContainer{}
)

type config struct {
	log         *zap.Logger
	metrics     blockstore.Metrics
	cacheSize   int
	readOnly    bool
	spareBlocks uint32
	workers     int
	overwrite   bool
}

// Option configures the container.
type Option func(c *config)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// WithMetrics sets the metrics sink used by block containers.
func WithMetrics(m blockstore.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithCacheSize sets the number of file contents cached by contiguous containers.
func WithCacheSize(size int) Option {
	return func(c *config) {
		c.cacheSize = size
	}
}

// WithReadOnly makes block containers read-only.
func WithReadOnly(readOnly bool) Option {
	return func(c *config) {
		c.readOnly = readOnly
	}
}

// WithSpareBlocks sets the number of free nodes added when block container is created.
func WithSpareBlocks(n uint32) Option {
	return func(c *config) {
		c.spareBlocks = n
	}
}

// WithWorkers sets the number of workers reading source files when contiguous container is created.
func WithWorkers(workers int) Option {
	return func(c *config) {
		c.workers = workers
	}
}

// WithOverwrite allows Create to replace existing content of the device.
func WithOverwrite(overwrite bool) Option {
	return func(c *config) {
		c.overwrite = overwrite
	}
}

// Open opens the container of the format stored on the device.
func Open(dev persistence.Dev, format Format, opts ...Option) (Container, error) {
	cfg := newConfig(opts)

	switch format {
	case FormatContiguous:
		c, err := contiguous.Open(dev, cfg.contiguousOptions()...)
		if err != nil {
			return nil, err
		}
		return &contiguousContainer{Container: c}, nil
	case FormatBlock:
		c, err := blockfs.Open(dev, cfg.blockOptions()...)
		if err != nil {
			return nil, err
		}
		return &blockContainer{Container: c}, nil
	default:
		return nil, errors.Errorf("unknown format %q", format)
	}
}

// Create packs the directory root of fsys into the container of the format stored on the device.
func Create(dev persistence.Dev, format Format, fsys fs.FS, root string, opts ...Option) (Container, error) {
	cfg := newConfig(opts)

	switch format {
	case FormatContiguous:
		c, err := contiguous.Create(dev, fsys, root, cfg.contiguousOptions()...)
		if err != nil {
			return nil, err
		}
		return &contiguousContainer{Container: c}, nil
	case FormatBlock:
		c, err := blockfs.Create(dev, fsys, root, cfg.blockOptions()...)
		if err != nil {
			return nil, err
		}
		return &blockContainer{Container: c}, nil
	default:
		return nil, errors.Errorf("unknown format %q", format)
	}
}

// OpenPath opens the file by path.
func OpenPath(c Container, path string, mode types.Mode) (Handle, error) {
	n, err := c.Lookup(path)
	if err != nil {
		return nil, err
	}
	return c.OpenFile(n, mode)
}

// ReadFile returns the content of the file by path.
func ReadFile(c Container, path string) ([]byte, error) {
	n, err := c.Lookup(path)
	if err != nil {
		return nil, err
	}
	return c.Read(n)
}

// Children returns descendants of the directory down to depth levels.
func Children(c Container, path string, depth int) ([]*tree.Node, error) {
	n, err := c.Lookup(path)
	if err != nil {
		return nil, err
	}
	return c.Tree().Children(n, depth)
}

type contiguousContainer struct {
	*contiguous.Container
}

func (c *contiguousContainer) Format() Format {
	return FormatContiguous
}

func (c *contiguousContainer) OpenFile(n *tree.Node, mode types.Mode) (Handle, error) {
	h, err := c.Container.OpenFile(n, mode)
	if err != nil {
		return nil, err
	}
	return h, nil
}

type blockContainer struct {
	*blockfs.Container
}

func (c *blockContainer) Format() Format {
	return FormatBlock
}

func (c *blockContainer) OpenFile(n *tree.Node, mode types.Mode) (Handle, error) {
	h, err := c.Container.OpenFile(n, mode)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func newConfig(opts []Option) config {
	cfg := config{
		log:     zap.NewNop(),
		workers: 1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (cfg config) contiguousOptions() []contiguous.Option {
	return []contiguous.Option{
		contiguous.WithLogger(cfg.log),
		contiguous.WithCacheSize(cfg.cacheSize),
		contiguous.WithWorkers(cfg.workers),
		contiguous.WithOverwrite(cfg.overwrite),
	}
}

func (cfg config) blockOptions() []blockfs.Option {
	opts := []blockfs.Option{
		blockfs.WithLogger(cfg.log),
		blockfs.WithReadOnly(cfg.readOnly),
		blockfs.WithSpareBlocks(cfg.spareBlocks),
		blockfs.WithOverwrite(cfg.overwrite),
	}
	if cfg.metrics != nil {
		opts = append(opts, blockfs.WithMetrics(cfg.metrics))
	}
	return opts
}
