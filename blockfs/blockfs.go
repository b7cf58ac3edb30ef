// Package blockfs implements the container storing file content in fixed-size nodes.
package blockfs

import (
	"io"
	"io/fs"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/packfs/blocks"
	"github.com/outofforest/packfs/blockstore"
	"github.com/outofforest/packfs/persistence"
	"github.com/outofforest/packfs/tabulator"
	"github.com/outofforest/packfs/tree"
	"github.com/outofforest/packfs/types"
)

type config struct {
	log         *zap.Logger
	metrics     blockstore.Metrics
	readOnly    bool
	spareBlocks uint32
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

// WithMetrics sets the metrics sink of the controller.
func WithMetrics(m blockstore.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithReadOnly makes every file read-only.
func WithReadOnly(readOnly bool) Option {
	return func(c *config) {
		c.readOnly = readOnly
	}
}

// WithSpareBlocks sets the number of free nodes added to the node region by Create.
func WithSpareBlocks(n uint32) Option {
	return func(c *config) {
		c.spareBlocks = n
	}
}

// WithOverwrite allows Create to replace existing content of the device.
func WithOverwrite(overwrite bool) Option {
	return func(c *config) {
		c.overwrite = overwrite
	}
}

// Container is the block container.
type Container struct {
	log        *zap.Logger
	tree       *tree.Tree
	controller *blockstore.Controller
	readOnly   bool
}

// Open parses the file table stored on the device.
func Open(dev persistence.Dev, opts ...Option) (*Container, error) {
	cfg := newConfig(opts)

	if _, err := dev.Seek(0, io.SeekStart); err != nil {
		return nil, errors.WithStack(err)
	}
	table, headerSize, err := blocks.Decode(dev)
	if err != nil {
		return nil, err
	}
	if required := headerSize + table.NodeRegionSize(); dev.Size() < required {
		return nil, errors.Wrapf(types.ErrCorruptContainer, "device of %d bytes is too small for %d nodes, required: %d",
			dev.Size(), table.MaxNode, required)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}

	treeEntries := make([]tree.Entry, 0, len(table.Entries))
	for _, e := range table.Entries {
		treeEntries = append(treeEntries, tree.Entry{Parent: e.Parent, Name: e.Name, Size: e.Size})
	}
	t, err := tree.New(treeEntries, table.RootSize)
	if err != nil {
		return nil, err
	}

	store, err := persistence.OpenStore(dev, headerSize, types.BlockSize)
	if err != nil {
		return nil, err
	}

	controllerOpts := []blockstore.Option{blockstore.WithLogger(cfg.log)}
	if cfg.metrics != nil {
		controllerOpts = append(controllerOpts, blockstore.WithMetrics(cfg.metrics))
	}

	cfg.log.Info("Block container opened",
		zap.Int("entries", len(table.Entries)),
		zap.Int64("headerSize", headerSize),
		zap.Uint32("maxNode", table.MaxNode),
		zap.Int("freeBlocks", len(table.Free)),
		zap.Bool("positional", store.Positional()),
		zap.Stringer("checksum", table.Checksum()))

	return &Container{
		log:        cfg.log,
		tree:       t,
		controller: blockstore.New(store, table, controllerOpts...),
		readOnly:   cfg.readOnly,
	}, nil
}

// Create writes the block container holding the directory root of fsys to the device and opens it.
func Create(dev persistence.Dev, fsys fs.FS, root string, opts ...Option) (*Container, error) {
	cfg := newConfig(opts)

	tab, err := tabulator.Build(fsys, root, tabulator.WithLogger(cfg.log))
	if err != nil {
		return nil, err
	}
	table := blocks.FromTabulation(tab, cfg.spareBlocks)
	header := table.Encode()
	if err := persistence.Initialize(dev, header, table.NodeRegionSize(), cfg.overwrite); err != nil {
		return nil, err
	}

	store, err := persistence.OpenStore(dev, int64(len(header)), types.BlockSize)
	if err != nil {
		return nil, err
	}

	entries := tab.Entries()
	for i := range entries {
		e := table.Entries[i]
		if len(e.Blocks) == 0 {
			continue
		}
		buf := make([]byte, e.Size)
		if err := tab.ReadFile(&entries[i], buf); err != nil {
			return nil, err
		}
		// Nodes of every file are consecutive.
		if _, err := store.WriteAt(buf, int64(e.Blocks[0])*types.BlockSize); err != nil {
			return nil, err
		}
	}
	if err := store.Sync(); err != nil {
		return nil, err
	}

	cfg.log.Info("Block container created",
		zap.String("root", root),
		zap.Int("entries", len(table.Entries)),
		zap.Uint32("maxNode", table.MaxNode),
		zap.Uint32("spareBlocks", cfg.spareBlocks))

	return Open(dev, opts...)
}

// Tree returns the directory tree.
func (c *Container) Tree() *tree.Tree {
	return c.tree
}

// Lookup returns node by path.
func (c *Container) Lookup(path string) (*tree.Node, error) {
	return c.tree.Lookup(path)
}

// Size returns the current size of the file, or the size recorded in the table for directories.
func (c *Container) Size(n *tree.Node) uint64 {
	if n.IsDir() {
		return n.Size
	}
	size, err := c.controller.Size(n.ID)
	if err != nil {
		return n.Size
	}
	return size
}

// IsReadOnly returns true if the node cannot be modified.
func (c *Container) IsReadOnly(n *tree.Node) bool {
	return c.readOnly || n.IsDir()
}

// Read returns the whole content of the file.
func (c *Container) Read(n *tree.Node) ([]byte, error) {
	h, err := c.OpenFile(n, types.ReadOnly)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	data := make([]byte, h.Size())
	if _, err := io.ReadFull(h, data); err != nil {
		return nil, errors.WithStack(err)
	}
	return data, nil
}

// OpenFile opens the file.
func (c *Container) OpenFile(n *tree.Node, mode types.Mode) (*blockstore.Handle, error) {
	if n.IsDir() {
		return nil, errors.Wrapf(types.ErrNotAFile, "path %q", c.tree.Path(n))
	}
	if mode == types.ReadWrite && c.readOnly {
		return nil, errors.Wrapf(types.ErrReadOnly, "path %q", c.tree.Path(n))
	}
	h, err := c.controller.Open(n.ID, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", c.tree.Path(n))
	}
	return h, nil
}

// Snapshot returns the copy of the current file table.
func (c *Container) Snapshot() *blocks.Table {
	return c.controller.Snapshot()
}

// Checksum returns the checksum of the current file table.
func (c *Container) Checksum() blocks.Hash {
	return c.controller.Checksum()
}

// FreeBlocks returns the number of free nodes.
func (c *Container) FreeBlocks() int {
	return c.controller.FreeBlocks()
}

// WriteTo writes the container with the current file table to w.
func (c *Container) WriteTo(w io.Writer) (int64, error) {
	return c.controller.WriteTo(w)
}

// Sync flushes the device.
func (c *Container) Sync() error {
	return c.controller.Sync()
}

// Close does nothing, device is owned by the caller.
func (c *Container) Close() error {
	return nil
}

func newConfig(opts []Option) config {
	cfg := config{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
