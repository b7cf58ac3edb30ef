// Package contiguous implements the read-only container with file content stored at contiguous offsets.
package contiguous

import (
	"io"
	"io/fs"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/packfs/persistence"
	"github.com/outofforest/packfs/pkg/wire"
	"github.com/outofforest/packfs/tabulator"
	"github.com/outofforest/packfs/tree"
	"github.com/outofforest/packfs/types"
)

// Entry is the row of the file table.
type Entry struct {
	Parent types.EntryID
	Offset uint64
	Size   uint64
	Name   string
}

// Container is the contiguous container.
type Container struct {
	log   *zap.Logger
	cache *lru.Cache[types.EntryID, []byte]

	// mu guards the cursor of the device.
	mu    sync.Mutex
	store *persistence.Store

	entries    []Entry
	tree       *tree.Tree
	headerSize int64
}

type config struct {
	log       *zap.Logger
	cacheSize int
	workers   int
	overwrite bool
}

// Option configures the container.
type Option func(c *config)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// WithCacheSize sets the number of file contents kept in memory. Zero disables caching.
func WithCacheSize(size int) Option {
	return func(c *config) {
		c.cacheSize = size
	}
}

// WithWorkers sets the number of workers reading source files in Create.
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

// Create writes the contiguous container holding the directory root of fsys to the device and opens it.
func Create(dev persistence.Dev, fsys fs.FS, root string, opts ...Option) (*Container, error) {
	cfg := newConfig(opts)

	tab, err := tabulator.Build(fsys, root, tabulator.WithLogger(cfg.log))
	if err != nil {
		return nil, err
	}
	data, err := tab.Encode(cfg.workers)
	if err != nil {
		return nil, err
	}
	if err := persistence.Initialize(dev, data, 0, cfg.overwrite); err != nil {
		return nil, err
	}

	cfg.log.Info("Contiguous container created",
		zap.String("root", root),
		zap.Int("entries", len(tab.Entries())),
		zap.Uint64("size", tab.Size()))

	return Open(dev, opts...)
}

// Open parses the file table stored on the device.
func Open(dev persistence.Dev, opts ...Option) (*Container, error) {
	cfg := newConfig(opts)

	if _, err := dev.Seek(0, io.SeekStart); err != nil {
		return nil, errors.WithStack(err)
	}

	r := wire.NewReader(dev)
	count := r.Uint32("entry count")
	entries := make([]Entry, 0, min(count, 1<<16))
	var rootSize uint64
	for range count {
		e := Entry{
			Parent: types.EntryID(r.Uint32("parent id")),
			Offset: r.Uint64("offset"),
			Size:   r.Uint64("size"),
			Name:   r.Name("name"),
		}
		if r.Err() != nil {
			break
		}
		if e.Parent == types.RootID {
			rootSize += e.Size
		}
		entries = append(entries, e)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	headerSize := r.Offset()

	devSize := uint64(dev.Size())
	treeEntries := make([]tree.Entry, 0, len(entries))
	for i, e := range entries {
		if e.Offset < uint64(headerSize) || e.Offset+e.Size < e.Offset || e.Offset+e.Size > devSize {
			return nil, errors.Wrapf(types.ErrCorruptContainer, "content of entry %d, offset: %d, size: %d, is outside the data region",
				i+1, e.Offset, e.Size)
		}
		treeEntries = append(treeEntries, tree.Entry{Parent: e.Parent, Name: e.Name, Size: e.Size})
	}

	t, err := tree.New(treeEntries, rootSize)
	if err != nil {
		return nil, err
	}

	store, err := persistence.OpenStore(dev, 0, types.BlockSize)
	if err != nil {
		return nil, err
	}

	c := &Container{
		log:        cfg.log,
		store:      store,
		entries:    entries,
		tree:       t,
		headerSize: headerSize,
	}
	if cfg.cacheSize > 0 {
		c.cache, err = lru.New[types.EntryID, []byte](cfg.cacheSize)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	c.log.Info("Contiguous container opened",
		zap.Int("entries", len(entries)),
		zap.Int64("headerSize", headerSize),
		zap.Uint64("rootSize", rootSize))

	return c, nil
}

// Tree returns the directory tree.
func (c *Container) Tree() *tree.Tree {
	return c.tree
}

// Lookup returns node by path.
func (c *Container) Lookup(path string) (*tree.Node, error) {
	return c.tree.Lookup(path)
}

// Entry returns the file table entry of the node.
func (c *Container) Entry(n *tree.Node) (Entry, error) {
	if n.ID == types.RootID || int(n.ID) > len(c.entries) {
		return Entry{}, errors.Wrapf(types.ErrNotFound, "entry %d", n.ID)
	}
	return c.entries[n.ID-1], nil
}

// Size returns the size of the node. Size of the root is computed once when container is opened.
func (c *Container) Size(n *tree.Node) uint64 {
	return n.Size
}

// IsReadOnly returns true, contiguous container is never writable.
func (c *Container) IsReadOnly(*tree.Node) bool {
	return true
}

// Read returns the whole content of the file.
func (c *Container) Read(n *tree.Node) ([]byte, error) {
	e, err := c.fileEntry(n)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if data, ok := c.cache.Get(n.ID); ok {
			return append([]byte(nil), data...), nil
		}
	}

	data := make([]byte, e.Size)
	if _, err := c.readAt(data, int64(e.Offset)); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Add(n.ID, append([]byte(nil), data...))
	}
	return data, nil
}

// OpenFile opens the file for reading. Container is read-only so opening in read-write mode fails.
func (c *Container) OpenFile(n *tree.Node, mode types.Mode) (*Handle, error) {
	if mode != types.ReadOnly {
		return nil, errors.Wrapf(types.ErrReadOnly, "opening %q in %s mode", c.tree.Path(n), mode)
	}
	e, err := c.fileEntry(n)
	if err != nil {
		return nil, err
	}
	return &Handle{
		c:      c,
		offset: int64(e.Offset),
		size:   int64(e.Size),
	}, nil
}

// Close does nothing, device is owned by the caller.
func (c *Container) Close() error {
	return nil
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

func (c *Container) fileEntry(n *tree.Node) (Entry, error) {
	if n.IsDir() {
		return Entry{}, errors.Wrapf(types.ErrNotAFile, "path %q", c.tree.Path(n))
	}
	return c.Entry(n)
}

func (c *Container) readAt(p []byte, offset int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int
	for total < len(p) {
		n, err := c.store.ReadAt(p[total:], offset+int64(total))
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, errors.Wrapf(types.ErrCorruptContainer, "unexpected end of device at offset %d", offset+int64(total))
		}
	}
	return total, nil
}
