// Package blockstore maps logical file content to the nodes of the block container.
package blockstore

import (
	"io"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/packfs/blocks"
	"github.com/outofforest/packfs/persistence"
	"github.com/outofforest/packfs/types"
)

var zeroBlock [types.BlockSize]byte

// Controller owns the node region and its allocation state.
// If the device supports positioned I/O reads run concurrently, everything else is exclusive.
type Controller struct {
	log     *zap.Logger
	metrics Metrics

	mu    sync.RWMutex
	store *persistence.Store
	table *blocks.Table
}

type config struct {
	log     *zap.Logger
	metrics Metrics
}

// Option configures the controller.
type Option func(c *config)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// New creates the controller. Store must start at the node region. Controller takes ownership of the table.
func New(store *persistence.Store, table *blocks.Table, opts ...Option) *Controller {
	cfg := config{
		log:     zap.NewNop(),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	cfg.metrics.FreeBlocks(len(table.Free))
	return &Controller{
		log:     cfg.log,
		metrics: cfg.metrics,
		store:   store,
		table:   table,
	}
}

// Open opens the handle of the entry. Allocation of the entry is verified first.
func (c *Controller) Open(id types.EntryID, mode types.Mode) (*Handle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, err := c.table.Entry(id)
	if err != nil {
		return nil, err
	}
	if err := c.verifyAllocation(id, e); err != nil {
		return nil, err
	}

	return &Handle{
		c:     c,
		id:    id,
		entry: e,
		mode:  mode,
	}, nil
}

// Size returns the current length of the entry.
func (c *Controller) Size(id types.EntryID) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, err := c.table.Entry(id)
	if err != nil {
		return 0, err
	}
	return e.Size, nil
}

// FreeBlocks returns the number of free nodes.
func (c *Controller) FreeBlocks() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.table.Free)
}

// MaxNode returns the number of nodes in the node region.
func (c *Controller) MaxNode() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.table.MaxNode
}

// Snapshot returns the copy of the current table.
func (c *Controller) Snapshot() *blocks.Table {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.table.Clone()
}

// Checksum returns the checksum of the encoded current table.
func (c *Controller) Checksum() blocks.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.table.Checksum()
}

// Sync flushes the device.
func (c *Controller) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.Sync()
}

// WriteTo writes the encoded table followed by the node region to w.
func (c *Controller) WriteTo(w io.Writer) (int64, error) {
	unlock := c.lockRead()
	defer unlock()

	header := c.table.Encode()
	c.log.Debug("Writing file table", zap.Int("size", len(header)),
		zap.Stringer("checksum", blocks.Checksum(header)))

	n, err := w.Write(header)
	total := int64(n)
	if err != nil {
		return total, errors.WithStack(err)
	}

	buf := make([]byte, types.BlockSize)
	for id := range c.table.MaxNode {
		n, err := c.store.ReadBlock(id, 0, buf)
		if err != nil {
			return total, err
		}
		if n < len(buf) {
			return total, errors.Wrapf(types.ErrCorruptContainer, "node %d is truncated", id)
		}
		n, err = w.Write(buf)
		total += int64(n)
		if err != nil {
			return total, errors.WithStack(err)
		}
	}
	return total, nil
}

func (c *Controller) verifyAllocation(id types.EntryID, e *blocks.Entry) error {
	allocated := uint64(len(e.Blocks)) * types.BlockSize
	if allocated < e.Size || allocated-e.Size >= types.BlockSize {
		return errors.Wrapf(types.ErrInvalidAllocation, "entry %d has %d blocks for %d bytes", id, len(e.Blocks), e.Size)
	}
	for _, b := range e.Blocks {
		if uint32(b) >= c.table.MaxNode {
			return errors.Wrapf(types.ErrInvalidAllocation, "entry %d references node %d, node region has %d nodes",
				id, b, c.table.MaxNode)
		}
		if _, free := slices.BinarySearch(c.table.Free, b); free {
			return errors.Wrapf(types.ErrInvalidAllocation, "entry %d references free node %d", id, b)
		}
	}
	return nil
}

func (c *Controller) lockRead() func() {
	start := time.Now()
	if c.store.Positional() {
		c.mu.RLock()
		c.metrics.LockWait(time.Since(start))
		return c.mu.RUnlock
	}
	c.mu.Lock()
	c.metrics.LockWait(time.Since(start))
	return c.mu.Unlock
}

func (c *Controller) lockWrite() func() {
	start := time.Now()
	c.mu.Lock()
	c.metrics.LockWait(time.Since(start))
	return c.mu.Unlock
}

// read reads the logical range of the entry. Caller must hold the read lock.
func (c *Controller) read(e *blocks.Entry, p []byte, offset uint64) (int, error) {
	var total int
	for total < len(p) && offset < e.Size {
		intra := offset % types.BlockSize
		chunk := min(uint64(len(p)-total), types.BlockSize-intra, e.Size-offset)

		n, err := c.store.ReadBlock(uint32(e.Blocks[offset/types.BlockSize]), int64(intra), p[total:total+int(chunk)])
		total += n
		offset += uint64(n)
		if err != nil {
			c.metrics.BytesRead(total)
			return total, err
		}
		if n == 0 {
			break
		}
	}
	c.metrics.BytesRead(total)
	return total, nil
}

// write writes the logical range of the entry, growing it first if needed. Caller must hold the write lock.
func (c *Controller) write(id types.EntryID, e *blocks.Entry, p []byte, offset uint64) (int, error) {
	end := offset + uint64(len(p))
	if end < offset {
		return 0, errors.Wrapf(types.ErrOutOfRange, "write of %d bytes at offset %d", len(p), offset)
	}
	if end > e.Size {
		if err := c.resize(id, e, end); err != nil {
			return 0, err
		}
	}

	total, err := writeRange(c.store, e.Blocks, p, offset)
	c.metrics.BytesWritten(total)
	return total, err
}

// resize grows or shrinks the entry. On failure the entry and the free list stay untouched.
// Caller must hold the write lock.
func (c *Controller) resize(id types.EntryID, e *blocks.Entry, length uint64) error {
	needed := types.BlocksFor(length)
	current := uint64(len(e.Blocks))

	switch {
	case needed > current:
		if needed > math.MaxUint32 {
			return errors.Wrapf(types.ErrOutOfRange, "length %d exceeds the node region limit", length)
		}
		extra := needed - current
		free := c.table.Free
		maxNode := uint64(c.table.MaxNode)
		if extra > uint64(len(free)) {
			mint := extra - uint64(len(free))
			if maxNode+mint > math.MaxUint32 {
				return errors.Wrapf(types.ErrOutOfRange, "node region limit reached, %d nodes requested", mint)
			}
			if err := c.store.Grow(int64(maxNode + mint)); err != nil {
				return errors.Wrapf(err, "extending node region by %d nodes", mint)
			}
			free = slices.Clone(free)
			for id := maxNode; id < maxNode+mint; id++ {
				free = append(free, types.BlockID(id))
			}
			maxNode += mint

			c.log.Debug("Node region extended",
				zap.Uint64("minted", mint),
				zap.Uint64("maxNode", maxNode))
		}

		newBlocks := make([]types.BlockID, 0, needed)
		newBlocks = append(newBlocks, e.Blocks...)
		newBlocks = append(newBlocks, free[:extra]...)

		if err := zeroRange(c.store, newBlocks, e.Size, length); err != nil {
			return err
		}

		e.Blocks = newBlocks
		c.table.Free = free[extra:]
		c.table.MaxNode = uint32(maxNode)
		c.metrics.BlocksAllocated(int(extra))

		c.log.Debug("Entry grown",
			zap.Uint32("entry", uint32(id)),
			zap.Uint64("size", length),
			zap.Uint64("allocated", extra),
			zap.Int("freeBlocks", len(c.table.Free)))
	case needed < current:
		released := e.Blocks[needed:]
		free := make([]types.BlockID, 0, len(c.table.Free)+len(released))
		free = append(free, c.table.Free...)
		free = append(free, released...)
		slices.Sort(free)

		c.table.Free = free
		e.Blocks = slices.Clone(e.Blocks[:needed])
		c.metrics.BlocksReleased(len(released))

		c.log.Debug("Entry shrunk",
			zap.Uint32("entry", uint32(id)),
			zap.Uint64("size", length),
			zap.Int("released", len(released)),
			zap.Int("freeBlocks", len(c.table.Free)))
	default:
		if length > e.Size {
			if err := zeroRange(c.store, e.Blocks, e.Size, length); err != nil {
				return err
			}
		}
	}

	e.Size = length
	c.metrics.FreeBlocks(len(c.table.Free))
	return nil
}

func writeRange(store *persistence.Store, blockIDs []types.BlockID, p []byte, offset uint64) (int, error) {
	var total int
	for total < len(p) {
		intra := offset % types.BlockSize
		chunk := min(uint64(len(p)-total), types.BlockSize-intra)

		n, err := store.WriteBlock(uint32(blockIDs[offset/types.BlockSize]), int64(intra), p[total:total+int(chunk)])
		total += n
		offset += uint64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func zeroRange(store *persistence.Store, blockIDs []types.BlockID, from, to uint64) error {
	for from < to {
		intra := from % types.BlockSize
		chunk := min(to-from, types.BlockSize-intra)
		if _, err := store.WriteBlock(uint32(blockIDs[from/types.BlockSize]), int64(intra), zeroBlock[:chunk]); err != nil {
			return err
		}
		from += chunk
	}
	return nil
}
