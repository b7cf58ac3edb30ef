// Package blocks defines the file table of the block container and its encoding.
package blocks

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"

	"github.com/outofforest/packfs/types"
)

// entryHeaderSize is the size of fixed-width fields of the entry: parent id, size and block count.
const entryHeaderSize = 4 + 8 + 4

// Hash represents hash.
type Hash uint64

func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// Entry is the row of the file table.
type Entry struct {
	Parent types.EntryID
	Size   uint64
	Blocks []types.BlockID
	Name   string
}

// Table is the file table of the block container together with the state of the node region.
type Table struct {
	// Entries are the rows of the file table. Entry with index i has id i+1.
	Entries []*Entry

	// MaxNode is the number of nodes in the node region.
	MaxNode uint32

	// Free contains ids of nodes not owned by any entry, sorted ascending.
	Free []types.BlockID

	// RootSize is the sum of sizes of the top-level entries computed when table was built.
	RootSize uint64
}

// Clone returns deep copy of the table.
func (t *Table) Clone() *Table {
	c := &Table{
		Entries:  make([]*Entry, 0, len(t.Entries)),
		MaxNode:  t.MaxNode,
		Free:     slices.Clone(t.Free),
		RootSize: t.RootSize,
	}
	for _, e := range t.Entries {
		c.Entries = append(c.Entries, &Entry{
			Parent: e.Parent,
			Size:   e.Size,
			Blocks: slices.Clone(e.Blocks),
			Name:   e.Name,
		})
	}
	return c
}

// Entry returns entry by id.
func (t *Table) Entry(id types.EntryID) (*Entry, error) {
	if id == types.RootID || int(id) > len(t.Entries) {
		return nil, errors.Wrapf(types.ErrNotFound, "entry %d", id)
	}
	return t.Entries[id-1], nil
}

// NodeRegionSize returns the size of the node region in bytes.
func (t *Table) NodeRegionSize() int64 {
	return int64(t.MaxNode) * types.BlockSize
}
