package blocks

import (
	"github.com/outofforest/packfs/tabulator"
	"github.com/outofforest/packfs/types"
)

// FromTabulation builds the table for the tabulated source tree. Nodes are assigned to files
// sequentially starting from 0 in table order, then spare nodes are added to the free list.
func FromTabulation(tab *tabulator.Table, spare uint32) *Table {
	entries := tab.Entries()
	t := &Table{
		Entries: make([]*Entry, 0, len(entries)),
	}

	var next types.BlockID
	for _, te := range entries {
		e := &Entry{
			Parent: te.Parent,
			Size:   te.Size,
			Name:   te.Name,
		}
		if !te.Dir {
			n := types.BlocksFor(te.Size)
			e.Blocks = make([]types.BlockID, 0, n)
			for range n {
				e.Blocks = append(e.Blocks, next)
				next++
			}
		}
		if e.Parent == types.RootID {
			t.RootSize += e.Size
		}
		t.Entries = append(t.Entries, e)
	}

	t.MaxNode = uint32(next) + spare
	t.Free = make([]types.BlockID, 0, spare)
	for id := next; uint32(id) < t.MaxNode; id++ {
		t.Free = append(t.Free, id)
	}
	return t
}
