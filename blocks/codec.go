package blocks

import (
	"io"
	"slices"

	"github.com/pkg/errors"

	"github.com/outofforest/packfs/pkg/wire"
	"github.com/outofforest/packfs/types"
)

// maxPrealloc bounds capacities taken from header counts, the rest is grown while reading.
const maxPrealloc = 1 << 16

// Decode reads the file table from r. It returns the table and the number of bytes consumed,
// which is the offset of the node region.
func Decode(r io.Reader) (*Table, int64, error) {
	wr := wire.NewReader(r)

	count := wr.Uint32("entry count")
	t := &Table{
		Entries: make([]*Entry, 0, min(count, maxPrealloc)),
	}
	for range count {
		e := &Entry{
			Parent: types.EntryID(wr.Uint32("parent id")),
			Size:   wr.Uint64("size"),
		}
		nBlocks := wr.Uint32("block count")
		if wr.Err() != nil {
			break
		}
		if uint64(nBlocks) > types.BlocksFor(e.Size)+1 {
			return nil, 0, errors.Wrapf(types.ErrCorruptContainer, "entry %d declares %d blocks for %d bytes",
				len(t.Entries)+1, nBlocks, e.Size)
		}
		if nBlocks > 0 {
			e.Blocks = make([]types.BlockID, 0, min(nBlocks, maxPrealloc))
		}
		for range nBlocks {
			id := wr.Uint32("block id")
			if wr.Err() != nil {
				break
			}
			e.Blocks = append(e.Blocks, types.BlockID(id))
		}
		e.Name = wr.Name("name")
		if wr.Err() != nil {
			break
		}
		if e.Parent == types.RootID {
			t.RootSize += e.Size
		}
		t.Entries = append(t.Entries, e)
	}

	t.MaxNode = wr.Uint32("max node")
	nFree := wr.Uint32("free count")
	if wr.Err() == nil && nFree > t.MaxNode {
		return nil, 0, errors.Wrapf(types.ErrCorruptContainer, "free list of %d nodes exceeds node count %d",
			nFree, t.MaxNode)
	}
	t.Free = make([]types.BlockID, 0, min(nFree, maxPrealloc))
	for range nFree {
		id := wr.Uint32("free node")
		if wr.Err() != nil {
			break
		}
		t.Free = append(t.Free, types.BlockID(id))
	}
	if err := wr.Err(); err != nil {
		return nil, 0, err
	}
	slices.Sort(t.Free)

	return t, wr.Offset(), nil
}

// HeaderSize returns the size of the encoded table.
func (t *Table) HeaderSize() int64 {
	size := uint64(4)
	for _, e := range t.Entries {
		size += entryHeaderSize + 4*uint64(len(e.Blocks)) + wire.NameSize(e.Name)
	}
	size += 4 + 4 + 4*uint64(len(t.Free))
	return int64(size)
}

// Encode encodes the table.
func (t *Table) Encode() []byte {
	b := make([]byte, 0, t.HeaderSize())
	b = wire.AppendUint32(b, uint32(len(t.Entries)))
	for _, e := range t.Entries {
		b = wire.AppendUint32(b, uint32(e.Parent))
		b = wire.AppendUint64(b, e.Size)
		b = wire.AppendUint32(b, uint32(len(e.Blocks)))
		for _, id := range e.Blocks {
			b = wire.AppendUint32(b, uint32(id))
		}
		b = wire.AppendName(b, e.Name)
	}
	b = wire.AppendUint32(b, t.MaxNode)
	b = wire.AppendUint32(b, uint32(len(t.Free)))
	for _, id := range t.Free {
		b = wire.AppendUint32(b, uint32(id))
	}
	return b
}

// Validate verifies that every node below MaxNode is owned by exactly one entry or is free.
func (t *Table) Validate() error {
	owners := make([]types.EntryID, t.MaxNode)
	const (
		unowned types.EntryID = 0
		free    types.EntryID = ^types.EntryID(0)
	)

	claim := func(id types.BlockID, owner types.EntryID) error {
		if uint32(id) >= t.MaxNode {
			return errors.Wrapf(types.ErrCorruptContainer, "node %d is outside of the node region of %d nodes",
				id, t.MaxNode)
		}
		if owners[id] != unowned {
			return errors.Wrapf(types.ErrCorruptContainer, "node %d is referenced more than once", id)
		}
		owners[id] = owner
		return nil
	}

	for i, e := range t.Entries {
		for _, id := range e.Blocks {
			if err := claim(id, types.EntryID(i+1)); err != nil {
				return err
			}
		}
	}
	for _, id := range t.Free {
		if err := claim(id, free); err != nil {
			return err
		}
	}
	for id, owner := range owners {
		if owner == unowned {
			return errors.Wrapf(types.ErrCorruptContainer, "node %d is neither owned nor free", id)
		}
	}
	return nil
}
