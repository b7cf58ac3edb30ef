package types

const (
	// BlockSize is the size of the node used by the block container format.
	BlockSize = 1024

	// Alignment is the alignment of every variable-length field and every content region.
	Alignment = 4
)

// EntryID is the implicit id of the entry in the file table. Id of the entry is its index plus one.
type EntryID uint32

// RootID is the id of the implicit root entry, it is never stored.
const RootID EntryID = 0

// BlockID is the index of the node in the node region of the block container.
type BlockID uint32

// Mode defines how the file is opened.
type Mode byte

// Open modes.
const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "read-write"
	}
	return "read-only"
}

// Align rounds n up to the nearest multiple of Alignment.
func Align(n uint64) uint64 {
	return (n + Alignment - 1) / Alignment * Alignment
}

// BlocksFor returns the number of blocks required to store length bytes.
func BlocksFor(length uint64) uint64 {
	return length/BlockSize + min(length%BlockSize, 1)
}
