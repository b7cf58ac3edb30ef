package blocks

import (
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/outofforest/packfs/types"
)

// Checksum computes checksum of bytes.
func Checksum(b []byte) Hash {
	return Hash(xxhash.Sum64(b))
}

// Checksum computes checksum of the encoded table.
func (t *Table) Checksum() Hash {
	return Checksum(t.Encode())
}

// VerifyChecksum verifies that checksum of the encoded table matches the expected one.
func (t *Table) VerifyChecksum(expectedChecksum Hash) error {
	checksum := t.Checksum()
	if checksum == expectedChecksum {
		return nil
	}
	return errors.Wrapf(types.ErrCorruptContainer, "checksum mismatch for file table, computed: %016x, expected: %016x",
		checksum, expectedChecksum)
}
