package types

import (
	"io/fs"

	"github.com/pkg/errors"
)

// Errors shared by all the containers.
var (
	// ErrNotFound is returned if path has no matching entry.
	ErrNotFound = errors.Wrap(fs.ErrNotExist, "entry not found")

	// ErrNotAFile is returned if file operation is applied to directory.
	ErrNotAFile = errors.New("entry is not a file")

	// ErrNotADirectory is returned if directory operation is applied to file.
	ErrNotADirectory = errors.New("entry is not a directory")

	// ErrReadOnly is returned if mutation is attempted on read-only container or handle.
	ErrReadOnly = errors.Wrap(fs.ErrPermission, "container is read-only")

	// ErrInvalidAllocation is returned if block list does not match the length or overlaps free blocks.
	ErrInvalidAllocation = errors.New("invalid block allocation")

	// ErrOutOfRange is returned on invalid argument.
	ErrOutOfRange = errors.Wrap(fs.ErrInvalid, "argument out of range")

	// ErrCorruptContainer is returned if container header is inconsistent.
	ErrCorruptContainer = errors.New("container is corrupted")

	// ErrClosed is returned if closed handle is used.
	ErrClosed = errors.Wrap(fs.ErrClosed, "handle is closed")
)
