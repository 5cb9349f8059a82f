package device

import (
	"io"
)

// Backend is a byte-addressable backing store for a filesystem image.
// Implementations must be safe for concurrent readers; writers are
// expected to be serialized by the caller.
type Backend interface {
	io.ReaderAt
	io.WriterAt

	// Size returns the current size of the backing store in bytes.
	Size() (int64, error)

	// Truncate grows or shrinks the backing store to the given size.
	Truncate(size int64) error

	// Sync flushes any buffered writes to stable storage.
	Sync() error

	// PreferredBlockSize is the natural transfer size of the store.
	// Channels fall back to it when no block size is given.
	PreferredBlockSize() uint32

	Close() error
}

// Open flags for Manager.Open. These mirror the flag bits the session
// hands down when it opens a backing image.
const (
	FlagReadWrite = 1 << iota
	FlagExclusive
	FlagDirect
)
