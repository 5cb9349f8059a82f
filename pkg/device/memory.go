package device

import (
	"io"
	"sync"
)

// MemoryBackend is an in-memory Backend, mostly useful for tests and
// for building images that are written out in one shot afterwards.
type MemoryBackend struct {
	mtx sync.RWMutex
	buf []byte
}

func NewMemory(size int64) *MemoryBackend {
	return &MemoryBackend{buf: make([]byte, size)}
}

func (mb *MemoryBackend) ReadAt(p []byte, off int64) (int, error) {
	mb.mtx.RLock()
	defer mb.mtx.RUnlock()

	if off >= int64(len(mb.buf)) {
		return 0, io.EOF
	}

	n := copy(p, mb.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (mb *MemoryBackend) WriteAt(p []byte, off int64) (int, error) {
	mb.mtx.Lock()
	defer mb.mtx.Unlock()

	if end := off + int64(len(p)); end > int64(len(mb.buf)) {
		grown := make([]byte, end)
		copy(grown, mb.buf)
		mb.buf = grown
	}

	return copy(mb.buf[off:], p), nil
}

func (mb *MemoryBackend) Size() (int64, error) {
	mb.mtx.RLock()
	defer mb.mtx.RUnlock()

	return int64(len(mb.buf)), nil
}

func (mb *MemoryBackend) Truncate(size int64) error {
	mb.mtx.Lock()
	defer mb.mtx.Unlock()

	if size <= int64(len(mb.buf)) {
		mb.buf = mb.buf[:size]
		return nil
	}

	grown := make([]byte, size)
	copy(grown, mb.buf)
	mb.buf = grown
	return nil
}

func (mb *MemoryBackend) Sync() error  { return nil }
func (mb *MemoryBackend) Close() error { return nil }

func (mb *MemoryBackend) PreferredBlockSize() uint32 { return 1024 }

// Bytes returns the underlying buffer. The caller must not mutate it
// while the backend is still in use.
func (mb *MemoryBackend) Bytes() []byte {
	mb.mtx.RLock()
	defer mb.mtx.RUnlock()

	return mb.buf
}

var _ Backend = &MemoryBackend{}
