package device

import (
	"fmt"
	"os"
	"sync"
)

// Manager opens channels against some class of backing store. A
// manager is passed explicitly to session open/create so tests can
// swap in the memory manager without global state.
type Manager interface {
	Name() string
	Open(name string, flags int, blockSize uint32) (*Channel, error)
}

// Creator is implemented by managers that can provision fresh images
// and delete ones that failed to build.
type Creator interface {
	Create(name string, size int64, blockSize uint32) (*Channel, error)
	Remove(name string) error
}

type fileManager struct{}

func (fileManager) Name() string { return "unix" }

func (fileManager) Open(name string, flags int, blockSize uint32) (*Channel, error) {
	backend, err := OpenFile(name, flags)
	if err != nil {
		return nil, err
	}
	return NewChannel(backend, blockSize, flags), nil
}

func (fileManager) Create(name string, size int64, blockSize uint32) (*Channel, error) {
	backend, err := CreateFile(name, size)
	if err != nil {
		return nil, err
	}
	return NewChannel(backend, blockSize, FlagReadWrite), nil
}

func (fileManager) Remove(name string) error { return os.Remove(name) }

// FileManager returns the default manager, which opens regular files
// and block device nodes by path.
func FileManager() Manager { return fileManager{} }

// MemoryManager keeps a set of named in-memory images. Opening the
// same name twice returns a channel over the same buffer, so a test
// can create an image, reopen it and check what got written.
type MemoryManager struct {
	mtx    sync.Mutex
	images map[string]*MemoryBackend
}

func NewMemoryManager() *MemoryManager {
	return &MemoryManager{images: make(map[string]*MemoryBackend)}
}

func (mm *MemoryManager) Name() string { return "memory" }

func (mm *MemoryManager) Open(name string, flags int, blockSize uint32) (*Channel, error) {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()

	backend, ok := mm.images[name]
	if !ok {
		if flags&FlagReadWrite == 0 {
			return nil, fmt.Errorf("no such image: %s", name)
		}
		backend = NewMemory(0)
		mm.images[name] = backend
	}

	return NewChannel(backend, blockSize, flags), nil
}

func (mm *MemoryManager) Create(name string, size int64, blockSize uint32) (*Channel, error) {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()

	backend := NewMemory(size)
	mm.images[name] = backend
	return NewChannel(backend, blockSize, FlagReadWrite), nil
}

// Remove drops a named image from the manager.
func (mm *MemoryManager) Remove(name string) error {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()

	delete(mm.images, name)
	return nil
}
