package device

import (
	"fmt"
	"os"
)

// FileBackend is a Backend over a regular file or block device node.
type FileBackend struct {
	f        *os.File
	readOnly bool
}

// OpenFile opens the file at path as a backend. Without FlagReadWrite
// the backend rejects writes instead of relying on the OS to do it.
func OpenFile(path string, flags int) (*FileBackend, error) {
	osFlags := os.O_RDONLY
	if flags&FlagReadWrite != 0 {
		osFlags = os.O_RDWR
	}

	f, err := os.OpenFile(path, osFlags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open backing file: %w", err)
	}

	return &FileBackend{f: f, readOnly: flags&FlagReadWrite == 0}, nil
}

// CreateFile creates (or truncates) the file at path and returns a
// read-write backend over it.
func CreateFile(path string, size int64) (*FileBackend, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create backing file: %w", err)
	}

	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to size backing file: %w", err)
	}

	return &FileBackend{f: f}, nil
}

func (fb *FileBackend) ReadAt(p []byte, off int64) (int, error) {
	return fb.f.ReadAt(p, off)
}

func (fb *FileBackend) WriteAt(p []byte, off int64) (int, error) {
	if fb.readOnly {
		return 0, fmt.Errorf("backend is read-only")
	}
	return fb.f.WriteAt(p, off)
}

func (fb *FileBackend) Size() (int64, error) {
	info, err := fb.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (fb *FileBackend) Truncate(size int64) error {
	if fb.readOnly {
		return fmt.Errorf("backend is read-only")
	}
	return fb.f.Truncate(size)
}

func (fb *FileBackend) Sync() error {
	if fb.readOnly {
		return nil
	}
	return fb.f.Sync()
}

func (fb *FileBackend) PreferredBlockSize() uint32 { return 4096 }

func (fb *FileBackend) Close() error {
	return fb.f.Close()
}

var _ Backend = &FileBackend{}
