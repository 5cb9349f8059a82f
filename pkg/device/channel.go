package device

import (
	"fmt"
	"sync"
)

// Stats counts traffic through a Channel since it was opened.
type Stats struct {
	BytesRead    uint64
	BytesWritten uint64
	ReadOps      uint64
	WriteOps     uint64
}

// Channel is a block-granular view over a Backend. All session I/O
// goes through a channel so the image can be retargeted at a file, a
// block device or an in-memory buffer without touching session logic.
type Channel struct {
	mtx       sync.Mutex
	backend   Backend
	blockSize uint32
	flags     int
	stats     Stats
}

func NewChannel(backend Backend, blockSize uint32, flags int) *Channel {
	if blockSize == 0 {
		blockSize = backend.PreferredBlockSize()
	}
	return &Channel{backend: backend, blockSize: blockSize, flags: flags}
}

func (c *Channel) BlockSize() uint32 { return c.blockSize }

func (c *Channel) Flags() int { return c.flags }

// SetBlockSize changes the block granularity. The session calls this
// once the superblock has been read and the real block size is known.
func (c *Channel) SetBlockSize(size uint32) error {
	if size == 0 || size&(size-1) != 0 {
		return fmt.Errorf("block size %d is not a power of two", size)
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.blockSize = size
	return nil
}

// ReadBlocks reads count blocks starting at blk.
func (c *Channel) ReadBlocks(blk uint64, count uint32) ([]byte, error) {
	buf := make([]byte, uint64(count)*uint64(c.blockSize))
	if _, err := c.backend.ReadAt(buf, int64(blk*uint64(c.blockSize))); err != nil {
		return nil, fmt.Errorf("failed to read %d blocks at %d: %w", count, blk, err)
	}

	c.mtx.Lock()
	c.stats.BytesRead += uint64(len(buf))
	c.stats.ReadOps++
	c.mtx.Unlock()

	return buf, nil
}

// WriteBlocks writes data starting at blk. len(data) must be a whole
// number of blocks.
func (c *Channel) WriteBlocks(blk uint64, data []byte) error {
	if uint64(len(data))%uint64(c.blockSize) != 0 {
		return fmt.Errorf("write of %d bytes is not block aligned", len(data))
	}

	if _, err := c.backend.WriteAt(data, int64(blk*uint64(c.blockSize))); err != nil {
		return fmt.Errorf("failed to write %d bytes at block %d: %w", len(data), blk, err)
	}

	c.mtx.Lock()
	c.stats.BytesWritten += uint64(len(data))
	c.stats.WriteOps++
	c.mtx.Unlock()

	return nil
}

// ReadAt and WriteAt bypass block alignment for structures that do not
// sit on block boundaries (the superblock at offset 1024, for one).
func (c *Channel) ReadAt(p []byte, off int64) (int, error) {
	n, err := c.backend.ReadAt(p, off)

	c.mtx.Lock()
	c.stats.BytesRead += uint64(n)
	c.stats.ReadOps++
	c.mtx.Unlock()

	return n, err
}

func (c *Channel) WriteAt(p []byte, off int64) (int, error) {
	n, err := c.backend.WriteAt(p, off)

	c.mtx.Lock()
	c.stats.BytesWritten += uint64(n)
	c.stats.WriteOps++
	c.mtx.Unlock()

	return n, err
}

// Zero writes zeroed blocks over the given range.
func (c *Channel) Zero(blk uint64, count uint32) error {
	return c.WriteBlocks(blk, make([]byte, uint64(count)*uint64(c.blockSize)))
}

// Discard is advisory. The plain backends have no way to punch holes
// so it zeroes instead, which keeps images reproducible.
func (c *Channel) Discard(blk uint64, count uint32) error {
	return c.Zero(blk, count)
}

// Readahead is advisory and currently a no-op for all backends.
func (c *Channel) Readahead(blk uint64, count uint32) error {
	return nil
}

func (c *Channel) Size() (int64, error) { return c.backend.Size() }

func (c *Channel) Flush() error { return c.backend.Sync() }

func (c *Channel) Stats() Stats {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.stats
}

func (c *Channel) Close() error {
	if err := c.backend.Sync(); err != nil {
		return err
	}
	return c.backend.Close()
}
