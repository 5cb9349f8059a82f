package ext

import (
	"encoding/binary"
	"fmt"
)

// FileFlags control how a file handle is opened.
type FileFlags uint32

const (
	FileWrite FileFlags = 1 << iota
	FileCreate
)

type fileState int

const (
	fileOpen fileState = iota
	fileClosed
)

// File is a per-open-file handle bound to one inode. Handles must be
// closed through their owning session before the session itself is
// closed, or buffered inode updates are lost.
type File struct {
	num   uint32
	raw   RawInode
	pos   uint64
	flags FileFlags
	state fileState
	dirty bool
}

// OpenFile opens a file handle for the given inode.
func (s *Session) OpenFile(inode uint32, flags FileFlags) (*File, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if s.inodeBitmap != nil {
		used, err := s.inodeBitmap.Test(uint64(inode))
		if err != nil {
			return nil, err
		}
		if !used && flags&FileCreate == 0 {
			return nil, ENOENT
		}
	}

	ino, err := s.readInodeLocked(inode)
	if err != nil {
		return nil, err
	}

	return &File{num: inode, raw: ino.raw, flags: flags}, nil
}

// CloseFile flushes the handle's pending inode update and moves it to
// the closed state. Closing twice is a caller bug and reports as one.
func (s *Session) CloseFile(f *File) error {
	if f.state == fileClosed {
		return fmt.Errorf("file already closed!")
	}

	if err := s.FlushFile(f); err != nil {
		return err
	}

	f.state = fileClosed
	return nil
}

// GetInode returns the handle's inode as last written through it.
func (s *Session) GetInode(f *File) (Inode, error) {
	if f.num == 0 {
		return Inode{}, ENOENT
	}
	return Inode{num: f.num, raw: f.raw}, nil
}

// GetInodeNumber returns the inode number the handle is bound to.
func (s *Session) GetInodeNumber(f *File) (uint32, error) {
	if f.num == 0 {
		return 0, ENOENT
	}
	return f.num, nil
}

// ReadFile reads up to len(buf) bytes at the handle's position and
// advances it. A read at or past the end returns zero bytes.
func (s *Session) ReadFile(f *File, buf []byte) (int, error) {
	if f.state == fileClosed {
		return 0, EBADF
	}

	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if f.pos >= f.raw.Size {
		return 0, nil
	}

	remaining := f.raw.Size - f.pos
	want := uint64(len(buf))
	if want > remaining {
		want = remaining
	}

	blockSize := uint64(s.sb.BlockSize())
	read := uint64(0)
	for read < want {
		logical := uint32((f.pos + read) / blockSize)
		offset := (f.pos + read) % blockSize

		n := blockSize - offset
		if n > want-read {
			n = want - read
		}

		physical, mapped, err := s.lookupFileBlock(&f.raw, logical)
		if err != nil {
			return int(read), err
		}

		if mapped {
			block, err := s.readBlock(physical)
			if err != nil {
				return int(read), err
			}
			copy(buf[read:read+n], block[offset:])
		} else {
			// Hole: reads as zeroes.
			for i := read; i < read+n; i++ {
				buf[i] = 0
			}
		}

		read += n
	}

	f.pos += read
	return int(read), nil
}

// WriteFile writes buf at the handle's position, allocating blocks as
// needed, then persists the inode and flushes.
func (s *Session) WriteFile(f *File, buf []byte) (int, error) {
	if f.state == fileClosed {
		return 0, EBADF
	}
	if f.flags&FileWrite == 0 {
		return 0, EtFileReadOnly
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.readOnly {
		return 0, EtRoFilsys
	}

	blockSize := uint64(s.sb.BlockSize())
	written := uint64(0)
	for written < uint64(len(buf)) {
		logical := uint32((f.pos + written) / blockSize)
		offset := (f.pos + written) % blockSize

		n := blockSize - offset
		if n > uint64(len(buf))-written {
			n = uint64(len(buf)) - written
		}

		physical, err := s.mapFileBlock(f.num, &f.raw, logical)
		if err != nil {
			return int(written), err
		}

		if offset == 0 && n == blockSize {
			if err := s.writeBlock(physical, buf[written:written+n]); err != nil {
				return int(written), err
			}
		} else {
			block, err := s.readBlock(physical)
			if err != nil {
				return int(written), err
			}
			copy(block[offset:], buf[written:written+n])
			if err := s.writeBlock(physical, block); err != nil {
				return int(written), err
			}
		}

		written += n
	}

	f.pos += written
	if f.pos > f.raw.Size {
		f.raw.Size = f.pos
	}
	f.dirty = true

	if err := s.writeInodeLocked(Inode{num: f.num, raw: f.raw}); err != nil {
		return int(written), err
	}
	f.dirty = false

	if err := s.flushLocked(); err != nil {
		return int(written), err
	}

	return int(written), nil
}

// FlushFile writes the handle's inode record back to the table.
func (s *Session) FlushFile(f *File) error {
	if !f.dirty {
		return nil
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := s.writeInodeLocked(Inode{num: f.num, raw: f.raw}); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// lookupFileBlock maps a logical file block without allocating. Both
// extent-mapped and legacy direct-pointer inodes resolve; indirect
// pointers do not.
func (s *Session) lookupFileBlock(raw *RawInode, logical uint32) (uint64, bool, error) {
	if raw.Flags&InodeFlagExtents == 0 {
		if logical >= 12 {
			return 0, false, EtBadIndBlock
		}
		physical := uint64(binary.LittleEndian.Uint32(raw.Block[4*logical:]))
		return physical, physical != 0, nil
	}

	extents, err := decodeInlineExtents(raw.Block[:])
	if err != nil {
		return 0, false, err
	}

	for _, ext := range extents {
		if logical >= ext.Logical && logical < ext.Logical+uint32(ext.Len) {
			return ext.Physical + uint64(logical-ext.Logical), true, nil
		}
	}

	return 0, false, nil
}

// blockGoal picks where allocation for the inode's next block should
// start scanning: just past its last extent when it has one, its
// group's first block otherwise.
func (s *Session) blockGoal(num uint32, raw *RawInode) uint64 {
	if raw.Flags&InodeFlagExtents != 0 {
		if extents, err := decodeInlineExtents(raw.Block[:]); err == nil && len(extents) > 0 {
			last := extents[len(extents)-1]
			return last.Physical + uint64(last.Len)
		}
	}
	return s.findInodeGoal(num)
}

// mapFileBlock maps a logical file block, allocating and attaching a
// new block when the extent tree does not cover it yet. Adjacent
// allocations merge into the trailing extent, so small sequential
// writes stay within the four inline slots.
func (s *Session) mapFileBlock(num uint32, raw *RawInode, logical uint32) (uint64, error) {
	if raw.Flags&InodeFlagExtents == 0 {
		// Writes only grow extent trees; legacy inodes stay read-only.
		return 0, EtInodeNotExtent
	}

	physical, mapped, err := s.lookupFileBlock(raw, logical)
	if err != nil {
		return 0, err
	}
	if mapped {
		return physical, nil
	}

	extents, err := decodeInlineExtents(raw.Block[:])
	if err != nil {
		return 0, err
	}

	block, err := s.allocBlock(s.blockGoal(num, raw))
	if err != nil {
		return 0, err
	}

	merged := false
	if n := len(extents); n > 0 {
		last := &extents[n-1]
		if last.Logical+uint32(last.Len) == logical &&
			last.Physical+uint64(last.Len) == block &&
			last.Len < 32767 {
			last.Len++
			merged = true
		}
	}
	if !merged {
		extents = append(extents, Extent{Logical: logical, Len: 1, Physical: block})
	}

	if err := encodeInlineExtents(raw.Block[:], extents); err != nil {
		s.freeBlock(block)
		return 0, err
	}

	raw.Blocks += s.sb.BlockSize() / 512
	return block, nil
}
