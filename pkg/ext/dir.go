package ext

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// DirEntry is one directory entry as seen by callers.
type DirEntry struct {
	Inode    uint32
	FileType uint8
	Name     string
}

const dirEntryHeaderLen = 8

// entrySize returns the on-disk footprint of an entry with the given
// name length, padded to four bytes.
func entrySize(nameLen int) int {
	return roundUpDiv(dirEntryHeaderLen+nameLen, 4) * 4
}

// validateName rejects names a directory entry cannot encode.
func validateName(name string) error {
	if name == "" {
		return EINVAL
	}
	if len(name) > 255 {
		return ENAMETOOLONG
	}
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, 0) {
		return EINVAL
	}
	return nil
}

type rawDirEntry struct {
	off     int
	inode   uint32
	recLen  int
	nameLen int
}

func (r rawDirEntry) name(block []byte) []byte {
	return block[r.off+dirEntryHeaderLen : r.off+dirEntryHeaderLen+r.nameLen]
}

// walkRawEntries calls fn for every record in the block, including
// cleared ones. fn returning false stops the walk.
func walkRawEntries(block []byte, fn func(rawDirEntry) bool) error {
	off := 0
	for off < len(block) {
		recLen := int(binary.LittleEndian.Uint16(block[off+4:]))
		nameLen := int(block[off+6])

		if recLen < dirEntryHeaderLen || recLen%4 != 0 || off+recLen > len(block) {
			return EtDirCorrupted
		}
		if dirEntryHeaderLen+nameLen > recLen {
			return EtDirCorrupted
		}

		ent := rawDirEntry{
			off:     off,
			inode:   binary.LittleEndian.Uint32(block[off:]),
			recLen:  recLen,
			nameLen: nameLen,
		}

		if !fn(ent) {
			return nil
		}

		off += recLen
	}

	return nil
}

// decodeDirEntries parses the live entries out of a directory block.
func decodeDirEntries(block []byte) ([]DirEntry, error) {
	var entries []DirEntry

	err := walkRawEntries(block, func(raw rawDirEntry) bool {
		if raw.inode != 0 {
			entries = append(entries, DirEntry{
				Inode:    raw.inode,
				FileType: block[raw.off+7],
				Name:     string(raw.name(block)),
			})
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func writeDirEntry(block []byte, off int, recLen int, inode uint32, fileType uint8, name string) {
	binary.LittleEndian.PutUint32(block[off:], inode)
	binary.LittleEndian.PutUint16(block[off+4:], uint16(recLen))
	block[off+6] = uint8(len(name))
	block[off+7] = fileType
	copy(block[off+dirEntryHeaderLen:], name)
}

// addDirEntry inserts an entry into the block by splitting the first
// record with enough slack. Returns EtDirNoSpace when the block is
// full.
func addDirEntry(block []byte, inode uint32, fileType uint8, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	required := entrySize(len(name))
	inserted := false

	err := walkRawEntries(block, func(raw rawDirEntry) bool {
		used := 0
		if raw.inode != 0 {
			used = entrySize(raw.nameLen)
		}

		if raw.recLen-used < required {
			return true
		}

		if raw.inode != 0 {
			binary.LittleEndian.PutUint16(block[raw.off+4:], uint16(used))
		}
		writeDirEntry(block, raw.off+used, raw.recLen-used, inode, fileType, name)

		inserted = true
		return false
	})
	if err != nil {
		return err
	}

	if !inserted {
		return EtDirNoSpace
	}
	return nil
}

// removeDirEntry clears the named entry, merging its record into the
// previous one, and returns the inode it pointed at.
func removeDirEntry(block []byte, name string) (uint32, error) {
	target := []byte(name)
	removed := uint32(0)
	prevOff := -1

	err := walkRawEntries(block, func(raw rawDirEntry) bool {
		if raw.inode != 0 && bytes.Equal(raw.name(block), target) {
			removed = raw.inode
			if prevOff >= 0 {
				prevLen := int(binary.LittleEndian.Uint16(block[prevOff+4:]))
				binary.LittleEndian.PutUint16(block[prevOff+4:], uint16(prevLen+raw.recLen))
			} else {
				binary.LittleEndian.PutUint32(block[raw.off:], 0)
			}
			return false
		}

		prevOff = raw.off
		return true
	})
	if err != nil {
		return 0, err
	}

	if removed == 0 {
		return 0, ENOENT
	}
	return removed, nil
}

// findDirEntry looks a name up in one directory block.
func findDirEntry(block []byte, name string) (DirEntry, bool, error) {
	target := []byte(name)
	var found DirEntry
	ok := false

	err := walkRawEntries(block, func(raw rawDirEntry) bool {
		if raw.inode != 0 && bytes.Equal(raw.name(block), target) {
			found = DirEntry{
				Inode:    raw.inode,
				FileType: block[raw.off+7],
				Name:     name,
			}
			ok = true
			return false
		}
		return true
	})
	if err != nil {
		return DirEntry{}, false, err
	}

	return found, ok, nil
}

// newDirBlock builds a fresh directory block holding "." and "..".
func newDirBlock(blockSize uint32, self uint32, parent uint32) []byte {
	block := make([]byte, blockSize)

	dotLen := entrySize(1)
	writeDirEntry(block, 0, dotLen, self, FtDir, ".")
	writeDirEntry(block, dotLen, int(blockSize)-dotLen, parent, FtDir, "..")

	return block
}
