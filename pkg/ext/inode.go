package ext

import "time"

// Inode pairs an inode number with its decoded table record. The
// wrapper is a value; mutations only reach the image through
// Session.WriteInode.
type Inode struct {
	num uint32
	raw RawInode
}

func (i Inode) Num() uint32 { return i.num }

func (i Inode) Mode() uint16 { return i.raw.Mode }

func (i Inode) modeType() uint16 { return i.raw.Mode & sIfMask }

func (i Inode) IsDir() bool { return i.modeType() == SIfDir }

func (i Inode) IsRegular() bool { return i.modeType() == SIfRegular }

func (i Inode) IsSymlink() bool { return i.modeType() == SIfLink }

func (i Inode) IsBlockDevice() bool { return i.modeType() == SIfBlock }

func (i Inode) IsCharDevice() bool { return i.modeType() == SIfChar }

func (i Inode) IsFifo() bool { return i.modeType() == SIfFifo }

func (i Inode) IsSocket() bool { return i.modeType() == SIfSocket }

func (i Inode) Size() uint64 { return i.raw.Size }

func (i Inode) LinksCount() uint16 { return i.raw.LinksCount }

func (i Inode) Atime() time.Time { return time.Unix(int64(i.raw.Atime), 0) }

func (i Inode) Ctime() time.Time { return time.Unix(int64(i.raw.Ctime), 0) }

func (i Inode) Mtime() time.Time { return time.Unix(int64(i.raw.Mtime), 0) }

func (i Inode) Dtime() time.Time { return time.Unix(int64(i.raw.Dtime), 0) }

// fileType maps the mode onto the directory entry type byte.
func (i Inode) fileType() uint8 {
	switch i.modeType() {
	case SIfRegular:
		return FtRegular
	case SIfDir:
		return FtDir
	case SIfChar:
		return FtChar
	case SIfBlock:
		return FtBlock
	case SIfFifo:
		return FtFifo
	case SIfSocket:
		return FtSocket
	case SIfLink:
		return FtSymlink
	default:
		return FtUnknown
	}
}

// usesExtents reports whether i_block holds an inline extent tree.
func (i Inode) usesExtents() bool {
	return i.raw.Flags&InodeFlagExtents != 0
}

// inlineSymlinkTarget returns the target of a fast symlink, stored
// directly in i_block for targets shorter than 60 bytes.
func (i Inode) inlineSymlinkTarget() (string, bool) {
	if !i.IsSymlink() || i.usesExtents() || i.raw.Size >= uint64(len(i.raw.Block)) {
		return "", false
	}
	return string(i.raw.Block[:i.raw.Size]), true
}

// Extents decodes the inline extent tree.
func (i Inode) Extents() ([]Extent, error) {
	if !i.usesExtents() {
		return nil, EtInodeNotExtent
	}
	return decodeInlineExtents(i.raw.Block[:])
}
