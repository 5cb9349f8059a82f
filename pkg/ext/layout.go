package ext

import (
	"encoding/binary"

	"golang.org/x/exp/constraints"
)

// On-disk constants shared by ext2/3/4. All multi-byte fields are
// little-endian.
const (
	SuperblockOffset = 1024
	SuperblockMagic  = 0xEF53

	RootInode        = 2
	firstNonResInode = 11

	ExtentMagic = 0xF30A

	// A depth-0 extent tree inlined in i_block holds the header
	// plus up to four leaf entries.
	inlineExtentSlots = 4
)

// Mode type bits.
const (
	SIfFifo    = 0x1000
	SIfChar    = 0x2000
	SIfDir     = 0x4000
	SIfBlock   = 0x6000
	SIfRegular = 0x8000
	SIfLink    = 0xA000
	SIfSocket  = 0xC000
	sIfMask    = 0xF000
)

// Directory entry file types.
const (
	FtUnknown = iota
	FtRegular
	FtDir
	FtChar
	FtBlock
	FtFifo
	FtSocket
	FtSymlink
)

// Feature flags the layer writes and understands.
const (
	IncompatFiletype = 0x0002
	IncompatExtents  = 0x0040
	Incompat64Bit    = 0x0080
	IncompatFlexBG   = 0x0200

	RoCompatSparseSuper = 0x0001
	RoCompatLargeFile   = 0x0002
	RoCompatHugeFile    = 0x0008
)

// Inode flags.
const (
	InodeFlagExtents = 0x80000
)

func roundUpDiv[T constraints.Integer](a T, b T) T {
	return (a + b - 1) / b
}

// Superblock carries the fields this layer reads and writes. 64-bit
// block counts are kept joined; the codec splits them into the lo/hi
// halves on disk.
type Superblock struct {
	InodesCount     uint32
	BlocksCount     uint64
	RBlocksCount    uint64
	FreeBlocksCount uint64
	FreeInodesCount uint32
	FirstDataBlock  uint32
	LogBlockSize    uint32
	LogClusterSize  uint32
	BlocksPerGroup  uint32
	ClustersPerGroup uint32
	InodesPerGroup  uint32
	Mtime           uint32
	Wtime           uint32
	MntCount        uint16
	MaxMntCount     uint16
	State           uint16
	Errors          uint16
	MinorRevLevel   uint16
	Lastcheck       uint32
	Checkinterval   uint32
	CreatorOS       uint32
	RevLevel        uint32
	DefResuid       uint16
	DefResgid       uint16
	FirstIno        uint32
	InodeSize       uint16
	BlockGroupNr    uint16
	FeatureCompat   uint32
	FeatureIncompat uint32
	FeatureRoCompat uint32
	UUID            [16]byte
	VolumeName      [16]byte
	ReservedGdtBlocks uint16
	DescSize        uint16
	MkfsTime        uint32
	LogGroupsPerFlex uint8
}

// BlockSize returns the block size in bytes.
func (sb *Superblock) BlockSize() uint32 {
	return 1024 << sb.LogBlockSize
}

// GroupCount returns the number of block groups.
func (sb *Superblock) GroupCount() uint64 {
	return roundUpDiv(sb.BlocksCount-uint64(sb.FirstDataBlock), uint64(sb.BlocksPerGroup))
}

func (sb *Superblock) descSize() uint32 {
	if sb.FeatureIncompat&Incompat64Bit != 0 && sb.DescSize != 0 {
		return uint32(sb.DescSize)
	}
	return 32
}

// DecodeSuperblock parses the 1024-byte superblock record, checking
// the magic before anything else.
func DecodeSuperblock(data []byte) (*Superblock, error) {
	if len(data) < 1024 {
		return nil, EtShortRead
	}

	if binary.LittleEndian.Uint16(data[0x38:]) != SuperblockMagic {
		return nil, EtBadMagic
	}

	sb := &Superblock{
		InodesCount:      binary.LittleEndian.Uint32(data[0x00:]),
		FreeInodesCount:  binary.LittleEndian.Uint32(data[0x10:]),
		FirstDataBlock:   binary.LittleEndian.Uint32(data[0x14:]),
		LogBlockSize:     binary.LittleEndian.Uint32(data[0x18:]),
		LogClusterSize:   binary.LittleEndian.Uint32(data[0x1C:]),
		BlocksPerGroup:   binary.LittleEndian.Uint32(data[0x20:]),
		ClustersPerGroup: binary.LittleEndian.Uint32(data[0x24:]),
		InodesPerGroup:   binary.LittleEndian.Uint32(data[0x28:]),
		Mtime:            binary.LittleEndian.Uint32(data[0x2C:]),
		Wtime:            binary.LittleEndian.Uint32(data[0x30:]),
		MntCount:         binary.LittleEndian.Uint16(data[0x34:]),
		MaxMntCount:      binary.LittleEndian.Uint16(data[0x36:]),
		State:            binary.LittleEndian.Uint16(data[0x3A:]),
		Errors:           binary.LittleEndian.Uint16(data[0x3C:]),
		MinorRevLevel:    binary.LittleEndian.Uint16(data[0x3E:]),
		Lastcheck:        binary.LittleEndian.Uint32(data[0x40:]),
		Checkinterval:    binary.LittleEndian.Uint32(data[0x44:]),
		CreatorOS:        binary.LittleEndian.Uint32(data[0x48:]),
		RevLevel:         binary.LittleEndian.Uint32(data[0x4C:]),
		DefResuid:        binary.LittleEndian.Uint16(data[0x50:]),
		DefResgid:        binary.LittleEndian.Uint16(data[0x52:]),
		FirstIno:         binary.LittleEndian.Uint32(data[0x54:]),
		InodeSize:        binary.LittleEndian.Uint16(data[0x58:]),
		BlockGroupNr:     binary.LittleEndian.Uint16(data[0x5A:]),
		FeatureCompat:    binary.LittleEndian.Uint32(data[0x5C:]),
		FeatureIncompat:  binary.LittleEndian.Uint32(data[0x60:]),
		FeatureRoCompat:  binary.LittleEndian.Uint32(data[0x64:]),
		ReservedGdtBlocks: binary.LittleEndian.Uint16(data[0xCE:]),
		DescSize:         binary.LittleEndian.Uint16(data[0xFE:]),
		MkfsTime:         binary.LittleEndian.Uint32(data[0x108:]),
		LogGroupsPerFlex: data[0x174],
	}

	copy(sb.UUID[:], data[0x68:0x78])
	copy(sb.VolumeName[:], data[0x78:0x88])

	sb.BlocksCount = uint64(binary.LittleEndian.Uint32(data[0x04:]))
	sb.RBlocksCount = uint64(binary.LittleEndian.Uint32(data[0x08:]))
	sb.FreeBlocksCount = uint64(binary.LittleEndian.Uint32(data[0x0C:]))
	if sb.FeatureIncompat&Incompat64Bit != 0 {
		sb.BlocksCount |= uint64(binary.LittleEndian.Uint32(data[0x150:])) << 32
		sb.RBlocksCount |= uint64(binary.LittleEndian.Uint32(data[0x154:])) << 32
		sb.FreeBlocksCount |= uint64(binary.LittleEndian.Uint32(data[0x158:])) << 32
	}

	return sb, nil
}

// Encode renders the superblock into a fresh 1024-byte record.
func (sb *Superblock) Encode() []byte {
	data := make([]byte, 1024)

	binary.LittleEndian.PutUint32(data[0x00:], sb.InodesCount)
	binary.LittleEndian.PutUint32(data[0x04:], uint32(sb.BlocksCount))
	binary.LittleEndian.PutUint32(data[0x08:], uint32(sb.RBlocksCount))
	binary.LittleEndian.PutUint32(data[0x0C:], uint32(sb.FreeBlocksCount))
	binary.LittleEndian.PutUint32(data[0x10:], sb.FreeInodesCount)
	binary.LittleEndian.PutUint32(data[0x14:], sb.FirstDataBlock)
	binary.LittleEndian.PutUint32(data[0x18:], sb.LogBlockSize)
	binary.LittleEndian.PutUint32(data[0x1C:], sb.LogClusterSize)
	binary.LittleEndian.PutUint32(data[0x20:], sb.BlocksPerGroup)
	binary.LittleEndian.PutUint32(data[0x24:], sb.ClustersPerGroup)
	binary.LittleEndian.PutUint32(data[0x28:], sb.InodesPerGroup)
	binary.LittleEndian.PutUint32(data[0x2C:], sb.Mtime)
	binary.LittleEndian.PutUint32(data[0x30:], sb.Wtime)
	binary.LittleEndian.PutUint16(data[0x34:], sb.MntCount)
	binary.LittleEndian.PutUint16(data[0x36:], sb.MaxMntCount)
	binary.LittleEndian.PutUint16(data[0x38:], SuperblockMagic)
	binary.LittleEndian.PutUint16(data[0x3A:], sb.State)
	binary.LittleEndian.PutUint16(data[0x3C:], sb.Errors)
	binary.LittleEndian.PutUint16(data[0x3E:], sb.MinorRevLevel)
	binary.LittleEndian.PutUint32(data[0x40:], sb.Lastcheck)
	binary.LittleEndian.PutUint32(data[0x44:], sb.Checkinterval)
	binary.LittleEndian.PutUint32(data[0x48:], sb.CreatorOS)
	binary.LittleEndian.PutUint32(data[0x4C:], sb.RevLevel)
	binary.LittleEndian.PutUint16(data[0x50:], sb.DefResuid)
	binary.LittleEndian.PutUint16(data[0x52:], sb.DefResgid)
	binary.LittleEndian.PutUint32(data[0x54:], sb.FirstIno)
	binary.LittleEndian.PutUint16(data[0x58:], sb.InodeSize)
	binary.LittleEndian.PutUint16(data[0x5A:], sb.BlockGroupNr)
	binary.LittleEndian.PutUint32(data[0x5C:], sb.FeatureCompat)
	binary.LittleEndian.PutUint32(data[0x60:], sb.FeatureIncompat)
	binary.LittleEndian.PutUint32(data[0x64:], sb.FeatureRoCompat)
	copy(data[0x68:], sb.UUID[:])
	copy(data[0x78:], sb.VolumeName[:])
	binary.LittleEndian.PutUint16(data[0xCE:], sb.ReservedGdtBlocks)
	binary.LittleEndian.PutUint16(data[0xFE:], sb.DescSize)
	binary.LittleEndian.PutUint32(data[0x108:], sb.MkfsTime)
	binary.LittleEndian.PutUint32(data[0x150:], uint32(sb.BlocksCount>>32))
	binary.LittleEndian.PutUint32(data[0x154:], uint32(sb.RBlocksCount>>32))
	binary.LittleEndian.PutUint32(data[0x158:], uint32(sb.FreeBlocksCount>>32))
	data[0x174] = sb.LogGroupsPerFlex

	return data
}

// GroupDesc is one block group descriptor.
type GroupDesc struct {
	BlockBitmap     uint64
	InodeBitmap     uint64
	InodeTable      uint64
	FreeBlocksCount uint32
	FreeInodesCount uint32
	UsedDirsCount   uint32
	Flags           uint16
	ItableUnused    uint32
}

// DecodeGroupDesc parses one descriptor record. wide selects the
// 64-byte layout used with the 64bit feature.
func DecodeGroupDesc(data []byte, wide bool) GroupDesc {
	gd := GroupDesc{
		BlockBitmap:     uint64(binary.LittleEndian.Uint32(data[0x00:])),
		InodeBitmap:     uint64(binary.LittleEndian.Uint32(data[0x04:])),
		InodeTable:      uint64(binary.LittleEndian.Uint32(data[0x08:])),
		FreeBlocksCount: uint32(binary.LittleEndian.Uint16(data[0x0C:])),
		FreeInodesCount: uint32(binary.LittleEndian.Uint16(data[0x0E:])),
		UsedDirsCount:   uint32(binary.LittleEndian.Uint16(data[0x10:])),
		Flags:           binary.LittleEndian.Uint16(data[0x12:]),
		ItableUnused:    uint32(binary.LittleEndian.Uint16(data[0x1C:])),
	}

	if wide && len(data) >= 64 {
		gd.BlockBitmap |= uint64(binary.LittleEndian.Uint32(data[0x20:])) << 32
		gd.InodeBitmap |= uint64(binary.LittleEndian.Uint32(data[0x24:])) << 32
		gd.InodeTable |= uint64(binary.LittleEndian.Uint32(data[0x28:])) << 32
		gd.FreeBlocksCount |= uint32(binary.LittleEndian.Uint16(data[0x2C:])) << 16
		gd.FreeInodesCount |= uint32(binary.LittleEndian.Uint16(data[0x2E:])) << 16
		gd.UsedDirsCount |= uint32(binary.LittleEndian.Uint16(data[0x30:])) << 16
	}

	return gd
}

// EncodeInto renders the descriptor into data, which must already be
// sized to the descriptor width.
func (gd *GroupDesc) EncodeInto(data []byte, wide bool) {
	binary.LittleEndian.PutUint32(data[0x00:], uint32(gd.BlockBitmap))
	binary.LittleEndian.PutUint32(data[0x04:], uint32(gd.InodeBitmap))
	binary.LittleEndian.PutUint32(data[0x08:], uint32(gd.InodeTable))
	binary.LittleEndian.PutUint16(data[0x0C:], uint16(gd.FreeBlocksCount))
	binary.LittleEndian.PutUint16(data[0x0E:], uint16(gd.FreeInodesCount))
	binary.LittleEndian.PutUint16(data[0x10:], uint16(gd.UsedDirsCount))
	binary.LittleEndian.PutUint16(data[0x12:], gd.Flags)
	binary.LittleEndian.PutUint16(data[0x1C:], uint16(gd.ItableUnused))

	if wide && len(data) >= 64 {
		binary.LittleEndian.PutUint32(data[0x20:], uint32(gd.BlockBitmap>>32))
		binary.LittleEndian.PutUint32(data[0x24:], uint32(gd.InodeBitmap>>32))
		binary.LittleEndian.PutUint32(data[0x28:], uint32(gd.InodeTable>>32))
		binary.LittleEndian.PutUint16(data[0x2C:], uint16(gd.FreeBlocksCount>>16))
		binary.LittleEndian.PutUint16(data[0x2E:], uint16(gd.FreeInodesCount>>16))
		binary.LittleEndian.PutUint16(data[0x30:], uint16(gd.UsedDirsCount>>16))
	}
}

// RawInode is the decoded inode table record. Block carries the raw
// i_block area: either an inline extent tree or a symlink target.
type RawInode struct {
	Mode       uint16
	UID        uint16
	GID        uint16
	Size       uint64
	Atime      uint32
	Ctime      uint32
	Mtime      uint32
	Dtime      uint32
	LinksCount uint16
	Blocks     uint32
	Flags      uint32
	Block      [60]byte
	Generation uint32
}

// DecodeInode parses one inode table record.
func DecodeInode(data []byte) RawInode {
	ino := RawInode{
		Mode:       binary.LittleEndian.Uint16(data[0x00:]),
		UID:        binary.LittleEndian.Uint16(data[0x02:]),
		Atime:      binary.LittleEndian.Uint32(data[0x08:]),
		Ctime:      binary.LittleEndian.Uint32(data[0x0C:]),
		Mtime:      binary.LittleEndian.Uint32(data[0x10:]),
		Dtime:      binary.LittleEndian.Uint32(data[0x14:]),
		GID:        binary.LittleEndian.Uint16(data[0x18:]),
		LinksCount: binary.LittleEndian.Uint16(data[0x1A:]),
		Blocks:     binary.LittleEndian.Uint32(data[0x1C:]),
		Flags:      binary.LittleEndian.Uint32(data[0x20:]),
		Generation: binary.LittleEndian.Uint32(data[0x64:]),
	}

	copy(ino.Block[:], data[0x28:0x64])

	ino.Size = uint64(binary.LittleEndian.Uint32(data[0x04:]))
	if ino.Mode&sIfMask != SIfDir {
		ino.Size |= uint64(binary.LittleEndian.Uint32(data[0x6C:])) << 32
	}

	return ino
}

// EncodeInto renders the inode into data (at least 128 bytes; with
// 256-byte inodes the caller hands in the full record and the extra
// space past the core stays zero except i_extra_isize).
func (ino *RawInode) EncodeInto(data []byte) {
	binary.LittleEndian.PutUint16(data[0x00:], ino.Mode)
	binary.LittleEndian.PutUint16(data[0x02:], ino.UID)
	binary.LittleEndian.PutUint32(data[0x04:], uint32(ino.Size))
	binary.LittleEndian.PutUint32(data[0x08:], ino.Atime)
	binary.LittleEndian.PutUint32(data[0x0C:], ino.Ctime)
	binary.LittleEndian.PutUint32(data[0x10:], ino.Mtime)
	binary.LittleEndian.PutUint32(data[0x14:], ino.Dtime)
	binary.LittleEndian.PutUint16(data[0x18:], ino.GID)
	binary.LittleEndian.PutUint16(data[0x1A:], ino.LinksCount)
	binary.LittleEndian.PutUint32(data[0x1C:], ino.Blocks)
	binary.LittleEndian.PutUint32(data[0x20:], ino.Flags)
	copy(data[0x28:0x64], ino.Block[:])
	binary.LittleEndian.PutUint32(data[0x64:], ino.Generation)
	if ino.Mode&sIfMask != SIfDir {
		binary.LittleEndian.PutUint32(data[0x6C:], uint32(ino.Size>>32))
	}
	if len(data) >= 256 {
		binary.LittleEndian.PutUint16(data[0x80:], 32)
	}
}

// Extent is one mapping of logical file blocks to physical blocks.
type Extent struct {
	Logical  uint32
	Len      uint16
	Physical uint64
}

// decodeInlineExtents reads a depth-0 extent tree out of i_block.
func decodeInlineExtents(block []byte) ([]Extent, error) {
	if binary.LittleEndian.Uint16(block[0:]) != ExtentMagic {
		return nil, EtExtentHeaderBad
	}

	entries := binary.LittleEndian.Uint16(block[2:])
	depth := binary.LittleEndian.Uint16(block[6:])
	if depth != 0 {
		return nil, EtExtentNotSupported
	}
	if entries > inlineExtentSlots {
		return nil, EtExtentHeaderBad
	}

	extents := make([]Extent, 0, entries)
	for i := 0; i < int(entries); i++ {
		rec := block[12+i*12:]

		length := binary.LittleEndian.Uint16(rec[4:])
		if length == 0 || length > 32768 {
			return nil, EtExtentInvalidLength
		}

		extents = append(extents, Extent{
			Logical: binary.LittleEndian.Uint32(rec[0:]),
			Len:     length,
			Physical: uint64(binary.LittleEndian.Uint16(rec[6:]))<<32 |
				uint64(binary.LittleEndian.Uint32(rec[8:])),
		})
	}

	return extents, nil
}

// encodeInlineExtents writes a depth-0 extent tree into i_block.
func encodeInlineExtents(block []byte, extents []Extent) error {
	if len(extents) > inlineExtentSlots {
		return EtExtentNoSpace
	}

	binary.LittleEndian.PutUint16(block[0:], ExtentMagic)
	binary.LittleEndian.PutUint16(block[2:], uint16(len(extents)))
	binary.LittleEndian.PutUint16(block[4:], inlineExtentSlots)
	binary.LittleEndian.PutUint16(block[6:], 0)
	binary.LittleEndian.PutUint32(block[8:], 0)

	for i, ext := range extents {
		rec := block[12+i*12:]
		binary.LittleEndian.PutUint32(rec[0:], ext.Logical)
		binary.LittleEndian.PutUint16(rec[4:], ext.Len)
		binary.LittleEndian.PutUint16(rec[6:], uint16(ext.Physical>>32))
		binary.LittleEndian.PutUint32(rec[8:], uint32(ext.Physical))
	}

	return nil
}
