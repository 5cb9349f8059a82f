package ext

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/queer/flail/pkg/device"
)

const (
	mkfsBlockSize     = 1024
	mkfsBlocksPerGrp  = 8192
	mkfsInodeRatio    = 16384
	mkfsInodeSize     = 256
	mkfsMinSize       = 64 * 1024
	badBlocksInode    = 1
	lostAndFoundInode = 11
)

// CreateOptions extend Options for image creation.
type CreateOptions struct {
	Options

	// VolumeName labels the new filesystem. Truncated to 16 bytes.
	VolumeName string

	// UUID overrides the generated volume UUID, for reproducible
	// images.
	UUID *uuid.UUID

	// Timestamp overrides the mkfs and write times, for reproducible
	// images.
	Timestamp *time.Time
}

type CreateOption func(*CreateOptions)

func WithCreateOption(opt Option) CreateOption {
	return func(o *CreateOptions) { opt(&o.Options) }
}

func WithVolumeName(name string) CreateOption {
	return func(o *CreateOptions) { o.VolumeName = name }
}

func WithUUID(id uuid.UUID) CreateOption {
	return func(o *CreateOptions) { o.UUID = &id }
}

func WithTimestamp(ts time.Time) CreateOption {
	return func(o *CreateOptions) { o.Timestamp = &ts }
}

// layout carries the per-group geometry computed before any byte is
// written.
type layout struct {
	blocksCount    uint64
	groupCount     uint64
	inodesPerGroup uint32
	itableBlocks   uint64
	descBlocks     uint64
}

func computeLayout(size uint64) (*layout, error) {
	if size < mkfsMinSize {
		return nil, EINVAL
	}

	blocksCount := size / mkfsBlockSize
	groupCount := roundUpDiv(blocksCount-1, uint64(mkfsBlocksPerGrp))

	inodesCount := size / mkfsInodeRatio
	inodesPerGroup := roundUpDiv(inodesCount, groupCount)
	inodesPerGroup = roundUpDiv(inodesPerGroup, 8) * 8
	if inodesPerGroup < 16 {
		inodesPerGroup = 16
	}
	if inodesPerGroup > mkfsBlocksPerGrp {
		inodesPerGroup = mkfsBlocksPerGrp
	}

	return &layout{
		blocksCount:    blocksCount,
		groupCount:     groupCount,
		inodesPerGroup: uint32(inodesPerGroup),
		itableBlocks:   inodesPerGroup * mkfsInodeSize / mkfsBlockSize,
		descBlocks:     roundUpDiv(groupCount*64, mkfsBlockSize),
	}, nil
}

// Create formats a fresh image of size bytes and returns an open
// session on it. On any failure the half-built image is removed
// through the manager, so a failed create never leaves a truncated
// filesystem behind.
func Create(name string, size uint64, opts ...CreateOption) (*Session, error) {
	options := &CreateOptions{
		Options: Options{
			Manager: device.FileManager(),
		},
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	creator, ok := options.Manager.(device.Creator)
	if !ok {
		return nil, fmt.Errorf("manager %q cannot create images", options.Manager.Name())
	}

	lay, err := computeLayout(size)
	if err != nil {
		return nil, err
	}

	channel, err := creator.Create(name, int64(size), mkfsBlockSize)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate image: %w", err)
	}

	s, err := format(channel, name, lay, options)
	if err != nil {
		channel.Close()
		creator.Remove(name)
		return nil, err
	}

	return s, nil
}

func format(channel *device.Channel, name string, lay *layout, options *CreateOptions) (*Session, error) {
	now := uint32(time.Now().Unix())
	if options.Timestamp != nil {
		now = uint32(options.Timestamp.Unix())
	}

	sb := &Superblock{
		InodesCount:     lay.inodesPerGroup * uint32(lay.groupCount),
		BlocksCount:     lay.blocksCount,
		FirstDataBlock:  1,
		LogBlockSize:    0,
		LogClusterSize:  0,
		BlocksPerGroup:  mkfsBlocksPerGrp,
		ClustersPerGroup: mkfsBlocksPerGrp,
		InodesPerGroup:  lay.inodesPerGroup,
		Wtime:           now,
		MaxMntCount:     0xFFFF,
		State:           1,
		Errors:          1,
		RevLevel:        1,
		FirstIno:        firstNonResInode,
		InodeSize:       mkfsInodeSize,
		FeatureIncompat: IncompatFiletype | IncompatExtents | Incompat64Bit,
		FeatureRoCompat: RoCompatSparseSuper | RoCompatLargeFile | RoCompatHugeFile,
		DescSize:        64,
		MkfsTime:        now,
	}

	id := uuid.New()
	if options.UUID != nil {
		id = *options.UUID
	}
	copy(sb.UUID[:], id[:])
	copy(sb.VolumeName[:], options.VolumeName)

	s := &Session{
		channel:   channel,
		name:      name,
		sb:        sb,
		logger:    options.Logger,
		readOnly:  false,
		fixedTime: options.Timestamp != nil,
	}

	if err := channel.SetBlockSize(mkfsBlockSize); err != nil {
		return nil, err
	}

	s.blockBitmap = NewBlockBitmap(sb)
	s.inodeBitmap = NewInodeBitmap(sb)
	s.groups = make([]GroupDesc, lay.groupCount)

	freeBlocks := uint64(0)
	for group := uint64(0); group < lay.groupCount; group++ {
		first, count := s.groupBlockRange(group)

		// Superblock backup and descriptor table lead the group
		// where the sparse policy places them.
		meta := first
		if sparseGroupHasSuper(group) {
			meta += 1 + lay.descBlocks
		}

		s.groups[group] = GroupDesc{
			BlockBitmap: meta,
			InodeBitmap: meta + 1,
			InodeTable:  meta + 2,
		}

		dataStart := meta + 2 + lay.itableBlocks
		if dataStart > first+count {
			return nil, ENOSPC
		}

		for block := first; block < dataStart; block++ {
			if err := s.blockBitmap.Mark(block); err != nil {
				return nil, err
			}
		}

		groupFree := first + count - dataStart
		s.groups[group].FreeBlocksCount = uint32(groupFree)
		s.groups[group].FreeInodesCount = lay.inodesPerGroup
		freeBlocks += groupFree
	}

	sb.FreeBlocksCount = freeBlocks
	sb.FreeInodesCount = sb.InodesCount

	// Inodes below the first non-reserved number stay allocated but
	// unused; that includes the bad blocks inode.
	for num := uint32(badBlocksInode); num < firstNonResInode; num++ {
		if err := s.inodeBitmap.Mark(uint64(num)); err != nil {
			return nil, err
		}
		s.groups[0].FreeInodesCount--
		sb.FreeInodesCount--
	}

	if err := s.writeRootDir(now); err != nil {
		return nil, err
	}

	if err := s.writeBitmapsLocked(); err != nil {
		return nil, err
	}
	if err := s.flushLocked(); err != nil {
		return nil, err
	}

	if err := s.Mkdir("/", "lost+found"); err != nil {
		return nil, err
	}

	// mkdir defaults to 0755; lost+found is private to root.
	lf, err := s.ReadInode(lostAndFoundInode)
	if err != nil {
		return nil, err
	}
	lf.raw.Mode = SIfDir | 0700
	if err := s.WriteInode(lf); err != nil {
		return nil, err
	}

	if err := s.WriteBitmaps(); err != nil {
		return nil, err
	}
	if err := s.Flush(); err != nil {
		return nil, err
	}

	s.logger.Debug("formatted filesystem",
		"name", name,
		"blocks", sb.BlocksCount,
		"inodes", sb.InodesCount,
		"groups", lay.groupCount)

	return s, nil
}

// writeRootDir builds the root directory in place. The root's ".."
// points back at itself, so it starts with two links.
func (s *Session) writeRootDir(now uint32) error {
	block, err := s.allocBlock(uint64(s.sb.FirstDataBlock))
	if err != nil {
		return err
	}

	if err := s.writeBlock(block, newDirBlock(mkfsBlockSize, RootInode, RootInode)); err != nil {
		return err
	}

	raw := RawInode{
		Mode:       SIfDir | 0755,
		Size:       mkfsBlockSize,
		Atime:      now,
		Ctime:      now,
		Mtime:      now,
		LinksCount: 2,
		Blocks:     mkfsBlockSize / 512,
		Flags:      InodeFlagExtents,
	}
	if err := encodeInlineExtents(raw.Block[:], []Extent{{Logical: 0, Len: 1, Physical: block}}); err != nil {
		return err
	}

	// The reserved-inode loop already marked inode 2 and charged the
	// free counts for it; only the directory count moves here.
	s.groups[0].UsedDirsCount++

	return s.writeInodeLocked(Inode{num: RootInode, raw: raw})
}
