package ext

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/queer/flail/pkg/device"
)

// maxSymlinkDepth bounds path resolution before it reports a loop.
const maxSymlinkDepth = 32

func (s *Session) nowUnix() uint32 {
	if s.fixedTime {
		return s.sb.MkfsTime
	}
	return uint32(time.Now().Unix())
}

// Session owns one mounted filesystem image. All structural access
// goes through it; a single read/write lock serializes use of the
// underlying channel, the in-memory bitmaps and the group table.
type Session struct {
	mtx     sync.RWMutex
	channel *device.Channel
	name    string

	sb     *Superblock
	groups []GroupDesc

	blockBitmap *Bitmap
	inodeBitmap *Bitmap

	readOnly bool

	// fixedTime pins the superblock write time, for reproducible
	// image builds.
	fixedTime bool

	logger *slog.Logger
}

// Options configure Open and Create.
type Options struct {
	// Manager opens the backing store. Defaults to the file manager.
	Manager device.Manager

	// BlockSize overrides the block size probe on open. Zero means
	// take it from the superblock.
	BlockSize uint32

	ReadOnly bool

	Logger *slog.Logger
}

type Option func(*Options)

func WithManager(m device.Manager) Option { return func(o *Options) { o.Manager = m } }

func WithBlockSize(size uint32) Option { return func(o *Options) { o.BlockSize = size } }

func WithReadOnly() Option { return func(o *Options) { o.ReadOnly = true } }

func WithLogger(l *slog.Logger) Option { return func(o *Options) { o.Logger = l } }

func buildOptions(opts []Option) *Options {
	options := &Options{
		Manager: device.FileManager(),
		Logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Open mounts an existing image. The bitmaps are loaded eagerly and a
// missing lost+found is recreated on read-write sessions; that is a
// compatibility shim for hand-built images, not a filesystem check.
func Open(name string, opts ...Option) (*Session, error) {
	options := buildOptions(opts)

	flags := device.FlagReadWrite
	if options.ReadOnly {
		flags = 0
	}

	channel, err := options.Manager.Open(name, flags, SuperblockOffset)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	s := &Session{
		channel:  channel,
		name:     name,
		readOnly: options.ReadOnly,
		logger:   options.Logger,
	}

	if err := s.load(options.BlockSize); err != nil {
		channel.Close()
		return nil, err
	}

	if err := s.ReadBitmaps(); err != nil {
		channel.Close()
		return nil, err
	}

	if !s.readOnly {
		if _, err := s.Lookup("/", "lost+found"); errors.Is(err, EtFileNotFound) {
			s.logger.Debug("creating missing /lost+found")
			if err := s.Mkdir("/", "lost+found"); err != nil {
				channel.Close()
				return nil, err
			}
		}
	}

	s.logger.Debug("opened filesystem",
		"name", name,
		"blocks", s.sb.BlocksCount,
		"inodes", s.sb.InodesCount,
		"groups", len(s.groups))

	return s, nil
}

func (s *Session) load(blockSize uint32) error {
	raw := make([]byte, 1024)
	if _, err := s.channel.ReadAt(raw, SuperblockOffset); err != nil {
		return EtShortRead
	}

	sb, err := DecodeSuperblock(raw)
	if err != nil {
		return err
	}

	const supported = IncompatFiletype | IncompatExtents | Incompat64Bit | IncompatFlexBG
	if sb.FeatureIncompat&^uint32(supported) != 0 {
		return EtUnsupportedFeature
	}

	if blockSize != 0 && blockSize != sb.BlockSize() {
		return EtUnexpectedBlockSize
	}

	if err := s.channel.SetBlockSize(sb.BlockSize()); err != nil {
		return EtUnexpectedBlockSize
	}

	s.sb = sb
	return s.loadGroupDescs()
}

func (s *Session) loadGroupDescs() error {
	count := s.sb.GroupCount()
	descSize := s.sb.descSize()
	wide := s.sb.FeatureIncompat&Incompat64Bit != 0

	table := make([]byte, roundUpDiv(count*uint64(descSize), uint64(s.sb.BlockSize()))*uint64(s.sb.BlockSize()))
	start := int64(s.sb.FirstDataBlock+1) * int64(s.sb.BlockSize())
	if _, err := s.channel.ReadAt(table, start); err != nil {
		return EtGdescRead
	}

	s.groups = make([]GroupDesc, count)
	for i := uint64(0); i < count; i++ {
		s.groups[i] = DecodeGroupDesc(table[i*uint64(descSize):], wide)
	}

	return nil
}

// Superblock returns a copy of the in-memory superblock.
func (s *Session) Superblock() Superblock {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return *s.sb
}

// GroupDescs returns a copy of the group descriptor table.
func (s *Session) GroupDescs() []GroupDesc {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	out := make([]GroupDesc, len(s.groups))
	copy(out, s.groups)
	return out
}

// Stats reports channel traffic since the session opened.
func (s *Session) Stats() device.Stats {
	return s.channel.Stats()
}

func (s *Session) readBlock(n uint64) ([]byte, error) {
	if n >= s.sb.BlocksCount {
		return nil, EtBadBlockNumber
	}
	return s.channel.ReadBlocks(n, 1)
}

func (s *Session) writeBlock(n uint64, data []byte) error {
	if n >= s.sb.BlocksCount {
		return EtBadBlockNumber
	}
	if s.readOnly {
		return EtRoFilsys
	}
	return s.channel.WriteBlocks(n, data)
}

func (s *Session) inodeRecordOffset(num uint32) int64 {
	group := s.groupOfInode(num)
	index := uint64(num-1) % uint64(s.sb.InodesPerGroup)
	return int64(s.groups[group].InodeTable)*int64(s.sb.BlockSize()) +
		int64(index)*int64(s.sb.InodeSize)
}

func (s *Session) readInodeLocked(num uint32) (Inode, error) {
	if num == 0 || num > s.sb.InodesCount {
		return Inode{}, EtBadInodeNumber
	}

	record := make([]byte, s.sb.InodeSize)
	if _, err := s.channel.ReadAt(record, s.inodeRecordOffset(num)); err != nil {
		return Inode{}, EtInodeTableRead
	}

	return Inode{num: num, raw: DecodeInode(record)}, nil
}

func (s *Session) writeInodeLocked(ino Inode) error {
	if ino.num == 0 || ino.num > s.sb.InodesCount {
		return EtBadInodeNumber
	}
	if s.readOnly {
		return EtRoFilsys
	}

	// Preserve record bytes this layer does not model.
	record := make([]byte, s.sb.InodeSize)
	offset := s.inodeRecordOffset(ino.num)
	if _, err := s.channel.ReadAt(record, offset); err != nil {
		return EtInodeTableRead
	}

	ino.raw.EncodeInto(record)
	if _, err := s.channel.WriteAt(record, offset); err != nil {
		return EtInodeTableWrite
	}
	return nil
}

// RootInode reads the root directory inode.
func (s *Session) RootInode() (Inode, error) {
	return s.ReadInode(RootInode)
}

// ReadInode reads one inode table record.
func (s *Session) ReadInode(num uint32) (Inode, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.readInodeLocked(num)
}

// WriteInode writes one inode table record.
func (s *Session) WriteInode(ino Inode) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.writeInodeLocked(ino)
}

// dirPhysicalBlocks lists the data blocks of a directory inode, in
// logical order. Both extent-mapped and legacy direct-pointer layouts
// are understood; indirect pointers are not, which is fine for the
// directory sizes this layer creates.
func (s *Session) dirPhysicalBlocks(raw *RawInode) ([]uint64, error) {
	blockSize := uint64(s.sb.BlockSize())
	count := roundUpDiv(raw.Size, blockSize)

	blocks := make([]uint64, 0, count)

	if raw.Flags&InodeFlagExtents != 0 {
		for logical := uint64(0); logical < count; logical++ {
			physical, mapped, err := s.lookupFileBlock(raw, uint32(logical))
			if err != nil {
				return nil, err
			}
			if mapped {
				blocks = append(blocks, physical)
			}
		}
		return blocks, nil
	}

	if count > 12 {
		return nil, EtBadIndBlock
	}
	for logical := uint64(0); logical < count; logical++ {
		physical := uint64(binary.LittleEndian.Uint32(raw.Block[4*logical:]))
		if physical != 0 {
			blocks = append(blocks, physical)
		}
	}
	return blocks, nil
}

func (s *Session) iterateDirLocked(ino Inode, fn func(DirEntry) error) error {
	if !ino.IsDir() {
		return EtNoDirectory
	}

	blocks, err := s.dirPhysicalBlocks(&ino.raw)
	if err != nil {
		return err
	}

	for _, block := range blocks {
		data, err := s.readBlock(block)
		if err != nil {
			return err
		}

		entries, err := decodeDirEntries(data)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			if err := fn(entry); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
		}
	}

	return nil
}

func (s *Session) findEntryLocked(dir Inode, name string) (DirEntry, error) {
	if !dir.IsDir() {
		return DirEntry{}, EtNoDirectory
	}

	blocks, err := s.dirPhysicalBlocks(&dir.raw)
	if err != nil {
		return DirEntry{}, err
	}

	for _, block := range blocks {
		data, err := s.readBlock(block)
		if err != nil {
			return DirEntry{}, err
		}

		entry, ok, err := findDirEntry(data, name)
		if err != nil {
			return DirEntry{}, err
		}
		if ok {
			return entry, nil
		}
	}

	return DirEntry{}, EtFileNotFound
}

func (s *Session) readSymlinkTargetLocked(ino Inode) (string, error) {
	if target, ok := ino.inlineSymlinkTarget(); ok {
		return target, nil
	}

	physical, mapped, err := s.lookupFileBlock(&ino.raw, 0)
	if err != nil {
		return "", err
	}
	if !mapped {
		return "", EtSymlinkLoop
	}

	data, err := s.readBlock(physical)
	if err != nil {
		return "", err
	}
	if ino.raw.Size > uint64(len(data)) {
		return "", EtInodeCorrupted
	}
	return string(data[:ino.raw.Size]), nil
}

func splitPath(path string) []string {
	var components []string
	for _, part := range strings.Split(path, "/") {
		if part != "" && part != "." {
			components = append(components, part)
		}
	}
	return components
}

func parentAndBase(path string) (string, string) {
	components := splitPath(path)
	if len(components) == 0 {
		return "/", ""
	}
	return "/" + strings.Join(components[:len(components)-1], "/"), components[len(components)-1]
}

// resolveLocked walks an absolute path from the root. Intermediate
// symlinks are always followed; the terminal one only when follow is
// set.
func (s *Session) resolveLocked(path string, follow bool) (Inode, error) {
	current, err := s.readInodeLocked(RootInode)
	if err != nil {
		return Inode{}, err
	}

	queue := splitPath(path)
	depth := 0

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if !current.IsDir() {
			return Inode{}, ENOTDIR
		}

		entry, err := s.findEntryLocked(current, name)
		if err != nil {
			return Inode{}, err
		}

		child, err := s.readInodeLocked(entry.Inode)
		if err != nil {
			return Inode{}, err
		}

		if child.IsSymlink() && (follow || len(queue) > 0) {
			depth++
			if depth > maxSymlinkDepth {
				return Inode{}, EtSymlinkLoop
			}

			target, err := s.readSymlinkTargetLocked(child)
			if err != nil {
				return Inode{}, err
			}

			queue = append(splitPath(target), queue...)
			if strings.HasPrefix(target, "/") {
				current, err = s.readInodeLocked(RootInode)
				if err != nil {
					return Inode{}, err
				}
			}
			continue
		}

		current = child
	}

	return current, nil
}

// FindInode resolves an absolute path without dereferencing a
// terminal symlink.
func (s *Session) FindInode(path string) (Inode, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.resolveLocked(path, false)
}

// FindInodeFollow resolves an absolute path, following a terminal
// symlink as well.
func (s *Session) FindInodeFollow(path string) (Inode, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.resolveLocked(path, true)
}

// Lookup resolves a single name inside the directory at dir. A
// leading slash on the name is stripped rather than rejected.
func (s *Session) Lookup(dir string, name string) (Inode, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	dirInode, err := s.resolveLocked(dir, false)
	if err != nil {
		return Inode{}, err
	}

	name = strings.TrimPrefix(name, "/")

	entry, err := s.findEntryLocked(dirInode, name)
	if err != nil {
		return Inode{}, err
	}

	return s.readInodeLocked(entry.Inode)
}

// GetPathname rebuilds the absolute path of a directory inode by
// walking ".." links up to the root.
func (s *Session) GetPathname(num uint32) (string, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if num == RootInode {
		return "/", nil
	}

	ino, err := s.readInodeLocked(num)
	if err != nil {
		return "", err
	}
	if !ino.IsDir() {
		return "", ENOTDIR
	}

	var parts []string
	for depth := 0; num != RootInode; depth++ {
		if depth > maxSymlinkDepth {
			return "", ELOOP
		}

		parentEntry, err := s.findEntryLocked(ino, "..")
		if err != nil {
			return "", err
		}

		parent, err := s.readInodeLocked(parentEntry.Inode)
		if err != nil {
			return "", err
		}

		name := ""
		err = s.iterateDirLocked(parent, func(entry DirEntry) error {
			if entry.Inode == num && entry.Name != "." && entry.Name != ".." {
				name = entry.Name
				return io.EOF
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		if name == "" {
			return "", EtFileNotFound
		}

		parts = append([]string{name}, parts...)
		num = parent.num
		ino = parent
	}

	return "/" + strings.Join(parts, "/"), nil
}

// IterateDir walks the entries of the directory at path in order,
// calling fn for each. Returning io.EOF from fn stops the walk early
// without error.
func (s *Session) IterateDir(path string, fn func(DirEntry) error) error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	ino, err := s.resolveLocked(path, false)
	if err != nil {
		return err
	}

	return s.iterateDirLocked(ino, fn)
}

// expandDirLocked appends one empty directory block to dir.
func (s *Session) expandDirLocked(dir *Inode) error {
	blockSize := s.sb.BlockSize()
	logical := uint32(dir.raw.Size / uint64(blockSize))

	physical, err := s.mapFileBlock(dir.num, &dir.raw, logical)
	if err != nil {
		return EtExpandDirError
	}

	block := make([]byte, blockSize)
	writeDirEntry(block, 0, int(blockSize), 0, FtUnknown, "")
	if err := s.writeBlock(physical, block); err != nil {
		return err
	}

	dir.raw.Size += uint64(blockSize)
	return s.writeInodeLocked(*dir)
}

// addEntryLocked links name to target in dir, expanding the directory
// when every block is full.
func (s *Session) addEntryLocked(dir Inode, name string, target uint32, fileType uint8) error {
	blocks, err := s.dirPhysicalBlocks(&dir.raw)
	if err != nil {
		return err
	}

	for _, block := range blocks {
		data, err := s.readBlock(block)
		if err != nil {
			return err
		}

		err = addDirEntry(data, target, fileType, name)
		if errors.Is(err, EtDirNoSpace) {
			continue
		}
		if err != nil {
			return err
		}

		return s.writeBlock(block, data)
	}

	if err := s.expandDirLocked(&dir); err != nil {
		return err
	}
	return s.addEntryLocked(dir, name, target, fileType)
}

// removeEntryLocked unlinks name from dir and returns the inode the
// entry pointed at.
func (s *Session) removeEntryLocked(dir Inode, name string) (uint32, error) {
	blocks, err := s.dirPhysicalBlocks(&dir.raw)
	if err != nil {
		return 0, err
	}

	for _, block := range blocks {
		data, err := s.readBlock(block)
		if err != nil {
			return 0, err
		}

		ino, err := removeDirEntry(data, name)
		if errors.Is(err, ENOENT) {
			continue
		}
		if err != nil {
			return 0, err
		}

		if err := s.writeBlock(block, data); err != nil {
			return 0, err
		}
		return ino, nil
	}

	return 0, ENOENT
}

// Mkdir creates a directory called name under parent.
func (s *Session) Mkdir(parent string, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.readOnly {
		return EtRoFilsys
	}

	parentInode, err := s.resolveLocked(parent, true)
	if err != nil {
		return err
	}
	if !parentInode.IsDir() {
		return EtNoDirectory
	}

	if _, err := s.findEntryLocked(parentInode, name); err == nil {
		return EtDirExists
	}

	num, err := s.allocInode(parentInode.num, true)
	if err != nil {
		return err
	}

	block, err := s.allocBlock(s.findInodeGoal(num))
	if err != nil {
		s.freeInode(num, true)
		return err
	}

	blockSize := s.sb.BlockSize()
	if err := s.writeBlock(block, newDirBlock(blockSize, num, parentInode.num)); err != nil {
		return err
	}

	now := s.nowUnix()
	raw := RawInode{
		Mode:       SIfDir | 0755,
		Size:       uint64(blockSize),
		Atime:      now,
		Ctime:      now,
		Mtime:      now,
		LinksCount: 2,
		Blocks:     blockSize / 512,
		Flags:      InodeFlagExtents,
	}
	if err := encodeInlineExtents(raw.Block[:], []Extent{{Logical: 0, Len: 1, Physical: block}}); err != nil {
		return err
	}

	if err := s.writeInodeLocked(Inode{num: num, raw: raw}); err != nil {
		return err
	}

	if err := s.addEntryLocked(parentInode, name, num, FtDir); err != nil {
		return err
	}

	// The child's ".." adds a link to the parent.
	parentInode, err = s.readInodeLocked(parentInode.num)
	if err != nil {
		return err
	}
	parentInode.raw.LinksCount++
	if err := s.writeInodeLocked(parentInode); err != nil {
		return err
	}

	s.logger.Debug("created directory", "parent", parent, "name", name, "inode", num)

	return s.flushLocked()
}

// Link creates a new directory entry at newPath pointing at the inode
// behind oldPath and bumps its link count.
func (s *Session) Link(oldPath string, newPath string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.readOnly {
		return EtRoFilsys
	}

	target, err := s.resolveLocked(oldPath, false)
	if err != nil {
		return err
	}

	parentPath, name := parentAndBase(newPath)
	if err := validateName(name); err != nil {
		return err
	}

	parent, err := s.resolveLocked(parentPath, true)
	if err != nil {
		return err
	}

	if _, err := s.findEntryLocked(parent, name); err == nil {
		return EEXIST
	}

	if err := s.addEntryLocked(parent, name, target.num, target.fileType()); err != nil {
		return err
	}

	target.raw.LinksCount++
	if err := s.writeInodeLocked(target); err != nil {
		return err
	}

	return s.flushLocked()
}

// Unlink removes the directory entry at path. The target inode's link
// count is left as-is; Delete is the full removal path.
func (s *Session) Unlink(path string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.readOnly {
		return EtRoFilsys
	}

	parentPath, name := parentAndBase(path)
	if name == "" {
		return EINVAL
	}

	parent, err := s.resolveLocked(parentPath, true)
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return EtNoDirectory
	}

	if _, err := s.removeEntryLocked(parent, name); err != nil {
		return err
	}

	return s.flushLocked()
}

// Delete removes the entry at path and releases the inode: the link
// count drops, the deletion time is stamped, every data block is
// freed and the inode number returns to the bitmap.
func (s *Session) Delete(path string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.readOnly {
		return EtRoFilsys
	}

	parentPath, name := parentAndBase(path)
	if name == "" {
		return EINVAL
	}

	parent, err := s.resolveLocked(parentPath, true)
	if err != nil {
		return err
	}

	num, err := s.removeEntryLocked(parent, name)
	if err != nil {
		return err
	}

	ino, err := s.readInodeLocked(num)
	if err != nil {
		return err
	}

	// A directory's ".." held a link on the parent.
	if ino.IsDir() {
		parent, err = s.readInodeLocked(parent.num)
		if err != nil {
			return err
		}
		if parent.raw.LinksCount > 0 {
			parent.raw.LinksCount--
		}
		if err := s.writeInodeLocked(parent); err != nil {
			return err
		}
	}

	blocks, err := s.dirPhysicalBlocks(&ino.raw)
	if err == nil {
		for _, block := range blocks {
			if err := s.freeBlock(block); err != nil {
				return err
			}
		}
	}

	if ino.raw.LinksCount > 0 {
		ino.raw.LinksCount--
	}
	ino.raw.Dtime = s.nowUnix()
	ino.raw.Size = 0
	if err := s.writeInodeLocked(ino); err != nil {
		return err
	}

	if err := s.freeInode(num, ino.IsDir()); err != nil {
		return err
	}

	return s.flushLocked()
}

// truncateLocked shrinks a regular file to size, freeing whole blocks
// past the new end and trimming the extent tree to match. At least one
// block stays attached, matching what NewInode hands out.
func (s *Session) truncateLocked(raw *RawInode, size uint64) error {
	if raw.Flags&InodeFlagExtents == 0 {
		return EtInodeNotExtent
	}

	blockSize := uint64(s.sb.BlockSize())
	keep := uint32(roundUpDiv(size, blockSize))
	if keep == 0 {
		keep = 1
	}

	extents, err := decodeInlineExtents(raw.Block[:])
	if err != nil {
		return err
	}

	kept := extents[:0]
	for _, ext := range extents {
		if ext.Logical >= keep {
			for i := uint16(0); i < ext.Len; i++ {
				if err := s.freeBlock(ext.Physical + uint64(i)); err != nil {
					return err
				}
				raw.Blocks -= s.sb.BlockSize() / 512
			}
			continue
		}
		if ext.Logical+uint32(ext.Len) > keep {
			cut := ext.Logical + uint32(ext.Len) - keep
			for i := uint32(0); i < cut; i++ {
				if err := s.freeBlock(ext.Physical + uint64(ext.Len) - 1 - uint64(i)); err != nil {
					return err
				}
				raw.Blocks -= s.sb.BlockSize() / 512
			}
			ext.Len -= uint16(cut)
		}
		kept = append(kept, ext)
	}

	if err := encodeInlineExtents(raw.Block[:], kept); err != nil {
		return err
	}
	raw.Size = size
	return nil
}

// Symlink creates a symlink called name under parent pointing at
// target. When existing is non-zero that inode is linked instead of
// allocating a fresh one.
func (s *Session) Symlink(parent Inode, existing uint32, name string, target string) error {
	if err := validateName(name); err != nil {
		return err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.readOnly {
		return EtRoFilsys
	}

	num := existing
	if num == 0 {
		var err error
		num, err = s.allocInode(parent.num, false)
		if err != nil {
			return err
		}

		now := s.nowUnix()
		raw := RawInode{
			Mode:       SIfLink | 0777,
			Size:       uint64(len(target)),
			Atime:      now,
			Ctime:      now,
			Mtime:      now,
			LinksCount: 1,
		}

		if len(target) < len(raw.Block) {
			copy(raw.Block[:], target)
		} else {
			block, err := s.allocBlock(s.findInodeGoal(num))
			if err != nil {
				s.freeInode(num, false)
				return err
			}

			data := make([]byte, s.sb.BlockSize())
			copy(data, target)
			if err := s.writeBlock(block, data); err != nil {
				return err
			}

			raw.Flags = InodeFlagExtents
			raw.Blocks = s.sb.BlockSize() / 512
			if err := encodeInlineExtents(raw.Block[:], []Extent{{Logical: 0, Len: 1, Physical: block}}); err != nil {
				return err
			}
		}

		if err := s.writeInodeLocked(Inode{num: num, raw: raw}); err != nil {
			return err
		}
	}

	if err := s.addEntryLocked(parent, name, num, FtSymlink); err != nil {
		return err
	}

	return s.flushLocked()
}

// NewInode allocates a regular-file inode near dir with one data
// block already attached through a fresh extent tree. The bitmaps are
// only touched after every fallible step has succeeded.
func (s *Session) NewInode(dir uint32, mode uint16) (Inode, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.readOnly {
		return Inode{}, EtRoFilsys
	}

	num, err := s.allocInode(dir, false)
	if err != nil {
		return Inode{}, err
	}

	block, err := s.allocBlock(s.findInodeGoal(num))
	if err != nil {
		s.freeInode(num, false)
		return Inode{}, err
	}

	raw := RawInode{
		Mode:   mode | SIfRegular,
		Blocks: s.sb.BlockSize() / 512,
		Flags:  InodeFlagExtents,
	}
	if err := encodeInlineExtents(raw.Block[:], []Extent{{Logical: 0, Len: 1, Physical: block}}); err != nil {
		s.freeBlock(block)
		s.freeInode(num, false)
		return Inode{}, err
	}

	ino := Inode{num: num, raw: raw}
	if err := s.writeInodeLocked(ino); err != nil {
		s.freeBlock(block)
		s.freeInode(num, false)
		return Inode{}, err
	}

	s.logger.Debug("allocated inode", "inode", num, "block", block)

	if err := s.flushLocked(); err != nil {
		return Inode{}, err
	}
	return ino, nil
}

// NewBlock returns the next free block for the inode without marking
// it; callers allocate it by writing and updating the bitmaps.
func (s *Session) NewBlock(ino Inode) (uint64, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if s.blockBitmap == nil {
		return 0, EtNoBlockBitmap
	}

	block, ok := s.blockBitmap.FindFirstClear(s.blockGoal(ino.num, &ino.raw))
	if !ok {
		block, ok = s.blockBitmap.FindFirstClear(uint64(s.sb.FirstDataBlock))
	}
	if !ok {
		return 0, EtBlockAllocFail
	}
	return block, nil
}

// FindInodeGoal returns the preferred block allocation start for the
// inode.
func (s *Session) FindInodeGoal(ino Inode) uint64 {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.findInodeGoal(ino.num)
}

// NextFreeBlock scans the block bitmap from the first data block.
// Linear in device size, which is fine for the small images this
// layer targets.
func (s *Session) NextFreeBlock() (uint64, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if s.blockBitmap == nil {
		return 0, EtNoBlockBitmap
	}

	block, ok := s.blockBitmap.FindFirstClear(uint64(s.sb.FirstDataBlock))
	if !ok {
		return 0, ENOSPC
	}
	return block, nil
}

// InodeBitmap returns the in-memory inode bitmap.
func (s *Session) InodeBitmap() *Bitmap {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.inodeBitmap
}

// BlockBitmap returns the in-memory block bitmap.
func (s *Session) BlockBitmap() *Bitmap {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.blockBitmap
}

func (s *Session) groupBlockRange(group uint64) (uint64, uint64) {
	first := s.groupFirstBlock(group)
	count := uint64(s.sb.BlocksPerGroup)
	if first+count > s.sb.BlocksCount {
		count = s.sb.BlocksCount - first
	}
	return first, count
}

// ReadBitmaps loads the block and inode bitmaps from the image.
func (s *Session) ReadBitmaps() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	blockBitmap := NewBlockBitmap(s.sb)
	inodeBitmap := NewInodeBitmap(s.sb)

	for group := range s.groups {
		data, err := s.channel.ReadBlocks(s.groups[group].BlockBitmap, 1)
		if err != nil {
			return EtBlockBitmapRead
		}
		first, count := s.groupBlockRange(uint64(group))
		blockBitmap.LoadGroup(first, count, data)

		data, err = s.channel.ReadBlocks(s.groups[group].InodeBitmap, 1)
		if err != nil {
			return EtInodeBitmapRead
		}
		inodeBitmap.LoadGroup(uint64(group)*uint64(s.sb.InodesPerGroup)+1, uint64(s.sb.InodesPerGroup), data)
	}

	s.blockBitmap = blockBitmap
	s.inodeBitmap = inodeBitmap
	return nil
}

// WriteBitmaps stores the in-memory bitmaps back to the image. Bits
// past the covered range of each group pad with ones, matching what
// mkfs writes.
func (s *Session) WriteBitmaps() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.writeBitmapsLocked()
}

func (s *Session) writeBitmapsLocked() error {
	if s.blockBitmap == nil {
		return EtNoBlockBitmap
	}
	if s.inodeBitmap == nil {
		return EtNoInodeBitmap
	}
	if s.readOnly {
		return nil
	}

	blockSize := uint64(s.sb.BlockSize())

	for group := range s.groups {
		data := make([]byte, blockSize)
		first, count := s.groupBlockRange(uint64(group))
		s.blockBitmap.DumpGroup(first, count, data)
		padBits(data, count)
		if err := s.channel.WriteBlocks(s.groups[group].BlockBitmap, data); err != nil {
			return EtBlockBitmapWrite
		}

		data = make([]byte, blockSize)
		s.inodeBitmap.DumpGroup(uint64(group)*uint64(s.sb.InodesPerGroup)+1, uint64(s.sb.InodesPerGroup), data)
		padBits(data, uint64(s.sb.InodesPerGroup))
		if err := s.channel.WriteBlocks(s.groups[group].InodeBitmap, data); err != nil {
			return EtInodeBitmapWrite
		}
	}

	return nil
}

// padBits sets every bit from used to the end of the buffer.
func padBits(data []byte, used uint64) {
	for bit := used; bit < uint64(len(data))*8; bit++ {
		data[bit/8] |= 1 << (bit % 8)
	}
}

// sparseGroupHasSuper reports whether the group carries a superblock
// backup under the sparse_super policy.
func sparseGroupHasSuper(group uint64) bool {
	if group == 0 || group == 1 {
		return true
	}
	for _, base := range []uint64{3, 5, 7} {
		for n := base; ; n *= base {
			if n == group {
				return true
			}
			if n > group {
				break
			}
		}
	}
	return false
}

func (s *Session) writeSuperblockLocked() error {
	if !s.fixedTime {
		s.sb.Wtime = uint32(time.Now().Unix())
	}

	raw := s.sb.Encode()
	if _, err := s.channel.WriteAt(raw, SuperblockOffset); err != nil {
		return EtShortWrite
	}

	descSize := uint64(s.sb.descSize())
	wide := s.sb.FeatureIncompat&Incompat64Bit != 0
	blockSize := uint64(s.sb.BlockSize())

	table := make([]byte, roundUpDiv(uint64(len(s.groups))*descSize, blockSize)*blockSize)
	for i := range s.groups {
		s.groups[i].EncodeInto(table[uint64(i)*descSize:], wide)
	}

	writeCopy := func(sbBlock uint64) error {
		if sbBlock != uint64(s.sb.FirstDataBlock) {
			// Backup copies record their group number.
			group := s.groupOfBlock(sbBlock)
			backup := make([]byte, len(raw))
			copy(backup, raw)
			binary.LittleEndian.PutUint16(backup[0x5A:], uint16(group))
			if _, err := s.channel.WriteAt(backup, int64(sbBlock*blockSize)); err != nil {
				return EtShortWrite
			}
		}
		if _, err := s.channel.WriteAt(table, int64((sbBlock+1)*blockSize)); err != nil {
			return EtGdescWrite
		}
		return nil
	}

	if err := writeCopy(uint64(s.sb.FirstDataBlock)); err != nil {
		return err
	}
	for group := uint64(1); group < uint64(len(s.groups)); group++ {
		if !sparseGroupHasSuper(group) {
			continue
		}
		if err := writeCopy(s.groupFirstBlock(group)); err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) flushLocked() error {
	if s.readOnly {
		return nil
	}

	if err := s.writeSuperblockLocked(); err != nil {
		return err
	}
	return s.channel.Flush()
}

// Flush writes the superblock, its backups and the group descriptors,
// then syncs the channel.
func (s *Session) Flush() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.flushLocked()
}

// WriteToFile writes buf to path, creating the file when missing. A
// fresh inode is allocated when the path does not resolve; the
// resulting inode always ends with a link count of one. The write
// lock is re-acquired between steps, so concurrent mutations can
// interleave with the sequence.
func (s *Session) WriteToFile(path string, buf []byte) (int, error) {
	parentPath, name := parentAndBase(path)
	if err := validateName(name); err != nil {
		return 0, err
	}

	existing := true
	ino, err := s.FindInode(path)
	if err != nil {
		if !errors.Is(err, EtFileNotFound) {
			return 0, err
		}
		existing = false

		ino, err = s.NewInode(RootInode, 0644)
		if err != nil {
			return 0, err
		}
	} else if !ino.IsRegular() {
		return 0, EISDIR
	}

	file, err := s.OpenFile(ino.num, FileWrite|FileCreate)
	if err != nil {
		return 0, err
	}

	written, err := s.WriteFile(file, buf)
	if err != nil {
		return written, err
	}

	if err := s.CloseFile(file); err != nil {
		return written, err
	}

	ino, err = s.ReadInode(ino.num)
	if err != nil {
		return written, err
	}
	ino.raw.LinksCount = 1

	// A shorter rewrite must not leave the old tail readable.
	if existing && ino.raw.Size > uint64(len(buf)) {
		s.mtx.Lock()
		err = s.truncateLocked(&ino.raw, uint64(len(buf)))
		s.mtx.Unlock()
		if err != nil {
			return written, err
		}
	}

	if err := s.WriteInode(ino); err != nil {
		return written, err
	}

	if !existing {
		s.mtx.Lock()
		parent, err := s.resolveLocked(parentPath, true)
		if err == nil {
			err = s.addEntryLocked(parent, name, ino.num, FtRegular)
		}
		s.mtx.Unlock()
		if err != nil {
			return written, err
		}
	}

	if err := s.Flush(); err != nil {
		return written, err
	}
	return written, nil
}

// Close writes the bitmaps back and releases the channel. A bitmap
// write-back failure leaves a half-closed image with no way to
// recover, so it panics instead of returning.
func (s *Session) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := s.writeBitmapsLocked(); err != nil {
		panic(fmt.Sprintf("failed to write bitmaps on close: %v", err))
	}

	if !s.readOnly {
		if err := s.writeSuperblockLocked(); err != nil {
			return err
		}
	}

	return s.channel.Close()
}
