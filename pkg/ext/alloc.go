package ext

// Allocation helpers. Callers must hold the session write lock; every
// helper keeps the bitmap, the group descriptor and the superblock
// counters in agreement.

func (s *Session) groupOfBlock(block uint64) uint64 {
	return (block - uint64(s.sb.FirstDataBlock)) / uint64(s.sb.BlocksPerGroup)
}

func (s *Session) groupOfInode(num uint32) uint64 {
	return uint64(num-1) / uint64(s.sb.InodesPerGroup)
}

func (s *Session) groupFirstBlock(group uint64) uint64 {
	return uint64(s.sb.FirstDataBlock) + group*uint64(s.sb.BlocksPerGroup)
}

// findInodeGoal returns the preferred allocation start for blocks
// belonging to the inode: the first block of its group.
func (s *Session) findInodeGoal(num uint32) uint64 {
	return s.groupFirstBlock(s.groupOfInode(num))
}

// allocBlock finds a free block scanning from goal, wrapping to the
// first data block, and marks it allocated.
func (s *Session) allocBlock(goal uint64) (uint64, error) {
	if s.blockBitmap == nil {
		return 0, EtNoBlockBitmap
	}

	if goal < uint64(s.sb.FirstDataBlock) || goal >= s.sb.BlocksCount {
		goal = uint64(s.sb.FirstDataBlock)
	}

	block, ok := s.blockBitmap.FindFirstClear(goal)
	if !ok {
		block, ok = s.blockBitmap.FindFirstClear(uint64(s.sb.FirstDataBlock))
	}
	if !ok {
		return 0, EtBlockAllocFail
	}

	if err := s.blockBitmap.Mark(block); err != nil {
		return 0, err
	}

	s.groups[s.groupOfBlock(block)].FreeBlocksCount--
	s.sb.FreeBlocksCount--

	return block, nil
}

// allocInode finds a free inode near the directory it will live in
// and marks it allocated. Reserved inodes are never handed out.
func (s *Session) allocInode(dir uint32, isDir bool) (uint32, error) {
	if s.inodeBitmap == nil {
		return 0, EtNoInodeBitmap
	}

	start := uint64(s.sb.FirstIno)
	if start < firstNonResInode {
		start = firstNonResInode
	}

	goal := s.groupOfInode(dir)*uint64(s.sb.InodesPerGroup) + 1
	if goal < start {
		goal = start
	}

	num, ok := s.inodeBitmap.FindFirstClear(goal)
	if !ok {
		num, ok = s.inodeBitmap.FindFirstClear(start)
	}
	if !ok {
		return 0, EtInodeAllocFail
	}

	if err := s.inodeBitmap.Mark(num); err != nil {
		return 0, err
	}

	group := s.groupOfInode(uint32(num))
	s.groups[group].FreeInodesCount--
	if isDir {
		s.groups[group].UsedDirsCount++
	}
	s.sb.FreeInodesCount--

	return uint32(num), nil
}

// freeBlock releases one block back to the bitmap.
func (s *Session) freeBlock(block uint64) error {
	set, err := s.blockBitmap.Test(block)
	if err != nil {
		return err
	}
	if !set {
		return nil
	}

	if err := s.blockBitmap.Unmark(block); err != nil {
		return err
	}

	s.groups[s.groupOfBlock(block)].FreeBlocksCount++
	s.sb.FreeBlocksCount++
	return nil
}

// freeInode releases one inode number back to the bitmap.
func (s *Session) freeInode(num uint32, wasDir bool) error {
	if err := s.inodeBitmap.Unmark(uint64(num)); err != nil {
		return err
	}

	group := s.groupOfInode(num)
	s.groups[group].FreeInodesCount++
	if wasDir && s.groups[group].UsedDirsCount > 0 {
		s.groups[group].UsedDirsCount--
	}
	s.sb.FreeInodesCount++
	return nil
}
