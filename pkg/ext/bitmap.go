package ext

// Bitmap is an in-memory allocation bitmap covering the whole
// filesystem, assembled from the per-group bitmap blocks. The magic
// tag records both what the bitmap tracks and whether it uses 64-bit
// addressing; mixing the two modes corrupts offsets silently, so the
// tag is checked instead of trusted.
type Bitmap struct {
	magic ExtCode
	start uint64
	end   uint64
	bits  []byte
}

func newBitmap(magic ExtCode, start uint64, end uint64) *Bitmap {
	return &Bitmap{
		magic: magic,
		start: start,
		end:   end,
		bits:  make([]byte, roundUpDiv(end-start+1, 8)),
	}
}

// NewBlockBitmap returns an empty block bitmap covering every block
// the superblock describes.
func NewBlockBitmap(sb *Superblock) *Bitmap {
	magic := EtMagicBlockBitmap
	if sb.FeatureIncompat&Incompat64Bit != 0 {
		magic = EtMagicBlockBitmap64
	}
	return newBitmap(magic, uint64(sb.FirstDataBlock), sb.BlocksCount-1)
}

// NewInodeBitmap returns an empty inode bitmap. Inode numbering
// starts at one.
func NewInodeBitmap(sb *Superblock) *Bitmap {
	magic := EtMagicInodeBitmap
	if sb.FeatureIncompat&Incompat64Bit != 0 {
		magic = EtMagicInodeBitmap64
	}
	return newBitmap(magic, 1, uint64(sb.InodesCount))
}

// Is64Bit reports whether the bitmap uses 64-bit addressing.
func (b *Bitmap) Is64Bit() bool {
	return b.magic == EtMagicBlockBitmap64 || b.magic == EtMagicInodeBitmap64
}

// Is32Bit is the complement of Is64Bit; exactly one of the two holds
// for any bitmap.
func (b *Bitmap) Is32Bit() bool {
	return !b.Is64Bit()
}

// IsBlockBitmap reports whether the bitmap tracks blocks.
func (b *Bitmap) IsBlockBitmap() bool {
	return b.magic == EtMagicBlockBitmap || b.magic == EtMagicBlockBitmap64
}

// Range returns the first and last addressable item.
func (b *Bitmap) Range() (uint64, uint64) {
	return b.start, b.end
}

func (b *Bitmap) rangeError(op int) error {
	marks := [3]ExtCode{EtBadBlockMark, EtBadBlockUnmark, EtBadBlockTest}
	if !b.IsBlockBitmap() {
		marks = [3]ExtCode{EtBadInodeMark, EtBadInodeUnmark, EtBadInodeTest}
	}
	return marks[op]
}

// Mark sets the bit for n.
func (b *Bitmap) Mark(n uint64) error {
	if n < b.start || n > b.end {
		return b.rangeError(0)
	}

	idx := n - b.start
	b.bits[idx/8] |= 1 << (idx % 8)
	return nil
}

// Unmark clears the bit for n.
func (b *Bitmap) Unmark(n uint64) error {
	if n < b.start || n > b.end {
		return b.rangeError(1)
	}

	idx := n - b.start
	b.bits[idx/8] &^= 1 << (idx % 8)
	return nil
}

// Test reports whether the bit for n is set.
func (b *Bitmap) Test(n uint64) (bool, error) {
	if n < b.start || n > b.end {
		return false, b.rangeError(2)
	}

	idx := n - b.start
	return b.bits[idx/8]&(1<<(idx%8)) != 0, nil
}

// FindFirstClear scans for the first clear bit at or after from.
func (b *Bitmap) FindFirstClear(from uint64) (uint64, bool) {
	if from < b.start {
		from = b.start
	}

	for n := from; n <= b.end; n++ {
		idx := n - b.start
		if b.bits[idx/8]&(1<<(idx%8)) == 0 {
			return n, true
		}
	}

	return 0, false
}

// LoadGroup overlays one on-disk per-group bitmap block. first is the
// number of the first item the group covers, count how many items the
// group holds.
func (b *Bitmap) LoadGroup(first uint64, count uint64, data []byte) {
	for i := uint64(0); i < count; i++ {
		n := first + i
		if n < b.start || n > b.end {
			break
		}
		if data[i/8]&(1<<(i%8)) != 0 {
			idx := n - b.start
			b.bits[idx/8] |= 1 << (idx % 8)
		}
	}
}

// DumpGroup renders one group's slice of the bitmap into an on-disk
// block. Bits past the covered range stay untouched in data.
func (b *Bitmap) DumpGroup(first uint64, count uint64, data []byte) {
	for i := uint64(0); i < count; i++ {
		n := first + i
		if n < b.start || n > b.end {
			break
		}

		idx := n - b.start
		if b.bits[idx/8]&(1<<(idx%8)) != 0 {
			data[i/8] |= 1 << (i % 8)
		} else {
			data[i/8] &^= 1 << (i % 8)
		}
	}
}
