package ext

import (
	"errors"
	"testing"
)

func TestSuperblockRejectsBadMagic(t *testing.T) {
	if _, err := DecodeSuperblock(make([]byte, 1024)); !errors.Is(err, EtBadMagic) {
		t.Fatalf("expected EtBadMagic, got %v", err)
	}
}

func TestSuperblockRoundTrip(t *testing.T) {
	sb := testSuperblock()
	sb.BlocksCount = 0x1_0000_2000
	sb.FreeBlocksCount = 0x1_0000_0100
	sb.FirstIno = firstNonResInode
	sb.InodeSize = 256

	decoded, err := DecodeSuperblock(sb.Encode())
	if err != nil {
		t.Fatal(err)
	}

	if decoded.BlocksCount != sb.BlocksCount {
		t.Fatalf("64-bit block count lost: %d", decoded.BlocksCount)
	}
	if decoded.FreeBlocksCount != sb.FreeBlocksCount {
		t.Fatalf("64-bit free count lost: %d", decoded.FreeBlocksCount)
	}
	if decoded.FirstIno != firstNonResInode || decoded.InodeSize != 256 {
		t.Fatal("inode fields lost")
	}
	if decoded.BlockSize() != 1024 {
		t.Fatalf("unexpected block size %d", decoded.BlockSize())
	}
}

func TestGroupDescWideRoundTrip(t *testing.T) {
	gd := GroupDesc{
		BlockBitmap:     0x1_0000_0003,
		InodeBitmap:     4,
		InodeTable:      5,
		FreeBlocksCount: 0x1_2345,
		FreeInodesCount: 53,
		UsedDirsCount:   2,
	}

	buf := make([]byte, 64)
	gd.EncodeInto(buf, true)

	decoded := DecodeGroupDesc(buf, true)
	if decoded != gd {
		t.Fatalf("descriptor changed across encode/decode: %+v", decoded)
	}

	// Without the wide layout the high halves must be dropped.
	narrow := DecodeGroupDesc(buf, false)
	if narrow.BlockBitmap != 3 || narrow.FreeBlocksCount != 0x2345 {
		t.Fatalf("narrow decode read high halves: %+v", narrow)
	}
}

func TestInodeSizeHighIgnoredForDirectories(t *testing.T) {
	ino := RawInode{Mode: SIfRegular | 0644, Size: 0x1_0000_0000, LinksCount: 1}

	buf := make([]byte, 256)
	ino.EncodeInto(buf)

	if DecodeInode(buf).Size != ino.Size {
		t.Fatal("regular file lost high size bits")
	}

	dir := RawInode{Mode: SIfDir | 0755, Size: 1024, LinksCount: 2}
	dir.EncodeInto(buf[:])
	if got := DecodeInode(buf).Size; got != 1024 {
		t.Fatalf("directory size wrong: %d", got)
	}
}

func TestInlineExtents(t *testing.T) {
	extents := []Extent{
		{Logical: 0, Len: 2, Physical: 100},
		{Logical: 2, Len: 1, Physical: 0x1_0000_0040},
	}

	var block [60]byte
	if err := encodeInlineExtents(block[:], extents); err != nil {
		t.Fatal(err)
	}

	decoded, err := decodeInlineExtents(block[:])
	if err != nil {
		t.Fatal(err)
	}

	if len(decoded) != 2 || decoded[0] != extents[0] || decoded[1] != extents[1] {
		t.Fatalf("extents changed across encode/decode: %+v", decoded)
	}
}

func TestInlineExtentErrors(t *testing.T) {
	var block [60]byte

	if _, err := decodeInlineExtents(block[:]); !errors.Is(err, EtExtentHeaderBad) {
		t.Fatalf("expected EtExtentHeaderBad, got %v", err)
	}

	five := make([]Extent, 5)
	for i := range five {
		five[i] = Extent{Logical: uint32(i), Len: 1, Physical: uint64(100 + i)}
	}
	if err := encodeInlineExtents(block[:], five); !errors.Is(err, EtExtentNoSpace) {
		t.Fatalf("expected EtExtentNoSpace, got %v", err)
	}
}
