package ext

import (
	"errors"
	"testing"
)

func testSuperblock() *Superblock {
	return &Superblock{
		InodesCount:     64,
		BlocksCount:     1024,
		FirstDataBlock:  1,
		LogBlockSize:    0,
		BlocksPerGroup:  8192,
		InodesPerGroup:  64,
		FeatureIncompat: IncompatFiletype | IncompatExtents | Incompat64Bit,
		DescSize:        64,
	}
}

func TestBitmapMarkTestUnmark(t *testing.T) {
	bm := NewBlockBitmap(testSuperblock())

	if err := bm.Mark(10); err != nil {
		t.Fatal(err)
	}

	set, err := bm.Test(10)
	if err != nil {
		t.Fatal(err)
	}
	if !set {
		t.Fatal("bit 10 should be set")
	}

	if err := bm.Unmark(10); err != nil {
		t.Fatal(err)
	}

	set, err = bm.Test(10)
	if err != nil {
		t.Fatal(err)
	}
	if set {
		t.Fatal("bit 10 should be clear")
	}
}

func TestBitmapRangeErrors(t *testing.T) {
	blocks := NewBlockBitmap(testSuperblock())

	if err := blocks.Mark(0); !errors.Is(err, EtBadBlockMark) {
		t.Fatalf("expected EtBadBlockMark, got %v", err)
	}
	if err := blocks.Unmark(99999); !errors.Is(err, EtBadBlockUnmark) {
		t.Fatalf("expected EtBadBlockUnmark, got %v", err)
	}
	if _, err := blocks.Test(99999); !errors.Is(err, EtBadBlockTest) {
		t.Fatalf("expected EtBadBlockTest, got %v", err)
	}

	inodes := NewInodeBitmap(testSuperblock())

	if err := inodes.Mark(0); !errors.Is(err, EtBadInodeMark) {
		t.Fatalf("expected EtBadInodeMark, got %v", err)
	}
}

func TestBitmapAddressingMode(t *testing.T) {
	sb := testSuperblock()

	wide := NewBlockBitmap(sb)
	if !wide.Is64Bit() {
		t.Fatal("64bit filesystem must produce a 64-bit bitmap")
	}
	if wide.Is32Bit() {
		t.Fatal("addressing modes must be mutually exclusive")
	}

	sb.FeatureIncompat &^= Incompat64Bit
	narrow := NewBlockBitmap(sb)
	if narrow.Is64Bit() {
		t.Fatal("legacy filesystem must produce a 32-bit bitmap")
	}
	if !narrow.Is32Bit() {
		t.Fatal("addressing modes must be jointly exhaustive")
	}

	if !NewBlockBitmap(sb).IsBlockBitmap() {
		t.Fatal("block bitmap misreported")
	}
	if NewInodeBitmap(sb).IsBlockBitmap() {
		t.Fatal("inode bitmap misreported")
	}
}

func TestBitmapGroupRoundTrip(t *testing.T) {
	bm := NewInodeBitmap(testSuperblock())

	for _, n := range []uint64{1, 2, 11, 40} {
		if err := bm.Mark(n); err != nil {
			t.Fatal(err)
		}
	}

	disk := make([]byte, 8)
	bm.DumpGroup(1, 64, disk)

	reloaded := NewInodeBitmap(testSuperblock())
	reloaded.LoadGroup(1, 64, disk)

	for n := uint64(1); n <= 64; n++ {
		want, err := bm.Test(n)
		if err != nil {
			t.Fatal(err)
		}
		got, err := reloaded.Test(n)
		if err != nil {
			t.Fatal(err)
		}
		if want != got {
			t.Fatalf("bit %d changed across dump/load", n)
		}
	}
}

func TestBitmapFindFirstClear(t *testing.T) {
	bm := NewInodeBitmap(testSuperblock())

	for n := uint64(1); n <= 10; n++ {
		if err := bm.Mark(n); err != nil {
			t.Fatal(err)
		}
	}

	n, ok := bm.FindFirstClear(1)
	if !ok || n != 11 {
		t.Fatalf("expected first clear bit 11, got %d", n)
	}

	for n := uint64(1); n <= 64; n++ {
		if err := bm.Mark(n); err != nil {
			t.Fatal(err)
		}
	}

	if _, ok := bm.FindFirstClear(1); ok {
		t.Fatal("full bitmap must report no clear bit")
	}
}
