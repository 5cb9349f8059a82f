package device

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestChannelBlockRoundTrip(t *testing.T) {
	backend := NewMemory(16 * 1024)
	ch := NewChannel(backend, 1024, FlagReadWrite)

	data := bytes.Repeat([]byte{0xab}, 2048)

	if err := ch.WriteBlocks(4, data); err != nil {
		t.Fatal(err)
	}

	got, err := ch.ReadBlocks(4, 2)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(got, data) {
		t.Fatal("read back different data")
	}

	stats := ch.Stats()
	if stats.BytesWritten != 2048 || stats.BytesRead != 2048 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestChannelRejectsUnalignedWrite(t *testing.T) {
	ch := NewChannel(NewMemory(4096), 1024, FlagReadWrite)

	if err := ch.WriteBlocks(0, make([]byte, 100)); err == nil {
		t.Fatal("expected unaligned write to fail")
	}
}

func TestChannelSetBlockSize(t *testing.T) {
	ch := NewChannel(NewMemory(4096), 1024, FlagReadWrite)

	if err := ch.SetBlockSize(4096); err != nil {
		t.Fatal(err)
	}

	if err := ch.SetBlockSize(1000); err == nil {
		t.Fatal("expected non power of two block size to fail")
	}
}

func TestFileManagerRejectsMissing(t *testing.T) {
	_, err := FileManager().Open(filepath.Join(t.TempDir(), "missing.img"), 0, 1024)
	if err == nil {
		t.Fatal("expected open of missing image to fail")
	}
}

func TestMemoryManagerSharesImages(t *testing.T) {
	mm := NewMemoryManager()

	ch, err := mm.Open("test.img", FlagReadWrite, 1024)
	if err != nil {
		t.Fatal(err)
	}

	if err := ch.WriteBlocks(0, bytes.Repeat([]byte{1}, 1024)); err != nil {
		t.Fatal(err)
	}

	reopened, err := mm.Open("test.img", 0, 1024)
	if err != nil {
		t.Fatal(err)
	}

	got, err := reopened.ReadBlocks(0, 1)
	if err != nil {
		t.Fatal(err)
	}

	if got[0] != 1 {
		t.Fatal("reopened image does not share data")
	}
}

func TestFileBackendReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img")

	backend, err := CreateFile(path, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if err := backend.Close(); err != nil {
		t.Fatal(err)
	}

	ro, err := OpenFile(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()

	if _, err := ro.WriteAt([]byte{1}, 0); err == nil {
		t.Fatal("expected write to read-only backend to fail")
	}
}
