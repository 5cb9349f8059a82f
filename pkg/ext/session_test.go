package ext

import (
	"encoding/binary"
	"errors"
	"io"
	"sort"
	"testing"

	"github.com/queer/flail/pkg/device"
)

func createTestImage(t *testing.T, mm *device.MemoryManager, name string) *Session {
	t.Helper()

	s, err := Create(name, 4*1024*1024, WithCreateOption(WithManager(mm)))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateAndReopen(t *testing.T) {
	mm := device.NewMemoryManager()

	s := createTestImage(t, mm, "test.img")

	root, err := s.RootInode()
	if err != nil {
		t.Fatal(err)
	}
	if !root.IsDir() {
		t.Fatal("root is not a directory")
	}
	if root.LinksCount() != 3 {
		t.Fatalf("expected root links 3, got %d", root.LinksCount())
	}

	lf, err := s.Lookup("/", "lost+found")
	if err != nil {
		t.Fatal(err)
	}
	if lf.Num() != lostAndFoundInode {
		t.Fatalf("expected lost+found at inode %d, got %d", lostAndFoundInode, lf.Num())
	}
	if lf.Mode()&0777 != 0700 {
		t.Fatalf("expected lost+found mode 0700, got %o", lf.Mode()&0777)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open("test.img", WithManager(mm))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	sb := s.Superblock()
	if sb.BlocksCount != 4096 {
		t.Fatalf("expected 4096 blocks, got %d", sb.BlocksCount)
	}
	if sb.FeatureIncompat&Incompat64Bit == 0 {
		t.Fatal("64-bit feature not set")
	}

	if _, err := s.Lookup("/", "lost+found"); err != nil {
		t.Fatal(err)
	}
}

func TestMkdirAndIterate(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	if err := s.Mkdir("/", "foo"); err != nil {
		t.Fatal(err)
	}
	if err := s.Mkdir("/foo", "bar"); err != nil {
		t.Fatal(err)
	}

	if err := s.Mkdir("/", "foo"); !errors.Is(err, EtDirExists) {
		t.Fatalf("expected EtDirExists, got %v", err)
	}

	var names []string
	err := s.IterateDir("/", func(entry DirEntry) error {
		names = append(names, entry.Name)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	sort.Strings(names)
	want := []string{".", "..", "foo", "lost+found"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}

	bar, err := s.FindInode("/foo/bar")
	if err != nil {
		t.Fatal(err)
	}
	if !bar.IsDir() {
		t.Fatal("bar is not a directory")
	}

	path, err := s.GetPathname(bar.Num())
	if err != nil {
		t.Fatal(err)
	}
	if path != "/foo/bar" {
		t.Fatalf("expected /foo/bar, got %s", path)
	}

	foo, err := s.FindInode("/foo")
	if err != nil {
		t.Fatal(err)
	}
	if foo.LinksCount() != 3 {
		t.Fatalf("expected foo links 3, got %d", foo.LinksCount())
	}
}

func TestIterateDirEarlyStop(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	seen := 0
	err := s.IterateDir("/", func(entry DirEntry) error {
		seen++
		return io.EOF
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen != 1 {
		t.Fatalf("expected walk to stop after one entry, saw %d", seen)
	}
}

func TestWriteToFileRoundTrip(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")

	payload := []byte("hello flail!")
	n, err := s.WriteToFile("/hello.txt", payload)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) {
		t.Fatalf("expected %d bytes written, got %d", len(payload), n)
	}

	ino, err := s.FindInode("/hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !ino.IsRegular() {
		t.Fatal("expected a regular file")
	}
	if ino.LinksCount() != 1 {
		t.Fatalf("expected links 1, got %d", ino.LinksCount())
	}
	if ino.Size() != uint64(len(payload)) {
		t.Fatalf("expected size %d, got %d", len(payload), ino.Size())
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open("test.img", WithManager(mm))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ino, err = s.FindInode("/hello.txt")
	if err != nil {
		t.Fatal(err)
	}

	file, err := s.OpenFile(ino.Num(), 0)
	if err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 64)
	n, err = s.ReadFile(file, buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("expected %q, got %q", payload, buf[:n])
	}

	if err := s.CloseFile(file); err != nil {
		t.Fatal(err)
	}
}

func TestWriteToFileRewrite(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	if _, err := s.WriteToFile("/f", []byte("short")); err != nil {
		t.Fatal(err)
	}

	first, err := s.FindInode("/f")
	if err != nil {
		t.Fatal(err)
	}

	longer := []byte("a considerably longer payload")
	if _, err := s.WriteToFile("/f", longer); err != nil {
		t.Fatal(err)
	}

	second, err := s.FindInode("/f")
	if err != nil {
		t.Fatal(err)
	}
	if second.Num() != first.Num() {
		t.Fatalf("rewrite moved the file from inode %d to %d", first.Num(), second.Num())
	}
	if second.Size() != uint64(len(longer)) {
		t.Fatalf("expected size %d, got %d", len(longer), second.Size())
	}

	// Shrinking must drop the size and not leave the old tail behind.
	if _, err := s.WriteToFile("/f", []byte("tiny!")); err != nil {
		t.Fatal(err)
	}

	third, err := s.FindInode("/f")
	if err != nil {
		t.Fatal(err)
	}
	if third.Size() != 5 {
		t.Fatalf("expected size 5 after shrinking rewrite, got %d", third.Size())
	}

	file, err := s.OpenFile(third.Num(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s.CloseFile(file)

	buf := make([]byte, 64)
	n, err := s.ReadFile(file, buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "tiny!" {
		t.Fatalf("expected %q, got %q", "tiny!", buf[:n])
	}
}

func TestWriteToFileShrinkFreesBlocks(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	payload := make([]byte, 3*1024)
	if _, err := s.WriteToFile("/f", payload); err != nil {
		t.Fatal(err)
	}

	ino, err := s.FindInode("/f")
	if err != nil {
		t.Fatal(err)
	}
	extents, err := ino.Extents()
	if err != nil {
		t.Fatal(err)
	}
	var before []uint64
	for _, ext := range extents {
		for i := uint16(0); i < ext.Len; i++ {
			before = append(before, ext.Physical+uint64(i))
		}
	}
	if len(before) != 3 {
		t.Fatalf("expected 3 data blocks, got %d", len(before))
	}

	if _, err := s.WriteToFile("/f", payload[:1024]); err != nil {
		t.Fatal(err)
	}

	for _, block := range before[1:] {
		set, err := s.BlockBitmap().Test(block)
		if err != nil {
			t.Fatal(err)
		}
		if set {
			t.Fatalf("block %d still allocated after shrink", block)
		}
	}
	set, err := s.BlockBitmap().Test(before[0])
	if err != nil {
		t.Fatal(err)
	}
	if !set {
		t.Fatal("remaining data block was freed")
	}
}

func TestWriteToFileDirectory(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	if err := s.Mkdir("/", "dir"); err != nil {
		t.Fatal(err)
	}

	_, err := s.WriteToFile("/dir", []byte("data"))
	if !errors.Is(err, EISDIR) {
		t.Fatalf("expected EISDIR, got %v", err)
	}

	ino, err := s.FindInode("/dir")
	if err != nil {
		t.Fatal(err)
	}
	if !ino.IsDir() {
		t.Fatal("directory inode was clobbered")
	}
}

func TestWriteLargeFile(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	payload := make([]byte, 5000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	if _, err := s.WriteToFile("/big", payload); err != nil {
		t.Fatal(err)
	}

	ino, err := s.FindInode("/big")
	if err != nil {
		t.Fatal(err)
	}
	if ino.Size() != 5000 {
		t.Fatalf("expected size 5000, got %d", ino.Size())
	}

	file, err := s.OpenFile(ino.Num(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s.CloseFile(file)

	out := make([]byte, 5000)
	total := 0
	for total < len(out) {
		n, err := s.ReadFile(file, out[total:])
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	if total != 5000 {
		t.Fatalf("expected 5000 bytes read, got %d", total)
	}
	for i := range out {
		if out[i] != byte(i%251) {
			t.Fatalf("content mismatch at offset %d", i)
		}
	}
}

func TestUnlinkLeavesInode(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	if _, err := s.WriteToFile("/a", []byte("x")); err != nil {
		t.Fatal(err)
	}

	ino, err := s.FindInode("/a")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Unlink("/a"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.FindInode("/a"); !errors.Is(err, EtFileNotFound) {
		t.Fatalf("expected EtFileNotFound, got %v", err)
	}

	// The inode itself is untouched.
	orphan, err := s.ReadInode(ino.Num())
	if err != nil {
		t.Fatal(err)
	}
	if orphan.LinksCount() != 1 {
		t.Fatalf("expected links 1 after unlink, got %d", orphan.LinksCount())
	}
	if ok, err := s.InodeBitmap().Test(uint64(ino.Num())); err != nil || !ok {
		t.Fatalf("expected inode %d still allocated, got %v %v", ino.Num(), ok, err)
	}
}

func TestDeleteReleasesInode(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	if _, err := s.WriteToFile("/b", []byte("x")); err != nil {
		t.Fatal(err)
	}

	ino, err := s.FindInode("/b")
	if err != nil {
		t.Fatal(err)
	}

	blocks, err := s.dirPhysicalBlocks(&ino.raw)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Delete("/b"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.FindInode("/b"); !errors.Is(err, EtFileNotFound) {
		t.Fatalf("expected EtFileNotFound, got %v", err)
	}

	if ok, _ := s.InodeBitmap().Test(uint64(ino.Num())); ok {
		t.Fatalf("expected inode %d free after delete", ino.Num())
	}
	for _, block := range blocks {
		if ok, _ := s.BlockBitmap().Test(block); ok {
			t.Fatalf("expected block %d free after delete", block)
		}
	}

	released, err := s.ReadInode(ino.Num())
	if err != nil {
		t.Fatal(err)
	}
	if released.Dtime().IsZero() || released.Dtime().Unix() == 0 {
		t.Fatal("expected deletion time to be stamped")
	}
}

func TestDeleteDirDropsParentLink(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	root, err := s.RootInode()
	if err != nil {
		t.Fatal(err)
	}
	if root.LinksCount() != 3 {
		t.Fatalf("expected root links 3 on a fresh image, got %d", root.LinksCount())
	}

	if err := s.Mkdir("/", "sub"); err != nil {
		t.Fatal(err)
	}
	root, err = s.RootInode()
	if err != nil {
		t.Fatal(err)
	}
	if root.LinksCount() != 4 {
		t.Fatalf("expected root links 4 after mkdir, got %d", root.LinksCount())
	}

	if err := s.Delete("/sub"); err != nil {
		t.Fatal(err)
	}
	root, err = s.RootInode()
	if err != nil {
		t.Fatal(err)
	}
	if root.LinksCount() != 3 {
		t.Fatalf("expected root links 3 after delete, got %d", root.LinksCount())
	}

	// Deleting a regular file leaves the parent alone.
	if _, err := s.WriteToFile("/plain", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("/plain"); err != nil {
		t.Fatal(err)
	}
	root, err = s.RootInode()
	if err != nil {
		t.Fatal(err)
	}
	if root.LinksCount() != 3 {
		t.Fatalf("expected root links 3 after file delete, got %d", root.LinksCount())
	}
}

func TestLinkBumpsCount(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	if _, err := s.WriteToFile("/orig", []byte("x")); err != nil {
		t.Fatal(err)
	}

	if err := s.Link("/orig", "/alias"); err != nil {
		t.Fatal(err)
	}

	orig, err := s.FindInode("/orig")
	if err != nil {
		t.Fatal(err)
	}
	alias, err := s.FindInode("/alias")
	if err != nil {
		t.Fatal(err)
	}

	if orig.Num() != alias.Num() {
		t.Fatalf("expected hard link to share inode, got %d and %d", orig.Num(), alias.Num())
	}
	if orig.LinksCount() != 2 {
		t.Fatalf("expected links 2, got %d", orig.LinksCount())
	}
}

func TestSymlinkAndFollow(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	if _, err := s.WriteToFile("/target", []byte("x")); err != nil {
		t.Fatal(err)
	}

	root, err := s.RootInode()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Symlink(root, 0, "link", "/target"); err != nil {
		t.Fatal(err)
	}

	link, err := s.FindInode("/link")
	if err != nil {
		t.Fatal(err)
	}
	if !link.IsSymlink() {
		t.Fatal("expected a symlink")
	}
	if link.Size() != uint64(len("/target")) {
		t.Fatalf("expected symlink size %d, got %d", len("/target"), link.Size())
	}

	followed, err := s.FindInodeFollow("/link")
	if err != nil {
		t.Fatal(err)
	}
	if !followed.IsRegular() {
		t.Fatal("expected follow to land on the regular file")
	}

	target, err := s.FindInode("/target")
	if err != nil {
		t.Fatal(err)
	}
	if followed.Num() != target.Num() {
		t.Fatalf("expected inode %d, got %d", target.Num(), followed.Num())
	}
}

func TestSymlinkLoop(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	root, err := s.RootInode()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Symlink(root, 0, "a", "/b"); err != nil {
		t.Fatal(err)
	}
	if err := s.Symlink(root, 0, "b", "/a"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.FindInodeFollow("/a"); !errors.Is(err, EtSymlinkLoop) {
		t.Fatalf("expected EtSymlinkLoop, got %v", err)
	}
}

func TestLookupStripsLeadingSlash(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	ino, err := s.Lookup("/", "/lost+found")
	if err != nil {
		t.Fatal(err)
	}
	if ino.Num() != lostAndFoundInode {
		t.Fatalf("expected inode %d, got %d", lostAndFoundInode, ino.Num())
	}
}

func TestLostFoundSelfHeal(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")

	if err := s.Delete("/lost+found"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err := Open("test.img", WithManager(mm))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Lookup("/", "lost+found"); err != nil {
		t.Fatal(err)
	}

	// Heal ends with the same link count as a fresh image.
	root, err := s.RootInode()
	if err != nil {
		t.Fatal(err)
	}
	if root.LinksCount() != 3 {
		t.Fatalf("expected root links 3 after heal, got %d", root.LinksCount())
	}
}

func TestNewInodeAllocatesDistinctBlocks(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	a, err := s.NewInode(RootInode, 0644)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.NewInode(RootInode, 0644)
	if err != nil {
		t.Fatal(err)
	}

	if a.Num() == b.Num() {
		t.Fatalf("expected distinct inodes, both are %d", a.Num())
	}

	extA, err := a.Extents()
	if err != nil {
		t.Fatal(err)
	}
	extB, err := b.Extents()
	if err != nil {
		t.Fatal(err)
	}
	if len(extA) != 1 || len(extB) != 1 {
		t.Fatalf("expected one extent each, got %d and %d", len(extA), len(extB))
	}
	if extA[0].Physical == extB[0].Physical {
		t.Fatalf("expected distinct data blocks, both are %d", extA[0].Physical)
	}
}

func TestNextFreeBlock(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	block, err := s.NextFreeBlock()
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.BlockBitmap().Test(block); ok {
		t.Fatalf("expected block %d to be free", block)
	}

	// Scanning does not allocate.
	again, err := s.NextFreeBlock()
	if err != nil {
		t.Fatal(err)
	}
	if again != block {
		t.Fatalf("expected %d again, got %d", block, again)
	}
}

func TestReadLegacyDirectPointerFile(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	payload := []byte("written before extents existed")
	if _, err := s.WriteToFile("/old", payload); err != nil {
		t.Fatal(err)
	}

	ino, err := s.FindInode("/old")
	if err != nil {
		t.Fatal(err)
	}
	extents, err := ino.Extents()
	if err != nil {
		t.Fatal(err)
	}

	// Rewrite the inode in the ext2 direct-pointer layout over the
	// same data block.
	ino.raw.Flags = 0
	ino.raw.Block = [60]byte{}
	binary.LittleEndian.PutUint32(ino.raw.Block[0:], uint32(extents[0].Physical))
	if err := s.WriteInode(ino); err != nil {
		t.Fatal(err)
	}

	file, err := s.OpenFile(ino.Num(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s.CloseFile(file)

	buf := make([]byte, 64)
	n, err := s.ReadFile(file, buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("expected %q, got %q", payload, buf[:n])
	}
}

func TestOpenFileRequiresAllocatedInode(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	free, ok := s.InodeBitmap().FindFirstClear(1)
	if !ok {
		t.Fatal("no free inode on a fresh image")
	}

	if _, err := s.OpenFile(uint32(free), 0); !errors.Is(err, ENOENT) {
		t.Fatalf("expected ENOENT, got %v", err)
	}

	file, err := s.OpenFile(uint32(free), FileWrite|FileCreate)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CloseFile(file); err != nil {
		t.Fatal(err)
	}
}

func TestNewBlockFollowsLastExtent(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	ino, err := s.NewInode(RootInode, 0644)
	if err != nil {
		t.Fatal(err)
	}

	extents, err := ino.Extents()
	if err != nil {
		t.Fatal(err)
	}
	last := extents[len(extents)-1]
	want := last.Physical + uint64(last.Len)

	got, err := s.NewBlock(ino)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("expected block %d right after the last extent, got %d", want, got)
	}
}

func TestFileDoubleClose(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	defer s.Close()

	if _, err := s.WriteToFile("/f", []byte("x")); err != nil {
		t.Fatal(err)
	}
	ino, err := s.FindInode("/f")
	if err != nil {
		t.Fatal(err)
	}

	file, err := s.OpenFile(ino.Num(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CloseFile(file); err != nil {
		t.Fatal(err)
	}
	if err := s.CloseFile(file); err == nil {
		t.Fatal("expected an error on double close")
	}
}

func TestReadOnlySession(t *testing.T) {
	mm := device.NewMemoryManager()
	s := createTestImage(t, mm, "test.img")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err := Open("test.img", WithManager(mm), WithReadOnly())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Mkdir("/", "nope"); !errors.Is(err, EtRoFilsys) {
		t.Fatalf("expected EtRoFilsys, got %v", err)
	}
	if _, err := s.WriteToFile("/nope", []byte("x")); err == nil {
		t.Fatal("expected write to fail on a read-only session")
	}
}

func TestFileBackedImage(t *testing.T) {
	image := t.TempDir() + "/disk.img"

	s, err := Create(image, 4*1024*1024)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.WriteToFile("/persist.txt", []byte("survives reopen")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(image)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ino, err := s.FindInode("/persist.txt")
	if err != nil {
		t.Fatal(err)
	}

	file, err := s.OpenFile(ino.Num(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s.CloseFile(file)

	buf := make([]byte, 64)
	n, err := s.ReadFile(file, buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "survives reopen" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestCreateTooSmall(t *testing.T) {
	mm := device.NewMemoryManager()

	if _, err := Create("tiny.img", 1024, WithCreateOption(WithManager(mm))); err == nil {
		t.Fatal("expected create to reject a tiny image")
	}
}
