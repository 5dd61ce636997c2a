package fuse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestSymlinkAndReadlink(t *testing.T) {
	fs, _ := setupTestFilesystem(t)
	ctx := context.Background()

	if err := fs.Symlink(ctx, "target/file.txt", "/link"); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	attr, err := fs.GetAttr(ctx, "/link")
	if err != nil {
		t.Fatalf("Failed to get symlink attributes: %v", err)
	}
	if attr.Mode&os.ModeSymlink == 0 {
		t.Errorf("Expected symlink mode, got %v", attr.Mode)
	}

	target, err := fs.Readlink(ctx, "/link")
	if err != nil {
		t.Fatalf("Failed to read symlink: %v", err)
	}
	if target != "target/file.txt" {
		t.Errorf("Expected target %q, got %q", "target/file.txt", target)
	}
}

func TestReadlinkNotFound(t *testing.T) {
	fs, _ := setupTestFilesystem(t)
	if _, err := fs.Readlink(context.Background(), "/missing"); err != unix.ENOENT {
		t.Errorf("Expected ENOENT, got %v", err)
	}
}

func TestLinkSharesInode(t *testing.T) {
	fs, root := setupTestFilesystem(t)
	ctx := context.Background()
	os.WriteFile(filepath.Join(root, "a"), []byte("x"), 0644)

	if err := fs.Link(ctx, "/a", "/b"); err != nil {
		t.Fatalf("Failed to link: %v", err)
	}
	a, _ := fs.GetAttr(ctx, "/a")
	b, _ := fs.GetAttr(ctx, "/b")
	if a.Ino != b.Ino || b.Nlink != 2 {
		t.Errorf("Expected shared inode with 2 links, got %d/%d nlink=%d", a.Ino, b.Ino, b.Nlink)
	}
}

func TestMknodFifo(t *testing.T) {
	fs, _ := setupTestFilesystem(t)
	ctx := context.Background()

	if err := fs.Mknod(ctx, "/pipe", os.ModeNamedPipe|0600, 0); err != nil {
		t.Fatalf("Mknod failed: %v", err)
	}
	attr, err := fs.GetAttr(ctx, "/pipe")
	if err != nil {
		t.Fatal(err)
	}
	if attr.Mode&os.ModeNamedPipe == 0 {
		t.Errorf("Expected named pipe, got %v", attr.Mode)
	}
}

func TestStatfs(t *testing.T) {
	fs, _ := setupTestFilesystem(t)

	st, err := fs.Statfs(context.Background(), "/")
	if err != nil {
		t.Fatalf("Statfs failed: %v", err)
	}
	if st.Bsize == 0 || st.Namelen == 0 {
		t.Errorf("Unexpected statfs %+v", st)
	}
}

func TestFlushFsyncRelease(t *testing.T) {
	fs, _ := setupTestFilesystem(t)
	ctx := context.Background()

	fh, err := fs.Create(ctx, "/f", unix.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	fs.Write(ctx, "/f", fh, []byte("data"), 0)

	if err := fs.Flush(ctx, "/f", fh); err != nil {
		t.Errorf("Flush failed: %v", err)
	}
	if err := fs.Fsync(ctx, "/f", fh, false); err != nil {
		t.Errorf("Fsync failed: %v", err)
	}
	if err := fs.Fsync(ctx, "/f", NoHandle, true); err != nil {
		t.Errorf("Fsync by path failed: %v", err)
	}
	if err := fs.Release(ctx, "/f", fh); err != nil {
		t.Errorf("Release failed: %v", err)
	}
}
