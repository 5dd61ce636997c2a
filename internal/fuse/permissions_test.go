package fuse

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"
)

// TestChmod tests changing file permissions
func TestChmod(t *testing.T) {
	fs, root := setupTestFilesystem(t)
	ctx := context.Background()
	os.WriteFile(filepath.Join(root, "f"), []byte("HELLO WORLD"), 0644)

	if err := fs.Chmod(ctx, "/f", 0600|os.ModeSetgid); err != nil {
		t.Fatalf("Failed to chmod: %v", err)
	}

	attr, err := fs.GetAttr(ctx, "/f")
	if err != nil {
		t.Fatalf("Failed to get attributes: %v", err)
	}
	if attr.Mode.Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %o", attr.Mode.Perm())
	}
}

// TestChownToSelf changes ownership to the current owner, which any user may do
func TestChownToSelf(t *testing.T) {
	fs, root := setupTestFilesystem(t)
	ctx := context.Background()
	os.WriteFile(filepath.Join(root, "f"), nil, 0644)

	uid, gid := uint32(os.Getuid()), uint32(os.Getgid())
	if err := fs.Chown(ctx, "/f", uid, gid); err != nil {
		t.Fatalf("Failed to chown: %v", err)
	}
	attr, _ := fs.GetAttr(ctx, "/f")
	if attr.Uid != uid || attr.Gid != gid {
		t.Errorf("Expected %d:%d, got %d:%d", uid, gid, attr.Uid, attr.Gid)
	}
}

func TestAccess(t *testing.T) {
	fs, root := setupTestFilesystem(t)
	ctx := context.Background()
	os.WriteFile(filepath.Join(root, "f"), nil, 0644)

	if err := fs.Access(ctx, "/f", unix.R_OK); err != nil {
		t.Errorf("Expected read access, got %v", err)
	}

	err := fs.Access(ctx, "/missing", unix.F_OK)
	var permErr *PermissionError
	if !errors.As(err, &permErr) {
		t.Fatalf("Expected PermissionError, got %v", err)
	}
	if !errors.Is(err, unix.ENOENT) {
		t.Errorf("Expected wrapped ENOENT, got %v", permErr.Err)
	}
}

func TestAccessDeniedMapsToEACCES(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses permission checks")
	}
	fs, root := setupTestFilesystem(t)
	os.WriteFile(filepath.Join(root, "ro"), nil, 0444)

	err := fs.Access(context.Background(), "/ro", unix.W_OK)
	if err == nil {
		t.Fatal("Expected write access to be denied")
	}
	if got := toFuseError(err); got != fuse.Errno(syscall.EACCES) {
		t.Errorf("Expected EACCES at the FUSE boundary, got %v", got)
	}
}

func TestPermissionErrorIsAlwaysEACCES(t *testing.T) {
	err := &PermissionError{Path: "/x", Mask: unix.R_OK, Err: unix.ENOENT}
	if got := toFuseError(err); got != fuse.Errno(syscall.EACCES) {
		t.Errorf("Expected EACCES, got %v", got)
	}
}

func TestModeConversionRoundTrip(t *testing.T) {
	modes := []os.FileMode{
		0644,
		os.ModeDir | 0755,
		os.ModeSymlink | 0777,
		os.ModeNamedPipe | 0600,
		os.ModeDevice | os.ModeCharDevice | 0620,
		os.ModeSetuid | os.ModeSetgid | os.ModeSticky | 0755,
	}
	for _, mode := range modes {
		if got := fileMode(unixMode(mode)); got != mode {
			t.Errorf("round trip of %v gave %v", mode, got)
		}
	}
}
