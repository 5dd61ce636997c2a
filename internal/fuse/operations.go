package fuse

import (
	"context"
	"os"
	"time"
)

// Operations is the filesystem surface served at the mount point. Paths
// are absolute within the mount ("/" is the root). Handles are the
// values returned by Open and Create.
//
// Filesystem is the passthrough implementation; WithLogging wraps any
// implementation with operation logging.
type Operations interface {
	Access(ctx context.Context, path string, mask uint32) error
	Chmod(ctx context.Context, path string, mode os.FileMode) error
	Chown(ctx context.Context, path string, uid, gid uint32) error
	Create(ctx context.Context, path string, flags int, mode os.FileMode) (uint64, error)
	Flush(ctx context.Context, path string, fh uint64) error
	Fsync(ctx context.Context, path string, fh uint64, datasync bool) error
	GetAttr(ctx context.Context, path string) (*Attr, error)
	Link(ctx context.Context, oldPath, newPath string) error
	Mkdir(ctx context.Context, path string, mode os.FileMode) error
	Mknod(ctx context.Context, path string, mode os.FileMode, dev uint32) error
	Open(ctx context.Context, path string, flags int) (uint64, error)
	Read(ctx context.Context, path string, fh uint64, dest []byte, offset int64) (int, error)
	ReadDir(ctx context.Context, path string) ([]DirEntry, error)
	Readlink(ctx context.Context, path string) (string, error)
	Release(ctx context.Context, path string, fh uint64) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Rmdir(ctx context.Context, path string) error
	Statfs(ctx context.Context, path string) (*Statfs, error)
	Symlink(ctx context.Context, target, linkPath string) error
	Truncate(ctx context.Context, path string, size int64) error
	Unlink(ctx context.Context, path string) error
	Utimens(ctx context.Context, path string, atime, mtime time.Time) error
	Write(ctx context.Context, path string, fh uint64, data []byte, offset int64) (int, error)
	GetXattr(ctx context.Context, path string, name string) ([]byte, error)
	ListXattr(ctx context.Context, path string) ([]string, error)
}

// NoHandle is passed as fh when the caller has no open descriptor
const NoHandle = ^uint64(0)

// Attr represents file attributes
type Attr struct {
	Ino   uint64
	Mode  os.FileMode
	Nlink uint32
	Size  int64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
	Uid   uint32
	Gid   uint32
	Rdev  uint32
}

// DirEntry represents a directory entry
type DirEntry struct {
	Name string
	Ino  uint64
	Type os.FileMode
}

// Statfs represents filesystem statistics
type Statfs struct {
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Bsize   uint32
	Frsize  uint32
	Namelen uint32
	Flags   uint64
}

// Observer receives completed transfers so full-file I/O can be
// fingerprinted. path is the host path under the backing root; fd is the
// descriptor the transfer went through and stays open only for the call.
type Observer interface {
	ObserveRead(ctx context.Context, path string, fd int, offset, count, size int64)
	ObserveWrite(ctx context.Context, path string, fd int, offset, count, size int64)
}
