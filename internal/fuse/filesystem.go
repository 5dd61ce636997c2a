package fuse

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/reusetrack/reusetrack-go/internal/hostfs"
)

// Filesystem passes every operation through to a backing directory on
// the host. Reads and writes go through raw descriptors; completed
// transfers are reported to the observer.
type Filesystem struct {
	root     string
	observer Observer

	// rwlock serialises seek+transfer on shared descriptors. It is not
	// held while the observer runs.
	rwlock sync.Mutex
}

var _ Operations = (*Filesystem)(nil)

// NewFilesystem creates a passthrough rooted at root. observer may be nil.
func NewFilesystem(root string, observer Observer) (*Filesystem, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", resolved)
	}

	return &Filesystem{root: resolved, observer: observer}, nil
}

// Root returns the resolved backing directory
func (fs *Filesystem) Root() string {
	return fs.root
}

// hostPath maps a mount path onto the backing directory. Cleaning
// against "/" keeps ".." from climbing out of the root.
func (fs *Filesystem) hostPath(path string) string {
	return filepath.Join(fs.root, filepath.Clean("/"+path))
}

// GetAttr returns attributes of path without following symlinks
func (fs *Filesystem) GetAttr(ctx context.Context, path string) (*Attr, error) {
	st, err := hostfs.Lstat(fs.hostPath(path))
	if err != nil {
		return nil, err
	}
	return attrFromStat(st), nil
}

// ReadDir lists a directory, including "." and ".."
func (fs *Filesystem) ReadDir(ctx context.Context, path string) ([]DirEntry, error) {
	entries, err := os.ReadDir(fs.hostPath(path))
	if err != nil {
		return nil, err
	}

	result := make([]DirEntry, 0, len(entries)+2)
	result = append(result, DirEntry{Name: ".", Type: os.ModeDir}, DirEntry{Name: "..", Type: os.ModeDir})
	for _, entry := range entries {
		result = append(result, DirEntry{Name: entry.Name(), Type: entry.Type()})
	}
	return result, nil
}

// Open opens path and returns the host descriptor as the handle
func (fs *Filesystem) Open(ctx context.Context, path string, flags int) (uint64, error) {
	fd, err := unix.Open(fs.hostPath(path), flags|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	return uint64(fd), nil
}

// Create creates and opens path
func (fs *Filesystem) Create(ctx context.Context, path string, flags int, mode os.FileMode) (uint64, error) {
	fd, err := unix.Open(fs.hostPath(path), flags|unix.O_CREAT|unix.O_CLOEXEC, permBits(mode))
	if err != nil {
		return 0, err
	}
	return uint64(fd), nil
}

// Read reads into dest at offset, then reports the transfer
func (fs *Filesystem) Read(ctx context.Context, path string, fh uint64, dest []byte, offset int64) (int, error) {
	fd := int(fh)

	fs.rwlock.Lock()
	n, err := seekAndTransfer(fd, offset, func() (int, error) { return unix.Read(fd, dest) })
	fs.rwlock.Unlock()
	if err != nil {
		return 0, err
	}

	if fs.observer != nil {
		if st, err := hostfs.Fstat(fd); err == nil {
			fs.observer.ObserveRead(ctx, fs.hostPath(path), fd, offset, int64(n), st.Size)
		}
	}
	return n, nil
}

// Write writes data at offset, then reports the transfer
func (fs *Filesystem) Write(ctx context.Context, path string, fh uint64, data []byte, offset int64) (int, error) {
	fd := int(fh)

	fs.rwlock.Lock()
	n, err := seekAndTransfer(fd, offset, func() (int, error) { return unix.Write(fd, data) })
	fs.rwlock.Unlock()
	if err != nil {
		return 0, err
	}

	if fs.observer != nil {
		if st, err := hostfs.Fstat(fd); err == nil {
			fs.observer.ObserveWrite(ctx, fs.hostPath(path), fd, offset, int64(n), st.Size)
		}
	}
	return n, nil
}

// seekAndTransfer positions fd and runs a single read or write. The
// caller holds rwlock.
func seekAndTransfer(fd int, offset int64, transfer func() (int, error)) (int, error) {
	if _, err := unix.Seek(fd, offset, io.SeekStart); err != nil {
		return 0, err
	}
	for {
		n, err := transfer()
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

// Flush is called on every close of a handle. Closing a duplicate
// descriptor gives the host filesystem the same close it would have
// seen without the mount.
func (fs *Filesystem) Flush(ctx context.Context, path string, fh uint64) error {
	fd, err := unix.Dup(int(fh))
	if err != nil {
		return err
	}
	return unix.Close(fd)
}

// Fsync syncs fh, or path itself when fh is NoHandle
func (fs *Filesystem) Fsync(ctx context.Context, path string, fh uint64, datasync bool) error {
	fd := int(fh)
	if fh == NoHandle {
		var err error
		fd, err = unix.Open(fs.hostPath(path), unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			return err
		}
		defer unix.Close(fd)
	}

	if datasync {
		return unix.Fdatasync(fd)
	}
	return unix.Fsync(fd)
}

// Release closes the host descriptor
func (fs *Filesystem) Release(ctx context.Context, path string, fh uint64) error {
	return unix.Close(int(fh))
}

// Mkdir creates a directory
func (fs *Filesystem) Mkdir(ctx context.Context, path string, mode os.FileMode) error {
	return unix.Mkdir(fs.hostPath(path), permBits(mode))
}

// Rmdir removes an empty directory
func (fs *Filesystem) Rmdir(ctx context.Context, path string) error {
	return unix.Rmdir(fs.hostPath(path))
}

// Unlink removes a file
func (fs *Filesystem) Unlink(ctx context.Context, path string) error {
	return unix.Unlink(fs.hostPath(path))
}

// Rename renames a file or directory
func (fs *Filesystem) Rename(ctx context.Context, oldPath, newPath string) error {
	return unix.Rename(fs.hostPath(oldPath), fs.hostPath(newPath))
}

// Link creates newPath as a hard link to oldPath
func (fs *Filesystem) Link(ctx context.Context, oldPath, newPath string) error {
	return unix.Link(fs.hostPath(oldPath), fs.hostPath(newPath))
}

// Symlink creates linkPath pointing at target. The target is stored
// verbatim.
func (fs *Filesystem) Symlink(ctx context.Context, target, linkPath string) error {
	return unix.Symlink(target, fs.hostPath(linkPath))
}

// Readlink reads the target of a symbolic link
func (fs *Filesystem) Readlink(ctx context.Context, path string) (string, error) {
	target, err := os.Readlink(fs.hostPath(path))
	if err != nil {
		return "", unwrapPathError(err)
	}
	return target, nil
}

// Mknod creates a special file
func (fs *Filesystem) Mknod(ctx context.Context, path string, mode os.FileMode, dev uint32) error {
	return unix.Mknod(fs.hostPath(path), unixMode(mode), int(dev))
}

// Truncate sets the size of path
func (fs *Filesystem) Truncate(ctx context.Context, path string, size int64) error {
	return unix.Truncate(fs.hostPath(path), size)
}

// Statfs reports statistics of the filesystem holding path
func (fs *Filesystem) Statfs(ctx context.Context, path string) (*Statfs, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(fs.hostPath(path), &st); err != nil {
		return nil, err
	}
	return &Statfs{
		Blocks:  st.Blocks,
		Bfree:   st.Bfree,
		Bavail:  st.Bavail,
		Files:   st.Files,
		Ffree:   st.Ffree,
		Bsize:   uint32(st.Bsize),
		Frsize:  uint32(st.Frsize),
		Namelen: uint32(st.Namelen),
		Flags:   uint64(st.Flags),
	}, nil
}

func attrFromStat(st *hostfs.Stat) *Attr {
	return &Attr{
		Ino:   st.Ino,
		Mode:  fileMode(st.Mode),
		Nlink: uint32(st.Nlink),
		Size:  st.Size,
		Atime: st.Atime,
		Mtime: st.Mtime,
		Ctime: st.Ctime,
		Uid:   st.Uid,
		Gid:   st.Gid,
		Rdev:  uint32(st.Rdev),
	}
}

func unwrapPathError(err error) error {
	if pe, ok := err.(*os.PathError); ok {
		return pe.Err
	}
	return err
}
