package fuse

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"
)

// PermissionError is returned by Access when the host denies the
// requested access. It is reported to the kernel as EACCES.
type PermissionError struct {
	Path string
	Mask uint32
	Err  error
}

var _ fuse.ErrorNumber = (*PermissionError)(nil)

func (e *PermissionError) Error() string {
	return fmt.Sprintf("access %s (mask %#o) denied: %v", e.Path, e.Mask, e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// Errno implements fuse.ErrorNumber
func (e *PermissionError) Errno() fuse.Errno {
	return fuse.Errno(syscall.EACCES)
}

// Access checks mask against path with the daemon's credentials. Any
// failure, including a missing file, is a denial.
func (fs *Filesystem) Access(ctx context.Context, path string, mask uint32) error {
	if err := unix.Access(fs.hostPath(path), mask); err != nil {
		return &PermissionError{Path: path, Mask: mask, Err: err}
	}
	return nil
}

// Chmod changes file permissions
func (fs *Filesystem) Chmod(ctx context.Context, path string, mode os.FileMode) error {
	return unix.Chmod(fs.hostPath(path), permBits(mode))
}

// Chown changes file ownership
func (fs *Filesystem) Chown(ctx context.Context, path string, uid, gid uint32) error {
	return unix.Chown(fs.hostPath(path), int(uid), int(gid))
}

// fileMode converts a st_mode value into an os.FileMode
func fileMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0777)
	switch m & unix.S_IFMT {
	case unix.S_IFDIR:
		mode |= os.ModeDir
	case unix.S_IFLNK:
		mode |= os.ModeSymlink
	case unix.S_IFIFO:
		mode |= os.ModeNamedPipe
	case unix.S_IFSOCK:
		mode |= os.ModeSocket
	case unix.S_IFBLK:
		mode |= os.ModeDevice
	case unix.S_IFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	}
	if m&unix.S_ISUID != 0 {
		mode |= os.ModeSetuid
	}
	if m&unix.S_ISGID != 0 {
		mode |= os.ModeSetgid
	}
	if m&unix.S_ISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// unixMode converts an os.FileMode, including its type, into st_mode
func unixMode(mode os.FileMode) uint32 {
	m := permBits(mode)
	switch {
	case mode&os.ModeDir != 0:
		m |= unix.S_IFDIR
	case mode&os.ModeSymlink != 0:
		m |= unix.S_IFLNK
	case mode&os.ModeNamedPipe != 0:
		m |= unix.S_IFIFO
	case mode&os.ModeSocket != 0:
		m |= unix.S_IFSOCK
	case mode&os.ModeCharDevice != 0:
		m |= unix.S_IFCHR
	case mode&os.ModeDevice != 0:
		m |= unix.S_IFBLK
	default:
		m |= unix.S_IFREG
	}
	return m
}

// permBits keeps the permission and setuid/setgid/sticky bits
func permBits(mode os.FileMode) uint32 {
	m := uint32(mode.Perm())
	if mode&os.ModeSetuid != 0 {
		m |= unix.S_ISUID
	}
	if mode&os.ModeSetgid != 0 {
		m |= unix.S_ISGID
	}
	if mode&os.ModeSticky != 0 {
		m |= unix.S_ISVTX
	}
	return m
}
