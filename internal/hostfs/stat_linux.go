// Package hostfs converts host stat results into plain Go values shared
// by the dispatch layer and the fingerprinter.
package hostfs

import (
	"time"

	"golang.org/x/sys/unix"
)

// Stat is the subset of struct stat the filesystem reports
type Stat struct {
	Ino     uint64
	Mode    uint32
	Nlink   uint64
	Uid     uint32
	Gid     uint32
	Rdev    uint64
	Size    int64
	Blocks  int64
	Blksize int64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// Lstat stats path without following a trailing symlink
func Lstat(path string) (*Stat, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return nil, err
	}
	return FromUnix(&st), nil
}

// Fstat stats an open descriptor
func Fstat(fd int) (*Stat, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, err
	}
	return FromUnix(&st), nil
}

// FromUnix converts a raw stat buffer
func FromUnix(st *unix.Stat_t) *Stat {
	return &Stat{
		Ino:     st.Ino,
		Mode:    st.Mode,
		Nlink:   uint64(st.Nlink),
		Uid:     st.Uid,
		Gid:     st.Gid,
		Rdev:    uint64(st.Rdev),
		Size:    st.Size,
		Blocks:  int64(st.Blocks),
		Blksize: int64(st.Blksize),
		Atime:   time.Unix(st.Atim.Unix()),
		Mtime:   time.Unix(st.Mtim.Unix()),
		Ctime:   time.Unix(st.Ctim.Unix()),
	}
}

// IsRegular reports whether the stat describes a regular file
func (s *Stat) IsRegular() bool {
	return s.Mode&unix.S_IFMT == unix.S_IFREG
}
