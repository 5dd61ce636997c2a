package fuse

import (
	"context"
	"time"

	"golang.org/x/sys/unix"
)

// Utimens sets file access and modification times
func (fs *Filesystem) Utimens(ctx context.Context, path string, atime, mtime time.Time) error {
	times := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	return unix.UtimesNano(fs.hostPath(path), times)
}
