package fuse

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

// loggingOps wraps an Operations and logs the namespace changing calls.
// Everything else is forwarded by the embedded interface.
type loggingOps struct {
	Operations
	log *logrus.Entry
}

// WithLogging decorates ops with one log line per create, mkdir, rename,
// rmdir, unlink and fsync, and a debug line per read and write
func WithLogging(ops Operations, logger *logrus.Logger) Operations {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &loggingOps{Operations: ops, log: logger.WithField("component", "fuse")}
}

// inode looks up the inode of path for log lines; 0 if it is gone
func (l *loggingOps) inode(ctx context.Context, path string) uint64 {
	attr, err := l.Operations.GetAttr(ctx, path)
	if err != nil {
		return 0
	}
	return attr.Ino
}

func (l *loggingOps) entry(op, path string, inode uint64) *logrus.Entry {
	return l.log.WithFields(logrus.Fields{"op": op, "path": path, "inode": inode})
}

func (l *loggingOps) Create(ctx context.Context, path string, flags int, mode os.FileMode) (uint64, error) {
	fh, err := l.Operations.Create(ctx, path, flags, mode)
	if err == nil {
		l.entry("create", path, l.inode(ctx, path)).Info("Create")
	}
	return fh, err
}

func (l *loggingOps) Mkdir(ctx context.Context, path string, mode os.FileMode) error {
	err := l.Operations.Mkdir(ctx, path, mode)
	if err == nil {
		l.entry("mkdir", path, l.inode(ctx, path)).Info("Mkdir")
	}
	return err
}

func (l *loggingOps) Rename(ctx context.Context, oldPath, newPath string) error {
	err := l.Operations.Rename(ctx, oldPath, newPath)
	if err == nil {
		l.entry("rename", newPath, l.inode(ctx, newPath)).WithField("from", oldPath).Info("Rename")
	}
	return err
}

// Rmdir and Unlink resolve the inode first; it is gone afterwards.
func (l *loggingOps) Rmdir(ctx context.Context, path string) error {
	ino := l.inode(ctx, path)
	err := l.Operations.Rmdir(ctx, path)
	if err == nil {
		l.entry("rmdir", path, ino).Info("Rmdir")
	}
	return err
}

func (l *loggingOps) Unlink(ctx context.Context, path string) error {
	ino := l.inode(ctx, path)
	err := l.Operations.Unlink(ctx, path)
	if err == nil {
		l.entry("unlink", path, ino).Info("Delete")
	}
	return err
}

func (l *loggingOps) Fsync(ctx context.Context, path string, fh uint64, datasync bool) error {
	l.entry("fsync", path, l.inode(ctx, path)).Info("Fsync")
	return l.Operations.Fsync(ctx, path, fh, datasync)
}

func (l *loggingOps) Read(ctx context.Context, path string, fh uint64, dest []byte, offset int64) (int, error) {
	if l.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		l.entry("read", path, l.inode(ctx, path)).WithFields(logrus.Fields{
			"size":   len(dest),
			"offset": offset,
		}).Debug("Read")
	}
	return l.Operations.Read(ctx, path, fh, dest, offset)
}

func (l *loggingOps) Write(ctx context.Context, path string, fh uint64, data []byte, offset int64) (int, error) {
	if l.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		l.entry("write", path, l.inode(ctx, path)).WithFields(logrus.Fields{
			"size":   len(data),
			"offset": offset,
		}).Debug("Write")
	}
	return l.Operations.Write(ctx, path, fh, data, offset)
}
