package fuse

import (
	"context"
	"syscall"
)

// GetXattr is not supported; extended attributes are not passed through
func (fs *Filesystem) GetXattr(ctx context.Context, path string, name string) ([]byte, error) {
	return nil, syscall.ENOTSUP
}

// ListXattr is not supported
func (fs *Filesystem) ListXattr(ctx context.Context, path string) ([]string, error) {
	return nil, syscall.ENOTSUP
}
