// Package provenance turns full-file reads and writes into snapshots and
// infers copy edges between files with identical content.
package provenance

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zeebo/blake3"

	"github.com/reusetrack/reusetrack-go/internal/cache"
	"github.com/reusetrack/reusetrack-go/internal/hostfs"
	"github.com/reusetrack/reusetrack-go/internal/storage/types"
)

// Algorithm names a content digest
type Algorithm string

const (
	// SHA1 is the default; its hex digests are stored unprefixed
	SHA1 Algorithm = "sha1"
	// BLAKE3 digests are stored as "blake3:<hex>"
	BLAKE3 Algorithm = "blake3"
)

// FingerprintError reports that a file could not be read back after a
// terminal event, usually because it was removed in between
type FingerprintError struct {
	Path string
	Err  error
}

func (e *FingerprintError) Error() string {
	return fmt.Sprintf("fingerprint %s: %v", e.Path, e.Err)
}

func (e *FingerprintError) Unwrap() error {
	return e.Err
}

// Fingerprinter builds snapshots from files on the host
type Fingerprinter struct {
	algorithm Algorithm
	digests   *cache.DigestCache
}

// NewFingerprinter returns a fingerprinter using algorithm, or SHA1 when
// algorithm is empty
func NewFingerprinter(algorithm Algorithm) (*Fingerprinter, error) {
	switch algorithm {
	case "":
		algorithm = SHA1
	case SHA1, BLAKE3:
	default:
		return nil, fmt.Errorf("unknown hash algorithm: %s", algorithm)
	}
	return &Fingerprinter{algorithm: algorithm}, nil
}

// Algorithm returns the digest in use
func (f *Fingerprinter) Algorithm() Algorithm {
	return f.algorithm
}

// UseCache makes Snapshot reuse digests of unchanged files. A nil cache
// disables reuse.
func (f *Fingerprinter) UseCache(c *cache.DigestCache) {
	f.digests = c
}

// ErrNotRegular is returned for paths that are not regular files
var ErrNotRegular = errors.New("not a regular file")

// Snapshot stats path and hashes its entire current content
func (f *Fingerprinter) Snapshot(path string) (*types.Snapshot, error) {
	st, err := hostfs.Lstat(path)
	if err != nil {
		return nil, &FingerprintError{Path: path, Err: err}
	}
	return f.snapshot(path, st, func() (*os.File, error) { return os.Open(path) })
}

// SnapshotDescriptor fingerprints the file open at fd and records it
// under path. The inode and content come from the descriptor, so a
// rename between the transfer and the snapshot cannot swap in another
// file. Write-only descriptors are reopened for reading through procfs.
func (f *Fingerprinter) SnapshotDescriptor(fd int, path string) (*types.Snapshot, error) {
	st, err := hostfs.Fstat(fd)
	if err != nil {
		return nil, &FingerprintError{Path: path, Err: err}
	}
	return f.snapshot(path, st, func() (*os.File, error) {
		return os.Open("/proc/self/fd/" + strconv.Itoa(fd))
	})
}

func (f *Fingerprinter) snapshot(path string, st *hostfs.Stat, open func() (*os.File, error)) (*types.Snapshot, error) {
	if !st.IsRegular() {
		return nil, &FingerprintError{Path: path, Err: ErrNotRegular}
	}

	digest, err := f.digestFile(st, open)
	if err != nil {
		return nil, &FingerprintError{Path: path, Err: err}
	}

	return &types.Snapshot{
		Inode: st.Ino,
		Name:  filepath.Base(path),
		Path:  path,
		Uid:   st.Uid,
		Gid:   st.Gid,
		Atime: st.Atime.Truncate(time.Microsecond),
		Mtime: st.Mtime.Truncate(time.Microsecond),
		Ctime: st.Ctime.Truncate(time.Microsecond),
		Size:  st.Size,
		Hash:  digest,
	}, nil
}

func (f *Fingerprinter) digestFile(st *hostfs.Stat, open func() (*os.File, error)) (string, error) {
	var key cache.Key
	if f.digests != nil {
		key = cache.KeyOf(st)
		if digest, ok := f.digests.Get(key); ok {
			return digest, nil
		}
	}

	file, err := open()
	if err != nil {
		return "", err
	}
	defer file.Close()

	digest, err := f.Digest(file)
	if err != nil {
		return "", err
	}
	if f.digests != nil {
		f.digests.Add(key, digest)
	}
	return digest, nil
}

// Digest hashes everything r yields in the stored format
func (f *Fingerprinter) Digest(r io.Reader) (string, error) {
	var h hash.Hash
	prefix := ""
	switch f.algorithm {
	case BLAKE3:
		h = blake3.New()
		prefix = string(BLAKE3) + ":"
	default:
		h = sha1.New()
	}

	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(h.Sum(nil)), nil
}
