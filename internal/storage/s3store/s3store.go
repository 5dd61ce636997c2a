package s3store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/reusetrack/reusetrack-go/internal/s3client"
	"github.com/reusetrack/reusetrack-go/internal/storage/types"
)

// Object layout under the configured prefix:
//
//	files/<inode>.json            snapshot
//	hashes/<hash>/<inode>         empty marker, one per snapshot
//	copylogs/<id>.json            copy edge
//
// Numbers are zero padded to 20 digits so listings sort numerically.
// S3 has no transactions or counters: snapshot ids are the inode and
// copy log ids come from a process-local monotonic clock.
const (
	filesDir    = "files/"
	hashesDir   = "hashes/"
	copyLogsDir = "copylogs/"
)

// Config configures the bucket holding the provenance log
type Config struct {
	Bucket     string `mapstructure:"bucket"`
	Region     string `mapstructure:"region"`
	Endpoint   string `mapstructure:"endpoint"`
	Prefix     string `mapstructure:"prefix"`
	PasswdFile string `mapstructure:"passwd_file"`
}

type snapshotObject struct {
	Inode uint64 `json:"inode"`
	Name  string `json:"name"`
	Path  string `json:"path"`
	Uid   uint32 `json:"uid"`
	Gid   uint32 `json:"gid"`
	Atime int64  `json:"atime"`
	Mtime int64  `json:"mtime"`
	Ctime int64  `json:"ctime"`
	Size  int64  `json:"size"`
	Hash  string `json:"hash_value"`
}

type copyLogObject struct {
	ID               int64  `json:"id"`
	CreatedAt        int64  `json:"created_at"`
	SourceID         int64  `json:"source_id"`
	DestinationID    int64  `json:"destination_id"`
	SourceInode      uint64 `json:"source_inode"`
	DestinationInode uint64 `json:"destination_inode"`
}

// S3Store implements types.Store on an S3 bucket
type S3Store struct {
	client s3client.ObjectClient
	prefix string

	mu     sync.Mutex
	lastID int64
}

var _ types.Store = (*S3Store)(nil)

// NewS3Store stores objects through client under prefix
func NewS3Store(client s3client.ObjectClient, prefix string) *S3Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{client: client, prefix: prefix}
}

// UpsertSnapshot overwrites files/<inode>.json and moves the hash marker
// when the content hash changed
func (s *S3Store) UpsertSnapshot(ctx context.Context, snap *types.Snapshot) (*types.Snapshot, error) {
	previous, err := s.FindSnapshot(ctx, snap.Inode)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	obj := toObject(snap)
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := s.client.PutObject(ctx, s.fileKey(snap.Inode), data); err != nil {
		return nil, fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	if err := s.client.PutObject(ctx, s.hashKey(obj.Hash, obj.Inode), nil); err != nil {
		return nil, fmt.Errorf("failed to index snapshot: %w", err)
	}
	if previous != nil && previous.Hash != obj.Hash {
		if err := s.client.DeleteObject(ctx, s.hashKey(previous.Hash, previous.Inode)); err != nil {
			return nil, fmt.Errorf("failed to drop stale index: %w", err)
		}
	}

	return obj.toSnapshot(), nil
}

// FindSnapshot returns the snapshot for inode
func (s *S3Store) FindSnapshot(ctx context.Context, inode uint64) (*types.Snapshot, error) {
	data, err := s.client.GetObject(ctx, s.fileKey(inode))
	if errors.Is(err, s3client.ErrObjectNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find snapshot: %w", err)
	}

	var obj snapshotObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return obj.toSnapshot(), nil
}

// FindCandidateSource loads every snapshot indexed under q.Hash and
// keeps the most recently accessed match. Stale markers are skipped.
func (s *S3Store) FindCandidateSource(ctx context.Context, q types.SourceQuery) (*types.Snapshot, error) {
	dir := s.prefix + hashesDir + q.Hash + "/"
	keys, err := s.client.ListObjects(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to search copy source: %w", err)
	}

	var best *types.Snapshot
	for _, key := range keys {
		inode, err := strconv.ParseUint(path.Base(key), 10, 64)
		if err != nil {
			continue
		}
		snap, err := s.FindSnapshot(ctx, inode)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !q.Matches(snap) {
			continue
		}
		if types.Better(snap, best) || (snap.Atime.Equal(best.Atime) && snap.ID < best.ID) {
			best = snap
		}
	}
	if best == nil {
		return nil, types.ErrNotFound
	}
	return best, nil
}

// AppendCopyEdge writes a new copylogs object
func (s *S3Store) AppendCopyEdge(ctx context.Context, e *types.CopyEdge) (*types.CopyEdge, error) {
	out := *e
	out.ID = s.nextID()

	data, err := json.Marshal(copyLogObject{
		ID:               out.ID,
		CreatedAt:        e.CreatedAt.UnixMicro(),
		SourceID:         e.SourceID,
		DestinationID:    e.DestinationID,
		SourceInode:      e.SourceInode,
		DestinationInode: e.DestinationInode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode copy log: %w", err)
	}
	if err := s.client.PutObject(ctx, s.copyLogKey(out.ID), data); err != nil {
		return nil, fmt.Errorf("failed to append copy log: %w", err)
	}
	return &out, nil
}

// CopyEdges returns every copy log object in key order
func (s *S3Store) CopyEdges(ctx context.Context) ([]types.CopyEdge, error) {
	keys, err := s.client.ListObjects(ctx, s.prefix+copyLogsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list copy logs: %w", err)
	}

	edges := make([]types.CopyEdge, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.GetObject(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read copy log %s: %w", key, err)
		}
		var obj copyLogObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("failed to decode copy log %s: %w", key, err)
		}
		edges = append(edges, types.CopyEdge{
			ID:               obj.ID,
			CreatedAt:        time.UnixMicro(obj.CreatedAt),
			SourceID:         obj.SourceID,
			DestinationID:    obj.DestinationID,
			SourceInode:      obj.SourceInode,
			DestinationInode: obj.DestinationInode,
		})
	}
	return edges, nil
}

// Close is a no-op; the SDK client holds no connections that need closing
func (s *S3Store) Close() error {
	return nil
}

// nextID returns a unix-nanosecond id strictly greater than the last one
func (s *S3Store) nextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := time.Now().UnixNano()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return id
}

func (s *S3Store) fileKey(inode uint64) string {
	return fmt.Sprintf("%s%s%020d.json", s.prefix, filesDir, inode)
}

func (s *S3Store) hashKey(hash string, inode uint64) string {
	return fmt.Sprintf("%s%s%s/%020d", s.prefix, hashesDir, hash, inode)
}

func (s *S3Store) copyLogKey(id int64) string {
	return fmt.Sprintf("%s%s%020d.json", s.prefix, copyLogsDir, id)
}

func toObject(s *types.Snapshot) snapshotObject {
	return snapshotObject{
		Inode: s.Inode,
		Name:  s.Name,
		Path:  s.Path,
		Uid:   s.Uid,
		Gid:   s.Gid,
		Atime: s.Atime.UnixMicro(),
		Mtime: s.Mtime.UnixMicro(),
		Ctime: s.Ctime.UnixMicro(),
		Size:  s.Size,
		Hash:  s.Hash,
	}
}

func (o snapshotObject) toSnapshot() *types.Snapshot {
	return &types.Snapshot{
		ID:    int64(o.Inode),
		Inode: o.Inode,
		Name:  o.Name,
		Path:  o.Path,
		Uid:   o.Uid,
		Gid:   o.Gid,
		Atime: time.UnixMicro(o.Atime),
		Mtime: time.UnixMicro(o.Mtime),
		Ctime: time.UnixMicro(o.Ctime),
		Size:  o.Size,
		Hash:  o.Hash,
	}
}
