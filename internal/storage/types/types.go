package types

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Snapshot is the latest known metadata and content hash of a file,
// keyed by its inode. A later fingerprint of the same inode overwrites
// the row in place.
type Snapshot struct {
	ID    int64
	Inode uint64
	Name  string
	Path  string
	Uid   uint32
	Gid   uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
	Size  int64
	Hash  string
}

// CopyEdge records that Destination was inferred to be a copy of Source.
// Edges are append-only.
type CopyEdge struct {
	ID               int64
	CreatedAt        time.Time
	SourceID         int64
	DestinationID    int64
	SourceInode      uint64
	DestinationInode uint64
}

// SourceQuery selects copy source candidates: same hash, a different
// inode, modified strictly before Before.
type SourceQuery struct {
	Hash         string
	ExcludeInode uint64
	Before       time.Time
}

// Matches reports whether s satisfies the query.
func (q SourceQuery) Matches(s *Snapshot) bool {
	return s.Hash == q.Hash && s.Inode != q.ExcludeInode && s.Mtime.Before(q.Before)
}

// Store persists snapshots and the copy log.
type Store interface {
	// UpsertSnapshot inserts or overwrites the snapshot for s.Inode and
	// returns the committed row.
	UpsertSnapshot(ctx context.Context, s *Snapshot) (*Snapshot, error)

	// FindSnapshot returns the snapshot for inode or ErrNotFound.
	FindSnapshot(ctx context.Context, inode uint64) (*Snapshot, error)

	// FindCandidateSource returns the matching snapshot with the latest
	// access time, or ErrNotFound.
	FindCandidateSource(ctx context.Context, q SourceQuery) (*Snapshot, error)

	// AppendCopyEdge appends an edge to the copy log.
	AppendCopyEdge(ctx context.Context, e *CopyEdge) (*CopyEdge, error)

	// CopyEdges returns the copy log in insertion order.
	CopyEdges(ctx context.Context) ([]CopyEdge, error)

	// Close releases the store's resources.
	Close() error
}

// NewCopyEdge builds an edge between two committed snapshots.
func NewCopyEdge(src, dst *Snapshot, at time.Time) *CopyEdge {
	return &CopyEdge{
		CreatedAt:        at.Truncate(time.Microsecond),
		SourceID:         src.ID,
		DestinationID:    dst.ID,
		SourceInode:      src.Inode,
		DestinationInode: dst.Inode,
	}
}

// Better reports whether candidate should replace current as the chosen
// copy source: the most recently accessed snapshot wins.
func Better(candidate, current *Snapshot) bool {
	if current == nil {
		return true
	}
	return candidate.Atime.After(current.Atime)
}
