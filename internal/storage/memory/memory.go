package memory

import (
	"context"
	"sync"

	"github.com/reusetrack/reusetrack-go/internal/storage/types"
)

// MemoryStore implements types.Store with in-process maps. Nothing
// survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	files    map[uint64]*types.Snapshot
	edges    []types.CopyEdge
	nextFile int64
	nextEdge int64
}

var _ types.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[uint64]*types.Snapshot),
	}
}

// UpsertSnapshot inserts or overwrites the snapshot for s.Inode
func (m *MemoryStore) UpsertSnapshot(ctx context.Context, s *types.Snapshot) (*types.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := *s
	if existing, ok := m.files[s.Inode]; ok {
		row.ID = existing.ID
	} else {
		m.nextFile++
		row.ID = m.nextFile
	}
	m.files[s.Inode] = &row

	out := row
	return &out, nil
}

// FindSnapshot returns the snapshot stored for inode
func (m *MemoryStore) FindSnapshot(ctx context.Context, inode uint64) (*types.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.files[inode]
	if !ok {
		return nil, types.ErrNotFound
	}
	out := *s
	return &out, nil
}

// FindCandidateSource scans every snapshot for the best match
func (m *MemoryStore) FindCandidateSource(ctx context.Context, q types.SourceQuery) (*types.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *types.Snapshot
	for _, s := range m.files {
		if !q.Matches(s) {
			continue
		}
		// Equal atimes fall back to the lower id so results are stable.
		if types.Better(s, best) || (s.Atime.Equal(best.Atime) && s.ID < best.ID) {
			best = s
		}
	}
	if best == nil {
		return nil, types.ErrNotFound
	}
	out := *best
	return &out, nil
}

// AppendCopyEdge appends e to the log
func (m *MemoryStore) AppendCopyEdge(ctx context.Context, e *types.CopyEdge) (*types.CopyEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextEdge++
	row := *e
	row.ID = m.nextEdge
	m.edges = append(m.edges, row)

	out := row
	return &out, nil
}

// CopyEdges returns a copy of the log
func (m *MemoryStore) CopyEdges(ctx context.Context) ([]types.CopyEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.CopyEdge, len(m.edges))
	copy(out, m.edges)
	return out, nil
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}
