package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reusetrack/reusetrack-go/internal/storage/types"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(context.Background(), Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func snap(inode uint64, hash string, atime, mtime time.Time) *types.Snapshot {
	return &types.Snapshot{Inode: inode, Name: "f", Path: "/f", Atime: atime, Mtime: mtime, Ctime: mtime, Hash: hash}
}

func TestUpsertKeepsOneRowPerInode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.UnixMicro(time.Now().UnixMicro())

	first, err := store.UpsertSnapshot(ctx, snap(5, "old", now, now))
	require.NoError(t, err)
	second, err := store.UpsertSnapshot(ctx, snap(5, "new", now, now))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := store.FindSnapshot(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Hash)

	// the stale hash index entry must be gone
	_, err = store.FindCandidateSource(ctx, types.SourceQuery{Hash: "old", ExcludeInode: 6, Before: now.Add(time.Hour)})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestFindCandidateSourcePicksLatestAtime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.UnixMicro(time.Now().UnixMicro())

	_, err := store.UpsertSnapshot(ctx, snap(1, "h", base.Add(time.Second), base))
	require.NoError(t, err)
	y, err := store.UpsertSnapshot(ctx, snap(2, "h", base.Add(3*time.Second), base))
	require.NoError(t, err)
	_, err = store.UpsertSnapshot(ctx, snap(3, "h", base.Add(9*time.Second), base.Add(time.Hour)))
	require.NoError(t, err)

	got, err := store.FindCandidateSource(ctx, types.SourceQuery{Hash: "h", ExcludeInode: 4, Before: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, y.Inode, got.Inode)
}

func TestCopyEdgesInOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.UnixMicro(time.Now().UnixMicro())

	a, err := store.UpsertSnapshot(ctx, snap(1, "h", now, now))
	require.NoError(t, err)
	b, err := store.UpsertSnapshot(ctx, snap(2, "h", now, now))
	require.NoError(t, err)

	_, err = store.AppendCopyEdge(ctx, types.NewCopyEdge(a, b, now))
	require.NoError(t, err)
	_, err = store.AppendCopyEdge(ctx, types.NewCopyEdge(b, a, now))
	require.NoError(t, err)

	edges, err := store.CopyEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, uint64(1), edges[0].SourceInode)
	assert.Equal(t, uint64(2), edges[1].SourceInode)
	assert.Less(t, edges[0].ID, edges[1].ID)
}
