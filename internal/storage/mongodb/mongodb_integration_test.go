//go:build integration

package mongodb

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reusetrack/reusetrack-go/internal/storage/types"
)

// Run with a local server: docker run -p 27017:27017 mongo:7
func newIntegrationStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("REUSETRACK_MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewMongoStore(ctx, Config{URI: uri, Database: fmt.Sprintf("reusetrack_test_%d", time.Now().UnixNano())})
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	t.Cleanup(func() {
		store.files.Database().Drop(context.Background())
		store.Close()
	})
	return store
}

func TestMongoCopyDetectionFlow(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()
	base := time.UnixMicro(time.Now().UnixMicro())

	src, err := store.UpsertSnapshot(ctx, &types.Snapshot{Inode: 10, Path: "/x", Hash: "h", Atime: base, Mtime: base})
	require.NoError(t, err)
	dst, err := store.UpsertSnapshot(ctx, &types.Snapshot{Inode: 11, Path: "/y", Hash: "h", Atime: base, Mtime: base.Add(time.Second)})
	require.NoError(t, err)

	again, err := store.UpsertSnapshot(ctx, &types.Snapshot{Inode: 10, Path: "/x", Hash: "h", Atime: base.Add(time.Minute), Mtime: base})
	require.NoError(t, err)
	assert.Equal(t, src.ID, again.ID)

	got, err := store.FindCandidateSource(ctx, types.SourceQuery{Hash: dst.Hash, ExcludeInode: dst.Inode, Before: dst.Mtime})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Inode)
	assert.True(t, got.Atime.Equal(base.Add(time.Minute)))

	edge, err := store.AppendCopyEdge(ctx, types.NewCopyEdge(got, dst, time.Now()))
	require.NoError(t, err)

	edges, err := store.CopyEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, edge.ID, edges[0].ID)
	assert.Equal(t, uint64(11), edges[0].DestinationInode)
}
