package provenance

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/reusetrack/reusetrack-go/internal/hostfs"
	"github.com/reusetrack/reusetrack-go/internal/storage/memory"
	"github.com/reusetrack/reusetrack-go/internal/storage/sqlstore"
	"github.com/reusetrack/reusetrack-go/internal/storage/types"
)

func newTracker(t *testing.T, store types.Store) (*Tracker, *logtest.Hook) {
	t.Helper()
	fp, err := NewFingerprinter(SHA1)
	require.NoError(t, err)
	logger, hook := logtest.NewNullLogger()
	return NewTracker(store, fp, logger), hook
}

// writeFile writes content and pins its times so ordering does not
// depend on filesystem timestamp granularity
func writeFile(t *testing.T, path, content string, atime, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, atime, mtime))
}

func inodeOf(t *testing.T, path string) uint64 {
	t.Helper()
	st, err := hostfs.Lstat(path)
	require.NoError(t, err)
	return st.Ino
}

func TestTerminalWriteStoresOnDiskDigest(t *testing.T) {
	store := memory.NewMemoryStore()
	tracker, _ := newTracker(t, store)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "a")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))
	tracker.ObserveWrite(ctx, path, -1, 0, 5, 5)

	snap, err := store.FindSnapshot(ctx, inodeOf(t, path))
	require.NoError(t, err)
	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha1.Sum(onDisk)
	assert.Equal(t, hex.EncodeToString(sum[:]), snap.Hash)
}

func TestNonTerminalIOLeavesStoreUntouched(t *testing.T) {
	store := memory.NewMemoryStore()
	tracker, _ := newTracker(t, store)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "a")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))
	tracker.ObserveWrite(ctx, path, -1, 0, 5, 11)
	tracker.ObserveRead(ctx, path, -1, 0, 4, 11)

	_, err := store.FindSnapshot(ctx, inodeOf(t, path))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRepeatedFingerprintsKeepOneSnapshot(t *testing.T) {
	store, err := sqlstore.NewSQLStore(context.Background(), sqlstore.DialectSQLite, filepath.Join(t.TempDir(), "log.sqlite3"))
	require.NoError(t, err)
	defer store.Close()
	tracker, _ := newTracker(t, store)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "a")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0644))
	first, err := tracker.Fingerprint(ctx, path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("two!"), 0644))
	second, err := tracker.Fingerprint(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.Hash, second.Hash)
	assert.Equal(t, int64(4), second.Size)
}

func TestCopyEdgeRequiresOlderSource(t *testing.T) {
	base := time.Now().Add(-time.Hour)

	t.Run("source older", func(t *testing.T) {
		store := memory.NewMemoryStore()
		tracker, _ := newTracker(t, store)
		ctx := context.Background()
		dir := t.TempDir()

		a, b := filepath.Join(dir, "a"), filepath.Join(dir, "b")
		writeFile(t, a, "hello", base, base)
		tracker.ObserveWrite(ctx, a, -1, 0, 5, 5)
		writeFile(t, b, "hello", base, base.Add(time.Minute))
		tracker.ObserveWrite(ctx, b, -1, 0, 5, 5)

		edges, err := store.CopyEdges(ctx)
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, inodeOf(t, a), edges[0].SourceInode)
		assert.Equal(t, inodeOf(t, b), edges[0].DestinationInode)
	})

	t.Run("source newer", func(t *testing.T) {
		store := memory.NewMemoryStore()
		tracker, _ := newTracker(t, store)
		ctx := context.Background()
		dir := t.TempDir()

		a, b := filepath.Join(dir, "a"), filepath.Join(dir, "b")
		writeFile(t, a, "hello", base, base.Add(time.Minute))
		tracker.ObserveWrite(ctx, a, -1, 0, 5, 5)
		writeFile(t, b, "hello", base, base)
		tracker.ObserveWrite(ctx, b, -1, 0, 5, 5)

		edges, err := store.CopyEdges(ctx)
		require.NoError(t, err)
		assert.Empty(t, edges)
	})
}

func TestCopySourcePrefersMostRecentlyAccessed(t *testing.T) {
	store := memory.NewMemoryStore()
	tracker, _ := newTracker(t, store)
	ctx := context.Background()
	dir := t.TempDir()
	base := time.Now().Add(-3 * time.Hour)

	x, y, d := filepath.Join(dir, "x"), filepath.Join(dir, "y"), filepath.Join(dir, "d")
	writeFile(t, x, "same", base.Add(time.Hour), base)
	writeFile(t, y, "same", base.Add(2*time.Hour), base)
	// Register y before x so insertion order cannot explain the choice.
	tracker.ObserveRead(ctx, y, -1, 0, 4, 4)
	tracker.ObserveRead(ctx, x, -1, 0, 4, 4)

	writeFile(t, d, "same", base, base.Add(time.Minute))
	tracker.ObserveWrite(ctx, d, -1, 0, 4, 4)

	edges, err := store.CopyEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, inodeOf(t, y), edges[0].SourceInode)
}

func TestReadsNeverCorrelate(t *testing.T) {
	store := memory.NewMemoryStore()
	tracker, _ := newTracker(t, store)
	ctx := context.Background()
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)

	a, b := filepath.Join(dir, "a"), filepath.Join(dir, "b")
	writeFile(t, a, "hello", base, base)
	writeFile(t, b, "hello", base, base.Add(time.Minute))
	tracker.ObserveRead(ctx, a, -1, 0, 5, 5)
	tracker.ObserveRead(ctx, b, -1, 0, 5, 5)

	edges, err := store.CopyEdges(ctx)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestVanishedFileIsLoggedAtWarn(t *testing.T) {
	store := memory.NewMemoryStore()
	tracker, hook := newTracker(t, store)

	tracker.ObserveWrite(context.Background(), filepath.Join(t.TempDir(), "gone"), -1, 0, 5, 5)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
}

type failingStore struct {
	types.Store
}

func (failingStore) UpsertSnapshot(ctx context.Context, s *types.Snapshot) (*types.Snapshot, error) {
	return nil, errors.New("disk full")
}

func TestStoreFailureIsLoggedAtError(t *testing.T) {
	tracker, hook := newTracker(t, failingStore{})

	path := filepath.Join(t.TempDir(), "a")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))
	tracker.ObserveWrite(context.Background(), path, -1, 0, 5, 5)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Contains(t, entry.Data[logrus.ErrorKey].(error).Error(), "disk full")
}

func TestObserveWriteUsesDescriptorAfterRename(t *testing.T) {
	store := memory.NewMemoryStore()
	tracker, _ := newTracker(t, store)
	ctx := context.Background()
	dir := t.TempDir()
	old := filepath.Join(dir, "old")
	renamed := filepath.Join(dir, "renamed")

	require.NoError(t, os.WriteFile(old, []byte("hello"), 0644))
	fd, err := unix.Open(old, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(fd)
	inode := inodeOf(t, old)
	require.NoError(t, os.Rename(old, renamed))

	tracker.ObserveWrite(ctx, renamed, fd, 0, 5, 5)

	snap, err := store.FindSnapshot(ctx, inode)
	require.NoError(t, err)
	assert.Equal(t, renamed, snap.Path)
	sum := sha1.Sum([]byte("hello"))
	assert.Equal(t, hex.EncodeToString(sum[:]), snap.Hash)
}
