package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reusetrack/reusetrack-go/internal/storage/badger"
	"github.com/reusetrack/reusetrack-go/internal/storage/memory"
	"github.com/reusetrack/reusetrack-go/internal/storage/s3store"
	"github.com/reusetrack/reusetrack-go/internal/storage/sqlstore"
)

func TestNewStoreMemory(t *testing.T) {
	store, err := NewStore(context.Background(), Config{Type: StoreTypeMemory})
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &memory.MemoryStore{}, store)
}

func TestNewStoreSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), DefaultSQLitePath)
	store, err := NewStore(context.Background(), Config{Type: StoreTypeSQLite, DSN: dsn})
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &sqlstore.SQLStore{}, store)
	_, err = os.Stat(dsn)
	assert.NoError(t, err)
}

func TestNewStoreBadgerOptions(t *testing.T) {
	store, err := NewStore(context.Background(), Config{
		Type:    StoreTypeBadger,
		Options: map[string]any{"in_memory": "true"},
	})
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &badger.BadgerStore{}, store)
}

func TestNewStoreS3WithPasswdFile(t *testing.T) {
	passwd := filepath.Join(t.TempDir(), "passwd")
	require.NoError(t, os.WriteFile(passwd, []byte("AKID:SECRET\n"), 0600))

	store, err := NewStore(context.Background(), Config{
		Type: StoreTypeS3,
		DSN:  "provenance",
		Options: map[string]any{
			"passwd_file": passwd,
			"endpoint":    "http://localhost:4566",
			"prefix":      "log",
		},
	})
	require.NoError(t, err)
	assert.IsType(t, &s3store.S3Store{}, store)
}

func TestNewStoreErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewStore(ctx, Config{Type: StoreTypePostgres})
	assert.ErrorContains(t, err, "requires a dsn")

	_, err = NewStore(ctx, Config{Type: StoreTypeMongoDB})
	assert.ErrorContains(t, err, "URI is required")

	_, err = NewStore(ctx, Config{Type: StoreTypeBadger, Options: map[string]any{"bogus": 1}})
	assert.ErrorContains(t, err, "invalid store options")

	_, err = NewStore(ctx, Config{Type: "cassandra"})
	assert.ErrorContains(t, err, "unknown store type")
}
