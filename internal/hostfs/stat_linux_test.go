package hostfs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLstatReportsHostMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0640))
	mtime := time.Date(2020, 1, 2, 3, 4, 5, 6000, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	st, err := Lstat(path)
	require.NoError(t, err)

	var raw unix.Stat_t
	require.NoError(t, unix.Lstat(path, &raw))
	assert.Equal(t, raw.Ino, st.Ino)
	assert.Equal(t, int64(5), st.Size)
	assert.Equal(t, uint32(os.Getuid()), st.Uid)
	assert.True(t, st.Mtime.Equal(mtime))
	assert.True(t, st.IsRegular())
	assert.Equal(t, uint32(0640), st.Mode&0777)
}

func TestFstatMatchesLstat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	byFd, err := Fstat(int(f.Fd()))
	require.NoError(t, err)
	byPath, err := Lstat(path)
	require.NoError(t, err)
	assert.Equal(t, byPath.Ino, byFd.Ino)
	assert.Equal(t, byPath.Size, byFd.Size)
}

func TestLstatMissing(t *testing.T) {
	_, err := Lstat(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, unix.ENOENT)
}
