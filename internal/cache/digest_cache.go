// Package cache keeps recently computed content digests so that repeated
// terminal reads of an unchanged file skip re-hashing it.
package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/reusetrack/reusetrack-go/internal/hostfs"
)

// Key identifies one version of a file's content. Any write moves ctime,
// so a changed file gets a new key unless it is rewritten to the same
// size within one timestamp tick of the host filesystem.
type Key struct {
	Ino   uint64
	Size  int64
	Mtime int64
	Ctime int64
}

// KeyOf builds the cache key for a stat result
func KeyOf(st *hostfs.Stat) Key {
	return Key{
		Ino:   st.Ino,
		Size:  st.Size,
		Mtime: st.Mtime.UnixNano(),
		Ctime: st.Ctime.UnixNano(),
	}
}

// Stats reports cache effectiveness
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// DigestCache is a fixed-size LRU of digests. It is safe for concurrent use.
type DigestCache struct {
	entries *lru.Cache[Key, string]
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// NewDigestCache creates a cache holding at most size digests
func NewDigestCache(size int) (*DigestCache, error) {
	entries, err := lru.New[Key, string](size)
	if err != nil {
		return nil, err
	}
	return &DigestCache{entries: entries}, nil
}

// Get returns the digest recorded for key
func (c *DigestCache) Get(key Key) (string, bool) {
	digest, ok := c.entries.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return digest, ok
}

// Add records digest for key. Older versions of the same inode are left
// to age out.
func (c *DigestCache) Add(key Key, digest string) {
	c.entries.Add(key, digest)
}

// Purge drops every entry
func (c *DigestCache) Purge() {
	c.entries.Purge()
}

// Stats returns hit and miss counts since creation
func (c *DigestCache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.entries.Len(),
	}
}
