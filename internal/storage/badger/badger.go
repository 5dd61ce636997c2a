package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/reusetrack/reusetrack-go/internal/storage/types"
)

// Key layout:
//
//	f:<inode>          snapshot record (JSON)
//	h:<hash>:<inode>   empty, hash index for copy source search
//	c:<id>             copy edge record (JSON)
//
// Integers are 8-byte big-endian so prefix scans return them in order.
var (
	prefixFile  = []byte("f:")
	prefixHash  = []byte("h:")
	prefixCopy  = []byte("c:")
	seqFileKey  = []byte("seq:files")
	seqCopyKey  = []byte("seq:copy_logs")
	seqLeaseLen = uint64(100)
)

type snapshotRecord struct {
	ID    int64  `json:"id"`
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

type copyRecord struct {
	ID               int64  `json:"id"`
	CreatedAt        int64  `json:"created_at"`
	SourceID         int64  `json:"source_id"`
	DestinationID    int64  `json:"destination_id"`
	SourceInode      uint64 `json:"source_inode"`
	DestinationInode uint64 `json:"destination_inode"`
}

// Config configures the embedded database
type Config struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// BadgerStore implements types.Store on an embedded BadgerDB
type BadgerStore struct {
	db      *badger.DB
	fileSeq *badger.Sequence
	copySeq *badger.Sequence
}

var _ types.Store = (*BadgerStore)(nil)

// NewBadgerStore opens (or creates) the database described by config
func NewBadgerStore(ctx context.Context, config Config) (*BadgerStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.Path, err)
	}

	fileSeq, err := db.GetSequence(seqFileKey, seqLeaseLen)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create file sequence: %w", err)
	}
	copySeq, err := db.GetSequence(seqCopyKey, seqLeaseLen)
	if err != nil {
		_ = fileSeq.Release()
		_ = db.Close()
		return nil, fmt.Errorf("failed to create copy log sequence: %w", err)
	}

	return &BadgerStore{db: db, fileSeq: fileSeq, copySeq: copySeq}, nil
}

// UpsertSnapshot writes the snapshot record and keeps the hash index in
// step with it
func (b *BadgerStore) UpsertSnapshot(ctx context.Context, s *types.Snapshot) (*types.Snapshot, error) {
	rec := toRecord(s)

	err := b.db.Update(func(txn *badger.Txn) error {
		existing, err := getSnapshot(txn, s.Inode)
		switch {
		case errors.Is(err, types.ErrNotFound):
			id, err := nextID(b.fileSeq)
			if err != nil {
				return err
			}
			rec.ID = id
		case err != nil:
			return err
		default:
			rec.ID = existing.ID
			if existing.Hash != rec.Hash {
				if err := txn.Delete(hashKey(existing.Hash, existing.Inode)); err != nil {
					return err
				}
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		if err := txn.Set(fileKey(rec.Inode), data); err != nil {
			return err
		}
		return txn.Set(hashKey(rec.Hash, rec.Inode), nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return rec.toSnapshot(), nil
}

// FindSnapshot returns the snapshot for inode
func (b *BadgerStore) FindSnapshot(ctx context.Context, inode uint64) (*types.Snapshot, error) {
	var rec *snapshotRecord
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getSnapshot(txn, inode)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec.toSnapshot(), nil
}

// FindCandidateSource scans the hash index for q.Hash
func (b *BadgerStore) FindCandidateSource(ctx context.Context, q types.SourceQuery) (*types.Snapshot, error) {
	var best *types.Snapshot
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := hashPrefix(q.Hash)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			inode := binary.BigEndian.Uint64(key[len(prefix):])
			rec, err := getSnapshot(txn, inode)
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			s := rec.toSnapshot()
			if !q.Matches(s) {
				continue
			}
			if types.Better(s, best) || (s.Atime.Equal(best.Atime) && s.ID < best.ID) {
				best = s
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search copy source: %w", err)
	}
	if best == nil {
		return nil, types.ErrNotFound
	}
	return best, nil
}

// AppendCopyEdge stores e under the next copy log id
func (b *BadgerStore) AppendCopyEdge(ctx context.Context, e *types.CopyEdge) (*types.CopyEdge, error) {
	id, err := nextID(b.copySeq)
	if err != nil {
		return nil, err
	}
	rec := copyRecord{
		ID:               id,
		CreatedAt:        e.CreatedAt.UnixMicro(),
		SourceID:         e.SourceID,
		DestinationID:    e.DestinationID,
		SourceInode:      e.SourceInode,
		DestinationInode: e.DestinationInode,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode copy log: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(copyKey(id), data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append copy log: %w", err)
	}

	out := *e
	out.ID = id
	return &out, nil
}

// CopyEdges returns every copy edge in id order
func (b *BadgerStore) CopyEdges(ctx context.Context) ([]types.CopyEdge, error) {
	var edges []types.CopyEdge
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixCopy, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec copyRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			edges = append(edges, types.CopyEdge{
				ID:               rec.ID,
				CreatedAt:        time.UnixMicro(rec.CreatedAt),
				SourceID:         rec.SourceID,
				DestinationID:    rec.DestinationID,
				SourceInode:      rec.SourceInode,
				DestinationInode: rec.DestinationInode,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list copy logs: %w", err)
	}
	return edges, nil
}

// Close releases the sequences and closes the database
func (b *BadgerStore) Close() error {
	_ = b.fileSeq.Release()
	_ = b.copySeq.Release()
	return b.db.Close()
}

func getSnapshot(txn *badger.Txn, inode uint64) (*snapshotRecord, error) {
	item, err := txn.Get(fileKey(inode))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec snapshotRecord
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &rec, nil
}

// nextID returns ids starting at 1; badger sequences start at 0
func nextID(seq *badger.Sequence) (int64, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate id: %w", err)
	}
	return int64(n) + 1, nil
}

func fileKey(inode uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, prefixFile...), inode)
}

func hashPrefix(hash string) []byte {
	key := append([]byte{}, prefixHash...)
	key = append(key, hash...)
	return append(key, ':')
}

func hashKey(hash string, inode uint64) []byte {
	return binary.BigEndian.AppendUint64(hashPrefix(hash), inode)
}

func copyKey(id int64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, prefixCopy...), uint64(id))
}

func toRecord(s *types.Snapshot) *snapshotRecord {
	return &snapshotRecord{
		ID:    s.ID,
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

func (r *snapshotRecord) toSnapshot() *types.Snapshot {
	return &types.Snapshot{
		ID:    r.ID,
		Inode: r.Inode,
		Name:  r.Name,
		Path:  r.Path,
		Uid:   r.Uid,
		Gid:   r.Gid,
		Atime: time.UnixMicro(r.Atime),
		Mtime: time.UnixMicro(r.Mtime),
		Ctime: time.UnixMicro(r.Ctime),
		Size:  r.Size,
		Hash:  r.Hash,
	}
}
