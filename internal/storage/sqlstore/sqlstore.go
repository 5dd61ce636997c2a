package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/reusetrack/reusetrack-go/internal/storage/types"
)

// fileRow is the files table as stored; times are unix microseconds
type fileRow struct {
	ID        int64  `db:"id"`
	Inode     int64  `db:"inode"`
	Name      string `db:"name"`
	Path      string `db:"path"`
	Uid       int64  `db:"uid"`
	Gid       int64  `db:"gid"`
	Atime     int64  `db:"atime"`
	Mtime     int64  `db:"mtime"`
	Ctime     int64  `db:"ctime"`
	Size      int64  `db:"size"`
	HashValue string `db:"hash_value"`
}

type copyLogRow struct {
	ID               int64 `db:"id"`
	CreatedAt        int64 `db:"created_at"`
	SourceID         int64 `db:"source_id"`
	DestinationID    int64 `db:"destination_id"`
	SourceInode      int64 `db:"source_inode"`
	DestinationInode int64 `db:"destination_inode"`
}

const fileColumns = "id, inode, name, path, uid, gid, atime, mtime, ctime, size, hash_value"

// SQLStore implements types.Store on a relational database reached
// through database/sql. The same queries serve sqlite, postgres and
// mysql; sqlx rebinds placeholders per driver.
type SQLStore struct {
	db      *sqlx.DB
	dialect string
}

var _ types.Store = (*SQLStore)(nil)

// NewSQLStore opens dsn with the driver for dialect and creates the
// schema if it does not exist.
func NewSQLStore(ctx context.Context, dialect, dsn string) (*SQLStore, error) {
	db, err := sqlx.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// sqlite serialises writers; a single connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	store := NewSQLStoreWithDB(db, dialect)
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewSQLStoreWithDB wraps an already opened handle. The schema is not
// created.
func NewSQLStoreWithDB(db *sqlx.DB, dialect string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	stmts, err := schemaFor(s.dialect)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertSnapshot updates the row for the snapshot's inode in place, or
// inserts one, and returns the committed row. The write is a single
// statement, so concurrent first writes for one inode cannot collide on
// the unique key; the last to commit wins.
func (s *SQLStore) UpsertSnapshot(ctx context.Context, snap *types.Snapshot) (*types.Snapshot, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := toFileRow(snap)
	_, err = tx.ExecContext(ctx, s.db.Rebind(upsertStatement(s.dialect)),
		row.Inode, row.Name, row.Path, row.Uid, row.Gid,
		row.Atime, row.Mtime, row.Ctime, row.Size, row.HashValue)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	var saved fileRow
	err = tx.GetContext(ctx, &saved, s.db.Rebind("SELECT "+fileColumns+" FROM files WHERE inode = ?"), row.Inode)
	if err != nil {
		return nil, fmt.Errorf("failed to read back snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return saved.toSnapshot(), nil
}

const insertFile = `INSERT INTO files (inode, name, path, uid, gid, atime, mtime, ctime, size, hash_value)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// upsertStatement keys the insert on the inode's unique constraint
func upsertStatement(dialect string) string {
	if dialect == DialectMySQL {
		return insertFile + ` ON DUPLICATE KEY UPDATE name = VALUES(name), path = VALUES(path),
	uid = VALUES(uid), gid = VALUES(gid), atime = VALUES(atime), mtime = VALUES(mtime),
	ctime = VALUES(ctime), size = VALUES(size), hash_value = VALUES(hash_value)`
	}
	// sqlite and postgres share the ON CONFLICT form
	return insertFile + ` ON CONFLICT (inode) DO UPDATE SET name = excluded.name, path = excluded.path,
	uid = excluded.uid, gid = excluded.gid, atime = excluded.atime, mtime = excluded.mtime,
	ctime = excluded.ctime, size = excluded.size, hash_value = excluded.hash_value`
}

// FindSnapshot returns the snapshot for inode
func (s *SQLStore) FindSnapshot(ctx context.Context, inode uint64) (*types.Snapshot, error) {
	var row fileRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT "+fileColumns+" FROM files WHERE inode = ?"), int64(inode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find snapshot: %w", err)
	}
	return row.toSnapshot(), nil
}

// FindCandidateSource returns the most recently accessed snapshot with
// the query's hash
func (s *SQLStore) FindCandidateSource(ctx context.Context, q types.SourceQuery) (*types.Snapshot, error) {
	query := s.db.Rebind(`SELECT ` + fileColumns + ` FROM files
		WHERE hash_value = ? AND inode <> ? AND mtime < ?
		ORDER BY atime DESC, id ASC
		LIMIT 1`)

	var row fileRow
	err := s.db.GetContext(ctx, &row, query, q.Hash, int64(q.ExcludeInode), toMicros(q.Before))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search copy source: %w", err)
	}
	return row.toSnapshot(), nil
}

// AppendCopyEdge inserts e into copy_logs
func (s *SQLStore) AppendCopyEdge(ctx context.Context, e *types.CopyEdge) (*types.CopyEdge, error) {
	out := *e
	createdAt := toMicros(e.CreatedAt)

	if s.dialect == DialectPostgres {
		// lib/pq does not implement LastInsertId
		err := s.db.QueryRowxContext(ctx,
			`INSERT INTO copy_logs (created_at, source_id, destination_id) VALUES ($1, $2, $3) RETURNING id`,
			createdAt, e.SourceID, e.DestinationID).Scan(&out.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to append copy log: %w", err)
		}
		return &out, nil
	}

	result, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO copy_logs (created_at, source_id, destination_id) VALUES (?, ?, ?)`),
		createdAt, e.SourceID, e.DestinationID)
	if err != nil {
		return nil, fmt.Errorf("failed to append copy log: %w", err)
	}
	if out.ID, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read copy log id: %w", err)
	}
	return &out, nil
}

// CopyEdges returns the log joined with both endpoints' inodes
func (s *SQLStore) CopyEdges(ctx context.Context) ([]types.CopyEdge, error) {
	var rows []copyLogRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT c.id, c.created_at, c.source_id, c.destination_id,
			src.inode AS source_inode, dst.inode AS destination_inode
		FROM copy_logs c
		JOIN files src ON src.id = c.source_id
		JOIN files dst ON dst.id = c.destination_id
		ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list copy logs: %w", err)
	}

	edges := make([]types.CopyEdge, 0, len(rows))
	for _, r := range rows {
		edges = append(edges, types.CopyEdge{
			ID:               r.ID,
			CreatedAt:        fromMicros(r.CreatedAt),
			SourceID:         r.SourceID,
			DestinationID:    r.DestinationID,
			SourceInode:      uint64(r.SourceInode),
			DestinationInode: uint64(r.DestinationInode),
		})
	}
	return edges, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func toFileRow(s *types.Snapshot) fileRow {
	return fileRow{
		ID:        s.ID,
		Inode:     int64(s.Inode),
		Name:      s.Name,
		Path:      s.Path,
		Uid:       int64(s.Uid),
		Gid:       int64(s.Gid),
		Atime:     toMicros(s.Atime),
		Mtime:     toMicros(s.Mtime),
		Ctime:     toMicros(s.Ctime),
		Size:      s.Size,
		HashValue: s.Hash,
	}
}

func (r fileRow) toSnapshot() *types.Snapshot {
	return &types.Snapshot{
		ID:    r.ID,
		Inode: uint64(r.Inode),
		Name:  r.Name,
		Path:  r.Path,
		Uid:   uint32(r.Uid),
		Gid:   uint32(r.Gid),
		Atime: fromMicros(r.Atime),
		Mtime: fromMicros(r.Mtime),
		Ctime: fromMicros(r.Ctime),
		Size:  r.Size,
		Hash:  r.HashValue,
	}
}

func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us)
}
