package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/reusetrack/reusetrack-go/internal/storage/types"
)

// FileDocument is a snapshot as stored in the files collection. Times
// are unix microseconds; BSON dates only keep milliseconds.
type FileDocument struct {
	ID        int64  `bson:"_id"`
	Inode     int64  `bson:"inode"`
	Name      string `bson:"name"`
	Path      string `bson:"path"`
	Uid       uint32 `bson:"uid"`
	Gid       uint32 `bson:"gid"`
	Atime     int64  `bson:"atime"`
	Mtime     int64  `bson:"mtime"`
	Ctime     int64  `bson:"ctime"`
	Size      int64  `bson:"size"`
	HashValue string `bson:"hash_value"`
}

// CopyLogDocument is a copy edge as stored in the copy_logs collection
type CopyLogDocument struct {
	ID               int64 `bson:"_id"`
	CreatedAt        int64 `bson:"created_at"`
	SourceID         int64 `bson:"source_id"`
	DestinationID    int64 `bson:"destination_id"`
	SourceInode      int64 `bson:"source_inode"`
	DestinationInode int64 `bson:"destination_inode"`
}

// Config holds connection settings
type Config struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// MongoStore implements types.Store using MongoDB
type MongoStore struct {
	client   *mongo.Client
	files    *mongo.Collection
	copyLogs *mongo.Collection
	counters *mongo.Collection
}

var _ types.Store = (*MongoStore)(nil)

// NewMongoStore connects, verifies the connection and creates indexes
func NewMongoStore(ctx context.Context, config Config) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(config.Database)
	store := &MongoStore{
		client:   client,
		files:    db.Collection("files"),
		copyLogs: db.Collection("copy_logs"),
		counters: db.Collection("counters"),
	}

	_, err = store.files.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "inode", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "hash_value", Value: 1}, {Key: "atime", Value: -1}}},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return store, nil
}

// UpsertSnapshot overwrites the document for the inode or inserts a new one
func (m *MongoStore) UpsertSnapshot(ctx context.Context, s *types.Snapshot) (*types.Snapshot, error) {
	doc := toDocument(s)

	filter := bson.M{"inode": doc.Inode}
	var existing FileDocument
	err := m.files.FindOne(ctx, filter).Decode(&existing)
	if errors.Is(err, mongo.ErrNoDocuments) {
		id, err := m.nextID(ctx, "files")
		if err != nil {
			return nil, err
		}
		doc.ID = id
		if _, err := m.files.InsertOne(ctx, doc); err != nil {
			return nil, fmt.Errorf("failed to insert snapshot: %w", err)
		}
	} else if err == nil {
		doc.ID = existing.ID
		update := bson.M{
			"$set": bson.M{
				"name":       doc.Name,
				"path":       doc.Path,
				"uid":        doc.Uid,
				"gid":        doc.Gid,
				"atime":      doc.Atime,
				"mtime":      doc.Mtime,
				"ctime":      doc.Ctime,
				"size":       doc.Size,
				"hash_value": doc.HashValue,
			},
		}
		if _, err := m.files.UpdateOne(ctx, bson.M{"_id": existing.ID}, update); err != nil {
			return nil, fmt.Errorf("failed to update snapshot: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to check existing snapshot: %w", err)
	}

	return doc.toSnapshot(), nil
}

// FindSnapshot returns the snapshot for inode
func (m *MongoStore) FindSnapshot(ctx context.Context, inode uint64) (*types.Snapshot, error) {
	var doc FileDocument
	err := m.files.FindOne(ctx, bson.M{"inode": int64(inode)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find snapshot: %w", err)
	}
	return doc.toSnapshot(), nil
}

// FindCandidateSource returns the most recently accessed matching snapshot
func (m *MongoStore) FindCandidateSource(ctx context.Context, q types.SourceQuery) (*types.Snapshot, error) {
	filter := bson.M{
		"hash_value": q.Hash,
		"inode":      bson.M{"$ne": int64(q.ExcludeInode)},
		"mtime":      bson.M{"$lt": q.Before.UnixMicro()},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "atime", Value: -1}, {Key: "_id", Value: 1}})

	var doc FileDocument
	err := m.files.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search copy source: %w", err)
	}
	return doc.toSnapshot(), nil
}

// AppendCopyEdge inserts e into copy_logs
func (m *MongoStore) AppendCopyEdge(ctx context.Context, e *types.CopyEdge) (*types.CopyEdge, error) {
	id, err := m.nextID(ctx, "copy_logs")
	if err != nil {
		return nil, err
	}
	doc := CopyLogDocument{
		ID:               id,
		CreatedAt:        e.CreatedAt.UnixMicro(),
		SourceID:         e.SourceID,
		DestinationID:    e.DestinationID,
		SourceInode:      int64(e.SourceInode),
		DestinationInode: int64(e.DestinationInode),
	}
	if _, err := m.copyLogs.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to append copy log: %w", err)
	}

	out := *e
	out.ID = id
	return &out, nil
}

// CopyEdges returns the copy log sorted by id
func (m *MongoStore) CopyEdges(ctx context.Context) ([]types.CopyEdge, error) {
	cursor, err := m.copyLogs.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list copy logs: %w", err)
	}
	defer cursor.Close(ctx)

	var edges []types.CopyEdge
	for cursor.Next(ctx) {
		var doc CopyLogDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		edges = append(edges, types.CopyEdge{
			ID:               doc.ID,
			CreatedAt:        time.UnixMicro(doc.CreatedAt),
			SourceID:         doc.SourceID,
			DestinationID:    doc.DestinationID,
			SourceInode:      uint64(doc.SourceInode),
			DestinationInode: uint64(doc.DestinationInode),
		})
	}
	return edges, cursor.Err()
}

// Close closes the MongoDB connection
func (m *MongoStore) Close() error {
	return m.client.Disconnect(context.Background())
}

// nextID increments the named counter document and returns the new value
func (m *MongoStore) nextID(ctx context.Context, name string) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := m.counters.FindOneAndUpdate(ctx, bson.M{"_id": name}, bson.M{"$inc": bson.M{"seq": int64(1)}}, opts).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s id: %w", name, err)
	}
	return counter.Seq, nil
}

func toDocument(s *types.Snapshot) FileDocument {
	return FileDocument{
		ID:        s.ID,
		Inode:     int64(s.Inode),
		Name:      s.Name,
		Path:      s.Path,
		Uid:       s.Uid,
		Gid:       s.Gid,
		Atime:     s.Atime.UnixMicro(),
		Mtime:     s.Mtime.UnixMicro(),
		Ctime:     s.Ctime.UnixMicro(),
		Size:      s.Size,
		HashValue: s.Hash,
	}
}

func (d FileDocument) toSnapshot() *types.Snapshot {
	return &types.Snapshot{
		ID:    d.ID,
		Inode: uint64(d.Inode),
		Name:  d.Name,
		Path:  d.Path,
		Uid:   d.Uid,
		Gid:   d.Gid,
		Atime: time.UnixMicro(d.Atime),
		Mtime: time.UnixMicro(d.Mtime),
		Ctime: time.UnixMicro(d.Ctime),
		Size:  d.Size,
		Hash:  d.HashValue,
	}
}
