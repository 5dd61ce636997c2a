package storage

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/reusetrack/reusetrack-go/internal/credentials"
	"github.com/reusetrack/reusetrack-go/internal/s3client"
	"github.com/reusetrack/reusetrack-go/internal/storage/badger"
	"github.com/reusetrack/reusetrack-go/internal/storage/memory"
	"github.com/reusetrack/reusetrack-go/internal/storage/mongodb"
	"github.com/reusetrack/reusetrack-go/internal/storage/s3store"
	"github.com/reusetrack/reusetrack-go/internal/storage/sqlstore"
	"github.com/reusetrack/reusetrack-go/internal/storage/types"
)

// StoreType names a provenance store backend
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeSQLite   StoreType = "sqlite"
	StoreTypePostgres StoreType = "postgres"
	StoreTypeMySQL    StoreType = "mysql"
	StoreTypeMongoDB  StoreType = "mongodb"
	StoreTypeBadger   StoreType = "badger"
	StoreTypeS3       StoreType = "s3"
)

// DefaultSQLitePath is where the log lives when no DSN is given
const DefaultSQLitePath = "filelog.sqlite3"

// Config holds configuration for creating a store. DSN covers the
// common single-string case; Options carries backend specific settings
// and is decoded into that backend's Config.
type Config struct {
	Type    StoreType      `mapstructure:"type" validate:"required,oneof=memory sqlite postgres mysql mongodb badger s3"`
	DSN     string         `mapstructure:"dsn"`
	Options map[string]any `mapstructure:"options"`
}

// NewStore creates a provenance store based on the config
func NewStore(ctx context.Context, config Config) (types.Store, error) {
	switch config.Type {
	case StoreTypeMemory:
		return memory.NewMemoryStore(), nil

	case StoreTypeSQLite, "":
		dsn := config.DSN
		if dsn == "" {
			dsn = DefaultSQLitePath
		}
		return sqlstore.NewSQLStore(ctx, sqlstore.DialectSQLite, dsn)

	case StoreTypePostgres, StoreTypeMySQL:
		if config.DSN == "" {
			return nil, fmt.Errorf("%s store requires a dsn", config.Type)
		}
		return sqlstore.NewSQLStore(ctx, string(config.Type), config.DSN)

	case StoreTypeMongoDB:
		cfg := mongodb.Config{URI: config.DSN, Database: "reusetrack"}
		if err := decodeOptions(config.Options, &cfg); err != nil {
			return nil, err
		}
		if cfg.URI == "" {
			return nil, fmt.Errorf("MongoDB URI is required")
		}
		return mongodb.NewMongoStore(ctx, cfg)

	case StoreTypeBadger:
		cfg := badger.Config{Path: config.DSN}
		if err := decodeOptions(config.Options, &cfg); err != nil {
			return nil, err
		}
		if cfg.Path == "" && !cfg.InMemory {
			return nil, fmt.Errorf("badger store requires a path")
		}
		return badger.NewBadgerStore(ctx, cfg)

	case StoreTypeS3:
		cfg := s3store.Config{Bucket: config.DSN}
		if err := decodeOptions(config.Options, &cfg); err != nil {
			return nil, err
		}
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("S3 bucket is required")
		}
		creds, err := credentials.Resolve(cfg.PasswdFile, cfg.Bucket)
		if err != nil {
			return nil, err
		}
		if creds.Region != "" && cfg.Region == "" {
			cfg.Region = creds.Region
		}
		if cfg.Region == "" {
			cfg.Region = "us-east-1"
		}
		client := s3client.NewClientWithEndpoint(cfg.Bucket, cfg.Region, cfg.Endpoint, creds)
		return s3store.NewS3Store(client, cfg.Prefix), nil

	default:
		return nil, fmt.Errorf("unknown store type: %s", config.Type)
	}
}

func decodeOptions(options map[string]any, out any) error {
	if len(options) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(options); err != nil {
		return fmt.Errorf("invalid store options: %w", err)
	}
	return nil
}
