package sqlstore

import "fmt"

// Dialect names accepted by NewSQLStore. Each maps to a database/sql
// driver registered by this package's imports.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// Timestamps are stored as unix microseconds so ordering and the strict
// mtime comparison behave the same on every dialect.
var schemas = map[string][]string{
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			inode INTEGER NOT NULL UNIQUE,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			uid INTEGER NOT NULL DEFAULT 0,
			gid INTEGER NOT NULL DEFAULT 0,
			atime INTEGER NOT NULL,
			mtime INTEGER NOT NULL,
			ctime INTEGER NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			hash_value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_files_hash_value ON files(hash_value)`,
		`CREATE TABLE IF NOT EXISTS copy_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			source_id INTEGER NOT NULL REFERENCES files(id),
			destination_id INTEGER NOT NULL REFERENCES files(id)
		)`,
	},
	DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS files (
			id BIGSERIAL PRIMARY KEY,
			inode BIGINT NOT NULL UNIQUE,
			name VARCHAR(4096) NOT NULL,
			path VARCHAR(4096) NOT NULL,
			uid BIGINT NOT NULL DEFAULT 0,
			gid BIGINT NOT NULL DEFAULT 0,
			atime BIGINT NOT NULL,
			mtime BIGINT NOT NULL,
			ctime BIGINT NOT NULL,
			size BIGINT NOT NULL DEFAULT 0,
			hash_value VARCHAR(128) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_files_hash_value ON files(hash_value)`,
		`CREATE TABLE IF NOT EXISTS copy_logs (
			id BIGSERIAL PRIMARY KEY,
			created_at BIGINT NOT NULL,
			source_id BIGINT NOT NULL REFERENCES files(id),
			destination_id BIGINT NOT NULL REFERENCES files(id)
		)`,
	},
	DialectMySQL: {
		`CREATE TABLE IF NOT EXISTS files (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			inode BIGINT NOT NULL UNIQUE,
			name VARCHAR(1024) NOT NULL,
			path TEXT NOT NULL,
			uid BIGINT NOT NULL DEFAULT 0,
			gid BIGINT NOT NULL DEFAULT 0,
			atime BIGINT NOT NULL,
			mtime BIGINT NOT NULL,
			ctime BIGINT NOT NULL,
			size BIGINT NOT NULL DEFAULT 0,
			hash_value VARCHAR(128) NOT NULL,
			INDEX idx_files_hash_value (hash_value)
		)`,
		`CREATE TABLE IF NOT EXISTS copy_logs (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			created_at BIGINT NOT NULL,
			source_id BIGINT NOT NULL,
			destination_id BIGINT NOT NULL,
			FOREIGN KEY (source_id) REFERENCES files(id),
			FOREIGN KEY (destination_id) REFERENCES files(id)
		)`,
	},
}

func schemaFor(dialect string) ([]string, error) {
	stmts, ok := schemas[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported SQL dialect: %s", dialect)
	}
	return stmts, nil
}
