package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to a memgraph SQLite database. The same schema
// backs the shared multi-owner store and standalone pack files.
type DB struct {
	*sql.DB
	Path     string
	ReadOnly bool

	log *zap.Logger
}

// Options controls how a database file is opened.
type Options struct {
	// JournalMode is the SQLite journal mode. Pack files use DELETE so the
	// database stays a single self-contained file.
	JournalMode string
	// ReadOnly opens the file without write access and skips migrations.
	ReadOnly bool
}

// DefaultDBPath returns the default database path: ~/.memgraph/memgraph.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".memgraph", "memgraph.db"), nil
}

// Open opens (or creates) the shared SQLite database at the given path,
// configures pragmas, and runs migrations.
func Open(path string) (*DB, error) {
	return OpenWith(path, Options{JournalMode: "WAL"})
}

// OpenWith opens the database at path with explicit options.
func OpenWith(path string, opts Options) (*DB, error) {
	dsn := path
	if opts.ReadOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		dsn = "file:" + path + "?mode=ro"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db := &DB{DB: sqlDB, Path: path, ReadOnly: opts.ReadOnly}
	if err := db.configurePragmas(opts); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if opts.ReadOnly {
		return db, nil
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory SQLite database for testing.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Every pooled connection would get its own empty database.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, Path: ":memory:"}
	if err := db.configurePragmas(Options{}); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) configurePragmas(opts Options) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	if !opts.ReadOnly {
		if opts.JournalMode != "" {
			pragmas = append(pragmas, "PRAGMA journal_mode="+opts.JournalMode)
		}
		pragmas = append(pragmas, "PRAGMA synchronous=NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
