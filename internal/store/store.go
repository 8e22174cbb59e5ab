package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// now is the store clock. Tests replace it to age records.
var now = time.Now

// Store is a graph view over a DB, scoped to one owner. Pack files use the
// empty owner, so the shared store and a pack run exactly the same queries.
type Store struct {
	db    *DB
	q     querier
	owner string
	inTx  bool
}

// Scoped returns a Store limited to rows belonging to owner.
func (db *DB) Scoped(owner string) *Store {
	return &Store{db: db, q: db.DB, owner: owner}
}

// Unscoped returns the Store used for standalone packs (no owner filter).
func (db *DB) Unscoped() *Store {
	return db.Scoped("")
}

// Owner returns the owner scope of this Store.
func (s *Store) Owner() string { return s.owner }

// DB returns the underlying database.
func (s *Store) DB() *DB { return s.db }

// WithTx runs fn inside a single transaction. The Store passed to fn routes
// every query through the transaction; nested calls reuse it.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &Store{db: s.db, q: sqlTx, owner: s.owner, inTx: true}

	if err := fn(txStore); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, 2*n-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}
