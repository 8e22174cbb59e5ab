package store

import (
	"context"
	"database/sql"

	"github.com/lazypower/memgraph/internal/apperr"
)

// GetMeta returns a pack metadata value and whether it was set.
func (db *DB) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := db.QueryRowContext(ctx, `SELECT value FROM pack_metadata WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Storage("get meta "+key, err)
	}
	return v, true, nil
}

// SetMeta upserts pack metadata values in one transaction. Empty values delete the key.
func (db *DB) SetMeta(ctx context.Context, kv map[string]string) error {
	err := db.Unscoped().WithTx(ctx, func(tx *Store) error {
		return tx.PutMeta(ctx, kv)
	})
	return apperr.Storage("set meta", err)
}

// PutMeta is SetMeta on the Store's connection, so it joins an open transaction.
func (s *Store) PutMeta(ctx context.Context, kv map[string]string) error {
	for k, v := range kv {
		var err error
		if v == "" {
			_, err = s.q.ExecContext(ctx, `DELETE FROM pack_metadata WHERE key = ?`, k)
		} else {
			_, err = s.q.ExecContext(ctx, `
				INSERT INTO pack_metadata (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value
			`, k, v)
		}
		if err != nil {
			return apperr.Storage("put meta "+k, err)
		}
	}
	return nil
}

// AllMeta returns every metadata pair.
func (db *DB) AllMeta(ctx context.Context) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM pack_metadata`)
	if err != nil {
		return nil, apperr.Storage("all meta", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apperr.Storage("all meta", err)
		}
		out[k] = v
	}
	return out, apperr.Storage("all meta", rows.Err())
}
