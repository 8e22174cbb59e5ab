package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lazypower/memgraph/internal/apperr"
)

// Tag is a label attached to a node.
type Tag struct {
	ID        string    `json:"id"`
	MemoryID  string    `json:"memory_id"`
	Tag       string    `json:"tag"`
	CreatedAt time.Time `json:"created_at"`
}

// AddTag attaches tag to nodeID. Adding an existing (node, tag) pair is a
// no-op that returns the existing row.
func (s *Store) AddTag(ctx context.Context, nodeID, tag string) (*Tag, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, apperr.Validation("add tag", "tag is required")
	}
	n, err := s.FindByID(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, apperr.NotFound("add tag", "node "+nodeID)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO memory_tags (id, memory_id, tag, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(memory_id, tag) DO NOTHING
	`, newID(), nodeID, tag, millis(now()))
	if err != nil {
		return nil, apperr.Storage("add tag", err)
	}

	var t Tag
	var createdAt int64
	err = s.q.QueryRowContext(ctx, `
		SELECT id, memory_id, tag, created_at FROM memory_tags WHERE memory_id = ? AND tag = ?
	`, nodeID, tag).Scan(&t.ID, &t.MemoryID, &t.Tag, &createdAt)
	if err != nil {
		return nil, apperr.Storage("add tag", err)
	}
	t.CreatedAt = fromMillis(createdAt)
	return &t, nil
}

// RemoveTag detaches tag from nodeID. Returns false if it was not attached.
func (s *Store) RemoveTag(ctx context.Context, nodeID, tag string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM memory_tags
		WHERE memory_id = ? AND tag = ?
			AND memory_id IN (SELECT id FROM memory_nodes WHERE owner_id = ?)
	`, nodeID, strings.TrimSpace(tag), s.owner)
	if err != nil {
		return false, apperr.Storage("remove tag", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// TagsFor returns the tags on a node in insertion order.
func (s *Store) TagsFor(ctx context.Context, nodeID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT tag FROM memory_tags WHERE memory_id = ? ORDER BY created_at, tag
	`, nodeID)
	if err != nil {
		return nil, apperr.Storage("tags for", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, apperr.Storage("scan", err)
		}
		out = append(out, v)
	}
	return out, apperr.Storage("scan", rows.Err())
}
