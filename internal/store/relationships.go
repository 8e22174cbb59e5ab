package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lazypower/memgraph/internal/apperr"
)

// Relationship types.
const (
	RelRelatesTo   = "RELATES_TO"
	RelSupersedes  = "SUPERSEDES"
	RelEvolvedInto = "EVOLVED_INTO"
	RelPartOf      = "PART_OF"
	RelDerivedFrom = "DERIVED_FROM"
	RelContradicts = "CONTRADICTS"
	RelSupports    = "SUPPORTS"
)

// Relationship is a directed, typed, weighted edge between two nodes.
type Relationship struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Type      string    `json:"type"`
	Strength  float64   `json:"strength"`
	Context   string    `json:"context,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const relColumns = `r.id, r.source_id, r.target_id, r.type, r.strength, r.context, r.created_at`

func scanRelationships(rows *sql.Rows) ([]Relationship, error) {
	var rels []Relationship
	for rows.Next() {
		var r Relationship
		var ctxText sql.NullString
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Type, &r.Strength, &ctxText, &createdAt); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		r.Context = ctxText.String
		r.CreatedAt = fromMillis(createdAt)
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// CreateRelationship links sourceID to targetID. Both nodes must exist in this
// scope. Duplicate edges are permitted; use RelationshipExists when they matter.
func (s *Store) CreateRelationship(ctx context.Context, sourceID, targetID, relType string, strength float64, note string) (*Relationship, error) {
	relType = strings.TrimSpace(strings.ToUpper(relType))
	if relType == "" {
		return nil, apperr.Validation("create relationship", "type is required")
	}
	if strength == 0 {
		strength = 1.0
	}

	for _, id := range []string{sourceID, targetID} {
		n, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if n == nil {
			return nil, apperr.NotFound("create relationship", "node "+id)
		}
	}

	created := now()
	rel := &Relationship{
		ID:        newID(),
		SourceID:  sourceID,
		TargetID:  targetID,
		Type:      relType,
		Strength:  strength,
		Context:   note,
		CreatedAt: fromMillis(millis(created)),
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO memory_relationships (id, source_id, target_id, type, strength, context, created_at)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?)
	`, rel.ID, rel.SourceID, rel.TargetID, rel.Type, rel.Strength, rel.Context, millis(created))
	if err != nil {
		return nil, apperr.Storage("create relationship", err)
	}
	return rel, nil
}

// RelationshipExists reports whether an edge of relType already links sourceID to targetID.
func (s *Store) RelationshipExists(ctx context.Context, sourceID, targetID, relType string) (bool, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memory_relationships
		WHERE source_id = ? AND target_id = ? AND type = ?
	`, sourceID, targetID, strings.ToUpper(relType)).Scan(&count)
	if err != nil {
		return false, apperr.Storage("relationship exists", err)
	}
	return count > 0, nil
}

// RelationshipsFrom returns outgoing edges of a node.
func (s *Store) RelationshipsFrom(ctx context.Context, nodeID string) ([]Relationship, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+relColumns+` FROM memory_relationships r
		JOIN memory_nodes n ON n.id = r.source_id
		WHERE r.source_id = ? AND n.owner_id = ?
		ORDER BY r.strength DESC, r.created_at
	`, nodeID, s.owner)
	if err != nil {
		return nil, apperr.Storage("relationships from", err)
	}
	defer rows.Close()
	rels, err := scanRelationships(rows)
	return rels, apperr.Storage("relationships from", err)
}

// RelationshipsTouching returns every edge with nodeID at either end.
func (s *Store) RelationshipsTouching(ctx context.Context, nodeID string) ([]Relationship, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+relColumns+` FROM memory_relationships r
		WHERE r.source_id = ? OR r.target_id = ?
		ORDER BY r.created_at
	`, nodeID, nodeID)
	if err != nil {
		return nil, apperr.Storage("relationships touching", err)
	}
	defer rows.Close()
	rels, err := scanRelationships(rows)
	return rels, apperr.Storage("relationships touching", err)
}

// RelatedNodes returns up to limit active targets of outgoing edges from
// nodeID, strongest edge first.
func (s *Store) RelatedNodes(ctx context.Context, nodeID string, limit int) ([]Node, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+prefixed("n", nodeColumns)+` FROM memory_relationships r
		JOIN memory_nodes n ON n.id = r.target_id
		WHERE r.source_id = ? AND n.owner_id = ? AND n.is_active = 1
		GROUP BY n.id
		ORDER BY MAX(r.strength) DESC, MIN(r.created_at)
		LIMIT ?
	`, nodeID, s.owner, limit)
	if err != nil {
		return nil, apperr.Storage("related nodes", err)
	}
	defer rows.Close()
	nodes, err := scanNodes(rows)
	return nodes, apperr.Storage("related nodes", err)
}

// prefixed qualifies each comma-separated column with alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
