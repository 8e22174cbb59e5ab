package store

import (
	"context"

	"github.com/lazypower/memgraph/internal/apperr"
)

// Stats are live row counts for one scope.
type Stats struct {
	Nodes         int `json:"nodes"`
	ActiveNodes   int `json:"active_nodes"`
	Relationships int `json:"relationships"`
	Tags          int `json:"tags"`
}

// Stats counts the nodes, relationships and tags in this scope.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM memory_nodes WHERE owner_id = ?),
			(SELECT COUNT(*) FROM memory_nodes WHERE owner_id = ? AND is_active = 1),
			(SELECT COUNT(*) FROM memory_relationships r JOIN memory_nodes n ON n.id = r.source_id WHERE n.owner_id = ?),
			(SELECT COUNT(*) FROM memory_tags t JOIN memory_nodes n ON n.id = t.memory_id WHERE n.owner_id = ?)
	`, s.owner, s.owner, s.owner, s.owner).Scan(&st.Nodes, &st.ActiveNodes, &st.Relationships, &st.Tags)
	if err != nil {
		return Stats{}, apperr.Storage("stats", err)
	}
	return st, nil
}

// Graph is the active part of a scope: nodes and the edges between them.
type Graph struct {
	Nodes []Node         `json:"nodes"`
	Edges []Relationship `json:"edges"`
}

// Graph returns every active node and every edge whose endpoints are both active.
func (s *Store) Graph(ctx context.Context) (*Graph, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM memory_nodes
		WHERE owner_id = ? AND is_active = 1
		ORDER BY created_at, id
	`, s.owner)
	if err != nil {
		return nil, apperr.Storage("graph nodes", err)
	}
	nodes, err := scanNodes(rows)
	rows.Close()
	if err != nil {
		return nil, apperr.Storage("graph nodes", err)
	}

	rows, err = s.q.QueryContext(ctx, `
		SELECT `+relColumns+` FROM memory_relationships r
		JOIN memory_nodes src ON src.id = r.source_id
		JOIN memory_nodes dst ON dst.id = r.target_id
		WHERE src.owner_id = ? AND src.is_active = 1 AND dst.is_active = 1
		ORDER BY r.created_at, r.id
	`, s.owner)
	if err != nil {
		return nil, apperr.Storage("graph edges", err)
	}
	defer rows.Close()
	edges, err := scanRelationships(rows)
	if err != nil {
		return nil, apperr.Storage("graph edges", err)
	}

	return &Graph{Nodes: nodes, Edges: edges}, nil
}

// Owners returns every distinct owner with at least one node.
func (db *DB) Owners(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM memory_nodes ORDER BY owner_id`)
	if err != nil {
		return nil, apperr.Storage("owners", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}
