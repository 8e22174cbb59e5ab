package store

import (
	"context"
	"strings"

	"github.com/lazypower/memgraph/internal/apperr"
)

// CandidateQuery selects nodes for recall scoring.
type CandidateQuery struct {
	Query    string
	Category string
	Tags     []string
	Limit    int
}

// Candidate is a node plus its binary substring relevance (1.0 or 0.0).
type Candidate struct {
	Node      Node
	Relevance float64
}

// SubstringCandidates returns active nodes matching the category and tag
// filters, flagged 1.0 when content or summary contains q.Query. Rows come
// back ordered by relevance, importance and created_at, all descending.
func (s *Store) SubstringCandidates(ctx context.Context, q CandidateQuery) ([]Candidate, error) {
	var args []any
	relevance := `0.0`
	// An empty query matches nothing rather than everything.
	if q.Query != "" {
		pattern := likePattern(q.Query)
		relevance = `CASE WHEN content LIKE ? ESCAPE '\' OR summary LIKE ? ESCAPE '\' THEN 1.0 ELSE 0.0 END`
		args = append(args, pattern, pattern)
	}
	args = append(args, s.owner)

	var b strings.Builder
	b.WriteString(`
		SELECT ` + nodeColumns + `, ` + relevance + ` AS relevance
		FROM memory_nodes
		WHERE owner_id = ? AND is_active = 1`)

	if q.Category != "" {
		b.WriteString(` AND category = ?`)
		args = append(args, q.Category)
	}

	var tags []string
	for _, t := range q.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) > 0 {
		b.WriteString(` AND id IN (SELECT memory_id FROM memory_tags WHERE tag IN (` + placeholders(len(tags)) + `))`)
		for _, t := range tags {
			args = append(args, t)
		}
	}

	b.WriteString(` ORDER BY relevance DESC, importance DESC, created_at DESC LIMIT ?`)
	args = append(args, q.Limit)

	rows, err := s.q.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, apperr.Storage("recall candidates", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		n, err := scanNode(scanWithRelevance{rows, &c.Relevance})
		if err != nil {
			return nil, apperr.Storage("recall candidates", err)
		}
		c.Node = *n
		out = append(out, c)
	}
	return out, apperr.Storage("recall candidates", rows.Err())
}

// scanWithRelevance appends the trailing relevance column to a node scan.
type scanWithRelevance struct {
	row       rowScanner
	relevance *float64
}

func (s scanWithRelevance) Scan(dest ...any) error {
	return s.row.Scan(append(dest, s.relevance)...)
}
