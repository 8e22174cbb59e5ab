package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/lazypower/memgraph/internal/apperr"
)

// Built-in node categories.
const (
	CategoryKnowledge    = "knowledge"
	CategoryFact         = "fact"
	CategoryPreference   = "preference"
	CategoryThought      = "thought"
	CategoryConversation = "conversation"
)

// summaryThreshold is the content length above which a summary is derived
// when the caller supplies none.
const summaryThreshold = 100

var (
	categoriesMu sync.RWMutex
	categories   = map[string]bool{
		CategoryKnowledge:    true,
		CategoryFact:         true,
		CategoryPreference:   true,
		CategoryThought:      true,
		CategoryConversation: true,
	}
)

// RegisterCategory adds a category to the recognized set.
func RegisterCategory(name string) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return
	}
	categoriesMu.Lock()
	categories[name] = true
	categoriesMu.Unlock()
}

// ValidCategory reports whether name is a recognized category.
func ValidCategory(name string) bool {
	categoriesMu.RLock()
	defer categoriesMu.RUnlock()
	return categories[name]
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("memcategory", func(fl validator.FieldLevel) bool {
		return ValidCategory(fl.Field().String())
	})
	return v
}()

// Node is a single remembered fact, thought, preference or summary.
type Node struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id,omitempty"`
	Content      string     `json:"content"`
	Summary      string     `json:"summary,omitempty"`
	Category     string     `json:"category"`
	Importance   float64    `json:"importance"`
	Confidence   float64    `json:"confidence"`
	CreatedAt    time.Time  `json:"created_at"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
	AccessCount  int        `json:"access_count"`
	SourceType   string     `json:"source_type,omitempty"`
	SourceRef    string     `json:"source_ref,omitempty"`
	SourceRange  string     `json:"source_range,omitempty"`
	IsActive     bool       `json:"is_active"`
	SupersededBy string     `json:"superseded_by,omitempty"`
}

// NodeInput carries everything StoreNode needs to create a node.
type NodeInput struct {
	Content     string   `validate:"required"`
	Category    string   `validate:"required,memcategory"`
	Importance  float64  // clamped to [0,1]
	Confidence  float64  `validate:"gte=0,lte=1"` // zero means 1.0
	Summary     string   `validate:"max=2000"`
	SourceType  string   `validate:"max=64"`
	SourceRef   string   `validate:"max=2048"`
	SourceRange string   `validate:"max=64"`
	Tags        []string `validate:"dive,max=128"`
	// RelatesTo is a keyword; the best keyword match gets a RELATES_TO edge
	// from the new node. No match is not an error.
	RelatesTo string
}

func (in *NodeInput) normalize() error {
	in.Content = strings.TrimSpace(in.Content)
	in.Category = strings.TrimSpace(strings.ToLower(in.Category))
	in.Summary = strings.TrimSpace(in.Summary)

	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			switch fe.Tag() {
			case "required":
				return apperr.Validation("store node", "%s is required", strings.ToLower(fe.Field()))
			case "memcategory":
				return apperr.Validation("store node", "unknown category %q", in.Category)
			default:
				return apperr.Validation("store node", "%s failed %s", strings.ToLower(fe.Field()), fe.Tag())
			}
		}
		return apperr.Validation("store node", "%v", err)
	}

	if in.SourceRange != "" {
		if _, err := ParseLineRange(in.SourceRange); err != nil {
			return err
		}
	}

	in.Importance = ClampImportance(in.Importance)
	if in.Confidence == 0 {
		in.Confidence = 1.0
	}
	if in.Summary == "" {
		in.Summary = DeriveSummary(in.Content)
	}
	return nil
}

// ClampImportance bounds v to [0,1]. NaN becomes 0.
func ClampImportance(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DeriveSummary returns a truncated summary for content longer than the
// summary threshold. Short content gets "".
func DeriveSummary(content string) string {
	if utf8.RuneCountInString(content) <= summaryThreshold {
		return ""
	}
	return Truncate(content, summaryThreshold)
}

// Truncate shortens s to maxRunes plus an ellipsis, cutting at the last
// whitespace in the back half of the window. s is returned as is when it fits.
func Truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}

	truncated := runes[:maxRunes]
	cut := len(truncated)
	for i := len(truncated) - 1; i > maxRunes/2; i-- {
		if unicode.IsSpace(truncated[i]) {
			cut = i
			break
		}
	}
	return strings.TrimSpace(string(truncated[:cut])) + "..."
}

const nodeColumns = `id, owner_id, content, summary, category, importance, confidence,
	created_at, last_accessed, access_count, source_type, source_ref, source_range,
	is_active, superseded_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var n Node
	var active int
	var createdAt int64
	var lastAccessed sql.NullInt64
	var summary, sourceType, sourceRef, sourceRange, supersededBy sql.NullString
	if err := row.Scan(&n.ID, &n.OwnerID, &n.Content, &summary, &n.Category, &n.Importance, &n.Confidence,
		&createdAt, &lastAccessed, &n.AccessCount, &sourceType, &sourceRef, &sourceRange,
		&active, &supersededBy); err != nil {
		return nil, err
	}
	n.Summary = summary.String
	n.SourceType = sourceType.String
	n.SourceRef = sourceRef.String
	n.SourceRange = sourceRange.String
	n.SupersededBy = supersededBy.String
	n.IsActive = active != 0
	n.CreatedAt = fromMillis(createdAt)
	n.LastAccessed = nullTime(lastAccessed)
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]Node, error) {
	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

// StoreNode validates in, inserts a node with its tags, and optionally links
// it to the best keyword match for in.RelatesTo.
func (s *Store) StoreNode(ctx context.Context, in NodeInput) (*Node, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	created := now()
	node := &Node{
		ID:          newID(),
		OwnerID:     s.owner,
		Content:     in.Content,
		Summary:     in.Summary,
		Category:    in.Category,
		Importance:  in.Importance,
		Confidence:  in.Confidence,
		CreatedAt:   fromMillis(millis(created)),
		SourceType:  in.SourceType,
		SourceRef:   in.SourceRef,
		SourceRange: in.SourceRange,
		IsActive:    true,
	}

	err := s.WithTx(ctx, func(tx *Store) error {
		_, err := tx.q.ExecContext(ctx, `
			INSERT INTO memory_nodes (id, owner_id, content, summary, category, importance, confidence,
				created_at, access_count, source_type, source_ref, source_range, is_active)
			VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, 0, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), 1)
		`, node.ID, node.OwnerID, node.Content, node.Summary, node.Category, node.Importance, node.Confidence,
			millis(created), node.SourceType, node.SourceRef, node.SourceRange)
		if err != nil {
			return fmt.Errorf("insert node: %w", err)
		}

		for _, tag := range in.Tags {
			if strings.TrimSpace(tag) == "" {
				continue
			}
			if _, err := tx.AddTag(ctx, node.ID, tag); err != nil {
				return err
			}
		}

		if in.RelatesTo != "" {
			tx.autoLink(ctx, node.ID, in.RelatesTo)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Storage("store node", err)
	}
	return node, nil
}

// autoLink creates a RELATES_TO edge to the best keyword match. Failures are
// logged and swallowed.
func (s *Store) autoLink(ctx context.Context, nodeID, keyword string) {
	matches, err := s.FindByKeyword(ctx, keyword, 2)
	if err != nil {
		s.db.logger().Warn("auto-link lookup failed", errField(err), nodeField(nodeID))
		return
	}
	for _, m := range matches {
		if m.ID == nodeID {
			continue
		}
		if _, err := s.CreateRelationship(ctx, nodeID, m.ID, RelRelatesTo, 1.0, "auto-linked by keyword: "+keyword); err != nil {
			s.db.logger().Warn("auto-link failed", errField(err), nodeField(nodeID))
		}
		return
	}
}

// FindByID returns a node by id regardless of lifecycle state, or nil if not found.
func (s *Store) FindByID(ctx context.Context, id string) (*Node, error) {
	n, err := scanNode(s.q.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM memory_nodes WHERE id = ? AND owner_id = ?`, id, s.owner))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("find by id", fmt.Errorf("get node %s: %w", id, err))
	}
	return n, nil
}

// FindByCategory returns nodes in category ordered by importance DESC, then created_at DESC.
func (s *Store) FindByCategory(ctx context.Context, category string, activeOnly bool) ([]Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM memory_nodes WHERE owner_id = ? AND category = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY importance DESC, created_at DESC`

	rows, err := s.q.QueryContext(ctx, query, s.owner, category)
	if err != nil {
		return nil, apperr.Storage("find by category", err)
	}
	defer rows.Close()
	nodes, err := scanNodes(rows)
	return nodes, apperr.Storage("find by category", err)
}

// FindByKeyword returns active nodes whose content or summary contains keyword.
func (s *Store) FindByKeyword(ctx context.Context, keyword string, limit int) ([]Node, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := likePattern(keyword)
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM memory_nodes
		WHERE owner_id = ? AND is_active = 1
			AND (content LIKE ? ESCAPE '\' OR summary LIKE ? ESCAPE '\')
		ORDER BY importance DESC, created_at DESC
		LIMIT ?
	`, s.owner, pattern, pattern, limit)
	if err != nil {
		return nil, apperr.Storage("find by keyword", err)
	}
	defer rows.Close()
	nodes, err := scanNodes(rows)
	return nodes, apperr.Storage("find by keyword", err)
}

// likePattern wraps keyword in % wildcards, escaping LIKE metacharacters.
func likePattern(keyword string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(keyword) + "%"
}

// IncrementAccessCount bumps access_count and last_accessed. Callers treat
// failures as non-fatal.
func (s *Store) IncrementAccessCount(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE memory_nodes SET access_count = access_count + 1, last_accessed = ?
		WHERE id = ? AND owner_id = ?
	`, millis(now()), id, s.owner)
	if err != nil {
		return fmt.Errorf("increment access count: %w", err)
	}
	return nil
}

// SetSupersededBy records the forward pointer from an updated node to its replacement.
func (s *Store) SetSupersededBy(ctx context.Context, id, replacementID string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE memory_nodes SET superseded_by = ? WHERE id = ? AND owner_id = ?
	`, replacementID, id, s.owner)
	if err != nil {
		return apperr.Storage("set superseded_by", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("set superseded_by", "node "+id)
	}
	return nil
}

// Deactivate soft-deletes a node. Returns false when the node does not exist.
func (s *Store) Deactivate(ctx context.Context, id string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE memory_nodes SET is_active = 0 WHERE id = ? AND owner_id = ?
	`, id, s.owner)
	if err != nil {
		return false, apperr.Storage("deactivate", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeactivateMany soft-deletes every node in ids and returns the rows affected.
func (s *Store) DeactivateMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, s.owner)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.q.ExecContext(ctx, fmt.Sprintf(
		`UPDATE memory_nodes SET is_active = 0 WHERE owner_id = ? AND id IN (%s)`, placeholders(len(ids))), args...)
	if err != nil {
		return 0, apperr.Storage("deactivate many", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DecayImportance multiplies importance by rate for active nodes not accessed
// since cutoff (or never accessed). Returns rows affected.
func (s *Store) DecayImportance(ctx context.Context, rate float64, cutoff time.Time) (int, error) {
	rate = ClampImportance(rate)
	res, err := s.q.ExecContext(ctx, `
		UPDATE memory_nodes SET importance = MAX(0.0, MIN(1.0, importance * ?))
		WHERE owner_id = ? AND is_active = 1
			AND (last_accessed IS NULL OR last_accessed < ?)
	`, rate, s.owner, millis(cutoff))
	if err != nil {
		return 0, apperr.Storage("decay importance", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneCandidates returns ids of active nodes with importance strictly below
// threshold, created before cutoff, and not accessed since cutoff.
func (s *Store) PruneCandidates(ctx context.Context, threshold float64, cutoff time.Time) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id FROM memory_nodes
		WHERE owner_id = ? AND is_active = 1
			AND importance < ?
			AND created_at < ?
			AND (last_accessed IS NULL OR last_accessed < ?)
		ORDER BY created_at
	`, s.owner, threshold, millis(cutoff), millis(cutoff))
	if err != nil {
		return nil, apperr.Storage("prune candidates", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage("prune candidates", err)
		}
		ids = append(ids, id)
	}
	return ids, apperr.Storage("prune candidates", rows.Err())
}

// History follows superseded_by pointers from id and returns every version,
// oldest first.
func (s *Store) History(ctx context.Context, id string) ([]Node, error) {
	var chain []Node
	seen := make(map[string]bool)
	for id != "" && !seen[id] {
		seen[id] = true
		n, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if n == nil {
			break
		}
		chain = append(chain, *n)
		id = n.SupersededBy
	}
	return chain, nil
}

// DeleteNode hard-deletes a node with its tags and every relationship touching it.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *Store) error {
		n, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if n == nil {
			return apperr.NotFound("delete node", "node "+id)
		}
		return tx.purge(ctx, []string{id})
	})
}

// DeleteNodeWithChildren deletes id and every node reachable by following
// incoming PART_OF edges, breadth first. Returns the deleted ids.
func (s *Store) DeleteNodeWithChildren(ctx context.Context, id string) ([]string, error) {
	var closure []string
	err := s.WithTx(ctx, func(tx *Store) error {
		root, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if root == nil {
			return apperr.NotFound("delete node with children", "node "+id)
		}

		visited := map[string]bool{id: true}
		queue := []string{id}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			closure = append(closure, current)

			children, err := tx.childIDs(ctx, current)
			if err != nil {
				return err
			}
			for _, c := range children {
				if !visited[c] {
					visited[c] = true
					queue = append(queue, c)
				}
			}
		}
		return tx.purge(ctx, closure)
	})
	if err != nil {
		return nil, err
	}
	return closure, nil
}

func (s *Store) childIDs(ctx context.Context, parentID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT r.source_id FROM memory_relationships r
		JOIN memory_nodes n ON n.id = r.source_id
		WHERE r.target_id = ? AND r.type = ? AND n.owner_id = ?
	`, parentID, RelPartOf, s.owner)
	if err != nil {
		return nil, apperr.Storage("child ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage("child ids", err)
		}
		ids = append(ids, id)
	}
	return ids, apperr.Storage("child ids", rows.Err())
}

// purge removes tags, relationships and finally the nodes themselves.
func (s *Store) purge(ctx context.Context, ids []string) error {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	ph := placeholders(len(ids))

	if _, err := s.q.ExecContext(ctx, `DELETE FROM memory_tags WHERE memory_id IN (`+ph+`)`, args...); err != nil {
		return apperr.Storage("delete tags", err)
	}
	relArgs := append(append([]any{}, args...), args...)
	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM memory_relationships WHERE source_id IN (`+ph+`) OR target_id IN (`+ph+`)`, relArgs...); err != nil {
		return apperr.Storage("delete relationships", err)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM memory_nodes WHERE id IN (`+ph+`)`, args...); err != nil {
		return apperr.Storage("delete nodes", err)
	}
	return nil
}
