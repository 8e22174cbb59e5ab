package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lazypower/memgraph/internal/apperr"
)

// Consolidation actions.
const (
	ActionUpdate = "update"
	ActionForget = "forget"
	ActionPrune  = "prune"
	ActionPurge  = "purge"
)

// logDetailsVersion is bumped whenever LogDetails gains incompatible fields.
const logDetailsVersion = 1

// LogDetails is the structured payload of a consolidation log entry.
type LogDetails struct {
	Version             int      `json:"v"`
	Reason              string   `json:"reason,omitempty"`
	Before              string   `json:"before,omitempty"`
	After               string   `json:"after,omitempty"`
	ImportanceThreshold *float64 `json:"importance_threshold,omitempty"`
	MinAgeDays          int      `json:"min_age_days,omitempty"`
	Count               int      `json:"count,omitempty"`
}

// LogEntry is an immutable audit record of a lifecycle change.
type LogEntry struct {
	ID          string     `json:"id"`
	Action      string     `json:"action"`
	AffectedIDs []string   `json:"affected_ids"`
	Details     LogDetails `json:"details"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AppendLog writes a consolidation log entry. There is no update or delete;
// the table rejects both.
func (s *Store) AppendLog(ctx context.Context, action string, affected []string, details LogDetails) (*LogEntry, error) {
	if affected == nil {
		affected = []string{}
	}
	details.Version = logDetailsVersion

	ids, err := json.Marshal(affected)
	if err != nil {
		return nil, fmt.Errorf("encode affected ids: %w", err)
	}
	det, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}

	created := now()
	entry := &LogEntry{
		ID:          newID(),
		Action:      action,
		AffectedIDs: affected,
		Details:     details,
		CreatedAt:   fromMillis(millis(created)),
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO consolidation_log (id, owner_id, action, affected_ids, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, s.owner, action, string(ids), string(det), millis(created))
	if err != nil {
		return nil, apperr.Storage("append log", err)
	}
	return entry, nil
}

// ConsolidationLog returns the newest entries first.
func (s *Store) ConsolidationLog(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, action, affected_ids, details, created_at FROM consolidation_log
		WHERE owner_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, s.owner, limit)
	if err != nil {
		return nil, apperr.Storage("consolidation log", err)
	}
	defer rows.Close()
	entries, err := scanLogEntries(rows)
	return entries, apperr.Storage("consolidation log", err)
}

// LogForNode returns every entry whose affected ids include nodeID, oldest first.
func (s *Store) LogForNode(ctx context.Context, nodeID string) ([]LogEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT l.id, l.action, l.affected_ids, l.details, l.created_at FROM consolidation_log l
		WHERE l.owner_id = ?
			AND EXISTS (SELECT 1 FROM json_each(l.affected_ids) j WHERE j.value = ?)
		ORDER BY l.created_at, l.rowid
	`, s.owner, nodeID)
	if err != nil {
		return nil, apperr.Storage("log for node", err)
	}
	defer rows.Close()
	entries, err := scanLogEntries(rows)
	return entries, apperr.Storage("log for node", err)
}

func scanLogEntries(rows *sql.Rows) ([]LogEntry, error) {
	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var ids string
		var det sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Action, &ids, &det, &createdAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &e.AffectedIDs); err != nil {
			return nil, fmt.Errorf("decode affected ids: %w", err)
		}
		if det.Valid && det.String != "" {
			if err := json.Unmarshal([]byte(det.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
		}
		e.CreatedAt = fromMillis(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
