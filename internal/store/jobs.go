package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lazypower/memgraph/internal/apperr"
)

// Job statuses. Transitions only move forward:
// pending -> processing -> completed | failed.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Job types.
const (
	JobTypeIngest = "ingest"
)

const jobSchemaVersion = 1

// IngestPayload describes a document to split into PART_OF fragments.
type IngestPayload struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Category   string   `json:"category,omitempty"`
	Importance float64  `json:"importance,omitempty"`
	SourceRef  string   `json:"source_ref,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// JobPayload is a versioned tagged union: exactly one variant is set and it
// matches the job type.
type JobPayload struct {
	Version int            `json:"v"`
	Ingest  *IngestPayload `json:"ingest,omitempty"`
}

// JobResult is the versioned outcome of a completed job.
type JobResult struct {
	Version    int      `json:"v"`
	DocumentID string   `json:"document_id,omitempty"`
	NodeIDs    []string `json:"node_ids,omitempty"`
}

// Job is a unit of deferred, possibly multi-step work local to a pack.
type Job struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Payload     JobPayload `json:"payload"`
	Result      *JobResult `json:"result,omitempty"`
	Progress    int        `json:"progress"`
	TotalSteps  int        `json:"total_steps"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (p JobPayload) matches(jobType string) bool {
	switch jobType {
	case JobTypeIngest:
		return p.Ingest != nil
	}
	return false
}

// CreateJob queues a pending job.
func (db *DB) CreateJob(ctx context.Context, jobType string, payload JobPayload) (*Job, error) {
	if !payload.matches(jobType) {
		return nil, apperr.Validation("create job", "payload does not match job type %q", jobType)
	}
	payload.Version = jobSchemaVersion
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	created := now()
	job := &Job{
		ID:        newID(),
		Type:      jobType,
		Status:    JobPending,
		Payload:   payload,
		CreatedAt: fromMillis(millis(created)),
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, payload, created_at) VALUES (?, ?, ?, ?, ?)
	`, job.ID, job.Type, job.Status, string(raw), millis(created))
	if err != nil {
		return nil, apperr.Storage("create job", err)
	}
	return job, nil
}

// StartJob moves a pending job to processing with totalSteps planned.
func (db *DB) StartJob(ctx context.Context, id string, totalSteps int) error {
	return db.transition(ctx, "start job", id, JobPending, `
		UPDATE jobs SET status = 'processing', started_at = ?, total_steps = ?
		WHERE id = ? AND status = 'pending'
	`, millis(now()), totalSteps, id)
}

// UpdateJobProgress records progress on a processing job.
func (db *DB) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	return db.transition(ctx, "update job progress", id, JobProcessing, `
		UPDATE jobs SET progress = ? WHERE id = ? AND status = 'processing'
	`, progress, id)
}

// CompleteJob finishes a processing job with result.
func (db *DB) CompleteJob(ctx context.Context, id string, result JobResult) error {
	result.Version = jobSchemaVersion
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return db.transition(ctx, "complete job", id, JobProcessing, `
		UPDATE jobs SET status = 'completed', result = ?, progress = total_steps, completed_at = ?
		WHERE id = ? AND status = 'processing'
	`, string(raw), millis(now()), id)
}

// FailJob marks a processing job failed with message.
func (db *DB) FailJob(ctx context.Context, id string, message string) error {
	return db.transition(ctx, "fail job", id, JobProcessing, `
		UPDATE jobs SET status = 'failed', error = ?, completed_at = ?
		WHERE id = ? AND status = 'processing'
	`, message, millis(now()), id)
}

// transition runs a guarded status update and classifies a zero-row result.
func (db *DB) transition(ctx context.Context, op, id, from, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.Storage(op, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	job, err := db.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return apperr.NotFound(op, "job "+id)
	}
	return apperr.Conflict(op, "job %s is %s, want %s", id, job.Status, from)
}

const jobColumns = `id, type, status, payload, result, progress, total_steps, error, created_at, started_at, completed_at`

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var payload, result, errText sql.NullString
	var createdAt int64
	var startedAt, completedAt sql.NullInt64
	if err := row.Scan(&j.ID, &j.Type, &j.Status, &payload, &result, &j.Progress, &j.TotalSteps,
		&errText, &createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &j.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	if result.Valid && result.String != "" {
		j.Result = &JobResult{}
		if err := json.Unmarshal([]byte(result.String), j.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	j.Error = errText.String
	j.CreatedAt = fromMillis(createdAt)
	j.StartedAt = nullTime(startedAt)
	j.CompletedAt = nullTime(completedAt)
	return &j, nil
}

// GetJob returns a job by id, or nil if not found.
func (db *DB) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("get job", err)
	}
	return j, nil
}

// ListJobs returns jobs oldest first, optionally filtered by status.
func (db *DB) ListJobs(ctx context.Context, status string) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("list jobs", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Storage("list jobs", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, apperr.Storage("list jobs", rows.Err())
}
