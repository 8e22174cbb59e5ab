package store

import (
	"context"
	"errors"
	"testing"

	"github.com/lazypower/memgraph/internal/apperr"
)

func ingestPayload() JobPayload {
	return JobPayload{Ingest: &IngestPayload{Title: "Runbook", Content: "one\n\ntwo"}}
}

func TestJobLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	job, err := db.CreateJob(ctx, JobTypeIngest, ingestPayload())
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Status != JobPending {
		t.Errorf("status = %q, want pending", job.Status)
	}

	if err := db.StartJob(ctx, job.ID, 2); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if err := db.UpdateJobProgress(ctx, job.ID, 1); err != nil {
		t.Fatalf("UpdateJobProgress: %v", err)
	}
	if err := db.CompleteJob(ctx, job.ID, JobResult{DocumentID: "doc", NodeIDs: []string{"p1", "p2"}}); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	got, err := db.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != JobCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Progress != 2 {
		t.Errorf("progress = %d, want 2", got.Progress)
	}
	if got.Result == nil || len(got.Result.NodeIDs) != 2 || got.Result.Version != jobSchemaVersion {
		t.Errorf("result = %+v", got.Result)
	}
	if got.Payload.Ingest == nil || got.Payload.Ingest.Title != "Runbook" {
		t.Errorf("payload = %+v", got.Payload)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("expected started_at and completed_at")
	}
}

func TestJobIllegalTransitions(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	job, _ := db.CreateJob(ctx, JobTypeIngest, ingestPayload())

	if err := db.CompleteJob(ctx, job.ID, JobResult{}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("complete pending job err = %v, want conflict", err)
	}

	db.StartJob(ctx, job.ID, 1)
	if err := db.FailJob(ctx, job.ID, "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if err := db.StartJob(ctx, job.ID, 1); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("restart failed job err = %v, want conflict", err)
	}
	if err := db.StartJob(ctx, "missing", 1); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("start missing job err = %v, want not found", err)
	}

	got, _ := db.GetJob(ctx, job.ID)
	if got.Status != JobFailed || got.Error != "boom" {
		t.Errorf("job = %s / %q, want failed / boom", got.Status, got.Error)
	}
}

func TestCreateJobPayloadMismatch(t *testing.T) {
	db := testDB(t)

	_, err := db.CreateJob(context.Background(), JobTypeIngest, JobPayload{})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestListJobs(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a, _ := db.CreateJob(ctx, JobTypeIngest, ingestPayload())
	db.CreateJob(ctx, JobTypeIngest, ingestPayload())
	db.StartJob(ctx, a.ID, 1)

	all, err := db.ListJobs(ctx, "")
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("jobs = %d, want 2", len(all))
	}

	pending, err := db.ListJobs(ctx, JobPending)
	if err != nil {
		t.Fatalf("ListJobs pending: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
}
