package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lazypower/memgraph/internal/apperr"
	"github.com/lazypower/memgraph/internal/store"
)

const defaultIngestImportance = 0.5

// SubmitIngest queues a document for splitting into PART_OF fragments.
func (e *Engine) SubmitIngest(ctx context.Context, p store.IngestPayload) (*store.Job, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, apperr.Validation("ingest", "title is required")
	}
	if strings.TrimSpace(p.Content) == "" {
		return nil, apperr.Validation("ingest", "content is required")
	}
	return e.Store.DB().CreateJob(ctx, store.JobTypeIngest, store.JobPayload{Ingest: &p})
}

// Ingest queues and immediately runs an ingest job.
func (e *Engine) Ingest(ctx context.Context, p store.IngestPayload) (*store.Job, error) {
	job, err := e.SubmitIngest(ctx, p)
	if err != nil {
		return nil, err
	}
	return e.RunJob(ctx, job.ID)
}

// RunJob executes a pending job to completion or failure and returns its
// final state. A job failure is recorded on the job, not returned.
func (e *Engine) RunJob(ctx context.Context, id string) (*store.Job, error) {
	db := e.Store.DB()
	job, err := db.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperr.NotFound("run job", "job "+id)
	}

	switch job.Type {
	case store.JobTypeIngest:
		err = e.runIngest(ctx, job)
	default:
		return nil, apperr.Validation("run job", "unknown job type %q", job.Type)
	}
	if err != nil {
		return nil, err
	}
	return db.GetJob(ctx, id)
}

// runIngest stores a document node plus one node per paragraph, each linked
// child -> document with PART_OF. On failure the partial document is purged
// and the job marked failed.
func (e *Engine) runIngest(ctx context.Context, job *store.Job) error {
	db := e.Store.DB()
	p := job.Payload.Ingest
	if p == nil {
		return apperr.Validation("run ingest", "job %s has no ingest payload", job.ID)
	}
	paragraphs := splitParagraphs(p.Content)
	if err := db.StartJob(ctx, job.ID, len(paragraphs)); err != nil {
		return err
	}

	category := p.Category
	if category == "" {
		category = store.CategoryKnowledge
	}
	importance := p.Importance
	if importance == 0 {
		importance = defaultIngestImportance
	}

	doc, err := e.Store.StoreNode(ctx, store.NodeInput{
		Content:    p.Title,
		Category:   category,
		Importance: importance,
		SourceType: "document",
		SourceRef:  p.SourceRef,
		Tags:       p.Tags,
	})
	if err != nil {
		return e.failJob(ctx, job.ID, "", err)
	}

	result := store.JobResult{DocumentID: doc.ID}
	for i, para := range paragraphs {
		n, err := e.Store.StoreNode(ctx, store.NodeInput{
			Content:     para.Text,
			Category:    category,
			Importance:  importance,
			SourceType:  "document",
			SourceRef:   p.SourceRef,
			SourceRange: para.Lines.String(),
			Tags:        p.Tags,
		})
		if err != nil {
			return e.failJob(ctx, job.ID, doc.ID, fmt.Errorf("paragraph %d: %w", i+1, err))
		}
		if _, err := e.Store.CreateRelationship(ctx, n.ID, doc.ID, store.RelPartOf, 1.0, ""); err != nil {
			return e.failJob(ctx, job.ID, doc.ID, fmt.Errorf("link paragraph %d: %w", i+1, err))
		}
		result.NodeIDs = append(result.NodeIDs, n.ID)

		if err := db.UpdateJobProgress(ctx, job.ID, i+1); err != nil {
			e.log.Warn("ingest: update progress", zap.Error(err), zap.String("job_id", job.ID))
		}
	}

	return db.CompleteJob(ctx, job.ID, result)
}

func (e *Engine) failJob(ctx context.Context, jobID, docID string, cause error) error {
	if docID != "" {
		if _, err := e.Store.DeleteNodeWithChildren(ctx, docID); err != nil {
			e.log.Warn("ingest: clean up partial document", zap.Error(err), zap.String("node_id", docID))
		}
	}
	e.log.Warn("ingest failed", zap.Error(cause), zap.String("job_id", jobID))
	return e.Store.DB().FailJob(ctx, jobID, cause.Error())
}
