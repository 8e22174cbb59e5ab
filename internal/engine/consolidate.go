package engine

import (
	"context"
	"time"

	"github.com/lazypower/memgraph/internal/apperr"
	"github.com/lazypower/memgraph/internal/store"
)

// excerptChars bounds the before/after text copied into log details.
const excerptChars = 200

// Update replaces a node with a new version carrying newContent. The old node
// is deactivated, points at the replacement through superseded_by, and gains
// an EVOLVED_INTO edge to it (old -> new). Category, importance and tags are
// copied. Everything, including the log entry, commits together.
func (e *Engine) Update(ctx context.Context, id, newContent, reason string) (*store.Node, error) {
	var replacement *store.Node
	err := e.Store.WithTx(ctx, func(tx *store.Store) error {
		old, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if old == nil {
			return apperr.NotFound("update", "node "+id)
		}
		if !old.IsActive {
			return apperr.Conflict("update", "node %s is no longer active", id)
		}

		tags, err := tx.TagsFor(ctx, id)
		if err != nil {
			return err
		}

		replacement, err = tx.StoreNode(ctx, store.NodeInput{
			Content:    newContent,
			Category:   old.Category,
			Importance: old.Importance,
			Confidence: old.Confidence,
			SourceType: "derived",
			SourceRef:  old.ID,
			Tags:       tags,
		})
		if err != nil {
			return err
		}

		if _, err := tx.CreateRelationship(ctx, old.ID, replacement.ID, store.RelEvolvedInto, 1.0, reason); err != nil {
			return err
		}
		if err := tx.SetSupersededBy(ctx, old.ID, replacement.ID); err != nil {
			return err
		}
		if _, err := tx.Deactivate(ctx, old.ID); err != nil {
			return err
		}

		_, err = tx.AppendLog(ctx, store.ActionUpdate, []string{old.ID, replacement.ID}, store.LogDetails{
			Reason: reason,
			Before: store.Truncate(old.Content, excerptChars),
			After:  store.Truncate(replacement.Content, excerptChars),
		})
		return err
	})
	if err != nil {
		return nil, apperr.Storage("update", err)
	}
	e.metrics.RecordConsolidation(store.ActionUpdate, 1)
	return replacement, nil
}

// Forget soft-deletes a node. Returns false, with no log entry, when the node
// does not exist.
func (e *Engine) Forget(ctx context.Context, id, reason string) (bool, error) {
	var forgotten bool
	err := e.Store.WithTx(ctx, func(tx *store.Store) error {
		n, err := tx.FindByID(ctx, id)
		if err != nil || n == nil {
			return err
		}
		if forgotten, err = tx.Deactivate(ctx, id); err != nil || !forgotten {
			return err
		}
		_, err = tx.AppendLog(ctx, store.ActionForget, []string{id}, store.LogDetails{
			Reason: reason,
			Before: store.Truncate(n.Content, excerptChars),
		})
		return err
	})
	if err != nil {
		return false, apperr.Storage("forget", err)
	}
	if forgotten {
		e.metrics.RecordConsolidation(store.ActionForget, 1)
	}
	return forgotten, nil
}

// DecayImportance multiplies importance by rate for active nodes not accessed
// in the last minDaysSinceAccess days. No log entry is written.
func (e *Engine) DecayImportance(ctx context.Context, rate float64, minDaysSinceAccess int) (int, error) {
	if rate <= 0 || rate > 1 {
		return 0, apperr.Validation("decay", "decay rate %v outside (0,1]", rate)
	}
	if minDaysSinceAccess < 0 {
		return 0, apperr.Validation("decay", "min days since access must not be negative")
	}
	cutoff := e.now().Add(-days(minDaysSinceAccess))
	n, err := e.Store.DecayImportance(ctx, rate, cutoff)
	if err != nil {
		return 0, err
	}
	e.metrics.RecordConsolidation("decay", n)
	return n, nil
}

// Prune soft-deletes active nodes with importance strictly below threshold
// that were created, and not accessed since, minAgeDays ago. One log entry
// lists every pruned id; nothing is logged when nothing qualifies.
func (e *Engine) Prune(ctx context.Context, threshold float64, minAgeDays int) (int, error) {
	if threshold < 0 || threshold > 1 {
		return 0, apperr.Validation("prune", "importance threshold %v outside [0,1]", threshold)
	}
	if minAgeDays < 0 {
		return 0, apperr.Validation("prune", "min age days must not be negative")
	}
	cutoff := e.now().Add(-days(minAgeDays))

	var pruned int
	err := e.Store.WithTx(ctx, func(tx *store.Store) error {
		ids, err := tx.PruneCandidates(ctx, threshold, cutoff)
		if err != nil || len(ids) == 0 {
			return err
		}
		if pruned, err = tx.DeactivateMany(ctx, ids); err != nil {
			return err
		}
		_, err = tx.AppendLog(ctx, store.ActionPrune, ids, store.LogDetails{
			ImportanceThreshold: &threshold,
			MinAgeDays:          minAgeDays,
			Count:               len(ids),
		})
		return err
	})
	if err != nil {
		return 0, apperr.Storage("prune", err)
	}
	e.metrics.RecordConsolidation(store.ActionPrune, pruned)
	return pruned, nil
}

// Purge hard-deletes a node, and with children every node that is PART_OF
// it, logging the removed ids.
func (e *Engine) Purge(ctx context.Context, id string, children bool, reason string) ([]string, error) {
	var deleted []string
	err := e.Store.WithTx(ctx, func(tx *store.Store) error {
		var err error
		if children {
			deleted, err = tx.DeleteNodeWithChildren(ctx, id)
		} else if err = tx.DeleteNode(ctx, id); err == nil {
			deleted = []string{id}
		}
		if err != nil {
			return err
		}
		_, err = tx.AppendLog(ctx, store.ActionPurge, deleted, store.LogDetails{Reason: reason, Count: len(deleted)})
		return err
	})
	if err != nil {
		return nil, apperr.Storage("purge", err)
	}
	e.metrics.RecordConsolidation(store.ActionPurge, len(deleted))
	return deleted, nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
