package engine

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/memgraph/internal/apperr"
	"github.com/lazypower/memgraph/internal/store"
)

// relatedPerResult caps one-hop expansion per ranked result.
const relatedPerResult = 2

// RecallQuery controls a recall call. Limit is taken literally: zero yields no
// scored results.
type RecallQuery struct {
	Query    string   `json:"query"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Limit    int      `json:"limit"`
	// NoRelated disables one-hop relationship expansion.
	NoRelated bool     `json:"no_related,omitempty"`
	Weights   *Weights `json:"weights,omitempty"`
}

// RecallResult is a ranked node. Related nodes carry Score 0 and IsRelated.
type RecallResult struct {
	Node      store.Node `json:"node"`
	Score     float64    `json:"score"`
	Tags      []string   `json:"tags"`
	IsRelated bool       `json:"is_related"`
}

// Recall ranks active nodes by weighted relevance, importance and recency,
// then appends up to two outgoing neighbours of each result.
func (e *Engine) Recall(ctx context.Context, q RecallQuery) ([]RecallResult, error) {
	start := time.Now()
	if q.Limit < 0 {
		return nil, apperr.Validation("recall", "limit must not be negative")
	}
	w := e.weights
	if q.Weights != nil {
		if err := q.Weights.Validate(); err != nil {
			return nil, err
		}
		w = *q.Weights
	}

	var results []RecallResult
	if q.Limit > 0 {
		cands, err := e.matcher.Candidates(ctx, e.Store, store.CandidateQuery{
			Query:    q.Query,
			Category: q.Category,
			Tags:     q.Tags,
			Limit:    2 * q.Limit,
		})
		if err != nil {
			return nil, err
		}

		now := e.now()
		results = make([]RecallResult, 0, len(cands))
		for _, c := range cands {
			score := c.Relevance*w.Relevance + c.Node.Importance*w.Importance + recencyScore(c.Node.CreatedAt, now)*w.Recency
			results = append(results, RecallResult{Node: c.Node, Score: score})

			if err := e.Store.IncrementAccessCount(ctx, c.Node.ID); err != nil {
				e.log.Warn("recall: increment access count", zap.Error(err), zap.String("node_id", c.Node.ID))
			}
		}

		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Score > results[j].Score
		})
		if len(results) > q.Limit {
			results = results[:q.Limit]
		}
	}

	if !q.NoRelated {
		results = e.expandRelated(ctx, results)
	}

	for i := range results {
		tags, err := e.Store.TagsFor(ctx, results[i].Node.ID)
		if err != nil {
			e.log.Warn("recall: load tags", zap.Error(err), zap.String("node_id", results[i].Node.ID))
			continue
		}
		results[i].Tags = tags
	}

	e.metrics.RecordRecall(time.Since(start), len(results))
	return results, nil
}

// expandRelated appends outgoing neighbours not already present. One hop only.
func (e *Engine) expandRelated(ctx context.Context, results []RecallResult) []RecallResult {
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		seen[r.Node.ID] = true
	}

	ranked := len(results)
	for i := 0; i < ranked; i++ {
		related, err := e.Store.RelatedNodes(ctx, results[i].Node.ID, relatedPerResult)
		if err != nil {
			e.log.Warn("recall: related nodes", zap.Error(err), zap.String("node_id", results[i].Node.ID))
			continue
		}
		for _, n := range related {
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			results = append(results, RecallResult{Node: n, IsRelated: true})
		}
	}
	return results
}

// recencyScore is 1/(1+ln(days)) with days floored at 1.
func recencyScore(created, now time.Time) float64 {
	days := now.Sub(created).Hours() / 24
	if days < 1 {
		days = 1
	}
	return 1 / (1 + math.Log(days))
}
