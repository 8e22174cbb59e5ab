package engine

import (
	"context"

	"github.com/lazypower/memgraph/internal/store"
)

// Matcher selects and pre-orders recall candidates. Implementations set each
// candidate's Relevance in [0,1]; the scoring formula does not change.
type Matcher interface {
	Candidates(ctx context.Context, s *store.Store, q store.CandidateQuery) ([]store.Candidate, error)
}

// SubstringMatcher flags a candidate 1.0 when its content or summary
// contains the query, else 0.0.
type SubstringMatcher struct{}

func (SubstringMatcher) Candidates(ctx context.Context, s *store.Store, q store.CandidateQuery) ([]store.Candidate, error) {
	return s.SubstringCandidates(ctx, q)
}
