package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/lazypower/memgraph/internal/apperr"
	"github.com/lazypower/memgraph/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db.Scoped("agent-1")
}

func remember(t *testing.T, s *store.Store, content, category string, importance float64, tags ...string) *store.Node {
	t.Helper()
	n, err := s.StoreNode(context.Background(), store.NodeInput{
		Content:    content,
		Category:   category,
		Importance: importance,
		Tags:       tags,
	})
	if err != nil {
		t.Fatalf("StoreNode %q: %v", content, err)
	}
	return n
}

func TestRecallOrdering(t *testing.T) {
	s := testStore(t)
	e := New(s)
	ctx := context.Background()

	a := remember(t, s, "Team lunch is on Fridays", store.CategoryFact, 0.9)
	b := remember(t, s, "The deploy pipeline runs on Buildkite", store.CategoryFact, 0.2)

	results, err := e.Recall(ctx, RecallQuery{Query: "deploy", Limit: 10, NoRelated: true})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Node.ID != b.ID || results[1].Node.ID != a.ID {
		t.Errorf("order = [%q, %q], want matching node first", results[0].Node.Content, results[1].Node.Content)
	}
	if math.Abs(results[0].Score-0.68) > 1e-9 {
		t.Errorf("B score = %f, want 0.68", results[0].Score)
	}
	if math.Abs(results[1].Score-0.56) > 1e-9 {
		t.Errorf("A score = %f, want 0.56", results[1].Score)
	}
}

func TestRecallCountsEveryScoredCandidate(t *testing.T) {
	s := testStore(t)
	e := New(s)
	ctx := context.Background()

	winner := remember(t, s, "golang generics", store.CategoryFact, 0.5)
	loser := remember(t, s, "unrelated note", store.CategoryFact, 0.1)

	results, err := e.Recall(ctx, RecallQuery{Query: "golang", Limit: 1, NoRelated: true})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 1 || results[0].Node.ID != winner.ID {
		t.Fatalf("results = %+v, want only the match", results)
	}

	for _, id := range []string{winner.ID, loser.ID} {
		n, _ := s.FindByID(ctx, id)
		if n.AccessCount != 1 {
			t.Errorf("%q access_count = %d, want 1", n.Content, n.AccessCount)
		}
	}
}

func TestRecallExpandsRelated(t *testing.T) {
	s := testStore(t)
	e := New(s)
	ctx := context.Background()

	hit := remember(t, s, "Postgres primary in eu-west", store.CategoryFact, 0.5, "db")
	neighbour := remember(t, s, "Failover runbook lives in the wiki", store.CategoryKnowledge, 0.5)
	if _, err := s.CreateRelationship(ctx, hit.ID, neighbour.ID, store.RelRelatesTo, 1, ""); err != nil {
		t.Fatalf("CreateRelationship: %v", err)
	}

	results, err := e.Recall(ctx, RecallQuery{Query: "Postgres", Category: store.CategoryFact, Limit: 5})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want ranked hit plus one related", len(results))
	}
	if results[0].IsRelated || len(results[0].Tags) != 1 {
		t.Errorf("first result = %+v, want ranked hit with its tag", results[0])
	}
	rel := results[1]
	if !rel.IsRelated || rel.Score != 0 || rel.Node.ID != neighbour.ID {
		t.Errorf("related result = %+v", rel)
	}

	n, _ := s.FindByID(ctx, neighbour.ID)
	if n.AccessCount != 0 {
		t.Errorf("related node access_count = %d, want 0", n.AccessCount)
	}
}

func TestRecallEmptyQuery(t *testing.T) {
	s := testStore(t)
	e := New(s)

	remember(t, s, "low", store.CategoryFact, 0.1)
	high := remember(t, s, "high", store.CategoryFact, 0.9)

	results, err := e.Recall(context.Background(), RecallQuery{Limit: 10})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 2 || results[0].Node.ID != high.ID {
		t.Errorf("empty query should rank by importance: %+v", results)
	}
}

func TestRecallLimitZero(t *testing.T) {
	s := testStore(t)
	e := New(s)
	remember(t, s, "anything", store.CategoryFact, 0.5)

	results, err := e.Recall(context.Background(), RecallQuery{Query: "anything"})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}

	if _, err := e.Recall(context.Background(), RecallQuery{Limit: -1}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("negative limit err = %v, want validation", err)
	}
}

func TestRecallRejectsOutOfRangeWeights(t *testing.T) {
	s := testStore(t)
	e := New(s)
	remember(t, s, "anything", store.CategoryFact, 0.5)

	for _, w := range []Weights{
		{Recency: -1, Importance: 0.4, Relevance: 0.4},
		{Recency: 0.2, Importance: 1.5, Relevance: 0.4},
		{Recency: 0.2, Importance: 0.4, Relevance: math.NaN()},
	} {
		w := w
		_, err := e.Recall(context.Background(), RecallQuery{Query: "anything", Limit: 5, Weights: &w})
		if !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("weights %+v err = %v, want validation", w, err)
		}
	}

	ok := Weights{Recency: 0, Importance: 1, Relevance: 1}
	if _, err := e.Recall(context.Background(), RecallQuery{Query: "anything", Limit: 5, Weights: &ok}); err != nil {
		t.Errorf("boundary weights rejected: %v", err)
	}
}

func TestRecallTagFilter(t *testing.T) {
	s := testStore(t)
	e := New(s)

	tagged := remember(t, s, "k8s ingress", store.CategoryFact, 0.5, "infra", "k8s")
	remember(t, s, "k8s tutorial", store.CategoryFact, 0.9)

	results, err := e.Recall(context.Background(), RecallQuery{Query: "k8s", Tags: []string{"infra"}, Limit: 10})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 1 || results[0].Node.ID != tagged.ID {
		t.Errorf("tag filter results = %+v", results)
	}
}

func TestRecallExcludesSuperseded(t *testing.T) {
	s := testStore(t)
	e := New(s)
	ctx := context.Background()

	old := remember(t, s, "API lives on port 8080", store.CategoryFact, 0.5)
	if _, err := e.Update(ctx, old.ID, "API lives on port 9090", "moved"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	results, err := e.Recall(ctx, RecallQuery{Query: "API", Limit: 10})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	for _, r := range results {
		if r.Node.ID == old.ID {
			t.Error("superseded node returned by recall")
		}
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want 1", len(results))
	}
}

type fixedMatcher struct {
	cands []store.Candidate
}

func (m fixedMatcher) Candidates(ctx context.Context, s *store.Store, q store.CandidateQuery) ([]store.Candidate, error) {
	return m.cands, nil
}

func TestRecallCustomMatcherAndWeights(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	n := remember(t, s, "anything", store.CategoryFact, 0.5)

	e := New(s,
		WithMatcher(fixedMatcher{cands: []store.Candidate{{Node: *n, Relevance: 0.25}}}),
		WithWeights(Weights{Relevance: 1}),
	)
	results, err := e.Recall(ctx, RecallQuery{Query: "ignored", Limit: 1})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 1 || results[0].Score != 0.25 {
		t.Errorf("results = %+v, want score 0.25", results)
	}

	override := Weights{Importance: 1}
	results, _ = e.Recall(ctx, RecallQuery{Limit: 1, Weights: &override})
	if len(results) != 1 || results[0].Score != 0.5 {
		t.Errorf("override results = %+v, want score 0.5", results)
	}
}

func TestRecencyScore(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	if got := recencyScore(now, now); got != 1 {
		t.Errorf("same-day recency = %f, want 1", got)
	}
	if got := recencyScore(now.Add(-12*time.Hour), now); got != 1 {
		t.Errorf("half-day recency = %f, want 1", got)
	}

	tenDays := recencyScore(now.Add(-10*24*time.Hour), now)
	want := 1 / (1 + math.Log(10))
	if math.Abs(tenDays-want) > 1e-9 {
		t.Errorf("10-day recency = %f, want %f", tenDays, want)
	}
	if hundred := recencyScore(now.Add(-100*24*time.Hour), now); hundred >= tenDays {
		t.Errorf("older nodes should score lower: %f >= %f", hundred, tenDays)
	}
}
