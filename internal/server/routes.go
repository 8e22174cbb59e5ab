package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/memgraph/internal/apperr"
	"github.com/lazypower/memgraph/internal/engine"
	"github.com/lazypower/memgraph/internal/store"
)

type storeRequest struct {
	Content     string   `json:"content"`
	Category    string   `json:"category"`
	Importance  *float64 `json:"importance"`
	Confidence  float64  `json:"confidence"`
	Summary     string   `json:"summary"`
	SourceType  string   `json:"source_type"`
	SourceRef   string   `json:"source_ref"`
	SourceRange string   `json:"source_range"`
	Tags        []string `json:"tags"`
	RelatesTo   string   `json:"relates_to"`
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	importance := 0.5
	if req.Importance != nil {
		importance = *req.Importance
	}

	st := s.db.Scoped(ownerFrom(r.Context()))
	n, err := st.StoreNode(r.Context(), store.NodeInput{
		Content:     req.Content,
		Category:    req.Category,
		Importance:  importance,
		Confidence:  req.Confidence,
		Summary:     req.Summary,
		SourceType:  req.SourceType,
		SourceRef:   req.SourceRef,
		SourceRange: req.SourceRange,
		Tags:        req.Tags,
		RelatesTo:   req.RelatesTo,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	tags, _ := st.TagsFor(r.Context(), n.ID)
	writeOK(w, http.StatusCreated, map[string]any{"memory": n, "tags": tags})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st := s.db.Scoped(ownerFrom(r.Context()))

	n, err := st.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if n == nil {
		writeError(w, apperr.NotFound("get memory", "memory "+id))
		return
	}
	tags, err := st.TagsFor(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	rels, err := st.RelationshipsTouching(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"memory": n, "tags": tags, "relationships": rels})
}

// handleList lists by keyword when q is set, otherwise by category.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	st := s.db.Scoped(ownerFrom(r.Context()))

	var (
		nodes []store.Node
		err   error
	)
	switch {
	case q.Get("q") != "":
		limit, perr := intParam(r, "limit", s.cfg.Recall.Limit)
		if perr != nil {
			writeError(w, perr)
			return
		}
		nodes, err = st.FindByKeyword(r.Context(), q.Get("q"), limit)
	case q.Get("category") != "":
		nodes, err = st.FindByCategory(r.Context(), q.Get("category"), q.Get("all") != "true")
	default:
		err = apperr.Validation("list memories", "category or q is required")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if nodes == nil {
		nodes = []store.Node{}
	}
	writeOK(w, http.StatusOK, map[string]any{"memories": nodes, "count": len(nodes)})
}

type recallRequest struct {
	Query          string          `json:"query"`
	Category       string          `json:"category"`
	Tags           []string        `json:"tags"`
	Limit          *int            `json:"limit"`
	IncludeRelated *bool           `json:"include_related"`
	Weights        *engine.Weights `json:"weights"`
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	q := engine.RecallQuery{
		Query:    req.Query,
		Category: strings.ToLower(strings.TrimSpace(req.Category)),
		Tags:     req.Tags,
		Limit:    s.cfg.Recall.Limit,
		Weights:  req.Weights,
	}
	if req.Limit != nil {
		q.Limit = *req.Limit
	}
	if req.IncludeRelated != nil {
		q.NoRelated = !*req.IncludeRelated
	}

	results, err := s.engineFor(r.Context()).Recall(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []engine.RecallResult{}
	}
	writeOK(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st := s.db.Scoped(ownerFrom(r.Context()))

	chain, err := st.History(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(chain) == 0 {
		writeError(w, apperr.NotFound("history", "memory "+id))
		return
	}
	logs, err := st.LogForNode(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"versions": chain, "log": logs})
}

type updateRequest struct {
	Content string `json:"content"`
	Reason  string `json:"reason"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	n, err := s.engineFor(r.Context()).Update(r.Context(), chi.URLParam(r, "id"), req.Content, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"memory": n, "superseded": chi.URLParam(r, "id")})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	ok, err := s.engineFor(r.Context()).Forget(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.NotFound("forget", "memory "+id))
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"forgotten": id})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	children := r.URL.Query().Get("children") == "true"
	deleted, err := s.engineFor(r.Context()).Purge(r.Context(), chi.URLParam(r, "id"), children, r.URL.Query().Get("reason"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"deleted": deleted})
}

type tagRequest struct {
	Tag string `json:"tag"`
}

func (s *Server) handleAddTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tag, err := s.db.Scoped(ownerFrom(r.Context())).AddTag(r.Context(), chi.URLParam(r, "id"), req.Tag)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"tag": tag})
}

func (s *Server) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	removed, err := s.db.Scoped(ownerFrom(r.Context())).RemoveTag(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "tag"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"removed": removed})
}

type relationshipRequest struct {
	SourceID string   `json:"source_id"`
	TargetID string   `json:"target_id"`
	Type     string   `json:"type"`
	Strength *float64 `json:"strength"`
	Context  string   `json:"context"`
	Unique   bool     `json:"unique"`
}

func (s *Server) handleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req relationshipRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Type == "" {
		req.Type = store.RelRelatesTo
	}
	strength := 1.0
	if req.Strength != nil {
		strength = *req.Strength
	}

	st := s.db.Scoped(ownerFrom(r.Context()))
	if req.Unique {
		exists, err := st.RelationshipExists(r.Context(), req.SourceID, req.TargetID, req.Type)
		if err != nil {
			writeError(w, err)
			return
		}
		if exists {
			writeError(w, apperr.Conflict("create relationship", "%s edge already exists", req.Type))
			return
		}
	}
	rel, err := st.CreateRelationship(r.Context(), req.SourceID, req.TargetID, req.Type, strength, req.Context)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"relationship": rel})
}

type decayRequest struct {
	Rate    *float64 `json:"rate"`
	MinDays *int     `json:"min_days"`
}

func (s *Server) handleDecay(w http.ResponseWriter, r *http.Request) {
	var req decayRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rate, minDays := s.cfg.Consolidation.DecayRate, s.cfg.Consolidation.DecayMinDays
	if req.Rate != nil {
		rate = *req.Rate
	}
	if req.MinDays != nil {
		minDays = *req.MinDays
	}
	n, err := s.engineFor(r.Context()).DecayImportance(r.Context(), rate, minDays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"decayed": n})
}

type pruneRequest struct {
	Threshold  *float64 `json:"threshold"`
	MinAgeDays *int     `json:"min_age_days"`
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	var req pruneRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	threshold, minAge := s.cfg.Consolidation.PruneThreshold, s.cfg.Consolidation.PruneMinAgeDays
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if req.MinAgeDays != nil {
		minAge = *req.MinAgeDays
	}
	n, err := s.engineFor(r.Context()).Prune(r.Context(), threshold, minAge)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"pruned": n})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.db.Scoped(ownerFrom(r.Context())).ConsolidationLog(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []store.LogEntry{}
	}
	writeOK(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.db.Scoped(ownerFrom(r.Context())).Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"stats": st})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.db.Scoped(ownerFrom(r.Context())).Graph(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"nodes": g.Nodes, "edges": g.Edges})
}
