package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lazypower/memgraph/internal/config"
	"github.com/lazypower/memgraph/internal/engine"
	"github.com/lazypower/memgraph/internal/library"
	"github.com/lazypower/memgraph/internal/metrics"
	"github.com/lazypower/memgraph/internal/store"
)

// Deps are the collaborators a Server routes requests to. Library may be nil
// when no library is configured.
type Deps struct {
	DB      *store.DB
	Config  *config.Config
	Library *library.Aggregator
	Metrics *metrics.Manager
	Logger  *zap.Logger
	Version string
}

// Server is the memgraph HTTP API server.
type Server struct {
	db      *store.DB
	cfg     *config.Config
	lib     *library.Aggregator
	metrics *metrics.Manager
	log     *zap.Logger
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server.
func New(d Deps) *Server {
	cfg := d.Config
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		db:      d.DB,
		cfg:     cfg,
		lib:     d.Library,
		metrics: d.Metrics,
		log:     log,
		version: d.Version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)

	if s.metrics.Enabled() {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.ownerScope)

			r.Post("/memories", s.handleStore)
			r.Get("/memories", s.handleList)
			r.Post("/memories/recall", s.handleRecall)
			r.Get("/memories/{id}", s.handleGet)
			r.Get("/memories/{id}/history", s.handleHistory)
			r.Post("/memories/{id}/update", s.handleUpdate)
			r.Post("/memories/{id}/forget", s.handleForget)
			r.Delete("/memories/{id}", s.handleDelete)
			r.Post("/memories/{id}/tags", s.handleAddTag)
			r.Delete("/memories/{id}/tags/{tag}", s.handleRemoveTag)

			r.Post("/relationships", s.handleCreateRelationship)

			r.Post("/consolidation/decay", s.handleDecay)
			r.Post("/consolidation/prune", s.handlePrune)
			r.Get("/consolidation/log", s.handleLog)

			r.Get("/stats", s.handleStats)
			r.Get("/graph", s.handleGraph)
		})

		r.Get("/library/graph", s.handleLibraryGraph)
		r.Post("/library/sync", s.handleLibrarySync)

		r.Group(func(r chi.Router) {
			r.Use(s.shareAuth)
			r.Get("/share/{packID}", s.handleShareProbe)
			r.Post("/share/{packID}", s.handleShareFetch)
		})
	})

	s.router = r
}

// engineFor builds a recall/consolidation engine over the request's owner scope.
func (s *Server) engineFor(ctx context.Context) *engine.Engine {
	return engine.New(s.db.Scoped(ownerFrom(ctx)),
		engine.WithWeights(s.cfg.Recall.Weights),
		engine.WithLogger(s.log),
		engine.WithMetrics(s.metrics),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.db.PingContext(r.Context()) == nil
	writeOK(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}
