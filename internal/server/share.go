package server

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/memgraph/internal/apperr"
	"github.com/lazypower/memgraph/internal/library"
	"github.com/lazypower/memgraph/internal/pack"
)

// sharedPack resolves a pack id to a file in the share directory. Ids are
// derived from the file name.
func (s *Server) sharedPack(id string) (string, error) {
	if s.cfg.Share.Dir == "" {
		return "", apperr.NotFound("share", "pack "+id)
	}
	paths, err := pack.Discover(pack.OSFileSystem{}, s.cfg.Share.Dir)
	if err != nil {
		return "", apperr.Storage("share", err)
	}
	for _, p := range paths {
		if pack.ID(filepath.Base(p)) == id {
			return p, nil
		}
	}
	return "", apperr.NotFound("share", "pack "+id)
}

// handleShareProbe answers the metadata probe of a pulling peer.
func (s *Server) handleShareProbe(w http.ResponseWriter, r *http.Request) {
	path, err := s.sharedPack(chi.URLParam(r, "packID"))
	if err != nil {
		writeError(w, err)
		return
	}
	var meta pack.Metadata
	err = pack.With(r.Context(), path, true, func(p *pack.Pack) error {
		var err error
		meta, err = p.Metadata(r.Context())
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"share": map[string]any{
			"id":          chi.URLParam(r, "packID"),
			"name":        meta.Name,
			"description": meta.Description,
			"updatedAt":   meta.UpdatedAt,
		},
	})
}

// handleShareFetch streams the whole pack file.
func (s *Server) handleShareFetch(w http.ResponseWriter, r *http.Request) {
	path, err := s.sharedPack(chi.URLParam(r, "packID"))
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := pack.Bytes(pack.OSFileSystem{}, path)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) libraryPath() (string, error) {
	if s.lib == nil || s.cfg.Library.Path == "" {
		return "", apperr.Validation("library", "no library configured")
	}
	return library.ManifestPath(s.cfg.Library.Path), nil
}

func (s *Server) handleLibraryGraph(w http.ResponseWriter, r *http.Request) {
	lib, err := s.libraryPath()
	if err != nil {
		writeError(w, err)
		return
	}
	g, err := s.lib.GraphData(r.Context(), lib)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"nodes": g.Nodes,
		"edges": g.Edges,
		"stats": g.Stats,
		"packs": g.Packs,
	})
}

func (s *Server) handleLibrarySync(w http.ResponseWriter, r *http.Request) {
	lib, err := s.libraryPath()
	if err != nil {
		writeError(w, err)
		return
	}
	m, report, err := s.lib.SyncPackStats(r.Context(), lib)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"library": m,
		"sync": map[string]any{
			"updated": nonNil(report.Updated),
			"current": nonNil(report.Current),
			"failed":  report.Errors(),
		},
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
