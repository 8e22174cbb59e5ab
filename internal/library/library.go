package library

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/memgraph/internal/apperr"
	"github.com/lazypower/memgraph/internal/pack"
	"github.com/lazypower/memgraph/internal/replication"
	"github.com/lazypower/memgraph/internal/store"
)

// DefaultManifestName is the manifest file name used when a directory is given.
const DefaultManifestName = "library.json"

// Replicator refreshes mirrored packs before stats are read.
type Replicator interface {
	SyncAll(ctx context.Context, paths []string) replication.Report
}

// Options configures an Aggregator.
type Options struct {
	FS         pack.FileSystem
	Replicator Replicator
	Logger     *zap.Logger
}

// Aggregator performs library operations. Calls are serialized so the
// watcher and API handlers never interleave manifest writes.
type Aggregator struct {
	fs   pack.FileSystem
	repl Replicator
	log  *zap.Logger
	now  func() time.Time

	mu sync.Mutex
}

// New creates an Aggregator.
func New(opts Options) *Aggregator {
	a := &Aggregator{fs: opts.FS, repl: opts.Replicator, log: opts.Logger, now: time.Now}
	if a.fs == nil {
		a.fs = pack.OSFileSystem{}
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	return a
}

// CreateOptions are the caller-supplied fields of a new library.
type CreateOptions struct {
	Name        string
	Description string
}

// AddOptions control how a pack enters a library.
type AddOptions struct {
	Disabled bool
	Priority int
}

// ManifestPath resolves a library locator: a directory means the default
// manifest inside it.
func ManifestPath(locator string) string {
	if filepath.Ext(locator) == "" {
		return filepath.Join(locator, DefaultManifestName)
	}
	return locator
}

// Create writes a new, empty manifest.
func (a *Aggregator) Create(ctx context.Context, libPath string, opts CreateOptions) (*Manifest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	libPath, err := filepath.Abs(libPath)
	if err != nil {
		return nil, apperr.Storage("create library", err)
	}
	exists, err := a.fs.Exists(libPath)
	if err != nil {
		return nil, apperr.Storage("create library", err)
	}
	if exists {
		return nil, apperr.Conflict("create library", "library %s already exists", libPath)
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = filepath.Base(filepath.Dir(libPath))
	}
	ts := a.now().UTC()
	m := &Manifest{
		Version:     ManifestVersion,
		Name:        name,
		Description: opts.Description,
		CreatedAt:   ts,
		UpdatedAt:   ts,
		Packs:       []Entry{},
	}
	if err := a.save(libPath, m); err != nil {
		return nil, err
	}
	a.log.Info("library created", zap.String("library", libPath))
	return m, nil
}

// Load reads a manifest.
func (a *Aggregator) Load(ctx context.Context, libPath string) (*Manifest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.load(libPath)
}

// AddPack references a pack from the library, capturing its current
// display metadata and counts.
func (a *Aggregator) AddPack(ctx context.Context, libPath, packPath string, opts AddOptions) (*Manifest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	libPath, libDir, err := resolve(libPath)
	if err != nil {
		return nil, err
	}
	m, err := a.load(libPath)
	if err != nil {
		return nil, err
	}
	rel, err := relPath(libDir, packPath)
	if err != nil {
		return nil, apperr.Validation("add pack", "pack path %s: %v", packPath, err)
	}
	if m.find(rel) >= 0 {
		return nil, apperr.Conflict("add pack", "pack %s is already in the library", rel)
	}

	abs := absPath(libDir, rel)
	exists, err := a.fs.Exists(abs)
	if err != nil {
		return nil, apperr.Storage("add pack", err)
	}
	if !exists {
		return nil, apperr.NotFound("add pack", "pack "+abs)
	}

	entry := Entry{
		Path:     rel,
		Enabled:  !opts.Disabled,
		Priority: opts.Priority,
		AddedAt:  a.now().UTC(),
	}
	err = pack.With(ctx, abs, true, func(p *pack.Pack) error {
		meta, err := p.Metadata(ctx)
		if err != nil {
			return err
		}
		st, err := p.Stats(ctx)
		if err != nil {
			return err
		}
		entry.Name = meta.Name
		entry.Description = meta.Description
		entry.applyStats(st)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.Packs = append(m.Packs, entry)
	m.recompute()
	if err := a.save(libPath, m); err != nil {
		return nil, err
	}
	a.log.Info("pack added to library", zap.String("library", libPath), zap.String("pack", rel))
	return m, nil
}

// RemovePack drops the entry whose normalized path equals packPath exactly.
func (a *Aggregator) RemovePack(ctx context.Context, libPath, packPath string) (*Manifest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	libPath, libDir, err := resolve(libPath)
	if err != nil {
		return nil, err
	}
	m, err := a.load(libPath)
	if err != nil {
		return nil, err
	}
	rel, err := relPath(libDir, packPath)
	if err != nil {
		return nil, apperr.Validation("remove pack", "pack path %s: %v", packPath, err)
	}
	i := m.find(rel)
	if i < 0 {
		return nil, apperr.NotFound("remove pack", "library entry "+rel)
	}

	m.Packs = append(m.Packs[:i], m.Packs[i+1:]...)
	m.recompute()
	if err := a.save(libPath, m); err != nil {
		return nil, err
	}
	a.log.Info("pack removed from library", zap.String("library", libPath), zap.String("pack", rel))
	return m, nil
}

// SetEnabled toggles whether a pack contributes to the graph and rollup.
func (a *Aggregator) SetEnabled(ctx context.Context, libPath, packPath string, enabled bool) (*Manifest, error) {
	return a.updateEntry(libPath, packPath, "set pack enabled", func(e *Entry) {
		e.Enabled = enabled
	})
}

// SetPriority records the informational priority of a pack. Entries are not re-sorted.
func (a *Aggregator) SetPriority(ctx context.Context, libPath, packPath string, priority int) (*Manifest, error) {
	return a.updateEntry(libPath, packPath, "set pack priority", func(e *Entry) {
		e.Priority = priority
	})
}

func (a *Aggregator) updateEntry(libPath, packPath, op string, fn func(e *Entry)) (*Manifest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	libPath, libDir, err := resolve(libPath)
	if err != nil {
		return nil, err
	}
	m, err := a.load(libPath)
	if err != nil {
		return nil, err
	}
	rel, err := relPath(libDir, packPath)
	if err != nil {
		return nil, apperr.Validation(op, "pack path %s: %v", packPath, err)
	}
	i := m.find(rel)
	if i < 0 {
		return nil, apperr.NotFound(op, "library entry "+rel)
	}

	fn(&m.Packs[i])
	m.recompute()
	if err := a.save(libPath, m); err != nil {
		return nil, err
	}
	return m, nil
}

// SyncPackStats runs a replication pass over every referenced pack and then
// refreshes cached stats. Replication failures are reported, not returned.
func (a *Aggregator) SyncPackStats(ctx context.Context, libPath string) (*Manifest, replication.Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var report replication.Report
	libPath, libDir, err := resolve(libPath)
	if err != nil {
		return nil, report, err
	}
	m, err := a.load(libPath)
	if err != nil {
		return nil, report, err
	}

	if a.repl != nil {
		var paths []string
		for _, e := range m.Packs {
			abs := absPath(libDir, e.Path)
			if ok, _ := a.fs.Exists(abs); ok {
				paths = append(paths, abs)
			}
		}
		report = a.repl.SyncAll(ctx, paths)
		if len(report.Updated) > 0 {
			ts := a.now().UTC()
			m.Metadata.LastSync = &ts
		}
	}

	changed, err := a.refresh(ctx, libDir, m)
	if err != nil {
		return nil, report, err
	}
	if changed || len(report.Updated) > 0 {
		if err := a.save(libPath, m); err != nil {
			return nil, report, err
		}
	}
	return m, report, nil
}

// RefreshStats re-reads live counts without replication.
func (a *Aggregator) RefreshStats(ctx context.Context, libPath string) (*Manifest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	libPath, libDir, err := resolve(libPath)
	if err != nil {
		return nil, err
	}
	m, err := a.load(libPath)
	if err != nil {
		return nil, err
	}
	changed, err := a.refresh(ctx, libDir, m)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := a.save(libPath, m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// refresh updates cached entry stats in place, dropping entries whose file
// has vanished. A pack that exists but cannot be read keeps its cached
// stats and is logged.
func (a *Aggregator) refresh(ctx context.Context, libDir string, m *Manifest) (bool, error) {
	changed := false
	kept := m.Packs[:0]
	for _, e := range m.Packs {
		abs := absPath(libDir, e.Path)
		exists, err := a.fs.Exists(abs)
		if err != nil {
			return false, apperr.Storage("refresh library", err)
		}
		if !exists {
			a.log.Warn("dropping missing pack from library", zap.String("pack", e.Path))
			changed = true
			continue
		}

		err = pack.With(ctx, abs, true, func(p *pack.Pack) error {
			st, err := p.Stats(ctx)
			if err != nil {
				return err
			}
			meta, err := p.Metadata(ctx)
			if err != nil {
				return err
			}
			if e.applyStats(st) {
				changed = true
			}
			if meta.Name != e.Name || meta.Description != e.Description {
				e.Name, e.Description = meta.Name, meta.Description
				changed = true
			}
			return nil
		})
		if err != nil {
			a.log.Warn("read pack stats failed", zap.String("pack", e.Path), zap.Error(err))
		}
		kept = append(kept, e)
	}
	m.Packs = kept
	if m.recompute() {
		changed = true
	}
	return changed, nil
}

// PackInfo describes one enabled pack in a combined graph.
type PackInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Priority int    `json:"priority"`
}

// GraphNode is a node annotated with the pack it came from.
type GraphNode struct {
	store.Node
	PackID   string `json:"pack_id"`
	PackName string `json:"pack_name"`
}

// GraphEdge is an edge annotated with the pack it came from.
type GraphEdge struct {
	store.Relationship
	PackID   string `json:"pack_id"`
	PackName string `json:"pack_name"`
}

// GraphData is the union of every enabled pack's graph.
type GraphData struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
	Stats Rollup      `json:"stats"`
	Packs []PackInfo  `json:"packs"`
}

// GraphData combines the graphs of all enabled packs, in manifest order.
// Missing packs are skipped and logged.
func (a *Aggregator) GraphData(ctx context.Context, libPath string) (*GraphData, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	libPath, libDir, err := resolve(libPath)
	if err != nil {
		return nil, err
	}
	m, err := a.load(libPath)
	if err != nil {
		return nil, err
	}

	out := &GraphData{Nodes: []GraphNode{}, Edges: []GraphEdge{}, Packs: []PackInfo{}}
	for _, e := range m.Packs {
		if !e.Enabled {
			continue
		}
		abs := absPath(libDir, e.Path)
		info := PackInfo{ID: pack.ID(e.Path), Name: e.Name, Path: e.Path, Priority: e.Priority}

		var g *store.Graph
		err := pack.With(ctx, abs, true, func(p *pack.Pack) error {
			var err error
			g, err = p.Graph(ctx)
			return err
		})
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				a.log.Warn("library pack missing", zap.String("pack", e.Path))
				continue
			}
			return nil, err
		}

		for _, n := range g.Nodes {
			out.Nodes = append(out.Nodes, GraphNode{Node: n, PackID: info.ID, PackName: info.Name})
		}
		for _, r := range g.Edges {
			out.Edges = append(out.Edges, GraphEdge{Relationship: r, PackID: info.ID, PackName: info.Name})
		}
		out.Packs = append(out.Packs, info)
		out.Stats.TotalNodes += len(g.Nodes)
		out.Stats.TotalRelationships += len(g.Edges)
	}
	out.Stats.LastSync = m.Metadata.LastSync
	return out, nil
}

// PackPaths returns the absolute paths of every referenced pack.
func (a *Aggregator) PackPaths(ctx context.Context, libPath string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	libPath, libDir, err := resolve(libPath)
	if err != nil {
		return nil, err
	}
	m, err := a.load(libPath)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(m.Packs))
	for _, e := range m.Packs {
		paths = append(paths, absPath(libDir, e.Path))
	}
	return paths, nil
}

func resolve(libPath string) (string, string, error) {
	abs, err := filepath.Abs(libPath)
	if err != nil {
		return "", "", apperr.Storage("resolve library", err)
	}
	return abs, filepath.Dir(abs), nil
}

func (a *Aggregator) load(libPath string) (*Manifest, error) {
	exists, err := a.fs.Exists(libPath)
	if err != nil {
		return nil, apperr.Storage("load library", err)
	}
	if !exists {
		return nil, apperr.NotFound("load library", "library "+libPath)
	}
	data, err := a.fs.ReadFile(libPath)
	if err != nil {
		return nil, apperr.Storage("load library", err)
	}
	m, err := decodeManifest(data)
	if err != nil {
		return nil, apperr.Storage("load library", err)
	}
	return m, nil
}

func (a *Aggregator) save(libPath string, m *Manifest) error {
	m.UpdatedAt = a.now().UTC()
	data, err := m.encode()
	if err != nil {
		return apperr.Storage("save library", err)
	}
	if err := a.fs.WriteFile(libPath, data); err != nil {
		return apperr.Storage("save library", err)
	}
	return nil
}
