// Package library aggregates packs through a manifest file: an index of pack
// paths with enable and priority flags and cached statistics. A library has
// no graph rows of its own.
package library

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/lazypower/memgraph/internal/store"
)

// ManifestVersion is the manifest schema version.
const ManifestVersion = 1

// Entry is one pack reference. Path is relative to the manifest's directory.
type Entry struct {
	Path              string    `json:"path"`
	Enabled           bool      `json:"enabled"`
	Priority          int       `json:"priority"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	NodeCount         int       `json:"node_count"`
	RelationshipCount int       `json:"relationship_count"`
	TagCount          int       `json:"tag_count"`
	AddedAt           time.Time `json:"added_at"`
}

// Rollup is the manifest-level summary over enabled packs.
type Rollup struct {
	TotalNodes         int        `json:"total_nodes"`
	TotalRelationships int        `json:"total_relationships"`
	LastSync           *time.Time `json:"last_sync,omitempty"`
}

// Manifest is the library document.
type Manifest struct {
	Version     int       `json:"version"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Packs       []Entry   `json:"packs"`
	Metadata    Rollup    `json:"metadata"`
}

func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Packs == nil {
		m.Packs = []Entry{}
	}
	return &m, nil
}

func (m *Manifest) encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// find returns the index of the entry whose path is rel, or -1.
func (m *Manifest) find(rel string) int {
	for i, e := range m.Packs {
		if e.Path == rel {
			return i
		}
	}
	return -1
}

// recompute rebuilds the rollup from enabled entries and reports whether it changed.
func (m *Manifest) recompute() bool {
	var nodes, rels int
	for _, e := range m.Packs {
		if !e.Enabled {
			continue
		}
		nodes += e.NodeCount
		rels += e.RelationshipCount
	}
	changed := nodes != m.Metadata.TotalNodes || rels != m.Metadata.TotalRelationships
	m.Metadata.TotalNodes = nodes
	m.Metadata.TotalRelationships = rels
	return changed
}

// applyStats copies live counts into e and reports whether anything changed.
func (e *Entry) applyStats(st store.Stats) bool {
	if e.NodeCount == st.ActiveNodes && e.RelationshipCount == st.Relationships && e.TagCount == st.Tags {
		return false
	}
	e.NodeCount = st.ActiveNodes
	e.RelationshipCount = st.Relationships
	e.TagCount = st.Tags
	return true
}

// relPath normalizes a pack locator to the manifest-relative, slash-separated
// form stored in entries. Relative locators are taken as relative to libDir.
func relPath(libDir, packPath string) (string, error) {
	p := filepath.Clean(packPath)
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(libDir, p)
		if err != nil {
			return "", err
		}
		p = rel
	}
	return filepath.ToSlash(p), nil
}

// absPath resolves an entry path against the manifest directory.
func absPath(libDir, rel string) string {
	return filepath.Join(libDir, filepath.FromSlash(rel))
}
