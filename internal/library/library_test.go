package library

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lazypower/memgraph/internal/apperr"
	"github.com/lazypower/memgraph/internal/pack"
	"github.com/lazypower/memgraph/internal/replication"
	"github.com/lazypower/memgraph/internal/store"
)

// makePack creates dir/name.mgpack holding n linked nodes.
func makePack(t *testing.T, dir, name string, n int) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(dir, name+pack.Ext)

	p, err := pack.Create(ctx, path, pack.CreateOptions{Name: name, Description: name + " pack"})
	require.NoError(t, err)
	defer p.Close()

	addNodes(t, p, n)
	return path
}

func addNodes(t *testing.T, p *pack.Pack, n int) {
	t.Helper()
	ctx := context.Background()
	err := p.Mutate(ctx, func(s *store.Store) error {
		var prev *store.Node
		for i := 0; i < n; i++ {
			node, err := s.StoreNode(ctx, store.NodeInput{Content: "note", Category: store.CategoryKnowledge, Importance: 0.5, Tags: []string{"t"}})
			if err != nil {
				return err
			}
			if prev != nil {
				if _, err := s.CreateRelationship(ctx, prev.ID, node.ID, store.RelRelatesTo, 1, ""); err != nil {
					return err
				}
			}
			prev = node
		}
		return nil
	})
	require.NoError(t, err)
}

func newLibrary(t *testing.T) (*Aggregator, string, string) {
	t.Helper()
	dir := t.TempDir()
	lib := filepath.Join(dir, DefaultManifestName)
	agg := New(Options{Logger: zap.NewNop()})
	_, err := agg.Create(context.Background(), lib, CreateOptions{Name: "test"})
	require.NoError(t, err)
	return agg, lib, dir
}

func TestLibraryRoundTrip(t *testing.T) {
	ctx := context.Background()
	agg, lib, dir := newLibrary(t)
	packPath := makePack(t, dir, "alpha", 3)

	m, err := agg.AddPack(ctx, lib, packPath, AddOptions{})
	require.NoError(t, err)
	require.Len(t, m.Packs, 1)
	assert.Equal(t, "alpha"+pack.Ext, m.Packs[0].Path)
	assert.Equal(t, "alpha", m.Packs[0].Name)
	assert.True(t, m.Packs[0].Enabled)

	m, _, err = agg.SyncPackStats(ctx, lib)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Metadata.TotalNodes)
	assert.Equal(t, 2, m.Metadata.TotalRelationships)

	m, err = agg.RemovePack(ctx, lib, packPath)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Metadata.TotalNodes)
	assert.Empty(t, m.Packs)

	loaded, err := agg.Load(ctx, lib)
	require.NoError(t, err)
	assert.Empty(t, loaded.Packs)
	assert.Equal(t, "test", loaded.Name)
}

func TestCreateLibraryConflict(t *testing.T) {
	agg, lib, _ := newLibrary(t)
	_, err := agg.Create(context.Background(), lib, CreateOptions{})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestLoadMissingLibrary(t *testing.T) {
	agg := New(Options{})
	_, err := agg.Load(context.Background(), filepath.Join(t.TempDir(), DefaultManifestName))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLoadCorruptLibrary(t *testing.T) {
	lib := filepath.Join(t.TempDir(), DefaultManifestName)
	require.NoError(t, os.WriteFile(lib, []byte("{not json"), 0644))
	_, err := New(Options{}).Load(context.Background(), lib)
	assert.ErrorIs(t, err, apperr.ErrStorage)
}

func TestAddPackErrors(t *testing.T) {
	ctx := context.Background()
	agg, lib, dir := newLibrary(t)
	packPath := makePack(t, dir, "alpha", 1)

	_, err := agg.AddPack(ctx, lib, packPath, AddOptions{})
	require.NoError(t, err)

	_, err = agg.AddPack(ctx, lib, packPath, AddOptions{})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = agg.AddPack(ctx, lib, "alpha"+pack.Ext, AddOptions{})
	assert.ErrorIs(t, err, apperr.ErrConflict, "relative and absolute locators normalize to the same entry")

	_, err = agg.AddPack(ctx, lib, filepath.Join(dir, "missing"+pack.Ext), AddOptions{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRemovePackExactMatch(t *testing.T) {
	ctx := context.Background()
	agg, lib, dir := newLibrary(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "team"), 0755))
	nested := makePack(t, filepath.Join(dir, "team"), "shared", 1)

	_, err := agg.AddPack(ctx, lib, nested, AddOptions{})
	require.NoError(t, err)

	_, err = agg.RemovePack(ctx, lib, "shared"+pack.Ext)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "basename alone must not match")

	m, err := agg.RemovePack(ctx, lib, "team/shared"+pack.Ext)
	require.NoError(t, err)
	assert.Empty(t, m.Packs)
}

func TestSyncPackStatsDropsMissingPacks(t *testing.T) {
	ctx := context.Background()
	agg, lib, dir := newLibrary(t)
	keep := makePack(t, dir, "keep", 2)
	gone := makePack(t, dir, "gone", 4)

	_, err := agg.AddPack(ctx, lib, keep, AddOptions{})
	require.NoError(t, err)
	m, err := agg.AddPack(ctx, lib, gone, AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, 6, m.Metadata.TotalNodes)

	require.NoError(t, os.Remove(gone))

	m, _, err = agg.SyncPackStats(ctx, lib)
	require.NoError(t, err)
	require.Len(t, m.Packs, 1)
	assert.Equal(t, "keep"+pack.Ext, m.Packs[0].Path)
	assert.Equal(t, 2, m.Metadata.TotalNodes)
}

func TestRefreshStatsPicksUpChanges(t *testing.T) {
	ctx := context.Background()
	agg, lib, dir := newLibrary(t)
	packPath := makePack(t, dir, "grow", 1)

	_, err := agg.AddPack(ctx, lib, packPath, AddOptions{})
	require.NoError(t, err)

	require.NoError(t, pack.With(ctx, packPath, false, func(p *pack.Pack) error {
		addNodes(t, p, 2)
		return nil
	}))

	m, err := agg.RefreshStats(ctx, lib)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Packs[0].NodeCount)
	assert.Equal(t, 3, m.Packs[0].TagCount)
	assert.Equal(t, 3, m.Metadata.TotalNodes)
}

func TestDisabledPacksExcluded(t *testing.T) {
	ctx := context.Background()
	agg, lib, dir := newLibrary(t)
	on := makePack(t, dir, "on", 2)
	off := makePack(t, dir, "off", 5)

	_, err := agg.AddPack(ctx, lib, on, AddOptions{})
	require.NoError(t, err)
	m, err := agg.AddPack(ctx, lib, off, AddOptions{Disabled: true})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Metadata.TotalNodes)

	g, err := agg.GraphData(ctx, lib)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2)
	require.Len(t, g.Packs, 1)
	assert.Equal(t, "on", g.Packs[0].Name)

	m, err = agg.SetEnabled(ctx, lib, off, true)
	require.NoError(t, err)
	assert.Equal(t, 7, m.Metadata.TotalNodes)

	m, err = agg.SetEnabled(ctx, lib, on, false)
	require.NoError(t, err)
	assert.Equal(t, 5, m.Metadata.TotalNodes)
}

func TestGraphDataAnnotatesProvenance(t *testing.T) {
	ctx := context.Background()
	agg, lib, dir := newLibrary(t)
	a := makePack(t, dir, "a", 2)
	b := makePack(t, dir, "b", 1)

	_, err := agg.AddPack(ctx, lib, a, AddOptions{})
	require.NoError(t, err)
	_, err = agg.AddPack(ctx, lib, b, AddOptions{})
	require.NoError(t, err)

	g, err := agg.GraphData(ctx, lib)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 3)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, 3, g.Stats.TotalNodes)

	idA := pack.ID("a" + pack.Ext)
	assert.Equal(t, idA, g.Nodes[0].PackID)
	assert.Equal(t, "a", g.Nodes[0].PackName)
	assert.Equal(t, pack.ID("b"+pack.Ext), g.Nodes[2].PackID)
	assert.Equal(t, idA, g.Edges[0].PackID)
	assert.Equal(t, []string{"a", "b"}, []string{g.Packs[0].Name, g.Packs[1].Name})
}

func TestSetPriorityKeepsOrder(t *testing.T) {
	ctx := context.Background()
	agg, lib, dir := newLibrary(t)
	first := makePack(t, dir, "first", 1)
	second := makePack(t, dir, "second", 1)

	_, err := agg.AddPack(ctx, lib, first, AddOptions{Priority: 1})
	require.NoError(t, err)
	_, err = agg.AddPack(ctx, lib, second, AddOptions{})
	require.NoError(t, err)

	m, err := agg.SetPriority(ctx, lib, second, 100)
	require.NoError(t, err)
	assert.Equal(t, "first"+pack.Ext, m.Packs[0].Path)
	assert.Equal(t, 100, m.Packs[1].Priority)

	_, err = agg.SetPriority(ctx, lib, "nope"+pack.Ext, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

type fakeReplicator struct {
	mu    sync.Mutex
	paths []string
	apply func(path string)
}

func (f *fakeReplicator) SyncAll(ctx context.Context, paths []string) replication.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, paths...)
	r := replication.Report{Failed: map[string]error{}}
	for _, p := range paths {
		if f.apply != nil {
			f.apply(p)
		}
		r.Updated = append(r.Updated, p)
	}
	return r
}

func TestSyncPackStatsReplicatesFirst(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	lib := filepath.Join(dir, DefaultManifestName)
	packPath := makePack(t, dir, "mirror", 1)

	repl := &fakeReplicator{apply: func(path string) {
		require.NoError(t, pack.With(ctx, path, false, func(p *pack.Pack) error {
			addNodes(t, p, 1)
			return nil
		}))
	}}
	agg := New(Options{Replicator: repl})
	_, err := agg.Create(ctx, lib, CreateOptions{})
	require.NoError(t, err)
	_, err = agg.AddPack(ctx, lib, packPath, AddOptions{})
	require.NoError(t, err)

	m, report, err := agg.SyncPackStats(ctx, lib)
	require.NoError(t, err)
	assert.Equal(t, []string{packPath}, repl.paths)
	assert.Equal(t, []string{packPath}, report.Updated)
	assert.Equal(t, 2, m.Metadata.TotalNodes, "stats should reflect replicated content")
	assert.NotNil(t, m.Metadata.LastSync)
}

func TestManifestPath(t *testing.T) {
	assert.Equal(t, filepath.Join("libs", "work", DefaultManifestName), ManifestPath(filepath.Join("libs", "work")))
	assert.Equal(t, "custom.json", ManifestPath("custom.json"))
}

func TestWatcherRefreshesOnPackWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agg, lib, dir := newLibrary(t)
	packPath := makePack(t, dir, "watched", 1)
	_, err := agg.AddPack(ctx, lib, packPath, AddOptions{})
	require.NoError(t, err)

	refreshed := make(chan *Manifest, 8)
	w := NewWatcher(agg, lib, zap.NewNop(),
		WithDebounce(20*time.Millisecond),
		OnRefresh(func(m *Manifest, err error) {
			if err == nil {
				refreshed <- m
			}
		}))

	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, pack.With(ctx, packPath, false, func(p *pack.Pack) error {
		addNodes(t, p, 2)
		return nil
	}))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case m := <-refreshed:
			if m.Metadata.TotalNodes == 3 {
				cancel()
				require.NoError(t, <-done)
				return
			}
		case <-deadline:
			t.Fatal("watcher did not refresh stats")
		}
	}
}
