package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/memgraph/internal/apperr"
	"github.com/lazypower/memgraph/internal/pack"
	"github.com/lazypower/memgraph/internal/store"
)

// remotePack builds a pack with n nodes and returns its bytes.
func remotePack(t *testing.T, n int) []byte {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "remote"+pack.Ext)

	p, err := pack.Create(ctx, path, pack.CreateOptions{Name: "remote"})
	require.NoError(t, err)
	err = p.Mutate(ctx, func(s *store.Store) error {
		for i := 0; i < n; i++ {
			if _, err := s.StoreNode(ctx, store.NodeInput{Content: "shared fact", Category: store.CategoryFact, Importance: 0.5}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// localPack creates an empty pack mirroring sourceURL.
func localPack(t *testing.T, sourceURL, contactID string) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mirror"+pack.Ext)

	p, err := pack.Create(ctx, path, pack.CreateOptions{Name: "mirror"})
	require.NoError(t, err)
	if sourceURL != "" {
		require.NoError(t, p.SetSource(ctx, sourceURL, contactID, time.Time{}))
	}
	require.NoError(t, p.Close())
	return path
}

type peer struct {
	*httptest.Server
	updatedAt atomic.Value // time.Time
	payload   []byte
	token     string
	probes    atomic.Int32
	fetches   atomic.Int32
}

func newPeer(t *testing.T, payload []byte, updatedAt time.Time) *peer {
	t.Helper()
	p := &peer{payload: payload}
	p.updatedAt.Store(updatedAt)
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.token != "" && r.Header.Get("Authorization") != "Bearer "+p.token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			p.probes.Add(1)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"share": map[string]any{
					"name":      "remote",
					"updatedAt": p.updatedAt.Load().(time.Time),
				},
			})
		case http.MethodPost:
			p.fetches.Add(1)
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(p.payload)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(p.Close)
	return p
}

func nodeCount(t *testing.T, path string) int {
	t.Helper()
	var n int
	err := pack.With(context.Background(), path, true, func(p *pack.Pack) error {
		st, err := p.Stats(context.Background())
		n = st.Nodes
		return err
	})
	require.NoError(t, err)
	return n
}

func TestSyncPackIdempotent(t *testing.T) {
	ctx := context.Background()
	remote := newPeer(t, remotePack(t, 2), time.Now().Add(-time.Hour).UTC())
	path := localPack(t, remote.URL+"/api/share/abc", "")
	s := New(Options{})

	updated, err := s.SyncPack(ctx, path)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.EqualValues(t, 1, remote.fetches.Load())
	assert.Equal(t, 2, nodeCount(t, path))

	updated, err = s.SyncPack(ctx, path)
	require.NoError(t, err)
	assert.False(t, updated)
	assert.EqualValues(t, 1, remote.fetches.Load(), "second pass should not fetch")
	assert.EqualValues(t, 2, remote.probes.Load())
}

func TestSyncPackKeepsProvenance(t *testing.T) {
	ctx := context.Background()
	remote := newPeer(t, remotePack(t, 1), time.Now().Add(-time.Hour).UTC())
	sourceURL := remote.URL + "/api/share/abc"
	path := localPack(t, sourceURL, "contact-7")

	synced := time.Date(2026, 5, 5, 12, 0, 0, 0, time.UTC)
	s := New(Options{})
	s.now = func() time.Time { return synced }

	_, err := s.SyncPack(ctx, path)
	require.NoError(t, err)

	err = pack.With(ctx, path, true, func(p *pack.Pack) error {
		meta, err := p.Metadata(ctx)
		require.NoError(t, err)
		assert.Equal(t, sourceURL, meta.SourceURL)
		assert.Equal(t, "contact-7", meta.SourceContactID)
		require.NotNil(t, meta.SyncedAt)
		assert.True(t, meta.SyncedAt.Equal(synced))
		assert.Equal(t, "remote", meta.Name)
		return nil
	})
	require.NoError(t, err)
}

func TestSyncPackNewerRemote(t *testing.T) {
	ctx := context.Background()
	remote := newPeer(t, remotePack(t, 1), time.Now().Add(-time.Hour).UTC())
	path := localPack(t, remote.URL+"/share", "")
	s := New(Options{})

	_, err := s.SyncPack(ctx, path)
	require.NoError(t, err)

	remote.updatedAt.Store(time.Now().Add(time.Hour).UTC())
	updated, err := s.SyncPack(ctx, path)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.EqualValues(t, 2, remote.fetches.Load())
}

func TestSyncPackWithoutSource(t *testing.T) {
	path := localPack(t, "", "")
	updated, err := New(Options{}).SyncPack(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestSyncPackBearerToken(t *testing.T) {
	ctx := context.Background()
	remote := newPeer(t, remotePack(t, 1), time.Now().Add(-time.Hour).UTC())
	remote.token = "s3cret"

	path := localPack(t, remote.URL+"/share", "alice")

	_, err := New(Options{}).SyncPack(ctx, path)
	assert.ErrorIs(t, err, apperr.ErrSync, "missing token should be rejected by the peer")

	s := New(Options{Contacts: StaticContacts{"alice": "s3cret"}})
	updated, err := s.SyncPack(ctx, path)
	require.NoError(t, err)
	assert.True(t, updated)
}

func TestSyncPackProbeFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>"))
		}},
		{"success false", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":false}`))
		}},
		{"missing updatedAt", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":true,"share":{"name":"x"}}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			path := localPack(t, srv.URL, "")
			updated, err := New(Options{}).SyncPack(context.Background(), path)
			assert.ErrorIs(t, err, apperr.ErrSync)
			assert.False(t, updated)
			assert.Equal(t, 0, nodeCount(t, path))
		})
	}
}

func TestSyncPackRejectsNonPackPayload(t *testing.T) {
	ctx := context.Background()
	remote := newPeer(t, []byte("definitely not sqlite"), time.Now().UTC())
	path := localPack(t, remote.URL, "")
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	updated, err := New(Options{}).SyncPack(ctx, path)
	assert.ErrorIs(t, err, apperr.ErrSync)
	assert.False(t, updated)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "local pack must be untouched")
}

func TestSyncPackCorruptPayloadKeepsSource(t *testing.T) {
	ctx := context.Background()
	payload := append([]byte("SQLite format 3\x00"), bytes.Repeat([]byte("x"), 512)...)
	remote := newPeer(t, payload, time.Now().UTC())
	sourceURL := remote.URL + "/api/share/abc"
	path := localPack(t, sourceURL, "contact-7")
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	updated, err := New(Options{}).SyncPack(ctx, path)
	assert.ErrorIs(t, err, apperr.ErrSync)
	assert.False(t, updated)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "local pack must be untouched")

	err = pack.With(ctx, path, true, func(p *pack.Pack) error {
		meta, err := p.Metadata(ctx)
		require.NoError(t, err)
		assert.Equal(t, sourceURL, meta.SourceURL)
		assert.Equal(t, "contact-7", meta.SourceContactID)
		return nil
	})
	require.NoError(t, err)

	names, err := pack.OSFileSystem{}.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Base(path)}, names, "staged copy must be removed")
}

func TestSyncPackEmptyBody(t *testing.T) {
	remote := newPeer(t, nil, time.Now().UTC())
	path := localPack(t, remote.URL, "")

	_, err := New(Options{}).SyncPack(context.Background(), path)
	assert.ErrorIs(t, err, apperr.ErrSync)
}

func TestSyncPackMissingFile(t *testing.T) {
	_, err := New(Options{}).SyncPack(context.Background(), filepath.Join(t.TempDir(), "gone"+pack.Ext))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSyncAllIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	good := newPeer(t, remotePack(t, 1), time.Now().Add(-time.Hour).UTC())
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	goodPath := localPack(t, good.URL, "")
	badPath := localPack(t, bad.URL, "")
	plainPath := localPack(t, "", "")

	report := New(Options{Concurrency: 2}).SyncAll(ctx, []string{goodPath, badPath, plainPath})
	assert.Equal(t, []string{goodPath}, report.Updated)
	assert.Equal(t, []string{plainPath}, report.Current)
	require.Contains(t, report.Failed, badPath)
	assert.ErrorIs(t, report.Failed[badPath], apperr.ErrSync)
	assert.Contains(t, report.Errors()[badPath], "status 502")
}

func TestStaticContacts(t *testing.T) {
	c := StaticContacts{"a": "tok", "empty": ""}
	tok, ok := c.Token("a")
	assert.True(t, ok)
	assert.Equal(t, "tok", tok)

	_, ok = c.Token("empty")
	assert.False(t, ok)
	_, ok = c.Token("missing")
	assert.False(t, ok)
}
