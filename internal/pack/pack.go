// Package pack manages standalone memory packs: single SQLite files holding
// one self-contained graph plus its metadata.
package pack

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/memgraph/internal/apperr"
	"github.com/lazypower/memgraph/internal/store"
)

// Ext is the conventional pack file extension.
const Ext = ".mgpack"

// FormatVersion is written to every new pack.
const FormatVersion = "1"

// Metadata keys.
const (
	KeyVersion         = "version"
	KeyName            = "name"
	KeyDescription     = "description"
	KeyCreatedAt       = "created_at"
	KeyUpdatedAt       = "updated_at"
	KeySourceURL       = "source_url"
	KeySourceContactID = "source_contact_id"
	KeySyncedAt        = "synced_at"
)

// sqliteHeader starts every valid SQLite database file.
var sqliteHeader = []byte("SQLite format 3\x00")

// idNamespace scopes deterministic pack ids.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("memgraph:pack"))

var now = time.Now

// Metadata describes a pack and, for mirrored packs, its remote origin.
type Metadata struct {
	Version         string     `json:"version"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	SourceURL       string     `json:"source_url,omitempty"`
	SourceContactID string     `json:"source_contact_id,omitempty"`
	SyncedAt        *time.Time `json:"synced_at,omitempty"`
}

// CreateOptions are the caller-supplied fields of a new pack.
type CreateOptions struct {
	Name        string
	Description string
}

// Pack is an open pack file. Always Close it; an open handle can block the
// next writer of the same file.
type Pack struct {
	Path string
	db   *store.DB
}

// ID derives the stable identifier of a pack from its path.
func ID(path string) string {
	return uuid.NewSHA1(idNamespace, []byte(filepath.ToSlash(filepath.Clean(path)))).String()
}

// IsPackData reports whether data looks like a SQLite database file.
func IsPackData(data []byte) bool {
	return bytes.HasPrefix(data, sqliteHeader)
}

// Create initializes a new pack at path. It fails with a conflict if the
// file already exists.
func Create(ctx context.Context, path string, opts CreateOptions) (*Pack, error) {
	exists, err := OSFileSystem{}.Exists(path)
	if err != nil {
		return nil, apperr.Storage("create pack", err)
	}
	if exists {
		return nil, apperr.Conflict("create pack", "pack %s already exists", path)
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	db, err := store.OpenWith(path, store.Options{JournalMode: "DELETE"})
	if err != nil {
		return nil, apperr.Storage("create pack", err)
	}
	p := &Pack{Path: path, db: db}

	ts := formatTime(now())
	err = db.SetMeta(ctx, map[string]string{
		KeyVersion:     FormatVersion,
		KeyName:        name,
		KeyDescription: opts.Description,
		KeyCreatedAt:   ts,
		KeyUpdatedAt:   ts,
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Open opens an existing pack. Read-only packs skip migrations and reject writes.
func Open(path string, readOnly bool) (*Pack, error) {
	exists, err := OSFileSystem{}.Exists(path)
	if err != nil {
		return nil, apperr.Storage("open pack", err)
	}
	if !exists {
		return nil, apperr.NotFound("open pack", "pack "+path)
	}

	db, err := store.OpenWith(path, store.Options{JournalMode: "DELETE", ReadOnly: readOnly})
	if err != nil {
		return nil, apperr.Storage("open pack", err)
	}
	return &Pack{Path: path, db: db}, nil
}

// With opens the pack, runs fn, and closes the pack on every path out.
func With(ctx context.Context, path string, readOnly bool, fn func(p *Pack) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := Open(path, readOnly)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil && err == nil {
			err = apperr.Storage("close pack", cerr)
		}
	}()
	return fn(p)
}

// Close releases the underlying database handle.
func (p *Pack) Close() error {
	return p.db.Close()
}

// ID is the stable identifier of this pack's path.
func (p *Pack) ID() string { return ID(p.Path) }

// Store returns the pack's unscoped graph store.
func (p *Pack) Store() *store.Store { return p.db.Unscoped() }

// DB returns the underlying database.
func (p *Pack) DB() *store.DB { return p.db }

// Metadata reads the pack's metadata table.
func (p *Pack) Metadata(ctx context.Context) (Metadata, error) {
	kv, err := p.db.AllMeta(ctx)
	if err != nil {
		return Metadata{}, err
	}
	m := Metadata{
		Version:         kv[KeyVersion],
		Name:            kv[KeyName],
		Description:     kv[KeyDescription],
		SourceURL:       kv[KeySourceURL],
		SourceContactID: kv[KeySourceContactID],
	}
	m.CreatedAt, _ = parseTime(kv[KeyCreatedAt])
	m.UpdatedAt, _ = parseTime(kv[KeyUpdatedAt])
	if t, ok := parseTime(kv[KeySyncedAt]); ok {
		m.SyncedAt = &t
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(p.Path), filepath.Ext(p.Path))
	}
	return m, nil
}

// SetSource records the remote origin of a mirrored pack. An empty url
// clears the origin.
func (p *Pack) SetSource(ctx context.Context, url, contactID string, syncedAt time.Time) error {
	kv := map[string]string{
		KeySourceURL:       url,
		KeySourceContactID: contactID,
		KeySyncedAt:        "",
	}
	if url != "" && !syncedAt.IsZero() {
		kv[KeySyncedAt] = formatTime(syncedAt)
	}
	if url == "" {
		kv[KeySourceContactID] = ""
	}
	return p.db.SetMeta(ctx, kv)
}

// SetInfo updates the display name and description.
func (p *Pack) SetInfo(ctx context.Context, name, description string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.Validation("set pack info", "name is required")
	}
	return p.Mutate(ctx, func(tx *store.Store) error {
		return tx.PutMeta(ctx, map[string]string{KeyName: name, KeyDescription: description})
	})
}

// Mutate runs fn in one transaction and bumps updated_at when it succeeds.
func (p *Pack) Mutate(ctx context.Context, fn func(s *store.Store) error) error {
	if p.db.ReadOnly {
		return apperr.Validation("mutate pack", "pack %s is open read-only", p.Path)
	}
	return p.db.Unscoped().WithTx(ctx, func(tx *store.Store) error {
		if err := fn(tx); err != nil {
			return err
		}
		return tx.PutMeta(ctx, map[string]string{KeyUpdatedAt: formatTime(now())})
	})
}

// Stats returns live counts.
func (p *Pack) Stats(ctx context.Context) (store.Stats, error) {
	return p.Store().Stats(ctx)
}

// Graph returns the pack's active nodes and edges.
func (p *Pack) Graph(ctx context.Context) (*store.Graph, error) {
	return p.Store().Graph(ctx)
}

// Bytes reads the pack file. The pack should not be written concurrently.
func Bytes(fs FileSystem, path string) ([]byte, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, apperr.Storage("read pack", err)
	}
	if !IsPackData(data) {
		return nil, apperr.Storage("read pack", fmt.Errorf("%s is not a pack file", path))
	}
	return data, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
