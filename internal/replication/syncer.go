// Package replication keeps mirrored packs up to date by pulling whole pack
// files from the peer recorded in each pack's source_url.
package replication

import (
	"context"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/memgraph/internal/apperr"
	"github.com/lazypower/memgraph/internal/metrics"
	"github.com/lazypower/memgraph/internal/pack"
)

// Sync outcomes, also used as metric labels.
const (
	OutcomeUpdated = "updated"
	OutcomeCurrent = "current"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// ContactResolver maps a source contact id to the bearer token used against
// that contact's server.
type ContactResolver interface {
	Token(contactID string) (string, bool)
}

// StaticContacts resolves tokens from a fixed map, typically from config.
type StaticContacts map[string]string

func (c StaticContacts) Token(contactID string) (string, bool) {
	tok, ok := c[contactID]
	return tok, ok && tok != ""
}

// Options configures a Syncer. Zero values get defaults.
type Options struct {
	HTTPClient   *http.Client
	ProbeTimeout time.Duration
	FetchTimeout time.Duration
	Concurrency  int
	Contacts     ContactResolver
	FS           pack.FileSystem
	Logger       *zap.Logger
	Metrics      *metrics.Manager
}

// Syncer runs pull sync passes.
type Syncer struct {
	client      *client
	contacts    ContactResolver
	fs          pack.FileSystem
	concurrency int
	log         *zap.Logger
	metrics     *metrics.Manager
	now         func() time.Time
}

// New creates a Syncer.
func New(opts Options) *Syncer {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	fs := opts.FS
	if fs == nil {
		fs = pack.OSFileSystem{}
	}
	contacts := opts.Contacts
	if contacts == nil {
		contacts = StaticContacts(nil)
	}
	conc := opts.Concurrency
	if conc <= 0 {
		conc = 4
	}
	return &Syncer{
		client:      newClient(opts.HTTPClient, opts.ProbeTimeout, opts.FetchTimeout, log),
		contacts:    contacts,
		fs:          fs,
		concurrency: conc,
		log:         log,
		metrics:     opts.Metrics,
		now:         time.Now,
	}
}

// SyncPack refreshes one pack from its source. It reports whether the local
// file was replaced. Packs without a source_url are left alone.
func (s *Syncer) SyncPack(ctx context.Context, path string) (updated bool, err error) {
	start := time.Now()
	outcome := OutcomeFailed
	defer func() {
		s.metrics.RecordSync(outcome, time.Since(start))
	}()

	var meta pack.Metadata
	err = pack.With(ctx, path, true, func(p *pack.Pack) error {
		var err error
		meta, err = p.Metadata(ctx)
		return err
	})
	if err != nil {
		return false, err
	}
	if meta.SourceURL == "" {
		outcome = OutcomeSkipped
		return false, nil
	}

	var token string
	if meta.SourceContactID != "" {
		var ok bool
		if token, ok = s.contacts.Token(meta.SourceContactID); !ok {
			s.log.Debug("no token for source contact",
				zap.String("pack", path),
				zap.String("contact_id", meta.SourceContactID))
		}
	}

	share, err := s.client.Probe(ctx, meta.SourceURL, token)
	if err != nil {
		return false, err
	}
	if meta.SyncedAt != nil && !meta.SyncedAt.Before(*share.UpdatedAt) {
		outcome = OutcomeCurrent
		return false, nil
	}

	data, err := s.client.Fetch(ctx, meta.SourceURL, token)
	if err != nil {
		return false, err
	}
	if !pack.IsPackData(data) {
		return false, apperr.Syncf("fetch "+meta.SourceURL, "payload is not a pack file")
	}
	// The fetched file carries the peer's own metadata. Provenance is written
	// into a staged copy so the local pack is only replaced once it is complete.
	staged := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".incoming")
	if err := s.fs.WriteFile(staged, data); err != nil {
		return false, apperr.Storage("stage pack", err)
	}
	defer func() {
		if rmErr := s.fs.Remove(staged); rmErr != nil {
			s.log.Warn("remove staged pack", zap.String("path", staged), zap.Error(rmErr))
		}
	}()

	err = pack.With(ctx, staged, false, func(p *pack.Pack) error {
		return p.SetSource(ctx, meta.SourceURL, meta.SourceContactID, s.now())
	})
	if err != nil {
		return false, apperr.Syncf("fetch "+meta.SourceURL, "unusable pack payload: %v", err)
	}
	if data, err = s.fs.ReadFile(staged); err != nil {
		return false, apperr.Storage("read staged pack", err)
	}
	if err := s.fs.WriteFile(path, data); err != nil {
		return false, apperr.Storage("replace pack", err)
	}

	outcome = OutcomeUpdated
	s.log.Info("pack synced",
		zap.String("pack", path),
		zap.String("source_url", meta.SourceURL),
		zap.Int("bytes", len(data)))
	return true, nil
}

// Report summarizes a multi-pack pass.
type Report struct {
	Updated []string         `json:"updated"`
	Current []string         `json:"current"`
	Failed  map[string]error `json:"-"`
}

// Errors renders Failed for JSON output.
func (r Report) Errors() map[string]string {
	out := make(map[string]string, len(r.Failed))
	for path, err := range r.Failed {
		out[path] = err.Error()
	}
	return out
}

// SyncAll syncs every pack with bounded concurrency. A failing pack is
// logged and recorded in the report; it never stops the others.
func (s *Syncer) SyncAll(ctx context.Context, paths []string) Report {
	report := Report{Failed: make(map[string]error)}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			updated, err := s.SyncPack(ctx, path)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				s.log.Warn("pack sync failed", zap.String("pack", path), zap.Error(err))
				report.Failed[path] = err
			case updated:
				report.Updated = append(report.Updated, path)
			default:
				report.Current = append(report.Current, path)
			}
			return nil
		})
	}
	g.Wait()

	sort.Strings(report.Updated)
	sort.Strings(report.Current)
	return report
}
