package library

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher refreshes a library's cached stats when one of its pack files
// changes on disk. It never replicates.
type Watcher struct {
	agg      *Aggregator
	libPath  string
	debounce time.Duration
	log      *zap.Logger

	mu        sync.Mutex
	onRefresh func(*Manifest, error)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits for writes to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// OnRefresh registers a callback run after each refresh.
func OnRefresh(fn func(*Manifest, error)) WatcherOption {
	return func(w *Watcher) { w.onRefresh = fn }
}

// NewWatcher creates a Watcher for the library at libPath.
func NewWatcher(agg *Aggregator, libPath string, log *zap.Logger, opts ...WatcherOption) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Watcher{agg: agg, libPath: libPath, debounce: 500 * time.Millisecond, log: log}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch blocks until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	libPath, libDir, err := resolve(w.libPath)
	if err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(libDir); err != nil {
		return fmt.Errorf("watch %s: %w", libDir, err)
	}
	w.log.Info("watching library", zap.String("library", libPath))

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !w.references(ctx, libPath, ev.Name) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() { w.refresh(ctx, libPath) })

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("library watcher error", zap.Error(err))
		}
	}
}

// references reports whether name is a pack file the library points at.
func (w *Watcher) references(ctx context.Context, libPath, name string) bool {
	if filepath.Clean(name) == libPath {
		return false
	}
	paths, err := w.agg.PackPaths(ctx, libPath)
	if err != nil {
		return false
	}
	for _, p := range paths {
		if p == filepath.Clean(name) {
			return true
		}
	}
	return false
}

func (w *Watcher) refresh(ctx context.Context, libPath string) {
	if ctx.Err() != nil {
		return
	}
	m, err := w.agg.RefreshStats(ctx, libPath)
	if err != nil {
		w.log.Warn("library refresh failed", zap.String("library", libPath), zap.Error(err))
	} else {
		w.log.Debug("library refreshed",
			zap.String("library", libPath),
			zap.Int("total_nodes", m.Metadata.TotalNodes))
	}

	w.mu.Lock()
	fn := w.onRefresh
	w.mu.Unlock()
	if fn != nil {
		fn(m, err)
	}
}
