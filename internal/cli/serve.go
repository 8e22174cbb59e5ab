package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/memgraph/internal/engine"
	"github.com/lazypower/memgraph/internal/library"
	"github.com/lazypower/memgraph/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, log := rt.cfg, rt.log

	db, err := rt.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	maint := engine.NewMaintainer(db, cfg.Consolidation, log.Named("maintenance"), rt.metrics)
	maint.Start()
	defer maint.Stop()

	var agg *library.Aggregator
	libPath := ""
	if cfg.Library.Path != "" {
		agg = library.New(library.Options{Replicator: rt.syncer(), Logger: log.Named("library")})
		libPath = library.ManifestPath(cfg.Library.Path)
	}

	srv := server.New(server.Deps{
		DB:      db,
		Config:  cfg,
		Library: agg,
		Metrics: rt.metrics,
		Logger:  log.Named("http"),
		Version: VersionString(),
	})
	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("memgraph serving",
			zap.String("addr", addr),
			zap.String("db", db.Path),
			zap.String("owner", cfg.Owner),
			zap.String("library", libPath))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if agg != nil {
		w := library.NewWatcher(agg, libPath, log.Named("watcher"))
		g.Go(func() error {
			if err := w.Watch(gctx); err != nil {
				log.Warn("library watcher stopped", zap.Error(err))
			}
			return nil
		})

		if cfg.Sync.Interval > 0 {
			g.Go(func() error {
				scheduleSync(gctx, agg, libPath, cfg.Sync.Interval, log.Named("sync"))
				return nil
			})
		}
	}

	return g.Wait()
}

// scheduleSync runs a library sync pass on every interval until ctx ends.
func scheduleSync(ctx context.Context, agg *library.Aggregator, libPath string, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, report, err := agg.SyncPackStats(ctx, libPath)
			if err != nil {
				log.Warn("scheduled sync failed", zap.Error(err))
				continue
			}
			log.Info("scheduled sync",
				zap.Int("updated", len(report.Updated)),
				zap.Int("current", len(report.Current)),
				zap.Int("failed", len(report.Failed)))
		}
	}
}
