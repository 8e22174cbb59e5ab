package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/memgraph/internal/config"
	"github.com/lazypower/memgraph/internal/logging"
	"github.com/lazypower/memgraph/internal/metrics"
	"github.com/lazypower/memgraph/internal/replication"
	"github.com/lazypower/memgraph/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "memgraph",
	Short:         "Persistent memory graph for agents",
	Long:          "memgraph stores categorized memories as a graph, recalls them by relevance, and shares them as portable packs.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagConfig string
	flagOwner  string
	flagDB     string
)

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&flagOwner, "owner", "", "owner id (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (overrides config)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(packCmd)
	rootCmd.AddCommand(libraryCmd)
	for _, c := range memoryCommands() {
		rootCmd.AddCommand(c)
	}
}

// runtime bundles what most commands need.
type runtime struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Manager
}

// loadRuntime reads configuration, applies flag overrides and builds a logger.
func loadRuntime() (*runtime, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagOwner != "" {
		cfg.Owner = flagOwner
	}
	if flagDB != "" {
		cfg.Database.Path = flagDB
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	m := metrics.NoOp()
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}
	return &runtime{cfg: cfg, log: log, metrics: m}, nil
}

func (rt *runtime) close() {
	_ = rt.log.Sync()
}

// openDB opens the shared database named by config, or the default path.
func (rt *runtime) openDB() (*store.DB, error) {
	dbPath := rt.cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetLogger(rt.log)
	return db, nil
}

// syncer builds a replication Syncer from the sync section of the config.
func (rt *runtime) syncer() *replication.Syncer {
	return replication.New(replication.Options{
		ProbeTimeout: rt.cfg.Sync.ProbeTimeout,
		FetchTimeout: rt.cfg.Sync.FetchTimeout,
		Concurrency:  rt.cfg.Sync.Concurrency,
		Contacts:     replication.StaticContacts(rt.cfg.Sync.Contacts),
		Logger:       rt.log,
		Metrics:      rt.metrics,
	})
}

// absArg makes a path argument absolute so library paths resolve against
// the working directory rather than the manifest.
func absArg(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	return abs, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
