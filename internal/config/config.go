// Package config loads memgraph configuration from defaults, an optional
// YAML or JSON file, and MEMGRAPH_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/lazypower/memgraph/internal/engine"
)

// Config holds all memgraph configuration.
type Config struct {
	Server        ServerConfig             `koanf:"server"`
	Database      DatabaseConfig           `koanf:"database"`
	Owner         string                   `koanf:"owner" validate:"required,max=128"`
	Log           LogConfig                `koanf:"log"`
	Recall        RecallConfig             `koanf:"recall"`
	Consolidation engine.MaintenanceConfig `koanf:"consolidation"`
	Library       LibraryConfig            `koanf:"library"`
	Sync          SyncConfig               `koanf:"sync"`
	Share         ShareConfig              `koanf:"share"`
	Metrics       MetricsConfig            `koanf:"metrics"`
}

type ServerConfig struct {
	Bind string `koanf:"bind" validate:"required"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"` // empty means store.DefaultDBPath()
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type RecallConfig struct {
	Limit   int            `koanf:"limit" validate:"min=1,max=1000"`
	Weights engine.Weights `koanf:"weights"`
}

type LibraryConfig struct {
	Path string `koanf:"path"` // manifest file or directory
}

type SyncConfig struct {
	ProbeTimeout time.Duration     `koanf:"probe_timeout" validate:"gt=0"`
	FetchTimeout time.Duration     `koanf:"fetch_timeout" validate:"gt=0"`
	Concurrency  int               `koanf:"concurrency" validate:"min=1,max=64"`
	Interval     time.Duration     `koanf:"interval" validate:"gte=0"` // 0 disables scheduled sync
	Contacts     map[string]string `koanf:"contacts"`                  // contact id -> api key
}

type ShareConfig struct {
	Token string `koanf:"token"` // empty disables share auth
	Dir   string `koanf:"dir"`   // directory of shareable packs
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37777,
		},
		Owner: "default",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Recall: RecallConfig{
			Limit:   10,
			Weights: engine.DefaultWeights(),
		},
		Consolidation: engine.DefaultMaintenanceConfig(),
		Sync: SyncConfig{
			ProbeTimeout: 10 * time.Second,
			FetchTimeout: 120 * time.Second,
			Concurrency:  4,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// flatten renders c as dotted keys for the confmap provider.
func (c Config) flatten() map[string]any {
	return map[string]any{
		"server.bind":                      c.Server.Bind,
		"server.port":                      c.Server.Port,
		"database.path":                    c.Database.Path,
		"owner":                            c.Owner,
		"log.level":                        c.Log.Level,
		"log.format":                       c.Log.Format,
		"recall.limit":                     c.Recall.Limit,
		"recall.weights.recency":           c.Recall.Weights.Recency,
		"recall.weights.importance":        c.Recall.Weights.Importance,
		"recall.weights.relevance":         c.Recall.Weights.Relevance,
		"consolidation.decay_rate":         c.Consolidation.DecayRate,
		"consolidation.decay_min_days":     c.Consolidation.DecayMinDays,
		"consolidation.prune_threshold":    c.Consolidation.PruneThreshold,
		"consolidation.prune_min_age_days": c.Consolidation.PruneMinAgeDays,
		"consolidation.interval":           c.Consolidation.Interval,
		"library.path":                     c.Library.Path,
		"sync.probe_timeout":               c.Sync.ProbeTimeout,
		"sync.fetch_timeout":               c.Sync.FetchTimeout,
		"sync.concurrency":                 c.Sync.Concurrency,
		"sync.interval":                    c.Sync.Interval,
		"share.token":                      c.Share.Token,
		"share.dir":                        c.Share.Dir,
		"metrics.enabled":                  c.Metrics.Enabled,
	}
}
