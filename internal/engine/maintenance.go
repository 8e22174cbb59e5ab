package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/memgraph/internal/metrics"
	"github.com/lazypower/memgraph/internal/store"
)

// MaintenanceConfig holds the decay and prune parameters for the
// background pass.
type MaintenanceConfig struct {
	DecayRate       float64       `koanf:"decay_rate" validate:"gt=0,lte=1"`
	DecayMinDays    int           `koanf:"decay_min_days" validate:"gte=0"`
	PruneThreshold  float64       `koanf:"prune_threshold" validate:"gte=0,lte=1"`
	PruneMinAgeDays int           `koanf:"prune_min_age_days" validate:"gte=0"`
	Interval        time.Duration `koanf:"interval"`
}

// DefaultMaintenanceConfig returns the daily decay 0.99 / prune 0.1 after 30 days.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		DecayRate:       0.99,
		DecayMinDays:    7,
		PruneThreshold:  0.1,
		PruneMinAgeDays: 30,
		Interval:        24 * time.Hour,
	}
}

// MaintenanceReport sums one pass across all owners.
type MaintenanceReport struct {
	Owners  int `json:"owners"`
	Decayed int `json:"decayed"`
	Pruned  int `json:"pruned"`
}

// Maintainer periodically decays and prunes every owner in a database.
type Maintainer struct {
	db      *store.DB
	cfg     MaintenanceConfig
	log     *zap.Logger
	metrics *metrics.Manager

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMaintainer creates a Maintainer for db.
func NewMaintainer(db *store.DB, cfg MaintenanceConfig, log *zap.Logger, m *metrics.Manager) *Maintainer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Maintainer{
		db:      db,
		cfg:     cfg,
		log:     log,
		metrics: m,
		stopCh:  make(chan struct{}),
	}
}

// RunOnce decays then prunes each owner in turn. A failing owner is logged
// and skipped.
func (m *Maintainer) RunOnce(ctx context.Context) (MaintenanceReport, error) {
	owners, err := m.db.Owners(ctx)
	if err != nil {
		return MaintenanceReport{}, err
	}

	var report MaintenanceReport
	for _, owner := range owners {
		e := New(m.db.Scoped(owner), WithLogger(m.log), WithMetrics(m.metrics))
		decayed, err := e.DecayImportance(ctx, m.cfg.DecayRate, m.cfg.DecayMinDays)
		if err != nil {
			m.log.Warn("maintenance: decay", zap.Error(err), zap.String("owner", owner))
			continue
		}
		pruned, err := e.Prune(ctx, m.cfg.PruneThreshold, m.cfg.PruneMinAgeDays)
		if err != nil {
			m.log.Warn("maintenance: prune", zap.Error(err), zap.String("owner", owner))
			continue
		}
		report.Owners++
		report.Decayed += decayed
		report.Pruned += pruned
	}
	return report, nil
}

func (m *Maintainer) pass() {
	report, err := m.RunOnce(context.Background())
	if err != nil {
		m.log.Error("maintenance pass failed", zap.Error(err))
		return
	}
	if report.Decayed > 0 || report.Pruned > 0 {
		m.log.Info("maintenance pass",
			zap.Int("owners", report.Owners),
			zap.Int("decayed", report.Decayed),
			zap.Int("pruned", report.Pruned))
	}
}

// Start runs a pass immediately and then on every interval until Stop.
func (m *Maintainer) Start() {
	m.pass()

	interval := m.cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.pass()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the background loop and waits for it to exit.
func (m *Maintainer) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}
