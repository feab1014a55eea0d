package serve

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// MaintenanceStore is the housekeeping surface of the store.
type MaintenanceStore interface {
	AbandonStale(ctx context.Context, olderThan time.Time) (int64, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	PruneReceipts(ctx context.Context, before time.Time) (int64, error)
}

// MaintenanceConfig controls the housekeeping loop.
type MaintenanceConfig struct {
	// Interval is how often stale executions are swept.
	Interval time.Duration
	// StaleAfter is the age at which a Running execution is abandoned.
	StaleAfter time.Duration
	// Retention is how long ledger entries and receipts are kept.
	Retention time.Duration
	// PruneEvery is how often retention pruning runs.
	PruneEvery time.Duration
}

// Maintenance fails executions whose worker died and prunes old ledger
// entries.
type Maintenance struct {
	config    MaintenanceConfig
	store     MaintenanceStore
	log       *zap.Logger
	clock     func() time.Time
	lastPrune time.Time
}

// NewMaintenance creates the periodic sweep. Zero Interval and PruneEvery take their defaults.
func NewMaintenance(config MaintenanceConfig, store MaintenanceStore, log *zap.Logger) *Maintenance {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.PruneEvery <= 0 {
		config.PruneEvery = 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Maintenance{
		config: config,
		store:  store,
		log:    log.Named("maintenance"),
		clock:  time.Now,
	}
}

// Run sweeps immediately and then on every interval until ctx is cancelled.
func (m *Maintenance) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.log.Info("started",
		zap.Duration("interval", m.config.Interval),
		zap.Duration("stale_after", m.config.StaleAfter),
		zap.Duration("retention", m.config.Retention))

	m.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one housekeeping pass.
func (m *Maintenance) Sweep(ctx context.Context) {
	now := m.clock().UTC()

	if m.config.StaleAfter > 0 {
		n, err := m.store.AbandonStale(ctx, now.Add(-m.config.StaleAfter))
		if err != nil {
			m.log.Error("abandoning stale executions", zap.Error(err))
		} else if n > 0 {
			m.log.Warn("abandoned stale executions", zap.Int64("count", n))
		}
	}

	if m.config.Retention <= 0 || (!m.lastPrune.IsZero() && now.Sub(m.lastPrune) < m.config.PruneEvery) {
		return
	}
	cutoff := now.Add(-m.config.Retention)
	entries, err := m.store.Prune(ctx, cutoff)
	if err != nil {
		m.log.Error("pruning ledger", zap.Error(err))
		return
	}
	receipts, err := m.store.PruneReceipts(ctx, cutoff)
	if err != nil {
		m.log.Error("pruning receipts", zap.Error(err))
		return
	}
	m.lastPrune = now
	m.log.Info("pruned", zap.Int64("ledger_entries", entries), zap.Int64("receipts", receipts), zap.Time("before", cutoff))
}
