package trigger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/riskinsure/fileretrieval/internal/domain"
	"github.com/riskinsure/fileretrieval/internal/logger"
	"github.com/riskinsure/fileretrieval/internal/metrics"
)

// Config controls the tick loop.
type Config struct {
	TickInterval time.Duration
	// MaxCatchUp bounds how far back missed activations are considered.
	MaxCatchUp time.Duration
}

// Scheduler fires due configurations once per tick.
type Scheduler struct {
	config   Config
	source   ConfigurationSource
	gate     Gate
	executor Executor
	log      *zap.Logger
	metrics  metrics.Sink
	clock    func() time.Time

	// lastFired is only touched from the tick goroutine.
	lastFired map[string]time.Time
}

// NewScheduler creates a Scheduler. Zero Config fields take their defaults.
func NewScheduler(config Config, source ConfigurationSource, gate Gate, executor Executor, log *zap.Logger) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Minute
	}
	if config.MaxCatchUp <= 0 {
		config.MaxCatchUp = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		config:    config,
		source:    source,
		gate:      gate,
		executor:  executor,
		log:       log.Named("scheduler"),
		metrics:   metrics.Noop{},
		clock:     time.Now,
		lastFired: make(map[string]time.Time),
	}
}

// WithMetrics attaches a metrics sink.
func (s *Scheduler) WithMetrics(sink metrics.Sink) *Scheduler {
	s.metrics = sink
	return s
}

// WithClock replaces the time source.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Run ticks until ctx is cancelled. The first tick happens immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.log.Info("started", zap.Duration("tick", s.config.TickInterval))
	for {
		if err := s.Tick(ctx); err != nil {
			s.log.Error("tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.log.Info("stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick evaluates every active configuration once and hands due ones to the
// executor. Errors for a single configuration are logged and skipped.
func (s *Scheduler) Tick(ctx context.Context) error {
	start := s.clock()
	now := start.UTC()

	configs, err := s.source.GetActiveConfigurations(ctx)
	if err != nil {
		return fmt.Errorf("loading active configurations: %w", err)
	}

	sort.Slice(configs, func(i, j int) bool {
		if configs[i].ClientID != configs[j].ClientID {
			return configs[i].ClientID < configs[j].ClientID
		}
		return configs[i].ID < configs[j].ID
	})

	seen := make(map[string]bool, len(configs))
	due := 0
	for _, cfg := range configs {
		if ctx.Err() != nil {
			break
		}
		seen[cfg.Key()] = true
		fired, err := s.evaluate(ctx, cfg, now)
		if err != nil {
			s.log.Error("evaluating configuration", append(logger.Execution(cfg.ClientID, cfg.ID, ""), zap.Error(err))...)
			continue
		}
		if fired {
			due++
		}
	}

	for key := range s.lastFired {
		if !seen[key] {
			delete(s.lastFired, key)
		}
	}

	s.metrics.TickCompleted(s.clock().Sub(start), due)
	return nil
}

// evaluate fires cfg when a cron activation is due and reports whether it did.
func (s *Scheduler) evaluate(ctx context.Context, cfg domain.Configuration, now time.Time) (bool, error) {
	sched, err := ParseCron(cfg.Cron, cfg.Location())
	if err != nil {
		return false, err
	}

	ref, ok := s.lastFired[cfg.Key()]
	if !ok {
		ref = now.Truncate(time.Minute).Add(-time.Nanosecond)
	}
	if floor := now.Add(-s.config.MaxCatchUp); ref.Before(floor) {
		ref = floor
	}

	scheduled, ok := sched.Latest(ref, now)
	if !ok {
		// Nothing due up to now; the next tick searches from here.
		s.lastFired[cfg.Key()] = now
		return false, nil
	}

	slot, ok := s.gate.TryAcquire()
	if !ok {
		// Keep the activation pending so the next tick picks it up.
		s.lastFired[cfg.Key()] = scheduled.Add(-time.Nanosecond)
		s.log.Warn("capacity exceeded, execution deferred to next tick",
			append(logger.Execution(cfg.ClientID, cfg.ID, ""), zap.Time("scheduled_time", scheduled))...)
		return false, nil
	}

	s.lastFired[cfg.Key()] = scheduled
	cmd := domain.ExecuteFileCheck{
		ClientID:        cfg.ClientID,
		ConfigurationID: cfg.ID,
		ScheduledTime:   scheduled,
		IsManualTrigger: false,
		TriggeredBy:     domain.TriggeredByScheduler,
		IdempotencyKey:  IdempotencyKey(cfg.ClientID, cfg.ID, scheduled),
	}
	s.log.Debug("firing", append(logger.Execution(cfg.ClientID, cfg.ID, ""), zap.Time("scheduled_time", scheduled))...)
	s.executor.Execute(ctx, cmd, slot)
	return true, nil
}
