// Package dispatch runs file checks: it lists a configuration's remote
// location, records newly discovered files in the ledger and announces them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riskinsure/fileretrieval/internal/bus"
	"github.com/riskinsure/fileretrieval/internal/domain"
	"github.com/riskinsure/fileretrieval/internal/ledger"
	"github.com/riskinsure/fileretrieval/internal/lock"
	"github.com/riskinsure/fileretrieval/internal/logger"
	"github.com/riskinsure/fileretrieval/internal/metrics"
	"github.com/riskinsure/fileretrieval/internal/notify"
	"github.com/riskinsure/fileretrieval/internal/protocol"
)

// ConfigurationRepository resolves the latest version of a configuration.
type ConfigurationRepository interface {
	GetByID(ctx context.Context, clientID, id string) (domain.Configuration, error)
}

// ExecutionRepository persists execution records.
type ExecutionRepository interface {
	Create(ctx context.Context, e domain.Execution) error
	Update(ctx context.Context, e domain.Execution) error
}

// Notifier announces one discovered file.
type Notifier interface {
	Emit(ctx context.Context, n notify.Notification) (notify.EmitResult, error)
}

// Config tunes a Dispatcher.
type Config struct {
	ListTimeout time.Duration
	LockTTL     time.Duration

	// EmitAttempts bounds how often one file's notifications are tried within
	// an execution. Definitions already delivered are skipped on later tries.
	EmitAttempts      int
	EmitRetryInterval time.Duration
}

// Outcome summarises one Dispatch call.
type Outcome struct {
	ExecutionID     string
	Skipped         bool
	SkipReason      string
	Status          domain.ExecutionStatus
	DiscoveredCount int
	DispatchedCount int
}

// Dispatcher executes ExecuteFileCheck commands.
type Dispatcher struct {
	config     Config
	configs    ConfigurationRepository
	executions ExecutionRepository
	ledger     ledger.Ledger
	locker     lock.Locker
	events     bus.Publisher
	adapters   protocol.Factory
	notifier   Notifier
	log        *zap.Logger
	metrics    metrics.Sink
	clock      func() time.Time
	newID      func() string
}

// Deps groups the collaborators of a Dispatcher.
type Deps struct {
	Configurations ConfigurationRepository
	Executions     ExecutionRepository
	Ledger         ledger.Ledger
	Locker         lock.Locker
	Events         bus.Publisher
	Adapters       protocol.Factory
	Notifier       Notifier
	Logger         *zap.Logger
	Metrics        metrics.Sink
}

// New creates a Dispatcher. Zero Config fields take their defaults.
func New(config Config, deps Deps) *Dispatcher {
	if config.ListTimeout <= 0 {
		config.ListTimeout = 2 * time.Minute
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 15 * time.Minute
	}
	if config.EmitAttempts <= 0 {
		config.EmitAttempts = 3
	}
	if config.EmitRetryInterval <= 0 {
		config.EmitRetryInterval = 500 * time.Millisecond
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	sink := deps.Metrics
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Dispatcher{
		config:     config,
		configs:    deps.Configurations,
		executions: deps.Executions,
		ledger:     deps.Ledger,
		locker:     deps.Locker,
		events:     deps.Events,
		adapters:   deps.Adapters,
		notifier:   deps.Notifier,
		log:        log.Named("dispatcher"),
		metrics:    sink,
		clock:      time.Now,
		newID:      uuid.NewString,
	}
}

// WithClock replaces the time source.
func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// Dispatch runs one check of the configuration named by cmd.
//
// A nil error means the command is done with, including skips and permanent
// failures recorded on the execution. A non-nil error is transient and the
// command should be retried.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd domain.ExecuteFileCheck) (Outcome, error) {
	log := d.log.With(logger.Execution(cmd.ClientID, cmd.ConfigurationID, "")...)

	cfg, err := d.configs.GetByID(ctx, cmd.ClientID, cmd.ConfigurationID)
	if errors.Is(err, domain.ErrConfigurationNotFound) {
		log.Warn("configuration not found, skipping")
		return Outcome{Skipped: true, SkipReason: "configuration not found"}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("loading configuration %s/%s: %w", cmd.ClientID, cmd.ConfigurationID, err)
	}
	if !cfg.Active {
		log.Info("configuration inactive, skipping")
		return Outcome{Skipped: true, SkipReason: "configuration inactive"}, nil
	}

	lease, ok, err := d.locker.TryLock(ctx, cfg.Key(), d.config.LockTTL)
	if err != nil {
		return Outcome{}, fmt.Errorf("locking %s: %w", cfg.Key(), err)
	}
	if !ok {
		log.Info("execution already running for configuration, skipping")
		return Outcome{Skipped: true, SkipReason: "already running"}, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("releasing configuration lock", zap.Error(err))
		}
	}()

	return d.run(ctx, cfg, cmd)
}

// run owns one execution from creation to its terminal status.
func (d *Dispatcher) run(ctx context.Context, cfg domain.Configuration, cmd domain.ExecuteFileCheck) (Outcome, error) {
	now := d.clock().UTC()
	exec := domain.Execution{
		ID:              d.newID(),
		ConfigurationID: cfg.ID,
		ClientID:        cfg.ClientID,
		ScheduledTime:   cmd.ScheduledTime.UTC(),
		StartedAt:       now,
		Status:          domain.ExecutionStatusRunning,
		IsManualTrigger: cmd.IsManualTrigger,
		TriggeredBy:     cmd.TriggeredBy,
	}
	if exec.ScheduledTime.IsZero() {
		exec.ScheduledTime = now
	}
	if exec.TriggeredBy == "" && !exec.IsManualTrigger {
		exec.TriggeredBy = domain.TriggeredByScheduler
	}
	log := d.log.With(logger.Execution(cfg.ClientID, cfg.ID, exec.ID)...)
	out := Outcome{ExecutionID: exec.ID, Status: domain.ExecutionStatusRunning}

	if err := d.executions.Create(ctx, exec); err != nil {
		return out, fmt.Errorf("creating execution: %w", err)
	}
	log.Info("execution started",
		zap.Bool("manual", exec.IsManualTrigger), zap.String("triggered_by", exec.TriggeredBy),
		zap.Time("scheduled_time", exec.ScheduledTime))

	triggered, err := bus.NewEvent(domain.EventFileCheckTriggered, cfg.ClientID+":"+cfg.ID+":"+exec.ID, domain.FileCheckTriggered{
		ExecutionID:            exec.ID,
		ClientID:               cfg.ClientID,
		ConfigurationID:        cfg.ID,
		IsManualTrigger:        exec.IsManualTrigger,
		TriggeredBy:            exec.TriggeredBy,
		ScheduledExecutionTime: exec.ScheduledTime,
	})
	if err == nil {
		err = d.events.Publish(ctx, triggered)
	}
	if err != nil {
		d.leaveRunning(ctx, log, &exec, err)
		return out, fmt.Errorf("publishing %s: %w", domain.EventFileCheckTriggered, err)
	}

	files, err := d.list(ctx, cfg)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return d.finish(ctx, log, exec, 0, 0, true), nil
		case protocol.IsPermanent(err):
			log.Error("listing failed permanently", zap.Error(err))
			return d.fail(ctx, log, exec, err.Error()), nil
		default:
			d.leaveRunning(ctx, log, &exec, err)
			return out, fmt.Errorf("listing %s: %w", cfg.Key(), err)
		}
	}
	log.Debug("listed remote files", zap.Int("count", len(files)))

	ledgerID := cfg.Key()
	var discovered, dispatched, failed int
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		dedup := f.DedupKey()
		fileLog := log.With(zap.String("file", f.Path))

		seen, err := d.ledger.Exists(ctx, ledgerID, dedup)
		if err != nil {
			fileLog.Warn("checking ledger", zap.Error(err))
			failed++
			continue
		}
		if seen {
			continue
		}

		discoveredAt := d.clock().UTC()
		err = d.ledger.Insert(ctx, domain.DiscoveredFile{
			ConfigurationID: ledgerID,
			DedupKey:        dedup,
			FileURI:         f.URI,
			Size:            f.Size,
			LastModified:    f.LastModified.UTC(),
			DiscoveredAt:    discoveredAt,
			ExecutionID:     exec.ID,
		})
		if errors.Is(err, ledger.ErrDuplicate) {
			continue
		}
		if err != nil {
			fileLog.Warn("recording discovered file", zap.Error(err))
			failed++
			continue
		}
		discovered++

		if err := d.emit(ctx, fileLog, notify.Notification{
			ExecutionID:   exec.ID,
			Configuration: cfg,
			File:          f,
			DedupKey:      dedup,
			DiscoveredAt:  discoveredAt,
		}); err != nil {
			fileLog.Warn("notifying discovered file", zap.Error(err))
			failed++
			continue
		}
		dispatched++
	}

	d.metrics.FilesDiscovered(discovered)
	if ctx.Err() != nil {
		return d.finish(ctx, log, exec, discovered, dispatched, true), nil
	}
	exec.FailureReason = ""
	if failed > 0 {
		exec.FailureReason = fmt.Sprintf("%d file(s) failed", failed)
	}
	return d.finish(ctx, log, exec, discovered, dispatched, false), nil
}

// emit announces one file, retrying failed definitions up to EmitAttempts
// times. The notifier's receipts keep earlier successes from being resent.
func (d *Dispatcher) emit(ctx context.Context, log *zap.Logger, n notify.Notification) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.config.EmitRetryInterval), uint64(d.config.EmitAttempts-1)),
		ctx)
	return backoff.RetryNotify(func() error {
		_, err := d.notifier.Emit(ctx, n)
		return err
	}, policy, func(err error, wait time.Duration) {
		log.Debug("retrying notification", zap.Error(err), zap.Duration("wait", wait))
	})
}

// list builds the adapter and lists under the list timeout.
func (d *Dispatcher) list(ctx context.Context, cfg domain.Configuration) ([]domain.RemoteFile, error) {
	listCtx, cancel := context.WithTimeout(ctx, d.config.ListTimeout)
	defer cancel()

	adapter, err := d.adapters(listCtx, cfg)
	if err != nil {
		return nil, err
	}
	defer adapter.Close()

	return adapter.List(listCtx, protocol.QueryFor(cfg))
}

// finish moves exec to its terminal status and publishes the matching event.
// A cancelled execution that committed files completes with errors; one that
// committed nothing fails.
func (d *Dispatcher) finish(ctx context.Context, log *zap.Logger, exec domain.Execution, discovered, dispatched int, cancelled bool) Outcome {
	exec.DiscoveredCount = discovered
	exec.DispatchedCount = dispatched

	switch {
	case cancelled && discovered == 0:
		return d.fail(ctx, log, exec, "cancelled")
	case cancelled:
		exec.FailureReason = "cancelled"
		exec.Status = domain.ExecutionStatusCompletedWithErrors
	case exec.FailureReason != "":
		exec.Status = domain.ExecutionStatusCompletedWithErrors
	default:
		exec.Status = domain.ExecutionStatusCompleted
	}

	ctx = context.WithoutCancel(ctx)
	completed := d.clock().UTC()
	exec.CompletedAt = &completed
	if err := d.executions.Update(ctx, exec); err != nil {
		log.Error("finalizing execution", zap.Error(err))
	}

	d.publish(ctx, log, domain.EventFileCheckCompleted, exec.ID, domain.FileCheckCompleted{
		ExecutionID:     exec.ID,
		DiscoveredCount: discovered,
		DispatchedCount: dispatched,
	})
	d.metrics.ExecutionFinished(string(exec.Status), completed.Sub(exec.StartedAt))
	log.Info("execution finished",
		zap.String("status", string(exec.Status)),
		zap.Int("discovered", discovered), zap.Int("dispatched", dispatched))

	return Outcome{
		ExecutionID:     exec.ID,
		Status:          exec.Status,
		DiscoveredCount: discovered,
		DispatchedCount: dispatched,
	}
}

// fail records a Failed execution and publishes FileCheckFailed.
func (d *Dispatcher) fail(ctx context.Context, log *zap.Logger, exec domain.Execution, reason string) Outcome {
	ctx = context.WithoutCancel(ctx)
	completed := d.clock().UTC()
	exec.Status = domain.ExecutionStatusFailed
	exec.FailureReason = reason
	exec.CompletedAt = &completed
	if err := d.executions.Update(ctx, exec); err != nil {
		log.Error("finalizing execution", zap.Error(err))
	}

	d.publish(ctx, log, domain.EventFileCheckFailed, exec.ID, domain.FileCheckFailed{
		ExecutionID:   exec.ID,
		FailureReason: reason,
	})
	d.metrics.ExecutionFinished(string(exec.Status), completed.Sub(exec.StartedAt))
	log.Warn("execution failed", zap.String("reason", reason))

	return Outcome{
		ExecutionID:     exec.ID,
		Status:          exec.Status,
		DiscoveredCount: exec.DiscoveredCount,
		DispatchedCount: exec.DispatchedCount,
	}
}

// leaveRunning notes a transient failure on an execution that stays Running.
// The stale sweep fails it if no retry follows.
func (d *Dispatcher) leaveRunning(ctx context.Context, log *zap.Logger, exec *domain.Execution, cause error) {
	exec.FailureReason = "transient: " + cause.Error()
	if err := d.executions.Update(context.WithoutCancel(ctx), *exec); err != nil {
		log.Warn("recording transient failure", zap.Error(err))
	}
	log.Warn("transient failure", zap.Error(cause))
}

func (d *Dispatcher) publish(ctx context.Context, log *zap.Logger, typ, executionID string, payload any) {
	msg, err := bus.NewEvent(typ, executionID+":"+typ, payload)
	if err == nil {
		err = d.events.Publish(ctx, msg)
	}
	if err != nil {
		log.Error("publishing audit event", zap.String("type", typ), zap.Error(err))
	}
}
