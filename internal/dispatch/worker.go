package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riskinsure/fileretrieval/internal/bus"
	"github.com/riskinsure/fileretrieval/internal/domain"
	"github.com/riskinsure/fileretrieval/internal/gate"
	"github.com/riskinsure/fileretrieval/internal/logger"
	"github.com/riskinsure/fileretrieval/internal/metrics"
	"github.com/riskinsure/fileretrieval/internal/protocol"
)

// ErrCapacity is returned by Handle when no gate slot is free. The bus
// redelivers the command later.
var ErrCapacity = errors.New("dispatch: capacity exceeded")

// Runner executes one command attempt.
type Runner interface {
	Dispatch(ctx context.Context, cmd domain.ExecuteFileCheck) (Outcome, error)
}

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy retries for up to five minutes.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: time.Second,
	MaxInterval:     30 * time.Second,
	MaxElapsed:      5 * time.Minute,
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = p.MaxElapsed
	b.Reset()
	return b
}

// Worker runs commands from the scheduler and the bus, holding a gate slot
// for the duration of each.
type Worker struct {
	runner  Runner
	gate    *gate.Gate
	retry   RetryPolicy
	log     *zap.Logger
	metrics metrics.Sink
	wg      sync.WaitGroup
}

// NewWorker creates a Worker that runs commands through runner within the capacity of g.
func NewWorker(runner Runner, g *gate.Gate, retry RetryPolicy, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		runner:  runner,
		gate:    g,
		retry:   retry,
		log:     log.Named("worker"),
		metrics: metrics.Noop{},
	}
}

// WithMetrics attaches a metrics sink.
func (w *Worker) WithMetrics(sink metrics.Sink) *Worker {
	w.metrics = sink
	return w
}

// Execute runs cmd in the background and releases slot when it finishes.
func (w *Worker) Execute(ctx context.Context, cmd domain.ExecuteFileCheck, slot *gate.Slot) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer slot.Release()
		if _, err := w.Run(ctx, cmd); err != nil && ctx.Err() == nil {
			w.log.Error("file check abandoned after retries",
				append(logger.Execution(cmd.ClientID, cmd.ConfigurationID, ""), zap.Error(err))...)
		}
	}()
}

// Handle is a bus.Handler for ExecuteFileCheck commands.
func (w *Worker) Handle(ctx context.Context, msg bus.Message) error {
	if msg.Type != bus.CommandExecuteFileCheck {
		w.log.Warn("ignoring unexpected command", zap.String("type", msg.Type), zap.String("message_id", msg.ID))
		return nil
	}
	var cmd domain.ExecuteFileCheck
	if err := msg.Decode(&cmd); err != nil {
		w.log.Error("dropping malformed command", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}

	slot, ok := w.gate.TryAcquire()
	if !ok {
		w.log.Warn("capacity exceeded, command will be redelivered",
			logger.Execution(cmd.ClientID, cmd.ConfigurationID, "")...)
		return ErrCapacity
	}
	defer slot.Release()

	w.wg.Add(1)
	defer w.wg.Done()
	_, err := w.Run(ctx, cmd)
	return err
}

// Run dispatches cmd, retrying transient failures with exponential backoff.
func (w *Worker) Run(ctx context.Context, cmd domain.ExecuteFileCheck) (Outcome, error) {
	var out Outcome
	op := func() error {
		var err error
		out, err = w.runner.Dispatch(ctx, cmd)
		if err != nil && protocol.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	onRetry := func(err error, wait time.Duration) {
		w.metrics.DispatchRetry()
		w.log.Warn("file check failed, retrying",
			append(logger.Execution(cmd.ClientID, cmd.ConfigurationID, out.ExecutionID),
				zap.Duration("backoff", wait), zap.Error(err))...)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(w.retry.backOff(), ctx), onRetry)
	return out, err
}

// Wait blocks until every command started by Execute or Handle returns.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// ManualCommand builds an ExecuteFileCheck for an operator-requested run.
func ManualCommand(clientID, configurationID, user string, now time.Time) domain.ExecuteFileCheck {
	return domain.ExecuteFileCheck{
		ClientID:        clientID,
		ConfigurationID: configurationID,
		ScheduledTime:   now.UTC(),
		IsManualTrigger: true,
		TriggeredBy:     user,
		IdempotencyKey:  uuid.NewString(),
	}
}

// Enqueue publishes cmd to the dispatcher's command stream.
func Enqueue(ctx context.Context, publisher bus.Publisher, cmd domain.ExecuteFileCheck) error {
	msg, err := bus.NewCommand(bus.CommandExecuteFileCheck, bus.DispatcherTarget, cmd.IdempotencyKey, cmd)
	if err != nil {
		return err
	}
	return publisher.Publish(ctx, msg)
}
