package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskinsure/fileretrieval/internal/bus"
	"github.com/riskinsure/fileretrieval/internal/domain"
	"github.com/riskinsure/fileretrieval/internal/gate"
	"github.com/riskinsure/fileretrieval/internal/protocol"
)

var fastRetry = RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxElapsed: time.Second}

// scriptedRunner returns errs in order, then succeeds.
type scriptedRunner struct {
	mu    sync.Mutex
	errs  []error
	calls int
	cmds  []domain.ExecuteFileCheck
}

func (r *scriptedRunner) Dispatch(ctx context.Context, cmd domain.ExecuteFileCheck) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.cmds = append(r.cmds, cmd)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return Outcome{ExecutionID: "e"}, err
	}
	return Outcome{ExecutionID: "e", Status: domain.ExecutionStatusCompleted}, nil
}

func (r *scriptedRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestWorker_RetriesTransientFailures(t *testing.T) {
	runner := &scriptedRunner{errs: []error{errors.New("timeout"), errors.New("timeout")}}
	w := NewWorker(runner, gate.New(1), fastRetry, nil)

	out, err := w.Run(context.Background(), domain.ExecuteFileCheck{ClientID: "acme", ConfigurationID: "orders"})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, out.Status)
	assert.Equal(t, 3, runner.callCount())
}

func TestWorker_PermanentFailureNotRetried(t *testing.T) {
	runner := &scriptedRunner{errs: []error{protocol.Permanent(errors.New("bad settings"))}}
	w := NewWorker(runner, gate.New(1), fastRetry, nil)

	_, err := w.Run(context.Background(), domain.ExecuteFileCheck{})
	require.Error(t, err)
	assert.True(t, protocol.IsPermanent(err))
	assert.Equal(t, 1, runner.callCount())
}

func TestWorker_GivesUpAfterMaxElapsed(t *testing.T) {
	errs := make([]error, 1000)
	for i := range errs {
		errs[i] = errors.New("down")
	}
	runner := &scriptedRunner{errs: errs}
	w := NewWorker(runner, gate.New(1), RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxElapsed: 20 * time.Millisecond}, nil)

	_, err := w.Run(context.Background(), domain.ExecuteFileCheck{})
	require.Error(t, err)
	assert.Less(t, runner.callCount(), 1000)
}

func TestWorker_ExecuteReleasesSlot(t *testing.T) {
	g := gate.New(1)
	w := NewWorker(&scriptedRunner{}, g, fastRetry, nil)

	slot, ok := g.TryAcquire()
	require.True(t, ok)
	w.Execute(context.Background(), domain.ExecuteFileCheck{}, slot)
	w.Wait()

	assert.Zero(t, g.InFlight())
}

func TestWorker_HandleRejectsWhenFull(t *testing.T) {
	g := gate.New(1)
	runner := &scriptedRunner{}
	w := NewWorker(runner, g, fastRetry, nil)
	msg, err := bus.NewCommand(bus.CommandExecuteFileCheck, bus.DispatcherTarget, "k", domain.ExecuteFileCheck{ClientID: "acme"})
	require.NoError(t, err)

	slot, ok := g.TryAcquire()
	require.True(t, ok)
	assert.ErrorIs(t, w.Handle(context.Background(), msg), ErrCapacity)
	assert.Zero(t, runner.callCount())

	slot.Release()
	require.NoError(t, w.Handle(context.Background(), msg))
	assert.Equal(t, 1, runner.callCount())
	assert.Zero(t, g.InFlight())
}

func TestWorker_HandleDropsMalformedCommands(t *testing.T) {
	runner := &scriptedRunner{}
	w := NewWorker(runner, gate.New(1), fastRetry, nil)

	err := w.Handle(context.Background(), bus.Message{Kind: bus.KindCommand, Type: bus.CommandExecuteFileCheck, Payload: []byte("{")})
	assert.NoError(t, err)
	err = w.Handle(context.Background(), bus.Message{Kind: bus.KindCommand, Type: "Other", Payload: []byte("{}")})
	assert.NoError(t, err)
	assert.Zero(t, runner.callCount())
}

// blockingRunner tracks concurrent dispatches until released.
type blockingRunner struct {
	release  chan struct{}
	inFlight atomic.Int32
	peak     atomic.Int32
	done     atomic.Int32
}

func (r *blockingRunner) Dispatch(ctx context.Context, cmd domain.ExecuteFileCheck) (Outcome, error) {
	n := r.inFlight.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-r.release
	r.inFlight.Add(-1)
	r.done.Add(1)
	return Outcome{}, nil
}

func TestWorker_GateBoundsBusConcurrency(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	w := NewWorker(runner, gate.New(2), fastRetry, nil)
	b := bus.NewMemory(16, bus.WithRedelivery(5*time.Millisecond, 1000))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Consume(ctx, w.Handle)

	for i := 0; i < 5; i++ {
		require.NoError(t, Enqueue(ctx, b, ManualCommand("acme", "orders", "ops", time.Now())))
	}

	assert.Eventually(t, func() bool { return runner.inFlight.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), runner.peak.Load())

	close(runner.release)
	assert.Eventually(t, func() bool { return runner.done.Load() == 5 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(2), runner.peak.Load())
}

func TestEnqueue_ReachesHandler(t *testing.T) {
	runner := &scriptedRunner{}
	w := NewWorker(runner, gate.New(1), fastRetry, nil)
	b := bus.NewMemory(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Consume(ctx, w.Handle)

	cmd := ManualCommand("acme", "orders", "user-42", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, Enqueue(ctx, b, cmd))

	assert.Eventually(t, func() bool { return runner.callCount() == 1 }, time.Second, time.Millisecond)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, "user-42", runner.cmds[0].TriggeredBy)
	assert.True(t, runner.cmds[0].IsManualTrigger)
	assert.Equal(t, cmd.IdempotencyKey, runner.cmds[0].IdempotencyKey)
}
