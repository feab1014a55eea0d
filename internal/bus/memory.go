package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBufferFull is returned when the command buffer stays full past the
// publish timeout.
var ErrBufferFull = errors.New("bus buffer full")

// Memory is a single-process bus. Commands for DispatcherTarget are queued
// for Consume. Events and commands for other targets have no in-process
// subscriber: they are logged and, with WithRetention, the most recent ones
// are kept for inspection.
type Memory struct {
	mu        sync.Mutex
	published []Message
	retain    int
	log       *zap.Logger

	commands        chan Message
	publishTimeout  time.Duration
	redeliveryDelay time.Duration
	maxAttempts     int
}

// MemoryOption configures a Memory bus.
type MemoryOption func(*Memory)

// WithPublishTimeout bounds how long Publish waits for buffer space.
func WithPublishTimeout(d time.Duration) MemoryOption {
	return func(m *Memory) { m.publishTimeout = d }
}

// WithRedelivery sets the delay before a failed command is redelivered and
// the number of attempts before it is dropped.
func WithRedelivery(delay time.Duration, maxAttempts int) MemoryOption {
	return func(m *Memory) {
		m.redeliveryDelay = delay
		m.maxAttempts = maxAttempts
	}
}

// WithRetention keeps the last n events and foreign commands for Published.
func WithRetention(n int) MemoryOption {
	return func(m *Memory) { m.retain = n }
}

// WithLogger sets the logger for dropped and unrouted messages.
func WithLogger(log *zap.Logger) MemoryOption {
	return func(m *Memory) { m.log = log }
}

// NewMemory creates a memory bus whose command queue holds buffer messages.
func NewMemory(buffer int, opts ...MemoryOption) *Memory {
	m := &Memory{
		log:             zap.NewNop(),
		commands:        make(chan Message, buffer),
		publishTimeout:  5 * time.Second,
		redeliveryDelay: 5 * time.Second,
		maxAttempts:     10,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Publish queues dispatcher commands for Consume. Other messages are logged
// and kept only when retention is enabled.
func (m *Memory) Publish(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Kind == KindCommand && msg.Target == DispatcherTarget {
		return m.enqueue(ctx, msg)
	}
	m.log.Debug("published",
		zap.String("kind", string(msg.Kind)),
		zap.String("type", msg.Type),
		zap.String("target", msg.Target),
		zap.String("dedup_key", msg.DedupKey))
	if m.retain <= 0 {
		return nil
	}
	m.mu.Lock()
	if len(m.published) >= m.retain {
		m.published = append(m.published[len(m.published)-m.retain+1:], msg)
	} else {
		m.published = append(m.published, msg)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) enqueue(ctx context.Context, msg Message) error {
	timer := time.NewTimer(m.publishTimeout)
	defer timer.Stop()
	select {
	case m.commands <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrBufferFull
	}
}

// Consume runs handler for each queued command in its own goroutine. Failed
// commands are re-queued after the redelivery delay until maxAttempts is
// reached. Consume returns once ctx is cancelled and running handlers finish.
func (m *Memory) Consume(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-m.commands:
			msg.Attempt++
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := handler(ctx, msg)
				if err == nil {
					return
				}
				fields := []zap.Field{
					zap.String("type", msg.Type),
					zap.String("dedup_key", msg.DedupKey),
					zap.Int("attempt", msg.Attempt),
					zap.Error(err),
				}
				if msg.Attempt >= m.maxAttempts {
					m.log.Error("dropping command after max attempts", fields...)
					return
				}
				select {
				case <-time.After(m.redeliveryDelay):
					if err := m.enqueue(ctx, msg); err != nil && ctx.Err() == nil {
						m.log.Error("dropping command, redelivery failed",
							append(fields[:3:3], zap.Error(err))...)
					}
				case <-ctx.Done():
				}
			}()
		}
	}
}

// Published returns a copy of the retained messages in publish order.
func (m *Memory) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.published))
	copy(out, m.published)
	return out
}

// PublishedOfType returns retained messages with the given type.
func (m *Memory) PublishedOfType(typ string) []Message {
	var out []Message
	for _, msg := range m.Published() {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}
