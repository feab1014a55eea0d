package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// EventStream receives every event.
	EventStream = "fileretrieval:events"
	// commandStreamPrefix is followed by the command target.
	commandStreamPrefix = "fileretrieval:commands:"

	consumerGroup = "fileretrieval"
	maxStreamLen  = 100000
)

// CommandStream returns the stream name for commands addressed to target.
func CommandStream(target string) string {
	return commandStreamPrefix + target
}

// StreamFor returns the stream msg is written to.
func StreamFor(msg Message) string {
	if msg.Kind == KindCommand {
		return CommandStream(msg.Target)
	}
	return EventStream
}

// RedisPublisher writes messages to Redis Streams with XADD.
type RedisPublisher struct {
	client redis.UniversalClient
}

// NewRedisPublisher publishes to Redis Streams through client.
func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now().UTC()
	}
	stream := StreamFor(msg)
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{
			"kind":         string(msg.Kind),
			"type":         msg.Type,
			"target":       msg.Target,
			"dedup_key":    msg.DedupKey,
			"payload":      string(msg.Payload),
			"published_at": msg.PublishedAt.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publishing %s %q to %s: %w", msg.Kind, msg.Type, stream, err)
	}
	return nil
}

// RedisConsumerConfig tunes the consumer group reader.
type RedisConsumerConfig struct {
	Target   string
	Consumer string
	// ClaimIdle is how long a delivered but unacknowledged message waits
	// before another consumer may claim it. It must exceed the worker's retry
	// budget plus the list timeout.
	ClaimIdle     time.Duration
	Block         time.Duration
	BatchSize     int64
	MaxDeliveries int64
}

// RedisConsumer reads a command stream through a consumer group. Handled
// messages are acknowledged; failed ones stay pending and are reclaimed with
// XAUTOCLAIM once idle.
type RedisConsumer struct {
	client redis.UniversalClient
	cfg    RedisConsumerConfig
	stream string
	log    *zap.Logger
}

// NewRedisConsumer reads the command stream for cfg.Target as part of a consumer group.
func NewRedisConsumer(client redis.UniversalClient, cfg RedisConsumerConfig, log *zap.Logger) *RedisConsumer {
	if cfg.Target == "" {
		cfg.Target = DispatcherTarget
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "fileretrieval"
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 10 * time.Minute
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisConsumer{
		client: client,
		cfg:    cfg,
		stream: CommandStream(cfg.Target),
		log:    log.Named("bus"),
	}
}

func (c *RedisConsumer) Consume(ctx context.Context, handler Handler) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group on %s: %w", c.stream, err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	c.log.Info("consuming", zap.String("stream", c.stream), zap.String("consumer", c.cfg.Consumer))
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		claimed, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.stream,
			Group:    consumerGroup,
			Consumer: c.cfg.Consumer,
			MinIdle:  c.cfg.ClaimIdle,
			Start:    "0-0",
			Count:    c.cfg.BatchSize,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("claiming pending messages", zap.Error(err))
		}
		for _, xm := range claimed {
			c.dispatch(ctx, &wg, xm, handler)
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.stream, ">"},
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error("reading stream", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		for _, s := range streams {
			for _, xm := range s.Messages {
				c.dispatch(ctx, &wg, xm, handler)
			}
		}
	}
}

func (c *RedisConsumer) dispatch(ctx context.Context, wg *sync.WaitGroup, xm redis.XMessage, handler Handler) {
	msg, err := decodeXMessage(xm)
	if err != nil {
		c.log.Error("dropping malformed message", zap.String("id", xm.ID), zap.Error(err))
		c.ack(ctx, xm.ID)
		return
	}
	msg.Attempt = c.deliveryCount(ctx, xm.ID)
	if int64(msg.Attempt) > c.cfg.MaxDeliveries {
		c.log.Error("dropping message after too many deliveries",
			zap.String("id", xm.ID), zap.String("type", msg.Type), zap.Int("attempts", msg.Attempt))
		c.ack(ctx, xm.ID)
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := handler(ctx, msg); err != nil {
			c.log.Warn("handler failed, message left pending",
				zap.String("id", xm.ID), zap.String("type", msg.Type), zap.Int("attempt", msg.Attempt), zap.Error(err))
			return
		}
		c.ack(context.WithoutCancel(ctx), xm.ID)
	}()
}

func (c *RedisConsumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.stream, consumerGroup, id).Err(); err != nil {
		c.log.Warn("ack failed", zap.String("id", id), zap.Error(err))
	}
}

func (c *RedisConsumer) deliveryCount(ctx context.Context, id string) int {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  consumerGroup,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 1
	}
	return int(pending[0].RetryCount)
}

func decodeXMessage(xm redis.XMessage) (Message, error) {
	field := func(name string) string {
		v, _ := xm.Values[name].(string)
		return v
	}
	payload := field("payload")
	if payload == "" {
		return Message{}, errors.New("missing payload")
	}
	msg := Message{
		ID:       xm.ID,
		Kind:     Kind(field("kind")),
		Type:     field("type"),
		Target:   field("target"),
		DedupKey: field("dedup_key"),
		Payload:  []byte(payload),
	}
	if ts := field("published_at"); ts != "" {
		msg.PublishedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return msg, nil
}
