// Package notify turns a newly discovered file into the events and commands
// defined on its configuration.
package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riskinsure/fileretrieval/internal/bus"
	"github.com/riskinsure/fileretrieval/internal/domain"
	"github.com/riskinsure/fileretrieval/internal/logger"
	"github.com/riskinsure/fileretrieval/internal/metrics"
)

// Receipts remembers which notification keys were delivered. Keys include the
// execution id, so they dedupe retries of Emit within one execution. Across
// executions the ledger is what keeps a file from being announced twice.
type Receipts interface {
	Seen(ctx context.Context, key string) (bool, error)
	Record(ctx context.Context, key string) error
}

// Notification is one discovered file awaiting announcement.
type Notification struct {
	ExecutionID   string
	Configuration domain.Configuration
	File          domain.RemoteFile
	DedupKey      string
	DiscoveredAt  time.Time
}

// EmitResult counts per-definition outcomes.
type EmitResult struct {
	Sent    int
	Skipped int // already delivered by an earlier attempt
	Failed  int
}

// Emitter publishes notifications.
type Emitter struct {
	publisher bus.Publisher
	receipts  Receipts
	log       *zap.Logger
	metrics   metrics.Sink
}

// NewEmitter creates an Emitter. A nil receipts store keeps receipts in memory.
func NewEmitter(publisher bus.Publisher, receipts Receipts, log *zap.Logger) *Emitter {
	if receipts == nil {
		receipts = NewMemoryReceipts()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{
		publisher: publisher,
		receipts:  receipts,
		log:       log.Named("notify"),
		metrics:   metrics.Noop{},
	}
}

// WithMetrics attaches a metrics sink.
func (e *Emitter) WithMetrics(sink metrics.Sink) *Emitter {
	e.metrics = sink
	return e
}

// Emit sends every event definition, then every command definition. All
// definitions are attempted; the returned error joins the failures.
func (e *Emitter) Emit(ctx context.Context, n Notification) (EmitResult, error) {
	var (
		result EmitResult
		errs   []error
	)
	cfg := n.Configuration
	index := 0

	for _, def := range cfg.Events {
		key := IdempotencyKey(n.ExecutionID, n.DedupKey, index)
		index++
		msg, err := bus.NewEvent(def.Type, key, Metadata(def.Metadata, n))
		if err != nil {
			result.Failed++
			errs = append(errs, err)
			continue
		}
		e.send(ctx, "event", msg, &result, &errs, n)
	}
	for _, def := range cfg.Commands {
		key := IdempotencyKey(n.ExecutionID, n.DedupKey, index)
		index++
		msg, err := bus.NewCommand(def.Type, def.Target, key, Metadata(def.Metadata, n))
		if err != nil {
			result.Failed++
			errs = append(errs, err)
			continue
		}
		e.send(ctx, "command", msg, &result, &errs, n)
	}

	return result, errors.Join(errs...)
}

func (e *Emitter) send(ctx context.Context, kind string, msg bus.Message, result *EmitResult, errs *[]error, n Notification) {
	fields := append(logger.Execution(n.Configuration.ClientID, n.Configuration.ID, n.ExecutionID),
		zap.String("type", msg.Type), zap.String("file", n.File.Path))

	seen, err := e.receipts.Seen(ctx, msg.DedupKey)
	if err != nil {
		result.Failed++
		*errs = append(*errs, fmt.Errorf("checking receipt for %s %q: %w", kind, msg.Type, err))
		e.metrics.NotificationOutcome(kind, "failed")
		return
	}
	if seen {
		result.Skipped++
		e.metrics.NotificationOutcome(kind, "skipped")
		e.log.Debug("already delivered", fields...)
		return
	}

	if err := e.publisher.Publish(ctx, msg); err != nil {
		result.Failed++
		*errs = append(*errs, fmt.Errorf("%s %q: %w", kind, msg.Type, err))
		e.metrics.NotificationOutcome(kind, "failed")
		e.log.Warn("notification failed", append(fields, zap.Error(err))...)
		return
	}
	if err := e.receipts.Record(ctx, msg.DedupKey); err != nil {
		e.log.Warn("recording receipt", append(fields, zap.Error(err))...)
	}
	result.Sent++
	e.metrics.NotificationOutcome(kind, "sent")
}

// IdempotencyKey identifies one definition's notification for one file in
// one execution.
func IdempotencyKey(executionID, dedupKey string, definitionIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", executionID, dedupKey, definitionIndex)))
	return hex.EncodeToString(sum[:])
}

// Metadata overlays the file descriptors on a definition's static metadata.
// Descriptor keys win over static entries with the same name.
func Metadata(static map[string]string, n Notification) map[string]string {
	out := make(map[string]string, len(static)+9)
	for k, v := range static {
		out[k] = v
	}
	name := n.File.Name
	if name == "" {
		name = path.Base(n.File.Path)
	}
	out["fileUri"] = n.File.URI
	out["fileName"] = name
	out["filePath"] = n.File.Path
	out["size"] = strconv.FormatInt(n.File.Size, 10)
	out["lastModified"] = n.File.LastModified.UTC().Format(time.RFC3339)
	out["discoveredAt"] = n.DiscoveredAt.UTC().Format(time.RFC3339)
	out["configurationId"] = n.Configuration.ID
	out["clientId"] = n.Configuration.ClientID
	out["executionId"] = n.ExecutionID
	return out
}

// MemoryReceipts keeps receipts in process.
type MemoryReceipts struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewMemoryReceipts creates an empty receipt set.
func NewMemoryReceipts() *MemoryReceipts {
	return &MemoryReceipts{keys: make(map[string]struct{})}
}

func (r *MemoryReceipts) Seen(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.keys[key]
	return ok, nil
}

func (r *MemoryReceipts) Record(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[key] = struct{}{}
	return nil
}
