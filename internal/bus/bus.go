// Package bus carries audit events, per-file notifications and inbound
// ExecuteFileCheck commands. Delivery is at-least-once; every message carries
// a dedup key so receivers can discard repeats.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Kind distinguishes broadcast events from targeted commands.
type Kind string

const (
	KindEvent   Kind = "event"
	KindCommand Kind = "command"
)

// DispatcherTarget is the command target served by the dispatch worker.
const DispatcherTarget = "file-retrieval"

// CommandExecuteFileCheck is the command type that requests a file check.
const CommandExecuteFileCheck = "ExecuteFileCheck"

// Message is one envelope on the bus.
type Message struct {
	ID          string // assigned by the transport on delivery
	Kind        Kind
	Type        string
	Target      string // commands only
	DedupKey    string
	Payload     json.RawMessage
	PublishedAt time.Time
	Attempt     int // delivery attempt, starting at 1
}

// NewEvent marshals payload into an event message.
func NewEvent(typ, dedupKey string, payload any) (Message, error) {
	return newMessage(KindEvent, typ, "", dedupKey, payload)
}

// NewCommand marshals payload into a command for target.
func NewCommand(typ, target, dedupKey string, payload any) (Message, error) {
	if target == "" {
		return Message{}, fmt.Errorf("command %q: target is required", typ)
	}
	return newMessage(KindCommand, typ, target, dedupKey, payload)
}

func newMessage(kind Kind, typ, target, dedupKey string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s %q: %w", kind, typ, err)
	}
	return Message{
		Kind:        kind,
		Type:        typ,
		Target:      target,
		DedupKey:    dedupKey,
		Payload:     raw,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decoding %s %q: %w", m.Kind, m.Type, err)
	}
	return nil
}

// Publisher sends messages.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Handler processes one delivered message. A nil return acknowledges it;
// an error leaves it for redelivery.
type Handler func(ctx context.Context, msg Message) error

// Consumer delivers inbound commands to a handler until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}
