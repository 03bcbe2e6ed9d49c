// Package eventbus carries the trigger for C8 (profile consolidation): C9.add
// publishes a MemoryMutated event per fact, and a consumer runs the handler.
// The Kafka bus runs it asynchronously; the in-process bus runs it inline
// inside Publish. C7 maintenance is not driven by the bus.
package eventbus

import "context"

// EventType enumerates the events the bus carries.
type EventType string

const (
	EventMemoryMutated EventType = "memory_mutated"
)

// Event is a single published occurrence.
type Event struct {
	Type     EventType
	MemoryID int64
	UserID   string
	AgentID  string
	RunID    string
}

// Handler processes one event. A returned error triggers the publisher's
// retry/DLQ policy.
type Handler func(ctx context.Context, e Event) error

// Publisher publishes events onto the bus.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Bus is a Publisher that can also drive a consumer loop.
type Bus interface {
	Publisher
	Run(ctx context.Context, handler Handler) error
	Close() error
}
