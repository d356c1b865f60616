// Package bus carries question and session lifecycle events between ideate
// components. Everything runs in one process by default (MemoryEventBus);
// pointing config at a NATS server swaps the backend without touching
// publishers or subscribers.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one message on the bus. Data carries subject-specific fields such
// as session_id, question_id, or branch_id.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps a fresh event with a UUID and the current UTC time.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// StringData returns the named Data field when it is a string, or "".
func (e *Event) StringData(key string) string {
	if e.Data == nil {
		return ""
	}
	s, _ := e.Data[key].(string)
	return s
}

// EventHandler consumes one delivered event. Returning an error only logs;
// there is no redelivery.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is a live binding of a handler to a subject pattern.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the publish/subscribe surface shared by the in-memory and NATS
// backends. Subjects are dot-separated tokens in NATS style: '*' matches one
// token, a trailing '>' matches the rest.
type EventBus interface {
	// Publish delivers event to every subscriber matching subject.
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe binds handler to a subject pattern.
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// QueueSubscribe binds handler into a named group; each event goes to
	// one member of the group.
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)

	// Request publishes event and waits up to timeout for a reply.
	Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error)

	// Close tears the bus down; further calls fail or no-op.
	Close()

	// IsConnected reports whether the bus can still deliver.
	IsConnected() bool
}
