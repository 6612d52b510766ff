// Package bus provides event bus abstractions for AgentMux.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a message on the bus. Type doubles as the publish subject
// (e.g. "team.started"), so subscribers can pattern-match on it.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"` // component that produced the event
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps a new event with a UUID and the current UTC time.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler consumes one event. Returned errors are logged by the bus
// and never propagate to the publisher.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is an active handler registration.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is implemented by the in-memory bus and the NATS-backed bus.
// Subjects use NATS wildcard syntax on both.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	Close()
	IsConnected() bool
}
