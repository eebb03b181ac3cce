// Package events carries the in-process event bus the import pipeline and
// webhook ingestion publish domain events on. Event type definitions live
// in internal/events; this package only knows names, timestamps, and
// handlers.
package events

import (
	"context"
	"time"
)

// Event is anything a module can put on the bus. EventName doubles as the
// subscription key.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent is embedded by every concrete event to carry its timestamp.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps a new event with the current time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now()}
}

// Handler consumes events it subscribed to.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function into a Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus publishes events to subscribed handlers. Publish dispatches on a
// background goroutine; PublishSync runs the handlers inline and surfaces
// the first error.
type Bus interface {
	Publish(ctx context.Context, event Event)
	PublishSync(ctx context.Context, event Event) error

	// Subscribe registers a handler under the name the event's EventName
	// returns.
	Subscribe(eventName string, handler Handler)
}
