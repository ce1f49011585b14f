package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
// A nil *Bus drops every event and returns no-op unsubscribers.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(WorkerStatusChangedEvent{...})
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case WorkerStatusChangedEvent:
		event.Publish(b.dispatcher, e)
	case ConnectionStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case ScheduleActionEvent:
		event.Publish(b.dispatcher, e)
	case OrphanCleanupEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler's parameter type selects the events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e ScheduleActionEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	if b == nil {
		return func() {}
	}
	switch h := handler.(type) {
	case func(WorkerStatusChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConnectionStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ScheduleActionEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(OrphanCleanupEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
