package inkwell

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// EventHandler receives the data payload of a dispatched envelope.
type EventHandler func(data json.RawMessage)

// EventBus is a publish/subscribe registry keyed by event-type string. It is
// independent of connection state: subscriptions survive reconnects.
//
// Handlers for one event type form a set; dispatch order across handlers of
// the same event is unspecified.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string]map[int]EventHandler
	nextID   int
	log      *slog.Logger
}

func NewEventBus(log *slog.Logger) *EventBus {
	if log == nil {
		log = slog.Default()
	}
	return &EventBus{
		handlers: make(map[string]map[int]EventHandler),
		log:      log,
	}
}

// Subscribe registers handler for eventType. Multiple handlers per event type
// are allowed. The returned function removes exactly this registration; the
// bus never removes handlers on its own.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.handlers[eventType]
	if !ok {
		set = make(map[int]EventHandler)
		b.handlers[eventType] = set
	}
	id := b.nextID
	b.nextID++
	set[id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.handlers[eventType]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(b.handlers, eventType)
			}
		}
	}
}

// Dispatch invokes every handler registered for env.Type with env.Data. An
// envelope with no subscribers is dropped silently; a panicking handler is
// recovered and logged without stopping its siblings or the connection.
func (b *EventBus) Dispatch(env Envelope) {
	b.mu.RLock()
	set := b.handlers[env.Type]
	fns := make([]EventHandler, 0, len(set))
	for _, h := range set {
		fns = append(fns, h)
	}
	b.mu.RUnlock()

	if len(fns) == 0 {
		b.log.Debug("no subscribers for event", "type", env.Type, "known", knownEventTypes[env.Type])
		return
	}
	for _, h := range fns {
		b.invoke(env.Type, h, env.Data)
	}
}

func (b *EventBus) invoke(eventType string, h EventHandler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "type", eventType, "panic", r)
		}
	}()
	h(data)
}
