package inkwell

import (
	"encoding/json"
	"testing"
)

func TestEventBusDispatch(t *testing.T) {
	t.Run("no subscribers is a no-op", func(t *testing.T) {
		bus := NewEventBus(testLogger())
		// Must not panic or block.
		bus.Dispatch(Envelope{Type: EventAIAgentStatus, Data: json.RawMessage(`{}`)})
	})

	t.Run("all handlers for a type fire", func(t *testing.T) {
		bus := NewEventBus(testLogger())
		got := make(map[string]int)
		bus.Subscribe(EventTaskUpdate, func(json.RawMessage) { got["a"]++ })
		bus.Subscribe(EventTaskUpdate, func(json.RawMessage) { got["b"]++ })
		bus.Subscribe(EventSyncStatus, func(json.RawMessage) { got["other"]++ })

		bus.Dispatch(Envelope{Type: EventTaskUpdate, Data: json.RawMessage(`{"id":"t1"}`)})

		if got["a"] != 1 || got["b"] != 1 {
			t.Fatalf("task-update handlers: got %v", got)
		}
		if got["other"] != 0 {
			t.Fatalf("unrelated handler fired: %v", got)
		}
	})

	t.Run("payload reaches the handler", func(t *testing.T) {
		bus := NewEventBus(testLogger())
		var seen json.RawMessage
		bus.Subscribe(EventKnowledgeBaseUpdate, func(data json.RawMessage) { seen = data })

		bus.Dispatch(Envelope{Type: EventKnowledgeBaseUpdate, Data: json.RawMessage(`{"elements":7}`)})

		if string(seen) != `{"elements":7}` {
			t.Fatalf("payload: got %s", seen)
		}
	})
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus(testLogger())
	calls := 0
	unsub := bus.Subscribe(EventProcessingStatus, func(json.RawMessage) { calls++ })
	kept := 0
	bus.Subscribe(EventProcessingStatus, func(json.RawMessage) { kept++ })

	bus.Dispatch(Envelope{Type: EventProcessingStatus, Data: json.RawMessage(`{}`)})
	unsub()
	bus.Dispatch(Envelope{Type: EventProcessingStatus, Data: json.RawMessage(`{}`)})

	if calls != 1 {
		t.Fatalf("unsubscribed handler fired: %d calls", calls)
	}
	if kept != 2 {
		t.Fatalf("sibling handler: got %d calls, want 2", kept)
	}

	// Unsubscribing twice is harmless.
	unsub()
}

func TestEventBusHandlerPanicIsolated(t *testing.T) {
	bus := NewEventBus(testLogger())
	after := 0
	bus.Subscribe(EventTaskUpdate, func(json.RawMessage) { panic("handler bug") })
	bus.Subscribe(EventTaskUpdate, func(json.RawMessage) { after++ })

	bus.Dispatch(Envelope{Type: EventTaskUpdate, Data: json.RawMessage(`{}`)})
	bus.Dispatch(Envelope{Type: EventTaskUpdate, Data: json.RawMessage(`{}`)})

	if after != 2 {
		t.Fatalf("panic stopped sibling handlers: got %d calls, want 2", after)
	}
}
