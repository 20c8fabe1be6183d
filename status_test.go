package inkwell

import (
	"encoding/json"
	"testing"
	"time"
)

func dispatchJSON(t *testing.T, bus *EventBus, eventType, payload string) {
	t.Helper()
	bus.Dispatch(Envelope{Type: eventType, Data: json.RawMessage(payload), Timestamp: time.Now().UTC()})
}

func TestStatusAggregatorSnapshot(t *testing.T) {
	bus := NewEventBus(testLogger())
	agg := NewStatusAggregator(bus, testLogger())

	if _, ok := agg.Current(); ok {
		t.Fatal("expected no status before first snapshot")
	}
	if !agg.LastActivity().IsZero() {
		t.Fatal("expected zero lastActivity before first fold")
	}

	dispatchJSON(t, bus, EventProcessingStatus, `{
		"activeAgents": ["writer", "researcher"],
		"currentTasks": [{"id": "t1", "type": "writing", "status": "processing", "progress": 40, "description": "chapter 3"}],
		"queueLength": 2
	}`)

	s, ok := agg.Current()
	if !ok {
		t.Fatal("expected status after snapshot")
	}
	if len(s.ActiveAgents) != 2 || s.QueueLength != 2 || len(s.CurrentTasks) != 1 {
		t.Fatalf("snapshot not applied: %+v", s)
	}
	if agg.LastActivity().IsZero() {
		t.Fatal("lastActivity not updated")
	}

	// A second snapshot replaces wholesale, including shrinking.
	dispatchJSON(t, bus, EventProcessingStatus, `{"activeAgents": [], "currentTasks": [], "queueLength": 0}`)
	s, _ = agg.Current()
	if len(s.ActiveAgents) != 0 || len(s.CurrentTasks) != 0 || s.QueueLength != 0 {
		t.Fatalf("second snapshot did not replace: %+v", s)
	}
}

func TestStatusAggregatorTaskUpdate(t *testing.T) {
	t.Run("delta before first snapshot is dropped", func(t *testing.T) {
		bus := NewEventBus(testLogger())
		agg := NewStatusAggregator(bus, testLogger())

		dispatchJSON(t, bus, EventTaskUpdate, `{"id": "t1", "type": "writing", "status": "processing", "progress": 10}`)

		if _, ok := agg.Current(); ok {
			t.Fatal("delta must not synthesize a snapshot")
		}
	})

	t.Run("known id replaces in place", func(t *testing.T) {
		bus := NewEventBus(testLogger())
		agg := NewStatusAggregator(bus, testLogger())

		dispatchJSON(t, bus, EventProcessingStatus, `{
			"activeAgents": ["writer"],
			"currentTasks": [
				{"id": "t1", "type": "writing", "status": "processing", "progress": 20},
				{"id": "t2", "type": "research", "status": "pending", "progress": 0}
			],
			"queueLength": 3
		}`)
		dispatchJSON(t, bus, EventTaskUpdate, `{"id": "t1", "type": "writing", "status": "completed", "progress": 100}`)

		s, _ := agg.Current()
		if len(s.CurrentTasks) != 2 {
			t.Fatalf("task count changed: %+v", s.CurrentTasks)
		}
		if s.CurrentTasks[0].ID != "t1" || s.CurrentTasks[0].Status != TaskCompleted || s.CurrentTasks[0].Progress != 100 {
			t.Fatalf("in-place replacement failed: %+v", s.CurrentTasks[0])
		}
		if s.CurrentTasks[1].ID != "t2" {
			t.Fatalf("ordering disturbed: %+v", s.CurrentTasks)
		}
		// Deltas never touch the rest of the snapshot.
		if len(s.ActiveAgents) != 1 || s.QueueLength != 3 {
			t.Fatalf("delta leaked into snapshot fields: %+v", s)
		}
	})

	t.Run("unseen id appends", func(t *testing.T) {
		bus := NewEventBus(testLogger())
		agg := NewStatusAggregator(bus, testLogger())

		dispatchJSON(t, bus, EventProcessingStatus, `{"activeAgents": [], "currentTasks": [{"id": "t1", "type": "analysis", "status": "processing", "progress": 50}], "queueLength": 0}`)
		dispatchJSON(t, bus, EventTaskUpdate, `{"id": "t9", "type": "consistency-check", "status": "pending", "progress": 0}`)

		s, _ := agg.Current()
		if len(s.CurrentTasks) != 2 {
			t.Fatalf("append failed: %+v", s.CurrentTasks)
		}
		if s.CurrentTasks[1].ID != "t9" || s.CurrentTasks[1].Type != TaskConsistencyCheck {
			t.Fatalf("appended task: %+v", s.CurrentTasks[1])
		}
	})

	t.Run("malformed delta is dropped", func(t *testing.T) {
		bus := NewEventBus(testLogger())
		agg := NewStatusAggregator(bus, testLogger())

		dispatchJSON(t, bus, EventProcessingStatus, `{"activeAgents": [], "currentTasks": [], "queueLength": 0}`)
		before, _ := agg.Current()
		dispatchJSON(t, bus, EventTaskUpdate, `not json`)

		after, _ := agg.Current()
		if len(after.CurrentTasks) != len(before.CurrentTasks) {
			t.Fatalf("malformed delta mutated state: %+v", after)
		}
	})
}

func TestStatusAggregatorSubscribe(t *testing.T) {
	bus := NewEventBus(testLogger())
	agg := NewStatusAggregator(bus, testLogger())

	var got []ProcessingStatus
	unsub := agg.Subscribe(func(s ProcessingStatus) { got = append(got, s) })

	dispatchJSON(t, bus, EventProcessingStatus, `{"activeAgents": ["writer"], "currentTasks": [], "queueLength": 1}`)
	dispatchJSON(t, bus, EventTaskUpdate, `{"id": "t1", "type": "writing", "status": "processing", "progress": 5}`)

	if len(got) != 2 {
		t.Fatalf("notifications: got %d, want 2", len(got))
	}
	if got[1].CurrentTasks[0].ID != "t1" {
		t.Fatalf("second notification: %+v", got[1])
	}

	// The subscriber holds a copy: mutating it must not affect the aggregator.
	got[0].ActiveAgents[0] = "mutated"
	s, _ := agg.Current()
	if s.ActiveAgents[0] != "writer" {
		t.Fatal("subscriber mutation leaked into aggregator state")
	}

	unsub()
	dispatchJSON(t, bus, EventProcessingStatus, `{"activeAgents": [], "currentTasks": [], "queueLength": 0}`)
	if len(got) != 2 {
		t.Fatal("unsubscribed fn still notified")
	}
}
