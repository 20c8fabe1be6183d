package inkwell

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// StatusAggregator folds the processing-status and task-update event streams
// into one current ProcessingStatus value.
//
// A processing-status event is a full snapshot and replaces the current value
// wholesale. A task-update event is a delta: it replaces the task with the
// same ID in place, or appends when the ID is unseen; ActiveAgents and
// QueueLength are untouched by deltas. Deltas arriving before the first
// snapshot are dropped — the aggregator never synthesizes a snapshot.
type StatusAggregator struct {
	mu           sync.RWMutex
	current      *ProcessingStatus
	lastActivity time.Time
	log          *slog.Logger

	subMu  sync.Mutex
	subs   map[int]func(ProcessingStatus)
	nextID int
}

// NewStatusAggregator creates an aggregator and, when bus is non-nil, wires
// it to the processing-status and task-update event types.
func NewStatusAggregator(bus *EventBus, log *slog.Logger) *StatusAggregator {
	if log == nil {
		log = slog.Default()
	}
	a := &StatusAggregator{
		log:  log,
		subs: make(map[int]func(ProcessingStatus)),
	}
	if bus != nil {
		bus.Subscribe(EventProcessingStatus, a.applySnapshot)
		bus.Subscribe(EventTaskUpdate, a.applyTaskUpdate)
	}
	return a
}

// Current returns a copy of the latest status. ok is false until the first
// snapshot has been received.
func (a *StatusAggregator) Current() (status ProcessingStatus, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.current == nil {
		return ProcessingStatus{}, false
	}
	return *cloneStatus(a.current), true
}

// LastActivity returns when the status last changed. Consumers derive
// recency ("12s ago") from wall-clock time at read time. Zero until the
// first fold.
func (a *StatusAggregator) LastActivity() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastActivity
}

// Subscribe registers fn to be called with a copy of the status after every
// successful fold. The returned function removes the registration.
func (a *StatusAggregator) Subscribe(fn func(ProcessingStatus)) func() {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	id := a.nextID
	a.nextID++
	a.subs[id] = fn
	return func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		delete(a.subs, id)
	}
}

func (a *StatusAggregator) applySnapshot(data json.RawMessage) {
	var snap ProcessingStatus
	if err := json.Unmarshal(data, &snap); err != nil {
		a.log.Warn("dropping malformed processing-status snapshot", "err", err)
		return
	}
	a.mu.Lock()
	a.current = &snap
	a.lastActivity = time.Now()
	out := *cloneStatus(&snap)
	a.mu.Unlock()

	a.notify(out)
}

func (a *StatusAggregator) applyTaskUpdate(data json.RawMessage) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		a.log.Warn("dropping malformed task-update", "err", err)
		return
	}

	a.mu.Lock()
	if a.current == nil {
		a.mu.Unlock()
		a.log.Debug("dropping task-update before first snapshot", "task", task.ID)
		return
	}
	replaced := false
	for i := range a.current.CurrentTasks {
		if a.current.CurrentTasks[i].ID == task.ID {
			a.current.CurrentTasks[i] = task
			replaced = true
			break
		}
	}
	if !replaced {
		a.current.CurrentTasks = append(a.current.CurrentTasks, task)
	}
	a.lastActivity = time.Now()
	out := *cloneStatus(a.current)
	a.mu.Unlock()

	a.notify(out)
}

func (a *StatusAggregator) notify(s ProcessingStatus) {
	a.subMu.Lock()
	fns := make([]func(ProcessingStatus), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.subMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func cloneStatus(s *ProcessingStatus) *ProcessingStatus {
	out := *s
	out.ActiveAgents = append([]string(nil), s.ActiveAgents...)
	out.CurrentTasks = append([]Task(nil), s.CurrentTasks...)
	return &out
}
