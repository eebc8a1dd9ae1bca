package shelf

import (
	"sync"
	"time"
)

// Event names emitted by the engine. Failures are reported as
// "storage:<op>-error".
const (
	EventInitialized      = "storage:initialized"
	EventSaved            = "storage:saved"
	EventLoaded           = "storage:loaded"
	EventUpdated          = "storage:updated"
	EventDeleted          = "storage:deleted"
	EventQueried          = "storage:queried"
	EventCleared          = "storage:cleared"
	EventCleanupCompleted = "storage:cleanup-completed"
	EventClosed           = "storage:closed"
	EventBackupCreated    = "storage:backup-created"
	EventBackupRestored   = "storage:backup-restored"
)

// ErrorEvent returns the failure event name of op.
func ErrorEvent(op string) string {
	return "storage:" + op + "-error"
}

// EventBus receives engine notifications. Emit must not block the caller
// for long; delivery failures are the bus's own concern.
type EventBus interface {
	Emit(name string, data map[string]interface{})
}

// NoOpEventBus discards every event.
type NoOpEventBus struct{}

func (NoOpEventBus) Emit(string, map[string]interface{}) {}

// Event is one emitted notification.
type Event struct {
	Name string
	Data map[string]interface{}
}

// RecordingEventBus keeps every event in memory. Useful for tests and for
// hosts that poll.
type RecordingEventBus struct {
	mu     sync.Mutex
	events []Event
}

// NewRecordingEventBus creates an empty recording bus.
func NewRecordingEventBus() *RecordingEventBus {
	return &RecordingEventBus{}
}

func (b *RecordingEventBus) Emit(name string, data map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, Event{Name: name, Data: data})
}

// Events returns a copy of the recorded events.
func (b *RecordingEventBus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

// Named returns the recorded events called name.
func (b *RecordingEventBus) Named(name string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, ev := range b.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops all recorded events.
func (b *RecordingEventBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// stampEvent copies data and adds the emission time in unix milliseconds.
func stampEvent(data map[string]interface{}, now time.Time) map[string]interface{} {
	out := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["timestamp"] = unixMillis(now)
	return out
}
