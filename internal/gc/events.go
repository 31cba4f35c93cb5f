package gc

import (
	"log/slog"
	"sync"
)

// EventKind discriminates collector events.
type EventKind uint8

const (
	// EventAllocation is emitted once when an object is allocated.
	EventAllocation EventKind = iota
	// EventStart marks the beginning of a collection cycle.
	EventStart
	// EventDeallocation is emitted for every object freed during a cycle.
	EventDeallocation
	// EventEnd marks the end of a collection cycle.
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventAllocation:
		return "allocation"
	case EventStart:
		return "start"
	case EventDeallocation:
		return "deallocation"
	case EventEnd:
		return "end"
	}
	return "unknown"
}

// Event is a single collector lifecycle event. Handle is set for allocation
// and deallocation events and is NilHandle for start/end markers.
type Event struct {
	Kind   EventKind
	Handle Handle
}

// Observer receives collector events as they happen. Observers are invoked
// synchronously on the runtime thread and must not call back into the
// collector.
type Observer interface {
	Event(e Event)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) Event(Event) {}

// Recorder is an Observer that keeps every event it sees, in order. It is
// primarily useful in tests and diagnostics.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Event(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset discards all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// LogObserver forwards collector events to a slog.Logger at debug level.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) Event(e Event) {
	if e.Handle.IsNil() {
		o.Logger.Debug("gc event", "kind", e.Kind.String())
		return
	}
	o.Logger.Debug("gc event", "kind", e.Kind.String(), "handle", uint64(e.Handle))
}
