package bus

import "unimem/internal/memory"

// EventKind identifies a bus notification.
type EventKind string

const (
	// EventReady follows an Initialize round; Available holds the outcome.
	EventReady EventKind = "ready"

	// EventPropagate follows a successful primary write. Targets lists the
	// secondary destinations.
	EventPropagate EventKind = "propagate"

	// EventSync carries results pulled from Source for callers to replicate
	// into Targets.
	EventSync EventKind = "sync"
)

// Event is a bus notification.
type Event struct {
	Kind      EventKind
	Source    memory.Source
	Targets   []memory.Source
	ID        string
	Payload   *memory.WritePayload
	Results   []memory.Result
	Available map[memory.Source]bool
}

// Observer receives bus notifications synchronously on the calling
// goroutine. Implementations must not call back into the bus.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }
