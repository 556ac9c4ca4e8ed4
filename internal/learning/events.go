package learning

// EventKind identifies a ledger notification.
type EventKind string

const (
	EventCreated       EventKind = "created"
	EventUpdated       EventKind = "updated"
	EventDeprecated    EventKind = "deprecated"
	EventPersistFailed EventKind = "persist_failed"
)

// Event is a ledger notification. Learning is a snapshot taken when the
// event was raised; it is empty for persistence failures.
type Event struct {
	Kind     EventKind
	Learning Learning
	Reason   string
	Err      error
}

// Observer receives ledger notifications after the mutation that raised
// them has completed and the store lock is released.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }
