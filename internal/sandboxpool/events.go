package sandboxpool

import (
	"sort"

	"github.com/dataanalyst/sandboxpool/internal/sbstate"
)

// EventKind tags the variant of an Event.
type EventKind string

const (
	EventCreated           EventKind = "created"
	EventStateChange       EventKind = "state-change"
	EventDestroyed         EventKind = "destroyed"
	EventHealthCheckFailed EventKind = "health-check-failed"
	EventError             EventKind = "error"
)

// Event is the tagged-union payload delivered synchronously to every
// registered listener. Only the fields relevant to Kind are populated.
type Event struct {
	Kind      EventKind
	SandboxID string

	// EventStateChange
	From sbstate.State
	To   sbstate.State

	// EventDestroyed
	Reason string

	// EventHealthCheckFailed
	Failures int

	// EventError
	Err error
}

// Listener receives events emitted by a Manager's bus. It must be
// synchronous, fast, and infallible from the manager's perspective: a
// panic inside a listener is recovered and logged, never allowed to
// escape into the emitter or disturb other listeners.
type Listener func(Event)

// eventBus is an ordered, mutex-guarded set of listeners keyed by an
// opaque token so unregistration is O(1) and doesn't rely on Go having
// comparable function values (it doesn't, in general).
type eventBus struct {
	nextID    int
	listeners map[int]Listener
}

func newEventBus() *eventBus {
	return &eventBus{listeners: make(map[int]Listener)}
}

func (b *eventBus) register(l Listener) (id int) {
	b.nextID++
	id = b.nextID
	b.listeners[id] = l
	return id
}

func (b *eventBus) unregister(id int) {
	delete(b.listeners, id)
}

// snapshot returns the current listeners in registration order. The
// caller still holds the manager's mutex while it invokes them.
func (b *eventBus) snapshot() []Listener {
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.listeners[id])
	}
	return out
}
