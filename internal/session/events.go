package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophjournal/internal/logging"
)

// EventType names a lifecycle transition.
type EventType int

const (
	EventCreated EventType = iota
	EventExtended
	EventLocked
	EventUnlocked
	EventExpired
	EventInvalidated
	EventSecurityAlert
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventExtended:
		return "extended"
	case EventLocked:
		return "locked"
	case EventUnlocked:
		return "unlocked"
	case EventExpired:
		return "expired"
	case EventInvalidated:
		return "invalidated"
	case EventSecurityAlert:
		return "security-alert"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is what listeners receive. It only ever carries non-sensitive data.
// TagID and SessionID are empty for alerts not tied to a session.
type Event struct {
	Type      EventType
	TagID     string
	SessionID string
	TagName   string
	Status    Status
	ExpiresAt time.Time
	At        time.Time
	Reason    string
}

// Listener receives events on the goroutine that is draining the event
// queue, normally the one that performed the mutation. A listener must
// return promptly. It may call any Manager method, mutators included: events
// raised by a nested call are queued and delivered after the current event
// has reached every listener.
type Listener func(Event)

// Subscription identifies a registered listener.
type Subscription struct {
	id uint64
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// emitter is an explicit observer list. Events are appended to a queue in
// mutation order and a single goroutine at a time drains it, so each
// listener sees events in emission order and re-entrant emission never
// blocks.
type emitter struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners []listenerEntry

	queueMu  sync.Mutex
	queue    []Event
	draining bool

	logger logging.Logger
}

func newEmitter(logger logging.Logger) *emitter {
	return &emitter{logger: logger}
}

func (e *emitter) subscribe(fn Listener) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.listeners = append(e.listeners, listenerEntry{id: e.nextID, fn: fn})
	return Subscription{id: e.nextID}
}

func (e *emitter) unsubscribe(s Subscription) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, l := range e.listeners {
		if l.id == s.id {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (e *emitter) count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// enqueue appends events for delivery by the next drain.
func (e *emitter) enqueue(events []Event) {
	if len(events) == 0 {
		return
	}
	e.queueMu.Lock()
	e.queue = append(e.queue, events...)
	e.queueMu.Unlock()
}

// drain delivers queued events until the queue is empty. It returns at once
// when another call is already draining, which then delivers whatever was
// queued here.
func (e *emitter) drain() {
	e.queueMu.Lock()
	if e.draining {
		e.queueMu.Unlock()
		return
	}
	e.draining = true
	for len(e.queue) > 0 {
		batch := e.queue
		e.queue = nil
		e.queueMu.Unlock()
		e.deliver(batch)
		e.queueMu.Lock()
	}
	e.draining = false
	e.queueMu.Unlock()
}

func (e *emitter) deliver(events []Event) {
	e.mu.RLock()
	listeners := make([]listenerEntry, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.RUnlock()

	for _, ev := range events {
		for _, l := range listeners {
			e.call(l, ev)
		}
	}
}

func (e *emitter) call(l listenerEntry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(context.Background(), "session listener panicked",
				"listener", l.id, "event", ev.Type.String(), "tag_id", ev.TagID, "panic", fmt.Sprint(r))
		}
	}()
	l.fn(ev)
}
