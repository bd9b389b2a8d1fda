package events

import (
	"sync"
	"time"
)

// Type represents the kind of console event.
type Type string

const (
	MemoryRefreshed Type = "memory_refreshed"
	RefreshFailed   Type = "refresh_failed"
	RefreshStale    Type = "refresh_stale"
	ActionSucceeded Type = "action_succeeded"
	ActionRejected  Type = "action_rejected"
	ActionFailed    Type = "action_failed"
	TickDropped     Type = "tick_dropped"
)

// Event carries what happened, to which action and subject.
type Event struct {
	Type      Type
	Timestamp time.Time
	// Action is the console operation kind, e.g. "upload_text" or a job name.
	Action   string
	Subject  string
	Err      error
	Duration time.Duration
	Count    int
}

// Handler is a function that handles events.
type Handler func(Event)

// Bus fans events out to subscribers. Handlers run synchronously on the
// publishing goroutine and must not publish or subscribe themselves.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[Type][]Handler
	allHandlers []Handler
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]Handler),
	}
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(t Type, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], handler)
}

// SubscribeAll registers a handler for all event types.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allHandlers = append(b.allHandlers, handler)
}

// Publish sends an event to all registered handlers. A nil bus drops it.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, handler := range b.handlers[event.Type] {
		handler(event)
	}
	for _, handler := range b.allHandlers {
		handler(event)
	}
}
