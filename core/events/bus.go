// Package events provides a publish/subscribe bus for record mutations.
// The runtime publishes one event per committed mutation.
package events

import (
	"context"
	"strings"
	"sync"

	"github.com/artpar/kalita/core/record"
	"github.com/rs/zerolog"
)

// Record event names.
const (
	RecordCreated  = "record.created"
	RecordUpdated  = "record.updated"
	RecordReplaced = "record.replaced"
	RecordDeleted  = "record.deleted"
	RecordRestored = "record.restored"
	RecordNulled   = "record.nulled"
)

// Event represents a published event.
type Event struct {
	// Name is the event name (e.g., "record.created").
	Name string

	// Entity is the FQN of the mutated record's entity.
	Entity string

	// ID and Version identify the committed record state.
	ID      string
	Version int64

	// Record is the committed state.
	Record record.Record
}

// Op returns the part of the name after the first dot ("created").
func (e Event) Op() string {
	if i := strings.IndexByte(e.Name, '.'); i >= 0 {
		return e.Name[i+1:]
	}
	return e.Name
}

// Handler is a function that processes an event.
type Handler func(ctx context.Context, event Event) error

// Bus is a simple publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event.
// Supports wildcard subscriptions:
//   - "record.created" - exact match
//   - "record.*" - all record events
//   - "*" - all events
func (b *Bus) Subscribe(event string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// Publish emits an event to all matching handlers.
// Handlers are called synchronously in registration order.
// If any handler returns an error, publishing continues but errors are logged.
func (b *Bus) Publish(ctx context.Context, event Event) {
	for _, handler := range b.matching(event.Name) {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Str("entity", event.Entity).
				Str("id", event.ID).
				Msg("event handler error")
		}
	}
}

// PublishAsync emits an event asynchronously.
// The function returns immediately; handlers run in a goroutine.
func (b *Bus) PublishAsync(ctx context.Context, event Event) {
	go b.Publish(context.WithoutCancel(ctx), event)
}

// HasSubscribers checks if any handlers are registered for an event.
func (b *Bus) HasSubscribers(event string) bool {
	return len(b.matching(event)) > 0
}

// matching returns a snapshot of the handlers for name so that handlers may
// subscribe without deadlocking.
func (b *Bus) matching(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []Handler
	matched = append(matched, b.handlers[name]...)
	if i := strings.IndexByte(name, '.'); i > 0 {
		matched = append(matched, b.handlers[name[:i]+".*"]...)
	}
	if name != "*" {
		matched = append(matched, b.handlers["*"]...)
	}
	return matched
}
