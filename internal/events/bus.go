// Package events provides a small in-process publish/subscribe bus.
package events

import (
	"sync"
	"time"
)

// EventType identifies a category of system event
type EventType string

const (
	// JobStarted - a scheduled job began executing
	JobStarted EventType = "job.started"
	// JobCompleted - a scheduled job finished (ok or failed)
	JobCompleted EventType = "job.completed"
	// DailyUpdated - the daily-bar cache upserted fresh rows for a symbol
	DailyUpdated EventType = "daily.updated"
	// ProviderUnhealthy - the router marked a data source unhealthy
	ProviderUnhealthy EventType = "provider.unhealthy"
	// BacktestCompleted - a backtest run was persisted
	BacktestCompleted EventType = "backtest.completed"
)

// Event is one published occurrence.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Handler receives published events.
type Handler func(event *Event)

// Bus fans events out to subscribers. Handlers run on the publisher's
// goroutine; they must not block.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	allSubs  []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, h)
}

// Publish delivers an event to all matching subscribers.
func (b *Bus) Publish(t EventType, data interface{}) {
	event := &Event{
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	}

	b.mu.RLock()
	typed := b.handlers[t]
	all := b.allSubs
	b.mu.RUnlock()

	for _, h := range typed {
		h(event)
	}
	for _, h := range all {
		h(event)
	}
}
