package mocks

import (
	"context"
	"sync"

	"github.com/example/ec-storefront/internal/events"
)

// MockPublisher is a mock implementation of events.Publisher for testing
type MockPublisher struct {
	mu     sync.RWMutex
	events map[string][]events.Event

	// For tracking calls in tests
	PublishCalls    []PublishCall
	PublishErr      error
	PublishCallback func(ctx context.Context, key string, event events.Event) error
}

// PublishCall records parameters passed to Publish
type PublishCall struct {
	Key       string
	EventType string
	Event     events.Event
}

// NewMockPublisher creates a new MockPublisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		events:       make(map[string][]events.Event),
		PublishCalls: make([]PublishCall, 0),
	}
}

// Publish records the event. A configured error is returned after the call is
// recorded, so tests can check that failures were attempted and ignored.
func (m *MockPublisher) Publish(ctx context.Context, key string, event events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishCalls = append(m.PublishCalls, PublishCall{
		Key:       key,
		EventType: event.EventType,
		Event:     event,
	})

	if m.PublishCallback != nil {
		return m.PublishCallback(ctx, key, event)
	}
	if m.PublishErr != nil {
		return m.PublishErr
	}

	m.events[key] = append(m.events[key], event)
	return nil
}

// GetEvents returns events published for a key
func (m *MockPublisher) GetEvents(key string) []events.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events[key]
}

// EventTypes lists the types of every recorded call in order.
func (m *MockPublisher) EventTypes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	types := make([]string, 0, len(m.PublishCalls))
	for _, c := range m.PublishCalls {
		types = append(types, c.EventType)
	}
	return types
}

// Reset clears all events and recorded calls
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[string][]events.Event)
	m.PublishCalls = make([]PublishCall, 0)
	m.PublishErr = nil
	m.PublishCallback = nil
}
