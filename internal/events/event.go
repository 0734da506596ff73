package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope published to the event bus after a commit.
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int64           `json:"version"`
}

// New wraps data in an envelope.
func New(aggregateID, aggregateType, eventType string, version int64, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          raw,
		Timestamp:     time.Now(),
		Version:       version,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Handler processes one decoded envelope.
type Handler func(ctx context.Context, event Event) error

// Dispatch decodes a serialized envelope and hands it to handler.
func Dispatch(ctx context.Context, body []byte, handler Handler) error {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return err
	}
	return handler(ctx, event)
}

// Publisher delivers envelopes keyed by aggregate id.
type Publisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// Discard drops every event. Used when no bus is configured.
type Discard struct{}

func (Discard) Publish(context.Context, string, Event) error { return nil }
