package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/ec-storefront/internal/events"
	"github.com/segmentio/kafka-go"
)

// EventTypeHeader lets consumers filter without decoding the value.
const EventTypeHeader = "event_type"

// Producer publishes order events. Messages are keyed by order id and hashed
// to a partition, so one order's events are consumed in commit order.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{writer: writer}
}

func (p *Producer) Publish(ctx context.Context, key string, event events.Event) error {
	msg, err := message(key, event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func message(key string, event events.Event) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: EventTypeHeader, Value: []byte(event.EventType)},
		},
	}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
