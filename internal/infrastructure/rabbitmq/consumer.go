package rabbitmq

import (
	"context"
	"fmt"

	"github.com/example/ec-storefront/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// OrderEventsKey matches every order event routing key.
const OrderEventsKey = "order.*"

// ConsumeChannel is the part of *amqp.Channel the consumer uses.
type ConsumeChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Consumer reads order events from a durable queue bound to the exchange.
type Consumer struct {
	ch       ConsumeChannel
	exchange string
	queue    string
	logger   *zap.Logger
}

func NewConsumer(ch ConsumeChannel, exchange, queue string, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{ch: ch, exchange: exchange, queue: queue, logger: logger}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	q, err := c.ch.QueueDeclare(
		c.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("could not declare queue: %w", err)
	}

	if err := c.ch.QueueBind(q.Name, OrderEventsKey, c.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("could not bind queue: %w", err)
	}

	msgs, err := c.ch.Consume(
		q.Name, // queue
		"",     // consumer tag
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return nil, fmt.Errorf("could not start consume: %w", err)
	}
	return msgs, nil
}

// Consume delivers messages to handler until ctx is done or the channel
// closes. Handler errors are logged and the message is acked anyway;
// notifications are best effort. Undecodable bodies are rejected without
// requeue.
func (c *Consumer) Consume(ctx context.Context, handler events.Handler) error {
	msgs, err := c.subscribe()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel for queue %s closed", c.queue)
			}
			c.handle(ctx, d, handler)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, handler events.Handler) {
	var decoded bool
	err := events.Dispatch(ctx, d.Body, func(ctx context.Context, event events.Event) error {
		decoded = true
		return handler(ctx, event)
	})
	if err != nil {
		c.logger.Error("handle message",
			zap.String("routing_key", d.RoutingKey),
			zap.String("message_id", d.MessageId),
			zap.Error(err))
	}

	if !decoded {
		if err := d.Reject(false); err != nil {
			c.logger.Warn("reject message", zap.String("message_id", d.MessageId), zap.Error(err))
		}
		return
	}
	if err := d.Ack(false); err != nil {
		c.logger.Warn("ack message", zap.String("message_id", d.MessageId), zap.Error(err))
	}
}
