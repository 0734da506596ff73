package notification

import (
	"context"
	"fmt"

	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/example/ec-storefront/internal/events"
	"go.uber.org/zap"
)

// Notifier sends customer-facing order notifications. *email.Service
// implements it.
type Notifier interface {
	SendOrderPaid(e order.OrderPaid) error
	SendOrderShipped(e order.OrderShipped) error
	SendOrderDelivered(e order.OrderDelivered) error
	SendOrderCancelled(e order.OrderCancelled) error
}

// Handler processes events for sending notifications
type Handler struct {
	notifier Notifier
	logger   *zap.Logger
}

// NewHandler creates a new notification handler
func NewHandler(notifier Notifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{notifier: notifier, logger: logger}
}

// HandleEvent processes an order event from the bus. Events without a
// customer notification, such as OrderPlaced, are skipped.
func (h *Handler) HandleEvent(ctx context.Context, event events.Event) error {
	log := h.logger.With(zap.String("event_type", event.EventType), zap.String("order_id", event.AggregateID))

	var err error
	switch event.EventType {
	case order.EventOrderPaid:
		err = handle(event, h.notifier.SendOrderPaid)
	case order.EventOrderShipped:
		err = handle(event, h.notifier.SendOrderShipped)
	case order.EventOrderDelivered:
		err = handle(event, h.notifier.SendOrderDelivered)
	case order.EventOrderCancelled:
		err = handle(event, h.notifier.SendOrderCancelled)
	default:
		log.Debug("no notification for event")
		return nil
	}
	if err != nil {
		log.Error("notification failed", zap.Error(err))
		return err
	}

	log.Info("notification sent")
	return nil
}

func handle[T any](event events.Event, send func(T) error) error {
	var payload T
	if err := event.Decode(&payload); err != nil {
		return fmt.Errorf("decode %s: %w", event.EventType, err)
	}
	return send(payload)
}
