package command

import (
	"context"
	"errors"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/cart"
	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/example/ec-storefront/internal/domain/reward"
	"github.com/example/ec-storefront/internal/infrastructure/store"
	"github.com/example/ec-storefront/internal/money"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateOrder turns a basket into a Pending order. Stock decrements, the
// optional points redemption, the payment intent and the order row either all
// happen or none do.
func (h *Handler) CreateOrder(ctx context.Context, cmd CreateOrder) (*OrderCreated, error) {
	if cmd.UserID == "" {
		return nil, apperr.BadRequest("user id is required")
	}
	currency, err := money.ParseCurrency(cmd.Currency)
	if err != nil {
		return nil, err
	}
	if err := cmd.ShippingAddress.Validate(); err != nil {
		return nil, err
	}

	// The basket read is outside the transaction; everything derived from it
	// is re-checked against the catalog under the write.
	basket, err := h.baskets.GetBasket(ctx, cmd.BasketID)
	if err != nil {
		return nil, err
	}
	if err := cart.ValidateForCheckout(basket, currency); err != nil {
		return nil, err
	}

	var (
		created *order.Order
		result  *OrderCreated
	)
	err = h.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		created, result = nil, nil

		if cmd.PaymentIntentID != "" {
			existing, err := tx.Orders().FindByPaymentIntentID(ctx, cmd.PaymentIntentID)
			switch {
			case err == nil:
				if existing.UserID != cmd.UserID || existing.Status != order.StatusPending {
					return apperr.Conflict("payment intent %s already belongs to order %s", cmd.PaymentIntentID, existing.ID)
				}
				result = toOrderCreated(existing)
				result.Replayed = true
				return nil
			case !errors.Is(err, order.ErrOrderNotFound):
				return err
			}
		}

		items := make([]order.OrderItem, 0, len(basket.Items))
		for _, line := range basket.Items {
			entry, err := tx.Catalog().GetPriceEntry(ctx, line.PriceEntryID)
			if err != nil {
				return err
			}
			if entry.Currency != currency {
				return apperr.Wrap(apperr.KindConflict, cart.ErrCurrencyMismatch,
					"price entry %s is priced in %s, order in %s", entry.ID, entry.Currency, currency)
			}
			if err := tx.Catalog().DecrementStock(ctx, entry.ProductID, line.Quantity); err != nil {
				return err
			}
			items = append(items, order.OrderItem{
				PriceEntryID: line.PriceEntryID,
				ProductID:    entry.ProductID,
				Name:         line.Name,
				Weight:       entry.Weight,
				ImageURL:     line.ImageURL,
				UnitPrice:    line.Price,
				Quantity:     line.Quantity,
				Currency:     currency,
			})
		}

		subtotal := order.SubtotalOf(items)
		redeem := decimal.Zero
		if cmd.UsePoints {
			redeem, err = h.redeemable(ctx, tx.Rewards(), cmd.UserID, subtotal)
			if err != nil {
				return err
			}
		}

		o, err := order.New(order.Draft{
			UserID:          cmd.UserID,
			Email:           cmd.Email,
			Currency:        currency,
			Items:           items,
			ShippingCost:    h.shipping.GetShippingCost(cmd.ShippingAddress.Country, currency, subtotal),
			PointsRedeemed:  redeem,
			ShippingAddress: cmd.ShippingAddress,
			LanguageCode:    cmd.LanguageCode,
		}, h.now())
		if err != nil {
			return err
		}

		if o.TotalAmount.IsPositive() {
			intent, err := h.gateway.CreateOrUpdatePaymentIntent(ctx, paymentIntentRequest(o, cmd.PaymentIntentID))
			if err != nil {
				return apperr.Wrap(apperr.KindOf(err), err, "create payment intent for order %s", o.ID)
			}
			o.PaymentIntentID = intent.ID
			o.ClientSecret = intent.ClientSecret
		} else if err := o.TransitionTo(order.StatusPaid, h.now()); err != nil {
			// Fully covered by points: nothing to charge.
			return err
		}

		if err := tx.Orders().Insert(ctx, o); err != nil {
			return err
		}

		if redeem.IsPositive() {
			posting, err := h.ledger.RedeemPoints(ctx, tx.Rewards(), cmd.UserID, redeem, o.ID)
			if err != nil {
				return err
			}
			if err := h.savePosting(ctx, tx.Rewards(), posting, "CreateOrder"); err != nil {
				return err
			}
		}

		created = o
		result = toOrderCreated(o)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created != nil {
		h.logger.Info("order created",
			zap.String("order_id", created.ID),
			zap.String("user_id", created.UserID),
			zap.String("total", created.TotalAmount.String()),
			zap.String("currency", created.Currency.String()))
		h.publish(ctx, created, order.EventOrderPlaced, created.PlacedEvent())
		if created.Status == order.StatusPaid {
			h.publish(ctx, created, order.EventOrderPaid, created.PaidEvent())
		}
	}
	return result, nil
}

// redeemable is the largest redemption allowed: the wallet balance capped at
// the items subtotal so the total never goes below the shipping cost.
func (h *Handler) redeemable(ctx context.Context, repo reward.Repository, userID string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	w, err := repo.FindWalletByUserID(ctx, userID)
	if errors.Is(err, reward.ErrWalletNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	amount := decimal.Min(w.Balance, subtotal)
	if amount.IsNegative() {
		return decimal.Zero, nil
	}
	return amount, nil
}

func toOrderCreated(o *order.Order) *OrderCreated {
	return &OrderCreated{
		OrderID:         o.ID,
		Status:          o.Status,
		TotalAmount:     o.TotalAmount,
		Currency:        o.Currency.String(),
		ShippingCost:    o.ShippingCost,
		PointsRedeemed:  o.PointsRedeemed,
		ClientSecret:    o.ClientSecret,
		PaymentIntentID: o.PaymentIntentID,
	}
}

// ShipOrder moves a Paid order to Shipped.
func (h *Handler) ShipOrder(ctx context.Context, orderID string) (*order.Order, error) {
	o, err := h.advance(ctx, orderID, order.StatusShipped)
	if err != nil {
		return nil, err
	}
	h.publish(ctx, o, order.EventOrderShipped, o.ShippedEvent())
	return o, nil
}

// DeliverOrder moves a Shipped order to Delivered.
func (h *Handler) DeliverOrder(ctx context.Context, orderID string) (*order.Order, error) {
	o, err := h.advance(ctx, orderID, order.StatusDelivered)
	if err != nil {
		return nil, err
	}
	h.publish(ctx, o, order.EventOrderDelivered, o.DeliveredEvent())
	return o, nil
}

func (h *Handler) advance(ctx context.Context, orderID string, target order.Status) (*order.Order, error) {
	var o *order.Order
	err := h.withRetry(ctx, "advance", func() error {
		return h.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			o, err = tx.Orders().Get(ctx, orderID)
			if err != nil {
				return err
			}
			if err := o.TransitionTo(target, h.now()); err != nil {
				return err
			}
			return tx.Orders().Update(ctx, o)
		})
	})
	if err != nil {
		return nil, err
	}
	h.logger.Info("order status changed", zap.String("order_id", o.ID), zap.String("status", string(o.Status)))
	return o, nil
}

// CancelOrder cancels a Pending order, restoring stock and returning any
// redeemed points. A Paid order with a captured payment is cancelled through
// RefundPayment; one paid entirely with points has nothing to refund at the
// gateway and is cancelled here.
func (h *Handler) CancelOrder(ctx context.Context, cmd CancelOrder) (*order.Order, error) {
	var o *order.Order
	err := h.withRetry(ctx, "CancelOrder", func() error {
		return h.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			o, err = tx.Orders().Get(ctx, cmd.OrderID)
			if err != nil {
				return err
			}
			if cmd.UserID != "" && o.UserID != cmd.UserID {
				return order.ErrOrderNotFound
			}
			if o.Status == order.StatusPaid && o.PaymentIntentID != "" {
				return apperr.InvalidState("order %s is paid; refund the payment to cancel it", o.ID)
			}
			if err := o.TransitionTo(order.StatusCancelled, h.now()); err != nil {
				return err
			}
			if err := restoreStock(ctx, tx, o); err != nil {
				return err
			}
			posting, err := h.ledger.RefundPoints(ctx, tx.Rewards(), o.UserID, o.ID, o.PointsEarned, o.PointsRedeemed)
			if err != nil {
				return err
			}
			if err := h.savePosting(ctx, tx.Rewards(), posting, "CancelOrder"); err != nil {
				return err
			}
			return tx.Orders().Update(ctx, o)
		})
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("order cancelled", zap.String("order_id", o.ID), zap.String("reason", cmd.Reason))
	h.publish(ctx, o, order.EventOrderCancelled, o.CancelledEvent(cmd.Reason, decimal.Zero))
	return o, nil
}
