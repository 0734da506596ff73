package command

import (
	"context"
	"errors"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/example/ec-storefront/internal/domain/payment"
	"github.com/example/ec-storefront/internal/infrastructure/store"
	"github.com/example/ec-storefront/internal/money"
	"go.uber.org/zap"
)

func paymentIntentRequest(o *order.Order, existingIntentID string) payment.IntentRequest {
	return payment.IntentRequest{
		Reference:        o.ID,
		ExistingIntentID: existingIntentID,
		Amount:           o.TotalAmount,
		Currency:         o.Currency,
	}
}

// ProcessPaymentSuccess reconciles a succeeded payment intent. Replays and
// events for orders that already left Pending are no-ops.
func (h *Handler) ProcessPaymentSuccess(ctx context.Context, paymentIntentID string) error {
	if paymentIntentID == "" {
		return apperr.BadRequest("payment intent id is required")
	}

	var paid *order.Order
	err := h.withRetry(ctx, "ProcessPaymentSuccess", func() error {
		paid = nil
		return h.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			existing, err := tx.Payments().FindByExternalID(ctx, paymentIntentID)
			if err != nil && !errors.Is(err, payment.ErrTransactionNotFound) {
				return err
			}
			if existing != nil && existing.Status != payment.StatusPending && existing.Status != payment.StatusFailed {
				h.logger.Info("duplicate payment success ignored", zap.String("payment_intent_id", paymentIntentID))
				return nil
			}

			o, err := tx.Orders().FindByPaymentIntentID(ctx, paymentIntentID)
			if err != nil {
				return err
			}
			if o.Status != order.StatusPending {
				h.logger.Info("payment success for non-pending order ignored",
					zap.String("order_id", o.ID), zap.String("status", string(o.Status)))
				return nil
			}

			now := h.now()
			if existing != nil {
				existing.Status = payment.StatusSucceeded
				existing.Amount = o.TotalAmount
				existing.UpdatedAt = now
				if err := tx.Payments().Update(ctx, existing); err != nil {
					return err
				}
			} else {
				t := payment.NewTransaction(o.ID, paymentIntentID, o.TotalAmount, o.Currency, payment.StatusSucceeded, now)
				if err := tx.Payments().Insert(ctx, t); err != nil {
					return err
				}
			}

			if err := o.TransitionTo(order.StatusPaid, now); err != nil {
				return err
			}
			cashback := money.Round(o.TotalAmount.Mul(h.rewardRate), o.Currency)
			posting, err := h.ledger.EarnPoints(ctx, tx.Rewards(), o.UserID, o.ID, cashback)
			if err != nil {
				return err
			}
			if err := h.savePosting(ctx, tx.Rewards(), posting, "ProcessPaymentSuccess"); err != nil {
				return err
			}
			o.PointsEarned = cashback
			if err := tx.Orders().Update(ctx, o); err != nil {
				return err
			}
			paid = o
			return nil
		})
	})
	if err != nil {
		return err
	}

	if paid != nil {
		h.logger.Info("order paid",
			zap.String("order_id", paid.ID),
			zap.String("payment_intent_id", paymentIntentID),
			zap.String("points_earned", paid.PointsEarned.String()))
		h.publish(ctx, paid, order.EventOrderPaid, paid.PaidEvent())
	}
	return nil
}

// ProcessPaymentFailure records a failed attempt. The order stays Pending so
// the buyer can retry with the same intent.
func (h *Handler) ProcessPaymentFailure(ctx context.Context, paymentIntentID string) error {
	if paymentIntentID == "" {
		return apperr.BadRequest("payment intent id is required")
	}

	return h.withRetry(ctx, "ProcessPaymentFailure", func() error {
		return h.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			existing, err := tx.Payments().FindByExternalID(ctx, paymentIntentID)
			if err != nil && !errors.Is(err, payment.ErrTransactionNotFound) {
				return err
			}
			if existing != nil {
				if existing.Status != payment.StatusPending {
					return nil
				}
				existing.Status = payment.StatusFailed
				existing.UpdatedAt = h.now()
				return tx.Payments().Update(ctx, existing)
			}

			o, err := tx.Orders().FindByPaymentIntentID(ctx, paymentIntentID)
			if err != nil {
				return err
			}
			if o.Status != order.StatusPending {
				return nil
			}
			h.logger.Info("payment failed", zap.String("order_id", o.ID), zap.String("payment_intent_id", paymentIntentID))
			t := payment.NewTransaction(o.ID, paymentIntentID, o.TotalAmount, o.Currency, payment.StatusFailed, h.now())
			return tx.Payments().Insert(ctx, t)
		})
	})
}

// RefundPayment refunds a succeeded transaction and cancels its order. The
// stored refund id makes repeated calls return the first result without
// calling the gateway again.
func (h *Handler) RefundPayment(ctx context.Context, cmd RefundPayment) (*payment.RefundResult, error) {
	if err := money.RequirePositive(cmd.Amount, "refund amount"); err != nil {
		return nil, err
	}

	var (
		result    *payment.RefundResult
		cancelled *order.Order
	)
	err := h.withRetry(ctx, "RefundPayment", func() error {
		result, cancelled = nil, nil
		return h.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			t, err := tx.Payments().Get(ctx, cmd.TransactionID)
			if err != nil {
				return err
			}
			if t.Refunded() {
				result = payment.ResultOf(t)
				return nil
			}
			if err := t.CheckRefund(cmd.Amount); err != nil {
				return err
			}

			o, err := tx.Orders().Get(ctx, t.OrderID)
			if err != nil {
				return err
			}
			if !o.CanTransitionTo(order.StatusCancelled) {
				return o.TransitionTo(order.StatusCancelled, h.now())
			}

			// The gateway is called last among the checks so a local
			// rejection never leaves a remote refund behind.
			refund, err := h.gateway.RefundCharge(ctx, t.ID, t.ExternalID, cmd.Amount, t.Currency)
			if err != nil {
				return apperr.Wrap(apperr.KindOf(err), err, "refund transaction %s", t.ID)
			}

			now := h.now()
			t.MarkRefunded(refund.ID, refund.Amount, refund.Status, now)
			if err := tx.Payments().Update(ctx, t); err != nil {
				return err
			}

			if err := o.TransitionTo(order.StatusCancelled, now); err != nil {
				return err
			}
			if err := restoreStock(ctx, tx, o); err != nil {
				return err
			}
			posting, err := h.ledger.RefundPoints(ctx, tx.Rewards(), o.UserID, o.ID, o.PointsEarned, o.PointsRedeemed)
			if err != nil {
				return err
			}
			if err := h.savePosting(ctx, tx.Rewards(), posting, "RefundPayment"); err != nil {
				return err
			}
			if err := tx.Orders().Update(ctx, o); err != nil {
				return err
			}

			result = payment.ResultOf(t)
			cancelled = o
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if cancelled != nil {
		h.logger.Info("payment refunded",
			zap.String("transaction_id", result.TransactionID),
			zap.String("refund_id", result.RefundID),
			zap.String("order_id", cancelled.ID))
		h.publish(ctx, cancelled, order.EventOrderCancelled,
			cancelled.CancelledEvent("refunded", result.Amount))
	}
	return result, nil
}
