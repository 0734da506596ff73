package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/payment"
	"github.com/example/ec-storefront/internal/money"
	"github.com/shopspring/decimal"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

type intentAPI interface {
	New(params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error)
	Update(id string, params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error)
}

type refundAPI interface {
	New(params *stripeapi.RefundParams) (*stripeapi.Refund, error)
}

// Gateway implements payment.Gateway and payment.WebhookVerifier on Stripe.
type Gateway struct {
	intents       intentAPI
	refunds       refundAPI
	webhookSecret string
	logger        *zap.Logger
}

func NewGateway(secretKey, webhookSecret string, logger *zap.Logger) *Gateway {
	sc := client.New(secretKey, nil)
	return newGateway(sc.PaymentIntents, sc.Refunds, webhookSecret, logger)
}

func newGateway(intents intentAPI, refunds refundAPI, webhookSecret string, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{intents: intents, refunds: refunds, webhookSecret: webhookSecret, logger: logger}
}

// CreateOrUpdatePaymentIntent creates a new intent without an idempotency
// key. The reference is a fresh order id on every checkout attempt, and a
// failed attempt rolls its order back, so a new intent is the right outcome.
func (g *Gateway) CreateOrUpdatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	params := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(money.ToMinorUnits(req.Amount, req.Currency)),
		Currency: stripeapi.String(req.Currency.Lower()),
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.Reference)

	var (
		pi  *stripeapi.PaymentIntent
		err error
	)
	if req.ExistingIntentID != "" {
		pi, err = g.intents.Update(req.ExistingIntentID, params)
	} else {
		params.AutomaticPaymentMethods = &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		}
		pi, err = g.intents.New(params)
	}
	if err != nil {
		return nil, mapError(err, "payment intent for %s", req.Reference)
	}

	g.logger.Info("payment intent ready",
		zap.String("payment_intent_id", pi.ID),
		zap.String("reference", req.Reference))
	return &payment.Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// RefundCharge refunds amount of the intent's charge. The idempotency key is
// derived from the local transaction id, so concurrent or repeated calls for
// one transaction create one refund.
func (g *Gateway) RefundCharge(ctx context.Context, transactionID, paymentIntentID string, amount decimal.Decimal, currency money.Currency) (*payment.Refund, error) {
	params := &stripeapi.RefundParams{
		PaymentIntent: stripeapi.String(paymentIntentID),
		Amount:        stripeapi.Int64(money.ToMinorUnits(amount, currency)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + transactionID)
	params.AddMetadata("transaction_id", transactionID)

	r, err := g.refunds.New(params)
	if err != nil {
		return nil, mapError(err, "refund transaction %s", transactionID)
	}

	g.logger.Info("refund created",
		zap.String("refund_id", r.ID),
		zap.String("transaction_id", transactionID),
		zap.String("status", string(r.Status)))
	return &payment.Refund{
		ID:     r.ID,
		Amount: money.FromMinorUnits(r.Amount, currency),
		Status: string(r.Status),
	}, nil
}

// VerifyWebhook checks the Stripe-Signature header and extracts the payment
// intent id of payment_intent.* events.
func (g *Gateway) VerifyWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, err, "invalid webhook signature")
	}

	out := &payment.WebhookEvent{ID: event.ID, Type: payment.EventType(event.Type)}
	if event.Data == nil {
		return out, nil
	}
	var obj struct {
		ID     string `json:"id"`
		Object string `json:"object"`
	}
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, err, "decode webhook object")
	}
	if obj.Object == "payment_intent" {
		out.PaymentIntentID = obj.ID
	}
	return out, nil
}

// mapError keeps client-side rejections as BadRequest; everything else is
// an internal failure of the gateway.
func mapError(err error, format string, args ...any) error {
	var se *stripeapi.Error
	if errors.As(err, &se) {
		switch se.HTTPStatusCode {
		case http.StatusBadRequest, http.StatusPaymentRequired:
			return apperr.Wrap(apperr.KindBadRequest, err, format, args...)
		case http.StatusConflict:
			return apperr.Wrap(apperr.KindConflict, err, format, args...)
		}
	}
	return apperr.Wrap(apperr.KindInternal, fmt.Errorf("stripe: %w", err), format, args...)
}
