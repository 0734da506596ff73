package payment

import (
	"context"
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

var (
	ErrTransactionNotFound = apperr.New(apperr.KindNotFound, "payment transaction not found")
	ErrNotRefundable       = apperr.New(apperr.KindInvalidStateTransition, "payment transaction is not refundable")
)

// Transaction records one external payment intent. ExternalID is unique and
// is the idempotency key for webhook deliveries; RefundID is the idempotency
// key for refunds.
type Transaction struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	ExternalID   string          `json:"external_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     money.Currency  `json:"currency"`
	Status       Status          `json:"status"`
	RefundID     string          `json:"refund_id,omitempty"`
	RefundStatus string          `json:"refund_status,omitempty"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewTransaction returns an unsaved transaction for an order's intent.
func NewTransaction(orderID, externalID string, amount decimal.Decimal, currency money.Currency, status Status, now time.Time) *Transaction {
	return &Transaction{
		ID:           uuid.New().String(),
		OrderID:      orderID,
		ExternalID:   externalID,
		Amount:       amount,
		Currency:     currency,
		Status:       status,
		RefundAmount: decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (t *Transaction) Refunded() bool { return t.RefundID != "" }

// CheckRefund validates a refund request against the captured amount.
func (t *Transaction) CheckRefund(amount decimal.Decimal) error {
	if err := money.RequirePositive(amount, "refund amount"); err != nil {
		return err
	}
	if t.Status != StatusSucceeded {
		return apperr.Wrap(apperr.KindInvalidStateTransition, ErrNotRefundable, "transaction %s is %s", t.ID, t.Status)
	}
	if amount.GreaterThan(t.Amount) {
		return apperr.BadRequest("refund amount %s exceeds captured %s", amount, t.Amount)
	}
	return nil
}

// MarkRefunded stores the gateway's refund id and the status it reported.
func (t *Transaction) MarkRefunded(refundID string, amount decimal.Decimal, gatewayStatus string, now time.Time) {
	t.RefundID = refundID
	t.RefundStatus = gatewayStatus
	t.RefundAmount = amount
	t.Status = StatusRefunded
	t.UpdatedAt = now
}

// RefundResult is what RefundPayment returns, both the first time and on
// every replay.
type RefundResult struct {
	TransactionID string          `json:"transaction_id"`
	OrderID       string          `json:"order_id"`
	RefundID      string          `json:"refund_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      money.Currency  `json:"currency"`
	Status        string          `json:"status"`
}

// ResultOf builds the stored refund result of a refunded transaction.
func ResultOf(t *Transaction) *RefundResult {
	return &RefundResult{
		TransactionID: t.ID,
		OrderID:       t.OrderID,
		RefundID:      t.RefundID,
		Amount:        t.RefundAmount,
		Currency:      t.Currency,
		Status:        t.RefundStatus,
	}
}

// IntentRequest asks the gateway for a payment intent. ExistingIntentID, when
// set, updates that intent instead of creating a new one.
type IntentRequest struct {
	Reference        string
	ExistingIntentID string
	Amount           decimal.Decimal
	Currency         money.Currency
}

type Intent struct {
	ID           string
	ClientSecret string
}

type Refund struct {
	ID     string
	Amount decimal.Decimal
	Status string
}

// Gateway is the external payment processor.
type Gateway interface {
	CreateOrUpdatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	RefundCharge(ctx context.Context, transactionID, paymentIntentID string, amount decimal.Decimal, currency money.Currency) (*Refund, error)
}

type EventType string

const (
	EventSucceeded EventType = "payment_intent.succeeded"
	EventFailed    EventType = "payment_intent.payment_failed"
)

// WebhookEvent is a verified gateway notification.
type WebhookEvent struct {
	ID              string
	Type            EventType
	PaymentIntentID string
}

// WebhookVerifier checks a gateway signature and decodes the event.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
