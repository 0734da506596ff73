package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/ec-storefront/internal/domain/payment"
	"github.com/example/ec-storefront/internal/money"
	"github.com/shopspring/decimal"
)

// MockGateway is a recording payment.Gateway. Refunds are keyed by
// transaction id the way the real gateway's idempotency key works, so a
// repeated refund returns the first result.
type MockGateway struct {
	mu sync.Mutex

	IntentCalls []payment.IntentRequest
	IntentErr   error

	RefundCalls  []RefundCall
	RefundErr    error
	RefundStatus string // reported for new refunds; "succeeded" when empty

	refunds map[string]*payment.Refund
	seq     int
}

// RefundCall records parameters passed to RefundCharge
type RefundCall struct {
	TransactionID   string
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        money.Currency
}

func NewMockGateway() *MockGateway {
	return &MockGateway{refunds: make(map[string]*payment.Refund)}
}

func (m *MockGateway) CreateOrUpdatePaymentIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.IntentCalls = append(m.IntentCalls, req)
	if m.IntentErr != nil {
		return nil, m.IntentErr
	}
	id := req.ExistingIntentID
	if id == "" {
		m.seq++
		id = fmt.Sprintf("pi_mock_%d", m.seq)
	}
	return &payment.Intent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (m *MockGateway) RefundCharge(_ context.Context, transactionID, paymentIntentID string, amount decimal.Decimal, currency money.Currency) (*payment.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RefundCalls = append(m.RefundCalls, RefundCall{
		TransactionID:   transactionID,
		PaymentIntentID: paymentIntentID,
		Amount:          amount,
		Currency:        currency,
	})
	if m.RefundErr != nil {
		return nil, m.RefundErr
	}
	if r, ok := m.refunds[transactionID]; ok {
		return r, nil
	}
	status := m.RefundStatus
	if status == "" {
		status = "succeeded"
	}
	m.seq++
	r := &payment.Refund{ID: fmt.Sprintf("re_mock_%d", m.seq), Amount: amount, Status: status}
	m.refunds[transactionID] = r
	return r, nil
}

// RemoteRefunds is the number of distinct refunds the gateway created.
func (m *MockGateway) RemoteRefunds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refunds)
}

// MockWebhookVerifier accepts any payload and returns Event, or Err.
type MockWebhookVerifier struct {
	Event      *payment.WebhookEvent
	Err        error
	Signatures []string
}

func (m *MockWebhookVerifier) VerifyWebhook(_ []byte, signature string) (*payment.WebhookEvent, error) {
	m.Signatures = append(m.Signatures, signature)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Event, nil
}
