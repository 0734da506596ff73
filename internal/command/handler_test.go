package command

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/cart"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/example/ec-storefront/internal/domain/payment"
	"github.com/example/ec-storefront/internal/domain/reward"
	"github.com/example/ec-storefront/internal/domain/shipping"
	"github.com/example/ec-storefront/internal/infrastructure/mocks"
	"github.com/example/ec-storefront/internal/infrastructure/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	handler   *Handler
	store     *store.MemoryStore
	baskets   *mocks.MockBasketStore
	gateway   *mocks.MockGateway
	publisher *mocks.MockPublisher
}

var testAddress = order.ShippingAddress{
	Name:       "Jane Doe",
	Line1:      "1 Main St",
	City:       "Springfield",
	PostalCode: "12345",
	Country:    "US",
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newTestHandler(opts ...Option) *testEnv {
	s := store.NewMemoryStore()
	s.SeedProduct(catalog.Product{ID: "prod-1", Name: "Sencha", Stock: 10},
		catalog.PriceEntry{ID: "price-usd", ProductID: "prod-1", Weight: "100g", Price: dec(100), Currency: "USD"},
		catalog.PriceEntry{ID: "price-eur", ProductID: "prod-1", Weight: "100g", Price: dec(90), Currency: "EUR"},
	)
	s.SeedProduct(catalog.Product{ID: "prod-2", Name: "Matcha", Stock: 1},
		catalog.PriceEntry{ID: "price-matcha", ProductID: "prod-2", Weight: "30g", Price: dec(40), Currency: "USD"},
	)

	env := &testEnv{
		store:     s,
		baskets:   mocks.NewMockBasketStore(),
		gateway:   mocks.NewMockGateway(),
		publisher: mocks.NewMockPublisher(),
	}
	env.handler = NewHandler(s, env.baskets, env.gateway, shipping.NewFlatRates(decimal.Zero), env.publisher, opts...)
	return env
}

func (e *testEnv) setBasket(id string, lines ...cart.Item) {
	c := cart.New(id)
	for _, l := range lines {
		c.Items = append(c.Items, l)
		c.Currency = l.Currency
	}
	e.baskets.SetBasket(c)
}

func senchaLine(qty int) cart.Item {
	return cart.Item{PriceEntryID: "price-usd", ProductID: "prod-1", Name: "Sencha", Price: dec(100), Currency: "USD", Quantity: qty}
}

func (e *testEnv) createOrder(t *testing.T, userID string, usePoints bool) *OrderCreated {
	t.Helper()
	res, err := e.handler.CreateOrder(context.Background(), CreateOrder{
		UserID:          userID,
		Email:           userID + "@example.com",
		BasketID:        "basket-" + userID,
		ShippingAddress: testAddress,
		Currency:        "USD",
		UsePoints:       usePoints,
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) order(t *testing.T, id string) *order.Order {
	t.Helper()
	var o *order.Order
	require.NoError(t, e.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		o, err = tx.Orders().Get(ctx, id)
		return err
	}))
	return o
}

func (e *testEnv) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	var bal decimal.Decimal
	require.NoError(t, e.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		w, err := tx.Rewards().FindWalletByUserID(ctx, userID)
		if errors.Is(err, reward.ErrWalletNotFound) {
			bal = decimal.Zero
			return nil
		}
		if err != nil {
			return err
		}
		bal = w.Balance
		return nil
	}))
	return bal
}

func (e *testEnv) rewardTypes(t *testing.T, userID string) []reward.TransactionType {
	t.Helper()
	var types []reward.TransactionType
	require.NoError(t, e.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		w, err := tx.Rewards().FindWalletByUserID(ctx, userID)
		if err != nil {
			return err
		}
		txs, err := tx.Rewards().ListTransactions(ctx, w.ID)
		for _, rt := range txs {
			types = append(types, rt.Type)
		}
		return err
	}))
	return types
}

func (e *testEnv) transactionFor(t *testing.T, paymentIntentID string) *payment.Transaction {
	t.Helper()
	var pt *payment.Transaction
	require.NoError(t, e.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		pt, err = tx.Payments().FindByExternalID(ctx, paymentIntentID)
		return err
	}))
	return pt
}

func (e *testEnv) adjust(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := e.handler.AdjustPoints(context.Background(), AdjustPoints{UserID: userID, Amount: dec(amount), Reason: "welcome bonus"})
	require.NoError(t, err)
}

// ============================================
// Create Order Tests
// ============================================

func TestHandler_CreateOrder_Success(t *testing.T) {
	env := newTestHandler()
	env.setBasket("basket-user-1", senchaLine(2))

	res := env.createOrder(t, "user-1", false)

	assert.True(t, res.TotalAmount.Equal(dec(200)))
	assert.Equal(t, "USD", res.Currency)
	assert.Equal(t, order.StatusPending, res.Status)
	assert.NotEmpty(t, res.PaymentIntentID)
	assert.NotEmpty(t, res.ClientSecret)
	assert.Equal(t, 8, env.store.Stock("prod-1"))

	o := env.order(t, res.OrderID)
	require.Len(t, o.Items, 1)
	assert.NoError(t, o.CheckInvariants())
	assert.Equal(t, res.PaymentIntentID, o.PaymentIntentID)

	require.Len(t, env.gateway.IntentCalls, 1)
	assert.True(t, env.gateway.IntentCalls[0].Amount.Equal(dec(200)))
	assert.Equal(t, []string{order.EventOrderPlaced}, env.publisher.EventTypes())
}

func TestHandler_CreateOrder_InsufficientStock(t *testing.T) {
	env := newTestHandler()
	env.setBasket("basket-user-1", cart.Item{PriceEntryID: "price-matcha", ProductID: "prod-2", Name: "Matcha", Price: dec(40), Currency: "USD", Quantity: 5})

	_, err := env.handler.CreateOrder(context.Background(), CreateOrder{
		UserID: "user-1", BasketID: "basket-user-1", ShippingAddress: testAddress, Currency: "USD",
	})

	assert.ErrorIs(t, err, catalog.ErrInsufficientStock)
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
	assert.Equal(t, 1, env.store.Stock("prod-2"))
	assert.Equal(t, 0, env.store.OrderCount())
	assert.Empty(t, env.gateway.IntentCalls)
	assert.Empty(t, env.publisher.PublishCalls)
}

func TestHandler_CreateOrder_OneLineShortRollsBackOthers(t *testing.T) {
	env := newTestHandler()
	env.setBasket("basket-user-1",
		senchaLine(3),
		cart.Item{PriceEntryID: "price-matcha", ProductID: "prod-2", Name: "Matcha", Price: dec(40), Currency: "USD", Quantity: 2},
	)

	_, err := env.handler.CreateOrder(context.Background(), CreateOrder{
		UserID: "user-1", BasketID: "basket-user-1", ShippingAddress: testAddress, Currency: "USD",
	})

	assert.True(t, apperr.IsKind(err, apperr.KindInsufficientStock))
	assert.Equal(t, 10, env.store.Stock("prod-1"))
	assert.Equal(t, 1, env.store.Stock("prod-2"))
	assert.Equal(t, 0, env.store.OrderCount())
}

func TestHandler_CreateOrder_CurrencyMismatch(t *testing.T) {
	env := newTestHandler()
	env.setBasket("basket-user-1", senchaLine(1))

	_, err := env.handler.CreateOrder(context.Background(), CreateOrder{
		UserID: "user-1", BasketID: "basket-user-1", ShippingAddress: testAddress, Currency: "EUR",
	})

	assert.ErrorIs(t, err, cart.ErrCurrencyMismatch)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 10, env.store.Stock("prod-1"))
	assert.Equal(t, 0, env.store.OrderCount())
}

func TestHandler_CreateOrder_BasketNotFound(t *testing.T) {
	env := newTestHandler()

	_, err := env.handler.CreateOrder(context.Background(), CreateOrder{
		UserID: "user-1", BasketID: "missing", ShippingAddress: testAddress, Currency: "USD",
	})

	assert.ErrorIs(t, err, cart.ErrBasketNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestHandler_CreateOrder_EmptyBasket(t *testing.T) {
	env := newTestHandler()
	env.setBasket("basket-user-1")

	_, err := env.handler.CreateOrder(context.Background(), CreateOrder{
		UserID: "user-1", BasketID: "basket-user-1", ShippingAddress: testAddress, Currency: "USD",
	})

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestHandler_CreateOrder_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		cmd  CreateOrder
	}{
		{"missing user", CreateOrder{BasketID: "b", ShippingAddress: testAddress, Currency: "USD"}},
		{"bad currency", CreateOrder{UserID: "u", BasketID: "b", ShippingAddress: testAddress, Currency: "dollars"}},
		{"incomplete address", CreateOrder{UserID: "u", BasketID: "b", Currency: "USD"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestHandler()
			_, err := env.handler.CreateOrder(context.Background(), tt.cmd)
			assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
		})
	}
}

func TestHandler_CreateOrder_GatewayFailureRollsBack(t *testing.T) {
	env := newTestHandler()
	env.adjust(t, "user-1", 30)
	env.setBasket("basket-user-1", senchaLine(2))
	env.gateway.IntentErr = errors.New("gateway unavailable")

	_, err := env.handler.CreateOrder(context.Background(), CreateOrder{
		UserID: "user-1", BasketID: "basket-user-1", ShippingAddress: testAddress, Currency: "USD", UsePoints: true,
	})

	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Equal(t, 10, env.store.Stock("prod-1"))
	assert.Equal(t, 0, env.store.OrderCount())
	assert.True(t, env.balance(t, "user-1").Equal(dec(30)))
}

func TestHandler_CreateOrder_RedeemsPointsUpToSubtotal(t *testing.T) {
	env := newTestHandler()
	env.adjust(t, "user-1", 30)
	env.setBasket("basket-user-1", senchaLine(2))

	res := env.createOrder(t, "user-1", true)

	assert.True(t, res.PointsRedeemed.Equal(dec(30)))
	assert.True(t, res.TotalAmount.Equal(dec(170)))
	assert.True(t, env.balance(t, "user-1").IsZero())
	assert.Equal(t, []reward.TransactionType{reward.TypeAdminAdjust, reward.TypeRedeem}, env.rewardTypes(t, "user-1"))
}

func TestHandler_CreateOrder_RedemptionCappedAtSubtotal(t *testing.T) {
	env := newTestHandler()
	env.adjust(t, "user-1", 500)
	env.setBasket("basket-user-1", senchaLine(1))

	res := env.createOrder(t, "user-1", true)

	// Fully covered by points: nothing to charge and the order is settled.
	assert.True(t, res.PointsRedeemed.Equal(dec(100)))
	assert.True(t, res.TotalAmount.IsZero())
	assert.Equal(t, order.StatusPaid, res.Status)
	assert.Empty(t, env.gateway.IntentCalls)
	assert.True(t, env.balance(t, "user-1").Equal(dec(400)))
	assert.Equal(t, []string{order.EventOrderPlaced, order.EventOrderPaid}, env.publisher.EventTypes())
}

func TestHandler_CreateOrder_AddsShippingCost(t *testing.T) {
	rates := shipping.NewFlatRates(decimal.Zero)
	rates.Set("US", "USD", dec(7))
	env := newTestHandler()
	env.handler.shipping = rates
	env.setBasket("basket-user-1", senchaLine(1))

	res := env.createOrder(t, "user-1", false)

	assert.True(t, res.ShippingCost.Equal(dec(7)))
	assert.True(t, res.TotalAmount.Equal(dec(107)))
	assert.NoError(t, env.order(t, res.OrderID).CheckInvariants())
}

func TestHandler_CreateOrder_RetryWithSameIntentReturnsExisting(t *testing.T) {
	env := newTestHandler()
	env.setBasket("basket-user-1", senchaLine(2))
	cmd := CreateOrder{
		UserID: "user-1", BasketID: "basket-user-1", ShippingAddress: testAddress,
		Currency: "USD", PaymentIntentID: "pi_basket",
	}

	first, err := env.handler.CreateOrder(context.Background(), cmd)
	require.NoError(t, err)
	second, err := env.handler.CreateOrder(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.True(t, second.Replayed)
	assert.Equal(t, "pi_basket", second.PaymentIntentID)
	assert.Equal(t, 8, env.store.Stock("prod-1"))
	assert.Equal(t, 1, env.store.OrderCount())
	assert.Len(t, env.gateway.IntentCalls, 1)
}

func TestHandler_CreateOrder_PublishFailureDoesNotFail(t *testing.T) {
	env := newTestHandler()
	env.setBasket("basket-user-1", senchaLine(1))
	env.publisher.PublishErr = errors.New("broker down")

	res := env.createOrder(t, "user-1", false)

	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, 1, env.store.OrderCount())
	assert.Len(t, env.publisher.PublishCalls, 1)
}

// ============================================
// Payment Success Tests
// ============================================

func TestHandler_ProcessPaymentSuccess_EarnsOnce(t *testing.T) {
	env := newTestHandler()
	env.setBasket("basket-user-1", senchaLine(1))
	res := env.createOrder(t, "user-1", false)
	ctx := context.Background()

	require.NoError(t, env.handler.ProcessPaymentSuccess(ctx, res.PaymentIntentID))
	require.NoError(t, env.handler.ProcessPaymentSuccess(ctx, res.PaymentIntentID))

	o := env.order(t, res.OrderID)
	assert.Equal(t, order.StatusPaid, o.Status)
	assert.True(t, o.PointsEarned.Equal(dec(5)))
	assert.True(t, env.balance(t, "user-1").Equal(dec(5)))
	assert.Equal(t, []reward.TransactionType{reward.TypeEarn}, env.rewardTypes(t, "user-1"))
	assert.Equal(t, payment.StatusSucceeded, env.transactionFor(t, res.PaymentIntentID).Status)
	assert.Equal(t, []string{order.EventOrderPlaced, order.EventOrderPaid}, env.publisher.EventTypes())
}

func TestHandler_ProcessPaymentSuccess_ConfiguredRate(t *testing.T) {
	env := newTestHandler(WithRewardRate(decimal.RequireFromString("0.1")))
	env.setBasket("basket-user-1", senchaLine(2))
	res := env.createOrder(t, "user-1", false)

	require.NoError(t, env.handler.ProcessPaymentSuccess(context.Background(), res.PaymentIntentID))

	assert.True(t, env.balance(t, "user-1").Equal(dec(20)))
}

func TestHandler_ProcessPaymentSuccess_UnknownIntent(t *testing.T) {
	env := newTestHandler()

	err := env.handler.ProcessPaymentSuccess(context.Background(), "pi_unknown")

	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestHandler_ProcessPaymentSuccess_CancelledOrderIsNoOp(t *testing.T) {
	env := newTestHandler()
	env.setBasket("basket-user-1", senchaLine(1))
	res := env.createOrder(t, "user-1", false)
	_, err := env.handler.CancelOrder(context.Background(), CancelOrder{OrderID: res.OrderID, Reason: "changed mind"})
	require.NoError(t, err)

	require.NoError(t, env.handler.ProcessPaymentSuccess(context.Background(), res.PaymentIntentID))

	assert.Equal(t, order.StatusCancelled, env.order(t, res.OrderID).Status)
	assert.True(t, env.balance(t, "user-1").IsZero())
}

// racingUoW lets a competing delivery commit first and then reports the
// loser's version conflict once.
type racingUoW struct {
	store.UnitOfWork
	race func()
	done bool
}

func (r *racingUoW) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if !r.done {
		r.done = true
		r.race()
		return apperr.ConcurrencyConflict("order modified concurrently")
	}
	return r.UnitOfWork.WithinTx(ctx, fn)
}

func TestHandler_ProcessPaymentSuccess_ConcurrentDeliveryCreditsOnce(t *testing.T) {
	env := newTestHandler()
	env.setBasket("basket-user-1", senchaLine(1))
	res := env.createOrder(t, "user-1", false)
	ctx := context.Background()

	uow := &racingUoW{UnitOfWork: env.store, race: func() {
		require.NoError(t, env.handler.ProcessPaymentSuccess(ctx, res.PaymentIntentID))
	}}
	loser := NewHandler(uow, env.baskets, env.gateway, nil, env.publisher)

	require.NoError(t, loser.ProcessPaymentSuccess(ctx, res.PaymentIntentID))

	assert.True(t, uow.done)
	assert.True(t, env.balance(t, "user-1").Equal(dec(5)))
	assert.Equal(t, []reward.TransactionType{reward.TypeEarn}, env.rewardTypes(t, "user-1"))
}

func TestHandler_ProcessPaymentSuccess_GivesUpAfterRepeatedConflicts(t *testing.T) {
	env := newTestHandler()
	conflicts := 0
	uow := uowFunc(func(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
		conflicts++
		return apperr.ConcurrencyConflict("busy")
	})
	h := NewHandler(uow, env.baskets, env.gateway, nil, env.publisher)

	err := h.ProcessPaymentSuccess(context.Background(), "pi_1")

	assert.True(t, apperr.IsKind(err, apperr.KindConcurrencyConflict))
	assert.Equal(t, maxAttempts, conflicts)
}

type uowFunc func(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error

func (f uowFunc) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return f(ctx, fn)
}

// ============================================
// Payment Failure Tests
// ============================================

func TestHandler_ProcessPaymentFailure_ThenSuccess(t *testing.T) {
	env := newTestHandler()
	env.setBasket("basket-user-1", senchaLine(1))
	res := env.createOrder(t, "user-1", false)
	ctx := context.Background()

	require.NoError(t, env.handler.ProcessPaymentFailure(ctx, res.PaymentIntentID))
	require.NoError(t, env.handler.ProcessPaymentFailure(ctx, res.PaymentIntentID))

	assert.Equal(t, order.StatusPending, env.order(t, res.OrderID).Status)
	assert.Equal(t, payment.StatusFailed, env.transactionFor(t, res.PaymentIntentID).Status)

	require.NoError(t, env.handler.ProcessPaymentSuccess(ctx, res.PaymentIntentID))

	assert.Equal(t, order.StatusPaid, env.order(t, res.OrderID).Status)
	assert.Equal(t, payment.StatusSucceeded, env.transactionFor(t, res.PaymentIntentID).Status)
	assert.True(t, env.balance(t, "user-1").Equal(dec(5)))
}

// duplicateInsertUoW makes the first payment insert fail the way the store
// does when a concurrent delivery already inserted the same intent, then
// commits that competing delivery once the losing transaction has rolled
// back.
type duplicateInsertUoW struct {
	store.UnitOfWork
	race   func()
	failed bool
}

func (u *duplicateInsertUoW) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	err := u.UnitOfWork.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, duplicateInsertTx{Tx: tx, uow: u})
	})
	if err != nil && u.failed && u.race != nil {
		race := u.race
		u.race = nil
		race()
	}
	return err
}

type duplicateInsertTx struct {
	store.Tx
	uow *duplicateInsertUoW
}

func (t duplicateInsertTx) Payments() store.PaymentRepository {
	return duplicatePayments{PaymentRepository: t.Tx.Payments(), uow: t.uow}
}

type duplicatePayments struct {
	store.PaymentRepository
	uow *duplicateInsertUoW
}

func (p duplicatePayments) Insert(ctx context.Context, t *payment.Transaction) error {
	if !p.uow.failed {
		p.uow.failed = true
		return apperr.ConcurrencyConflict("payment transaction for %s was inserted concurrently", t.ExternalID)
	}
	return p.PaymentRepository.Insert(ctx, t)
}

func TestHandler_DuplicateConcurrentWebhookIsNoOp(t *testing.T) {
	tests := []struct {
		name       string
		deliver    func(h *Handler, ctx context.Context, intentID string) error
		wantStatus payment.Status
		wantOrder  order.Status
		wantPoints int64
	}{
		{
			name:       "success",
			deliver:    (*Handler).ProcessPaymentSuccess,
			wantStatus: payment.StatusSucceeded,
			wantOrder:  order.StatusPaid,
			wantPoints: 5,
		},
		{
			name:       "failure",
			deliver:    (*Handler).ProcessPaymentFailure,
			wantStatus: payment.StatusFailed,
			wantOrder:  order.StatusPending,
			wantPoints: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestHandler()
			env.setBasket("basket-user-1", senchaLine(1))
			res := env.createOrder(t, "user-1", false)
			ctx := context.Background()

			uow := &duplicateInsertUoW{UnitOfWork: env.store, race: func() {
				require.NoError(t, tt.deliver(env.handler, ctx, res.PaymentIntentID))
			}}
			loser := NewHandler(uow, env.baskets, env.gateway, nil, env.publisher)

			require.NoError(t, tt.deliver(loser, ctx, res.PaymentIntentID))

			assert.True(t, uow.failed)
			assert.Nil(t, uow.race)
			assert.Equal(t, tt.wantStatus, env.transactionFor(t, res.PaymentIntentID).Status)
			assert.Equal(t, tt.wantOrder, env.order(t, res.OrderID).Status)
			assert.True(t, env.balance(t, "user-1").Equal(dec(tt.wantPoints)))
		})
	}
}

// ============================================
// Refund Tests
// ============================================

func TestHandler_RefundPayment_ReversesEverything(t *testing.T) {
	env := newTestHandler()
	ctx := context.Background()
	env.adjust(t, "user-1", 30)
	env.setBasket("basket-user-1", senchaLine(2))
	res := env.createOrder(t, "user-1", true)
	require.NoError(t, env.handler.ProcessPaymentSuccess(ctx, res.PaymentIntentID))
	require.True(t, env.balance(t, "user-1").Equal(decimal.RequireFromString("8.5")))
	ptx := env.transactionFor(t, res.PaymentIntentID)

	result, err := env.handler.RefundPayment(ctx, RefundPayment{TransactionID: ptx.ID, Amount: dec(170)})
	require.NoError(t, err)

	assert.NotEmpty(t, result.RefundID)
	assert.True(t, result.Amount.Equal(dec(170)))
	assert.Equal(t, res.OrderID, result.OrderID)

	o := env.order(t, res.OrderID)
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, 10, env.store.Stock("prod-1"))
	assert.True(t, env.balance(t, "user-1").Equal(dec(30)))
	assert.Equal(t, payment.StatusRefunded, env.transactionFor(t, res.PaymentIntentID).Status)
	assert.Contains(t, env.publisher.EventTypes(), order.EventOrderCancelled)
}

func TestHandler_RefundPayment_Idempotent(t *testing.T) {
	env := newTestHandler()
	ctx := context.Background()
	env.setBasket("basket-user-1", senchaLine(1))
	res := env.createOrder(t, "user-1", false)
	require.NoError(t, env.handler.ProcessPaymentSuccess(ctx, res.PaymentIntentID))
	ptx := env.transactionFor(t, res.PaymentIntentID)

	first, err := env.handler.RefundPayment(ctx, RefundPayment{TransactionID: ptx.ID, Amount: dec(100)})
	require.NoError(t, err)
	second, err := env.handler.RefundPayment(ctx, RefundPayment{TransactionID: ptx.ID, Amount: dec(100)})
	require.NoError(t, err)

	assert.Equal(t, first.RefundID, second.RefundID)
	assert.Len(t, env.gateway.RefundCalls, 1)
	assert.Equal(t, 1, env.gateway.RemoteRefunds())
	assert.Equal(t, 10, env.store.Stock("prod-1"))
	assert.True(t, env.balance(t, "user-1").IsZero())
}

func TestHandler_RefundPayment_ReplayReturnsStoredGatewayStatus(t *testing.T) {
	env := newTestHandler()
	ctx := context.Background()
	env.setBasket("basket-user-1", senchaLine(1))
	res := env.createOrder(t, "user-1", false)
	require.NoError(t, env.handler.ProcessPaymentSuccess(ctx, res.PaymentIntentID))
	ptx := env.transactionFor(t, res.PaymentIntentID)
	env.gateway.RefundStatus = "pending"

	first, err := env.handler.RefundPayment(ctx, RefundPayment{TransactionID: ptx.ID, Amount: dec(100)})
	require.NoError(t, err)
	env.gateway.RefundStatus = "succeeded"
	second, err := env.handler.RefundPayment(ctx, RefundPayment{TransactionID: ptx.ID, Amount: dec(100)})
	require.NoError(t, err)

	assert.Equal(t, "pending", first.Status)
	assert.Equal(t, first, second)
	assert.Equal(t, "pending", env.transactionFor(t, res.PaymentIntentID).RefundStatus)
	assert.Len(t, env.gateway.RefundCalls, 1)
}

func TestHandler_RefundPayment_GatewayFailureLeavesStateUntouched(t *testing.T) {
	env := newTestHandler()
	ctx := context.Background()
	env.setBasket("basket-user-1", senchaLine(1))
	res := env.createOrder(t, "user-1", false)
	require.NoError(t, env.handler.ProcessPaymentSuccess(ctx, res.PaymentIntentID))
	ptx := env.transactionFor(t, res.PaymentIntentID)
	env.gateway.RefundErr = errors.New("card network timeout")

	_, err := env.handler.RefundPayment(ctx, RefundPayment{TransactionID: ptx.ID, Amount: dec(100)})

	require.Error(t, err)
	assert.Equal(t, order.StatusPaid, env.order(t, res.OrderID).Status)
	assert.Equal(t, payment.StatusSucceeded, env.transactionFor(t, res.PaymentIntentID).Status)
	assert.Equal(t, 9, env.store.Stock("prod-1"))
	assert.True(t, env.balance(t, "user-1").Equal(dec(5)))
}

func TestHandler_RefundPayment_Rejections(t *testing.T) {
	env := newTestHandler()
	ctx := context.Background()
	env.setBasket("basket-user-1", senchaLine(1))
	res := env.createOrder(t, "user-1", false)
	require.NoError(t, env.handler.ProcessPaymentSuccess(ctx, res.PaymentIntentID))
	ptx := env.transactionFor(t, res.PaymentIntentID)

	_, err := env.handler.RefundPayment(ctx, RefundPayment{TransactionID: ptx.ID, Amount: dec(0)})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = env.handler.RefundPayment(ctx, RefundPayment{TransactionID: ptx.ID, Amount: dec(101)})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = env.handler.RefundPayment(ctx, RefundPayment{TransactionID: "missing", Amount: dec(1)})
	assert.ErrorIs(t, err, payment.ErrTransactionNotFound)

	_, err = env.handler.ShipOrder(ctx, res.OrderID)
	require.NoError(t, err)
	_, err = env.handler.RefundPayment(ctx, RefundPayment{TransactionID: ptx.ID, Amount: dec(100)})
	assert.ErrorIs(t, err, order.ErrOrderShipped)

	assert.Empty(t, env.gateway.RefundCalls)
}

// ============================================
// Admin Order Tests
// ============================================

func TestHandler_ShipAndDeliver(t *testing.T) {
	env := newTestHandler()
	ctx := context.Background()
	env.setBasket("basket-user-1", senchaLine(1))
	res := env.createOrder(t, "user-1", false)

	_, err := env.handler.ShipOrder(ctx, res.OrderID)
	assert.ErrorIs(t, err, order.ErrOrderNotPaid)
	_, err = env.handler.DeliverOrder(ctx, res.OrderID)
	assert.ErrorIs(t, err, order.ErrOrderNotShipped)

	require.NoError(t, env.handler.ProcessPaymentSuccess(ctx, res.PaymentIntentID))
	shipped, err := env.handler.ShipOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, shipped.Status)

	delivered, err := env.handler.DeliverOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, delivered.Status)
	assert.Equal(t, []string{
		order.EventOrderPlaced, order.EventOrderPaid, order.EventOrderShipped, order.EventOrderDelivered,
	}, env.publisher.EventTypes())
}

func TestHandler_CancelOrder_PendingRestoresStockAndPoints(t *testing.T) {
	env := newTestHandler()
	ctx := context.Background()
	env.adjust(t, "user-1", 30)
	env.setBasket("basket-user-1", senchaLine(2))
	res := env.createOrder(t, "user-1", true)
	require.Equal(t, 8, env.store.Stock("prod-1"))

	o, err := env.handler.CancelOrder(ctx, CancelOrder{OrderID: res.OrderID, UserID: "user-1", Reason: "changed mind"})
	require.NoError(t, err)

	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, 10, env.store.Stock("prod-1"))
	assert.True(t, env.balance(t, "user-1").Equal(dec(30)))

	_, err = env.handler.CancelOrder(ctx, CancelOrder{OrderID: res.OrderID, Reason: "again"})
	assert.ErrorIs(t, err, order.ErrOrderCancelled)
	assert.Equal(t, 10, env.store.Stock("prod-1"))
}

func TestHandler_CancelOrder_PaidWithPointsOnly(t *testing.T) {
	env := newTestHandler()
	ctx := context.Background()
	env.adjust(t, "user-1", 200)
	env.setBasket("basket-user-1", senchaLine(1))
	res := env.createOrder(t, "user-1", true)
	require.Equal(t, order.StatusPaid, res.Status)
	require.Empty(t, res.PaymentIntentID)
	require.True(t, env.balance(t, "user-1").Equal(dec(100)))
	require.Equal(t, 9, env.store.Stock("prod-1"))

	o, err := env.handler.CancelOrder(ctx, CancelOrder{OrderID: res.OrderID, UserID: "user-1", Reason: "changed mind"})
	require.NoError(t, err)

	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, 10, env.store.Stock("prod-1"))
	assert.True(t, env.balance(t, "user-1").Equal(dec(200)))
	assert.Empty(t, env.gateway.RefundCalls)
	assert.Equal(t, order.EventOrderCancelled, env.publisher.EventTypes()[len(env.publisher.EventTypes())-1])
}

func TestHandler_CancelOrder_Rejections(t *testing.T) {
	env := newTestHandler()
	ctx := context.Background()
	env.setBasket("basket-user-1", senchaLine(1))
	res := env.createOrder(t, "user-1", false)

	_, err := env.handler.CancelOrder(ctx, CancelOrder{OrderID: res.OrderID, UserID: "someone-else"})
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	require.NoError(t, env.handler.ProcessPaymentSuccess(ctx, res.PaymentIntentID))
	_, err = env.handler.CancelOrder(ctx, CancelOrder{OrderID: res.OrderID})
	assert.Equal(t, apperr.KindInvalidStateTransition, apperr.KindOf(err))
	assert.Equal(t, order.StatusPaid, env.order(t, res.OrderID).Status)
}

// ============================================
// Reward Tests
// ============================================

func TestHandler_AdjustPoints_FlagsNegativeBalance(t *testing.T) {
	env := newTestHandler()
	ctx := context.Background()
	env.adjust(t, "user-1", 10)

	res, err := env.handler.AdjustPoints(ctx, AdjustPoints{UserID: "user-1", Amount: dec(-25), Reason: "chargeback"})
	require.NoError(t, err)

	assert.True(t, res.NegativeBalance)
	assert.True(t, res.Wallet.Balance.Equal(dec(-15)))
	assert.True(t, env.balance(t, "user-1").Equal(dec(-15)))
}

func TestHandler_AdjustPoints_ReasonRequired(t *testing.T) {
	env := newTestHandler()

	_, err := env.handler.AdjustPoints(context.Background(), AdjustPoints{UserID: "user-1", Amount: dec(5)})

	assert.ErrorIs(t, err, reward.ErrReasonRequired)
}

// ============================================
// Basket Tests
// ============================================

func TestHandler_AddBasketItem(t *testing.T) {
	env := newTestHandler()
	ctx := context.Background()

	c, err := env.handler.AddBasketItem(ctx, AddBasketItem{BasketID: "b-1", PriceEntryID: "price-usd", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, "USD", c.Currency.String())
	require.Len(t, c.Items, 1)
	assert.Equal(t, "Sencha", c.Items[0].Name)

	_, err = env.handler.AddBasketItem(ctx, AddBasketItem{BasketID: "b-1", PriceEntryID: "price-eur", Quantity: 1})
	assert.ErrorIs(t, err, cart.ErrCurrencyMismatch)

	_, err = env.handler.AddBasketItem(ctx, AddBasketItem{BasketID: "b-1", PriceEntryID: "nope", Quantity: 1})
	assert.ErrorIs(t, err, catalog.ErrPriceEntryNotFound)
}

func TestHandler_ChangeBasketCurrency_Clears(t *testing.T) {
	env := newTestHandler()
	ctx := context.Background()
	_, err := env.handler.AddBasketItem(ctx, AddBasketItem{BasketID: "b-1", PriceEntryID: "price-usd", Quantity: 2})
	require.NoError(t, err)

	c, err := env.handler.ChangeBasketCurrency(ctx, ChangeBasketCurrency{BasketID: "b-1", Currency: "eur"})
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, "EUR", c.Currency.String())

	c, err = env.handler.AddBasketItem(ctx, AddBasketItem{BasketID: "b-1", PriceEntryID: "price-eur", Quantity: 1})
	require.NoError(t, err)
	assert.True(t, cart.IsCartCurrencyConsistent(c))
}
