package command

import (
	"context"
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/cart"
	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/example/ec-storefront/internal/domain/payment"
	"github.com/example/ec-storefront/internal/domain/reward"
	"github.com/example/ec-storefront/internal/domain/shipping"
	"github.com/example/ec-storefront/internal/events"
	"github.com/example/ec-storefront/internal/infrastructure/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxAttempts bounds how often a command is re-run after losing an
// optimistic version check.
const maxAttempts = 3

// DefaultRewardRate is the cashback share of a paid order's total.
var DefaultRewardRate = decimal.NewFromFloat(0.05)

type Handler struct {
	uow        store.UnitOfWork
	baskets    cart.Store
	gateway    payment.Gateway
	shipping   shipping.Quoter
	publisher  events.Publisher
	ledger     *reward.Ledger
	logger     *zap.Logger
	rewardRate decimal.Decimal
	now        func() time.Time
}

// Option customises a Handler.
type Option func(*Handler)

func WithRewardRate(rate decimal.Decimal) Option {
	return func(h *Handler) { h.rewardRate = rate }
}

func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func NewHandler(
	uow store.UnitOfWork,
	baskets cart.Store,
	gateway payment.Gateway,
	quoter shipping.Quoter,
	publisher events.Publisher,
	opts ...Option,
) *Handler {
	h := &Handler{
		uow:        uow,
		baskets:    baskets,
		gateway:    gateway,
		shipping:   quoter,
		publisher:  publisher,
		ledger:     reward.NewLedger(),
		logger:     zap.NewNop(),
		rewardRate: DefaultRewardRate,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.publisher == nil {
		h.publisher = events.Discard{}
	}
	if h.shipping == nil {
		h.shipping = shipping.NewFlatRates(decimal.Zero)
	}
	return h
}

// withRetry re-runs fn while it fails with a ConcurrencyConflict. Each
// attempt re-reads state, so the status guards see the winner's commit.
func (h *Handler) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if !apperr.IsKind(err, apperr.KindConcurrencyConflict) {
			return err
		}
		h.logger.Info("retrying after concurrent update",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

// publish sends an order event after commit. Delivery failures are logged and
// never undo the committed change.
func (h *Handler) publish(ctx context.Context, o *order.Order, eventType string, payload any) {
	evt, err := events.New(o.ID, order.AggregateType, eventType, o.Version, payload)
	if err != nil {
		h.logger.Error("encode event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := h.publisher.Publish(ctx, o.ID, evt); err != nil {
		h.logger.Warn("publish event failed",
			zap.String("event_type", eventType),
			zap.String("order_id", o.ID),
			zap.Error(err))
	}
}

// savePosting persists a ledger posting and warns when it leaves the wallet
// below zero.
func (h *Handler) savePosting(ctx context.Context, repo reward.Repository, p *reward.Posting, op string) error {
	if p.Empty() {
		return nil
	}
	if err := repo.SavePosting(ctx, p); err != nil {
		return err
	}
	if p.NegativeBalance {
		h.logger.Warn("reward wallet balance is negative",
			zap.String("op", op),
			zap.String("user_id", p.Wallet.UserID),
			zap.String("balance", p.Wallet.Balance.String()))
	}
	return nil
}

// restoreStock puts every line of o back into stock.
func restoreStock(ctx context.Context, tx store.Tx, o *order.Order) error {
	for _, it := range o.Items {
		if err := tx.Catalog().RestoreStock(ctx, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}
