package query

import (
	"context"
	"errors"

	"github.com/example/ec-storefront/internal/domain/cart"
	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/example/ec-storefront/internal/domain/reward"
	"github.com/example/ec-storefront/internal/infrastructure/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Handler struct {
	uow     store.UnitOfWork
	baskets cart.Store
	logger  *zap.Logger
}

func NewHandler(uow store.UnitOfWork, baskets cart.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{uow: uow, baskets: baskets, logger: logger}
}

// Orders
func (h *Handler) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	var o *order.Order
	err := h.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		o, err = tx.Orders().Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrdersByUser returns the user's orders, newest first.
func (h *Handler) ListOrdersByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	var orders []*order.Order
	err := h.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		orders, err = tx.Orders().ListByUser(ctx, userID)
		return err
	})
	if err != nil {
		h.logger.Error("list orders", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	if orders == nil {
		orders = []*order.Order{}
	}
	return orders, nil
}

// Rewards
func (h *Handler) GetWallet(ctx context.Context, userID string) (*WalletView, error) {
	view := &WalletView{UserID: userID, Balance: decimal.Zero, Transactions: []reward.Transaction{}}
	err := h.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, err := tx.Rewards().FindWalletByUserID(ctx, userID)
		if errors.Is(err, reward.ErrWalletNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		txs, err := tx.Rewards().ListTransactions(ctx, w.ID)
		if err != nil {
			return err
		}
		view.WalletID = w.ID
		view.Balance = w.Balance
		view.Negative = w.Balance.IsNegative()
		if txs != nil {
			view.Transactions = txs
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Baskets
func (h *Handler) GetBasket(ctx context.Context, basketID string) (*cart.Cart, error) {
	c, err := h.baskets.GetBasket(ctx, basketID)
	if errors.Is(err, cart.ErrBasketNotFound) {
		// Return empty basket
		return cart.New(basketID), nil
	}
	return c, err
}
