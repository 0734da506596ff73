package command

import (
	"context"
	"errors"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/cart"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/infrastructure/store"
	"github.com/example/ec-storefront/internal/money"
)

// loadOrNewBasket returns the stored basket or an empty one.
func (h *Handler) loadOrNewBasket(ctx context.Context, id string) (*cart.Cart, error) {
	if id == "" {
		return nil, apperr.BadRequest("basket id is required")
	}
	c, err := h.baskets.GetBasket(ctx, id)
	if errors.Is(err, cart.ErrBasketNotFound) {
		return cart.New(id), nil
	}
	return c, err
}

// AddBasketItem adds a priced catalog entry to a basket, rejecting entries in
// a currency other than the basket's.
func (h *Handler) AddBasketItem(ctx context.Context, cmd AddBasketItem) (*cart.Cart, error) {
	var (
		entry   *catalog.PriceEntry
		product *catalog.Product
	)
	err := h.uow.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if entry, err = tx.Catalog().GetPriceEntry(ctx, cmd.PriceEntryID); err != nil {
			return err
		}
		product, err = tx.Catalog().GetProduct(ctx, entry.ProductID)
		return err
	})
	if err != nil {
		return nil, err
	}

	c, err := h.loadOrNewBasket(ctx, cmd.BasketID)
	if err != nil {
		return nil, err
	}
	if err := c.AddItem(*entry, product.Name, cmd.ImageURL, cmd.Quantity); err != nil {
		return nil, err
	}
	if err := h.baskets.SaveBasket(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (h *Handler) RemoveBasketItem(ctx context.Context, cmd RemoveBasketItem) (*cart.Cart, error) {
	c, err := h.baskets.GetBasket(ctx, cmd.BasketID)
	if err != nil {
		return nil, err
	}
	c.RemoveItem(cmd.PriceEntryID)
	if err := h.baskets.SaveBasket(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ChangeBasketCurrency switches the basket's currency. Items are dropped,
// never converted.
func (h *Handler) ChangeBasketCurrency(ctx context.Context, cmd ChangeBasketCurrency) (*cart.Cart, error) {
	currency, err := money.ParseCurrency(cmd.Currency)
	if err != nil {
		return nil, err
	}
	c, err := h.loadOrNewBasket(ctx, cmd.BasketID)
	if err != nil {
		return nil, err
	}
	if c.Currency == currency {
		return c, nil
	}
	cart.ClearCartForCurrencyChange(c, currency)
	if err := h.baskets.SaveBasket(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (h *Handler) DeleteBasket(ctx context.Context, basketID string) error {
	return h.baskets.DeleteBasket(ctx, basketID)
}
