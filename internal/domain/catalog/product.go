package catalog

import (
	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/money"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound    = apperr.New(apperr.KindNotFound, "product not found")
	ErrPriceEntryNotFound = apperr.New(apperr.KindNotFound, "price entry not found")
	ErrInsufficientStock  = apperr.New(apperr.KindInsufficientStock, "insufficient stock")
	ErrInvalidQuantity    = apperr.New(apperr.KindBadRequest, "quantity must be positive")
)

// Product is the stock-keeping side of a catalog entry. Stock is the only
// field the order flow writes.
type Product struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

// PriceEntry prices one product at one weight in one currency.
type PriceEntry struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Weight    string          `json:"weight"`
	Price     decimal.Decimal `json:"price"`
	Currency  money.Currency  `json:"currency"`
}

// Take removes quantity units from stock.
func (p *Product) Take(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if p.Stock < quantity {
		return ErrInsufficientStock
	}
	p.Stock -= quantity
	return nil
}

// Restore puts quantity units back.
func (p *Product) Restore(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	p.Stock += quantity
	return nil
}
