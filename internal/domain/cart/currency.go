package cart

import (
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/money"
)

// ErrCurrencyMismatch is returned whenever two amounts that must share a
// currency do not. Amounts are never converted.
var ErrCurrencyMismatch = apperr.New(apperr.KindConflict, "currency mismatch")

// ValidateAddToCart rejects entry when the basket already holds items priced
// in another currency.
func ValidateAddToCart(c *Cart, entry catalog.PriceEntry) error {
	if c.IsEmpty() {
		return nil
	}
	if entry.Currency != c.Currency {
		return apperr.Wrap(apperr.KindConflict, ErrCurrencyMismatch,
			"basket is priced in %s, item in %s", c.Currency, entry.Currency)
	}
	return nil
}

// IsCartCurrencyConsistent is true iff every item shares one currency and, for
// a non-empty basket, that currency is the basket's.
func IsCartCurrencyConsistent(c *Cart) bool {
	for _, it := range c.Items {
		if it.Currency != c.Currency {
			return false
		}
	}
	return true
}

// ClearCartForCurrencyChange empties the basket and switches it to currency.
func ClearCartForCurrencyChange(c *Cart, currency money.Currency) {
	c.Items = []Item{}
	c.Currency = currency
	c.UpdatedAt = time.Now()
}

// ValidateForCheckout checks that the basket can be turned into an order
// priced in currency.
func ValidateForCheckout(c *Cart, currency money.Currency) error {
	if c == nil {
		return ErrBasketNotFound
	}
	if c.IsEmpty() {
		return ErrEmptyBasket
	}
	if !IsCartCurrencyConsistent(c) {
		return apperr.Wrap(apperr.KindConflict, ErrCurrencyMismatch, "basket %s mixes currencies", c.ID)
	}
	if c.Currency != currency {
		return apperr.Wrap(apperr.KindConflict, ErrCurrencyMismatch,
			"basket is priced in %s, order requested in %s", c.Currency, currency)
	}
	for _, it := range c.Items {
		if it.Quantity <= 0 {
			return ErrInvalidQuantity
		}
	}
	return nil
}
