package cart

import (
	"testing"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usdEntry(id string, price int64) catalog.PriceEntry {
	return catalog.PriceEntry{ID: id, ProductID: "prod-" + id, Weight: "500g", Price: decimal.NewFromInt(price), Currency: "USD"}
}

func eurEntry(id string, price int64) catalog.PriceEntry {
	return catalog.PriceEntry{ID: id, ProductID: "prod-" + id, Weight: "500g", Price: decimal.NewFromInt(price), Currency: "EUR"}
}

// ============================================
// AddItem Tests
// ============================================

func TestCart_AddItem_AdoptsCurrency(t *testing.T) {
	c := New("basket-1")

	require.NoError(t, c.AddItem(usdEntry("pp-1", 100), "Coffee", "", 2))

	assert.Equal(t, "USD", c.Currency.String())
	require.Len(t, c.Items, 1)
	assert.Equal(t, 2, c.Items[0].Quantity)
	assert.Equal(t, "prod-pp-1", c.Items[0].ProductID)
}

func TestCart_AddItem_MergesSameEntry(t *testing.T) {
	c := New("basket-1")

	require.NoError(t, c.AddItem(usdEntry("pp-1", 100), "Coffee", "", 2))
	require.NoError(t, c.AddItem(usdEntry("pp-1", 100), "Coffee", "", 3))

	require.Len(t, c.Items, 1)
	assert.Equal(t, 5, c.Items[0].Quantity)
}

func TestCart_AddItem_RejectsOtherCurrency(t *testing.T) {
	c := New("basket-1")
	require.NoError(t, c.AddItem(usdEntry("pp-1", 100), "Coffee", "", 1))

	err := c.AddItem(eurEntry("pp-2", 90), "Tea", "", 1)

	assert.ErrorIs(t, err, ErrCurrencyMismatch)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Len(t, c.Items, 1)
}

func TestCart_AddItem_InvalidInput(t *testing.T) {
	c := New("basket-1")

	assert.ErrorIs(t, c.AddItem(usdEntry("pp-1", 100), "Coffee", "", 0), ErrInvalidQuantity)
	assert.ErrorIs(t, c.AddItem(catalog.PriceEntry{}, "Coffee", "", 1), ErrInvalidEntry)
	assert.True(t, c.IsEmpty())
}

func TestCart_RemoveItem_ResetsCurrencyWhenEmpty(t *testing.T) {
	c := New("basket-1")
	require.NoError(t, c.AddItem(usdEntry("pp-1", 100), "Coffee", "", 1))

	c.RemoveItem("pp-1")

	assert.True(t, c.IsEmpty())
	assert.Empty(t, c.Currency)
}

func TestCart_Subtotal(t *testing.T) {
	c := New("basket-1")
	require.NoError(t, c.AddItem(usdEntry("pp-1", 100), "Coffee", "", 2))
	require.NoError(t, c.AddItem(usdEntry("pp-2", 15), "Mug", "", 3))

	assert.True(t, decimal.NewFromInt(245).Equal(c.Subtotal()))
}

// ============================================
// Currency Consistency Tests
// ============================================

func TestValidateAddToCart_EmptyCartAcceptsAnything(t *testing.T) {
	assert.NoError(t, ValidateAddToCart(New("b"), eurEntry("pp-1", 1)))
}

func TestIsCartCurrencyConsistent(t *testing.T) {
	c := New("basket-1")
	assert.True(t, IsCartCurrencyConsistent(c))

	require.NoError(t, c.AddItem(usdEntry("pp-1", 100), "Coffee", "", 1))
	assert.True(t, IsCartCurrencyConsistent(c))

	c.Items = append(c.Items, Item{PriceEntryID: "pp-2", Currency: "EUR", Quantity: 1})
	assert.False(t, IsCartCurrencyConsistent(c))
}

func TestClearCartForCurrencyChange(t *testing.T) {
	c := New("basket-1")
	require.NoError(t, c.AddItem(usdEntry("pp-1", 100), "Coffee", "", 1))

	ClearCartForCurrencyChange(c, "EUR")

	assert.True(t, c.IsEmpty())
	assert.Equal(t, "EUR", c.Currency.String())
	assert.NoError(t, c.AddItem(eurEntry("pp-2", 90), "Tea", "", 1))
}

func TestValidateForCheckout(t *testing.T) {
	full := New("basket-1")
	require.NoError(t, full.AddItem(usdEntry("pp-1", 100), "Coffee", "", 2))

	mixed := New("basket-2")
	mixed.Currency = "USD"
	mixed.Items = []Item{{PriceEntryID: "a", Currency: "USD", Quantity: 1}, {PriceEntryID: "b", Currency: "EUR", Quantity: 1}}

	tests := []struct {
		name     string
		cart     *Cart
		currency string
		wantKind apperr.Kind
	}{
		{"ok", full, "USD", ""},
		{"nil basket", nil, "USD", apperr.KindNotFound},
		{"empty basket", New("b"), "USD", apperr.KindNotFound},
		{"requested other currency", full, "EUR", apperr.KindConflict},
		{"mixed items", mixed, "USD", apperr.KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateForCheckout(tt.cart, moneyOf(tt.currency))
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
		})
	}
}

func moneyOf(code string) money.Currency { return money.Currency(code) }
