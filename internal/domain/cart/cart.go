package cart

import (
	"context"
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/money"
	"github.com/shopspring/decimal"
)

var (
	ErrBasketNotFound  = apperr.New(apperr.KindNotFound, "basket not found")
	ErrEmptyBasket     = apperr.New(apperr.KindNotFound, "basket is empty")
	ErrInvalidQuantity = apperr.New(apperr.KindBadRequest, "quantity must be positive")
	ErrInvalidEntry    = apperr.New(apperr.KindBadRequest, "price_entry_id is required")
)

// Item is one priced line of a basket. Price is the snapshot taken when the
// item was added.
type Item struct {
	PriceEntryID string          `json:"price_entry_id"`
	ProductID    string          `json:"product_id"`
	Name         string          `json:"name"`
	Weight       string          `json:"weight,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Currency     money.Currency  `json:"currency"`
	Quantity     int             `json:"quantity"`
	ImageURL     string          `json:"image_url,omitempty"`
}

// Cart is the basket snapshot a buyer checks out from.
type Cart struct {
	ID        string         `json:"id"`
	Currency  money.Currency `json:"currency,omitempty"`
	Items     []Item         `json:"items"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// New returns an empty basket.
func New(id string) *Cart {
	return &Cart{ID: id, Items: []Item{}}
}

func (c *Cart) IsEmpty() bool { return len(c.Items) == 0 }

// Subtotal sums price × quantity over every line.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// AddItem adds quantity units of entry, merging with an existing line for the
// same entry. The basket adopts the entry's currency when it is empty.
func (c *Cart) AddItem(entry catalog.PriceEntry, name, imageURL string, quantity int) error {
	if entry.ID == "" {
		return ErrInvalidEntry
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if err := ValidateAddToCart(c, entry); err != nil {
		return err
	}

	if c.IsEmpty() {
		c.Currency = entry.Currency
	}
	c.UpdatedAt = time.Now()

	for i, it := range c.Items {
		if it.PriceEntryID == entry.ID {
			c.Items[i].Quantity += quantity
			c.Items[i].Price = entry.Price
			return nil
		}
	}
	c.Items = append(c.Items, Item{
		PriceEntryID: entry.ID,
		ProductID:    entry.ProductID,
		Name:         name,
		Weight:       entry.Weight,
		Price:        entry.Price,
		Currency:     entry.Currency,
		Quantity:     quantity,
		ImageURL:     imageURL,
	})
	return nil
}

// RemoveItem drops the line for priceEntryID, if any.
func (c *Cart) RemoveItem(priceEntryID string) {
	kept := c.Items[:0]
	for _, it := range c.Items {
		if it.PriceEntryID != priceEntryID {
			kept = append(kept, it)
		}
	}
	c.Items = kept
	if c.IsEmpty() {
		c.Currency = ""
	}
	c.UpdatedAt = time.Now()
}

// Store persists basket snapshots. GetBasket returns ErrBasketNotFound for an
// unknown id.
type Store interface {
	GetBasket(ctx context.Context, id string) (*Cart, error)
	SaveBasket(ctx context.Context, c *Cart) error
	DeleteBasket(ctx context.Context, id string) error
}
