package order

import (
	"fmt"
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const AggregateType = "Order"

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

var (
	ErrOrderNotFound    = apperr.New(apperr.KindNotFound, "order not found")
	ErrEmptyOrder       = apperr.New(apperr.KindBadRequest, "order must have at least one item")
	ErrInvalidStatus    = apperr.New(apperr.KindInvalidStateTransition, "invalid order status transition")
	ErrOrderAlreadyPaid = apperr.New(apperr.KindInvalidStateTransition, "order is already paid")
	ErrOrderNotPaid     = apperr.New(apperr.KindInvalidStateTransition, "order must be paid before shipping")
	ErrOrderNotShipped  = apperr.New(apperr.KindInvalidStateTransition, "order must be shipped before delivery")
	ErrOrderShipped     = apperr.New(apperr.KindInvalidStateTransition, "cannot cancel shipped or delivered order")
	ErrOrderCancelled   = apperr.New(apperr.KindInvalidStateTransition, "order is already cancelled")
	ErrItemCurrency     = apperr.New(apperr.KindConflict, "order item currency differs from order currency")
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusPaid, StatusCancelled},
	StatusPaid:      {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusDelivered},
	StatusDelivered: {}, // terminal state
	StatusCancelled: {}, // terminal state
}

// Audited is implemented by every persisted record that tracks timestamps.
type Audited interface {
	Created() time.Time
	Updated() time.Time
}

// Timestamps is embedded by records that implement Audited.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t Timestamps) Created() time.Time { return t.CreatedAt }
func (t Timestamps) Updated() time.Time { return t.UpdatedAt }

// Touch stamps UpdatedAt, and CreatedAt on first use.
func (t *Timestamps) Touch(now time.Time) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}

type ShippingAddress struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a ShippingAddress) Validate() error {
	if a.Name == "" || a.Line1 == "" || a.City == "" || a.PostalCode == "" {
		return apperr.BadRequest("shipping address is incomplete")
	}
	if len(a.Country) != 2 {
		return apperr.BadRequest("shipping country must be a two-letter code, got %q", a.Country)
	}
	return nil
}

// OrderItem is a price snapshot; it is never re-read from the catalog.
type OrderItem struct {
	ID           string          `json:"id"`
	PriceEntryID string          `json:"price_entry_id"`
	ProductID    string          `json:"product_id"`
	Name         string          `json:"name"`
	Weight       string          `json:"weight,omitempty"`
	ImageURL     string          `json:"image_url,omitempty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	Currency     money.Currency  `json:"currency"`
}

// LineTotal is UnitPrice × Quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Email           string          `json:"email,omitempty"`
	Status          Status          `json:"status"`
	Items           []OrderItem     `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	PointsRedeemed  decimal.Decimal `json:"points_redeemed"`
	PointsEarned    decimal.Decimal `json:"points_earned"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        money.Currency  `json:"currency"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	LanguageCode    string          `json:"language_code,omitempty"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	ClientSecret    string          `json:"-"`
	Version         int64           `json:"version"` // optimistic concurrency token
	Timestamps
}

// Draft collects what is needed to price a new order.
type Draft struct {
	UserID          string
	Email           string
	Currency        money.Currency
	Items           []OrderItem
	ShippingCost    decimal.Decimal
	PointsRedeemed  decimal.Decimal
	ShippingAddress ShippingAddress
	LanguageCode    string
}

// SubtotalOf sums the line totals of items.
func SubtotalOf(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// New prices a Pending order from d. Item ids are assigned here.
func New(d Draft, now time.Time) (*Order, error) {
	if len(d.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	items := make([]OrderItem, len(d.Items))
	for i, it := range d.Items {
		if it.Quantity <= 0 {
			return nil, apperr.BadRequest("item %s has non-positive quantity %d", it.PriceEntryID, it.Quantity)
		}
		if it.Currency != d.Currency {
			return nil, apperr.Wrap(apperr.KindConflict, ErrItemCurrency,
				"item %s is priced in %s, order in %s", it.PriceEntryID, it.Currency, d.Currency)
		}
		it.ID = uuid.New().String()
		items[i] = it
	}

	subtotal := SubtotalOf(items)
	if d.PointsRedeemed.IsNegative() || d.PointsRedeemed.GreaterThan(subtotal) {
		return nil, apperr.BadRequest("points redeemed %s outside [0, %s]", d.PointsRedeemed, subtotal)
	}

	o := &Order{
		ID:              uuid.New().String(),
		UserID:          d.UserID,
		Email:           d.Email,
		Status:          StatusPending,
		Items:           items,
		Subtotal:        subtotal,
		ShippingCost:    d.ShippingCost,
		PointsRedeemed:  d.PointsRedeemed,
		PointsEarned:    decimal.Zero,
		TotalAmount:     subtotal.Add(d.ShippingCost).Sub(d.PointsRedeemed),
		Currency:        d.Currency,
		ShippingAddress: d.ShippingAddress,
		LanguageCode:    d.LanguageCode,
	}
	o.Touch(now)
	return o, nil
}

// CheckInvariants verifies the pricing and currency invariants.
func (o *Order) CheckInvariants() error {
	for _, it := range o.Items {
		if it.Currency != o.Currency {
			return ErrItemCurrency
		}
	}
	want := SubtotalOf(o.Items).Add(o.ShippingCost).Sub(o.PointsRedeemed)
	if !o.TotalAmount.Equal(want) {
		return fmt.Errorf("order %s total %s does not match items %s", o.ID, o.TotalAmount, want)
	}
	return nil
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[o.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// TransitionTo moves the order to target or explains why it cannot.
func (o *Order) TransitionTo(target Status, now time.Time) error {
	if !o.CanTransitionTo(target) {
		return o.transitionError(target)
	}
	o.Status = target
	o.Touch(now)
	return nil
}

// transitionError returns an appropriate error for an invalid transition
func (o *Order) transitionError(target Status) error {
	switch {
	case o.Status == StatusCancelled:
		return ErrOrderCancelled
	case (o.Status == StatusShipped || o.Status == StatusDelivered) && target == StatusCancelled:
		return ErrOrderShipped
	case o.Status != StatusPending && target == StatusPaid:
		return ErrOrderAlreadyPaid
	case o.Status == StatusPending && target == StatusShipped:
		return ErrOrderNotPaid
	case o.Status == target:
		return apperr.Wrap(apperr.KindInvalidStateTransition, ErrInvalidStatus, "order is already %s", o.Status)
	case target == StatusDelivered:
		return ErrOrderNotShipped
	default:
		return apperr.Wrap(apperr.KindInvalidStateTransition, ErrInvalidStatus,
			"cannot transition from %s to %s", o.Status, target)
	}
}
