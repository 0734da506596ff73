package command

import (
	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/example/ec-storefront/internal/domain/reward"
	"github.com/shopspring/decimal"
)

// Order Commands
type CreateOrder struct {
	UserID          string                `json:"user_id"`
	Email           string                `json:"email"`
	BasketID        string                `json:"basket_id"`
	ShippingAddress order.ShippingAddress `json:"shipping_address"`
	Currency        string                `json:"currency"`
	PaymentIntentID string                `json:"payment_intent_id,omitempty"`
	UsePoints       bool                  `json:"use_points"`
	LanguageCode    string                `json:"language_code,omitempty"`
}

// OrderCreated is the result of CreateOrder. ClientSecret is empty when a
// retried request returns an order that already exists.
type OrderCreated struct {
	OrderID         string          `json:"order_id"`
	Status          order.Status    `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        string          `json:"currency"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	PointsRedeemed  decimal.Decimal `json:"points_redeemed"`
	ClientSecret    string          `json:"client_secret,omitempty"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	Replayed        bool            `json:"replayed,omitempty"`
}

// CancelOrder cancels a Pending order. UserID, when set, must own the order.
type CancelOrder struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id,omitempty"`
	Reason  string `json:"reason"`
}

// Payment Commands
type RefundPayment struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// Reward Commands
type AdjustPoints struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type PointsAdjusted struct {
	Wallet          *reward.Wallet `json:"wallet"`
	NegativeBalance bool           `json:"negative_balance"`
}

// Basket Commands
type AddBasketItem struct {
	BasketID     string `json:"basket_id"`
	PriceEntryID string `json:"price_entry_id"`
	Quantity     int    `json:"quantity"`
	ImageURL     string `json:"image_url,omitempty"`
}

type RemoveBasketItem struct {
	BasketID     string `json:"basket_id"`
	PriceEntryID string `json:"price_entry_id"`
}

type ChangeBasketCurrency struct {
	BasketID string `json:"basket_id"`
	Currency string `json:"currency"`
}
