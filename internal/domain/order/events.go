package order

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced    = "OrderPlaced"
	EventOrderPaid      = "OrderPaid"
	EventOrderShipped   = "OrderShipped"
	EventOrderDelivered = "OrderDelivered"
	EventOrderCancelled = "OrderCancelled"
)

type OrderPlaced struct {
	OrderID     string          `json:"order_id"`
	UserID      string          `json:"user_id"`
	Email       string          `json:"email"`
	Items       []OrderItem     `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	PlacedAt    time.Time       `json:"placed_at"`
}

type OrderPaid struct {
	OrderID      string          `json:"order_id"`
	UserID       string          `json:"user_id"`
	Email        string          `json:"email"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Currency     string          `json:"currency"`
	PointsEarned decimal.Decimal `json:"points_earned"`
	LanguageCode string          `json:"language_code,omitempty"`
	PaidAt       time.Time       `json:"paid_at"`
}

type OrderShipped struct {
	OrderID      string    `json:"order_id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	LanguageCode string    `json:"language_code,omitempty"`
	ShippedAt    time.Time `json:"shipped_at"`
}

type OrderDelivered struct {
	OrderID      string    `json:"order_id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	LanguageCode string    `json:"language_code,omitempty"`
	DeliveredAt  time.Time `json:"delivered_at"`
}

type OrderCancelled struct {
	OrderID        string          `json:"order_id"`
	UserID         string          `json:"user_id"`
	Email          string          `json:"email"`
	Reason         string          `json:"reason"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	Currency       string          `json:"currency"`
	LanguageCode   string          `json:"language_code,omitempty"`
	CancelledAt    time.Time       `json:"cancelled_at"`
}

// PlacedEvent builds the OrderPlaced payload for o.
func (o *Order) PlacedEvent() OrderPlaced {
	return OrderPlaced{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Email:       o.Email,
		Items:       o.Items,
		TotalAmount: o.TotalAmount,
		Currency:    o.Currency.String(),
		PlacedAt:    o.CreatedAt,
	}
}

func (o *Order) PaidEvent() OrderPaid {
	return OrderPaid{
		OrderID:      o.ID,
		UserID:       o.UserID,
		Email:        o.Email,
		TotalAmount:  o.TotalAmount,
		Currency:     o.Currency.String(),
		PointsEarned: o.PointsEarned,
		LanguageCode: o.LanguageCode,
		PaidAt:       o.UpdatedAt,
	}
}

func (o *Order) ShippedEvent() OrderShipped {
	return OrderShipped{
		OrderID:      o.ID,
		UserID:       o.UserID,
		Email:        o.Email,
		LanguageCode: o.LanguageCode,
		ShippedAt:    o.UpdatedAt,
	}
}

func (o *Order) DeliveredEvent() OrderDelivered {
	return OrderDelivered{
		OrderID:      o.ID,
		UserID:       o.UserID,
		Email:        o.Email,
		LanguageCode: o.LanguageCode,
		DeliveredAt:  o.UpdatedAt,
	}
}

func (o *Order) CancelledEvent(reason string, refunded decimal.Decimal) OrderCancelled {
	return OrderCancelled{
		OrderID:        o.ID,
		UserID:         o.UserID,
		Email:          o.Email,
		Reason:         reason,
		RefundedAmount: refunded,
		Currency:       o.Currency.String(),
		LanguageCode:   o.LanguageCode,
		CancelledAt:    o.UpdatedAt,
	}
}
