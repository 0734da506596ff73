package query

import (
	"github.com/example/ec-storefront/internal/domain/reward"
	"github.com/shopspring/decimal"
)

// WalletView is a user's reward wallet with its ledger lines. A user without a
// wallet gets a zero balance and no lines.
type WalletView struct {
	UserID       string               `json:"user_id"`
	WalletID     string               `json:"wallet_id,omitempty"`
	Balance      decimal.Decimal      `json:"balance"`
	Negative     bool                 `json:"negative_balance"`
	Transactions []reward.Transaction `json:"transactions"`
}
