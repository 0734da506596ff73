package reward

import (
	"context"
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeEarn        TransactionType = "earn"
	TypeRedeem      TransactionType = "redeem"
	TypeRefund      TransactionType = "refund"
	TypeAdminAdjust TransactionType = "admin_adjust"
)

var (
	ErrWalletNotFound      = apperr.New(apperr.KindNotFound, "reward wallet not found")
	ErrInsufficientBalance = apperr.New(apperr.KindInsufficientBalance, "insufficient reward balance")
	ErrNegativeAmount      = apperr.New(apperr.KindBadRequest, "points amount must not be negative")
	ErrReasonRequired      = apperr.New(apperr.KindBadRequest, "adjustment reason is required")
)

// Wallet holds a user's point balance. Points and currency units are 1:1.
type Wallet struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is an immutable ledger line. Reversals are new lines.
type Transaction struct {
	ID             string          `json:"id"`
	WalletID       string          `json:"wallet_id"`
	Amount         decimal.Decimal `json:"amount"`
	Type           TransactionType `json:"type"`
	Description    string          `json:"description"`
	RelatedOrderID string          `json:"related_order_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Posting is a pending write produced by the Ledger. The caller persists it
// in the same database transaction as the order change that caused it.
type Posting struct {
	Wallet       *Wallet
	IsNewWallet  bool
	Transactions []Transaction
	// NegativeBalance flags a posting that leaves the wallet below zero.
	NegativeBalance bool
}

// Delta is the net balance change of the posting.
func (p *Posting) Delta() decimal.Decimal {
	d := decimal.Zero
	for _, t := range p.Transactions {
		d = d.Add(t.Amount)
	}
	return d
}

// Empty reports whether there is nothing to persist.
func (p *Posting) Empty() bool { return p == nil || len(p.Transactions) == 0 }

// Repository is the slice of storage the ledger needs. Implementations are
// scoped to one database transaction.
type Repository interface {
	// FindWalletByUserID returns ErrWalletNotFound when the user has no wallet.
	FindWalletByUserID(ctx context.Context, userID string) (*Wallet, error)
	// SavePosting inserts or version-checks the wallet and appends the
	// posting's transactions.
	SavePosting(ctx context.Context, p *Posting) error
	ListTransactions(ctx context.Context, walletID string) ([]Transaction, error)
}
