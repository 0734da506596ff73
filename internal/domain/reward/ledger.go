package reward

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger turns point operations into postings. It never commits; every
// method returns a *Posting for the caller to save with its own changes.
type Ledger struct {
	now func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

// loadWallet returns the user's wallet, or a new unsaved one when create is
// set and the user has none yet.
func (l *Ledger) loadWallet(ctx context.Context, repo Repository, userID string, create bool) (*Wallet, bool, error) {
	w, err := repo.FindWalletByUserID(ctx, userID)
	if err == nil {
		return w, false, nil
	}
	if !apperr.IsKind(err, apperr.KindNotFound) || !create {
		return nil, false, err
	}
	now := l.now()
	return &Wallet{
		ID:        uuid.New().String(),
		UserID:    userID,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}, true, nil
}

func (l *Ledger) entry(w *Wallet, amount decimal.Decimal, typ TransactionType, desc, orderID string) Transaction {
	return Transaction{
		ID:             uuid.New().String(),
		WalletID:       w.ID,
		Amount:         amount,
		Type:           typ,
		Description:    desc,
		RelatedOrderID: orderID,
		CreatedAt:      l.now(),
	}
}

func (l *Ledger) post(w *Wallet, isNew bool, txs ...Transaction) *Posting {
	p := &Posting{Wallet: w, IsNewWallet: isNew, Transactions: txs}
	w.Balance = w.Balance.Add(p.Delta())
	w.UpdatedAt = l.now()
	p.NegativeBalance = w.Balance.IsNegative()
	return p
}

// EarnPoints credits amount to the user's wallet, creating it if needed.
func (l *Ledger) EarnPoints(ctx context.Context, repo Repository, userID, orderID string, amount decimal.Decimal) (*Posting, error) {
	if amount.IsNegative() {
		return nil, ErrNegativeAmount
	}
	w, isNew, err := l.loadWallet(ctx, repo, userID, true)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return &Posting{Wallet: w, IsNewWallet: isNew}, nil
	}
	return l.post(w, isNew, l.entry(w, amount, TypeEarn, fmt.Sprintf("cashback for order %s", orderID), orderID)), nil
}

// RedeemPoints debits amount. It never redeems partially.
func (l *Ledger) RedeemPoints(ctx context.Context, repo Repository, userID string, amount decimal.Decimal, orderID string) (*Posting, error) {
	if !amount.IsPositive() {
		return nil, apperr.BadRequest("redeem amount must be positive, got %s", amount)
	}
	w, isNew, err := l.loadWallet(ctx, repo, userID, true)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(w.Balance) {
		return nil, apperr.Wrap(apperr.KindInsufficientBalance, ErrInsufficientBalance,
			"balance %s, requested %s", w.Balance, amount)
	}
	return l.post(w, isNew, l.entry(w, amount.Neg(), TypeRedeem, fmt.Sprintf("redeemed on order %s", orderID), orderID)), nil
}

// RefundPoints reverses an order's earn and redeem legs in one posting:
// pointsEarned is taken back and pointsRedeemed is returned.
func (l *Ledger) RefundPoints(ctx context.Context, repo Repository, userID, orderID string, pointsEarned, pointsRedeemed decimal.Decimal) (*Posting, error) {
	if pointsEarned.IsNegative() || pointsRedeemed.IsNegative() {
		return nil, ErrNegativeAmount
	}
	if pointsEarned.IsZero() && pointsRedeemed.IsZero() {
		return &Posting{}, nil
	}
	w, isNew, err := l.loadWallet(ctx, repo, userID, true)
	if err != nil {
		return nil, err
	}
	var txs []Transaction
	if pointsEarned.IsPositive() {
		txs = append(txs, l.entry(w, pointsEarned.Neg(), TypeRefund, fmt.Sprintf("cashback reversed for order %s", orderID), orderID))
	}
	if pointsRedeemed.IsPositive() {
		txs = append(txs, l.entry(w, pointsRedeemed, TypeRefund, fmt.Sprintf("redemption returned for order %s", orderID), orderID))
	}
	return l.post(w, isNew, txs...), nil
}

// AdminAdjustPoints applies a signed correction. The balance is not floored;
// a posting that goes negative is flagged instead.
func (l *Ledger) AdminAdjustPoints(ctx context.Context, repo Repository, userID string, amount decimal.Decimal, reason string) (*Posting, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}
	if amount.IsZero() {
		return nil, apperr.BadRequest("adjustment amount must not be zero")
	}
	w, isNew, err := l.loadWallet(ctx, repo, userID, true)
	if err != nil {
		return nil, err
	}
	return l.post(w, isNew, l.entry(w, amount, TypeAdminAdjust, reason, "")), nil
}
