package store

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/example/ec-storefront/internal/domain/payment"
	"github.com/example/ec-storefront/internal/domain/reward"
)

type memoryState struct {
	products  map[string]catalog.Product
	prices    map[string]catalog.PriceEntry
	orders    map[string]order.Order
	payments  map[string]payment.Transaction
	wallets   map[string]reward.Wallet // by user id
	rewardTxs map[string][]reward.Transaction
}

func newMemoryState() *memoryState {
	return &memoryState{
		products:  make(map[string]catalog.Product),
		prices:    make(map[string]catalog.PriceEntry),
		orders:    make(map[string]order.Order),
		payments:  make(map[string]payment.Transaction),
		wallets:   make(map[string]reward.Wallet),
		rewardTxs: make(map[string][]reward.Transaction),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.prices {
		c.prices[k] = v
	}
	for k, v := range s.orders {
		v.Items = append([]order.OrderItem(nil), v.Items...)
		c.orders[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.rewardTxs {
		c.rewardTxs[k] = append([]reward.Transaction(nil), v...)
	}
	return c
}

// MemoryStore keeps everything in process memory. Transactions are
// serialised and run against a copy that replaces the live state only when
// fn succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(ctx, &memoryTx{s: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// SeedProduct registers a product and its price entries.
func (m *MemoryStore) SeedProduct(p catalog.Product, prices ...catalog.PriceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.products[p.ID] = p
	for _, e := range prices {
		m.state.prices[e.ID] = e
	}
}

// Stock returns the current stock of a product, or -1 if unknown.
func (m *MemoryStore) Stock(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.products[productID]
	if !ok {
		return -1
	}
	return p.Stock
}

// OrderCount returns the number of stored orders.
func (m *MemoryStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.orders)
}

type memoryTx struct {
	s *memoryState
}

func (t *memoryTx) Orders() OrderRepository     { return memoryOrders{t.s} }
func (t *memoryTx) Payments() PaymentRepository { return memoryPayments{t.s} }
func (t *memoryTx) Catalog() CatalogRepository  { return memoryCatalog{t.s} }
func (t *memoryTx) Rewards() reward.Repository  { return memoryRewards{t.s} }

// ============================================
// Orders
// ============================================

type memoryOrders struct{ s *memoryState }

func copyOrder(o order.Order) *order.Order {
	o.Items = append([]order.OrderItem(nil), o.Items...)
	return &o
}

func (r memoryOrders) Insert(_ context.Context, o *order.Order) error {
	if _, exists := r.s.orders[o.ID]; exists {
		return apperr.Conflict("order %s already exists", o.ID)
	}
	if o.PaymentIntentID != "" {
		for _, existing := range r.s.orders {
			if existing.PaymentIntentID == o.PaymentIntentID {
				return apperr.Conflict("payment intent %s already attached to order %s", o.PaymentIntentID, existing.ID)
			}
		}
	}
	r.s.orders[o.ID] = *copyOrder(*o)
	return nil
}

func (r memoryOrders) Get(_ context.Context, id string) (*order.Order, error) {
	o, ok := r.s.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (r memoryOrders) FindByPaymentIntentID(_ context.Context, paymentIntentID string) (*order.Order, error) {
	for _, o := range r.s.orders {
		if paymentIntentID != "" && o.PaymentIntentID == paymentIntentID {
			return copyOrder(o), nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (r memoryOrders) ListByUser(_ context.Context, userID string) ([]*order.Order, error) {
	var out []*order.Order
	for _, o := range r.s.orders {
		if o.UserID == userID {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memoryOrders) Update(_ context.Context, o *order.Order) error {
	stored, ok := r.s.orders[o.ID]
	if !ok {
		return order.ErrOrderNotFound
	}
	if stored.Version != o.Version {
		return apperr.ConcurrencyConflict("order %s was modified (version %d, have %d)", o.ID, stored.Version, o.Version)
	}
	o.Version++
	r.s.orders[o.ID] = *copyOrder(*o)
	return nil
}

// ============================================
// Payments
// ============================================

type memoryPayments struct{ s *memoryState }

func (r memoryPayments) Get(_ context.Context, id string) (*payment.Transaction, error) {
	t, ok := r.s.payments[id]
	if !ok {
		return nil, payment.ErrTransactionNotFound
	}
	return &t, nil
}

func (r memoryPayments) FindByExternalID(_ context.Context, externalID string) (*payment.Transaction, error) {
	for _, t := range r.s.payments {
		if t.ExternalID == externalID {
			t := t
			return &t, nil
		}
	}
	return nil, payment.ErrTransactionNotFound
}

func (r memoryPayments) Insert(_ context.Context, t *payment.Transaction) error {
	for _, existing := range r.s.payments {
		if existing.ExternalID == t.ExternalID {
			return apperr.ConcurrencyConflict("payment transaction for %s was inserted concurrently", t.ExternalID)
		}
	}
	r.s.payments[t.ID] = *t
	return nil
}

func (r memoryPayments) Update(_ context.Context, t *payment.Transaction) error {
	stored, ok := r.s.payments[t.ID]
	if !ok {
		return payment.ErrTransactionNotFound
	}
	if stored.Version != t.Version {
		return apperr.ConcurrencyConflict("payment transaction %s was modified", t.ID)
	}
	t.Version++
	r.s.payments[t.ID] = *t
	return nil
}

// ============================================
// Catalog
// ============================================

type memoryCatalog struct{ s *memoryState }

func (r memoryCatalog) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	p, ok := r.s.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return &p, nil
}

func (r memoryCatalog) GetPriceEntry(_ context.Context, id string) (*catalog.PriceEntry, error) {
	e, ok := r.s.prices[id]
	if !ok {
		return nil, catalog.ErrPriceEntryNotFound
	}
	return &e, nil
}

func (r memoryCatalog) DecrementStock(_ context.Context, productID string, quantity int) error {
	p, ok := r.s.products[productID]
	if !ok {
		return catalog.ErrProductNotFound
	}
	if err := p.Take(quantity); err != nil {
		return apperr.Wrap(apperr.KindOf(err), err, "product %s", productID)
	}
	r.s.products[productID] = p
	return nil
}

func (r memoryCatalog) RestoreStock(_ context.Context, productID string, quantity int) error {
	p, ok := r.s.products[productID]
	if !ok {
		return catalog.ErrProductNotFound
	}
	if err := p.Restore(quantity); err != nil {
		return err
	}
	r.s.products[productID] = p
	return nil
}

// ============================================
// Rewards
// ============================================

type memoryRewards struct{ s *memoryState }

func (r memoryRewards) FindWalletByUserID(_ context.Context, userID string) (*reward.Wallet, error) {
	w, ok := r.s.wallets[userID]
	if !ok {
		return nil, reward.ErrWalletNotFound
	}
	return &w, nil
}

func (r memoryRewards) SavePosting(_ context.Context, p *reward.Posting) error {
	if p.Empty() {
		return nil
	}
	w := *p.Wallet
	stored, exists := r.s.wallets[w.UserID]
	switch {
	case p.IsNewWallet && exists:
		return apperr.ConcurrencyConflict("reward wallet for user %s was created concurrently", w.UserID)
	case !p.IsNewWallet && !exists:
		return reward.ErrWalletNotFound
	case !p.IsNewWallet && stored.Version != w.Version:
		return apperr.ConcurrencyConflict("reward wallet %s was modified", w.ID)
	}
	if !p.IsNewWallet {
		w.Version++
	}
	p.Wallet.Version = w.Version
	p.IsNewWallet = false
	r.s.wallets[w.UserID] = w
	r.s.rewardTxs[w.ID] = append(r.s.rewardTxs[w.ID], p.Transactions...)
	return nil
}

func (r memoryRewards) ListTransactions(_ context.Context, walletID string) ([]reward.Transaction, error) {
	return append([]reward.Transaction(nil), r.s.rewardTxs[walletID]...), nil
}
