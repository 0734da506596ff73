package mocks

import (
	"context"
	"sync"

	"github.com/example/ec-storefront/internal/domain/cart"
)

// MockBasketStore is an in-memory cart.Store for testing
type MockBasketStore struct {
	mu      sync.RWMutex
	baskets map[string]cart.Cart

	GetErr      error
	SaveCalls   []string
	DeleteCalls []string
}

func NewMockBasketStore() *MockBasketStore {
	return &MockBasketStore{baskets: make(map[string]cart.Cart)}
}

func (m *MockBasketStore) GetBasket(_ context.Context, id string) (*cart.Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	c, ok := m.baskets[id]
	if !ok {
		return nil, cart.ErrBasketNotFound
	}
	c.Items = append([]cart.Item(nil), c.Items...)
	return &c, nil
}

func (m *MockBasketStore) SaveBasket(_ context.Context, c *cart.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveCalls = append(m.SaveCalls, c.ID)
	stored := *c
	stored.Items = append([]cart.Item(nil), c.Items...)
	m.baskets[c.ID] = stored
	return nil
}

func (m *MockBasketStore) DeleteBasket(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls = append(m.DeleteCalls, id)
	delete(m.baskets, id)
	return nil
}

// SetBasket stores c directly for testing
func (m *MockBasketStore) SetBasket(c *cart.Cart) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *c
	stored.Items = append([]cart.Item(nil), c.Items...)
	m.baskets[c.ID] = stored
}
