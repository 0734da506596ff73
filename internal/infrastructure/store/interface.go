package store

import (
	"context"

	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/example/ec-storefront/internal/domain/payment"
	"github.com/example/ec-storefront/internal/domain/reward"
)

// UnitOfWork runs fn inside one database transaction. fn's writes commit
// together when it returns nil and are discarded otherwise.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Orders() OrderRepository
	Payments() PaymentRepository
	Catalog() CatalogRepository
	Rewards() reward.Repository
}

// OrderRepository stores orders together with their items.
type OrderRepository interface {
	Insert(ctx context.Context, o *order.Order) error
	Get(ctx context.Context, id string) (*order.Order, error)
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*order.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*order.Order, error)
	// Update writes o if the stored version still equals o.Version, then
	// bumps o.Version. A mismatch is a ConcurrencyConflict.
	Update(ctx context.Context, o *order.Order) error
}

type PaymentRepository interface {
	Get(ctx context.Context, id string) (*payment.Transaction, error)
	FindByExternalID(ctx context.Context, externalID string) (*payment.Transaction, error)
	// Insert fails with ConcurrencyConflict when ExternalID is already
	// stored, so a racing webhook delivery retries and sees the winner.
	Insert(ctx context.Context, t *payment.Transaction) error
	// Update has the same version contract as OrderRepository.Update.
	Update(ctx context.Context, t *payment.Transaction) error
}

type CatalogRepository interface {
	GetProduct(ctx context.Context, id string) (*catalog.Product, error)
	GetPriceEntry(ctx context.Context, id string) (*catalog.PriceEntry, error)
	// DecrementStock takes quantity units, failing with InsufficientStock
	// instead of going negative.
	DecrementStock(ctx context.Context, productID string, quantity int) error
	RestoreStock(ctx context.Context, productID string, quantity int) error
}
