package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/example/ec-storefront/internal/domain/payment"
	"github.com/example/ec-storefront/internal/domain/reward"
	"github.com/example/ec-storefront/internal/money"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Schema creates every table the store uses. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS products (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	stock      INTEGER NOT NULL CHECK (stock >= 0)
);

CREATE TABLE IF NOT EXISTS product_prices (
	id         TEXT PRIMARY KEY,
	product_id TEXT NOT NULL REFERENCES products(id),
	weight     TEXT NOT NULL DEFAULT '',
	price      NUMERIC(19,4) NOT NULL,
	currency   CHAR(3) NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	email             TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	subtotal          NUMERIC(19,4) NOT NULL,
	shipping_cost     NUMERIC(19,4) NOT NULL,
	points_redeemed   NUMERIC(19,4) NOT NULL,
	points_earned     NUMERIC(19,4) NOT NULL,
	total_amount      NUMERIC(19,4) NOT NULL,
	currency          CHAR(3) NOT NULL,
	shipping_address  JSONB NOT NULL,
	language_code     TEXT NOT NULL DEFAULT '',
	payment_intent_id TEXT UNIQUE,
	version           BIGINT NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS order_items (
	id             TEXT PRIMARY KEY,
	order_id       TEXT NOT NULL REFERENCES orders(id),
	price_entry_id TEXT NOT NULL,
	product_id     TEXT NOT NULL,
	name           TEXT NOT NULL,
	weight         TEXT NOT NULL DEFAULT '',
	image_url      TEXT NOT NULL DEFAULT '',
	unit_price     NUMERIC(19,4) NOT NULL,
	quantity       INTEGER NOT NULL CHECK (quantity > 0),
	currency       CHAR(3) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);

CREATE TABLE IF NOT EXISTS payment_transactions (
	id            TEXT PRIMARY KEY,
	order_id      TEXT NOT NULL REFERENCES orders(id),
	external_id   TEXT NOT NULL UNIQUE,
	amount        NUMERIC(19,4) NOT NULL,
	currency      CHAR(3) NOT NULL,
	status        TEXT NOT NULL,
	refund_id     TEXT NOT NULL DEFAULT '',
	refund_status TEXT NOT NULL DEFAULT '',
	refund_amount NUMERIC(19,4) NOT NULL DEFAULT 0,
	version       BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
ALTER TABLE payment_transactions ADD COLUMN IF NOT EXISTS refund_status TEXT NOT NULL DEFAULT '';

CREATE TABLE IF NOT EXISTS reward_wallets (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL UNIQUE,
	balance    NUMERIC(19,4) NOT NULL,
	version    BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS reward_transactions (
	id               TEXT PRIMARY KEY,
	wallet_id        TEXT NOT NULL REFERENCES reward_wallets(id),
	amount           NUMERIC(19,4) NOT NULL,
	type             TEXT NOT NULL,
	description      TEXT NOT NULL,
	related_order_id TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reward_transactions_wallet ON reward_transactions(wallet_id, created_at);
`

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}

// PostgresStore implements UnitOfWork on PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "begin transaction")
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	if err = fn(ctx, &postgresTx{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return mapPQError(err, "commit transaction")
	}
	return nil
}

// mapPQError translates constraint and serialization failures into the
// error kinds the handlers branch on.
func mapPQError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return apperr.Wrap(apperr.KindConflict, err, format, args...)
		case "23514": // check_violation
			return apperr.Wrap(apperr.KindBadRequest, err, format, args...)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return apperr.Wrap(apperr.KindConcurrencyConflict, err, format, args...)
		}
	}
	return apperr.Wrap(apperr.KindInternal, err, format, args...)
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) Orders() OrderRepository     { return pgOrders{t.tx} }
func (t *postgresTx) Payments() PaymentRepository { return pgPayments{t.tx} }
func (t *postgresTx) Catalog() CatalogRepository  { return pgCatalog{t.tx} }
func (t *postgresTx) Rewards() reward.Repository  { return pgRewards{t.tx} }

type rowScanner interface {
	Scan(dest ...any) error
}

// ============================================
// Orders
// ============================================

type pgOrders struct{ tx *sql.Tx }

const orderColumns = `id, user_id, email, status, subtotal, shipping_cost, points_redeemed,
	points_earned, total_amount, currency, shipping_address, language_code,
	COALESCE(payment_intent_id, ''), version, created_at, updated_at`

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r pgOrders) Insert(ctx context.Context, o *order.Order) error {
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "encode shipping address")
	}
	_, err = r.tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, email, status, subtotal, shipping_cost, points_redeemed,
		 points_earned, total_amount, currency, shipping_address, language_code,
		 payment_intent_id, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		o.ID, o.UserID, o.Email, string(o.Status), o.Subtotal, o.ShippingCost, o.PointsRedeemed,
		o.PointsEarned, o.TotalAmount, o.Currency.String(), addr, o.LanguageCode,
		nullString(o.PaymentIntentID), o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return mapPQError(err, "insert order %s", o.ID)
	}

	for _, it := range o.Items {
		_, err := r.tx.ExecContext(ctx,
			`INSERT INTO order_items (id, order_id, price_entry_id, product_id, name, weight,
			 image_url, unit_price, quantity, currency)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			it.ID, o.ID, it.PriceEntryID, it.ProductID, it.Name, it.Weight,
			it.ImageURL, it.UnitPrice, it.Quantity, it.Currency.String(),
		)
		if err != nil {
			return mapPQError(err, "insert order item %s", it.ID)
		}
	}
	return nil
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o        order.Order
		status   string
		currency string
		addr     []byte
	)
	err := row.Scan(&o.ID, &o.UserID, &o.Email, &status, &o.Subtotal, &o.ShippingCost,
		&o.PointsRedeemed, &o.PointsEarned, &o.TotalAmount, &currency, &addr,
		&o.LanguageCode, &o.PaymentIntentID, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = order.Status(status)
	o.Currency = money.Currency(currency)
	if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address of order %s: %w", o.ID, err)
	}
	return &o, nil
}

func (r pgOrders) loadItems(ctx context.Context, o *order.Order) error {
	rows, err := r.tx.QueryContext(ctx,
		`SELECT id, price_entry_id, product_id, name, weight, image_url, unit_price, quantity, currency
		 FROM order_items WHERE order_id = $1 ORDER BY id`,
		o.ID,
	)
	if err != nil {
		return mapPQError(err, "load items of order %s", o.ID)
	}
	defer rows.Close()

	o.Items = nil
	for rows.Next() {
		var (
			it       order.OrderItem
			currency string
		)
		if err := rows.Scan(&it.ID, &it.PriceEntryID, &it.ProductID, &it.Name, &it.Weight,
			&it.ImageURL, &it.UnitPrice, &it.Quantity, &currency); err != nil {
			return apperr.Wrap(apperr.KindInternal, err, "scan order item")
		}
		it.Currency = money.Currency(currency)
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (r pgOrders) getBy(ctx context.Context, column, value string) (*order.Order, error) {
	row := r.tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1`, value)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "load order by %s", column)
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r pgOrders) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.getBy(ctx, "id", id)
}

func (r pgOrders) FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*order.Order, error) {
	if paymentIntentID == "" {
		return nil, order.ErrOrderNotFound
	}
	return r.getBy(ctx, "payment_intent_id", paymentIntentID)
}

func (r pgOrders) ListByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	rows, err := r.tx.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, mapPQError(err, "list orders of user %s", userID)
	}
	var out []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, apperr.Wrap(apperr.KindInternal, err, "scan order")
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "list orders")
	}

	// Items are loaded once the order cursor is closed; a transaction
	// carries one open result set at a time.
	for _, o := range out {
		if err := r.loadItems(ctx, o); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r pgOrders) Update(ctx context.Context, o *order.Order) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE orders SET status = $1, points_earned = $2, payment_intent_id = $3,
		 version = version + 1, updated_at = $4
		 WHERE id = $5 AND version = $6`,
		string(o.Status), o.PointsEarned, nullString(o.PaymentIntentID), o.UpdatedAt, o.ID, o.Version,
	)
	if err != nil {
		return mapPQError(err, "update order %s", o.ID)
	}
	if err := checkVersioned(res, "order", o.ID); err != nil {
		return err
	}
	o.Version++
	return nil
}

// checkVersioned turns a zero-row versioned update into a
// ConcurrencyConflict.
func checkVersioned(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "rows affected")
	}
	if n == 0 {
		return apperr.ConcurrencyConflict("%s %s was modified concurrently", what, id)
	}
	return nil
}

// ============================================
// Payments
// ============================================

type pgPayments struct{ tx *sql.Tx }

const paymentColumns = `id, order_id, external_id, amount, currency, status, refund_id,
	refund_status, refund_amount, version, created_at, updated_at`

func scanPayment(row rowScanner) (*payment.Transaction, error) {
	var (
		t        payment.Transaction
		currency string
		status   string
	)
	if err := row.Scan(&t.ID, &t.OrderID, &t.ExternalID, &t.Amount, &currency, &status,
		&t.RefundID, &t.RefundStatus, &t.RefundAmount, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrTransactionNotFound
		}
		return nil, apperr.Wrap(apperr.KindInternal, err, "scan payment transaction")
	}
	t.Currency = money.Currency(currency)
	t.Status = payment.Status(status)
	return &t, nil
}

func (r pgPayments) Get(ctx context.Context, id string) (*payment.Transaction, error) {
	return scanPayment(r.tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_transactions WHERE id = $1`, id))
}

func (r pgPayments) FindByExternalID(ctx context.Context, externalID string) (*payment.Transaction, error) {
	return scanPayment(r.tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_transactions WHERE external_id = $1`, externalID))
}

func (r pgPayments) Insert(ctx context.Context, t *payment.Transaction) error {
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO payment_transactions (id, order_id, external_id, amount, currency, status,
		 refund_id, refund_status, refund_amount, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.OrderID, t.ExternalID, t.Amount, t.Currency.String(), string(t.Status),
		t.RefundID, t.RefundStatus, t.RefundAmount, t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		// A concurrent delivery of the same intent inserted first; the caller
		// retries and finds that row.
		if apperr.IsKind(mapPQError(err, ""), apperr.KindConflict) {
			return apperr.Wrap(apperr.KindConcurrencyConflict, err,
				"payment transaction for %s was inserted concurrently", t.ExternalID)
		}
		return mapPQError(err, "insert payment transaction for %s", t.ExternalID)
	}
	return nil
}

func (r pgPayments) Update(ctx context.Context, t *payment.Transaction) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE payment_transactions SET status = $1, refund_id = $2, refund_status = $3,
		 refund_amount = $4, version = version + 1, updated_at = $5
		 WHERE id = $6 AND version = $7`,
		string(t.Status), t.RefundID, t.RefundStatus, t.RefundAmount, t.UpdatedAt, t.ID, t.Version,
	)
	if err != nil {
		return mapPQError(err, "update payment transaction %s", t.ID)
	}
	if err := checkVersioned(res, "payment transaction", t.ID); err != nil {
		return err
	}
	t.Version++
	return nil
}

// ============================================
// Catalog
// ============================================

type pgCatalog struct{ tx *sql.Tx }

func (r pgCatalog) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	var p catalog.Product
	err := r.tx.QueryRowContext(ctx,
		`SELECT id, name, stock FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrProductNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "load product %s", id)
	}
	return &p, nil
}

func (r pgCatalog) GetPriceEntry(ctx context.Context, id string) (*catalog.PriceEntry, error) {
	var (
		e        catalog.PriceEntry
		currency string
	)
	err := r.tx.QueryRowContext(ctx,
		`SELECT id, product_id, weight, price, currency FROM product_prices WHERE id = $1`, id,
	).Scan(&e.ID, &e.ProductID, &e.Weight, &e.Price, &currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrPriceEntryNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "load price entry %s", id)
	}
	e.Currency = money.Currency(currency)
	return &e, nil
}

func (r pgCatalog) DecrementStock(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return catalog.ErrInvalidQuantity
	}
	res, err := r.tx.ExecContext(ctx,
		`UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1`,
		quantity, productID,
	)
	if err != nil {
		return mapPQError(err, "decrement stock of %s", productID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "rows affected")
	}
	if n == 1 {
		return nil
	}
	// Either the product is missing or stock is short.
	if _, err := r.GetProduct(ctx, productID); err != nil {
		return err
	}
	return apperr.Wrap(apperr.KindInsufficientStock, catalog.ErrInsufficientStock,
		"product %s: %d requested", productID, quantity)
}

func (r pgCatalog) RestoreStock(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return catalog.ErrInvalidQuantity
	}
	res, err := r.tx.ExecContext(ctx,
		`UPDATE products SET stock = stock + $1 WHERE id = $2`, quantity, productID)
	if err != nil {
		return mapPQError(err, "restore stock of %s", productID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return catalog.ErrProductNotFound
	}
	return nil
}

// ============================================
// Rewards
// ============================================

type pgRewards struct{ tx *sql.Tx }

func (r pgRewards) FindWalletByUserID(ctx context.Context, userID string) (*reward.Wallet, error) {
	var w reward.Wallet
	err := r.tx.QueryRowContext(ctx,
		`SELECT id, user_id, balance, version, created_at, updated_at
		 FROM reward_wallets WHERE user_id = $1`, userID,
	).Scan(&w.ID, &w.UserID, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reward.ErrWalletNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "load wallet of user %s", userID)
	}
	return &w, nil
}

func (r pgRewards) SavePosting(ctx context.Context, p *reward.Posting) error {
	if p.Empty() {
		return nil
	}
	w := p.Wallet
	if p.IsNewWallet {
		_, err := r.tx.ExecContext(ctx,
			`INSERT INTO reward_wallets (id, user_id, balance, version, created_at, updated_at)
			 VALUES ($1, $2, $3, 0, $4, $5)`,
			w.ID, w.UserID, w.Balance, w.CreatedAt, w.UpdatedAt,
		)
		if err != nil {
			// Another transaction created the wallet first; the caller retries.
			if apperr.IsKind(mapPQError(err, ""), apperr.KindConflict) {
				return apperr.ConcurrencyConflict("reward wallet for user %s was created concurrently", w.UserID)
			}
			return mapPQError(err, "insert wallet for user %s", w.UserID)
		}
		p.IsNewWallet = false
	} else {
		res, err := r.tx.ExecContext(ctx,
			`UPDATE reward_wallets SET balance = $1, version = version + 1, updated_at = $2
			 WHERE id = $3 AND version = $4`,
			w.Balance, w.UpdatedAt, w.ID, w.Version,
		)
		if err != nil {
			return mapPQError(err, "update wallet %s", w.ID)
		}
		if err := checkVersioned(res, "reward wallet", w.ID); err != nil {
			return err
		}
		w.Version++
	}

	for _, t := range p.Transactions {
		_, err := r.tx.ExecContext(ctx,
			`INSERT INTO reward_transactions (id, wallet_id, amount, type, description, related_order_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			t.ID, t.WalletID, t.Amount, string(t.Type), t.Description, t.RelatedOrderID, t.CreatedAt,
		)
		if err != nil {
			return mapPQError(err, "insert reward transaction %s", t.ID)
		}
	}
	return nil
}

func (r pgRewards) ListTransactions(ctx context.Context, walletID string) ([]reward.Transaction, error) {
	rows, err := r.tx.QueryContext(ctx,
		`SELECT id, wallet_id, amount, type, description, related_order_id, created_at
		 FROM reward_transactions WHERE wallet_id = $1 ORDER BY created_at`, walletID)
	if err != nil {
		return nil, mapPQError(err, "list reward transactions of %s", walletID)
	}
	defer rows.Close()

	var out []reward.Transaction
	for rows.Next() {
		var (
			t   reward.Transaction
			typ string
		)
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Amount, &typ, &t.Description, &t.RelatedOrderID, &t.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, err, "scan reward transaction")
		}
		t.Type = reward.TransactionType(typ)
		out = append(out, t)
	}
	return out, rows.Err()
}
