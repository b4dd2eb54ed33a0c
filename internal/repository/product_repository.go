package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flashsale/checkout-engine/internal/model"
)

// ProductRepo provides data access to the products table. Reads outside
// a transaction serve the public product endpoint; the locked read is
// used by HoldEngine and OrderEngine to establish the pessimistic gate
// described in SPEC_FULL.md §4.3 step 2.
type ProductRepo struct {
	db *sql.DB
}

// NewProductRepo returns a new ProductRepo bound to the provided database.
func NewProductRepo(db *sql.DB) *ProductRepo { return &ProductRepo{db: db} }

// GetByID returns the product row, or ErrNotFound if it does not exist.
// It performs no locking; callers needing a consistent read-then-write
// must use LockForUpdateTx inside a transaction instead.
func (r *ProductRepo) GetByID(ctx context.Context, id uint64) (*model.Product, error) {
	const q = `SELECT id, name, description, price, stock, version, created_at, updated_at
               FROM products WHERE id = ?`
	return scanProduct(r.db.QueryRowContext(ctx, q, id))
}

// LockForUpdateTx locks the product row exclusively for the remainder
// of the transaction and returns its current state. This is the
// "lockRow(Product, product_id)" step of hold creation, order
// conversion and payment settlement.
func (r *ProductRepo) LockForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Product, error) {
	const q = `SELECT id, name, description, price, stock, version, created_at, updated_at
               FROM products WHERE id = ? FOR UPDATE`
	return scanProduct(tx.QueryRowContext(ctx, q, id))
}

func scanProduct(row *sql.Row) (*model.Product, error) {
	var p model.Product
	var priceStr string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &priceStr, &p.Stock, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, err
	}
	p.Price = price
	return &p, nil
}

// DecrementStockTx reduces stock by qty and bumps version, using the
// previously-observed version as an optimistic-lock guard (invariant
// P2). The row must already be locked in this transaction via
// LockForUpdateTx; the version check additionally guards against a
// concurrent writer having slipped in between the lock and this update,
// which should not be possible given the row lock but is retained as a
// defensive guard matching invariant P2's "strictly increases" wording.
// Returns ErrConflict if the version no longer matches.
func (r *ProductRepo) DecrementStockTx(ctx context.Context, tx *sql.Tx, productID uint64, qty uint32, expectVersion uint32) error {
	const q = `UPDATE products
               SET stock = stock - ?, version = version + 1, updated_at = ?
               WHERE id = ? AND version = ? AND stock >= ?`
	res, err := tx.ExecContext(ctx, q, qty, time.Now().UTC(), productID, expectVersion, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}
