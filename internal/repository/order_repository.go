package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flashsale/checkout-engine/internal/model"
)

// OrderRepo provides data access to the orders table.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns a new OrderRepo bound to the provided database.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

// CreateTx inserts a new order row, converted from an already-locked
// hold, within the provided transaction.
func (r *OrderRepo) CreateTx(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	const q = `INSERT INTO orders
               (id, hold_id, product_id, quantity, unit_price, total_price, status, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		o.ID.String(), o.HoldID.String(), o.ProductID, o.Quantity,
		o.UnitPrice.StringFixed(2), o.TotalPrice.StringFixed(2), o.Status, o.CreatedAt, o.UpdatedAt)
	return err
}

// LockForUpdateTx locks the order row exclusively and returns its
// current state, or ErrNotFound if it does not exist.
func (r *OrderRepo) LockForUpdateTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.Order, error) {
	const q = orderSelectColumns + ` FROM orders WHERE id = ? FOR UPDATE`
	return scanOrder(tx.QueryRowContext(ctx, q, id.String()))
}

// GetByID returns the order row without locking, for reads outside a
// transaction.
func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	const q = orderSelectColumns + ` FROM orders WHERE id = ?`
	return scanOrder(r.db.QueryRowContext(ctx, q, id.String()))
}

// GetByHoldIDTx returns the order created from holdID, if any, within
// the provided transaction. Used by CreateOrderFromHold to guard
// against converting the same hold twice.
func (r *OrderRepo) GetByHoldIDTx(ctx context.Context, tx *sql.Tx, holdID uuid.UUID) (*model.Order, error) {
	const q = orderSelectColumns + ` FROM orders WHERE hold_id = ?`
	return scanOrder(tx.QueryRowContext(ctx, q, holdID.String()))
}

// UpdateStatusTx performs a conditional status transition on an order,
// applying to only when the current status equals from, returning
// whether the row was updated.
func (r *OrderRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to model.OrderStatus) (bool, error) {
	const q = `UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, to, time.Now().UTC(), id.String(), from)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

const orderSelectColumns = `SELECT id, hold_id, product_id, quantity, unit_price, total_price, status, created_at, updated_at`

func scanOrder(row *sql.Row) (*model.Order, error) {
	var o model.Order
	var idStr, holdIDStr, unitPriceStr, totalPriceStr string
	if err := row.Scan(&idStr, &holdIDStr, &o.ProductID, &o.Quantity, &unitPriceStr, &totalPriceStr, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	holdID, err := uuid.Parse(holdIDStr)
	if err != nil {
		return nil, err
	}
	unitPrice, err := decimal.NewFromString(unitPriceStr)
	if err != nil {
		return nil, err
	}
	totalPrice, err := decimal.NewFromString(totalPriceStr)
	if err != nil {
		return nil, err
	}
	o.ID = id
	o.HoldID = holdID
	o.UnitPrice = unitPrice
	o.TotalPrice = totalPrice
	return &o, nil
}
