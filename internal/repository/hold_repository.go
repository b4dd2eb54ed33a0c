package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/flashsale/checkout-engine/internal/model"
)

// HoldRepo provides data access to the holds table: creating,
// locking, summing and transitioning reservation holds. Ownership of
// hold-row mutation belongs entirely to HoldEngine (SPEC_FULL.md §3).
type HoldRepo struct {
	db *sql.DB
}

// NewHoldRepo returns a new HoldRepo bound to the provided database.
func NewHoldRepo(db *sql.DB) *HoldRepo { return &HoldRepo{db: db} }

// CreateTx inserts a new hold row within the provided transaction. The
// caller must already hold the product row lock and have verified
// available stock; CreateTx performs no admission logic itself.
func (r *HoldRepo) CreateTx(ctx context.Context, tx *sql.Tx, h *model.Hold) error {
	const q = `INSERT INTO holds (id, product_id, quantity, status, expires_at, created_at)
               VALUES (?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, h.ID.String(), h.ProductID, h.Quantity, h.Status, h.ExpiresAt, h.CreatedAt)
	return err
}

// LockForUpdateTx locks the hold row exclusively for the remainder of
// the transaction and returns its current state, or ErrNotFound if no
// such hold exists.
func (r *HoldRepo) LockForUpdateTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.Hold, error) {
	const q = `SELECT id, product_id, quantity, status, expires_at, created_at
               FROM holds WHERE id = ? FOR UPDATE`
	return scanHold(tx.QueryRowContext(ctx, q, id.String()))
}

// SumActiveQtyTx locks every active, unexpired hold row for productID
// (freezing the set for the remainder of the transaction, per the
// "lockAggregate" step of hold creation) and returns the sum of their
// quantities.
func (r *HoldRepo) SumActiveQtyTx(ctx context.Context, tx *sql.Tx, productID uint64, now time.Time) (uint32, error) {
	const q = `SELECT quantity FROM holds
               WHERE product_id = ? AND status = ? AND expires_at > ?
               FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, productID, model.HoldActive, now)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var total uint32
	for rows.Next() {
		var qty uint32
		if err := rows.Scan(&qty); err != nil {
			return 0, err
		}
		total += qty
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return total, nil
}

// SumActiveQty returns the sum of active, unexpired hold quantities for
// productID without locking, used by the public product read endpoint
// via StockCache's loader. It is never used on the admission path,
// which always uses SumActiveQtyTx under the product row lock.
func (r *HoldRepo) SumActiveQty(ctx context.Context, productID uint64, now time.Time) (uint32, error) {
	const q = `SELECT COALESCE(SUM(quantity), 0) FROM holds
               WHERE product_id = ? AND status = ? AND expires_at > ?`
	var total uint32
	if err := r.db.QueryRowContext(ctx, q, productID, model.HoldActive, now).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// UpdateStatusTx performs a conditional status transition, applying the
// new status only if the row's current status equals from. Returns
// false (no error) if the row was not in the expected state, so the
// caller can distinguish a lost race from an infrastructure error.
func (r *HoldRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to model.HoldStatus) (bool, error) {
	const q = `UPDATE holds SET status = ? WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, to, id.String(), from)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// PageActiveExpired returns up to limit ids of holds that are still
// marked active but have an expires_at in the past. It performs no
// locking; ExpireDue re-verifies and locks each row individually in its
// own transaction before transitioning it (SPEC_FULL.md §4.3).
func (r *HoldRepo) PageActiveExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	const q = `SELECT id FROM holds WHERE status = ? AND expires_at <= ? ORDER BY expires_at LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, model.HoldActive, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func scanHold(row *sql.Row) (*model.Hold, error) {
	var h model.Hold
	var idStr string
	if err := row.Scan(&idStr, &h.ProductID, &h.Quantity, &h.Status, &h.ExpiresAt, &h.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	h.ID = id
	return &h, nil
}
