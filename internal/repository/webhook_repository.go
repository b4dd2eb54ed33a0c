package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/flashsale/checkout-engine/internal/model"
)

// WebhookRepo provides data access to the payment_webhooks table.
type WebhookRepo struct {
	db *sql.DB
}

// NewWebhookRepo returns a new WebhookRepo bound to the provided database.
func NewWebhookRepo(db *sql.DB) *WebhookRepo { return &WebhookRepo{db: db} }

// InsertPendingTx inserts a new webhook row with the processing_status
// set on w: pending, or processed when the target order is already
// finalized. The unique index on idempotency_key is the hard backstop
// against double-processing a retried delivery (invariant W1): when two
// concurrent deliveries of the same key race past the engine's initial
// lookup, the loser's insert here fails with a duplicate-key error.
// That error is returned unwrapped, rather than collapsed into
// ErrConflict, so store.Store.Transaction can recognize it via
// store.IsDuplicateKey and retry the whole attempt — the retry's
// lookup then observes the winner's already-committed row instead of
// surfacing a spurious conflict to a legitimate duplicate delivery.
func (r *WebhookRepo) InsertPendingTx(ctx context.Context, tx *sql.Tx, w *model.PaymentWebhook) error {
	const q = `INSERT INTO payment_webhooks
               (id, idempotency_key, order_id, payment_status, processing_status, payload, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		w.ID.String(), w.IdempotencyKey, w.OrderID.String(), w.PaymentStatus,
		w.ProcessingStatus, w.Payload, w.CreatedAt, w.UpdatedAt)
	return err
}

// GetByIdempotencyKeyTx locks and returns the webhook row matching key,
// or ErrNotFound if none exists yet.
func (r *WebhookRepo) GetByIdempotencyKeyTx(ctx context.Context, tx *sql.Tx, key string) (*model.PaymentWebhook, error) {
	const q = webhookSelectColumns + ` FROM payment_webhooks WHERE idempotency_key = ? FOR UPDATE`
	return scanWebhook(tx.QueryRowContext(ctx, q, key))
}

// MarkProcessedTx transitions a webhook row to processed, only if it is
// currently pending. Returns whether the row was updated.
func (r *WebhookRepo) MarkProcessedTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error) {
	const q = `UPDATE payment_webhooks SET processing_status = ?, updated_at = ?
               WHERE id = ? AND processing_status = ?`
	res, err := tx.ExecContext(ctx, q, model.ProcessingProcessed, time.Now().UTC(), id.String(), model.ProcessingPending)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// PagePending returns up to limit ids of webhooks still awaiting
// processing, oldest first, for the sweeper's drain pass.
func (r *WebhookRepo) PagePending(ctx context.Context, limit int) ([]uuid.UUID, error) {
	const q = `SELECT id FROM payment_webhooks WHERE processing_status = ? ORDER BY created_at LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, model.ProcessingPending, limit)
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

// GetTx locks and returns a webhook row by its surrogate id.
func (r *WebhookRepo) GetTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.PaymentWebhook, error) {
	const q = webhookSelectColumns + ` FROM payment_webhooks WHERE id = ? FOR UPDATE`
	return scanWebhook(tx.QueryRowContext(ctx, q, id.String()))
}

const webhookSelectColumns = `SELECT id, idempotency_key, order_id, payment_status, processing_status, payload, created_at, updated_at`

func scanWebhook(row *sql.Row) (*model.PaymentWebhook, error) {
	var w model.PaymentWebhook
	var idStr, orderIDStr string
	if err := row.Scan(&idStr, &w.IdempotencyKey, &orderIDStr, &w.PaymentStatus, &w.ProcessingStatus, &w.Payload, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	orderID, err := uuid.Parse(orderIDStr)
	if err != nil {
		return nil, err
	}
	w.ID = id
	w.OrderID = orderID
	return &w, nil
}
