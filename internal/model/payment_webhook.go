package model

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the outcome carried by an inbound payment webhook.
type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// ProcessingStatus tracks whether a webhook's payment effect has been
// applied yet.  Once Processed, the row is effectively immutable
// (invariant W2).
type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingProcessed ProcessingStatus = "processed"
)

// PaymentWebhook records an inbound payment notification.  order_id is
// deliberately not a foreign key: webhooks may arrive before the order
// they refer to has been committed (see WebhookEngine.ProcessWebhook
// step 2).
//
// Fields:
//  ID               – surrogate row id.
//  IdempotencyKey   – caller-supplied key, unique; the hard correctness
//                     backstop against duplicate delivery.
//  OrderID          – target order id; may reference a not-yet-existing order.
//  PaymentStatus    – success or failed, as reported by the payment provider.
//  ProcessingStatus – pending until the payment effect has been applied.
//  Payload          – opaque JSON payload, stored verbatim for audit.
//  CreatedAt        – first-seen timestamp.
//  UpdatedAt        – last mutation timestamp.
type PaymentWebhook struct {
	ID               uuid.UUID        // payment_webhooks.id
	IdempotencyKey   string           // payment_webhooks.idempotency_key
	OrderID          uuid.UUID        // payment_webhooks.order_id
	PaymentStatus    PaymentStatus    // payment_webhooks.payment_status
	ProcessingStatus ProcessingStatus // payment_webhooks.processing_status
	Payload          []byte           // payment_webhooks.payload
	CreatedAt        time.Time        // payment_webhooks.created_at
	UpdatedAt        time.Time        // payment_webhooks.updated_at
}
