package engine

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/flashsale/checkout-engine/internal/model"
	"github.com/flashsale/checkout-engine/internal/repository"
	"github.com/flashsale/checkout-engine/internal/store"
)

// Outcome classifies the result of processing one payment webhook
// delivery (SPEC_FULL.md §4.5).
type Outcome string

const (
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomePending          Outcome = "pending"
	OutcomeAlreadyFinalized Outcome = "already_finalized"
	OutcomeProcessed        Outcome = "processed"
)

// Result carries the outcome of ProcessWebhook along with the order
// and processing state the caller needs to render a response.
type Result struct {
	Outcome          Outcome
	WebhookID        uuid.UUID
	ProcessingStatus model.ProcessingStatus
	OrderStatus      model.OrderStatus
}

// orderWaitAttempts and orderWaitSleep implement the short bounded
// retry that absorbs a racing order creation which has not yet
// committed when its webhook arrives first. They are fixed at 3 × 100 ms;
// the ORDER_WAIT_ATTEMPTS and ORDER_WAIT_SLEEP_MS values that
// config.Load reads are not passed to the engine.
const (
	orderWaitAttempts = 3
	orderWaitSleep    = 100 * time.Millisecond
)

// WebhookEngine owns the PaymentWebhook state machine: idempotent
// ingestion of payment notifications and the deferred drain of
// webhooks that arrived before their order existed.
type WebhookEngine struct {
	store    *store.Store
	webhooks *repository.WebhookRepo
	orders   *OrderEngine
	pageSize int
}

// NewWebhookEngine constructs a WebhookEngine.
func NewWebhookEngine(st *store.Store, webhooks *repository.WebhookRepo, orders *OrderEngine, pageSize int) *WebhookEngine {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &WebhookEngine{store: st, webhooks: webhooks, orders: orders, pageSize: pageSize}
}

// ProcessWebhook ingests one payment provider delivery. The unique
// index on idempotency_key is the hard correctness backstop: even if
// two concurrent deliveries of the same key race past the initial
// lookup, only one insert in this transaction succeeds; the loser's
// transaction fails the uniqueness constraint, is retried by the
// Store, and then observes the row already present.
func (e *WebhookEngine) ProcessWebhook(ctx context.Context, idempotencyKey string, orderID uuid.UUID, paymentStatus model.PaymentStatus, payload []byte) (*Result, error) {
	var (
		result     *Result
		productID  uint64
		toNotify   bool
		settledEvt OrderSettledEvent
	)

	err := e.store.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result, productID, toNotify, settledEvt = nil, 0, false, OrderSettledEvent{}

		if existing, err := e.webhooks.GetByIdempotencyKeyTx(ctx, tx, idempotencyKey); err == nil {
			r := &Result{Outcome: OutcomeDuplicate, WebhookID: existing.ID, ProcessingStatus: existing.ProcessingStatus}
			if o, oerr := e.orders.orders.LockForUpdateTx(ctx, tx, existing.OrderID); oerr == nil {
				r.OrderStatus = o.Status
			}
			result = r
			return nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		order, err := e.waitForOrderTx(ctx, tx, orderID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if order == nil {
			w := &model.PaymentWebhook{
				ID: uuid.New(), IdempotencyKey: idempotencyKey, OrderID: orderID,
				PaymentStatus: paymentStatus, ProcessingStatus: model.ProcessingPending,
				Payload: payload, CreatedAt: now, UpdatedAt: now,
			}
			if err := e.webhooks.InsertPendingTx(ctx, tx, w); err != nil {
				return err
			}
			result = &Result{Outcome: OutcomePending, WebhookID: w.ID, ProcessingStatus: model.ProcessingPending}
			return nil
		}

		if order.Status.IsTerminal() {
			w := &model.PaymentWebhook{
				ID: uuid.New(), IdempotencyKey: idempotencyKey, OrderID: orderID,
				PaymentStatus: paymentStatus, ProcessingStatus: model.ProcessingProcessed,
				Payload: payload, CreatedAt: now, UpdatedAt: now,
			}
			if err := e.webhooks.InsertPendingTx(ctx, tx, w); err != nil {
				return err
			}
			result = &Result{Outcome: OutcomeAlreadyFinalized, WebhookID: w.ID, ProcessingStatus: model.ProcessingProcessed, OrderStatus: order.Status}
			return nil
		}

		w := &model.PaymentWebhook{
			ID: uuid.New(), IdempotencyKey: idempotencyKey, OrderID: orderID,
			PaymentStatus: paymentStatus, ProcessingStatus: model.ProcessingPending,
			Payload: payload, CreatedAt: now, UpdatedAt: now,
		}
		if err := e.webhooks.InsertPendingTx(ctx, tx, w); err != nil {
			return err
		}

		var finalStatus model.OrderStatus
		switch paymentStatus {
		case model.PaymentSuccess:
			paid, notify, evt, err := e.orders.markPaidTx(ctx, tx, orderID)
			if err != nil {
				return err
			}
			finalStatus = paid.Status
			productID, toNotify, settledEvt = paid.ProductID, notify, evt
		case model.PaymentFailed:
			cancelled, err := e.orders.cancelOrderTx(ctx, tx, orderID)
			if err != nil {
				return err
			}
			finalStatus = cancelled.Status
			productID = cancelled.ProductID
		default:
			return errValidation("unrecognized payment_status")
		}

		if _, err := e.webhooks.MarkProcessedTx(ctx, tx, w.ID); err != nil {
			return err
		}
		result = &Result{Outcome: OutcomeProcessed, WebhookID: w.ID, ProcessingStatus: model.ProcessingProcessed, OrderStatus: finalStatus}
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err, "process payment webhook")
	}

	if productID != 0 {
		e.orders.afterSettle(ctx, &model.Order{ProductID: productID}, toNotify, settledEvt)
	}
	return result, nil
}

// waitForOrderTx attempts to lock-read the target order up to
// orderWaitAttempts times, sleeping orderWaitSleep between tries, to
// absorb a racing order creation that has not yet committed. It
// returns a nil order (not an error) if the order still does not
// exist after the budget is exhausted.
func (e *WebhookEngine) waitForOrderTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*model.Order, error) {
	for attempt := 1; attempt <= orderWaitAttempts; attempt++ {
		o, err := e.orders.orders.LockForUpdateTx(ctx, tx, orderID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if attempt == orderWaitAttempts {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(orderWaitSleep):
		}
	}
	return nil, nil
}

// DrainPending sweeps PaymentWebhook rows still marked pending,
// applying their payment effect if the target order now exists and is
// not yet terminal, and returns the number of rows transitioned to
// processed.
func (e *WebhookEngine) DrainPending(ctx context.Context) (int, error) {
	total := 0
	for {
		ids, err := e.webhooks.PagePending(ctx, e.pageSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		for _, id := range ids {
			processed, err := e.drainOneTx(ctx, id)
			if err != nil {
				log.Printf("webhook-engine: drain failed for webhook %s: %v", id, err)
				continue
			}
			if processed {
				total++
			}
		}
		if len(ids) < e.pageSize {
			return total, nil
		}
	}
}

func (e *WebhookEngine) drainOneTx(ctx context.Context, webhookID uuid.UUID) (bool, error) {
	var (
		processed  bool
		productID  uint64
		toNotify   bool
		settledEvt OrderSettledEvent
	)
	err := e.store.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		w, err := e.webhooks.GetTx(ctx, tx, webhookID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		if w.ProcessingStatus == model.ProcessingProcessed {
			return nil
		}
		order, err := e.orders.orders.LockForUpdateTx(ctx, tx, w.OrderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		if !order.Status.IsTerminal() {
			switch w.PaymentStatus {
			case model.PaymentSuccess:
				paid, notify, evt, err := e.orders.markPaidTx(ctx, tx, w.OrderID)
				if err != nil {
					return err
				}
				productID, toNotify, settledEvt = paid.ProductID, notify, evt
			case model.PaymentFailed:
				cancelled, err := e.orders.cancelOrderTx(ctx, tx, w.OrderID)
				if err != nil {
					return err
				}
				productID = cancelled.ProductID
			}
		}
		ok, err := e.webhooks.MarkProcessedTx(ctx, tx, webhookID)
		if err != nil {
			return err
		}
		processed = ok
		return nil
	})
	if err != nil {
		return false, err
	}
	if processed && productID != 0 {
		e.orders.afterSettle(ctx, &model.Order{ProductID: productID}, toNotify, settledEvt)
	}
	return processed, nil
}
