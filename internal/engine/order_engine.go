package engine

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flashsale/checkout-engine/internal/cache"
	"github.com/flashsale/checkout-engine/internal/model"
	"github.com/flashsale/checkout-engine/internal/repository"
	"github.com/flashsale/checkout-engine/internal/store"
)

// SettlementPublisher publishes an OrderSettledEvent after a payment
// commits. It is best-effort: a failure is logged but never reverses
// or blocks the already-committed payment outcome (SPEC_FULL.md §4.7).
type SettlementPublisher interface {
	PublishOrderSettled(ctx context.Context, evt OrderSettledEvent) error
}

// OrderSettledEvent is published to the settlement notification queue
// once an order's payment has been recorded as paid.
type OrderSettledEvent struct {
	OrderID    uuid.UUID
	HoldID     uuid.UUID
	ProductID  uint64
	Quantity   uint32
	TotalPrice decimal.Decimal
	SettledAt  time.Time
}

// OrderEngine owns the Order state machine: conversion from a hold,
// payment settlement and cancellation.
type OrderEngine struct {
	store      *store.Store
	orders     *repository.OrderRepo
	holds      *HoldEngine
	products   *repository.ProductRepo
	stockCache *cache.StockCache
	publisher  SettlementPublisher
}

// NewOrderEngine constructs an OrderEngine. publisher may be nil, in
// which case settlement notification is skipped entirely.
func NewOrderEngine(st *store.Store, orders *repository.OrderRepo, holds *HoldEngine, products *repository.ProductRepo, stockCache *cache.StockCache, publisher SettlementPublisher) *OrderEngine {
	return &OrderEngine{store: st, orders: orders, holds: holds, products: products, stockCache: stockCache, publisher: publisher}
}

// CreateOrderFromHold converts holdID into a pending-payment order.
// Calling it twice for the same hold is idempotent: the second call
// returns the order already created by the first.
func (e *OrderEngine) CreateOrderFromHold(ctx context.Context, holdID uuid.UUID) (*model.Order, error) {
	var order *model.Order
	err := e.store.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := e.holds.holds.LockForUpdateTx(ctx, tx, holdID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return errNotFound("hold not found")
			}
			return err
		}
		if existing, err := e.orders.GetByHoldIDTx(ctx, tx, holdID); err == nil {
			order = existing
			return nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		h, err := e.holds.convertHoldTx(ctx, tx, holdID)
		if err != nil {
			return err
		}

		product, err := e.products.LockForUpdateTx(ctx, tx, h.ProductID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return errNotFound("product not found")
			}
			return err
		}

		qty := decimal.NewFromInt(int64(h.Quantity))
		o := &model.Order{
			ID:         uuid.New(),
			HoldID:     h.ID,
			ProductID:  h.ProductID,
			Quantity:   h.Quantity,
			UnitPrice:  product.Price,
			TotalPrice: product.Price.Mul(qty).Round(2),
			Status:     model.OrderPendingPayment,
			CreatedAt:  time.Now().UTC(),
			UpdatedAt:  time.Now().UTC(),
		}
		if err := e.orders.CreateTx(ctx, tx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err, "create order from hold")
	}
	return order, nil
}

// MarkPaid settles order, deducting its reserved quantity from the
// product's physical stock and transitioning it to paid. It is a
// no-op if the order is already paid. The settlement event, if any, is
// published only after the transaction has committed.
func (e *OrderEngine) MarkPaid(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	var (
		settled  *model.Order
		evt      OrderSettledEvent
		toNotify bool
	)
	err := e.store.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		o, notify, settleEvt, err := e.markPaidTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		settled, toNotify, evt = o, notify, settleEvt
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err, "mark order paid")
	}
	e.afterSettle(ctx, settled, toNotify, evt)
	return settled, nil
}

// markPaidTx is the transaction-scoped core of MarkPaid, shared with
// WebhookEngine.ProcessWebhook so a webhook's idempotency bookkeeping
// and its payment effect commit atomically together.
func (e *OrderEngine) markPaidTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*model.Order, bool, OrderSettledEvent, error) {
	o, err := e.orders.LockForUpdateTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, OrderSettledEvent{}, errNotFound("order not found")
		}
		return nil, false, OrderSettledEvent{}, err
	}
	if o.Status == model.OrderPaid {
		return o, false, OrderSettledEvent{}, nil
	}
	if o.Status != model.OrderPendingPayment {
		return nil, false, OrderSettledEvent{}, errTerminalState("order is not awaiting payment")
	}

	product, err := e.products.LockForUpdateTx(ctx, tx, o.ProductID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, OrderSettledEvent{}, errNotFound("product not found")
		}
		return nil, false, OrderSettledEvent{}, err
	}
	if product.Stock < o.Quantity {
		log.Printf("order-engine: stock invariant violation settling order %s: stock=%d quantity=%d", o.ID, product.Stock, o.Quantity)
		return nil, false, OrderSettledEvent{}, errStockInvariantViolation("physical stock insufficient to settle this order")
	}
	if err := e.products.DecrementStockTx(ctx, tx, o.ProductID, o.Quantity, product.Version); err != nil {
		return nil, false, OrderSettledEvent{}, err
	}
	if _, err := e.orders.UpdateStatusTx(ctx, tx, orderID, model.OrderPendingPayment, model.OrderPaid); err != nil {
		return nil, false, OrderSettledEvent{}, err
	}
	o.Status = model.OrderPaid
	evt := OrderSettledEvent{
		OrderID: o.ID, HoldID: o.HoldID, ProductID: o.ProductID,
		Quantity: o.Quantity, TotalPrice: o.TotalPrice, SettledAt: time.Now().UTC(),
	}
	return o, true, evt, nil
}

// afterSettle invalidates the stock cache and best-effort-publishes the
// settlement event once a settling transaction has committed.
func (e *OrderEngine) afterSettle(ctx context.Context, settled *model.Order, toNotify bool, evt OrderSettledEvent) {
	if settled == nil {
		return
	}
	e.stockCache.Invalidate(ctx, settled.ProductID)
	if toNotify && e.publisher != nil {
		if err := e.publisher.PublishOrderSettled(ctx, evt); err != nil {
			log.Printf("order-engine: settlement notification failed for order %s: %v", evt.OrderID, err)
		}
	}
}

// CancelOrder cancels a pending-payment order, releasing its converted
// hold back to the pool. Stock is untouched, since MarkPaid is the
// only path that ever deducts it.
func (e *OrderEngine) CancelOrder(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	var cancelled *model.Order
	err := e.store.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		o, err := e.cancelOrderTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		cancelled = o
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err, "cancel order")
	}
	e.stockCache.Invalidate(ctx, cancelled.ProductID)
	return cancelled, nil
}

// cancelOrderTx is the transaction-scoped core of CancelOrder, shared
// with WebhookEngine.ProcessWebhook for the failed-payment path.
func (e *OrderEngine) cancelOrderTx(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (*model.Order, error) {
	o, err := e.orders.LockForUpdateTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errNotFound("order not found")
		}
		return nil, err
	}
	if o.Status == model.OrderCancelled {
		return o, nil
	}
	if o.Status != model.OrderPendingPayment {
		return nil, errTerminalState("order is not awaiting payment")
	}

	h, err := e.holds.holds.LockForUpdateTx(ctx, tx, o.HoldID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if err == nil && h.Status == model.HoldConverted {
		if _, err := e.holds.holds.UpdateStatusTx(ctx, tx, o.HoldID, model.HoldConverted, model.HoldReleased); err != nil {
			return nil, err
		}
	}

	if _, err := e.orders.UpdateStatusTx(ctx, tx, orderID, model.OrderPendingPayment, model.OrderCancelled); err != nil {
		return nil, err
	}
	o.Status = model.OrderCancelled
	return o, nil
}
