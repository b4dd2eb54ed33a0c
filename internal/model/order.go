package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the lifecycle states of an Order.  paid,
// cancelled and refunded are terminal: once reached, no further
// transition is permitted (invariant from the design spec, §3).
type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderPaid           OrderStatus = "paid"
	OrderCancelled      OrderStatus = "cancelled"
	OrderRefunded       OrderStatus = "refunded"
)

// IsTerminal reports whether the status admits no further transition.
// refunded is included for completeness even though no transition into
// it is implemented here (see SPEC_FULL.md §9 Open Questions).
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderPaid, OrderCancelled, OrderRefunded:
		return true
	default:
		return false
	}
}

// Order is the converted form of a Hold.  At most one Order ever
// references a given hold_id (invariant H2).  unit_price is snapshotted
// from the product at conversion time so that later price changes do
// not retroactively affect an in-flight order.
//
// Fields:
//  ID         – globally unique order id.
//  HoldID     – the hold this order was converted from; unique.
//  ProductID  – product being purchased.
//  Quantity   – units purchased; mirrors the source hold's quantity.
//  UnitPrice  – price per unit, snapshotted at conversion.
//  TotalPrice – UnitPrice * Quantity.
//  Status     – current lifecycle state.
//  CreatedAt  – creation timestamp.
type Order struct {
	ID         uuid.UUID       // orders.id
	HoldID     uuid.UUID       // orders.hold_id
	ProductID  uint64          // orders.product_id
	Quantity   uint32          // orders.quantity
	UnitPrice  decimal.Decimal // orders.unit_price
	TotalPrice decimal.Decimal // orders.total_price
	Status     OrderStatus     // orders.status
	CreatedAt  time.Time       // orders.created_at
	UpdatedAt  time.Time       // orders.updated_at
}
