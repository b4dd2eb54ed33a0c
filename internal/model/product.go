package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the physical inventory unit that holds are reserved
// against and orders are eventually settled against.  Stock is the
// authoritative count; it is decremented only when an order's payment
// settles (see Order.Status = paid).
//
// Fields:
//  ID        – products.id, a plain integer.
//  Name      – display name used by the public product endpoint.
//  Price     – unit price, two-digit fixed point.
//  Stock     – physical inventory currently on hand.
//  Version   – optimistic-lock tag; bumped on every stock-changing commit.
//  UpdatedAt – last modification timestamp.
type Product struct {
	ID          uint64          // products.id
	Name        string          // products.name
	Description string          // products.description
	Price       decimal.Decimal // products.price
	Stock       uint32          // products.stock
	Version     uint32          // products.version
	CreatedAt   time.Time       // products.created_at
	UpdatedAt   time.Time       // products.updated_at
}
