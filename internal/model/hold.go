package model

import (
	"time"

	"github.com/google/uuid"
)

// HoldStatus enumerates the lifecycle states of a Hold.  A hold leaves
// HoldActive exactly once (invariant H1 in the design spec).
type HoldStatus string

const (
	HoldActive    HoldStatus = "active"
	HoldConverted HoldStatus = "converted"
	HoldExpired   HoldStatus = "expired"
	HoldReleased  HoldStatus = "released"
)

// Hold represents a time-bounded reservation of quantity units of a
// product.  Holds count against available stock but never touch
// physical stock; physical stock is only decremented when the order
// derived from a hold settles (see OrderEngine.MarkPaid).
//
// Fields:
//  ID        – globally unique hold id.
//  ProductID – product this hold reserves units of.
//  Quantity  – number of units held; always in [1, MAX_HOLD_QTY].
//  Status    – current lifecycle state.
//  ExpiresAt – absolute UTC instant the hold lapses at.
//  CreatedAt – creation timestamp.
type Hold struct {
	ID        uuid.UUID  // holds.id
	ProductID uint64     // holds.product_id
	Quantity  uint32     // holds.quantity
	Status    HoldStatus // holds.status
	ExpiresAt time.Time  // holds.expires_at
	CreatedAt time.Time  // holds.created_at
}

// IsActive reports whether the hold is still live, i.e. not yet
// transitioned out of active and not yet past its expiry instant.
func (h Hold) IsActive(now time.Time) bool {
	return h.Status == HoldActive && h.ExpiresAt.After(now)
}
