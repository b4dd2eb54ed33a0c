// Package engine implements the Hold, Order and PaymentWebhook state
// machines described in SPEC_FULL.md §4, including the no-oversell
// admission algorithm and the expiry/drain sweep. It is the only layer
// that mutates hold, order and webhook rows; handlers and the sweeper
// call into it for every write, and only the read-only product endpoint
// reads the repositories directly.
package engine

import "fmt"

// Kind classifies an engine-level failure so that internal/handler can
// map it to an HTTP status without string matching.
type Kind string

const (
	KindValidation              Kind = "validation"
	KindNotFound                Kind = "not_found"
	KindInsufficientStock       Kind = "insufficient_stock"
	KindHoldExpired             Kind = "hold_expired"
	KindHoldNotActive           Kind = "hold_not_active"
	KindTerminalState           Kind = "terminal_state"
	KindSystemBusy              Kind = "system_busy"
	KindStockInvariantViolation Kind = "stock_invariant_violation"
	KindTransient               Kind = "transient"
)

// Error is the sum type the request-path engine operations (CreateHold,
// ReleaseHold, CreateOrderFromHold, MarkPaid, CancelOrder,
// ProcessWebhook) return on failure; the sweeps ExpireDue and
// DrainPending return their paging query errors untagged. Wrapping a plain error would force handlers to inspect error chains
// for domain meaning; Kind makes that meaning explicit at the point of
// construction instead.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func errValidation(message string) *Error { return newErr(KindValidation, message, nil) }

func errNotFound(message string) *Error { return newErr(KindNotFound, message, nil) }

func errInsufficientStock(message string) *Error {
	return newErr(KindInsufficientStock, message, nil)
}

func errHoldExpired(message string) *Error { return newErr(KindHoldExpired, message, nil) }

func errHoldNotActive(message string) *Error { return newErr(KindHoldNotActive, message, nil) }

func errTerminalState(message string) *Error { return newErr(KindTerminalState, message, nil) }

func errSystemBusy(message string, err error) *Error {
	return newErr(KindSystemBusy, message, err)
}

func errStockInvariantViolation(message string) *Error {
	return newErr(KindStockInvariantViolation, message, nil)
}

func errTransient(message string, err error) *Error {
	return newErr(KindTransient, message, err)
}
