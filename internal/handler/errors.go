package handler

import (
	"net/http"

	"github.com/flashsale/checkout-engine/internal/engine"
)

// kindStatus is the single table mapping engine.Kind to an HTTP
// status, so no handler inspects error strings to decide a response
// code.
var kindStatus = map[engine.Kind]int{
	engine.KindValidation:              http.StatusUnprocessableEntity,
	engine.KindNotFound:                http.StatusNotFound,
	engine.KindInsufficientStock:       http.StatusConflict,
	engine.KindHoldExpired:             http.StatusGone,
	engine.KindHoldNotActive:           http.StatusConflict,
	engine.KindTerminalState:           http.StatusConflict,
	engine.KindSystemBusy:              http.StatusServiceUnavailable,
	engine.KindStockInvariantViolation: http.StatusInternalServerError,
	engine.KindTransient:               http.StatusInternalServerError,
}

// statusFor returns the HTTP status for err, mapping a tagged
// *engine.Error through kindStatus and anything else to 500.
func statusFor(err error) int {
	if ee, ok := err.(*engine.Error); ok {
		if status, ok := kindStatus[ee.Kind]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// errorBody renders a uniform JSON error payload.
func errorBody(err error) map[string]any {
	if ee, ok := err.(*engine.Error); ok {
		return map[string]any{"error": string(ee.Kind), "message": ee.Message}
	}
	return map[string]any{"error": "internal", "message": "an unexpected error occurred"}
}
