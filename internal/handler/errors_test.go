package handler

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flashsale/checkout-engine/internal/engine"
)

func TestStatusFor_KnownKinds(t *testing.T) {
	cases := []struct {
		kind engine.Kind
		want int
	}{
		{engine.KindValidation, http.StatusUnprocessableEntity},
		{engine.KindNotFound, http.StatusNotFound},
		{engine.KindInsufficientStock, http.StatusConflict},
		{engine.KindHoldExpired, http.StatusGone},
		{engine.KindHoldNotActive, http.StatusConflict},
		{engine.KindTerminalState, http.StatusConflict},
		{engine.KindSystemBusy, http.StatusServiceUnavailable},
		{engine.KindStockInvariantViolation, http.StatusInternalServerError},
		{engine.KindTransient, http.StatusInternalServerError},
	}
	for _, c := range cases {
		err := &engine.Error{Kind: c.kind, Message: "x"}
		assert.Equal(t, c.want, statusFor(err))
	}
}

func TestStatusFor_UnknownError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("plain")))
}

func TestErrorBody_TaggedVsPlain(t *testing.T) {
	tagged := &engine.Error{Kind: engine.KindNotFound, Message: "product not found"}
	body := errorBody(tagged)
	assert.Equal(t, "not_found", body["error"])
	assert.Equal(t, "product not found", body["message"])

	plain := errorBody(errors.New("boom"))
	assert.Equal(t, "internal", plain["error"])
}
