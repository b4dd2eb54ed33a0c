package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/flashsale/checkout-engine/internal/engine"
)

// HoldHandler serves the hold-admission endpoint.
type HoldHandler struct {
	holds *engine.HoldEngine
}

// NewHoldHandler constructs a HoldHandler.
func NewHoldHandler(holds *engine.HoldEngine) *HoldHandler {
	return &HoldHandler{holds: holds}
}

type createHoldRequest struct {
	ProductID uint64 `json:"product_id"`
	Quantity  uint32 `json:"qty"`
}

// Create handles POST /api/holds.
func (h *HoldHandler) Create(c echo.Context) error {
	var req createHoldRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": "validation", "message": "malformed request body"})
	}
	if req.ProductID == 0 || req.Quantity == 0 {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": "validation", "message": "product_id and qty are required"})
	}

	hold, err := h.holds.CreateHold(c.Request().Context(), req.ProductID, req.Quantity)
	if err != nil {
		return c.JSON(statusFor(err), errorBody(err))
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"hold_id":    hold.ID,
		"expires_at": hold.ExpiresAt.UTC().Format(time.RFC3339),
		"product_id": hold.ProductID,
		"quantity":   hold.Quantity,
	})
}
