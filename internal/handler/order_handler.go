package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/flashsale/checkout-engine/internal/engine"
)

// OrderHandler serves the order-creation endpoint.
type OrderHandler struct {
	orders *engine.OrderEngine
}

// NewOrderHandler constructs an OrderHandler.
func NewOrderHandler(orders *engine.OrderEngine) *OrderHandler {
	return &OrderHandler{orders: orders}
}

type createOrderRequest struct {
	HoldID string `json:"hold_id"`
}

// Create handles POST /api/orders.
func (h *OrderHandler) Create(c echo.Context) error {
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": "validation", "message": "malformed request body"})
	}
	holdID, err := uuid.Parse(req.HoldID)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": "validation", "message": "hold_id must be a uuid"})
	}

	order, err := h.orders.CreateOrderFromHold(c.Request().Context(), holdID)
	if err != nil {
		return c.JSON(statusFor(err), errorBody(err))
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"order_id":    order.ID,
		"hold_id":     order.HoldID,
		"product_id":  order.ProductID,
		"quantity":    order.Quantity,
		"unit_price":  order.UnitPrice.StringFixed(2),
		"total_price": order.TotalPrice.StringFixed(2),
		"status":      order.Status,
		"created_at":  order.CreatedAt.UTC().Format(time.RFC3339),
	})
}
