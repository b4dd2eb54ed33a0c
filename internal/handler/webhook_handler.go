package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/flashsale/checkout-engine/internal/engine"
	"github.com/flashsale/checkout-engine/internal/model"
)

// WebhookHandler serves the payment webhook ingestion endpoint.
type WebhookHandler struct {
	webhooks *engine.WebhookEngine
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(webhooks *engine.WebhookEngine) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

type paymentWebhookRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	OrderID        string          `json:"order_id"`
	Status         string          `json:"status"`
	Payload        json.RawMessage `json:"payload"`
}

// Handle handles POST /api/payments/webhook.
func (h *WebhookHandler) Handle(c echo.Context) error {
	start := time.Now()

	var req paymentWebhookRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": "validation", "message": "malformed request body"})
	}
	if req.IdempotencyKey == "" || len(req.IdempotencyKey) > 255 {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": "validation", "message": "idempotency_key is required and must be at most 255 characters"})
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": "validation", "message": "order_id must be a uuid"})
	}
	var paymentStatus model.PaymentStatus
	switch req.Status {
	case "success":
		paymentStatus = model.PaymentSuccess
	case "failed":
		paymentStatus = model.PaymentFailed
	default:
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": "validation", "message": `status must be "success" or "failed"`})
	}

	result, err := h.webhooks.ProcessWebhook(c.Request().Context(), req.IdempotencyKey, orderID, paymentStatus, []byte(req.Payload))
	if err != nil {
		return c.JSON(statusFor(err), errorBody(err))
	}

	switch result.Outcome {
	case engine.OutcomeProcessed:
		return c.JSON(http.StatusOK, map[string]any{
			"status":             "processed",
			"order_id":           orderID,
			"order_status":       result.OrderStatus,
			"webhook_id":         result.WebhookID,
			"processing_time_ms": time.Since(start).Milliseconds(),
		})
	case engine.OutcomeDuplicate:
		return c.JSON(http.StatusOK, map[string]any{
			"status":            "duplicate",
			"webhook_id":        result.WebhookID,
			"processing_status": result.ProcessingStatus,
			"order_status":      result.OrderStatus,
		})
	case engine.OutcomePending:
		return c.JSON(http.StatusOK, map[string]any{
			"status":     "pending",
			"webhook_id": result.WebhookID,
			"message":    "order not yet visible, webhook recorded for deferred processing",
		})
	case engine.OutcomeAlreadyFinalized:
		return c.JSON(http.StatusOK, map[string]any{
			"status":       "already_finalized",
			"order_status": result.OrderStatus,
			"webhook_id":   result.WebhookID,
		})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "internal", "message": "unrecognized webhook outcome"})
	}
}
