// Package router wires the HTTP surface described in SPEC_FULL.md §6
// onto an echo.Echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/flashsale/checkout-engine/internal/handler"
)

// Handlers bundles every handler RegisterRoutes wires up.
type Handlers struct {
	Health  *handler.HealthHandler
	Product *handler.ProductHandler
	Hold    *handler.HoldHandler
	Order   *handler.OrderHandler
	Webhook *handler.WebhookHandler
}

// RegisterRoutes mounts the checkout coordinator's HTTP/JSON surface.
func RegisterRoutes(e *echo.Echo, h Handlers) {
	e.GET("/healthz", h.Health.Get)

	api := e.Group("/api")
	api.GET("/products/:id", h.Product.Get)
	api.POST("/holds", h.Hold.Create)
	api.POST("/orders", h.Order.Create)
	api.POST("/payments/webhook", h.Webhook.Handle)
}
