package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthChecker reports whether a background component is still
// ticking successfully. The sweeper satisfies this via its Healthy
// method.
type HealthChecker interface {
	Healthy() bool
}

// HealthHandler serves /healthz, folding in the sweeper's liveness so
// an orchestrator notices a sweeper that has silently started failing.
type HealthHandler struct {
	sweeper HealthChecker
}

// NewHealthHandler constructs a HealthHandler. sweeper may be nil, in
// which case only the process-up check applies.
func NewHealthHandler(sweeper HealthChecker) *HealthHandler {
	return &HealthHandler{sweeper: sweeper}
}

func (h *HealthHandler) Get(c echo.Context) error {
	if h.sweeper != nil && !h.sweeper.Healthy() {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "degraded", "sweeper": "unhealthy"})
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
}
