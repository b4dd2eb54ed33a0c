package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/flashsale/checkout-engine/internal/cache"
	"github.com/flashsale/checkout-engine/internal/repository"
)

// ProductHandler serves the public read-only product endpoint.
type ProductHandler struct {
	products   *repository.ProductRepo
	holds      *repository.HoldRepo
	stockCache *cache.StockCache
}

// NewProductHandler constructs a ProductHandler.
func NewProductHandler(products *repository.ProductRepo, holds *repository.HoldRepo, stockCache *cache.StockCache) *ProductHandler {
	return &ProductHandler{products: products, holds: holds, stockCache: stockCache}
}

// Get handles GET /api/products/{id}.
func (h *ProductHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": "validation", "message": "id must be a positive integer"})
	}

	ctx := c.Request().Context()
	product, err := h.products.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]any{"error": "not_found", "message": "product not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "internal", "message": "failed to load product"})
	}

	available, err := h.stockCache.Get(ctx, id, func(ctx context.Context) (uint32, error) {
		heldQty, err := h.holds.SumActiveQty(ctx, id, time.Now().UTC())
		if err != nil {
			return 0, err
		}
		if heldQty > product.Stock {
			return 0, nil
		}
		return product.Stock - heldQty, nil
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "internal", "message": "failed to compute available stock"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"id":              product.ID,
		"name":            product.Name,
		"description":     product.Description,
		"price":           product.Price.StringFixed(2),
		"available_stock": available,
		"updated_at":      product.UpdatedAt.UTC().Format(time.RFC3339),
	})
}
