package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apierrors "github.com/suiteshq/suites-backend/pkg/api/errors"
	"github.com/suiteshq/suites-backend/pkg/catalog"
)

// PricingHandler serves the public plan catalog
type PricingHandler struct {
	catalog *catalog.Service
}

// NewPricingHandler creates a new pricing handler
func NewPricingHandler(catalogService *catalog.Service) *PricingHandler {
	return &PricingHandler{catalog: catalogService}
}

// GetPricing godoc
// @Summary Tool pricing
// @Description List a tool's active plans with their feature grants
// @Tags pricing
// @Produce json
// @Param tool query string false "Tool slug (default salestrack)"
// @Success 200 {object} models.PricingResponse "Plans"
// @Failure 404 {object} models.ErrorResponse "Unknown tool"
// @Router /billing/pricing [get]
func (h *PricingHandler) GetPricing(c echo.Context) error {
	ctx := c.Request().Context()
	toolSlug := c.QueryParam("tool")
	if toolSlug == "" {
		toolSlug = "salestrack"
	}

	pricing, err := h.catalog.Pricing(ctx, toolSlug)
	if err != nil {
		return apierrors.DatabaseError(c, err)
	}
	if pricing == nil {
		return apierrors.NotFoundError(c, "tool")
	}
	return c.JSON(http.StatusOK, pricing)
}
