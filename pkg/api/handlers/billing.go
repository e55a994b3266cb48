package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	apierrors "github.com/suiteshq/suites-backend/pkg/api/errors"
	"github.com/suiteshq/suites-backend/pkg/billing"
	"github.com/suiteshq/suites-backend/pkg/models"
)

// BillingHandler handles billing-related requests
type BillingHandler struct {
	service    *billing.Service
	reconciler *billing.Reconciler
	validate   *validator.Validate
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(service *billing.Service, reconciler *billing.Reconciler) *BillingHandler {
	return &BillingHandler{
		service:    service,
		reconciler: reconciler,
		validate:   validator.New(),
	}
}

func userRefFromContext(c echo.Context) billing.UserRef {
	id, _ := c.Get("user_id").(int)
	email, _ := c.Get("user_email").(string)
	name, _ := c.Get("user_name").(string)
	return billing.UserRef{ID: id, Email: email, Name: name}
}

// domainError maps billing sentinel errors onto HTTP responses with stable
// error codes. Returns false when err is not a domain error.
func domainError(c echo.Context, err error) (bool, error) {
	statusByErr := []struct {
		err    error
		status int
	}{
		{billing.ErrPlanNotFound, http.StatusNotFound},
		{billing.ErrWrongToolForPlan, http.StatusBadRequest},
		{billing.ErrPriceNotConfigured, http.StatusBadRequest},
		{billing.ErrAlreadySubscribed, http.StatusConflict},
		{billing.ErrTrialAlreadyUsed, http.StatusConflict},
		{billing.ErrCheckoutNotComplete, http.StatusConflict},
		{billing.ErrPaymentNotCompleted, http.StatusPaymentRequired},
		{billing.ErrCustomerMismatch, http.StatusForbidden},
		{billing.ErrBillingInfoNotFound, http.StatusNotFound},
	}
	for _, m := range statusByErr {
		if errors.Is(err, m.err) {
			return true, apierrors.DomainError(c, m.status, m.err.Error())
		}
	}
	return false, nil
}

// StartTrial godoc
// @Summary Start a trial
// @Description Start a local trial subscription for a tool
// @Tags billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body models.TrialStartRequest true "Tool and trial plan"
// @Success 200 {object} entitlements.Entitlements "Resolved entitlements"
// @Failure 400 {object} models.ErrorResponse "Bad request"
// @Failure 409 {object} models.ErrorResponse "Already subscribed or trial used"
// @Router /billing/trial/start [post]
func (h *BillingHandler) StartTrial(c echo.Context) error {
	ctx := c.Request().Context()
	user := userRefFromContext(c)

	var req models.TrialStartRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validate.Struct(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	ents, err := h.service.StartTrial(ctx, user, req.ToolID, req.PlanCode)
	if err != nil {
		if handled, resp := domainError(c, err); handled {
			return resp
		}
		return apierrors.InternalError(c, err)
	}
	return c.JSON(http.StatusOK, ents)
}

// Subscribe godoc
// @Summary Subscribe to a paid plan
// @Description Add a paid tool plan to the user's master subscription
// @Tags billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body models.SubscribeRequest true "Tool and plan"
// @Success 200 {object} models.SubscribeResponse "Provider references"
// @Failure 400 {object} models.ErrorResponse "Bad request"
// @Failure 409 {object} models.ErrorResponse "Already subscribed"
// @Router /billing/subscribe [post]
func (h *BillingHandler) Subscribe(c echo.Context) error {
	ctx := c.Request().Context()
	user := userRefFromContext(c)

	var req models.SubscribeRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validate.Struct(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	resp, err := h.service.Subscribe(ctx, user, req.ToolID, req.PlanCode)
	if err != nil {
		if handled, r := domainError(c, err); handled {
			return r
		}
		return apierrors.InternalError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// CreateCheckoutSession godoc
// @Summary Create checkout session
// @Description Create a provider-hosted checkout session for a price
// @Tags billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body models.CheckoutSessionRequest true "Price to purchase"
// @Success 200 {object} models.CheckoutSessionResponse "Redirect URL"
// @Failure 404 {object} models.ErrorResponse "Unknown price"
// @Router /billing/create-checkout-session [post]
func (h *BillingHandler) CreateCheckoutSession(c echo.Context) error {
	ctx := c.Request().Context()
	user := userRefFromContext(c)

	var req models.CheckoutSessionRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validate.Struct(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	resp, err := h.service.CreateCheckoutSession(ctx, user, req.PriceID)
	if err != nil {
		if handled, r := domainError(c, err); handled {
			return r
		}
		return apierrors.InternalError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// VerifyCheckoutSession godoc
// @Summary Verify checkout session
// @Description Confirm a checkout session after the provider redirect
// @Tags billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body models.VerifySessionRequest true "Session ID"
// @Success 200 {object} models.VerifySessionResponse "Verification result"
// @Failure 402 {object} models.ErrorResponse "Payment not completed"
// @Failure 403 {object} models.ErrorResponse "Customer mismatch"
// @Failure 409 {object} models.ErrorResponse "Checkout not complete"
// @Router /billing/verify-session [post]
func (h *BillingHandler) VerifyCheckoutSession(c echo.Context) error {
	ctx := c.Request().Context()
	user := userRefFromContext(c)

	var req models.VerifySessionRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validate.Struct(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	resp, err := h.service.VerifyCheckoutSession(ctx, user, req.SessionID)
	if err != nil {
		if handled, r := domainError(c, err); handled {
			return r
		}
		return apierrors.InternalError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// CreatePortalSession godoc
// @Summary Open billing portal
// @Description Create a provider billing portal session for the user
// @Tags billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.PortalSessionResponse "Redirect URL"
// @Failure 404 {object} models.ErrorResponse "No billing info"
// @Router /billing/create-portal-session [post]
func (h *BillingHandler) CreatePortalSession(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(int)

	var req struct {
		ReturnURL string `json:"returnUrl"`
	}
	_ = c.Bind(&req) // body optional

	resp, err := h.service.CreatePortalSession(ctx, userID, req.ReturnURL)
	if err != nil {
		if handled, r := domainError(c, err); handled {
			return r
		}
		return apierrors.InternalError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetEntitlements godoc
// @Summary Get entitlements
// @Description Resolve the caller's entitlements, optionally for one tool
// @Tags billing
// @Produce json
// @Security BearerAuth
// @Param toolId query string false "Restrict to one tool"
// @Success 200 {object} map[string]entitlements.Entitlements "Entitlements by tool"
// @Router /billing/me/entitlements [get]
func (h *BillingHandler) GetEntitlements(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(int)

	if toolID := c.QueryParam("toolId"); toolID != "" {
		ents, err := h.service.GetToolEntitlements(ctx, userID, toolID)
		if err != nil {
			return apierrors.InternalError(c, err)
		}
		return c.JSON(http.StatusOK, ents)
	}

	ents, err := h.service.GetEntitlements(ctx, userID)
	if err != nil {
		return apierrors.InternalError(c, err)
	}
	return c.JSON(http.StatusOK, ents)
}

// ListSubscriptions godoc
// @Summary List tool subscriptions
// @Description List the caller's tool subscription rows
// @Tags billing
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.ToolSubscription "Subscriptions"
// @Router /billing/me/subscriptions [get]
func (h *BillingHandler) ListSubscriptions(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(int)

	subs, err := h.service.ListToolSubscriptions(ctx, userID)
	if err != nil {
		return apierrors.DatabaseError(c, err)
	}
	return c.JSON(http.StatusOK, subs)
}

// ListInvoices godoc
// @Summary List invoices
// @Description List the caller's provider invoices
// @Tags billing
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max invoices (default 12)"
// @Success 200 {array} models.InvoiceInfo "Invoices"
// @Router /billing/invoices [get]
func (h *BillingHandler) ListInvoices(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(int)

	limit := 12
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	invoices, err := h.service.ListInvoices(ctx, userID, limit)
	if err != nil {
		return apierrors.InternalError(c, err)
	}
	return c.JSON(http.StatusOK, invoices)
}

// HandleWebhook godoc
// @Summary Provider webhook
// @Description Receive and reconcile a payment provider webhook event
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} models.WebhookAckResponse "Acknowledged"
// @Failure 400 {object} models.ErrorResponse "Invalid signature"
// @Failure 500 {object} models.ErrorResponse "Transient failure, provider will retry"
// @Router /webhooks/stripe [post]
func (h *BillingHandler) HandleWebhook(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	signature := c.Request().Header.Get("Stripe-Signature")
	if err := h.reconciler.HandleWebhook(c.Request().Context(), payload, signature); err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			return apierrors.DomainError(c, http.StatusBadRequest, billing.ErrInvalidSignature.Error())
		}
		// 5xx so the provider redelivers
		return apierrors.InternalError(c, err)
	}

	return c.JSON(http.StatusOK, models.WebhookAckResponse{Received: true})
}
