package billing

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/suiteshq/suites-backend/config"
	"github.com/suiteshq/suites-backend/pkg/catalog"
	"github.com/suiteshq/suites-backend/pkg/entitlements"
	"github.com/suiteshq/suites-backend/pkg/metrics"
	"github.com/suiteshq/suites-backend/pkg/models"
)

const defaultTrialDays = 30

// Service orchestrates trials, subscriptions and checkout against the
// payment provider. Provider responses are applied optimistically; the
// webhook reconciler later converges the rows on the provider's truth.
type Service struct {
	store    Store
	catalog  *catalog.Service
	provider Provider
	cfg      *config.Config
	now      func() time.Time
}

// NewService creates the billing orchestrator.
func NewService(store Store, catalogService *catalog.Service, provider Provider, cfg *config.Config) *Service {
	return &Service{
		store:    store,
		catalog:  catalogService,
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
	}
}

// loadTrialablePlan validates that planCode names an active plan usable for
// toolID. Any active plan can be trialed; a plan without an explicit trial
// length falls back to the default. A plan bound to no tool fits every tool.
func (s *Service) loadTrialablePlan(ctx context.Context, toolID, planCode string) (*models.Plan, error) {
	plan, err := s.catalog.GetPlan(ctx, planCode)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.IsActive {
		return nil, ErrPlanNotFound
	}
	if plan.ToolID != nil && *plan.ToolID != toolID {
		return nil, ErrWrongToolForPlan
	}
	return plan, nil
}

// StartTrial grants a local trial subscription for a tool. No provider
// objects are created; the trial lives entirely in the local store.
func (s *Service) StartTrial(ctx context.Context, user UserRef, toolID, planCode string) (*entitlements.Entitlements, error) {
	plan, err := s.loadTrialablePlan(ctx, toolID, planCode)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.FindToolSubscription(ctx, user.ID, toolID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// past_due still belongs to the provider; a trial must not clobber it
		if existing.Status == models.StatusActive || existing.Status == models.StatusTrialing ||
			existing.Status == models.StatusPastDue {
			return nil, ErrAlreadySubscribed
		}
		// A prior manual row means this user already consumed their one
		// lifetime trial for the tool.
		if existing.Provider == models.ProviderManual {
			return nil, ErrTrialAlreadyUsed
		}
	}

	now := s.now().UTC()
	days := defaultTrialDays
	if plan.TrialDays != nil {
		days = *plan.TrialDays
	}
	trialEnd := now.AddDate(0, 0, days)

	sub, err := s.store.UpsertToolSubscription(ctx, user.ID, toolID, ToolSubscriptionFields{
		PlanCode:  plan.Code,
		Status:    models.StatusTrialing,
		TrialEnd:  &trialEnd,
		StartedAt: &now,
		Provider:  models.ProviderManual,
	})
	if err != nil {
		return nil, err
	}

	metrics.TrialsStartedTotal.WithLabelValues(plan.Code).Inc()
	log.Printf("✅ Trial started: user=%d tool=%s plan=%s until=%s", user.ID, toolID, plan.Code, trialEnd.Format(time.RFC3339))

	features, err := s.catalog.ListPlanFeatures(ctx, plan.Code)
	if err != nil {
		return nil, err
	}
	e := entitlements.Resolve(plan, features, sub)
	return &e, nil
}

// getOrCreateCustomer resolves the user's provider customer, creating one on
// first use and recording the mapping.
func (s *Service) getOrCreateCustomer(ctx context.Context, user UserRef) (string, error) {
	bc, err := s.store.GetBillingCustomerByUserID(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if bc != nil {
		return bc.StripeCustomerID, nil
	}

	customerID, err := s.provider.CreateCustomer(ctx, user)
	if err != nil {
		return "", fmt.Errorf("failed to create provider customer: %w", err)
	}
	if err := s.store.UpsertBillingCustomer(ctx, user.ID, customerID); err != nil {
		return "", err
	}
	log.Printf("✅ Created provider customer %s for user %d", customerID, user.ID)
	return customerID, nil
}

// getOrCreateMasterSubscription returns the user's live provider-backed
// master subscription, creating one anchored to the 1st of next month when
// none exists. Idempotent: a live master is always reused, never duplicated.
func (s *Service) getOrCreateMasterSubscription(ctx context.Context, user UserRef, customerID string) (*models.Subscription, error) {
	master, err := s.store.FindLiveMaster(ctx, user.ID, models.ProviderStripe)
	if err != nil {
		return nil, err
	}
	if master != nil && master.ProviderRef != nil {
		return master, nil
	}

	anchor := FirstOfNextMonth(s.now())
	providerSub, err := s.provider.CreateSubscription(ctx, customerID, anchor, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider subscription: %w", err)
	}

	anchorDay := 1
	periodEnd := providerSub.CurrentPeriodEnd
	master = &models.Subscription{
		UserID:           user.ID,
		Status:           mapProviderStatus(providerSub.Status),
		CurrentPeriodEnd: &periodEnd,
		BillingAnchorDay: &anchorDay,
		Provider:         models.ProviderStripe,
		ProviderRef:      &providerSub.ID,
	}
	if err := s.store.CreateMaster(ctx, master); err != nil {
		return nil, err
	}
	log.Printf("✅ Created master subscription %s for user %d (anchor %s)", providerSub.ID, user.ID, anchor.Format("2006-01-02"))
	return master, nil
}

// addOrUpdateToolItem ensures the master subscription carries a line item for
// the plan's price. An existing item for the same price is reused so retries
// and double-clicks never duplicate items.
func (s *Service) addOrUpdateToolItem(ctx context.Context, providerRef, priceRef string) (string, error) {
	providerSub, err := s.provider.GetSubscription(ctx, providerRef)
	if err != nil {
		return "", fmt.Errorf("failed to load provider subscription %s: %w", providerRef, err)
	}
	for _, item := range providerSub.Items {
		if item.PriceID == priceRef {
			return item.ID, nil
		}
	}

	item, err := s.provider.AddSubscriptionItem(ctx, providerRef, priceRef)
	if err != nil {
		return "", fmt.Errorf("failed to add subscription item: %w", err)
	}
	return item.ID, nil
}

// Subscribe adds a paid tool plan to the user's master subscription. The
// local row is written optimistically as active; webhook events settle the
// final status.
func (s *Service) Subscribe(ctx context.Context, user UserRef, toolID, planCode string) (*models.SubscribeResponse, error) {
	plan, err := s.catalog.GetPlan(ctx, planCode)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.IsActive {
		return nil, ErrPlanNotFound
	}
	if plan.ToolID != nil && *plan.ToolID != toolID {
		return nil, ErrWrongToolForPlan
	}
	if plan.StripePriceID == nil || !strings.HasPrefix(*plan.StripePriceID, "price_") {
		return nil, ErrPriceNotConfigured
	}

	existing, err := s.store.FindToolSubscription(ctx, user.ID, toolID)
	if err != nil {
		return nil, err
	}
	if existing != nil && (existing.Status == models.StatusActive || existing.Status == models.StatusTrialing) &&
		existing.Provider == models.ProviderStripe {
		return nil, ErrAlreadySubscribed
	}

	customerID, err := s.getOrCreateCustomer(ctx, user)
	if err != nil {
		return nil, err
	}
	master, err := s.getOrCreateMasterSubscription(ctx, user, customerID)
	if err != nil {
		return nil, err
	}
	itemID, err := s.addOrUpdateToolItem(ctx, *master.ProviderRef, *plan.StripePriceID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	_, err = s.store.UpsertToolSubscription(ctx, user.ID, toolID, ToolSubscriptionFields{
		PlanCode:         plan.Code,
		Status:           models.StatusActive,
		StartedAt:        &now,
		Provider:         models.ProviderStripe,
		ProviderSubRef:   master.ProviderRef,
		ProviderItemRef:  &itemID,
		CurrentPeriodEnd: master.CurrentPeriodEnd,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("✅ Subscribed user=%d tool=%s plan=%s sub=%s item=%s", user.ID, toolID, plan.Code, *master.ProviderRef, itemID)
	return &models.SubscribeResponse{OK: true, SubscriptionID: *master.ProviderRef, ToolItemID: itemID}, nil
}

// CreateCheckoutSession creates a provider-hosted checkout session for a
// price. Trial plans start a provider-managed trial; paid plans anchor the
// first full charge to the 1st of next month with prorations up front.
func (s *Service) CreateCheckoutSession(ctx context.Context, user UserRef, priceID string) (*models.CheckoutSessionResponse, error) {
	plan, err := s.catalog.GetActivePlanByPriceRef(ctx, priceID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}

	customerID, err := s.getOrCreateCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	params := CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		Metadata:   map[string]string{"userId": fmt.Sprintf("%d", user.ID)},
		SuccessURL: s.cfg.CheckoutSuccessURL,
		CancelURL:  s.cfg.CheckoutCancelURL,
	}
	if plan.TrialDays != nil && *plan.TrialDays > 0 {
		params.TrialDays = *plan.TrialDays
	} else {
		params.BillingCycleAnchor = FirstOfNextMonth(s.now())
	}

	session, err := s.provider.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	metrics.CheckoutSessionsTotal.Inc()
	log.Printf("✅ Checkout session %s created for user %d (price %s)", session.ID, user.ID, priceID)
	return &models.CheckoutSessionResponse{URL: session.URL}, nil
}

// VerifyCheckoutSession confirms a checkout session after the redirect. It
// is read-only: all subscription writes come from the webhook reconciler, so
// a user polling verify cannot race the event stream.
func (s *Service) VerifyCheckoutSession(ctx context.Context, user UserRef, sessionID string) (*models.VerifySessionResponse, error) {
	session, err := s.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkout session %s: %w", sessionID, err)
	}

	if session.Status != "complete" {
		return nil, ErrCheckoutNotComplete
	}
	if session.PaymentStatus != "paid" && session.PaymentStatus != "no_payment_required" {
		return nil, ErrPaymentNotCompleted
	}
	subStatus := ""
	if session.Subscription != nil {
		subStatus = session.Subscription.Status
	}
	if subStatus != "active" && subStatus != "trialing" {
		return nil, ErrPaymentNotCompleted
	}

	bc, err := s.store.GetBillingCustomerByUserID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	// a caller with no recorded customer cannot own any session
	if bc == nil || bc.StripeCustomerID != session.CustomerID {
		return nil, ErrCustomerMismatch
	}

	return &models.VerifySessionResponse{
		Success:            true,
		SubscriptionStatus: subStatus,
		PaymentStatus:      session.PaymentStatus,
	}, nil
}

// validateReturnURL restricts portal return targets to our own frontend.
func (s *Service) validateReturnURL(returnURL string) string {
	if returnURL == "" {
		return s.cfg.PortalReturnURL
	}
	if strings.HasPrefix(returnURL, s.cfg.ClientURL) {
		return returnURL
	}
	log.Printf("⚠️ Rejected portal return URL %q, falling back to default", returnURL)
	return s.cfg.PortalReturnURL
}

// CreatePortalSession opens the provider's billing portal for the user.
func (s *Service) CreatePortalSession(ctx context.Context, userID int, returnURL string) (*models.PortalSessionResponse, error) {
	bc, err := s.store.GetBillingCustomerByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bc == nil {
		return nil, ErrBillingInfoNotFound
	}

	url, err := s.provider.CreatePortalSession(ctx, bc.StripeCustomerID, s.validateReturnURL(returnURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create portal session: %w", err)
	}
	return &models.PortalSessionResponse{URL: url}, nil
}

// ListInvoices returns the user's provider invoices formatted for display.
// A user with no billing customer simply has no invoices yet.
func (s *Service) ListInvoices(ctx context.Context, userID, limit int) ([]models.InvoiceInfo, error) {
	bc, err := s.store.GetBillingCustomerByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bc == nil {
		return []models.InvoiceInfo{}, nil
	}

	invoices, err := s.provider.ListInvoices(ctx, bc.StripeCustomerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}

	out := make([]models.InvoiceInfo, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, models.InvoiceInfo{
			ID:     inv.ID,
			Date:   inv.Created.UTC().Format("2006-01-02"),
			Amount: fmt.Sprintf("$%.2f", float64(inv.AmountPaid)/100),
			Status: inv.Status,
			PDFURL: inv.PDFURL,
		})
	}
	return out, nil
}

// GetToolEntitlements resolves the user's current entitlements for one tool.
// Always computed from the store and catalog, never cached.
func (s *Service) GetToolEntitlements(ctx context.Context, userID int, toolID string) (*entitlements.Entitlements, error) {
	sub, err := s.store.FindToolSubscription(ctx, userID, toolID)
	if err != nil {
		return nil, err
	}

	var plan *models.Plan
	var features []models.PlanFeature
	if sub != nil {
		plan, err = s.catalog.GetPlan(ctx, sub.PlanCode)
		if err != nil {
			return nil, err
		}
		features, err = s.catalog.ListPlanFeatures(ctx, sub.PlanCode)
		if err != nil {
			return nil, err
		}
	}

	e := entitlements.Resolve(plan, features, sub)
	if e.ToolID == "" {
		e.ToolID = toolID
	}
	return &e, nil
}

// GetEntitlements resolves entitlements for every tool the user has a
// subscription row for, keyed by tool ID.
func (s *Service) GetEntitlements(ctx context.Context, userID int) (map[string]entitlements.Entitlements, error) {
	subs, err := s.store.ListToolSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]entitlements.Entitlements, len(subs))
	for i := range subs {
		sub := subs[i]
		plan, err := s.catalog.GetPlan(ctx, sub.PlanCode)
		if err != nil {
			return nil, err
		}
		features, err := s.catalog.ListPlanFeatures(ctx, sub.PlanCode)
		if err != nil {
			return nil, err
		}
		out[sub.ToolID] = entitlements.Resolve(plan, features, &sub)
	}
	return out, nil
}

// ListToolSubscriptions returns the user's raw tool subscription rows.
func (s *Service) ListToolSubscriptions(ctx context.Context, userID int) ([]models.ToolSubscription, error) {
	return s.store.ListToolSubscriptions(ctx, userID)
}
