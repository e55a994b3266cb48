package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/suiteshq/suites-backend/pkg/models"
)

// UserRef carries the identity fields the billing core consumes from the
// auth collaborator. Email and Name are only needed by flows that may create
// a provider-side customer.
type UserRef struct {
	ID    int
	Email string
	Name  string
}

// SubscriptionItem is one provider-side line item of a master subscription.
type SubscriptionItem struct {
	ID      string
	PriceID string
}

// ProviderSubscription is the provider-neutral view of a subscription object.
type ProviderSubscription struct {
	ID                 string
	Status             string
	CustomerID         string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialEnd           *time.Time
	Metadata           map[string]string
	Items              []SubscriptionItem
}

// CheckoutSession is the provider-neutral view of a hosted checkout session.
type CheckoutSession struct {
	ID            string
	URL           string
	Status        string
	PaymentStatus string
	CustomerID    string
	Subscription  *ProviderSubscription
}

// CheckoutParams configures a hosted checkout session. TrialDays > 0 starts
// a provider-managed trial; otherwise a non-zero BillingCycleAnchor defers
// the first full charge to the anchor with prorations created up front.
type CheckoutParams struct {
	CustomerID         string
	PriceID            string
	TrialDays          int
	BillingCycleAnchor time.Time
	Metadata           map[string]string
	SuccessURL         string
	CancelURL          string
}

// Invoice is a provider invoice summary.
type Invoice struct {
	ID         string
	Created    time.Time
	AmountPaid int64
	Status     string
	PDFURL     string
}

// WebhookEvent is a signature-verified provider event. Data holds the raw
// event object payload.
type WebhookEvent struct {
	ID   string
	Type string
	Data json.RawMessage
}

// Provider is the payment-provider capability set used by the checkout
// orchestrator, the webhook reconciler and the usage reporter. Injected so
// all three are testable against a fake.
type Provider interface {
	CreateCustomer(ctx context.Context, user UserRef) (string, error)
	CreateSubscription(ctx context.Context, customerID string, billingCycleAnchor time.Time, userID int) (*ProviderSubscription, error)
	GetSubscription(ctx context.Context, providerRef string) (*ProviderSubscription, error)
	AddSubscriptionItem(ctx context.Context, providerRef, priceRef string) (*SubscriptionItem, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error)
	CreateUsageRecord(ctx context.Context, itemRef string, quantity int64) error
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// mapProviderStatus maps a provider subscription status onto the local
// status enum. Anything unrecognized collapses to expired.
func mapProviderStatus(status string) string {
	switch status {
	case "trialing":
		return models.StatusTrialing
	case "active":
		return models.StatusActive
	case "past_due":
		return models.StatusPastDue
	case "canceled":
		return models.StatusCanceled
	default:
		return models.StatusExpired
	}
}

// FirstOfNextMonth returns the UTC start of the next calendar month, the
// default billing cycle anchor (collect on the 1st).
func FirstOfNextMonth(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
}
