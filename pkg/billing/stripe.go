package billing

import (
	"context"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
	portalsession "github.com/stripe/stripe-go/v76/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/invoice"
	stripesub "github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/subscriptionitem"
	"github.com/stripe/stripe-go/v76/usagerecord"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/suiteshq/suites-backend/config"
)

// StripeProvider implements Provider on the Stripe API.
type StripeProvider struct {
	webhookSecret string
}

// NewStripeProvider configures the global Stripe client and returns the
// provider adapter.
func NewStripeProvider(cfg *config.Config) *StripeProvider {
	stripe.Key = cfg.StripeSecretKey
	return &StripeProvider{webhookSecret: cfg.StripeWebhookSecret}
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, user UserRef) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.Name),
	}
	params.Context = ctx
	params.AddMetadata("userId", fmt.Sprintf("%d", user.ID))

	cust, err := customer.New(params)
	if err != nil {
		return "", err
	}
	return cust.ID, nil
}

// CreateSubscription creates the empty master subscription anchored to the
// given billing date. Items are added per tool afterwards; prorations cover
// the partial period.
func (p *StripeProvider) CreateSubscription(ctx context.Context, customerID string, billingCycleAnchor time.Time, userID int) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{
		Customer:           stripe.String(customerID),
		Items:              []*stripe.SubscriptionItemsParams{},
		BillingCycleAnchor: stripe.Int64(billingCycleAnchor.Unix()),
		ProrationBehavior:  stripe.String("create_prorations"),
		CollectionMethod:   stripe.String("charge_automatically"),
	}
	params.Context = ctx
	params.AddMetadata("userId", fmt.Sprintf("%d", userID))

	sub, err := stripesub.New(params)
	if err != nil {
		return nil, err
	}
	return toProviderSubscription(sub), nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, providerRef string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price")

	sub, err := stripesub.Get(providerRef, params)
	if err != nil {
		return nil, err
	}
	return toProviderSubscription(sub), nil
}

func (p *StripeProvider) AddSubscriptionItem(ctx context.Context, providerRef, priceRef string) (*SubscriptionItem, error) {
	params := &stripe.SubscriptionItemParams{
		Subscription:      stripe.String(providerRef),
		Price:             stripe.String(priceRef),
		Quantity:          stripe.Int64(1),
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx

	item, err := subscriptionitem.New(params)
	if err != nil {
		return nil, err
	}
	return &SubscriptionItem{ID: item.ID, PriceID: priceRef}, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutParams) (*CheckoutSession, error) {
	subData := &stripe.CheckoutSessionSubscriptionDataParams{
		Metadata: in.Metadata,
	}
	if in.TrialDays > 0 {
		subData.TrialPeriodDays = stripe.Int64(int64(in.TrialDays))
	} else if !in.BillingCycleAnchor.IsZero() {
		subData.BillingCycleAnchor = stripe.Int64(in.BillingCycleAnchor.Unix())
		subData.ProrationBehavior = stripe.String("create_prorations")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(in.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(in.PriceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: subData,
		SuccessURL:       stripe.String(in.SuccessURL),
		CancelURL:        stripe.String(in.CancelURL),
	}
	params.Context = ctx
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	session, err := checkoutsession.New(params)
	if err != nil {
		return nil, err
	}
	return toCheckoutSession(session), nil
}

func (p *StripeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")

	session, err := checkoutsession.Get(sessionID, params)
	if err != nil {
		return nil, err
	}
	return toCheckoutSession(session), nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	session, err := portalsession.New(params)
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

func (p *StripeProvider) ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error) {
	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	if limit > 0 {
		params.Limit = stripe.Int64(int64(limit))
	}

	var out []Invoice
	iter := invoice.List(params)
	for iter.Next() {
		inv := iter.Invoice()
		out = append(out, Invoice{
			ID:         inv.ID,
			Created:    time.Unix(inv.Created, 0).UTC(),
			AmountPaid: inv.AmountPaid,
			Status:     string(inv.Status),
			PDFURL:     inv.InvoicePDF,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *StripeProvider) CreateUsageRecord(ctx context.Context, itemRef string, quantity int64) error {
	params := &stripe.UsageRecordParams{
		SubscriptionItem: stripe.String(itemRef),
		Quantity:         stripe.Int64(quantity),
		Action:           stripe.String("increment"),
		Timestamp:        stripe.Int64(time.Now().Unix()),
	}
	params.Context = ctx

	_, err := usagerecord.New(params)
	return err
}

func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, err
	}
	return &WebhookEvent{
		ID:   event.ID,
		Type: string(event.Type),
		Data: event.Data.Raw,
	}, nil
}

func toProviderSubscription(sub *stripe.Subscription) *ProviderSubscription {
	out := &ProviderSubscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		Metadata:           sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0).UTC()
		out.TrialEnd = &t
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			si := SubscriptionItem{ID: item.ID}
			if item.Price != nil {
				si.PriceID = item.Price.ID
			}
			out.Items = append(out.Items, si)
		}
	}
	return out
}

func toCheckoutSession(session *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:            session.ID,
		URL:           session.URL,
		Status:        string(session.Status),
		PaymentStatus: string(session.PaymentStatus),
	}
	if session.Customer != nil {
		out.CustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		out.Subscription = toProviderSubscription(session.Subscription)
	}
	return out
}
