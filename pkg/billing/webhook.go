package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/suiteshq/suites-backend/pkg/catalog"
	"github.com/suiteshq/suites-backend/pkg/metrics"
	"github.com/suiteshq/suites-backend/pkg/models"
)

// Reconciler applies provider webhook events onto the local subscription
// state. Events are treated as at-least-once and unordered: every handler is
// idempotent, re-fetches the subscription from the provider instead of
// trusting event payload snapshots, and unknown or unresolvable events are
// acknowledged without writes so the provider stops redelivering them.
type Reconciler struct {
	store    Store
	catalog  *catalog.Service
	provider Provider
}

// NewReconciler creates the webhook reconciler.
func NewReconciler(store Store, catalogService *catalog.Service, provider Provider) *Reconciler {
	return &Reconciler{store: store, catalog: catalogService, provider: provider}
}

// HandleWebhook verifies and dispatches one raw webhook delivery. A returned
// ErrInvalidSignature means the caller must answer 400; any other error is
// transient and the caller answers 5xx so the provider retries.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := r.provider.VerifyWebhook(payload, signature)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	log.Printf("📨 Webhook event %s (%s)", event.Type, event.ID)

	var handleErr error
	switch event.Type {
	case "checkout.session.completed":
		handleErr = r.handleCheckoutCompleted(ctx, event)
	case "invoice.payment_succeeded":
		handleErr = r.handleInvoicePaymentSucceeded(ctx, event)
	case "customer.subscription.updated":
		handleErr = r.handleSubscriptionChanged(ctx, event, "")
	case "customer.subscription.deleted":
		handleErr = r.handleSubscriptionChanged(ctx, event, models.StatusCanceled)
	default:
		log.Printf("📨 Ignoring unhandled event type %s", event.Type)
		metrics.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}

	outcome := "ok"
	if handleErr != nil {
		outcome = "error"
	}
	metrics.WebhookEventsTotal.WithLabelValues(event.Type, outcome).Inc()
	return handleErr
}

// checkoutSessionPayload is the slice of the checkout.session.completed
// object we consume.
type checkoutSessionPayload struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

// handleCheckoutCompleted records the userId to customer mapping established
// by a completed checkout. Subscription rows are written by the invoice
// event, not here.
func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, event *WebhookEvent) error {
	var session checkoutSessionPayload
	if err := json.Unmarshal(event.Data, &session); err != nil {
		return fmt.Errorf("failed to parse checkout session payload: %w", err)
	}

	userID, err := strconv.Atoi(session.Metadata["userId"])
	if err != nil || session.Customer == "" {
		log.Printf("⚠️ checkout.session.completed %s without resolvable userId/customer, acknowledging", session.ID)
		return nil
	}

	if err := r.store.UpsertBillingCustomer(ctx, userID, session.Customer); err != nil {
		return err
	}
	log.Printf("✅ Linked user %d to customer %s", userID, session.Customer)
	return nil
}

// invoicePayload is the slice of the invoice object we consume.
type invoicePayload struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

// handleInvoicePaymentSucceeded is the authoritative path that creates or
// refreshes the master subscription and its tool rows. The subscription is
// re-fetched from the provider so a stale or replayed event converges on
// current truth instead of rewinding it.
func (r *Reconciler) handleInvoicePaymentSucceeded(ctx context.Context, event *WebhookEvent) error {
	var invoice invoicePayload
	if err := json.Unmarshal(event.Data, &invoice); err != nil {
		return fmt.Errorf("failed to parse invoice payload: %w", err)
	}
	if invoice.Subscription == "" {
		log.Printf("📨 Invoice %s has no subscription, acknowledging", invoice.ID)
		return nil
	}

	providerSub, err := r.provider.GetSubscription(ctx, invoice.Subscription)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", invoice.Subscription, err)
	}

	userID, ok := r.resolveUserID(ctx, providerSub, invoice.Customer)
	if !ok {
		log.Printf("⚠️ Cannot resolve user for subscription %s (customer %s), acknowledging", invoice.Subscription, invoice.Customer)
		return nil
	}

	status := mapProviderStatus(providerSub.Status)
	periodEnd := providerSub.CurrentPeriodEnd

	return r.store.Transaction(ctx, func(tx Store) error {
		master, err := tx.FindMasterByProviderRef(ctx, userID, models.ProviderStripe, providerSub.ID)
		if err != nil {
			return err
		}
		if master == nil {
			// A live master pointing at a different provider subscription
			// wins over this event: an invoice from an abandoned or replaced
			// subscription must not stand up a second master.
			live, err := tx.FindLiveMaster(ctx, userID, models.ProviderStripe)
			if err != nil {
				return err
			}
			if live != nil && live.ProviderRef != nil && *live.ProviderRef != providerSub.ID {
				log.Printf("⚠️ Ignoring invoice for subscription %s: user %d already has live master %s", providerSub.ID, userID, *live.ProviderRef)
				return nil
			}
			anchorDay := 1
			master = &models.Subscription{
				UserID:           userID,
				Status:           status,
				CurrentPeriodEnd: &periodEnd,
				TrialEnd:         providerSub.TrialEnd,
				BillingAnchorDay: &anchorDay,
				Provider:         models.ProviderStripe,
				ProviderRef:      &providerSub.ID,
			}
			if err := tx.CreateMaster(ctx, master); err != nil {
				return err
			}
			log.Printf("✅ Master subscription %s created from invoice for user %d", providerSub.ID, userID)
		} else {
			// Replays carry older period ends; never rewind a row that has
			// already seen a later one.
			if master.CurrentPeriodEnd != nil && master.CurrentPeriodEnd.After(periodEnd) {
				log.Printf("📨 Invoice for subscription %s is older than local state, acknowledging", providerSub.ID)
				return nil
			}
			master.Status = status
			master.CurrentPeriodEnd = &periodEnd
			master.TrialEnd = providerSub.TrialEnd
			if err := tx.SaveMaster(ctx, master); err != nil {
				return err
			}
		}

		for _, item := range providerSub.Items {
			plan, err := r.catalog.GetPlanByPriceRef(ctx, item.PriceID)
			if err != nil {
				return err
			}
			if plan == nil || plan.ToolID == nil {
				log.Printf("⚠️ No plan for price %s on subscription %s, skipping item", item.PriceID, providerSub.ID)
				continue
			}

			itemID := item.ID
			_, err = tx.UpsertToolSubscription(ctx, userID, *plan.ToolID, ToolSubscriptionFields{
				PlanCode:         plan.Code,
				Status:           status,
				TrialEnd:         providerSub.TrialEnd,
				Provider:         models.ProviderStripe,
				ProviderSubRef:   &providerSub.ID,
				ProviderItemRef:  &itemID,
				CurrentPeriodEnd: &periodEnd,
			})
			if err != nil {
				return err
			}
			log.Printf("✅ Tool subscription synced: user=%d tool=%s plan=%s status=%s", userID, *plan.ToolID, plan.Code, status)
		}
		return nil
	})
}

// resolveUserID maps a provider subscription back to a local user: first
// via the userId metadata stamped at creation, then via the stored customer
// mapping.
func (r *Reconciler) resolveUserID(ctx context.Context, providerSub *ProviderSubscription, customerRef string) (int, bool) {
	if raw, ok := providerSub.Metadata["userId"]; ok {
		if id, err := strconv.Atoi(raw); err == nil {
			return id, true
		}
	}

	ref := customerRef
	if ref == "" {
		ref = providerSub.CustomerID
	}
	if ref == "" {
		return 0, false
	}

	bc, err := r.store.GetBillingCustomerByCustomerRef(ctx, ref)
	if err != nil || bc == nil {
		return 0, false
	}
	return bc.UserID, true
}

// subscriptionPayload is the slice of the subscription object carried by
// customer.subscription.* events.
type subscriptionPayload struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	} `json:"items"`
}

// handleSubscriptionChanged applies status changes from subscription
// lifecycle events. Updates only: an event for a subscription we never
// recorded is acknowledged without creating rows, because only a successful
// payment may create subscription state.
func (r *Reconciler) handleSubscriptionChanged(ctx context.Context, event *WebhookEvent, forcedStatus string) error {
	var sub subscriptionPayload
	if err := json.Unmarshal(event.Data, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription payload: %w", err)
	}

	status := forcedStatus
	if status == "" {
		status = mapProviderStatus(sub.Status)
	}

	var periodEnd *time.Time
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		periodEnd = &t
	}

	return r.store.Transaction(ctx, func(tx Store) error {
		affected, err := tx.UpdateMasterByProviderRef(ctx, models.ProviderStripe, sub.ID, status, periodEnd)
		if err != nil {
			return err
		}
		if affected == 0 {
			log.Printf("📨 Subscription %s not tracked locally, acknowledging", sub.ID)
			return nil
		}

		for _, item := range sub.Items.Data {
			if _, err := tx.UpdateToolSubscriptionsByItemRef(ctx, models.ProviderStripe, sub.ID, item.ID, status, periodEnd); err != nil {
				return err
			}
		}
		log.Printf("✅ Subscription %s updated to %s", sub.ID, status)
		return nil
	})
}
