package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suiteshq/suites-backend/pkg/models"
)

func TestHandleWebhook_BadSignature(t *testing.T) {
	env := newTestEnv(t)

	err := env.reconciler.HandleWebhook(context.Background(), []byte("{}"), "t=0,v1=garbage")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHandleWebhook_UnknownEventTypeIsAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	payload := eventPayload(t, "customer.updated", map[string]string{"id": "cus_1"})
	err := env.reconciler.HandleWebhook(context.Background(), payload, testWebhookSignature)
	assert.NoError(t, err)

	var count int64
	require.NoError(t, env.db.Model(&models.Subscription{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestHandleWebhook_CheckoutCompletedLinksCustomer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payload := eventPayload(t, "checkout.session.completed", map[string]any{
		"id":       "cs_1",
		"customer": "cus_42",
		"metadata": map[string]string{"userId": "7"},
	})
	require.NoError(t, env.reconciler.HandleWebhook(ctx, payload, testWebhookSignature))

	bc, err := env.store.GetBillingCustomerByUserID(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, bc)
	assert.Equal(t, "cus_42", bc.StripeCustomerID)

	// replay is a no-op
	require.NoError(t, env.reconciler.HandleWebhook(ctx, payload, testWebhookSignature))
	var count int64
	require.NoError(t, env.db.Model(&models.BillingCustomer{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestHandleWebhook_CheckoutCompletedWithoutUserIDIsAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	payload := eventPayload(t, "checkout.session.completed", map[string]any{
		"id":       "cs_1",
		"customer": "cus_42",
	})
	assert.NoError(t, env.reconciler.HandleWebhook(context.Background(), payload, testWebhookSignature))

	var count int64
	require.NoError(t, env.db.Model(&models.BillingCustomer{}).Count(&count).Error)
	assert.Zero(t, count)
}

// seedProviderSub installs a subscription on the fake provider with one item
// per price ref.
func seedProviderSub(env *testEnv, id string, userID string, status string, periodEnd time.Time, priceRefs ...string) *ProviderSubscription {
	sub := &ProviderSubscription{
		ID:               id,
		Status:           status,
		CustomerID:       "cus_hook",
		CurrentPeriodEnd: periodEnd,
		Metadata:         map[string]string{},
	}
	if userID != "" {
		sub.Metadata["userId"] = userID
	}
	for i, price := range priceRefs {
		sub.Items = append(sub.Items, SubscriptionItem{
			ID:      sub.ID + "_item_" + string(rune('a'+i)),
			PriceID: price,
		})
	}
	env.provider.subscriptions[id] = sub
	return sub
}

func invoiceEvent(t *testing.T, subID string) []byte {
	return eventPayload(t, "invoice.payment_succeeded", map[string]any{
		"id":           "in_" + subID,
		"customer":     "cus_hook",
		"subscription": subID,
	})
}

func TestHandleWebhook_InvoiceCreatesMasterAndToolRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	periodEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	seedProviderSub(env, "sub_hook", "7", "active", periodEnd, "price_st_pro", "price_iv_pro")

	require.NoError(t, env.reconciler.HandleWebhook(ctx, invoiceEvent(t, "sub_hook"), testWebhookSignature))

	master, err := env.store.FindMasterByProviderRef(ctx, 7, models.ProviderStripe, "sub_hook")
	require.NoError(t, err)
	require.NotNil(t, master)
	assert.Equal(t, models.StatusActive, master.Status)
	require.NotNil(t, master.CurrentPeriodEnd)
	assert.True(t, master.CurrentPeriodEnd.Equal(periodEnd))

	subs, err := env.store.ListToolSubscriptions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	byTool := map[string]models.ToolSubscription{}
	for _, s := range subs {
		byTool[s.ToolID] = s
	}
	assert.Equal(t, "ST_PRO", byTool["salestrack"].PlanCode)
	assert.Equal(t, "IV_PRO", byTool["invoicely"].PlanCode)
	assert.Equal(t, models.StatusActive, byTool["salestrack"].Status)
}

func TestHandleWebhook_InvoiceReplayIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedProviderSub(env, "sub_hook", "7", "active", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), "price_st_pro")

	payload := invoiceEvent(t, "sub_hook")
	require.NoError(t, env.reconciler.HandleWebhook(ctx, payload, testWebhookSignature))
	require.NoError(t, env.reconciler.HandleWebhook(ctx, payload, testWebhookSignature))
	require.NoError(t, env.reconciler.HandleWebhook(ctx, payload, testWebhookSignature))

	var masters, tools int64
	require.NoError(t, env.db.Model(&models.Subscription{}).Count(&masters).Error)
	require.NoError(t, env.db.Model(&models.ToolSubscription{}).Count(&tools).Error)
	assert.EqualValues(t, 1, masters)
	assert.EqualValues(t, 1, tools)
}

func TestHandleWebhook_InvoiceNeverRewindsPeriodEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	later := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	seedProviderSub(env, "sub_hook", "7", "active", later, "price_st_pro")
	require.NoError(t, env.reconciler.HandleWebhook(ctx, invoiceEvent(t, "sub_hook"), testWebhookSignature))

	// provider now reports an older period end (stale replay path)
	env.provider.subscriptions["sub_hook"].CurrentPeriodEnd = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	env.provider.subscriptions["sub_hook"].Status = "past_due"
	require.NoError(t, env.reconciler.HandleWebhook(ctx, invoiceEvent(t, "sub_hook"), testWebhookSignature))

	master, err := env.store.FindMasterByProviderRef(ctx, 7, models.ProviderStripe, "sub_hook")
	require.NoError(t, err)
	require.NotNil(t, master.CurrentPeriodEnd)
	assert.True(t, master.CurrentPeriodEnd.Equal(later))
	assert.Equal(t, models.StatusActive, master.Status)
}

func TestHandleWebhook_InvoiceUnresolvableUserIsAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// no metadata, no stored customer mapping
	seedProviderSub(env, "sub_anon", "", "active", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), "price_st_pro")

	assert.NoError(t, env.reconciler.HandleWebhook(ctx, invoiceEvent(t, "sub_anon"), testWebhookSignature))

	var count int64
	require.NoError(t, env.db.Model(&models.Subscription{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestHandleWebhook_InvoiceResolvesUserViaCustomerMapping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.UpsertBillingCustomer(ctx, 9, "cus_hook"))
	seedProviderSub(env, "sub_mapped", "", "active", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), "price_st_pro")

	require.NoError(t, env.reconciler.HandleWebhook(ctx, invoiceEvent(t, "sub_mapped"), testWebhookSignature))

	master, err := env.store.FindMasterByProviderRef(ctx, 9, models.ProviderStripe, "sub_mapped")
	require.NoError(t, err)
	require.NotNil(t, master)
}

func TestHandleWebhook_InvoiceSkipsUnknownPrices(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedProviderSub(env, "sub_hook", "7", "active", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		"price_st_pro", "price_not_ours")

	require.NoError(t, env.reconciler.HandleWebhook(ctx, invoiceEvent(t, "sub_hook"), testWebhookSignature))

	subs, err := env.store.ListToolSubscriptions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "salestrack", subs[0].ToolID)
}

func TestHandleWebhook_InvoiceWithoutSubscriptionIsAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	payload := eventPayload(t, "invoice.payment_succeeded", map[string]any{
		"id":       "in_oneoff",
		"customer": "cus_hook",
	})
	assert.NoError(t, env.reconciler.HandleWebhook(context.Background(), payload, testWebhookSignature))
}

func subscriptionEvent(t *testing.T, eventType, subID, status string, periodEnd time.Time, itemIDs ...string) []byte {
	items := make([]map[string]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		items = append(items, map[string]string{"id": id})
	}
	return eventPayload(t, eventType, map[string]any{
		"id":                 subID,
		"status":             status,
		"current_period_end": periodEnd.Unix(),
		"items":              map[string]any{"data": items},
	})
}

func TestHandleWebhook_SubscriptionUpdatedPropagatesStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedProviderSub(env, "sub_hook", "7", "active", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), "price_st_pro")
	require.NoError(t, env.reconciler.HandleWebhook(ctx, invoiceEvent(t, "sub_hook"), testWebhookSignature))

	itemID := env.provider.subscriptions["sub_hook"].Items[0].ID
	newEnd := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	payload := subscriptionEvent(t, "customer.subscription.updated", "sub_hook", "past_due", newEnd, itemID)
	require.NoError(t, env.reconciler.HandleWebhook(ctx, payload, testWebhookSignature))

	master, err := env.store.FindMasterByProviderRef(ctx, 7, models.ProviderStripe, "sub_hook")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPastDue, master.Status)
	assert.True(t, master.CurrentPeriodEnd.Equal(newEnd))

	subs, err := env.store.ListToolSubscriptions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, models.StatusPastDue, subs[0].Status)
}

func TestHandleWebhook_SubscriptionDeletedCancelsItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedProviderSub(env, "sub_hook", "7", "active", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), "price_st_pro", "price_iv_pro")
	require.NoError(t, env.reconciler.HandleWebhook(ctx, invoiceEvent(t, "sub_hook"), testWebhookSignature))

	items := env.provider.subscriptions["sub_hook"].Items
	payload := subscriptionEvent(t, "customer.subscription.deleted", "sub_hook", "canceled",
		time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), items[0].ID, items[1].ID)
	require.NoError(t, env.reconciler.HandleWebhook(ctx, payload, testWebhookSignature))

	master, err := env.store.FindMasterByProviderRef(ctx, 7, models.ProviderStripe, "sub_hook")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, master.Status)

	subs, err := env.store.ListToolSubscriptions(ctx, 7)
	require.NoError(t, err)
	for _, s := range subs {
		assert.Equal(t, models.StatusCanceled, s.Status)
	}
}

func TestHandleWebhook_SubscriptionEventForUnknownSubCreatesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payload := subscriptionEvent(t, "customer.subscription.updated", "sub_ghost", "active",
		time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), "si_ghost")
	assert.NoError(t, env.reconciler.HandleWebhook(ctx, payload, testWebhookSignature))

	var masters, tools int64
	require.NoError(t, env.db.Model(&models.Subscription{}).Count(&masters).Error)
	require.NoError(t, env.db.Model(&models.ToolSubscription{}).Count(&tools).Error)
	assert.Zero(t, masters)
	assert.Zero(t, tools)
}

func TestHandleWebhook_InvoiceForReplacedSubIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// current live master
	seedProviderSub(env, "sub_current", "7", "active", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), "price_st_pro")
	require.NoError(t, env.reconciler.HandleWebhook(ctx, invoiceEvent(t, "sub_current"), testWebhookSignature))

	// straggler invoice from an older, replaced subscription
	seedProviderSub(env, "sub_old", "7", "active", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), "price_st_pro")
	require.NoError(t, env.reconciler.HandleWebhook(ctx, invoiceEvent(t, "sub_old"), testWebhookSignature))

	var masters int64
	require.NoError(t, env.db.Model(&models.Subscription{}).Where("user_id = ?", 7).Count(&masters).Error)
	assert.EqualValues(t, 1, masters)

	master, err := env.store.FindMasterByProviderRef(ctx, 7, models.ProviderStripe, "sub_current")
	require.NoError(t, err)
	require.NotNil(t, master)
}

func TestHandleWebhook_OutOfOrderDeleteThenInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// delete arrives before any invoice: acknowledged, nothing created
	payload := subscriptionEvent(t, "customer.subscription.deleted", "sub_hook", "canceled",
		time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, env.reconciler.HandleWebhook(ctx, payload, testWebhookSignature))

	// the invoice then lands carrying the provider's current (canceled) truth
	seedProviderSub(env, "sub_hook", "7", "canceled", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), "price_st_pro")
	require.NoError(t, env.reconciler.HandleWebhook(ctx, invoiceEvent(t, "sub_hook"), testWebhookSignature))

	master, err := env.store.FindMasterByProviderRef(ctx, 7, models.ProviderStripe, "sub_hook")
	require.NoError(t, err)
	require.NotNil(t, master)
	assert.Equal(t, models.StatusCanceled, master.Status)
}
