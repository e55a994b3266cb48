package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suiteshq/suites-backend/config"
	"github.com/suiteshq/suites-backend/pkg/catalog"
	"github.com/suiteshq/suites-backend/pkg/database"
	"github.com/suiteshq/suites-backend/pkg/models"
)

const testWebhookSignature = "t=123,v1=valid"

// fakeProvider is an in-memory Provider with just enough state to exercise
// the orchestrator, reconciler and reporter.
type fakeProvider struct {
	customers     int
	subscriptions map[string]*ProviderSubscription
	sessions      map[string]*CheckoutSession
	usage         map[string]int64
	usageErr      map[string]error

	lastCheckoutParams *CheckoutParams
	portalURL          string
	invoices           []Invoice

	createSubCalls int
	nextSubStatus  string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		subscriptions: make(map[string]*ProviderSubscription),
		sessions:      make(map[string]*CheckoutSession),
		usage:         make(map[string]int64),
		usageErr:      make(map[string]error),
		portalURL:     "https://billing.example.test/portal",
		nextSubStatus: "active",
	}
}

func (f *fakeProvider) CreateCustomer(ctx context.Context, user UserRef) (string, error) {
	f.customers++
	return fmt.Sprintf("cus_%d", f.customers), nil
}

func (f *fakeProvider) CreateSubscription(ctx context.Context, customerID string, anchor time.Time, userID int) (*ProviderSubscription, error) {
	f.createSubCalls++
	sub := &ProviderSubscription{
		ID:               fmt.Sprintf("sub_%d", f.createSubCalls),
		Status:           f.nextSubStatus,
		CustomerID:       customerID,
		CurrentPeriodEnd: anchor,
		Metadata:         map[string]string{"userId": fmt.Sprintf("%d", userID)},
	}
	f.subscriptions[sub.ID] = sub
	return cloneSub(sub), nil
}

func (f *fakeProvider) GetSubscription(ctx context.Context, providerRef string) (*ProviderSubscription, error) {
	sub, ok := f.subscriptions[providerRef]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", providerRef)
	}
	return cloneSub(sub), nil
}

func (f *fakeProvider) AddSubscriptionItem(ctx context.Context, providerRef, priceRef string) (*SubscriptionItem, error) {
	sub, ok := f.subscriptions[providerRef]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", providerRef)
	}
	item := SubscriptionItem{
		ID:      fmt.Sprintf("si_%s_%d", providerRef, len(sub.Items)+1),
		PriceID: priceRef,
	}
	sub.Items = append(sub.Items, item)
	return &item, nil
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	f.lastCheckoutParams = &params
	session := &CheckoutSession{
		ID:         fmt.Sprintf("cs_%d", len(f.sessions)+1),
		URL:        "https://checkout.example.test/" + params.PriceID,
		Status:     "open",
		CustomerID: params.CustomerID,
	}
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("no such session: %s", sessionID)
	}
	return session, nil
}

func (f *fakeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return f.portalURL + "?return=" + returnURL, nil
}

func (f *fakeProvider) ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error) {
	if limit > 0 && len(f.invoices) > limit {
		return f.invoices[:limit], nil
	}
	return f.invoices, nil
}

func (f *fakeProvider) CreateUsageRecord(ctx context.Context, itemRef string, quantity int64) error {
	if err := f.usageErr[itemRef]; err != nil {
		return err
	}
	f.usage[itemRef] += quantity
	return nil
}

// VerifyWebhook accepts the fixed test signature and decodes the payload as
// a pre-built event envelope.
func (f *fakeProvider) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if signature != testWebhookSignature {
		return nil, fmt.Errorf("signature mismatch")
	}
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func cloneSub(sub *ProviderSubscription) *ProviderSubscription {
	out := *sub
	out.Items = append([]SubscriptionItem(nil), sub.Items...)
	return &out
}

// eventPayload builds a raw webhook delivery for the fake provider.
func eventPayload(t *testing.T, eventType string, object any) []byte {
	t.Helper()
	data, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(WebhookEvent{
		ID:   "evt_" + eventType,
		Type: eventType,
		Data: data,
	})
	require.NoError(t, err)
	return payload
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func strPtr(s string) *string { return &s }
func iPtr(i int) *int         { return &i }

// seedTestCatalog installs two tools with a trial and a paid plan each.
func seedTestCatalog(t *testing.T, db *gorm.DB) {
	t.Helper()

	tools := []models.Tool{
		{Slug: "salestrack", Name: "SalesTrack", IsActive: true},
		{Slug: "invoicely", Name: "Invoicely", IsActive: true},
	}
	salestrack, invoicely := tools[0].Slug, tools[1].Slug

	plans := []models.Plan{
		{Code: "ST_TRIAL", Name: "SalesTrack Trial", Interval: models.IntervalOneTime, TrialDays: iPtr(30), IsActive: true, ToolID: &salestrack},
		{Code: "ST_PRO", Name: "SalesTrack Pro", PriceCents: 2900, Interval: models.IntervalMonth, IsActive: true, StripePriceID: strPtr("price_st_pro"), ToolID: &salestrack},
		{Code: "ST_RETIRED", Name: "SalesTrack Legacy", PriceCents: 1900, Interval: models.IntervalMonth, IsActive: false, StripePriceID: strPtr("price_st_legacy"), ToolID: &salestrack},
		{Code: "ST_UNPRICED", Name: "SalesTrack Unpriced", PriceCents: 4900, Interval: models.IntervalMonth, IsActive: true, ToolID: &salestrack},
		{Code: "IV_PRO", Name: "Invoicely Pro", PriceCents: 1500, Interval: models.IntervalMonth, IsActive: true, StripePriceID: strPtr("price_iv_pro"), ToolID: &invoicely},
		{Code: "SUITE_STARTER", Name: "Suite Starter", Interval: models.IntervalOneTime, TrialDays: iPtr(14), IsActive: true},
	}

	features := []models.Feature{
		{Key: "ST_EXPORT", Name: "Export"},
		{Key: "ST_STATS", Name: "Stats"},
	}
	grants := []models.PlanFeature{
		{PlanCode: "ST_TRIAL", FeatureKey: "ST_EXPORT", Enabled: true},
		{PlanCode: "ST_TRIAL", FeatureKey: "ST_STATS", Enabled: true, LimitInt: iPtr(100)},
		{PlanCode: "ST_PRO", FeatureKey: "ST_EXPORT", Enabled: true},
		{PlanCode: "ST_PRO", FeatureKey: "ST_STATS", Enabled: true},
	}

	require.NoError(t, db.Create(&tools).Error)
	require.NoError(t, db.Create(&plans).Error)
	require.NoError(t, db.Create(&features).Error)
	require.NoError(t, db.Create(&grants).Error)
}

type testEnv struct {
	db         *gorm.DB
	store      Store
	catalog    *catalog.Service
	provider   *fakeProvider
	service    *Service
	reconciler *Reconciler
	reporter   *Reporter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	seedTestCatalog(t, db)

	cfg := &config.Config{
		CheckoutSuccessURL: "http://localhost:3000/payment-success",
		CheckoutCancelURL:  "http://localhost:3000/store",
		PortalReturnURL:    "http://localhost:3000/billing",
		ClientURL:          "http://localhost:3000",
	}

	store := NewStore(db)
	catalogService := catalog.NewService(db, nil)
	provider := newFakeProvider()

	return &testEnv{
		db:         db,
		store:      store,
		catalog:    catalogService,
		provider:   provider,
		service:    NewService(store, catalogService, provider, cfg),
		reconciler: NewReconciler(store, catalogService, provider),
		reporter:   NewReporter(store, provider),
	}
}

func (env *testEnv) user() UserRef {
	return UserRef{ID: 7, Email: "owner@example.test", Name: "Casey Owner"}
}
