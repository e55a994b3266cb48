package billing

import (
	"context"
	"log"

	"github.com/suiteshq/suites-backend/pkg/metrics"
	"github.com/suiteshq/suites-backend/pkg/models"
)

// Reporter pushes daily usage quantities to the provider for metered line
// items. Runs from the nightly cron.
type Reporter struct {
	store    Store
	provider Provider
}

// NewReporter creates the usage reporter.
func NewReporter(store Store, provider Provider) *Reporter {
	return &Reporter{store: store, provider: provider}
}

// Run reports one usage unit per live provider-backed tool subscription. A
// failing row is logged and skipped so one bad item never blocks the batch;
// the next run retries it.
func (r *Reporter) Run(ctx context.Context) error {
	subs, err := r.store.ListReportableToolSubscriptions(ctx, models.ProviderStripe)
	if err != nil {
		return err
	}

	reported, failed := 0, 0
	for _, sub := range subs {
		if sub.ProviderItemRef == nil {
			continue
		}
		if err := r.provider.CreateUsageRecord(ctx, *sub.ProviderItemRef, 1); err != nil {
			failed++
			metrics.UsageReportsTotal.WithLabelValues("error").Inc()
			log.Printf("❌ Usage report failed for user=%d tool=%s item=%s: %v", sub.UserID, sub.ToolID, *sub.ProviderItemRef, err)
			continue
		}
		reported++
		metrics.UsageReportsTotal.WithLabelValues("ok").Inc()
	}

	log.Printf("🕐 Usage report done: %d reported, %d failed, %d total", reported, failed, len(subs))
	return nil
}
