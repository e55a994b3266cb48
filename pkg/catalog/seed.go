package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/suiteshq/suites-backend/pkg/models"
	"gorm.io/gorm"
)

func intPtr(i int) *int { return &i }

func strEnvPtr(key string) *string {
	if v := os.Getenv(key); v != "" {
		return &v
	}
	return nil
}

// Seed inserts the SalesTrack catalog: the tool, its features, plans and the
// plan-feature grants. Find-or-create per row, in one transaction, so it is
// safe to run on every startup.
func Seed(ctx context.Context, db *gorm.DB) error {
	tool := models.Tool{
		Slug:        "salestrack",
		Name:        "SalesTrack",
		ShortName:   "SalesTrack",
		Category:    "CRM",
		BasePath:    "/salestrack",
		Icon:        "🧭",
		Description: "Lightweight CRM with team tracking and follow-up.",
		IsActive:    true,
		Sort:        10,
	}

	features := []models.Feature{
		{Key: "ST_DB_ADD_UNLIMITED", Name: "Add Database (Single & Bulk)", Description: "Add records without limits; single and bulk import."},
		{Key: "ST_ADVANCED_STATS", Name: "Advanced Statistics", Description: "In-depth reports and charts."},
		{Key: "ST_EXPORT_DATA", Name: "Export Data (Excel/CSV)", Description: "Export data to Excel/CSV."},
		{Key: "ST_PUSH_NOTIF_PWA", Name: "Push Notifications (PWA)", Description: "PWA notifications for follow-ups."},
		{Key: "ST_TEAM_INVITE_3TIER", Name: "3-Tier Management", Description: "Invite team; 3-level management structure."},
		{Key: "ST_TEAM_MONITOR_EXPORT", Name: "Team Monitoring & Export", Description: "Managers can monitor members and export data."},
		{Key: "ST_ENTERPRISE_MULTI_TEAM", Name: "Combine Multiple Teams", Description: "Manage and combine multiple teams at once."},
	}

	toolID := tool.Slug
	plans := []models.Plan{
		// Trials are one-time "virtual plans" used only for entitlements.
		{Code: "ST_TRIAL_INDIVIDUAL", Name: "SalesTrack Trial (Individual, 30 days)", Type: "PRO", PriceCents: 0, Interval: models.IntervalOneTime, TrialDays: intPtr(30), IsActive: true, Seats: intPtr(1), ToolID: &toolID},
		{Code: "ST_TRIAL_TEAM", Name: "SalesTrack Trial (Team, 30 days)", Type: "PRO", PriceCents: 0, Interval: models.IntervalOneTime, TrialDays: intPtr(30), IsActive: true, Seats: intPtr(5), ToolID: &toolID},

		// Paid plans need their Stripe price configured.
		{Code: "ST_PRO_INDIVIDUAL_MONTHLY", Name: "SalesTrack Pro (Individual) — Monthly", Type: "PRO", PriceCents: 2900, Interval: models.IntervalMonth, IsActive: true, StripePriceID: strEnvPtr("STRIPE_PRICE_ST_PRO_INDIVIDUAL_MONTHLY"), Seats: intPtr(1), ToolID: &toolID},
		{Code: "ST_PRO_TEAM_MONTHLY", Name: "SalesTrack Pro (Team) — Monthly", Type: "PRO", PriceCents: 12900, Interval: models.IntervalMonth, IsActive: true, StripePriceID: strEnvPtr("STRIPE_PRICE_ST_PRO_TEAM_MONTHLY"), Seats: intPtr(5), ToolID: &toolID},
		{Code: "ST_ENTERPRISE_MONTHLY", Name: "SalesTrack Enterprise — Monthly", Type: "PRO", PriceCents: 19900, Interval: models.IntervalMonth, IsActive: true, StripePriceID: strEnvPtr("STRIPE_PRICE_ST_ENTERPRISE_MONTHLY"), ToolID: &toolID},
	}

	individual := []string{"ST_DB_ADD_UNLIMITED", "ST_ADVANCED_STATS", "ST_EXPORT_DATA", "ST_PUSH_NOTIF_PWA"}
	team := append(append([]string{}, individual...), "ST_TEAM_INVITE_3TIER", "ST_TEAM_MONITOR_EXPORT")
	enterprise := append(append([]string{}, team...), "ST_ENTERPRISE_MULTI_TEAM")

	planFeatureMap := map[string][]string{
		"ST_TRIAL_INDIVIDUAL":       individual,
		"ST_TRIAL_TEAM":             team,
		"ST_PRO_INDIVIDUAL_MONTHLY": individual,
		"ST_PRO_TEAM_MONTHLY":       team,
		"ST_ENTERPRISE_MONTHLY":     enterprise,
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(models.Tool{Slug: tool.Slug}).FirstOrCreate(&tool).Error; err != nil {
			return fmt.Errorf("failed seeding tool %s: %w", tool.Slug, err)
		}

		for _, f := range features {
			feature := f
			if err := tx.Where(models.Feature{Key: f.Key}).FirstOrCreate(&feature).Error; err != nil {
				return fmt.Errorf("failed seeding feature %s: %w", f.Key, err)
			}
		}

		for _, p := range plans {
			plan := p
			if err := tx.Where(models.Plan{Code: p.Code}).FirstOrCreate(&plan).Error; err != nil {
				return fmt.Errorf("failed seeding plan %s: %w", p.Code, err)
			}
		}

		for planCode, featureKeys := range planFeatureMap {
			for _, key := range featureKeys {
				pf := models.PlanFeature{PlanCode: planCode, FeatureKey: key, Enabled: true}
				err := tx.Where(models.PlanFeature{PlanCode: planCode, FeatureKey: key}).FirstOrCreate(&pf).Error
				if err != nil {
					return fmt.Errorf("failed seeding plan feature %s/%s: %w", planCode, key, err)
				}
			}
		}

		return nil
	})
}
