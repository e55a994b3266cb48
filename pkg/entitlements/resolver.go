package entitlements

import (
	"time"

	"github.com/suiteshq/suites-backend/pkg/models"
)

// FeatureGrant is one resolved feature flag. A nil LimitInt means unlimited.
type FeatureGrant struct {
	Enabled  bool `json:"enabled"`
	LimitInt *int `json:"limitInt"`
}

// Entitlements is the resolved, read-only view of what a user currently has
// for one tool. It is computed on demand and never persisted or cached.
type Entitlements struct {
	ToolID           string                  `json:"toolId,omitempty"`
	PlanCode         string                  `json:"planCode,omitempty"`
	PlanName         string                  `json:"planName,omitempty"`
	Status           string                  `json:"status"`
	TrialEnd         *time.Time              `json:"trialEnd"`
	CurrentPeriodEnd *time.Time              `json:"currentPeriodEnd"`
	Features         map[string]FeatureGrant `json:"features"`
}

// Resolve computes entitlements from a plan, its feature grants and the
// user's tool subscription. All inputs are optional: it is called from many
// contexts with best-effort data and must degrade instead of failing. With
// no subscription the status defaults to "expired", which also lets callers
// preview a plan's features without an active subscription.
func Resolve(plan *models.Plan, planFeatures []models.PlanFeature, sub *models.ToolSubscription) Entitlements {
	e := Entitlements{
		Status:   models.StatusExpired,
		Features: make(map[string]FeatureGrant, len(planFeatures)),
	}

	if plan != nil {
		if plan.ToolID != nil {
			e.ToolID = *plan.ToolID
		}
		e.PlanCode = plan.Code
		e.PlanName = plan.Name
		if e.PlanName == "" {
			e.PlanName = plan.Code
		}
	}

	if sub != nil {
		if sub.Status != "" {
			e.Status = sub.Status
		}
		e.TrialEnd = sub.TrialEnd
		e.CurrentPeriodEnd = sub.CurrentPeriodEnd
		if e.ToolID == "" {
			e.ToolID = sub.ToolID
		}
	}

	for _, pf := range planFeatures {
		e.Features[pf.FeatureKey] = FeatureGrant{
			Enabled:  pf.Enabled,
			LimitInt: pf.LimitInt,
		}
	}

	return e
}

// HasFeature reports whether a feature is enabled in the entitlements.
func (e Entitlements) HasFeature(key string) bool {
	return e.Features[key].Enabled
}

// IsLive reports whether the subscription status grants access.
func (e Entitlements) IsLive() bool {
	return e.Status == models.StatusActive || e.Status == models.StatusTrialing
}
