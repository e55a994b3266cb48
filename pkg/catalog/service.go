package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suiteshq/suites-backend/pkg/cache"
	"github.com/suiteshq/suites-backend/pkg/models"
	"gorm.io/gorm"
)

// cacheTTL bounds staleness of catalog reads. The catalog is seeded reference
// data, so a short TTL only matters across deploys that reseed it.
const cacheTTL = 5 * time.Minute

// Service serves plan-catalog reference data: tools, plans, features and
// plan-feature grants. Reads are cached; entitlement state is never cached
// here, only the immutable catalog rows.
type Service struct {
	db    *gorm.DB
	cache *cache.Client
}

// NewService creates a catalog service. The cache client is optional.
func NewService(db *gorm.DB, cacheClient *cache.Client) *Service {
	return &Service{db: db, cache: cacheClient}
}

// GetTool returns a tool by slug, or nil when unknown.
func (s *Service) GetTool(ctx context.Context, slug string) (*models.Tool, error) {
	var tool models.Tool
	err := s.db.WithContext(ctx).First(&tool, "slug = ?", slug).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tool %s: %w", slug, err)
	}
	return &tool, nil
}

// GetPlan returns a plan by code, or nil when unknown.
func (s *Service) GetPlan(ctx context.Context, code string) (*models.Plan, error) {
	key := "catalog:plan:" + code
	if s.cache != nil {
		var cached models.Plan
		if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	var plan models.Plan
	err := s.db.WithContext(ctx).First(&plan, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %s: %w", code, err)
	}

	if s.cache != nil {
		// best effort; a failed write just means the next read hits the DB
		_ = s.cache.SetJSON(ctx, key, plan, cacheTTL)
	}
	return &plan, nil
}

// GetPlanByPriceRef resolves the plan owning a provider price reference, or
// nil when no managed plan matches (forward compatible with price objects we
// do not manage).
func (s *Service) GetPlanByPriceRef(ctx context.Context, priceRef string) (*models.Plan, error) {
	var plan models.Plan
	err := s.db.WithContext(ctx).First(&plan, "stripe_price_id = ?", priceRef).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan for price %s: %w", priceRef, err)
	}
	return &plan, nil
}

// GetActivePlanByPriceRef is GetPlanByPriceRef restricted to active plans,
// used by checkout flows that must not sell retired plans.
func (s *Service) GetActivePlanByPriceRef(ctx context.Context, priceRef string) (*models.Plan, error) {
	var plan models.Plan
	err := s.db.WithContext(ctx).First(&plan, "stripe_price_id = ? AND is_active = ?", priceRef, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active plan for price %s: %w", priceRef, err)
	}
	return &plan, nil
}

// ListPlanFeatures returns the feature grants of a plan.
func (s *Service) ListPlanFeatures(ctx context.Context, planCode string) ([]models.PlanFeature, error) {
	key := "catalog:planfeatures:" + planCode
	if s.cache != nil {
		var cached []models.PlanFeature
		if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	var features []models.PlanFeature
	err := s.db.WithContext(ctx).Where("plan_code = ?", planCode).Find(&features).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load features for plan %s: %w", planCode, err)
	}

	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, key, features, cacheTTL)
	}
	return features, nil
}

// Pricing returns a tool and its active plans with feature grants.
func (s *Service) Pricing(ctx context.Context, toolSlug string) (*models.PricingResponse, error) {
	tool, err := s.GetTool(ctx, toolSlug)
	if err != nil {
		return nil, err
	}
	if tool == nil {
		return nil, nil
	}

	var plans []models.Plan
	err = s.db.WithContext(ctx).
		Where("tool_id = ? AND is_active = ?", toolSlug, true).
		Order("price_cents ASC").
		Find(&plans).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list plans for tool %s: %w", toolSlug, err)
	}

	resp := &models.PricingResponse{Tool: *tool, Plans: make([]models.PricingPlan, 0, len(plans))}
	for _, plan := range plans {
		features, err := s.ListPlanFeatures(ctx, plan.Code)
		if err != nil {
			return nil, err
		}
		resp.Plans = append(resp.Plans, models.PricingPlan{Plan: plan, Features: features})
	}
	return resp, nil
}
