package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suiteshq/suites-backend/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ToolSubscriptionFields is the full value set applied by the single
// tool-subscription upsert path. A nil StartedAt preserves the existing
// row's value.
type ToolSubscriptionFields struct {
	PlanCode         string
	Status           string
	TrialEnd         *time.Time
	StartedAt        *time.Time
	CancelAt         *time.Time
	Provider         string
	ProviderSubRef   *string
	ProviderItemRef  *string
	CurrentPeriodEnd *time.Time
}

// Store is the persistence surface of the subscription state. Both the
// checkout orchestrator and the webhook reconciler mutate subscription rows
// exclusively through it, so the upsert/update semantics live in one place.
type Store interface {
	// Transaction runs fn against a store bound to a single transaction.
	Transaction(ctx context.Context, fn func(Store) error) error

	FindLiveMaster(ctx context.Context, userID int, provider string) (*models.Subscription, error)
	CreateMaster(ctx context.Context, sub *models.Subscription) error
	SaveMaster(ctx context.Context, sub *models.Subscription) error
	FindMasterByProviderRef(ctx context.Context, userID int, provider, providerRef string) (*models.Subscription, error)
	UpdateMasterByProviderRef(ctx context.Context, provider, providerRef, status string, currentPeriodEnd *time.Time) (int64, error)

	FindToolSubscription(ctx context.Context, userID int, toolID string) (*models.ToolSubscription, error)
	UpsertToolSubscription(ctx context.Context, userID int, toolID string, fields ToolSubscriptionFields) (*models.ToolSubscription, error)
	UpdateToolSubscriptionsByItemRef(ctx context.Context, provider, providerSubRef, providerItemRef, status string, currentPeriodEnd *time.Time) (int64, error)
	ListToolSubscriptions(ctx context.Context, userID int) ([]models.ToolSubscription, error)
	ListReportableToolSubscriptions(ctx context.Context, provider string) ([]models.ToolSubscription, error)

	UpsertBillingCustomer(ctx context.Context, userID int, customerRef string) error
	GetBillingCustomerByUserID(ctx context.Context, userID int) (*models.BillingCustomer, error)
	GetBillingCustomerByCustomerRef(ctx context.Context, customerRef string) (*models.BillingCustomer, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewStore creates a subscription store backed by GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

// locked adds a row-level lock on Postgres. SQLite (tests, local dev) has no
// SELECT ... FOR UPDATE; its writes are serialized by the single writer.
func (s *gormStore) locked(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "postgres" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func liveStatuses() []string {
	return []string{models.StatusActive, models.StatusTrialing, models.StatusPastDue}
}

func (s *gormStore) FindLiveMaster(ctx context.Context, userID int, provider string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND status IN ?", userID, provider, liveStatuses()).
		Order("updated_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find live master subscription: %w", err)
	}
	return &sub, nil
}

func (s *gormStore) CreateMaster(ctx context.Context, sub *models.Subscription) error {
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("failed to create master subscription: %w", err)
	}
	return nil
}

func (s *gormStore) SaveMaster(ctx context.Context, sub *models.Subscription) error {
	if err := s.db.WithContext(ctx).Save(sub).Error; err != nil {
		return fmt.Errorf("failed to save master subscription: %w", err)
	}
	return nil
}

func (s *gormStore) FindMasterByProviderRef(ctx context.Context, userID int, provider, providerRef string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.locked(s.db.WithContext(ctx)).
		Where("user_id = ? AND provider = ? AND provider_ref = ?", userID, provider, providerRef).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find master subscription by provider ref: %w", err)
	}
	return &sub, nil
}

// UpdateMasterByProviderRef is deliberately an update, not an upsert: a
// subscription event for an unknown master is a no-op, and the next
// successful invoice event creates the row.
func (s *gormStore) UpdateMasterByProviderRef(ctx context.Context, provider, providerRef, status string, currentPeriodEnd *time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("provider = ? AND provider_ref = ?", provider, providerRef).
		Updates(map[string]interface{}{
			"status":             status,
			"current_period_end": currentPeriodEnd,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update master subscription %s: %w", providerRef, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) FindToolSubscription(ctx context.Context, userID int, toolID string) (*models.ToolSubscription, error) {
	var sub models.ToolSubscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND tool_id = ?", userID, toolID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tool subscription: %w", err)
	}
	return &sub, nil
}

// UpsertToolSubscription is the sole write path for tool-subscription rows,
// keyed on (userId, toolId). Two concurrent writers converge on one row
// instead of duplicating it.
func (s *gormStore) UpsertToolSubscription(ctx context.Context, userID int, toolID string, fields ToolSubscriptionFields) (*models.ToolSubscription, error) {
	var row models.ToolSubscription

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := s.locked(tx).
			Where("user_id = ? AND tool_id = ?", userID, toolID).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			startedAt := fields.StartedAt
			if startedAt == nil {
				now := time.Now().UTC()
				startedAt = &now
			}
			row = models.ToolSubscription{
				UserID:           userID,
				ToolID:           toolID,
				PlanCode:         fields.PlanCode,
				Status:           fields.Status,
				TrialEnd:         fields.TrialEnd,
				StartedAt:        startedAt,
				CancelAt:         fields.CancelAt,
				Provider:         fields.Provider,
				ProviderSubRef:   fields.ProviderSubRef,
				ProviderItemRef:  fields.ProviderItemRef,
				CurrentPeriodEnd: fields.CurrentPeriodEnd,
			}
			return tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "user_id"}, {Name: "tool_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"plan_code", "status", "trial_end", "cancel_at", "provider",
					"provider_sub_ref", "provider_item_ref", "current_period_end", "updated_at",
				}),
			}).Create(&row).Error
		}
		if err != nil {
			return err
		}

		row.PlanCode = fields.PlanCode
		row.Status = fields.Status
		row.TrialEnd = fields.TrialEnd
		row.CancelAt = fields.CancelAt
		row.Provider = fields.Provider
		row.ProviderSubRef = fields.ProviderSubRef
		row.ProviderItemRef = fields.ProviderItemRef
		row.CurrentPeriodEnd = fields.CurrentPeriodEnd
		if fields.StartedAt != nil {
			row.StartedAt = fields.StartedAt
		}
		return tx.Save(&row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert tool subscription %d/%s: %w", userID, toolID, err)
	}
	return &row, nil
}

// UpdateToolSubscriptionsByItemRef is a scoped update keyed by the provider
// line item. It never creates rows, so a subscription.updated/deleted event
// cannot fabricate a tool subscription that no payment event created.
func (s *gormStore) UpdateToolSubscriptionsByItemRef(ctx context.Context, provider, providerSubRef, providerItemRef, status string, currentPeriodEnd *time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.ToolSubscription{}).
		Where("provider = ? AND provider_sub_ref = ? AND provider_item_ref = ?", provider, providerSubRef, providerItemRef).
		Updates(map[string]interface{}{
			"status":             status,
			"current_period_end": currentPeriodEnd,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update tool subscriptions for item %s: %w", providerItemRef, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) ListToolSubscriptions(ctx context.Context, userID int) ([]models.ToolSubscription, error) {
	var subs []models.ToolSubscription
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tool subscriptions: %w", err)
	}
	return subs, nil
}

func (s *gormStore) ListReportableToolSubscriptions(ctx context.Context, provider string) ([]models.ToolSubscription, error) {
	var subs []models.ToolSubscription
	err := s.db.WithContext(ctx).
		Where("provider = ? AND status IN ? AND provider_item_ref IS NOT NULL",
			provider, []string{models.StatusActive, models.StatusTrialing}).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list reportable tool subscriptions: %w", err)
	}
	return subs, nil
}

// UpsertBillingCustomer establishes or refreshes the userId ↔ provider
// customer mapping. Safe to run repeatedly with the same pair.
func (s *gormStore) UpsertBillingCustomer(ctx context.Context, userID int, customerRef string) error {
	row := models.BillingCustomer{UserID: userID, StripeCustomerID: customerRef}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"stripe_customer_id", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert billing customer for user %d: %w", userID, err)
	}
	return nil
}

func (s *gormStore) GetBillingCustomerByUserID(ctx context.Context, userID int) (*models.BillingCustomer, error) {
	var row models.BillingCustomer
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find billing customer for user %d: %w", userID, err)
	}
	return &row, nil
}

func (s *gormStore) GetBillingCustomerByCustomerRef(ctx context.Context, customerRef string) (*models.BillingCustomer, error) {
	var row models.BillingCustomer
	err := s.db.WithContext(ctx).Where("stripe_customer_id = ?", customerRef).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find billing customer %s: %w", customerRef, err)
	}
	return &row, nil
}
