package models

import "time"

// Billing providers.
const (
	ProviderManual = "manual"
	ProviderStripe = "stripe"
)

// Subscription statuses. Expired doubles as the fallback for provider
// statuses we do not recognize.
const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusExpired  = "expired"
)

// Subscription is the provider-level "master" billing object aggregating all
// of a user's tool line items. Created lazily on first checkout, updated only
// by the webhook reconciler or the checkout orchestrator, never deleted.
type Subscription struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           int        `gorm:"not null;index:idx_subscriptions_user_status,priority:1" json:"user_id"`
	Status           string     `gorm:"type:varchar(20);not null;index:idx_subscriptions_user_status,priority:2" json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	TrialEnd         *time.Time `json:"trial_end,omitempty"`
	CancelAt         *time.Time `json:"cancel_at,omitempty"`
	BillingAnchorDay *int       `json:"billing_anchor_day,omitempty"`
	Provider         string     `gorm:"type:varchar(20);not null;default:'manual';index:idx_subscriptions_provider_ref,priority:1" json:"provider"`
	ProviderRef      *string    `gorm:"type:varchar(191);index:idx_subscriptions_provider_ref,priority:2;index" json:"provider_ref,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ToolSubscription is the local record of one tool's entitlement state for
// one user, mirroring one line item of the master subscription. A user holds
// at most one row per tool; re-subscribing updates the row in place.
type ToolSubscription struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           int        `gorm:"not null;uniqueIndex:ux_tool_subscriptions_user_tool,priority:1;index:idx_tool_subscriptions_user_status,priority:1" json:"user_id"`
	ToolID           string     `gorm:"type:varchar(50);not null;uniqueIndex:ux_tool_subscriptions_user_tool,priority:2;index" json:"tool_id"`
	PlanCode         string     `gorm:"type:varchar(60);not null" json:"plan_code"`
	Status           string     `gorm:"type:varchar(20);not null;default:'trialing';index:idx_tool_subscriptions_user_status,priority:2" json:"status"`
	TrialEnd         *time.Time `json:"trial_end,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CancelAt         *time.Time `json:"cancel_at,omitempty"`
	Provider         string     `gorm:"type:varchar(20);not null;default:'manual'" json:"provider"`
	ProviderSubRef   *string    `gorm:"type:varchar(191);index" json:"provider_sub_ref,omitempty"`
	ProviderItemRef  *string    `gorm:"type:varchar(191);uniqueIndex" json:"provider_item_ref,omitempty"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BillingCustomer maps a user to their provider-side customer object.
type BillingCustomer struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           int       `gorm:"not null;uniqueIndex" json:"user_id"`
	StripeCustomerID string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"stripe_customer_id"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
