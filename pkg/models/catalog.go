package models

// Tool is a distinct product a user can subscribe to independently.
type Tool struct {
	Slug        string `gorm:"primaryKey;type:varchar(50)" json:"slug"`
	Name        string `gorm:"type:varchar(100);not null" json:"name"`
	ShortName   string `gorm:"type:varchar(50)" json:"short_name,omitempty"`
	Category    string `gorm:"type:varchar(50)" json:"category,omitempty"`
	BasePath    string `gorm:"type:varchar(100)" json:"base_path,omitempty"`
	Icon        string `gorm:"type:varchar(50)" json:"icon,omitempty"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	IsActive    bool   `gorm:"default:true;index" json:"is_active"`
	Sort        int    `gorm:"default:0" json:"sort"`
}

// Plan billing intervals.
const (
	IntervalOneTime = "one_time"
	IntervalMonth   = "month"
	IntervalYear    = "year"
)

// Plan is a priced tier of a Tool, optionally trialable. Plans are reference
// data: immutable once referenced by a live subscription, except IsActive
// which soft-retires them.
type Plan struct {
	Code          string  `gorm:"primaryKey;type:varchar(60)" json:"code"`
	Name          string  `gorm:"type:varchar(150);not null" json:"name"`
	Type          string  `gorm:"type:varchar(20)" json:"type,omitempty"`
	PriceCents    int     `gorm:"default:0" json:"price_cents"`
	Interval      string  `gorm:"type:varchar(10);not null" json:"interval"`
	TrialDays     *int    `json:"trial_days,omitempty"`
	IsActive      bool    `gorm:"default:true;index" json:"is_active"`
	StripePriceID *string `gorm:"type:varchar(191);index" json:"stripe_price_id,omitempty"`
	Seats         *int    `json:"seats,omitempty"`
	ToolID        *string `gorm:"type:varchar(50);index" json:"tool_id,omitempty"`
}

// Feature is a named capability with a stable key.
type Feature struct {
	Key         string `gorm:"primaryKey;type:varchar(60)" json:"key"`
	Name        string `gorm:"type:varchar(150)" json:"name"`
	Description string `gorm:"type:text" json:"description,omitempty"`
}

// PlanFeature links a Plan to a Feature with an enabled flag and optional
// integer limit (nil = unlimited).
type PlanFeature struct {
	PlanCode   string `gorm:"primaryKey;type:varchar(60)" json:"plan_code"`
	FeatureKey string `gorm:"primaryKey;type:varchar(60)" json:"feature_key"`
	Enabled    bool   `gorm:"default:true" json:"enabled"`
	LimitInt   *int   `json:"limit_int,omitempty"`
}
