package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// TenantUsageStats is one aggregation bucket for a tenant. Buckets are
// recomputed and overwritten by the aggregator; request-path code never
// writes them.
type TenantUsageStats struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"column:tenant_id;not null;uniqueIndex:ux_tenant_usage_bucket"`

	PeriodStart time.Time `gorm:"not null;uniqueIndex:ux_tenant_usage_bucket"`
	PeriodEnd   time.Time `gorm:"not null;uniqueIndex:ux_tenant_usage_bucket"`

	TotalTraces  int64 `gorm:"not null;default:0"`
	TotalCredits int64 `gorm:"not null;default:0"`
	// TotalCostUSD is the 4-decimal formatted dollar amount. Text column:
	// a numeric type would strip the trailing zeros on read-back.
	TotalCostUSD string `gorm:"column:total_cost_usd;type:text;not null;default:'0.0000'"`
	TotalTokens  int64  `gorm:"not null;default:0"`
	ActiveUsers  int64  `gorm:"not null;default:0"`

	LastRunID string    `gorm:"column:last_run_id;type:text"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TenantUsageStats) TableName() string { return "tenant_usage_stats" }

type UserUsageStats struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	UserID   snowflake.ID `gorm:"column:user_id;not null;uniqueIndex:ux_user_usage_bucket"`
	TenantID snowflake.ID `gorm:"column:tenant_id;not null;index"`

	PeriodStart time.Time `gorm:"not null;uniqueIndex:ux_user_usage_bucket"`
	PeriodEnd   time.Time `gorm:"not null;uniqueIndex:ux_user_usage_bucket"`

	TotalTraces  int64  `gorm:"not null;default:0"`
	TotalCredits int64  `gorm:"not null;default:0"`
	TotalCostUSD string `gorm:"column:total_cost_usd;type:text;not null;default:'0.0000'"`
	TotalTokens  int64  `gorm:"not null;default:0"`

	LastRunID string    `gorm:"column:last_run_id;type:text"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (UserUsageStats) TableName() string { return "user_usage_stats" }

var (
	ErrInvalidPeriod  = errors.New("invalid_period")
	ErrInvalidID      = errors.New("invalid_id")
	ErrNotFound       = errors.New("not_found")
	ErrSyncInProgress = errors.New("sync_in_progress")
	ErrSyncDisabled   = errors.New("sync_disabled")
)
