package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tenant is one customer workspace.
type Tenant struct {
	ID   snowflake.ID `gorm:"primaryKey"`
	Name string       `gorm:"type:text;not null"`
	Slug string       `gorm:"type:text;not null;uniqueIndex:ux_tenants_slug"`

	Description *string `gorm:"type:text"`
	Active      bool    `gorm:"not null"`
	MaxUsers    *int64  `gorm:"column:max_users"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Tenant) TableName() string { return "tenants" }

// User belongs to a tenant. The license binding fields are written only by
// the licensing service, inside its pool transactions.
type User struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"column:tenant_id;not null;index"`
	Username string       `gorm:"type:text;not null;uniqueIndex:ux_users_username"`
	Email    *string      `gorm:"type:text"`

	IsTenantAdmin        bool `gorm:"not null;default:false"`
	IsPlatformSuperadmin bool `gorm:"not null;default:false"`
	Active               bool `gorm:"not null"`

	LicenseTierID     *snowflake.ID `gorm:"column:license_tier_id;index"`
	CreditsAllocated  int64         `gorm:"not null;default:0"`
	CreditsUsed       int64         `gorm:"not null;default:0"`
	CreditsPerMonth   *int64        `gorm:"column:credits_per_month"`
	LicenseAssignedAt *time.Time
	LicenseAssignedBy *snowflake.ID `gorm:"column:license_assigned_by"`
	LicenseExpiresAt  *time.Time
	LicenseActive     bool `gorm:"column:license_is_active;not null;default:false"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (User) TableName() string { return "users" }

// CreditsRemaining is allocated minus used; negative under the
// allow_negative overdraft policy.
func (u User) CreditsRemaining() int64 {
	return u.CreditsAllocated - u.CreditsUsed
}
