package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// LicensePool holds purchased license slots for one tenant and tier.
// assigned + available == total at every commit point.
type LicensePool struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	TenantID snowflake.ID `gorm:"column:tenant_id;not null;index:ux_license_pools_tenant_tier,priority:1,unique"`
	TierID   snowflake.ID `gorm:"column:tier_id;not null;index:ux_license_pools_tenant_tier,priority:2,unique"`

	TotalCount     int64 `gorm:"not null;default:0"`
	AssignedCount  int64 `gorm:"not null;default:0"`
	AvailableCount int64 `gorm:"not null;default:0"`

	CreatedBy *snowflake.ID `gorm:"column:created_by"`
	CreatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (LicensePool) TableName() string { return "license_pools" }

var (
	ErrNotFound            = errors.New("not_found")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidOperation    = errors.New("invalid_operation")
	ErrPoolExhausted       = errors.New("pool_exhausted")
	ErrAlreadyLicensed     = errors.New("already_licensed")
	ErrNotLicensed         = errors.New("not_licensed")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrPoolConservation    = errors.New("pool_conservation_violated")
)

// PoolExhaustedError names the tier whose pool had no free slot. It
// matches ErrPoolExhausted under errors.Is.
type PoolExhaustedError struct {
	TierID string
}

func (e *PoolExhaustedError) Error() string {
	return "pool_exhausted: tier " + e.TierID
}

func (e *PoolExhaustedError) Is(target error) bool {
	return target == ErrPoolExhausted
}
