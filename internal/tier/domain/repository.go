package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, tier *LicenseTier) error
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*LicenseTier, error)
	FindByName(ctx context.Context, db *gorm.DB, name string) (*LicenseTier, error)
	List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]LicenseTier, error)
	Update(ctx context.Context, db *gorm.DB, tier *LicenseTier) error
	Delete(ctx context.Context, db *gorm.DB, id int64) error

	ListOverrides(ctx context.Context, db *gorm.DB, tierID int64) ([]TierFeatureOverride, error)
	ReplaceOverrides(ctx context.Context, db *gorm.DB, tierID int64, overrides []TierFeatureOverride) error

	CountPoolRefs(ctx context.Context, db *gorm.DB, tierID int64) (int64, error)
	CountUserRefs(ctx context.Context, db *gorm.DB, tierID int64) (int64, error)
}
