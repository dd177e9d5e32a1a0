package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, feature *Feature) error
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*Feature, error)
	FindByKey(ctx context.Context, db *gorm.DB, key string) (*Feature, error)
	List(ctx context.Context, db *gorm.DB, filter ListRequest) ([]Feature, error)
	Update(ctx context.Context, db *gorm.DB, feature *Feature) error
	Delete(ctx context.Context, db *gorm.DB, id int64) error
	CountTierOverrides(ctx context.Context, db *gorm.DB, key string) (int64, error)
}
