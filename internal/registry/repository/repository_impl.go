package repository

import (
	"context"
	"errors"

	"github.com/kluisz-ai/kanvas/internal/registry/domain"
	"github.com/kluisz-ai/kanvas/pkg/db/option"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, feature *domain.Feature) error {
	return db.WithContext(ctx).Create(feature).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.Feature, error) {
	var f domain.Feature
	err := db.WithContext(ctx).Where("id = ?", id).First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, key string) (*domain.Feature, error) {
	var f domain.Feature
	err := db.WithContext(ctx).Where("feature_key = ?", key).First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRequest) ([]domain.Feature, error) {
	var items []domain.Feature
	stmt := db.WithContext(ctx).Model(&domain.Feature{})

	if filter.Category != "" {
		stmt = stmt.Where("category = ?", filter.Category)
	}
	if filter.Subcategory != "" {
		stmt = stmt.Where("subcategory = ?", filter.Subcategory)
	}
	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}
	if filter.Premium != nil {
		stmt = stmt.Where("is_premium = ?", *filter.Premium)
	}

	stmt = option.WithSortBy(option.WithQuerySortBy(filter.SortBy, filter.OrderBy, map[string]bool{
		"created_at":    true,
		"updated_at":    true,
		"display_order": true,
		"feature_key":   true,
	})).Apply(stmt)

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, feature *domain.Feature) error {
	if feature == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Save(feature).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id int64) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Feature{}).Error
}

func (r *repo) CountTierOverrides(ctx context.Context, db *gorm.DB, key string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Table("license_tier_features").
		Where("feature_key = ?", key).
		Count(&count).Error
	return count, err
}
