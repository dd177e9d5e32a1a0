package repository

import (
	"context"
	"errors"

	"github.com/kluisz-ai/kanvas/internal/tier/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, tier *domain.LicenseTier) error {
	return db.WithContext(ctx).Create(tier).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.LicenseTier, error) {
	var tier domain.LicenseTier
	err := db.WithContext(ctx).Where("id = ?", id).First(&tier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tier, nil
}

func (r *repo) FindByName(ctx context.Context, db *gorm.DB, name string) (*domain.LicenseTier, error) {
	var tier domain.LicenseTier
	err := db.WithContext(ctx).Where("name = ?", name).First(&tier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tier, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.LicenseTier, error) {
	var tiers []domain.LicenseTier
	stmt := db.WithContext(ctx).Model(&domain.LicenseTier{})
	if activeOnly {
		stmt = stmt.Where("active = ?", true)
	}
	if err := stmt.Order("default_credits ASC").Find(&tiers).Error; err != nil {
		return nil, err
	}
	return tiers, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, tier *domain.LicenseTier) error {
	if tier == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Save(tier).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id int64) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tier_id = ?", id).Delete(&domain.TierFeatureOverride{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&domain.LicenseTier{}).Error
	})
}

func (r *repo) ListOverrides(ctx context.Context, db *gorm.DB, tierID int64) ([]domain.TierFeatureOverride, error) {
	var overrides []domain.TierFeatureOverride
	err := db.WithContext(ctx).
		Where("tier_id = ?", tierID).
		Order("feature_key ASC").
		Find(&overrides).Error
	if err != nil {
		return nil, err
	}
	return overrides, nil
}

// ReplaceOverrides swaps the full override set for a tier in one
// transaction so readers never observe a partial set.
func (r *repo) ReplaceOverrides(ctx context.Context, db *gorm.DB, tierID int64, overrides []domain.TierFeatureOverride) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tier_id = ?", tierID).Delete(&domain.TierFeatureOverride{}).Error; err != nil {
			return err
		}
		if len(overrides) == 0 {
			return nil
		}
		return tx.Create(&overrides).Error
	})
}

func (r *repo) CountPoolRefs(ctx context.Context, db *gorm.DB, tierID int64) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Table("license_pools").
		Where("tier_id = ?", tierID).
		Count(&count).Error
	return count, err
}

func (r *repo) CountUserRefs(ctx context.Context, db *gorm.DB, tierID int64) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Table("users").
		Where("license_tier_id = ?", tierID).
		Count(&count).Error
	return count, err
}
