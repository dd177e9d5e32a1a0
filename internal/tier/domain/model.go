package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// LicenseTier defines one purchasable license level and its pricing knobs.
type LicenseTier struct {
	ID   snowflake.ID `gorm:"primaryKey"`
	Name string       `gorm:"type:text;not null;uniqueIndex:ux_license_tiers_name"`

	Description *string `gorm:"type:text"`

	TokenPricePer1000 float64 `gorm:"not null;default:0"`
	CreditsPerUSD     float64 `gorm:"column:credits_per_usd;not null;default:100"`
	PricingMultiplier float64 `gorm:"not null;default:1"`

	DefaultCredits         int64  `gorm:"not null;default:0"`
	DefaultCreditsPerMonth *int64 `gorm:"column:default_credits_per_month"`

	MaxUsers    *int64 `gorm:"column:max_users"`
	MaxFlows    *int64 `gorm:"column:max_flows"`
	MaxAPICalls *int64 `gorm:"column:max_api_calls"`

	MinCreditsPerTrace *int64 `gorm:"column:min_credits_per_trace"`
	MaxCreditsPerTrace *int64 `gorm:"column:max_credits_per_trace"`

	Active bool `gorm:"not null"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (LicenseTier) TableName() string { return "license_tiers" }

// TierFeatureOverride pins a feature value for every user on a tier.
type TierFeatureOverride struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	TierID     snowflake.ID `gorm:"column:tier_id;not null;index:ux_tier_feature,priority:1,unique"`
	FeatureKey string       `gorm:"column:feature_key;type:text;not null;index:ux_tier_feature,priority:2,unique"`

	FeatureValue datatypes.JSONMap `gorm:"type:jsonb;not null"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TierFeatureOverride) TableName() string { return "license_tier_features" }
