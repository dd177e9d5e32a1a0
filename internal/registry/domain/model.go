package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type FeatureType string

const (
	FeatureTypeBoolean FeatureType = "boolean"
	FeatureTypeInteger FeatureType = "integer"
	FeatureTypeString  FeatureType = "string"
	FeatureTypeJSON    FeatureType = "json"
)

// Feature is one entry in the platform-wide feature catalog. Keys are
// dotted paths ("models.gpt4_enabled") and unique across the registry.
type Feature struct {
	ID  snowflake.ID `gorm:"primaryKey"`
	Key string       `gorm:"column:feature_key;type:text;not null;uniqueIndex:ux_feature_registry_key"`

	Name        string  `gorm:"type:text;not null"`
	Description *string `gorm:"type:text"`
	Category    string  `gorm:"type:text;not null;index"`
	Subcategory *string `gorm:"type:text"`

	Type         FeatureType       `gorm:"column:feature_type;type:text;not null"`
	DefaultValue datatypes.JSONMap `gorm:"type:jsonb"`

	IsPremium     bool `gorm:"not null;default:false"`
	RequiresSetup bool `gorm:"not null;default:false"`

	DependsOn     datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	ConflictsWith datatypes.JSONSlice[string] `gorm:"type:jsonb"`

	DisplayOrder int     `gorm:"not null;default:0"`
	IconName     *string `gorm:"type:text"`
	HelpURL      *string `gorm:"type:text"`

	Active             bool    `gorm:"not null"`
	Deprecated         bool    `gorm:"not null;default:false"`
	DeprecationMessage *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Feature) TableName() string { return "feature_registry" }

// Enabled reads the canonical {"enabled": bool} shape from a feature value.
// Missing or malformed values count as disabled.
func Enabled(value map[string]any) bool {
	if value == nil {
		return false
	}
	enabled, ok := value["enabled"].(bool)
	return ok && enabled
}
