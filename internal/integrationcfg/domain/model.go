package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TenantIntegrationConfig holds one tenant's settings for a third-party
// integration. Queryable settings live in Config; credentials live only in
// SecretConfig, sealed with the platform secret key. A value never appears
// in both columns.
type TenantIntegrationConfig struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	TenantID       snowflake.ID `gorm:"column:tenant_id;not null;uniqueIndex:ux_tenant_integration"`
	IntegrationKey string       `gorm:"column:integration_key;type:text;not null;uniqueIndex:ux_tenant_integration"`

	Config       datatypes.JSONMap `gorm:"type:jsonb"`
	SecretConfig []byte            `gorm:"column:secret_config;type:bytea"`

	IsEnabled         bool       `gorm:"not null;default:false"`
	LastHealthCheckAt *time.Time `gorm:"column:last_health_check_at"`
	HealthStatus      *string    `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TenantIntegrationConfig) TableName() string { return "tenant_integration_configs" }

var (
	ErrNotFound             = errors.New("not_found")
	ErrInvalidID            = errors.New("invalid_id")
	ErrInvalidKey           = errors.New("invalid_integration_key")
	ErrInvalidConfig        = errors.New("invalid_config")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
	ErrDecryptFailed        = errors.New("decrypt_failed")
)
