package domain

import (
	"context"
	"time"
)

type SetRequest struct {
	TenantID       string         `json:"tenant_id"`
	IntegrationKey string         `json:"integration_key"`
	Config         map[string]any `json:"config"`
	Secrets        map[string]any `json:"secrets"`
	Enabled        *bool          `json:"enabled"`
}

// Response never carries decrypted secrets; SecretKeys lists which secret
// fields are stored, with masked values.
type Response struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	IntegrationKey string         `json:"integration_key"`
	Config         map[string]any `json:"config,omitempty"`
	Secrets        map[string]any `json:"secrets,omitempty"`
	IsEnabled      bool           `json:"is_enabled"`
	HealthStatus   *string        `json:"health_status,omitempty"`
	LastHealthAt   *time.Time     `json:"last_health_check_at,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type Service interface {
	Set(ctx context.Context, req SetRequest) (*Response, error)
	Get(ctx context.Context, tenantID, integrationKey string) (*Response, error)
	List(ctx context.Context, tenantID string) ([]Response, error)
	Delete(ctx context.Context, tenantID, integrationKey string) error

	// DecryptedSecrets is for in-process integration clients only; it is
	// never exposed over HTTP.
	DecryptedSecrets(ctx context.Context, tenantID, integrationKey string) (map[string]any, error)
}
