package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	CreateTenant(ctx context.Context, req CreateTenantRequest) (*TenantResponse, error)
	ListTenants(ctx context.Context, activeOnly bool) ([]TenantResponse, error)
	GetTenant(ctx context.Context, id string) (*TenantResponse, error)
	UpdateTenant(ctx context.Context, req UpdateTenantRequest) (*TenantResponse, error)

	CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error)
	ListUsers(ctx context.Context, tenantID string) ([]UserResponse, error)
	GetUser(ctx context.Context, id string) (*UserResponse, error)
	DeactivateUser(ctx context.Context, id string) (*UserResponse, error)
}

type CreateTenantRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	MaxUsers    *int64  `json:"max_users"`
}

type UpdateTenantRequest struct {
	ID          string  `json:"id"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	MaxUsers    *int64  `json:"max_users,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

type TenantResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description *string   `json:"description,omitempty"`
	Active      bool      `json:"is_active"`
	MaxUsers    *int64    `json:"max_users,omitempty"`
	UserCount   int64     `json:"user_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CreateUserRequest struct {
	TenantID      string  `json:"tenant_id"`
	Username      string  `json:"username"`
	Email         *string `json:"email"`
	IsTenantAdmin bool    `json:"is_tenant_admin"`
}

type UserResponse struct {
	ID                   string     `json:"id"`
	TenantID             string     `json:"tenant_id"`
	Username             string     `json:"username"`
	Email                *string    `json:"email,omitempty"`
	IsTenantAdmin        bool       `json:"is_tenant_admin"`
	IsPlatformSuperadmin bool       `json:"is_platform_superadmin"`
	Active               bool       `json:"is_active"`
	LicenseTierID        *string    `json:"license_tier_id,omitempty"`
	CreditsAllocated     int64      `json:"credits_allocated"`
	CreditsUsed          int64      `json:"credits_used"`
	CreditsRemaining     int64      `json:"credits_remaining"`
	LicenseAssignedAt    *time.Time `json:"license_assigned_at,omitempty"`
	LicenseExpiresAt     *time.Time `json:"license_expires_at,omitempty"`
	LicenseActive        bool       `json:"license_is_active"`
	CreatedAt            time.Time  `json:"created_at"`
}

var (
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidUsername  = errors.New("invalid_username")
	ErrInvalidID        = errors.New("invalid_id")
	ErrDuplicateSlug    = errors.New("duplicate_tenant_slug")
	ErrDuplicateUser    = errors.New("duplicate_username")
	ErrNotFound         = errors.New("not_found")
	ErrUserLimitReached = errors.New("user_limit_reached")
)
