package domain

import (
	"context"
	"time"
)

type Service interface {
	// SetPool creates a pool or resizes an existing one. Resizing below
	// the currently assigned count is refused.
	SetPool(ctx context.Context, req SetPoolRequest) (*PoolResponse, error)
	GetPools(ctx context.Context, tenantID string) (map[string]PoolResponse, error)

	Assign(ctx context.Context, req AssignRequest) (*AssignmentResponse, error)
	Unassign(ctx context.Context, req UnassignRequest) (*AssignmentResponse, error)
	Upgrade(ctx context.Context, req UpgradeRequest) (*AssignmentResponse, error)

	AddCredits(ctx context.Context, req AddCreditsRequest) (*CreditsResponse, error)
	DeductCredits(ctx context.Context, req DeductCreditsRequest) (*CreditsResponse, error)
}

type SetPoolRequest struct {
	TenantID   string `json:"tenant_id"`
	TierID     string `json:"tier_id"`
	TotalCount int64  `json:"total_count"`
	ActorID    string `json:"-"`
}

// PoolResponse mirrors the map shape the dashboard consumes:
// {tier_id: {total_count, assigned_count, available_count}}.
type PoolResponse struct {
	TierID         string    `json:"tier_id"`
	TierName       string    `json:"tier_name,omitempty"`
	TotalCount     int64     `json:"total_count"`
	AssignedCount  int64     `json:"assigned_count"`
	AvailableCount int64     `json:"available_count"`
	CreatedBy      *string   `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type AssignRequest struct {
	UserID    string     `json:"user_id"`
	TierID    string     `json:"tier_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	ActorID   string     `json:"-"`
}

type UnassignRequest struct {
	UserID  string `json:"user_id"`
	ActorID string `json:"-"`
}

type UpgradeRequest struct {
	UserID          string `json:"user_id"`
	NewTierID       string `json:"new_tier_id"`
	PreserveCredits bool   `json:"preserve_credits"`
	ActorID         string `json:"-"`
}

type AssignmentResponse struct {
	UserID           string  `json:"user_id"`
	TenantID         string  `json:"tenant_id"`
	TierID           *string `json:"tier_id,omitempty"`
	CreditsAllocated int64   `json:"credits_allocated"`
	CreditsUsed      int64   `json:"credits_used"`
	CreditsRemaining int64   `json:"credits_remaining"`
	LicenseActive    bool    `json:"license_is_active"`
}

type AddCreditsRequest struct {
	UserID   string         `json:"user_id"`
	Amount   int64          `json:"amount"`
	Purchase bool           `json:"purchase"`
	Metadata map[string]any `json:"metadata,omitempty"`
	ActorID  string         `json:"-"`
}

type DeductCreditsRequest struct {
	UserID   string         `json:"user_id"`
	Amount   int64          `json:"amount"`
	TraceID  string         `json:"trace_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type CreditsResponse struct {
	UserID        string `json:"user_id"`
	CreditsBefore int64  `json:"credits_before"`
	CreditsAfter  int64  `json:"credits_after"`
	Amount        int64  `json:"amount"`
	Applied       bool   `json:"applied"`
}
