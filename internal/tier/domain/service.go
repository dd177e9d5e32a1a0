package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	List(ctx context.Context, activeOnly bool) ([]Response, error)
	GetByID(ctx context.Context, id string) (*Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Delete(ctx context.Context, id string) error

	ListOverrides(ctx context.Context, tierID string) (map[string]map[string]any, error)
	ReplaceOverrides(ctx context.Context, tierID string, overrides map[string]map[string]any) error
}

type CreateRequest struct {
	Name                   string  `json:"name"`
	Description            *string `json:"description"`
	TokenPricePer1000      float64 `json:"token_price_per_1000"`
	CreditsPerUSD          float64 `json:"credits_per_usd"`
	PricingMultiplier      float64 `json:"pricing_multiplier"`
	DefaultCredits         int64   `json:"default_credits"`
	DefaultCreditsPerMonth *int64  `json:"default_credits_per_month"`
	MaxUsers               *int64  `json:"max_users"`
	MaxFlows               *int64  `json:"max_flows"`
	MaxAPICalls            *int64  `json:"max_api_calls"`
	MinCreditsPerTrace     *int64  `json:"min_credits_per_trace"`
	MaxCreditsPerTrace     *int64  `json:"max_credits_per_trace"`
}

type UpdateRequest struct {
	ID                     string   `json:"id"`
	Name                   *string  `json:"name,omitempty"`
	Description            *string  `json:"description,omitempty"`
	TokenPricePer1000      *float64 `json:"token_price_per_1000,omitempty"`
	CreditsPerUSD          *float64 `json:"credits_per_usd,omitempty"`
	PricingMultiplier      *float64 `json:"pricing_multiplier,omitempty"`
	DefaultCredits         *int64   `json:"default_credits,omitempty"`
	DefaultCreditsPerMonth *int64   `json:"default_credits_per_month,omitempty"`
	MaxUsers               *int64   `json:"max_users,omitempty"`
	MaxFlows               *int64   `json:"max_flows,omitempty"`
	MaxAPICalls            *int64   `json:"max_api_calls,omitempty"`
	MinCreditsPerTrace     *int64   `json:"min_credits_per_trace,omitempty"`
	MaxCreditsPerTrace     *int64   `json:"max_credits_per_trace,omitempty"`
	Active                 *bool    `json:"active,omitempty"`
}

type Response struct {
	ID                     string    `json:"id"`
	Name                   string    `json:"name"`
	Description            *string   `json:"description,omitempty"`
	TokenPricePer1000      float64   `json:"token_price_per_1000"`
	CreditsPerUSD          float64   `json:"credits_per_usd"`
	PricingMultiplier      float64   `json:"pricing_multiplier"`
	DefaultCredits         int64     `json:"default_credits"`
	DefaultCreditsPerMonth *int64    `json:"default_credits_per_month,omitempty"`
	MaxUsers               *int64    `json:"max_users,omitempty"`
	MaxFlows               *int64    `json:"max_flows,omitempty"`
	MaxAPICalls            *int64    `json:"max_api_calls,omitempty"`
	MinCreditsPerTrace     *int64    `json:"min_credits_per_trace,omitempty"`
	MaxCreditsPerTrace     *int64    `json:"max_credits_per_trace,omitempty"`
	Active                 bool      `json:"is_active"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

var (
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidMultiplier = errors.New("invalid_pricing_multiplier")
	ErrInvalidCredits    = errors.New("invalid_credits_per_usd")
	ErrDuplicateName     = errors.New("duplicate_tier_name")
	ErrNotFound          = errors.New("not_found")
	ErrInvalidOperation  = errors.New("invalid_operation")
	ErrUnknownFeature    = errors.New("unknown_feature_key")
)
