package domain

import (
	"errors"
	"time"
)

// FeatureSource records which resolution pass produced a feature state.
type FeatureSource string

const (
	SourceDefault    FeatureSource = "default"
	SourceTier       FeatureSource = "tier"
	SourceDependency FeatureSource = "dependency"
	SourceConflict   FeatureSource = "conflict"
	SourceSuperadmin FeatureSource = "superadmin"
)

type FeatureState struct {
	Key     string         `json:"key"`
	Enabled bool           `json:"enabled"`
	Value   map[string]any `json:"value,omitempty"`
	Source  FeatureSource  `json:"source"`
}

// ResolvedFeatures is the full effective feature set for one user.
type ResolvedFeatures struct {
	UserID     string                  `json:"user_id"`
	TenantID   string                  `json:"tenant_id"`
	TierID     string                  `json:"tier_id,omitempty"`
	Superadmin bool                    `json:"superadmin,omitempty"`
	Features   map[string]FeatureState `json:"features"`
	ResolvedAt time.Time               `json:"resolved_at"`
}

var (
	ErrInvalidUser = errors.New("invalid_user")
	ErrNotFound    = errors.New("not_found")
)
