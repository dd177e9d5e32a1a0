package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	List(ctx context.Context, req ListRequest) ([]Response, error)
	GetByKey(ctx context.Context, key string) (*Response, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Deprecate(ctx context.Context, key, message string) (*Response, error)
	Delete(ctx context.Context, key string) error
}

type ListRequest struct {
	Category    string
	Subcategory string
	Active      *bool
	Premium     *bool
	SortBy      string
	OrderBy     string
}

type CreateRequest struct {
	Key           string         `json:"feature_key"`
	Name          string         `json:"name"`
	Description   *string        `json:"description"`
	Category      string         `json:"category"`
	Subcategory   *string        `json:"subcategory"`
	FeatureType   FeatureType    `json:"feature_type"`
	DefaultValue  map[string]any `json:"default_value"`
	IsPremium     bool           `json:"is_premium"`
	RequiresSetup bool           `json:"requires_setup"`
	DependsOn     []string       `json:"depends_on"`
	ConflictsWith []string       `json:"conflicts_with"`
	DisplayOrder  int            `json:"display_order"`
	IconName      *string        `json:"icon_name"`
	HelpURL       *string        `json:"help_url"`
}

type UpdateRequest struct {
	Key           string         `json:"feature_key"`
	Name          *string        `json:"name,omitempty"`
	Description   *string        `json:"description,omitempty"`
	Category      *string        `json:"category,omitempty"`
	Subcategory   *string        `json:"subcategory,omitempty"`
	DefaultValue  map[string]any `json:"default_value,omitempty"`
	IsPremium     *bool          `json:"is_premium,omitempty"`
	RequiresSetup *bool          `json:"requires_setup,omitempty"`
	DependsOn     []string       `json:"depends_on,omitempty"`
	ConflictsWith []string       `json:"conflicts_with,omitempty"`
	DisplayOrder  *int           `json:"display_order,omitempty"`
	Active        *bool          `json:"active,omitempty"`
}

type Response struct {
	ID                 string         `json:"id"`
	Key                string         `json:"feature_key"`
	Name               string         `json:"name"`
	Description        *string        `json:"description,omitempty"`
	Category           string         `json:"category"`
	Subcategory        *string        `json:"subcategory,omitempty"`
	FeatureType        FeatureType    `json:"feature_type"`
	DefaultValue       map[string]any `json:"default_value"`
	IsPremium          bool           `json:"is_premium"`
	RequiresSetup      bool           `json:"requires_setup"`
	DependsOn          []string       `json:"depends_on,omitempty"`
	ConflictsWith      []string       `json:"conflicts_with,omitempty"`
	DisplayOrder       int            `json:"display_order"`
	IconName           *string        `json:"icon_name,omitempty"`
	HelpURL            *string        `json:"help_url,omitempty"`
	Active             bool           `json:"is_active"`
	Deprecated         bool           `json:"is_deprecated"`
	DeprecationMessage *string        `json:"deprecation_message,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

var (
	ErrInvalidKey       = errors.New("invalid_feature_key")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidCategory  = errors.New("invalid_category")
	ErrInvalidType      = errors.New("invalid_feature_type")
	ErrDuplicateKey     = errors.New("duplicate_feature_key")
	ErrNotFound         = errors.New("not_found")
	ErrInvalidOperation = errors.New("invalid_operation")
)
