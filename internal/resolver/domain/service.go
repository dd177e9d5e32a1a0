package domain

import "context"

type Service interface {
	ResolveForUser(ctx context.Context, userID string) (*ResolvedFeatures, error)
	IsFeatureEnabled(ctx context.Context, userID, featureKey string) (bool, error)
	GetFeatureValue(ctx context.Context, userID, featureKey string) (map[string]any, bool, error)

	InvalidateUser(userID string)
	InvalidateTier(tierID string)
}
