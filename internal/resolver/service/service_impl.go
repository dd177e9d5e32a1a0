package service

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/kluisz-ai/kanvas/internal/cache"
	"github.com/kluisz-ai/kanvas/internal/clock"
	"github.com/kluisz-ai/kanvas/internal/config"
	"github.com/kluisz-ai/kanvas/internal/metrics"
	registrydomain "github.com/kluisz-ai/kanvas/internal/registry/domain"
	"github.com/kluisz-ai/kanvas/internal/resolver/domain"
	tenantdomain "github.com/kluisz-ai/kanvas/internal/tenant/domain"
	tierdomain "github.com/kluisz-ai/kanvas/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Policy       *config.PolicyHolder
	Cache        cache.FeatureResolverCache
	RegistryRepo registrydomain.Repository
	TierRepo     tierdomain.Repository
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	policy       *config.PolicyHolder
	cache        cache.FeatureResolverCache
	registryRepo registrydomain.Repository
	tierRepo     tierdomain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("resolver.service"),
		clock:        p.Clock,
		policy:       p.Policy,
		cache:        p.Cache,
		registryRepo: p.RegistryRepo,
		tierRepo:     p.TierRepo,
	}
}

// ResolveForUser computes the effective feature set for one user by layering
// tier overrides over registry defaults, then enforcing dependency and
// conflict rules. Results are cached per user until the TTL expires or the
// user's tier changes.
func (s *Service) ResolveForUser(ctx context.Context, userID string) (*domain.ResolvedFeatures, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	if cached, ok := s.cache.Get(userID); ok {
		metrics.ResolverCacheHits.Inc()
		return cached, nil
	}
	metrics.ResolverCacheMisses.Inc()

	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return nil, domain.ErrInvalidUser
	}

	var user tenantdomain.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	active := true
	features, err := s.registryRepo.List(ctx, s.db.WithContext(ctx), registrydomain.ListRequest{Active: &active})
	if err != nil {
		return nil, err
	}

	resolved := &domain.ResolvedFeatures{
		UserID:     userID,
		TenantID:   user.TenantID.String(),
		Superadmin: user.IsPlatformSuperadmin,
		Features:   make(map[string]domain.FeatureState, len(features)),
		ResolvedAt: s.clock.Now(),
	}

	if user.IsPlatformSuperadmin {
		// Superadmins bypass tier, dependency and conflict rules entirely.
		for _, f := range features {
			resolved.Features[f.Key] = domain.FeatureState{
				Key:     f.Key,
				Enabled: true,
				Value:   map[string]any{"enabled": true},
				Source:  domain.SourceSuperadmin,
			}
		}
		s.cache.Set(userID, "", resolved, s.policy.Get().CacheTTL())
		return resolved, nil
	}

	for _, f := range features {
		resolved.Features[f.Key] = domain.FeatureState{
			Key:     f.Key,
			Enabled: registrydomain.Enabled(f.DefaultValue),
			Value:   map[string]any(f.DefaultValue),
			Source:  domain.SourceDefault,
		}
	}

	tierID := ""
	if user.LicenseActive && user.LicenseTierID != nil {
		tierID = user.LicenseTierID.String()
		resolved.TierID = tierID
		overrides, err := s.tierRepo.ListOverrides(ctx, s.db.WithContext(ctx), int64(*user.LicenseTierID))
		if err != nil {
			return nil, err
		}
		for _, ov := range overrides {
			state, ok := resolved.Features[ov.FeatureKey]
			if !ok {
				// Override for an inactive or deleted feature; skip it.
				continue
			}
			state.Enabled = registrydomain.Enabled(ov.FeatureValue)
			state.Value = map[string]any(ov.FeatureValue)
			state.Source = domain.SourceTier
			resolved.Features[ov.FeatureKey] = state
		}
	}

	byKey := make(map[string]registrydomain.Feature, len(features))
	for _, f := range features {
		byKey[f.Key] = f
	}
	ordered := orderedKeys(features)

	s.applyDependencies(resolved, byKey, ordered)
	s.applyConflicts(resolved, byKey, ordered)

	s.cache.Set(userID, tierID, resolved, s.policy.Get().CacheTTL())
	return resolved, nil
}

func (s *Service) IsFeatureEnabled(ctx context.Context, userID, featureKey string) (bool, error) {
	resolved, err := s.ResolveForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	state, ok := resolved.Features[strings.ToLower(strings.TrimSpace(featureKey))]
	if !ok {
		return false, nil
	}
	return state.Enabled, nil
}

func (s *Service) GetFeatureValue(ctx context.Context, userID, featureKey string) (map[string]any, bool, error) {
	resolved, err := s.ResolveForUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	state, ok := resolved.Features[strings.ToLower(strings.TrimSpace(featureKey))]
	if !ok {
		return nil, false, nil
	}
	return state.Value, true, nil
}

func (s *Service) InvalidateUser(userID string) { s.cache.InvalidateUser(userID) }
func (s *Service) InvalidateTier(tierID string) { s.cache.InvalidateTier(tierID) }

// applyDependencies disables any enabled feature whose dependency chain is
// broken. Iterates to a fixpoint so transitive chains settle regardless of
// catalog order.
func (s *Service) applyDependencies(resolved *domain.ResolvedFeatures, byKey map[string]registrydomain.Feature, ordered []string) {
	for range ordered {
		changed := false
		for _, key := range ordered {
			state := resolved.Features[key]
			if !state.Enabled {
				continue
			}
			for _, dep := range byKey[key].DependsOn {
				depState, known := resolved.Features[dep]
				if known && depState.Enabled {
					continue
				}
				state.Enabled = false
				state.Source = domain.SourceDependency
				resolved.Features[key] = state
				changed = true
				break
			}
		}
		if !changed {
			return
		}
	}
}

// applyConflicts disables the loser of every pair of mutually exclusive
// features that are both enabled. A tier-enabled feature beats a
// default-enabled one; between equals the configured tie-break decides.
func (s *Service) applyConflicts(resolved *domain.ResolvedFeatures, byKey map[string]registrydomain.Feature, ordered []string) {
	tieBreak := s.policy.Get().ConflictTieBreak
	for _, key := range ordered {
		state := resolved.Features[key]
		if !state.Enabled {
			continue
		}
		for _, other := range byKey[key].ConflictsWith {
			otherState, known := resolved.Features[other]
			if !known || !otherState.Enabled {
				continue
			}
			loserKey := key
			if conflictWinner(key, other, state, otherState, byKey, tieBreak) == key {
				loserKey = other
			}
			loser := resolved.Features[loserKey]
			loser.Enabled = false
			loser.Source = domain.SourceConflict
			resolved.Features[loserKey] = loser
			if loserKey == key {
				state = loser
				break
			}
		}
	}
}

func conflictWinner(a, b string, aState, bState domain.FeatureState, byKey map[string]registrydomain.Feature, tieBreak string) string {
	aTier := aState.Source == domain.SourceTier
	bTier := bState.Source == domain.SourceTier
	if aTier != bTier {
		if aTier {
			return a
		}
		return b
	}
	if tieBreak == config.TieBreakFeatureKey {
		if a <= b {
			return a
		}
		return b
	}
	fa, fb := byKey[a], byKey[b]
	if fa.DisplayOrder != fb.DisplayOrder {
		if fa.DisplayOrder < fb.DisplayOrder {
			return a
		}
		return b
	}
	if a <= b {
		return a
	}
	return b
}

func orderedKeys(features []registrydomain.Feature) []string {
	sorted := make([]registrydomain.Feature, len(features))
	copy(sorted, features)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].DisplayOrder != sorted[j].DisplayOrder {
			return sorted[i].DisplayOrder < sorted[j].DisplayOrder
		}
		return sorted[i].Key < sorted[j].Key
	})
	keys := make([]string, len(sorted))
	for i, f := range sorted {
		keys[i] = f.Key
	}
	return keys
}
