package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/kluisz-ai/kanvas/internal/cache"
	"github.com/kluisz-ai/kanvas/internal/clock"
	registrydomain "github.com/kluisz-ai/kanvas/internal/registry/domain"
	"github.com/kluisz-ai/kanvas/internal/tier/domain"
	"github.com/kluisz-ai/kanvas/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          domain.Repository
	RegistryRepo  registrydomain.Repository
	ResolverCache cache.FeatureResolverCache
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	repo          domain.Repository
	registryRepo  registrydomain.Repository
	resolverCache cache.FeatureResolverCache
	genID         *snowflake.Node
	clock         clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("tier.service"),
		repo:          p.Repo,
		registryRepo:  p.RegistryRepo,
		resolverCache: p.ResolverCache,
		genID:         p.GenID,
		clock:         p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if req.PricingMultiplier <= 0 {
		return nil, domain.ErrInvalidMultiplier
	}
	if req.CreditsPerUSD < 0 {
		return nil, domain.ErrInvalidCredits
	}

	now := s.clock.Now()
	record := &domain.LicenseTier{
		ID:                     s.genID.Generate(),
		Name:                   name,
		Description:            trimPtr(req.Description),
		TokenPricePer1000:      req.TokenPricePer1000,
		CreditsPerUSD:          req.CreditsPerUSD,
		PricingMultiplier:      req.PricingMultiplier,
		DefaultCredits:         req.DefaultCredits,
		DefaultCreditsPerMonth: req.DefaultCreditsPerMonth,
		MaxUsers:               req.MaxUsers,
		MaxFlows:               req.MaxFlows,
		MaxAPICalls:            req.MaxAPICalls,
		MinCreditsPerTrace:     req.MinCreditsPerTrace,
		MaxCreditsPerTrace:     req.MaxCreditsPerTrace,
		Active:                 true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := s.repo.Create(ctx, s.db, record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateName
		}
		return nil, err
	}

	resp := toResponse(record)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, activeOnly bool) ([]domain.Response, error) {
	tiers, err := s.repo.List(ctx, s.db, activeOnly)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.Response, 0, len(tiers))
	for i := range tiers {
		resp = append(resp, toResponse(&tiers[i]))
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*domain.Response, error) {
	tierID, err := parseID(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	tier, err := s.repo.FindByID(ctx, s.db, tierID.Int64())
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, domain.ErrNotFound
	}
	resp := toResponse(tier)
	return &resp, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (*domain.Response, error) {
	tierID, err := parseID(req.ID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	tier, err := s.repo.FindByID(ctx, s.db, tierID.Int64())
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, domain.ErrNotFound
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		tier.Name = name
	}
	if req.Description != nil {
		tier.Description = trimPtr(req.Description)
	}
	if req.TokenPricePer1000 != nil {
		tier.TokenPricePer1000 = *req.TokenPricePer1000
	}
	if req.CreditsPerUSD != nil {
		if *req.CreditsPerUSD < 0 {
			return nil, domain.ErrInvalidCredits
		}
		tier.CreditsPerUSD = *req.CreditsPerUSD
	}
	if req.PricingMultiplier != nil {
		if *req.PricingMultiplier <= 0 {
			return nil, domain.ErrInvalidMultiplier
		}
		tier.PricingMultiplier = *req.PricingMultiplier
	}
	if req.DefaultCredits != nil {
		tier.DefaultCredits = *req.DefaultCredits
	}
	if req.DefaultCreditsPerMonth != nil {
		tier.DefaultCreditsPerMonth = req.DefaultCreditsPerMonth
	}
	if req.MaxUsers != nil {
		tier.MaxUsers = req.MaxUsers
	}
	if req.MaxFlows != nil {
		tier.MaxFlows = req.MaxFlows
	}
	if req.MaxAPICalls != nil {
		tier.MaxAPICalls = req.MaxAPICalls
	}
	if req.MinCreditsPerTrace != nil {
		tier.MinCreditsPerTrace = req.MinCreditsPerTrace
	}
	if req.MaxCreditsPerTrace != nil {
		tier.MaxCreditsPerTrace = req.MaxCreditsPerTrace
	}
	if req.Active != nil {
		tier.Active = *req.Active
	}

	tier.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, tier); err != nil {
		return nil, err
	}

	// Pricing knobs feed into resolution and billing; drop cached sets.
	s.resolverCache.InvalidateTier(tier.ID.String())

	resp := toResponse(tier)
	return &resp, nil
}

// Delete refuses tiers still referenced by license pools or users.
func (s *Service) Delete(ctx context.Context, id string) error {
	tierID, err := parseID(id)
	if err != nil {
		return domain.ErrInvalidID
	}

	tier, err := s.repo.FindByID(ctx, s.db, tierID.Int64())
	if err != nil {
		return err
	}
	if tier == nil {
		return domain.ErrNotFound
	}

	poolRefs, err := s.repo.CountPoolRefs(ctx, s.db, tierID.Int64())
	if err != nil {
		return err
	}
	userRefs, err := s.repo.CountUserRefs(ctx, s.db, tierID.Int64())
	if err != nil {
		return err
	}
	if poolRefs > 0 || userRefs > 0 {
		s.log.Warn("refusing to delete referenced tier",
			zap.String("tier_id", id),
			zap.Int64("pool_refs", poolRefs),
			zap.Int64("user_refs", userRefs),
		)
		return domain.ErrInvalidOperation
	}

	if err := s.repo.Delete(ctx, s.db, tierID.Int64()); err != nil {
		return err
	}
	s.resolverCache.InvalidateTier(tier.ID.String())
	return nil
}

func (s *Service) ListOverrides(ctx context.Context, tierID string) (map[string]map[string]any, error) {
	id, err := parseID(tierID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	overrides, err := s.repo.ListOverrides(ctx, s.db, id.Int64())
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]any, len(overrides))
	for _, o := range overrides {
		out[o.FeatureKey] = map[string]any(o.FeatureValue)
	}
	return out, nil
}

// ReplaceOverrides swaps a tier's feature override set and flushes every
// cached resolution for that tier before returning, so the next resolve
// of any affected user observes the new set.
func (s *Service) ReplaceOverrides(ctx context.Context, tierID string, overrides map[string]map[string]any) error {
	id, err := parseID(tierID)
	if err != nil {
		return domain.ErrInvalidID
	}

	tier, err := s.repo.FindByID(ctx, s.db, id.Int64())
	if err != nil {
		return err
	}
	if tier == nil {
		return domain.ErrNotFound
	}

	now := s.clock.Now()
	records := make([]domain.TierFeatureOverride, 0, len(overrides))
	for key, value := range overrides {
		normalized := strings.ToLower(strings.TrimSpace(key))
		if normalized == "" {
			return domain.ErrUnknownFeature
		}
		feature, err := s.registryRepo.FindByKey(ctx, s.db, normalized)
		if err != nil {
			return err
		}
		if feature == nil {
			return domain.ErrUnknownFeature
		}
		if value == nil {
			value = map[string]any{"enabled": false}
		}
		records = append(records, domain.TierFeatureOverride{
			ID:           s.genID.Generate(),
			TierID:       id,
			FeatureKey:   normalized,
			FeatureValue: datatypes.JSONMap(value),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if err := s.repo.ReplaceOverrides(ctx, s.db, id.Int64(), records); err != nil {
		return err
	}

	s.resolverCache.InvalidateTier(id.String())
	s.log.Info("tier overrides replaced",
		zap.String("tier_id", id.String()),
		zap.Int("override_count", len(records)),
	)
	return nil
}

func toResponse(t *domain.LicenseTier) domain.Response {
	return domain.Response{
		ID:                     t.ID.String(),
		Name:                   t.Name,
		Description:            t.Description,
		TokenPricePer1000:      t.TokenPricePer1000,
		CreditsPerUSD:          t.CreditsPerUSD,
		PricingMultiplier:      t.PricingMultiplier,
		DefaultCredits:         t.DefaultCredits,
		DefaultCreditsPerMonth: t.DefaultCreditsPerMonth,
		MaxUsers:               t.MaxUsers,
		MaxFlows:               t.MaxFlows,
		MaxAPICalls:            t.MaxAPICalls,
		MinCreditsPerTrace:     t.MinCreditsPerTrace,
		MaxCreditsPerTrace:     t.MaxCreditsPerTrace,
		Active:                 t.Active,
		CreatedAt:              t.CreatedAt,
		UpdatedAt:              t.UpdatedAt,
	}
}

func parseID(value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed == 0 {
		return 0, domain.ErrInvalidID
	}
	return parsed, nil
}

func trimPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
