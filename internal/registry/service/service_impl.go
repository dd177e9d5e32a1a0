package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/kluisz-ai/kanvas/internal/clock"
	"github.com/kluisz-ai/kanvas/internal/registry/domain"
	"github.com/kluisz-ai/kanvas/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("registry.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	key := normalizeKey(req.Key)
	if key == "" || !strings.Contains(key, ".") {
		return nil, domain.ErrInvalidKey
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	category := strings.TrimSpace(req.Category)
	if category == "" {
		return nil, domain.ErrInvalidCategory
	}

	featureType, err := normalizeFeatureType(req.FeatureType)
	if err != nil {
		return nil, err
	}

	defaultValue := req.DefaultValue
	if defaultValue == nil {
		defaultValue = map[string]any{"enabled": false}
	}

	now := s.clock.Now()
	record := &domain.Feature{
		ID:            s.genID.Generate(),
		Key:           key,
		Name:          name,
		Description:   trimPtr(req.Description),
		Category:      category,
		Subcategory:   trimPtr(req.Subcategory),
		Type:          featureType,
		DefaultValue:  datatypes.JSONMap(defaultValue),
		IsPremium:     req.IsPremium,
		RequiresSetup: req.RequiresSetup,
		DependsOn:     normalizeKeys(req.DependsOn),
		ConflictsWith: normalizeKeys(req.ConflictsWith),
		DisplayOrder:  req.DisplayOrder,
		IconName:      trimPtr(req.IconName),
		HelpURL:       trimPtr(req.HelpURL),
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, s.db, record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateKey
		}
		return nil, err
	}

	resp := s.toResponse(record)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Response, error) {
	filter := domain.ListRequest{
		Category:    strings.TrimSpace(req.Category),
		Subcategory: strings.TrimSpace(req.Subcategory),
		Active:      req.Active,
		Premium:     req.Premium,
		SortBy:      strings.TrimSpace(req.SortBy),
		OrderBy:     strings.TrimSpace(req.OrderBy),
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, s.toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) GetByKey(ctx context.Context, key string) (*domain.Response, error) {
	item, err := s.repo.FindByKey(ctx, s.db, normalizeKey(key))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	resp := s.toResponse(item)
	return &resp, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (*domain.Response, error) {
	item, err := s.repo.FindByKey(ctx, s.db, normalizeKey(req.Key))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		item.Name = name
	}
	if req.Description != nil {
		item.Description = trimPtr(req.Description)
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return nil, domain.ErrInvalidCategory
		}
		item.Category = category
	}
	if req.Subcategory != nil {
		item.Subcategory = trimPtr(req.Subcategory)
	}
	if req.DefaultValue != nil {
		item.DefaultValue = datatypes.JSONMap(req.DefaultValue)
	}
	if req.IsPremium != nil {
		item.IsPremium = *req.IsPremium
	}
	if req.RequiresSetup != nil {
		item.RequiresSetup = *req.RequiresSetup
	}
	if req.DependsOn != nil {
		item.DependsOn = normalizeKeys(req.DependsOn)
	}
	if req.ConflictsWith != nil {
		item.ConflictsWith = normalizeKeys(req.ConflictsWith)
	}
	if req.DisplayOrder != nil {
		item.DisplayOrder = *req.DisplayOrder
	}
	if req.Active != nil {
		item.Active = *req.Active
	}

	item.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, item); err != nil {
		return nil, err
	}

	resp := s.toResponse(item)
	return &resp, nil
}

func (s *Service) Deprecate(ctx context.Context, key, message string) (*domain.Response, error) {
	item, err := s.repo.FindByKey(ctx, s.db, normalizeKey(key))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}

	item.Deprecated = true
	message = strings.TrimSpace(message)
	if message != "" {
		item.DeprecationMessage = &message
	}
	item.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, item); err != nil {
		return nil, err
	}

	resp := s.toResponse(item)
	return &resp, nil
}

// Delete removes a catalog entry. Entries still referenced by tier
// overrides cannot be removed; deprecate them instead.
func (s *Service) Delete(ctx context.Context, key string) error {
	normalized := normalizeKey(key)
	item, err := s.repo.FindByKey(ctx, s.db, normalized)
	if err != nil {
		return err
	}
	if item == nil {
		return domain.ErrNotFound
	}

	refs, err := s.repo.CountTierOverrides(ctx, s.db, normalized)
	if err != nil {
		return err
	}
	if refs > 0 {
		s.log.Warn("refusing to delete referenced feature",
			zap.String("feature_key", normalized),
			zap.Int64("override_count", refs),
		)
		return domain.ErrInvalidOperation
	}

	return s.repo.Delete(ctx, s.db, int64(item.ID))
}

func (s *Service) toResponse(f *domain.Feature) domain.Response {
	return domain.Response{
		ID:                 f.ID.String(),
		Key:                f.Key,
		Name:               f.Name,
		Description:        f.Description,
		Category:           f.Category,
		Subcategory:        f.Subcategory,
		FeatureType:        f.Type,
		DefaultValue:       map[string]any(f.DefaultValue),
		IsPremium:          f.IsPremium,
		RequiresSetup:      f.RequiresSetup,
		DependsOn:          []string(f.DependsOn),
		ConflictsWith:      []string(f.ConflictsWith),
		DisplayOrder:       f.DisplayOrder,
		IconName:           f.IconName,
		HelpURL:            f.HelpURL,
		Active:             f.Active,
		Deprecated:         f.Deprecated,
		DeprecationMessage: f.DeprecationMessage,
		CreatedAt:          f.CreatedAt,
		UpdatedAt:          f.UpdatedAt,
	}
}

func normalizeFeatureType(value domain.FeatureType) (domain.FeatureType, error) {
	switch strings.ToLower(strings.TrimSpace(string(value))) {
	case string(domain.FeatureTypeBoolean), "":
		return domain.FeatureTypeBoolean, nil
	case string(domain.FeatureTypeInteger):
		return domain.FeatureTypeInteger, nil
	case string(domain.FeatureTypeString):
		return domain.FeatureTypeString, nil
	case string(domain.FeatureTypeJSON):
		return domain.FeatureTypeJSON, nil
	default:
		return "", domain.ErrInvalidType
	}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		normalized := normalizeKey(key)
		if normalized == "" {
			continue
		}
		out = append(out, normalized)
	}
	return out
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
