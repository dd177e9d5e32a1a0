package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/kluisz-ai/kanvas/internal/clock"
	"github.com/kluisz-ai/kanvas/internal/tenant/domain"
	"github.com/kluisz-ai/kanvas/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tenant.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) CreateTenant(ctx context.Context, req domain.CreateTenantRequest) (*domain.TenantResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := s.clock.Now()
	record := &domain.Tenant{
		ID:          s.genID.Generate(),
		Name:        name,
		Slug:        slug.Make(name),
		Description: trimPtr(req.Description),
		Active:      true,
		MaxUsers:    req.MaxUsers,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateSlug
		}
		return nil, err
	}

	resp := s.toTenantResponse(record, 0)
	return &resp, nil
}

func (s *Service) ListTenants(ctx context.Context, activeOnly bool) ([]domain.TenantResponse, error) {
	var tenants []domain.Tenant
	stmt := s.db.WithContext(ctx).Model(&domain.Tenant{})
	if activeOnly {
		stmt = stmt.Where("active = ?", true)
	}
	if err := stmt.Order("created_at ASC").Find(&tenants).Error; err != nil {
		return nil, err
	}

	resp := make([]domain.TenantResponse, 0, len(tenants))
	for i := range tenants {
		count, err := s.countUsers(ctx, tenants[i].ID)
		if err != nil {
			return nil, err
		}
		resp = append(resp, s.toTenantResponse(&tenants[i], count))
	}
	return resp, nil
}

func (s *Service) GetTenant(ctx context.Context, id string) (*domain.TenantResponse, error) {
	tenantID, err := parseID(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	tenant, err := s.findTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, domain.ErrNotFound
	}

	count, err := s.countUsers(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}
	resp := s.toTenantResponse(tenant, count)
	return &resp, nil
}

func (s *Service) UpdateTenant(ctx context.Context, req domain.UpdateTenantRequest) (*domain.TenantResponse, error) {
	tenantID, err := parseID(req.ID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	tenant, err := s.findTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, domain.ErrNotFound
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		tenant.Name = name
	}
	if req.Description != nil {
		tenant.Description = trimPtr(req.Description)
	}
	if req.MaxUsers != nil {
		tenant.MaxUsers = req.MaxUsers
	}
	if req.Active != nil {
		tenant.Active = *req.Active
	}

	tenant.UpdatedAt = s.clock.Now()
	if err := s.db.WithContext(ctx).Save(tenant).Error; err != nil {
		return nil, err
	}

	count, err := s.countUsers(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}
	resp := s.toTenantResponse(tenant, count)
	return &resp, nil
}

// CreateUser enforces the tenant's max_users cap inside one transaction
// so concurrent creates cannot both slip under the limit.
func (s *Service) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.UserResponse, error) {
	tenantID, err := parseID(req.TenantID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" {
		return nil, domain.ErrInvalidUsername
	}

	var record domain.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tenant domain.Tenant
		if err := db.LockForUpdate(tx).Where("id = ?", tenantID).First(&tenant).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}

		if tenant.MaxUsers != nil {
			var count int64
			if err := tx.Model(&domain.User{}).Where("tenant_id = ?", tenant.ID).Count(&count).Error; err != nil {
				return err
			}
			if count >= *tenant.MaxUsers {
				return domain.ErrUserLimitReached
			}
		}

		now := s.clock.Now()
		record = domain.User{
			ID:            s.genID.Generate(),
			TenantID:      tenant.ID,
			Username:      username,
			Email:         trimPtr(req.Email),
			IsTenantAdmin: req.IsTenantAdmin,
			Active:        true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Create(&record).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateUser
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := toUserResponse(&record)
	return &resp, nil
}

func (s *Service) ListUsers(ctx context.Context, tenantID string) ([]domain.UserResponse, error) {
	id, err := parseID(tenantID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	var users []domain.User
	err = s.db.WithContext(ctx).
		Where("tenant_id = ?", id).
		Order("created_at ASC").
		Find(&users).Error
	if err != nil {
		return nil, err
	}

	resp := make([]domain.UserResponse, 0, len(users))
	for i := range users {
		resp = append(resp, toUserResponse(&users[i]))
	}
	return resp, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*domain.UserResponse, error) {
	userID, err := parseID(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	var user domain.User
	err = s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	resp := toUserResponse(&user)
	return &resp, nil
}

func (s *Service) DeactivateUser(ctx context.Context, id string) (*domain.UserResponse, error) {
	userID, err := parseID(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	var user domain.User
	err = s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	user.Active = false
	user.UpdatedAt = s.clock.Now()
	if err := s.db.WithContext(ctx).Save(&user).Error; err != nil {
		return nil, err
	}

	resp := toUserResponse(&user)
	return &resp, nil
}

func (s *Service) findTenant(ctx context.Context, id snowflake.ID) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

func (s *Service) countUsers(ctx context.Context, tenantID snowflake.ID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.User{}).Where("tenant_id = ?", tenantID).Count(&count).Error
	return count, err
}

func (s *Service) toTenantResponse(t *domain.Tenant, userCount int64) domain.TenantResponse {
	return domain.TenantResponse{
		ID:          t.ID.String(),
		Name:        t.Name,
		Slug:        t.Slug,
		Description: t.Description,
		Active:      t.Active,
		MaxUsers:    t.MaxUsers,
		UserCount:   userCount,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func toUserResponse(u *domain.User) domain.UserResponse {
	resp := domain.UserResponse{
		ID:                   u.ID.String(),
		TenantID:             u.TenantID.String(),
		Username:             u.Username,
		Email:                u.Email,
		IsTenantAdmin:        u.IsTenantAdmin,
		IsPlatformSuperadmin: u.IsPlatformSuperadmin,
		Active:               u.Active,
		CreditsAllocated:     u.CreditsAllocated,
		CreditsUsed:          u.CreditsUsed,
		CreditsRemaining:     u.CreditsRemaining(),
		LicenseAssignedAt:    u.LicenseAssignedAt,
		LicenseExpiresAt:     u.LicenseExpiresAt,
		LicenseActive:        u.LicenseActive,
		CreatedAt:            u.CreatedAt,
	}
	if u.LicenseTierID != nil && *u.LicenseTierID != 0 {
		tierID := u.LicenseTierID.String()
		resp.LicenseTierID = &tierID
	}
	return resp
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
