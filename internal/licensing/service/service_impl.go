package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kluisz-ai/kanvas/internal/cache"
	"github.com/kluisz-ai/kanvas/internal/clock"
	"github.com/kluisz-ai/kanvas/internal/config"
	ledgerdomain "github.com/kluisz-ai/kanvas/internal/ledger/domain"
	"github.com/kluisz-ai/kanvas/internal/licensing/domain"
	"github.com/kluisz-ai/kanvas/internal/metrics"
	tenantdomain "github.com/kluisz-ai/kanvas/internal/tenant/domain"
	tierdomain "github.com/kluisz-ai/kanvas/internal/tier/domain"
	"github.com/kluisz-ai/kanvas/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Policy        *config.PolicyHolder
	LedgerSvc     ledgerdomain.Service
	TierRepo      tierdomain.Repository
	ResolverCache cache.FeatureResolverCache
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	policy        *config.PolicyHolder
	ledgerSvc     ledgerdomain.Service
	tierRepo      tierdomain.Repository
	resolverCache cache.FeatureResolverCache
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("licensing.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		policy:        p.Policy,
		ledgerSvc:     p.LedgerSvc,
		tierRepo:      p.TierRepo,
		resolverCache: p.ResolverCache,
	}
}

func (s *Service) SetPool(ctx context.Context, req domain.SetPoolRequest) (*domain.PoolResponse, error) {
	tenantID, err := parseID(req.TenantID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	tierID, err := parseID(req.TierID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	if req.TotalCount < 0 {
		return nil, domain.ErrInvalidAmount
	}

	tier, err := s.tierRepo.FindByID(ctx, s.db, tierID.Int64())
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, domain.ErrNotFound
	}

	now := s.clock.Now()
	var pool domain.LicensePool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tenant tenantdomain.Tenant
		if err := tx.Where("id = ?", tenantID).First(&tenant).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}

		// Resize keeps assigned slots untouched and recomputes available
		// in the same statement, so the conservation invariant holds even
		// under concurrent assigns.
		res := tx.Exec(
			`UPDATE license_pools
			 SET total_count = ?, available_count = ? - assigned_count, updated_at = ?
			 WHERE tenant_id = ? AND tier_id = ? AND assigned_count <= ?`,
			req.TotalCount, req.TotalCount, now, tenantID, tierID, req.TotalCount,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var existing domain.LicensePool
			err := tx.Where("tenant_id = ? AND tier_id = ?", tenantID, tierID).First(&existing).Error
			if err == nil {
				// Pool exists but holds more assigned slots than the new total.
				return domain.ErrInvalidOperation
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			pool = domain.LicensePool{
				ID:             s.genID.Generate(),
				TenantID:       tenantID,
				TierID:         tierID,
				TotalCount:     req.TotalCount,
				AssignedCount:  0,
				AvailableCount: req.TotalCount,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if actor, err := parseID(req.ActorID); err == nil {
				pool.CreatedBy = &actor
			}
			return tx.Create(&pool).Error
		}

		return s.loadAndVerifyPool(ctx, tx, tenantID, tierID, &pool)
	})
	if err != nil {
		return nil, err
	}

	resp := toPoolResponse(&pool, tier.Name)
	return &resp, nil
}

func (s *Service) GetPools(ctx context.Context, tenantID string) (map[string]domain.PoolResponse, error) {
	id, err := parseID(tenantID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	var pools []domain.LicensePool
	err = s.db.WithContext(ctx).
		Where("tenant_id = ?", id).
		Order("tier_id ASC").
		Find(&pools).Error
	if err != nil {
		return nil, err
	}

	tiers, err := s.tierRepo.List(ctx, s.db, false)
	if err != nil {
		return nil, err
	}
	names := make(map[snowflake.ID]string, len(tiers))
	for _, t := range tiers {
		names[t.ID] = t.Name
	}

	out := make(map[string]domain.PoolResponse, len(pools))
	for i := range pools {
		out[pools[i].TierID.String()] = toPoolResponse(&pools[i], names[pools[i].TierID])
	}
	return out, nil
}

func (s *Service) Assign(ctx context.Context, req domain.AssignRequest) (*domain.AssignmentResponse, error) {
	userID, err := parseID(req.UserID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	tierID, err := parseID(req.TierID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	var user tenantdomain.User
	now := s.clock.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := db.LockForUpdate(tx).Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if user.LicenseActive {
			return domain.ErrAlreadyLicensed
		}

		tier, err := s.tierRepo.FindByID(ctx, tx, tierID.Int64())
		if err != nil {
			return err
		}
		if tier == nil || !tier.Active {
			return domain.ErrNotFound
		}

		if err := s.claimSlot(ctx, tx, user.TenantID, tierID, now); err != nil {
			return err
		}

		user.LicenseTierID = &tierID
		user.CreditsAllocated = tier.DefaultCredits
		user.CreditsUsed = 0
		user.CreditsPerMonth = tier.DefaultCreditsPerMonth
		user.LicenseAssignedAt = &now
		user.LicenseExpiresAt = req.ExpiresAt
		user.LicenseActive = true
		user.UpdatedAt = now
		if actor, err := parseID(req.ActorID); err == nil {
			user.LicenseAssignedBy = &actor
		}
		if err := tx.Save(&user).Error; err != nil {
			return err
		}

		entry := &ledgerdomain.CreditTransaction{
			UserID:        user.ID,
			TenantID:      user.TenantID,
			Type:          ledgerdomain.TransactionAddition,
			CreditsAmount: tier.DefaultCredits,
			CreditsBefore: 0,
			CreditsAfter:  tier.DefaultCredits,
			Metadata: map[string]any{
				"reason":  "license_assigned",
				"tier_id": tierID.String(),
			},
			CreatedAt: now,
		}
		if actor, err := parseID(req.ActorID); err == nil {
			entry.CreatedBy = &actor
		}
		if err := s.ledgerSvc.Record(ctx, tx, entry); err != nil {
			return err
		}

		var pool domain.LicensePool
		return s.loadAndVerifyPool(ctx, tx, user.TenantID, tierID, &pool)
	})
	if err != nil {
		return nil, err
	}

	metrics.PoolAssignments.WithLabelValues("assign").Inc()
	s.resolverCache.InvalidateUser(userID.String())

	resp := toAssignmentResponse(&user)
	return &resp, nil
}

func (s *Service) Unassign(ctx context.Context, req domain.UnassignRequest) (*domain.AssignmentResponse, error) {
	userID, err := parseID(req.UserID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	var user tenantdomain.User
	now := s.clock.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := db.LockForUpdate(tx).Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if !user.LicenseActive || user.LicenseTierID == nil {
			return domain.ErrNotLicensed
		}
		tierID := *user.LicenseTierID

		if err := s.releaseSlot(ctx, tx, user.TenantID, tierID, now); err != nil {
			return err
		}

		user.LicenseTierID = nil
		user.CreditsAllocated = 0
		user.CreditsUsed = 0
		user.CreditsPerMonth = nil
		user.LicenseAssignedAt = nil
		user.LicenseAssignedBy = nil
		user.LicenseExpiresAt = nil
		user.LicenseActive = false
		user.UpdatedAt = now
		if err := tx.Save(&user).Error; err != nil {
			return err
		}

		var pool domain.LicensePool
		return s.loadAndVerifyPool(ctx, tx, user.TenantID, tierID, &pool)
	})
	if err != nil {
		return nil, err
	}

	metrics.PoolAssignments.WithLabelValues("unassign").Inc()
	s.resolverCache.InvalidateUser(userID.String())

	resp := toAssignmentResponse(&user)
	return &resp, nil
}

// Upgrade moves a user to a new tier in one transaction: a slot is claimed
// from the new pool and released to the old one, so neither pool can leak
// a slot if any step fails.
func (s *Service) Upgrade(ctx context.Context, req domain.UpgradeRequest) (*domain.AssignmentResponse, error) {
	userID, err := parseID(req.UserID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	newTierID, err := parseID(req.NewTierID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}

	var user tenantdomain.User
	now := s.clock.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := db.LockForUpdate(tx).Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if !user.LicenseActive || user.LicenseTierID == nil {
			return domain.ErrNotLicensed
		}
		oldTierID := *user.LicenseTierID
		if oldTierID == newTierID {
			return domain.ErrInvalidOperation
		}

		newTier, err := s.tierRepo.FindByID(ctx, tx, newTierID.Int64())
		if err != nil {
			return err
		}
		if newTier == nil || !newTier.Active {
			return domain.ErrNotFound
		}

		if err := s.claimSlot(ctx, tx, user.TenantID, newTierID, now); err != nil {
			return err
		}
		if err := s.releaseSlot(ctx, tx, user.TenantID, oldTierID, now); err != nil {
			return err
		}

		remaining := user.CreditsRemaining()
		if remaining < 0 {
			remaining = 0
		}
		newAllocated := newTier.DefaultCredits
		if req.PreserveCredits {
			newAllocated += remaining
		}

		user.LicenseTierID = &newTierID
		user.CreditsAllocated = newAllocated
		user.CreditsUsed = 0
		user.CreditsPerMonth = newTier.DefaultCreditsPerMonth
		user.LicenseAssignedAt = &now
		user.UpdatedAt = now
		if actor, err := parseID(req.ActorID); err == nil {
			user.LicenseAssignedBy = &actor
		}
		if err := tx.Save(&user).Error; err != nil {
			return err
		}

		entry := &ledgerdomain.CreditTransaction{
			UserID:        user.ID,
			TenantID:      user.TenantID,
			Type:          ledgerdomain.TransactionUpgrade,
			CreditsAmount: newTier.DefaultCredits,
			CreditsBefore: remaining,
			CreditsAfter:  newAllocated,
			Metadata: map[string]any{
				"old_tier_id":      oldTierID.String(),
				"new_tier_id":      newTierID.String(),
				"preserve_credits": req.PreserveCredits,
			},
			CreatedAt: now,
		}
		if actor, err := parseID(req.ActorID); err == nil {
			entry.CreatedBy = &actor
		}
		if err := s.ledgerSvc.Record(ctx, tx, entry); err != nil {
			return err
		}

		// Distinct structs: reusing one would carry the first pool's
		// primary key into the second First() query.
		var newPool, oldPool domain.LicensePool
		if err := s.loadAndVerifyPool(ctx, tx, user.TenantID, newTierID, &newPool); err != nil {
			return err
		}
		return s.loadAndVerifyPool(ctx, tx, user.TenantID, oldTierID, &oldPool)
	})
	if err != nil {
		return nil, err
	}

	metrics.PoolAssignments.WithLabelValues("upgrade").Inc()
	s.resolverCache.InvalidateUser(userID.String())

	resp := toAssignmentResponse(&user)
	return &resp, nil
}

func (s *Service) AddCredits(ctx context.Context, req domain.AddCreditsRequest) (*domain.CreditsResponse, error) {
	userID, err := parseID(req.UserID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	var resp domain.CreditsResponse

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user tenantdomain.User
		if err := db.LockForUpdate(tx).Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if !user.LicenseActive {
			return domain.ErrNotLicensed
		}

		before := user.CreditsRemaining()
		res := tx.Exec(
			`UPDATE users SET credits_allocated = credits_allocated + ?, updated_at = ? WHERE id = ?`,
			req.Amount, now, userID,
		)
		if res.Error != nil {
			return res.Error
		}

		txType := ledgerdomain.TransactionAddition
		if req.Purchase {
			txType = ledgerdomain.TransactionPurchase
		}
		metadata := map[string]any{}
		for k, v := range req.Metadata {
			metadata[k] = v
		}
		entry := &ledgerdomain.CreditTransaction{
			UserID:        user.ID,
			TenantID:      user.TenantID,
			Type:          txType,
			CreditsAmount: req.Amount,
			CreditsBefore: before,
			CreditsAfter:  before + req.Amount,
			Metadata:      metadata,
			CreatedAt:     now,
		}
		if actor, err := parseID(req.ActorID); err == nil {
			entry.CreatedBy = &actor
		}
		if err := s.ledgerSvc.Record(ctx, tx, entry); err != nil {
			return err
		}

		resp = domain.CreditsResponse{
			UserID:        user.ID.String(),
			CreditsBefore: before,
			CreditsAfter:  before + req.Amount,
			Amount:        req.Amount,
			Applied:       true,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeductCredits commits a usage deduction. Re-submitting the same trace is
// a no-op: the existing ledger row is returned instead of charging twice.
func (s *Service) DeductCredits(ctx context.Context, req domain.DeductCreditsRequest) (*domain.CreditsResponse, error) {
	userID, err := parseID(req.UserID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	if req.Amount < 0 {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	policy := s.policy.Get()
	var resp domain.CreditsResponse

	traceID := strings.TrimSpace(req.TraceID)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user tenantdomain.User
		if err := db.LockForUpdate(tx).Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if !user.LicenseActive {
			return domain.ErrNotLicensed
		}

		// Dedup check runs under the row lock; the unique ledger index on
		// (user, type, trace) backstops interleavings the lock cannot see.
		if traceID != "" {
			var existing ledgerdomain.CreditTransaction
			err := tx.Where(
				"user_id = ? AND transaction_type = ? AND usage_record_id = ?",
				userID, ledgerdomain.TransactionDeduction, traceID,
			).First(&existing).Error
			if err == nil {
				resp = domain.CreditsResponse{
					UserID:        userID.String(),
					CreditsBefore: existing.CreditsBefore,
					CreditsAfter:  existing.CreditsAfter,
					Amount:        existing.CreditsAmount,
					Applied:       false,
				}
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		before := user.CreditsRemaining()

		if policy.OverdraftMode == config.OverdraftBlock {
			res := tx.Exec(
				`UPDATE users
				 SET credits_used = credits_used + ?, updated_at = ?
				 WHERE id = ? AND credits_allocated - credits_used >= ?`,
				req.Amount, now, userID, req.Amount,
			)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				metrics.CreditDeductions.WithLabelValues("insufficient").Inc()
				return domain.ErrInsufficientCredits
			}
		} else {
			res := tx.Exec(
				`UPDATE users SET credits_used = credits_used + ?, updated_at = ? WHERE id = ?`,
				req.Amount, now, userID,
			)
			if res.Error != nil {
				return res.Error
			}
		}

		metadata := map[string]any{"overdraft_policy": policy.OverdraftMode}
		for k, v := range req.Metadata {
			metadata[k] = v
		}
		entry := &ledgerdomain.CreditTransaction{
			UserID:        user.ID,
			TenantID:      user.TenantID,
			Type:          ledgerdomain.TransactionDeduction,
			CreditsAmount: req.Amount,
			CreditsBefore: before,
			CreditsAfter:  before - req.Amount,
			Metadata:      metadata,
			CreatedAt:     now,
		}
		if traceID != "" {
			entry.UsageRecordID = &traceID
		}
		if err := s.ledgerSvc.Record(ctx, tx, entry); err != nil {
			return err
		}

		resp = domain.CreditsResponse{
			UserID:        user.ID.String(),
			CreditsBefore: before,
			CreditsAfter:  before - req.Amount,
			Amount:        req.Amount,
			Applied:       true,
		}
		return nil
	})
	if err != nil {
		// A concurrent submission of the same trace won the insert; its
		// ledger row is the committed outcome.
		if traceID != "" && db.IsDuplicateKeyErr(err) {
			return s.existingDeduction(ctx, userID, traceID)
		}
		return nil, err
	}

	if resp.Applied {
		metrics.CreditDeductions.WithLabelValues("applied").Inc()
		metrics.CreditsDeducted.Add(float64(resp.Amount))
	}
	return &resp, nil
}

func (s *Service) existingDeduction(ctx context.Context, userID snowflake.ID, traceID string) (*domain.CreditsResponse, error) {
	var existing ledgerdomain.CreditTransaction
	err := s.db.WithContext(ctx).Where(
		"user_id = ? AND transaction_type = ? AND usage_record_id = ?",
		userID, ledgerdomain.TransactionDeduction, traceID,
	).First(&existing).Error
	if err != nil {
		return nil, err
	}
	return &domain.CreditsResponse{
		UserID:        userID.String(),
		CreditsBefore: existing.CreditsBefore,
		CreditsAfter:  existing.CreditsAfter,
		Amount:        existing.CreditsAmount,
		Applied:       false,
	}, nil
}

// claimSlot takes one available slot. The guard in the WHERE clause makes
// the claim atomic; two concurrent claims of the last slot cannot both
// match available_count > 0.
func (s *Service) claimSlot(ctx context.Context, tx *gorm.DB, tenantID, tierID snowflake.ID, now time.Time) error {
	res := tx.WithContext(ctx).Exec(
		`UPDATE license_pools
		 SET available_count = available_count - 1, assigned_count = assigned_count + 1, updated_at = ?
		 WHERE tenant_id = ? AND tier_id = ? AND available_count > 0`,
		now, tenantID, tierID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var pool domain.LicensePool
		err := tx.Where("tenant_id = ? AND tier_id = ?", tenantID, tierID).First(&pool).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		return &domain.PoolExhaustedError{TierID: tierID.String()}
	}
	return nil
}

func (s *Service) releaseSlot(ctx context.Context, tx *gorm.DB, tenantID, tierID snowflake.ID, now time.Time) error {
	res := tx.WithContext(ctx).Exec(
		`UPDATE license_pools
		 SET available_count = available_count + 1, assigned_count = assigned_count - 1, updated_at = ?
		 WHERE tenant_id = ? AND tier_id = ? AND assigned_count > 0`,
		now, tenantID, tierID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrInvalidOperation
	}
	return nil
}

// loadAndVerifyPool re-reads the pool inside the transaction and fails it
// when the counters no longer add up. A violation always means a bug, so
// rolling back the whole operation is the safe outcome.
func (s *Service) loadAndVerifyPool(ctx context.Context, tx *gorm.DB, tenantID, tierID snowflake.ID, out *domain.LicensePool) error {
	if err := tx.WithContext(ctx).Where("tenant_id = ? AND tier_id = ?", tenantID, tierID).First(out).Error; err != nil {
		return err
	}
	if out.AssignedCount+out.AvailableCount != out.TotalCount || out.AssignedCount < 0 || out.AvailableCount < 0 {
		s.log.Error("license pool conservation violated",
			zap.String("tenant_id", tenantID.String()),
			zap.String("tier_id", tierID.String()),
			zap.Int64("total", out.TotalCount),
			zap.Int64("assigned", out.AssignedCount),
			zap.Int64("available", out.AvailableCount),
		)
		return domain.ErrPoolConservation
	}
	return nil
}

func toPoolResponse(p *domain.LicensePool, tierName string) domain.PoolResponse {
	resp := domain.PoolResponse{
		TierID:         p.TierID.String(),
		TierName:       tierName,
		TotalCount:     p.TotalCount,
		AssignedCount:  p.AssignedCount,
		AvailableCount: p.AvailableCount,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if p.CreatedBy != nil {
		creator := p.CreatedBy.String()
		resp.CreatedBy = &creator
	}
	return resp
}

func toAssignmentResponse(u *tenantdomain.User) domain.AssignmentResponse {
	resp := domain.AssignmentResponse{
		UserID:           u.ID.String(),
		TenantID:         u.TenantID.String(),
		CreditsAllocated: u.CreditsAllocated,
		CreditsUsed:      u.CreditsUsed,
		CreditsRemaining: u.CreditsRemaining(),
		LicenseActive:    u.LicenseActive,
	}
	if u.LicenseTierID != nil && *u.LicenseTierID != 0 {
		tierID := u.LicenseTierID.String()
		resp.TierID = &tierID
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
