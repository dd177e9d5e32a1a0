package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kluisz-ai/kanvas/internal/clock"
	"github.com/kluisz-ai/kanvas/internal/config"
	"github.com/kluisz-ai/kanvas/internal/langfuse"
	"github.com/kluisz-ai/kanvas/internal/locks"
	"github.com/kluisz-ai/kanvas/internal/metrics"
	pricingdomain "github.com/kluisz-ai/kanvas/internal/pricing/domain"
	tenantdomain "github.com/kluisz-ai/kanvas/internal/tenant/domain"
	tierdomain "github.com/kluisz-ai/kanvas/internal/tier/domain"
	"github.com/kluisz-ai/kanvas/internal/usagestats/domain"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const syncLockTTL = 10 * time.Minute

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Policy  *config.PolicyHolder
	Source  langfuse.Source
	Pricing pricingdomain.Service
	Locker  *locks.Locker `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	policy  *config.PolicyHolder
	source  langfuse.Source
	pricing pricingdomain.Service
	locker  *locks.Locker
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usagestats.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		policy:  p.Policy,
		source:  p.Source,
		pricing: p.Pricing,
		locker:  p.Locker,
	}
}

// tenantTotals accumulates one tenant's bucket while its traces stream in.
type tenantTotals struct {
	traces  int64
	credits int64
	costUSD float64
	tokens  int64
	users   map[snowflake.ID]*userTotals
}

type userTotals struct {
	traces  int64
	credits int64
	costUSD float64
	tokens  int64
}

// SyncPeriod recomputes the usage buckets for one period from the trace
// source and overwrites any existing rows for that bucket, so re-running a
// period is idempotent. Traces are fetched before any row is touched; one
// tenant's fetch failure does not abort the others.
func (s *Service) SyncPeriod(ctx context.Context, req domain.SyncRequest) (*domain.SyncResult, error) {
	if req.PeriodStart.IsZero() || req.PeriodEnd.IsZero() || !req.PeriodStart.Before(req.PeriodEnd) {
		return nil, domain.ErrInvalidPeriod
	}

	lockKey := fmt.Sprintf("kanvas:usagesync:%d:%d", req.PeriodStart.Unix(), req.PeriodEnd.Unix())
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, lockKey, syncLockTTL)
		if err != nil {
			s.log.Warn("sync lock unavailable, proceeding unlocked", zap.Error(err))
		} else if !ok {
			metrics.AggregatorRuns.WithLabelValues("skipped").Inc()
			return nil, domain.ErrSyncInProgress
		} else {
			defer func() {
				if err := s.locker.Release(context.Background(), lockKey, token); err != nil {
					s.log.Warn("sync lock release failed", zap.Error(err))
				}
			}()
		}
	}

	tenants, err := s.targetTenants(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	result := &domain.SyncResult{
		RunID:       ulid.Make().String(),
		PeriodStart: req.PeriodStart.UTC(),
		PeriodEnd:   req.PeriodEnd.UTC(),
	}
	log := s.log.With(zap.String("run_id", result.RunID))

	maxTraces := s.policy.Get().MaxTracesPerSync
	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		traces, err := s.source.ListAllTraces(ctx, langfuse.TraceQuery{
			From:          req.PeriodStart,
			To:            req.PeriodEnd,
			MetadataKey:   "tenant_id",
			MetadataValue: tenant.ID.String(),
		}, maxTraces)
		if err != nil {
			log.Warn("trace fetch failed for tenant",
				zap.String("tenant_id", tenant.ID.String()),
				zap.Error(err),
			)
			result.TenantsFailed++
			continue
		}

		totals, skipped := s.accumulate(ctx, tenant, traces, log)
		result.TracesSkipped += skipped

		if err := s.writeBucket(ctx, tenant.ID, req, totals, result.RunID); err != nil {
			log.Error("bucket upsert failed",
				zap.String("tenant_id", tenant.ID.String()),
				zap.Error(err),
			)
			result.TenantsFailed++
			continue
		}
		result.TenantsUpdated++
	}

	outcome := "success"
	if result.TenantsFailed > 0 {
		outcome = "partial"
	}
	metrics.AggregatorRuns.WithLabelValues(outcome).Inc()

	log.Info("usage sync finished",
		zap.Time("period_start", result.PeriodStart),
		zap.Time("period_end", result.PeriodEnd),
		zap.Int("tenants_updated", result.TenantsUpdated),
		zap.Int("tenants_failed", result.TenantsFailed),
		zap.Int("traces_skipped", result.TracesSkipped),
	)
	return result, nil
}

func (s *Service) targetTenants(ctx context.Context, tenantID string) ([]tenantdomain.Tenant, error) {
	if tenantID != "" {
		id, err := strconv.ParseInt(tenantID, 10, 64)
		if err != nil {
			return nil, domain.ErrInvalidID
		}
		var tenant tenantdomain.Tenant
		if err := s.db.WithContext(ctx).First(&tenant, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, domain.ErrNotFound
			}
			return nil, err
		}
		return []tenantdomain.Tenant{tenant}, nil
	}

	var tenants []tenantdomain.Tenant
	if err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id asc").
		Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

func (s *Service) accumulate(ctx context.Context, tenant tenantdomain.Tenant, traces []langfuse.Trace, log *zap.Logger) (*tenantTotals, int) {
	totals := &tenantTotals{users: make(map[snowflake.ID]*userTotals)}
	skipped := 0

	users, tiers, err := s.loadTenantUsers(ctx, tenant.ID)
	if err != nil {
		log.Warn("user lookup failed, pricing traces without tiers",
			zap.String("tenant_id", tenant.ID.String()),
			zap.Error(err),
		)
	}

	for _, trace := range traces {
		userID := trace.UserID
		if userID == "" {
			userID = trace.MetadataString("user_id")
		}
		raw, err := strconv.ParseInt(userID, 10, 64)
		if err != nil {
			log.Debug("trace without usable user id",
				zap.String("trace_id", trace.ID),
				zap.String("user_id", userID),
			)
			metrics.AggregatorTracesSkipped.Inc()
			skipped++
			continue
		}
		uid := snowflake.ID(raw)

		var tier *tierdomain.LicenseTier
		if user, ok := users[uid]; ok && user.LicenseActive && user.LicenseTierID != nil {
			tier = tiers[*user.LicenseTierID]
		}

		charge := s.pricing.ProcessTrace(trace, tier)
		cost := charge.AdjustedCostUSD
		if tier == nil {
			cost = charge.RawCostUSD
		}

		totals.traces++
		totals.credits += charge.Credits
		totals.costUSD += cost
		totals.tokens += charge.Tokens.Total

		ut := totals.users[uid]
		if ut == nil {
			ut = &userTotals{}
			totals.users[uid] = ut
		}
		ut.traces++
		ut.credits += charge.Credits
		ut.costUSD += cost
		ut.tokens += charge.Tokens.Total
	}

	return totals, skipped
}

func (s *Service) loadTenantUsers(ctx context.Context, tenantID snowflake.ID) (map[snowflake.ID]tenantdomain.User, map[snowflake.ID]*tierdomain.LicenseTier, error) {
	var users []tenantdomain.User
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Find(&users).Error; err != nil {
		return nil, nil, err
	}

	var tiers []tierdomain.LicenseTier
	if err := s.db.WithContext(ctx).Find(&tiers).Error; err != nil {
		return nil, nil, err
	}

	userByID := make(map[snowflake.ID]tenantdomain.User, len(users))
	for _, u := range users {
		userByID[u.ID] = u
	}
	tierByID := make(map[snowflake.ID]*tierdomain.LicenseTier, len(tiers))
	for i := range tiers {
		tierByID[tiers[i].ID] = &tiers[i]
	}
	return userByID, tierByID, nil
}

func (s *Service) writeBucket(ctx context.Context, tenantID snowflake.ID, req domain.SyncRequest, totals *tenantTotals, runID string) error {
	now := s.clock.Now()
	bucketKey := []clause.Column{{Name: "tenant_id"}, {Name: "period_start"}, {Name: "period_end"}}
	userBucketKey := []clause.Column{{Name: "user_id"}, {Name: "period_start"}, {Name: "period_end"}}
	overwrite := []string{"total_traces", "total_credits", "total_cost_usd", "total_tokens", "last_run_id", "updated_at"}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenantRow := domain.TenantUsageStats{
			ID:           s.genID.Generate(),
			TenantID:     tenantID,
			PeriodStart:  req.PeriodStart.UTC(),
			PeriodEnd:    req.PeriodEnd.UTC(),
			TotalTraces:  totals.traces,
			TotalCredits: totals.credits,
			TotalCostUSD: formatCost(totals.costUSD),
			TotalTokens:  totals.tokens,
			ActiveUsers:  int64(len(totals.users)),
			LastRunID:    runID,
			UpdatedAt:    now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   bucketKey,
			DoUpdates: clause.AssignmentColumns(append([]string{"active_users"}, overwrite...)),
		}).Create(&tenantRow).Error; err != nil {
			return err
		}

		for uid, ut := range totals.users {
			userRow := domain.UserUsageStats{
				ID:           s.genID.Generate(),
				UserID:       uid,
				TenantID:     tenantID,
				PeriodStart:  req.PeriodStart.UTC(),
				PeriodEnd:    req.PeriodEnd.UTC(),
				TotalTraces:  ut.traces,
				TotalCredits: ut.credits,
				TotalCostUSD: formatCost(ut.costUSD),
				TotalTokens:  ut.tokens,
				LastRunID:    runID,
				UpdatedAt:    now,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   userBucketKey,
				DoUpdates: clause.AssignmentColumns(overwrite),
			}).Create(&userRow).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) GetTenantDashboard(ctx context.Context, tenantID string, limit int) (*domain.TenantDashboard, error) {
	id, err := strconv.ParseInt(tenantID, 10, 64)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	if limit <= 0 || limit > 100 {
		limit = 30
	}

	var buckets []domain.TenantUsageStats
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", id).
		Order("period_start desc").
		Limit(limit).
		Find(&buckets).Error; err != nil {
		return nil, err
	}
	return &domain.TenantDashboard{TenantID: tenantID, Buckets: buckets}, nil
}

func (s *Service) GetUserDashboard(ctx context.Context, userID string, limit int) (*domain.UserDashboard, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	if limit <= 0 || limit > 100 {
		limit = 30
	}

	var buckets []domain.UserUsageStats
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", id).
		Order("period_start desc").
		Limit(limit).
		Find(&buckets).Error; err != nil {
		return nil, err
	}
	return &domain.UserDashboard{UserID: userID, Buckets: buckets}, nil
}

func formatCost(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
