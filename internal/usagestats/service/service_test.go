package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/kluisz-ai/kanvas/internal/clock"
	"github.com/kluisz-ai/kanvas/internal/config"
	"github.com/kluisz-ai/kanvas/internal/langfuse"
	pricingservice "github.com/kluisz-ai/kanvas/internal/pricing/service"
	tenantdomain "github.com/kluisz-ai/kanvas/internal/tenant/domain"
	tierdomain "github.com/kluisz-ai/kanvas/internal/tier/domain"
	"github.com/kluisz-ai/kanvas/internal/usagestats/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// stubSource serves canned traces keyed by tenant ID and can be told to
// fail for specific tenants.
type stubSource struct {
	mu     sync.Mutex
	calls  int
	traces map[string][]langfuse.Trace
	fail   map[string]bool
}

func newStubSource() *stubSource {
	return &stubSource{
		traces: make(map[string][]langfuse.Trace),
		fail:   make(map[string]bool),
	}
}

func (s *stubSource) ListTraces(ctx context.Context, q langfuse.TraceQuery) ([]langfuse.Trace, error) {
	return s.ListAllTraces(ctx, q, 0)
}

func (s *stubSource) ListAllTraces(ctx context.Context, q langfuse.TraceQuery, maxTraces int) ([]langfuse.Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail[q.MetadataValue] {
		return nil, langfuse.ErrUnavailable
	}
	return s.traces[q.MetadataValue], nil
}

func (s *stubSource) Ready(ctx context.Context) error { return nil }

type statsEnv struct {
	db     *gorm.DB
	node   *snowflake.Node
	clk    *clock.FakeClock
	source *stubSource
	svc    domain.Service
}

func newStatsEnv(t *testing.T) *statsEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&tierdomain.LicenseTier{},
		&tenantdomain.Tenant{},
		&tenantdomain.User{},
		&domain.TenantUsageStats{},
		&domain.UserUsageStats{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	source := newStubSource()
	log := zap.NewNop()

	svc := New(Params{
		DB:      gdb,
		Log:     log,
		GenID:   node,
		Clock:   clk,
		Policy:  config.NewStaticPolicyHolder(config.DefaultPolicyConfig()),
		Source:  source,
		Pricing: pricingservice.New(pricingservice.Params{Log: log}),
	})

	return &statsEnv{db: gdb, node: node, clk: clk, source: source, svc: svc}
}

func (e *statsEnv) seedTenant(t *testing.T, slug string) *tenantdomain.Tenant {
	t.Helper()
	tenant := &tenantdomain.Tenant{
		ID:        e.node.Generate(),
		Name:      slug,
		Slug:      slug,
		Active:    true,
		CreatedAt: e.clk.Now(),
		UpdatedAt: e.clk.Now(),
	}
	require.NoError(t, e.db.Create(tenant).Error)
	return tenant
}

func (e *statsEnv) seedProTier(t *testing.T) *tierdomain.LicenseTier {
	t.Helper()
	tier := &tierdomain.LicenseTier{
		ID:                e.node.Generate(),
		Name:              "pro",
		PricingMultiplier: 0.95,
		CreditsPerUSD:     200,
		DefaultCredits:    5000,
		Active:            true,
		CreatedAt:         e.clk.Now(),
		UpdatedAt:         e.clk.Now(),
	}
	require.NoError(t, e.db.Create(tier).Error)
	return tier
}

func (e *statsEnv) seedUser(t *testing.T, tenantID snowflake.ID, username string, tierID *snowflake.ID) *tenantdomain.User {
	t.Helper()
	user := &tenantdomain.User{
		ID:        e.node.Generate(),
		TenantID:  tenantID,
		Username:  username,
		Active:    true,
		CreatedAt: e.clk.Now(),
		UpdatedAt: e.clk.Now(),
	}
	if tierID != nil {
		user.LicenseTierID = tierID
		user.LicenseActive = true
		user.CreditsAllocated = 5000
	}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

func trace(id, userID string, cost float64, tokens int64) langfuse.Trace {
	return langfuse.Trace{
		ID:     id,
		UserID: userID,
		Usage:  map[string]any{"totalCost": cost, "total": float64(tokens)},
	}
}

func syncWindow(clk *clock.FakeClock) (time.Time, time.Time) {
	end := clk.Now().Truncate(time.Hour)
	return end.Add(-time.Hour), end
}

func TestSyncPeriodAggregates(t *testing.T) {
	env := newStatsEnv(t)
	ctx := context.Background()

	tenant := env.seedTenant(t, "acme")
	tier := env.seedProTier(t)
	alice := env.seedUser(t, tenant.ID, "alice", &tier.ID)
	bob := env.seedUser(t, tenant.ID, "bob", nil)

	env.source.traces[tenant.ID.String()] = []langfuse.Trace{
		trace("t1", alice.ID.String(), 0.06, 100),
		trace("t2", alice.ID.String(), 0.06, 100),
		trace("t3", bob.ID.String(), 0.1, 50),
	}

	start, end := syncWindow(env.clk)
	result, err := env.svc.SyncPeriod(ctx, domain.SyncRequest{PeriodStart: start, PeriodEnd: end})
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 1, result.TenantsUpdated)
	assert.Equal(t, 0, result.TenantsFailed)
	assert.Equal(t, 0, result.TracesSkipped)

	var bucket domain.TenantUsageStats
	require.NoError(t, env.db.Where("tenant_id = ?", tenant.ID).First(&bucket).Error)
	assert.Equal(t, int64(3), bucket.TotalTraces)
	// Alice is priced through her tier (0.06 * 0.95 * 200 = 11 credits per
	// trace), Bob has no license so his trace earns no credits.
	assert.Equal(t, int64(22), bucket.TotalCredits)
	assert.Equal(t, "0.2140", bucket.TotalCostUSD)
	assert.Equal(t, int64(250), bucket.TotalTokens)
	assert.Equal(t, int64(2), bucket.ActiveUsers)
	assert.Equal(t, result.RunID, bucket.LastRunID)

	var aliceBucket domain.UserUsageStats
	require.NoError(t, env.db.Where("user_id = ?", alice.ID).First(&aliceBucket).Error)
	assert.Equal(t, int64(2), aliceBucket.TotalTraces)
	assert.Equal(t, int64(22), aliceBucket.TotalCredits)
	assert.Equal(t, int64(200), aliceBucket.TotalTokens)

	var bobBucket domain.UserUsageStats
	require.NoError(t, env.db.Where("user_id = ?", bob.ID).First(&bobBucket).Error)
	assert.Equal(t, int64(1), bobBucket.TotalTraces)
	assert.Equal(t, int64(0), bobBucket.TotalCredits)
	assert.Equal(t, "0.1000", bobBucket.TotalCostUSD)
}

func TestSyncPeriodIdempotent(t *testing.T) {
	env := newStatsEnv(t)
	ctx := context.Background()

	tenant := env.seedTenant(t, "acme")
	tier := env.seedProTier(t)
	alice := env.seedUser(t, tenant.ID, "alice", &tier.ID)

	env.source.traces[tenant.ID.String()] = []langfuse.Trace{
		trace("t1", alice.ID.String(), 0.06, 100),
	}

	start, end := syncWindow(env.clk)
	req := domain.SyncRequest{PeriodStart: start, PeriodEnd: end}

	first, err := env.svc.SyncPeriod(ctx, req)
	require.NoError(t, err)
	second, err := env.svc.SyncPeriod(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)

	// Re-running the same period overwrites the bucket instead of stacking.
	var count int64
	require.NoError(t, env.db.Model(&domain.TenantUsageStats{}).
		Where("tenant_id = ?", tenant.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var bucket domain.TenantUsageStats
	require.NoError(t, env.db.Where("tenant_id = ?", tenant.ID).First(&bucket).Error)
	assert.Equal(t, int64(1), bucket.TotalTraces)
	assert.Equal(t, int64(11), bucket.TotalCredits)
	assert.Equal(t, second.RunID, bucket.LastRunID)

	require.NoError(t, env.db.Model(&domain.UserUsageStats{}).
		Where("user_id = ?", alice.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSyncPeriodTenantFailureIsolated(t *testing.T) {
	env := newStatsEnv(t)
	ctx := context.Background()

	healthy := env.seedTenant(t, "healthy")
	broken := env.seedTenant(t, "broken")
	alice := env.seedUser(t, healthy.ID, "alice", nil)

	env.source.traces[healthy.ID.String()] = []langfuse.Trace{
		trace("t1", alice.ID.String(), 0.1, 10),
	}
	env.source.fail[broken.ID.String()] = true

	start, end := syncWindow(env.clk)
	result, err := env.svc.SyncPeriod(ctx, domain.SyncRequest{PeriodStart: start, PeriodEnd: end})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TenantsUpdated)
	assert.Equal(t, 1, result.TenantsFailed)

	var count int64
	require.NoError(t, env.db.Model(&domain.TenantUsageStats{}).
		Where("tenant_id = ?", healthy.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	require.NoError(t, env.db.Model(&domain.TenantUsageStats{}).
		Where("tenant_id = ?", broken.ID).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestSyncPeriodSkipsUnattributableTraces(t *testing.T) {
	env := newStatsEnv(t)
	ctx := context.Background()

	tenant := env.seedTenant(t, "acme")
	alice := env.seedUser(t, tenant.ID, "alice", nil)

	env.source.traces[tenant.ID.String()] = []langfuse.Trace{
		trace("t1", alice.ID.String(), 0.1, 10),
		{ID: "t2", Usage: map[string]any{"totalCost": 0.5}},
		{ID: "t3", UserID: "not-a-user", Usage: map[string]any{"totalCost": 0.5}},
		// user_id in metadata is a valid fallback.
		{ID: "t4", Metadata: map[string]any{"user_id": alice.ID.String()}, Usage: map[string]any{"totalCost": 0.2, "total": float64(5)}},
	}

	start, end := syncWindow(env.clk)
	result, err := env.svc.SyncPeriod(ctx, domain.SyncRequest{PeriodStart: start, PeriodEnd: end})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TracesSkipped)

	var bucket domain.TenantUsageStats
	require.NoError(t, env.db.Where("tenant_id = ?", tenant.ID).First(&bucket).Error)
	assert.Equal(t, int64(2), bucket.TotalTraces)
	assert.Equal(t, int64(1), bucket.ActiveUsers)
}

func TestSyncPeriodScopedToTenant(t *testing.T) {
	env := newStatsEnv(t)
	ctx := context.Background()

	target := env.seedTenant(t, "target")
	other := env.seedTenant(t, "other")
	alice := env.seedUser(t, target.ID, "alice", nil)
	bob := env.seedUser(t, other.ID, "bob", nil)

	env.source.traces[target.ID.String()] = []langfuse.Trace{trace("t1", alice.ID.String(), 0.1, 10)}
	env.source.traces[other.ID.String()] = []langfuse.Trace{trace("t2", bob.ID.String(), 0.1, 10)}

	start, end := syncWindow(env.clk)
	result, err := env.svc.SyncPeriod(ctx, domain.SyncRequest{
		TenantID:    target.ID.String(),
		PeriodStart: start,
		PeriodEnd:   end,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TenantsUpdated)

	var count int64
	require.NoError(t, env.db.Model(&domain.TenantUsageStats{}).
		Where("tenant_id = ?", other.ID).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestSyncPeriodValidation(t *testing.T) {
	env := newStatsEnv(t)
	ctx := context.Background()

	start, end := syncWindow(env.clk)

	_, err := env.svc.SyncPeriod(ctx, domain.SyncRequest{PeriodStart: start})
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)

	_, err = env.svc.SyncPeriod(ctx, domain.SyncRequest{PeriodStart: end, PeriodEnd: start})
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)

	_, err = env.svc.SyncPeriod(ctx, domain.SyncRequest{TenantID: "nope", PeriodStart: start, PeriodEnd: end})
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	_, err = env.svc.SyncPeriod(ctx, domain.SyncRequest{TenantID: "424242", PeriodStart: start, PeriodEnd: end})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDashboards(t *testing.T) {
	env := newStatsEnv(t)
	ctx := context.Background()

	tenant := env.seedTenant(t, "acme")
	alice := env.seedUser(t, tenant.ID, "alice", nil)

	env.source.traces[tenant.ID.String()] = []langfuse.Trace{
		trace("t1", alice.ID.String(), 0.1, 10),
	}

	start, end := syncWindow(env.clk)
	_, err := env.svc.SyncPeriod(ctx, domain.SyncRequest{PeriodStart: start, PeriodEnd: end})
	require.NoError(t, err)

	// A second, later bucket.
	env.clk.Advance(time.Hour)
	start2, end2 := syncWindow(env.clk)
	_, err = env.svc.SyncPeriod(ctx, domain.SyncRequest{PeriodStart: start2, PeriodEnd: end2})
	require.NoError(t, err)

	dash, err := env.svc.GetTenantDashboard(ctx, tenant.ID.String(), 0)
	require.NoError(t, err)
	require.Len(t, dash.Buckets, 2)
	// Newest bucket first.
	assert.True(t, dash.Buckets[0].PeriodStart.After(dash.Buckets[1].PeriodStart))

	limited, err := env.svc.GetTenantDashboard(ctx, tenant.ID.String(), 1)
	require.NoError(t, err)
	assert.Len(t, limited.Buckets, 1)

	userDash, err := env.svc.GetUserDashboard(ctx, alice.ID.String(), 10)
	require.NoError(t, err)
	assert.Len(t, userDash.Buckets, 2)

	_, err = env.svc.GetTenantDashboard(ctx, "nope", 10)
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}
