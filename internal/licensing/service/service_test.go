package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/kluisz-ai/kanvas/internal/cache"
	"github.com/kluisz-ai/kanvas/internal/clock"
	"github.com/kluisz-ai/kanvas/internal/config"
	ledgerdomain "github.com/kluisz-ai/kanvas/internal/ledger/domain"
	ledgerservice "github.com/kluisz-ai/kanvas/internal/ledger/service"
	"github.com/kluisz-ai/kanvas/internal/licensing/domain"
	tenantdomain "github.com/kluisz-ai/kanvas/internal/tenant/domain"
	tierdomain "github.com/kluisz-ai/kanvas/internal/tier/domain"
	tierrepository "github.com/kluisz-ai/kanvas/internal/tier/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db   *gorm.DB
	node *snowflake.Node
	clk  *clock.FakeClock
	svc  domain.Service
}

func newTestEnv(t *testing.T, policy config.PolicyConfig) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&tierdomain.LicenseTier{},
		&tierdomain.TierFeatureOverride{},
		&tenantdomain.Tenant{},
		&tenantdomain.User{},
		&domain.LicensePool{},
		&ledgerdomain.CreditTransaction{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	svc := New(Params{
		DB:            gdb,
		Log:           log,
		GenID:         node,
		Clock:         clk,
		Policy:        config.NewStaticPolicyHolder(policy),
		LedgerSvc:     ledgerservice.NewService(ledgerservice.Params{DB: gdb, Log: log, GenID: node}),
		TierRepo:      tierrepository.Provide(),
		ResolverCache: cache.NewFeatureResolverCache(),
	})

	return &testEnv{db: gdb, node: node, clk: clk, svc: svc}
}

func (e *testEnv) seedTier(t *testing.T, name string, defaultCredits int64) *tierdomain.LicenseTier {
	t.Helper()
	tier := &tierdomain.LicenseTier{
		ID:                e.node.Generate(),
		Name:              name,
		TokenPricePer1000: 0.06,
		CreditsPerUSD:     200,
		PricingMultiplier: 1,
		DefaultCredits:    defaultCredits,
		Active:            true,
		CreatedAt:         e.clk.Now(),
		UpdatedAt:         e.clk.Now(),
	}
	require.NoError(t, e.db.Create(tier).Error)
	return tier
}

func (e *testEnv) seedTenant(t *testing.T, slug string) *tenantdomain.Tenant {
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

func (e *testEnv) seedUser(t *testing.T, tenantID snowflake.ID, username string) *tenantdomain.User {
	t.Helper()
	user := &tenantdomain.User{
		ID:        e.node.Generate(),
		TenantID:  tenantID,
		Username:  username,
		Active:    true,
		CreatedAt: e.clk.Now(),
		UpdatedAt: e.clk.Now(),
	}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

func (e *testEnv) setPool(t *testing.T, tenantID, tierID snowflake.ID, total int64) {
	t.Helper()
	_, err := e.svc.SetPool(context.Background(), domain.SetPoolRequest{
		TenantID:   tenantID.String(),
		TierID:     tierID.String(),
		TotalCount: total,
	})
	require.NoError(t, err)
}

func (e *testEnv) loadPool(t *testing.T, tenantID, tierID snowflake.ID) domain.LicensePool {
	t.Helper()
	var pool domain.LicensePool
	require.NoError(t, e.db.Where("tenant_id = ? AND tier_id = ?", tenantID, tierID).First(&pool).Error)
	return pool
}

func assertConserved(t *testing.T, pool domain.LicensePool) {
	t.Helper()
	assert.Equal(t, pool.TotalCount, pool.AssignedCount+pool.AvailableCount,
		"assigned + available must equal total")
	assert.GreaterOrEqual(t, pool.AssignedCount, int64(0))
	assert.GreaterOrEqual(t, pool.AvailableCount, int64(0))
}

func TestAssignUnassignKeepsPoolConserved(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()

	tier := env.seedTier(t, "basic", 1000)
	tenant := env.seedTenant(t, "acme")
	alice := env.seedUser(t, tenant.ID, "alice")
	bob := env.seedUser(t, tenant.ID, "bob")

	env.setPool(t, tenant.ID, tier.ID, 5)
	assertConserved(t, env.loadPool(t, tenant.ID, tier.ID))

	resp, err := env.svc.Assign(ctx, domain.AssignRequest{UserID: alice.ID.String(), TierID: tier.ID.String()})
	require.NoError(t, err)
	assert.True(t, resp.LicenseActive)
	assert.Equal(t, int64(1000), resp.CreditsAllocated)
	assert.Equal(t, int64(0), resp.CreditsUsed)

	_, err = env.svc.Assign(ctx, domain.AssignRequest{UserID: bob.ID.String(), TierID: tier.ID.String()})
	require.NoError(t, err)

	pool := env.loadPool(t, tenant.ID, tier.ID)
	assert.Equal(t, int64(2), pool.AssignedCount)
	assert.Equal(t, int64(3), pool.AvailableCount)
	assertConserved(t, pool)

	resp, err = env.svc.Unassign(ctx, domain.UnassignRequest{UserID: alice.ID.String()})
	require.NoError(t, err)
	assert.False(t, resp.LicenseActive)
	assert.Equal(t, int64(0), resp.CreditsAllocated)

	pool = env.loadPool(t, tenant.ID, tier.ID)
	assert.Equal(t, int64(1), pool.AssignedCount)
	assert.Equal(t, int64(4), pool.AvailableCount)
	assertConserved(t, pool)
}

func TestAssignExhaustedPool(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()

	tier := env.seedTier(t, "basic", 1000)
	tenant := env.seedTenant(t, "acme")
	alice := env.seedUser(t, tenant.ID, "alice")
	bob := env.seedUser(t, tenant.ID, "bob")

	env.setPool(t, tenant.ID, tier.ID, 1)

	_, err := env.svc.Assign(ctx, domain.AssignRequest{UserID: alice.ID.String(), TierID: tier.ID.String()})
	require.NoError(t, err)

	_, err = env.svc.Assign(ctx, domain.AssignRequest{UserID: bob.ID.String(), TierID: tier.ID.String()})
	assert.ErrorIs(t, err, domain.ErrPoolExhausted)

	var exhausted *domain.PoolExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, tier.ID.String(), exhausted.TierID)

	pool := env.loadPool(t, tenant.ID, tier.ID)
	assert.Equal(t, int64(1), pool.AssignedCount)
	assert.Equal(t, int64(0), pool.AvailableCount)
	assertConserved(t, pool)
}

func TestAssignTwiceRefused(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()

	tier := env.seedTier(t, "basic", 1000)
	tenant := env.seedTenant(t, "acme")
	alice := env.seedUser(t, tenant.ID, "alice")

	env.setPool(t, tenant.ID, tier.ID, 2)

	_, err := env.svc.Assign(ctx, domain.AssignRequest{UserID: alice.ID.String(), TierID: tier.ID.String()})
	require.NoError(t, err)

	_, err = env.svc.Assign(ctx, domain.AssignRequest{UserID: alice.ID.String(), TierID: tier.ID.String()})
	assert.ErrorIs(t, err, domain.ErrAlreadyLicensed)
}

func TestSetPoolResizeBelowAssignedRefused(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()

	tier := env.seedTier(t, "basic", 1000)
	tenant := env.seedTenant(t, "acme")
	alice := env.seedUser(t, tenant.ID, "alice")
	bob := env.seedUser(t, tenant.ID, "bob")

	env.setPool(t, tenant.ID, tier.ID, 3)
	_, err := env.svc.Assign(ctx, domain.AssignRequest{UserID: alice.ID.String(), TierID: tier.ID.String()})
	require.NoError(t, err)
	_, err = env.svc.Assign(ctx, domain.AssignRequest{UserID: bob.ID.String(), TierID: tier.ID.String()})
	require.NoError(t, err)

	_, err = env.svc.SetPool(ctx, domain.SetPoolRequest{
		TenantID:   tenant.ID.String(),
		TierID:     tier.ID.String(),
		TotalCount: 1,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	// Shrinking down to exactly the assigned count is allowed.
	resp, err := env.svc.SetPool(ctx, domain.SetPoolRequest{
		TenantID:   tenant.ID.String(),
		TierID:     tier.ID.String(),
		TotalCount: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.TotalCount)
	assert.Equal(t, int64(2), resp.AssignedCount)
	assert.Equal(t, int64(0), resp.AvailableCount)
	assertConserved(t, env.loadPool(t, tenant.ID, tier.ID))
}

func TestUpgradePreservesRemainingCredits(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()

	basic := env.seedTier(t, "basic", 1000)
	pro := env.seedTier(t, "pro", 5000)
	tenant := env.seedTenant(t, "acme")
	alice := env.seedUser(t, tenant.ID, "alice")

	env.setPool(t, tenant.ID, basic.ID, 1)
	env.setPool(t, tenant.ID, pro.ID, 1)

	_, err := env.svc.Assign(ctx, domain.AssignRequest{UserID: alice.ID.String(), TierID: basic.ID.String()})
	require.NoError(t, err)

	_, err = env.svc.DeductCredits(ctx, domain.DeductCreditsRequest{UserID: alice.ID.String(), Amount: 700})
	require.NoError(t, err)

	resp, err := env.svc.Upgrade(ctx, domain.UpgradeRequest{
		UserID:          alice.ID.String(),
		NewTierID:       pro.ID.String(),
		PreserveCredits: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5300), resp.CreditsAllocated)
	assert.Equal(t, int64(0), resp.CreditsUsed)
	assert.Equal(t, int64(5300), resp.CreditsRemaining)
	require.NotNil(t, resp.TierID)
	assert.Equal(t, pro.ID.String(), *resp.TierID)

	oldPool := env.loadPool(t, tenant.ID, basic.ID)
	assert.Equal(t, int64(0), oldPool.AssignedCount)
	assertConserved(t, oldPool)

	newPool := env.loadPool(t, tenant.ID, pro.ID)
	assert.Equal(t, int64(1), newPool.AssignedCount)
	assertConserved(t, newPool)
}

func TestUpgradeWithoutPreserveDropsBalance(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()

	basic := env.seedTier(t, "basic", 1000)
	pro := env.seedTier(t, "pro", 5000)
	tenant := env.seedTenant(t, "acme")
	alice := env.seedUser(t, tenant.ID, "alice")

	env.setPool(t, tenant.ID, basic.ID, 1)
	env.setPool(t, tenant.ID, pro.ID, 1)

	_, err := env.svc.Assign(ctx, domain.AssignRequest{UserID: alice.ID.String(), TierID: basic.ID.String()})
	require.NoError(t, err)

	resp, err := env.svc.Upgrade(ctx, domain.UpgradeRequest{
		UserID:    alice.ID.String(),
		NewTierID: pro.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), resp.CreditsAllocated)
	assert.Equal(t, int64(0), resp.CreditsUsed)
}

func TestUpgradeToExhaustedPoolRollsBack(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()

	basic := env.seedTier(t, "basic", 1000)
	pro := env.seedTier(t, "pro", 5000)
	tenant := env.seedTenant(t, "acme")
	alice := env.seedUser(t, tenant.ID, "alice")
	bob := env.seedUser(t, tenant.ID, "bob")

	env.setPool(t, tenant.ID, basic.ID, 2)
	env.setPool(t, tenant.ID, pro.ID, 1)

	_, err := env.svc.Assign(ctx, domain.AssignRequest{UserID: alice.ID.String(), TierID: basic.ID.String()})
	require.NoError(t, err)
	_, err = env.svc.Assign(ctx, domain.AssignRequest{UserID: bob.ID.String(), TierID: pro.ID.String()})
	require.NoError(t, err)

	_, err = env.svc.Upgrade(ctx, domain.UpgradeRequest{
		UserID:    alice.ID.String(),
		NewTierID: pro.ID.String(),
	})
	assert.ErrorIs(t, err, domain.ErrPoolExhausted)

	// Alice keeps her old binding; neither pool moved.
	var user tenantdomain.User
	require.NoError(t, env.db.Where("id = ?", alice.ID).First(&user).Error)
	require.NotNil(t, user.LicenseTierID)
	assert.Equal(t, basic.ID, *user.LicenseTierID)

	assert.Equal(t, int64(1), env.loadPool(t, tenant.ID, basic.ID).AssignedCount)
	assert.Equal(t, int64(1), env.loadPool(t, tenant.ID, pro.ID).AssignedCount)
}

func TestDeductCreditsBlocksOverdraft(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()

	tier := env.seedTier(t, "basic", 100)
	tenant := env.seedTenant(t, "acme")
	alice := env.seedUser(t, tenant.ID, "alice")

	env.setPool(t, tenant.ID, tier.ID, 1)
	_, err := env.svc.Assign(ctx, domain.AssignRequest{UserID: alice.ID.String(), TierID: tier.ID.String()})
	require.NoError(t, err)

	_, err = env.svc.DeductCredits(ctx, domain.DeductCreditsRequest{UserID: alice.ID.String(), Amount: 150})
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)

	var user tenantdomain.User
	require.NoError(t, env.db.Where("id = ?", alice.ID).First(&user).Error)
	assert.Equal(t, int64(0), user.CreditsUsed)

	resp, err := env.svc.DeductCredits(ctx, domain.DeductCreditsRequest{UserID: alice.ID.String(), Amount: 100})
	require.NoError(t, err)
	assert.True(t, resp.Applied)
	assert.Equal(t, int64(0), resp.CreditsAfter)
}

func TestDeductCreditsAllowNegative(t *testing.T) {
	policy := config.DefaultPolicyConfig()
	policy.OverdraftMode = config.OverdraftAllowNegative
	env := newTestEnv(t, policy)
	ctx := context.Background()

	tier := env.seedTier(t, "basic", 100)
	tenant := env.seedTenant(t, "acme")
	alice := env.seedUser(t, tenant.ID, "alice")

	env.setPool(t, tenant.ID, tier.ID, 1)
	_, err := env.svc.Assign(ctx, domain.AssignRequest{UserID: alice.ID.String(), TierID: tier.ID.String()})
	require.NoError(t, err)

	resp, err := env.svc.DeductCredits(ctx, domain.DeductCreditsRequest{UserID: alice.ID.String(), Amount: 150})
	require.NoError(t, err)
	assert.True(t, resp.Applied)
	assert.Equal(t, int64(-50), resp.CreditsAfter)

	var user tenantdomain.User
	require.NoError(t, env.db.Where("id = ?", alice.ID).First(&user).Error)
	assert.Equal(t, int64(-50), user.CreditsRemaining())
}

func TestDeductCreditsTraceIDIdempotent(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()

	tier := env.seedTier(t, "basic", 100)
	tenant := env.seedTenant(t, "acme")
	alice := env.seedUser(t, tenant.ID, "alice")

	env.setPool(t, tenant.ID, tier.ID, 1)
	_, err := env.svc.Assign(ctx, domain.AssignRequest{UserID: alice.ID.String(), TierID: tier.ID.String()})
	require.NoError(t, err)

	first, err := env.svc.DeductCredits(ctx, domain.DeductCreditsRequest{
		UserID:  alice.ID.String(),
		Amount:  30,
		TraceID: "trace-abc",
	})
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, int64(70), first.CreditsAfter)

	second, err := env.svc.DeductCredits(ctx, domain.DeductCreditsRequest{
		UserID:  alice.ID.String(),
		Amount:  30,
		TraceID: "trace-abc",
	})
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, int64(70), second.CreditsAfter)

	var user tenantdomain.User
	require.NoError(t, env.db.Where("id = ?", alice.ID).First(&user).Error)
	assert.Equal(t, int64(30), user.CreditsUsed)

	var count int64
	require.NoError(t, env.db.Model(&ledgerdomain.CreditTransaction{}).
		Where("user_id = ? AND transaction_type = ? AND usage_record_id = ?",
			alice.ID, ledgerdomain.TransactionDeduction, "trace-abc").
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAddCreditsRequiresActiveLicense(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()

	tenant := env.seedTenant(t, "acme")
	alice := env.seedUser(t, tenant.ID, "alice")

	_, err := env.svc.AddCredits(ctx, domain.AddCreditsRequest{UserID: alice.ID.String(), Amount: 50})
	assert.ErrorIs(t, err, domain.ErrNotLicensed)

	_, err = env.svc.AddCredits(ctx, domain.AddCreditsRequest{UserID: alice.ID.String(), Amount: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestAddCreditsRecordsLedgerEntry(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())
	ctx := context.Background()

	tier := env.seedTier(t, "basic", 100)
	tenant := env.seedTenant(t, "acme")
	alice := env.seedUser(t, tenant.ID, "alice")

	env.setPool(t, tenant.ID, tier.ID, 1)
	_, err := env.svc.Assign(ctx, domain.AssignRequest{UserID: alice.ID.String(), TierID: tier.ID.String()})
	require.NoError(t, err)

	resp, err := env.svc.AddCredits(ctx, domain.AddCreditsRequest{
		UserID:   alice.ID.String(),
		Amount:   50,
		Purchase: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), resp.CreditsBefore)
	assert.Equal(t, int64(150), resp.CreditsAfter)

	var entry ledgerdomain.CreditTransaction
	require.NoError(t, env.db.Where("user_id = ? AND transaction_type = ?",
		alice.ID, ledgerdomain.TransactionPurchase).First(&entry).Error)
	assert.Equal(t, int64(50), entry.CreditsAmount)
}

func TestUnassignWithoutLicense(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())

	tenant := env.seedTenant(t, "acme")
	alice := env.seedUser(t, tenant.ID, "alice")

	_, err := env.svc.Unassign(context.Background(), domain.UnassignRequest{UserID: alice.ID.String()})
	assert.ErrorIs(t, err, domain.ErrNotLicensed)
}

func TestAssignLastSlotConcurrently(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicyConfig())

	tier := env.seedTier(t, "basic", 1000)
	tenant := env.seedTenant(t, "acme")
	alice := env.seedUser(t, tenant.ID, "alice")
	bob := env.seedUser(t, tenant.ID, "bob")
	env.setPool(t, tenant.ID, tier.ID, 1)

	// A single connection serializes the statements while both goroutines
	// still race for the last slot through the guarded update.
	sqlDB, err := env.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	errs := make(chan error, 2)
	for _, user := range []*tenantdomain.User{alice, bob} {
		user := user
		go func() {
			_, err := env.svc.Assign(context.Background(), domain.AssignRequest{
				UserID: user.ID.String(),
				TierID: tier.ID.String(),
			})
			errs <- err
		}()
	}

	var succeeded, exhausted int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrPoolExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected assign error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, exhausted)

	pool := env.loadPool(t, tenant.ID, tier.ID)
	assert.Equal(t, int64(1), pool.AssignedCount)
	assert.Equal(t, int64(0), pool.AvailableCount)
	assertConserved(t, pool)
}
