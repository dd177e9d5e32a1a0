package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	ledgerdomain "github.com/kluisz-ai/kanvas/internal/ledger/domain"
	"github.com/kluisz-ai/kanvas/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newLedgerService(t *testing.T) (ledgerdomain.Service, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&ledgerdomain.CreditTransaction{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{DB: gdb, Log: zap.NewNop(), GenID: node}), node
}

func entryFor(userID, tenantID snowflake.ID, txType ledgerdomain.TransactionType, amount int64, at time.Time) *ledgerdomain.CreditTransaction {
	return &ledgerdomain.CreditTransaction{
		UserID:        userID,
		TenantID:      tenantID,
		Type:          txType,
		CreditsAmount: amount,
		CreatedAt:     at,
	}
}

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	svc, node := newLedgerService(t)
	ctx := context.Background()

	entry := &ledgerdomain.CreditTransaction{
		UserID:        node.Generate(),
		TenantID:      node.Generate(),
		Type:          ledgerdomain.TransactionAddition,
		CreditsAmount: 100,
	}
	require.NoError(t, svc.Record(ctx, nil, entry))
	assert.NotZero(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestRecordValidation(t *testing.T) {
	svc, node := newLedgerService(t)
	ctx := context.Background()

	err := svc.Record(ctx, nil, nil)
	assert.Error(t, err)

	err = svc.Record(ctx, nil, &ledgerdomain.CreditTransaction{
		TenantID: node.Generate(), Type: ledgerdomain.TransactionAddition, CreditsAmount: 1,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidUser)

	err = svc.Record(ctx, nil, &ledgerdomain.CreditTransaction{
		UserID: node.Generate(), Type: ledgerdomain.TransactionAddition, CreditsAmount: 1,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidTenant)

	err = svc.Record(ctx, nil, &ledgerdomain.CreditTransaction{
		UserID: node.Generate(), TenantID: node.Generate(),
		Type: ledgerdomain.TransactionAddition, CreditsAmount: -5,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)
}

func TestListFilters(t *testing.T) {
	svc, node := newLedgerService(t)
	ctx := context.Background()

	tenantID := node.Generate()
	alice := node.Generate()
	bob := node.Generate()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, svc.Record(ctx, nil, entryFor(alice, tenantID, ledgerdomain.TransactionAddition, 100, base)))
	require.NoError(t, svc.Record(ctx, nil, entryFor(alice, tenantID, ledgerdomain.TransactionDeduction, 30, base.Add(time.Hour))))
	require.NoError(t, svc.Record(ctx, nil, entryFor(bob, tenantID, ledgerdomain.TransactionDeduction, 10, base.Add(2*time.Hour))))

	entries, err := svc.List(ctx, ledgerdomain.ListRequest{UserID: alice.String()})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, ledgerdomain.TransactionDeduction, entries[0].Type)

	deduction := ledgerdomain.TransactionDeduction
	entries, err = svc.List(ctx, ledgerdomain.ListRequest{TenantID: tenantID.String(), Type: &deduction})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	from := base.Add(30 * time.Minute)
	to := base.Add(90 * time.Minute)
	entries, err = svc.List(ctx, ledgerdomain.ListRequest{TenantID: tenantID.String(), From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(30), entries[0].CreditsAmount)

	entries, err = svc.List(ctx, ledgerdomain.ListRequest{TenantID: tenantID.String(), Limit: 2})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSumForUser(t *testing.T) {
	svc, node := newLedgerService(t)
	ctx := context.Background()

	tenantID := node.Generate()
	alice := node.Generate()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, svc.Record(ctx, nil, entryFor(alice, tenantID, ledgerdomain.TransactionDeduction, 30, base)))
	require.NoError(t, svc.Record(ctx, nil, entryFor(alice, tenantID, ledgerdomain.TransactionDeduction, 20, base)))
	require.NoError(t, svc.Record(ctx, nil, entryFor(alice, tenantID, ledgerdomain.TransactionAddition, 100, base)))

	total, err := svc.SumForUser(ctx, int64(alice), ledgerdomain.TransactionDeduction)
	require.NoError(t, err)
	assert.Equal(t, int64(50), total)

	total, err = svc.SumForUser(ctx, int64(node.Generate()), ledgerdomain.TransactionDeduction)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestRecordDuplicateTraceRefused(t *testing.T) {
	svc, node := newLedgerService(t)
	ctx := context.Background()

	userID := node.Generate()
	tenantID := node.Generate()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	trace := "trace-dup"

	first := entryFor(userID, tenantID, ledgerdomain.TransactionDeduction, 10, at)
	first.UsageRecordID = &trace
	require.NoError(t, svc.Record(ctx, nil, first))

	second := entryFor(userID, tenantID, ledgerdomain.TransactionDeduction, 10, at)
	second.UsageRecordID = &trace
	err := svc.Record(ctx, nil, second)
	require.Error(t, err)
	assert.True(t, db.IsDuplicateKeyErr(err))

	// The same trace on a different user is a distinct charge.
	other := entryFor(node.Generate(), tenantID, ledgerdomain.TransactionDeduction, 10, at)
	other.UsageRecordID = &trace
	require.NoError(t, svc.Record(ctx, nil, other))

	// Rows without a trace ID never collide with each other.
	require.NoError(t, svc.Record(ctx, nil, entryFor(userID, tenantID, ledgerdomain.TransactionAddition, 5, at)))
	require.NoError(t, svc.Record(ctx, nil, entryFor(userID, tenantID, ledgerdomain.TransactionAddition, 5, at)))
}
