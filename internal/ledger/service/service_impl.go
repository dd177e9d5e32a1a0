package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/kluisz-ai/kanvas/internal/ledger/domain"
	"github.com/kluisz-ai/kanvas/pkg/db/option"
	"github.com/kluisz-ai/kanvas/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	store repository.Repository[ledgerdomain.CreditTransaction]
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		store: repository.ProvideStore[ledgerdomain.CreditTransaction](p.DB),
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.CreditTransaction) error {
	if entry == nil {
		return gorm.ErrInvalidData
	}
	if entry.UserID == 0 {
		return ledgerdomain.ErrInvalidUser
	}
	if entry.TenantID == 0 {
		return ledgerdomain.ErrInvalidTenant
	}
	if entry.CreditsAmount < 0 {
		return ledgerdomain.ErrInvalidAmount
	}

	if entry.ID == 0 {
		entry.ID = s.genID.Generate()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if tx == nil {
		tx = s.db
	}
	return s.store.WithTrx(tx).Create(ctx, entry)
}

func (s *Service) List(ctx context.Context, req ledgerdomain.ListRequest) ([]ledgerdomain.CreditTransaction, error) {
	stmt := s.db.WithContext(ctx).Model(&ledgerdomain.CreditTransaction{})

	if userID, err := parseID(req.UserID); err == nil {
		stmt = stmt.Where("user_id = ?", userID)
	}
	if tenantID, err := parseID(req.TenantID); err == nil {
		stmt = stmt.Where("tenant_id = ?", tenantID)
	}
	if req.Type != nil {
		stmt = stmt.Where("transaction_type = ?", *req.Type)
	}
	if req.From != nil {
		stmt = stmt.Where("created_at >= ?", *req.From)
	}
	if req.To != nil {
		stmt = stmt.Where("created_at < ?", *req.To)
	}

	stmt = option.WithSortBy("created_at DESC").Apply(stmt)
	stmt = option.WithLimit(req.Limit).Apply(stmt)

	var entries []ledgerdomain.CreditTransaction
	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) SumForUser(ctx context.Context, userID int64, txType ledgerdomain.TransactionType) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&ledgerdomain.CreditTransaction{}).
		Where("user_id = ? AND transaction_type = ?", userID, txType).
		Select("COALESCE(SUM(credits_amount), 0)").
		Scan(&total).Error
	return total, err
}

func parseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(value))
}
