package domain

import (
	"context"

	"gorm.io/gorm"
)

type Service interface {
	// Record appends one ledger row using the caller's transaction so the
	// entry commits atomically with the balance change it describes.
	Record(ctx context.Context, tx *gorm.DB, entry *CreditTransaction) error

	List(ctx context.Context, req ListRequest) ([]CreditTransaction, error)
	SumForUser(ctx context.Context, userID int64, txType TransactionType) (int64, error)
}
