package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TransactionType classifies a credit ledger entry.
type TransactionType string

const (
	TransactionDeduction TransactionType = "deduction"
	TransactionAddition  TransactionType = "addition"
	TransactionRefund    TransactionType = "refund"
	TransactionPurchase  TransactionType = "purchase"
	TransactionUpgrade   TransactionType = "upgrade"
	TransactionDowngrade TransactionType = "downgrade"
)

// CreditTransaction is an append-only ledger row. Rows are never updated
// or deleted; corrections are recorded as new refund entries.
type CreditTransaction struct {
	ID       snowflake.ID `gorm:"primaryKey"`
	UserID   snowflake.ID `gorm:"column:user_id;not null;index;uniqueIndex:ux_credit_tx_trace,priority:1"`
	TenantID snowflake.ID `gorm:"column:tenant_id;not null;index"`

	Type          TransactionType `gorm:"column:transaction_type;type:text;not null;uniqueIndex:ux_credit_tx_trace,priority:2"`
	CreditsAmount int64           `gorm:"not null"`
	CreditsBefore int64           `gorm:"not null"`
	CreditsAfter  int64           `gorm:"not null"`

	// UsageRecordID carries the external trace ID for deduction rows.
	// The composite unique index backstops concurrent submissions of the
	// same trace; NULLs (non-deduction rows) never collide.
	UsageRecordID *string           `gorm:"column:usage_record_id;type:text;uniqueIndex:ux_credit_tx_trace,priority:3"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb"`

	CreatedBy *snowflake.ID `gorm:"column:created_by"`
	CreatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

type ListRequest struct {
	UserID   string
	TenantID string
	Type     *TransactionType
	From     *time.Time
	To       *time.Time
	Limit    int
}

var (
	ErrInvalidUser   = errors.New("invalid_user")
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidAmount = errors.New("invalid_amount")
)
