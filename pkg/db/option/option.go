package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// QueryOption mutates a gorm query before execution.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type queryOptionFunc func(*gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// WithSortBy orders by the given expression. Empty expressions are a no-op.
func WithSortBy(expr string) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if strings.TrimSpace(expr) == "" {
			return db
		}
		return db.Order(expr)
	})
}

// WithLimit caps the result size when limit is positive.
func WithLimit(limit int) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}

// WithQuerySortBy builds a safe ORDER BY expression from user-provided sort
// params. Columns not in the allow-list fall back to created_at.
func WithQuerySortBy(sortBy, orderBy string, allowed map[string]bool) string {
	column := strings.TrimSpace(strings.ToLower(sortBy))
	if column == "" || !allowed[column] {
		column = "created_at"
	}

	direction := strings.TrimSpace(strings.ToUpper(orderBy))
	if direction != "ASC" && direction != "DESC" {
		direction = "DESC"
	}

	return fmt.Sprintf("%s %s", column, direction)
}
