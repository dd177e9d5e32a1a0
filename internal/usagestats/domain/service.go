package domain

import (
	"context"
	"time"
)

type SyncRequest struct {
	// TenantID narrows the run to a single tenant when set.
	TenantID    string    `json:"tenant_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// SyncResult summarizes one aggregation run. Per-tenant failures are
// counted here instead of failing the whole run.
type SyncResult struct {
	RunID          string    `json:"run_id"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	TenantsUpdated int       `json:"tenants_updated"`
	TenantsFailed  int       `json:"tenants_failed"`
	TracesSkipped  int       `json:"traces_skipped"`
}

type TenantDashboard struct {
	TenantID string             `json:"tenant_id"`
	Buckets  []TenantUsageStats `json:"buckets"`
}

type UserDashboard struct {
	UserID  string           `json:"user_id"`
	Buckets []UserUsageStats `json:"buckets"`
}

type Service interface {
	SyncPeriod(ctx context.Context, req SyncRequest) (*SyncResult, error)
	GetTenantDashboard(ctx context.Context, tenantID string, limit int) (*TenantDashboard, error)
	GetUserDashboard(ctx context.Context, userID string, limit int) (*UserDashboard, error)
}
