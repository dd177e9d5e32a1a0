package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Domain instruments, exposed on /metrics.
var (
	CreditDeductions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kanvas_credit_deductions_total",
		Help: "Credit deductions committed, by outcome.",
	}, []string{"outcome"})

	CreditsDeducted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kanvas_credits_deducted_total",
		Help: "Total credits deducted across all users.",
	})

	PoolAssignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kanvas_license_pool_assignments_total",
		Help: "License pool slot assignments, by operation.",
	}, []string{"operation"})

	ResolverCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kanvas_feature_resolver_cache_hits_total",
		Help: "Resolver lookups answered from cache.",
	})

	ResolverCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kanvas_feature_resolver_cache_misses_total",
		Help: "Resolver lookups that required a full resolution.",
	})

	AggregatorRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kanvas_usage_aggregator_runs_total",
		Help: "Usage aggregation runs, by outcome.",
	}, []string{"outcome"})

	AggregatorTracesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kanvas_usage_aggregator_traces_skipped_total",
		Help: "Malformed traces skipped during aggregation.",
	})

	TraceSourceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kanvas_trace_source_requests_total",
		Help: "Requests to the trace source API, by outcome.",
	}, []string{"outcome"})
)
