package domain

import (
	tierdomain "github.com/kluisz-ai/kanvas/internal/tier/domain"
	"github.com/kluisz-ai/kanvas/internal/langfuse"
)

type TokenUsage struct {
	Input  int64 `json:"input_tokens"`
	Output int64 `json:"output_tokens"`
	Total  int64 `json:"total_tokens"`
}

// TraceCharge is the priced outcome of one trace.
type TraceCharge struct {
	TraceID         string     `json:"trace_id"`
	RawCostUSD      float64    `json:"raw_cost_usd"`
	AdjustedCostUSD float64    `json:"adjusted_cost_usd"`
	Credits         int64      `json:"credits"`
	Tokens          TokenUsage `json:"tokens"`
	Clamped         bool       `json:"clamped,omitempty"`
}

// Service turns trace costs into credit charges. It never writes; callers
// commit the resulting charge through the licensing service.
type Service interface {
	ExtractCost(trace langfuse.Trace) float64
	ExtractTokens(trace langfuse.Trace) TokenUsage
	ProcessTrace(trace langfuse.Trace, tier *tierdomain.LicenseTier) TraceCharge
}
