package service

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/kluisz-ai/kanvas/internal/langfuse"
	"github.com/kluisz-ai/kanvas/internal/pricing/domain"
	tierdomain "github.com/kluisz-ai/kanvas/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Cost field lookup order. Usage-level fields win over trace-level ones;
// camelCase wins over snake_case within a level.
var usageCostKeys = []string{"totalCost", "cost", "total_cost"}

type Params struct {
	fx.In

	Log *zap.Logger
}

type Service struct {
	log *zap.Logger
}

func New(p Params) domain.Service {
	return &Service{log: p.Log.Named("pricing.service")}
}

// ExtractCost pulls the USD cost out of a trace. Malformed or missing
// cost data prices the trace at zero; billing must not fail on a bad
// trace payload.
func (s *Service) ExtractCost(trace langfuse.Trace) float64 {
	for _, key := range usageCostKeys {
		if trace.Usage == nil {
			break
		}
		if raw, ok := trace.Usage[key]; ok {
			if cost, ok := toFloat(raw); ok && cost >= 0 {
				return cost
			}
			s.log.Debug("unparseable usage cost field",
				zap.String("trace_id", trace.ID),
				zap.String("field", key),
			)
		}
	}

	for _, raw := range []any{trace.TotalCost, trace.Cost, trace.TotalCostSnake} {
		if raw == nil {
			continue
		}
		if cost, ok := toFloat(raw); ok && cost >= 0 {
			return cost
		}
	}

	return 0
}

func (s *Service) ExtractTokens(trace langfuse.Trace) domain.TokenUsage {
	var usage domain.TokenUsage
	if trace.Usage == nil {
		return usage
	}

	usage.Input = firstInt(trace.Usage, "input", "inputTokens", "input_tokens", "promptTokens", "prompt_tokens")
	usage.Output = firstInt(trace.Usage, "output", "outputTokens", "output_tokens", "completionTokens", "completion_tokens")
	usage.Total = firstInt(trace.Usage, "total", "totalTokens", "total_tokens")
	if usage.Total == 0 {
		usage.Total = usage.Input + usage.Output
	}
	return usage
}

// ProcessTrace applies the tier's pricing multiplier and converts to
// credits. The adjusted cost keeps tenth-of-a-cent precision; only the
// credit amount is rounded, half up, to a whole number.
func (s *Service) ProcessTrace(trace langfuse.Trace, tier *tierdomain.LicenseTier) domain.TraceCharge {
	charge := domain.TraceCharge{
		TraceID: trace.ID,
		Tokens:  s.ExtractTokens(trace),
	}

	charge.RawCostUSD = s.ExtractCost(trace)
	if tier == nil {
		return charge
	}

	multiplier := tier.PricingMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	charge.AdjustedCostUSD = round4(charge.RawCostUSD * multiplier)

	credits := roundHalfUp(charge.AdjustedCostUSD * tier.CreditsPerUSD)
	if credits < 0 {
		credits = 0
	}
	if tier.MinCreditsPerTrace != nil && credits < *tier.MinCreditsPerTrace {
		credits = *tier.MinCreditsPerTrace
		charge.Clamped = true
	}
	if tier.MaxCreditsPerTrace != nil && credits > *tier.MaxCreditsPerTrace {
		credits = *tier.MaxCreditsPerTrace
		charge.Clamped = true
	}
	charge.Credits = credits
	return charge
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}

func firstInt(m map[string]any, keys ...string) int64 {
	for _, key := range keys {
		if raw, ok := m[key]; ok {
			if v, ok := toFloat(raw); ok && v >= 0 {
				return int64(v)
			}
		}
	}
	return 0
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		parsed, err := v.Float64()
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
