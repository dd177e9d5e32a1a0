package service

import (
	"testing"

	"github.com/kluisz-ai/kanvas/internal/langfuse"
	tierdomain "github.com/kluisz-ai/kanvas/internal/tier/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestService() *Service {
	return &Service{log: zap.NewNop()}
}

func proTier() *tierdomain.LicenseTier {
	return &tierdomain.LicenseTier{
		Name:              "pro",
		PricingMultiplier: 0.95,
		CreditsPerUSD:     200,
		Active:            true,
	}
}

func TestProcessTraceDiscountAndCredits(t *testing.T) {
	svc := newTestService()

	charge := svc.ProcessTrace(langfuse.Trace{
		ID:    "trace-1",
		Usage: map[string]any{"totalCost": 0.06},
	}, proTier())

	assert.Equal(t, 0.06, charge.RawCostUSD)
	assert.Equal(t, 0.057, charge.AdjustedCostUSD)
	// 0.057 * 200 = 11.4, rounded half up.
	assert.Equal(t, int64(11), charge.Credits)
	assert.False(t, charge.Clamped)
}

func TestProcessTraceRoundsHalfUp(t *testing.T) {
	svc := newTestService()
	tier := &tierdomain.LicenseTier{PricingMultiplier: 1, CreditsPerUSD: 100}

	charge := svc.ProcessTrace(langfuse.Trace{
		Usage: map[string]any{"totalCost": 0.115},
	}, tier)
	// 11.5 rounds up to 12, not to even.
	assert.Equal(t, int64(12), charge.Credits)

	charge = svc.ProcessTrace(langfuse.Trace{
		Usage: map[string]any{"totalCost": 0.114},
	}, tier)
	assert.Equal(t, int64(11), charge.Credits)
}

func TestProcessTraceNilTier(t *testing.T) {
	svc := newTestService()

	charge := svc.ProcessTrace(langfuse.Trace{
		Usage: map[string]any{"totalCost": 0.5},
	}, nil)

	assert.Equal(t, 0.5, charge.RawCostUSD)
	assert.Equal(t, float64(0), charge.AdjustedCostUSD)
	assert.Equal(t, int64(0), charge.Credits)
}

func TestProcessTraceClamps(t *testing.T) {
	svc := newTestService()
	minCredits := int64(5)
	maxCredits := int64(20)
	tier := &tierdomain.LicenseTier{
		PricingMultiplier:  1,
		CreditsPerUSD:      100,
		MinCreditsPerTrace: &minCredits,
		MaxCreditsPerTrace: &maxCredits,
	}

	charge := svc.ProcessTrace(langfuse.Trace{
		Usage: map[string]any{"totalCost": 0.01},
	}, tier)
	assert.Equal(t, int64(5), charge.Credits)
	assert.True(t, charge.Clamped)

	charge = svc.ProcessTrace(langfuse.Trace{
		Usage: map[string]any{"totalCost": 1.0},
	}, tier)
	assert.Equal(t, int64(20), charge.Credits)
	assert.True(t, charge.Clamped)

	charge = svc.ProcessTrace(langfuse.Trace{
		Usage: map[string]any{"totalCost": 0.1},
	}, tier)
	assert.Equal(t, int64(10), charge.Credits)
	assert.False(t, charge.Clamped)
}

func TestProcessTraceZeroMultiplierFallsBackToOne(t *testing.T) {
	svc := newTestService()
	tier := &tierdomain.LicenseTier{PricingMultiplier: 0, CreditsPerUSD: 100}

	charge := svc.ProcessTrace(langfuse.Trace{
		Usage: map[string]any{"totalCost": 0.1},
	}, tier)
	assert.Equal(t, 0.1, charge.AdjustedCostUSD)
	assert.Equal(t, int64(10), charge.Credits)
}

func TestExtractCostFieldPrecedence(t *testing.T) {
	svc := newTestService()

	// Usage-level camelCase beats everything else.
	cost := svc.ExtractCost(langfuse.Trace{
		Usage:     map[string]any{"totalCost": 0.3, "total_cost": 0.4},
		TotalCost: 0.5,
	})
	assert.Equal(t, 0.3, cost)

	// Usage snake_case still beats trace-level fields.
	cost = svc.ExtractCost(langfuse.Trace{
		Usage:     map[string]any{"total_cost": 0.4},
		TotalCost: 0.5,
	})
	assert.Equal(t, 0.4, cost)

	// Trace-level fields serve as the fallback.
	cost = svc.ExtractCost(langfuse.Trace{TotalCost: 0.5})
	assert.Equal(t, 0.5, cost)
}

func TestExtractCostTolerantParsing(t *testing.T) {
	svc := newTestService()

	assert.Equal(t, 0.25, svc.ExtractCost(langfuse.Trace{
		Usage: map[string]any{"totalCost": "0.25"},
	}))
	assert.Equal(t, 0.25, svc.ExtractCost(langfuse.Trace{
		Usage: map[string]any{"totalCost": " 0.25 "},
	}))

	// Garbage prices at zero rather than failing the trace.
	assert.Equal(t, float64(0), svc.ExtractCost(langfuse.Trace{
		Usage: map[string]any{"totalCost": "banana"},
	}))
	assert.Equal(t, float64(0), svc.ExtractCost(langfuse.Trace{
		Usage: map[string]any{"totalCost": map[string]any{"nested": true}},
	}))
	assert.Equal(t, float64(0), svc.ExtractCost(langfuse.Trace{}))

	// Negative costs are refused; the next candidate wins.
	assert.Equal(t, 0.1, svc.ExtractCost(langfuse.Trace{
		Usage:     map[string]any{"totalCost": -0.5},
		TotalCost: 0.1,
	}))
}

func TestExtractTokens(t *testing.T) {
	svc := newTestService()

	usage := svc.ExtractTokens(langfuse.Trace{
		Usage: map[string]any{"input": float64(120), "output": float64(80), "total": float64(200)},
	})
	assert.Equal(t, int64(120), usage.Input)
	assert.Equal(t, int64(80), usage.Output)
	assert.Equal(t, int64(200), usage.Total)

	// snake_case variants and a derived total.
	usage = svc.ExtractTokens(langfuse.Trace{
		Usage: map[string]any{"prompt_tokens": float64(10), "completion_tokens": float64(5)},
	})
	assert.Equal(t, int64(10), usage.Input)
	assert.Equal(t, int64(5), usage.Output)
	assert.Equal(t, int64(15), usage.Total)

	usage = svc.ExtractTokens(langfuse.Trace{})
	assert.Equal(t, int64(0), usage.Total)
}
