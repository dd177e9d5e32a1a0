package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/kluisz-ai/kanvas/internal/clock"
	"github.com/kluisz-ai/kanvas/internal/config"
	usagedomain "github.com/kluisz-ai/kanvas/internal/usagestats/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Policy   *config.PolicyHolder
	StatsSvc usagedomain.Service
	Config   Config `optional:"true"`
}

// Scheduler drives the usage aggregator on a fixed interval. Each tick
// re-syncs the most recently completed aggregation window, so a run that
// failed or was skipped is retried on the next tick.
type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	policy   *config.PolicyHolder
	statsSvc usagedomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Policy == nil || p.StatsSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler"),
		cfg:      p.Config.withDefaults(),
		clock:    p.Clock,
		policy:   p.Policy,
		statsSvc: p.StatsSvc,
	}, nil
}

// RunOnce aggregates the last fully elapsed window. Windows are aligned to
// the policy's aggregation window size so every tick lands on the same
// bucket boundaries regardless of process start time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	policy := s.policy.Get()
	if !policy.AggregationEnabled {
		return nil
	}

	window := policy.Window()
	end := s.clock.Now().Truncate(window)
	start := end.Add(-window)

	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	result, err := s.statsSvc.SyncPeriod(ctx, usagedomain.SyncRequest{
		PeriodStart: start,
		PeriodEnd:   end,
	})
	if err != nil {
		if errors.Is(err, usagedomain.ErrSyncInProgress) {
			s.log.Debug("aggregation window already being synced",
				zap.Time("period_start", start),
				zap.Time("period_end", end),
			)
			return nil
		}
		return err
	}

	if result.TenantsFailed > 0 {
		s.log.Warn("aggregation run had tenant failures",
			zap.String("run_id", result.RunID),
			zap.Int("tenants_failed", result.TenantsFailed),
		)
	}
	return nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
