// Package income runs the periodic income distribution: every interval,
// every account on every server is credited a fixed amount.
package income

import (
	"context"
	"log/slog"
	"time"

	"github.com/wagerhall/betledger/internal/engine"
	"github.com/wagerhall/betledger/internal/metrics"
	"github.com/wagerhall/betledger/internal/model"
)

// Scheduler drives the income ticker. OnDistributed, when set, receives the
// resulting balance updates so callers can broadcast or publish them.
type Scheduler struct {
	Engine        *engine.Engine
	Amount        int64
	Interval      time.Duration
	OnDistributed func(updates []model.AccountUpdate)
}

// Run distributes income every Interval until ctx is cancelled. The first
// distribution happens one full interval after start, not immediately, so a
// restart does not double-pay.
func (s *Scheduler) Run(ctx context.Context) {
	if s.Amount <= 0 || s.Interval <= 0 {
		slog.Info("income distribution disabled")
		return
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.distribute(ctx)
		}
	}
}

func (s *Scheduler) distribute(ctx context.Context) {
	updates, err := s.Engine.Income(ctx, s.Amount)
	if err != nil {
		slog.Error("income distribution failed", "err", err)
		return
	}
	metrics.IncomeRuns.Inc()
	if s.OnDistributed != nil {
		s.OnDistributed(updates)
	}
}
