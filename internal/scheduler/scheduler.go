package scheduler

import (
	"context"
	"time"

	"github.com/strata-ai/model-registry/internal/core/reconciler"
	"go.uber.org/zap"
)

// Scheduler drives periodic catalog reconciliation. Run results carry their
// own success flag, so the scheduler never retries a failed run; it just
// waits for the next tick.
type Scheduler struct {
	reconciler *reconciler.Reconciler
	interval   time.Duration
	logger     *zap.Logger
}

func New(r *reconciler.Reconciler, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		reconciler: r,
		interval:   interval,
		logger:     logger,
	}
}

// Start launches the tick loop. It returns immediately; the loop stops when
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Reconciliation scheduler started", zap.Duration("interval", s.interval))

	// One run at startup so a fresh deployment does not route from an empty
	// registry until the first tick.
	s.reconciler.Run(ctx, reconciler.TriggerSchedule)

	for {
		select {
		case <-ticker.C:
			s.reconciler.Run(ctx, reconciler.TriggerSchedule)
		case <-ctx.Done():
			s.logger.Info("Reconciliation scheduler stopped")
			return
		}
	}
}
