package reconcile

import (
	"context"
	"log"
	"time"
)

// Scheduler runs a Reconciler on a fixed interval until its context is
// cancelled, using a plain ticker loop since reconciliation has no
// per-event claim state to manage.
type Scheduler struct {
	reconciler  *Reconciler
	interval    time.Duration
	actorUserID string
	runOnStart  bool
}

func NewScheduler(reconciler *Reconciler, interval time.Duration, actorUserID string, runOnStart bool) *Scheduler {
	return &Scheduler{reconciler: reconciler, interval: interval, actorUserID: actorUserID, runOnStart: runOnStart}
}

// Run blocks until ctx is cancelled, invoking the reconciler once per
// interval tick (and once immediately if runOnStart is set).
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("[reconcile.scheduler] starting (interval=%s)", s.interval)
	defer log.Printf("[reconcile.scheduler] stopped")

	if s.runOnStart {
		s.runOnce(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	run, err := s.reconciler.Run(ctx, s.actorUserID)
	if err != nil {
		log.Printf("[reconcile.scheduler] run failed: %v", err)
		return
	}
	log.Printf("[reconcile.scheduler] run %s completed", run.ID)
}
