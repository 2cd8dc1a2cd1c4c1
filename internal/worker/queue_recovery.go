package worker

import (
	"context"
	"time"

	"github.com/ignite/mailqueue/internal/pkg/distlock"
	"github.com/ignite/mailqueue/internal/pkg/logger"
)

const (
	// DefaultRecoveryInterval is how often the stale scan runs.
	DefaultRecoveryInterval = 2 * time.Minute

	// DefaultStaleAge is how long an item may sit in processing before its
	// worker is presumed dead.
	DefaultStaleAge = 5 * time.Minute
)

// Reclaimer recovers items orphaned in processing.
type Reclaimer interface {
	ReclaimStale(ctx context.Context, staleAge time.Duration) (requeued, failed int64, err error)
}

// QueueRecoveryWorker periodically reclaims items stuck in processing after
// a worker crash. One instance runs at a time across the fleet, guarded by
// a distributed lock.
type QueueRecoveryWorker struct {
	repo     Reclaimer
	lock     distlock.Lock
	interval time.Duration
	staleAge time.Duration
	log      *logger.Logger
}

// NewQueueRecoveryWorker creates a recovery worker. Zero durations fall back
// to the defaults.
func NewQueueRecoveryWorker(repo Reclaimer, lock distlock.Lock, interval, staleAge time.Duration) *QueueRecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &QueueRecoveryWorker{
		repo:     repo,
		lock:     lock,
		interval: interval,
		staleAge: staleAge,
		log:      logger.With("queue-recovery"),
	}
}

// Start runs the recovery loop until ctx is cancelled.
func (w *QueueRecoveryWorker) Start(ctx context.Context) {
	w.log.Info("starting", "interval", w.interval.String(), "stale_age", w.staleAge.String())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("stopping")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *QueueRecoveryWorker) runOnce(ctx context.Context) {
	if w.lock != nil {
		ok, err := w.lock.TryAcquire(ctx)
		if err != nil {
			w.log.Error("lock acquire failed", "error", err)
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := w.lock.Release(ctx); err != nil {
				w.log.Warn("lock release failed", "error", err)
			}
		}()
	}

	scanCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	requeued, failed, err := w.repo.ReclaimStale(scanCtx, w.staleAge)
	if err != nil {
		w.log.Error("stale reclaim failed", "error", err)
		return
	}
	if requeued > 0 || failed > 0 {
		w.log.Info("reclaimed stale items", "requeued", requeued, "failed", failed)
	}
}
