package worker

import (
	"context"
	"time"

	"github.com/ignite/mailqueue/internal/pkg/distlock"
	"github.com/ignite/mailqueue/internal/pkg/logger"
)

// Without periodic cleanup, terminal queue items and old events accumulate
// indefinitely and bloat the hot tables. Deletes run in batches so no single
// transaction holds locks long enough to block production traffic.

const (
	// DefaultCleanupInterval is how often a purge cycle runs.
	DefaultCleanupInterval = time.Hour

	// DefaultQueueRetention keeps terminal queue items for 30 days.
	DefaultQueueRetention = 30 * 24 * time.Hour

	// DefaultEventRetention keeps delivery events for 90 days.
	DefaultEventRetention = 90 * 24 * time.Hour

	// cleanupBatchSize limits each DELETE statement.
	cleanupBatchSize = 10000
)

// Purger deletes aged rows in batches and reports how many went.
type Purger interface {
	PurgeQueueItems(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
	PurgeEvents(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// RetentionConfig sets the age bands the cleanup worker enforces.
type RetentionConfig struct {
	Interval       time.Duration
	QueueRetention time.Duration
	EventRetention time.Duration
}

func (c *RetentionConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultCleanupInterval
	}
	if c.QueueRetention <= 0 {
		c.QueueRetention = DefaultQueueRetention
	}
	if c.EventRetention <= 0 {
		c.EventRetention = DefaultEventRetention
	}
}

// DataCleanupWorker enforces the retention policy. Safe to deploy on every
// node; the distributed lock ensures one purge cycle at a time.
type DataCleanupWorker struct {
	repo   Purger
	lock   distlock.Lock
	config RetentionConfig
	log    *logger.Logger
}

// NewDataCleanupWorker creates a cleanup worker.
func NewDataCleanupWorker(repo Purger, lock distlock.Lock, config RetentionConfig) *DataCleanupWorker {
	config.applyDefaults()
	return &DataCleanupWorker{
		repo:   repo,
		lock:   lock,
		config: config,
		log:    logger.With("data-cleanup"),
	}
}

// Start runs the cleanup loop until ctx is cancelled. The first cycle runs
// immediately.
func (w *DataCleanupWorker) Start(ctx context.Context) {
	w.log.Info("starting", "interval", w.config.Interval.String(),
		"queue_retention", w.config.QueueRetention.String(),
		"event_retention", w.config.EventRetention.String())

	w.runOnce(ctx)

	ticker := time.NewTicker(w.config.Interval)
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

// RunOnce executes a single purge cycle and returns the deleted row counts.
// Exposed for operational use (manual purge via the admin API).
func (w *DataCleanupWorker) RunOnce(ctx context.Context) (queueDeleted, eventsDeleted int64, err error) {
	now := time.Now().UTC()

	queueDeleted, err = w.repo.PurgeQueueItems(ctx, now.Add(-w.config.QueueRetention), cleanupBatchSize)
	if err != nil {
		return queueDeleted, 0, err
	}
	eventsDeleted, err = w.repo.PurgeEvents(ctx, now.Add(-w.config.EventRetention), cleanupBatchSize)
	return queueDeleted, eventsDeleted, err
}

func (w *DataCleanupWorker) runOnce(ctx context.Context) {
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

	start := time.Now()
	queueDeleted, eventsDeleted, err := w.RunOnce(ctx)
	if err != nil {
		w.log.Error("purge cycle aborted", "error", err,
			"queue_deleted", queueDeleted, "events_deleted", eventsDeleted)
		return
	}
	if queueDeleted > 0 || eventsDeleted > 0 {
		w.log.Info("purge cycle completed",
			"queue_deleted", queueDeleted, "events_deleted", eventsDeleted,
			"elapsed", time.Since(start).Round(time.Millisecond).String())
	}
}
