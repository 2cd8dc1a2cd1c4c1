package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/pkg/distlock"
)

// fakeQueue hands out a fixed set of items once and records finalizations.
type fakeQueue struct {
	mu      sync.Mutex
	items   []domain.QueueItem
	sent    []domain.QueueItem
	failed  []domain.QueueItem
	failErr []error
}

func (f *fakeQueue) Claim(_ context.Context, workerID string, limit int) ([]domain.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return nil, nil
	}
	if limit > len(f.items) {
		limit = len(f.items)
	}
	batch := make([]domain.QueueItem, limit)
	copy(batch, f.items[:limit])
	f.items = f.items[limit:]
	for i := range batch {
		batch[i].Status = domain.StatusProcessing
		batch[i].Attempts++
		batch[i].WorkerID = workerID
	}
	return batch, nil
}

func (f *fakeQueue) MarkSent(_ context.Context, item *domain.QueueItem, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, *item)
	return nil
}

func (f *fakeQueue) MarkFailed(_ context.Context, item *domain.QueueItem, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, *item)
	f.failErr = append(f.failErr, err)
	return nil
}

func (f *fakeQueue) counts() (sent, failed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent), len(f.failed)
}

// flakyTransport fails addresses listed in reject, succeeds otherwise.
type flakyTransport struct {
	reject map[string]error
	sends  int64
}

func (t *flakyTransport) Name() string { return "test" }

func (t *flakyTransport) Send(_ context.Context, item *domain.QueueItem) (*SendResult, error) {
	atomic.AddInt64(&t.sends, 1)
	if err, ok := t.reject[item.Payload.Recipient.Email]; ok {
		return nil, err
	}
	return &SendResult{MessageID: "msg-" + item.ID.String()[:8], Response: "250 OK"}, nil
}

func queueItems(emails ...string) []domain.QueueItem {
	items := make([]domain.QueueItem, 0, len(emails))
	for _, email := range emails {
		item := domain.NewQueueItem(domain.MessagePayload{
			Recipient: domain.Address{Email: email},
			From:      domain.Address{Email: "from@example.com"},
			Subject:   "Hi",
			TextBody:  "body",
		})
		items = append(items, *item)
	}
	return items
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSendWorkerPoolDelivers(t *testing.T) {
	queue := &fakeQueue{items: queueItems("a@example.com", "b@example.com", "c@example.com")}
	transport := &flakyTransport{}
	pool := NewSendWorkerPool(queue, transport, SendPoolConfig{
		NumWorkers:   2,
		BatchSize:    2,
		PollInterval: 5 * time.Millisecond,
	})

	if err := pool.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer pool.Stop()

	waitFor(t, func() bool { sent, _ := queue.counts(); return sent == 3 })

	if _, failed := queue.counts(); failed != 0 {
		t.Errorf("%d items failed, want 0", failed)
	}
	if got := pool.Stats()["total_sent"]; got != 3 {
		t.Errorf("total_sent = %d, want 3", got)
	}
}

func TestSendWorkerPoolFinalizesFailures(t *testing.T) {
	permanent := &domain.PermanentError{Reason: "550 no such user"}
	queue := &fakeQueue{items: queueItems("ok@example.com", "bad@example.com")}
	transport := &flakyTransport{reject: map[string]error{"bad@example.com": permanent}}
	pool := NewSendWorkerPool(queue, transport, SendPoolConfig{
		NumWorkers:   1,
		BatchSize:    10,
		PollInterval: 5 * time.Millisecond,
	})

	if err := pool.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer pool.Stop()

	waitFor(t, func() bool {
		sent, failed := queue.counts()
		return sent == 1 && failed == 1
	})

	queue.mu.Lock()
	defer queue.mu.Unlock()
	if queue.failed[0].Payload.Recipient.Email != "bad@example.com" {
		t.Errorf("wrong item failed: %s", queue.failed[0].Payload.Recipient.Email)
	}
	if !domain.IsPermanent(queue.failErr[0]) {
		t.Error("transport error classification was lost on the way to finalization")
	}
}

func TestSendWorkerPoolDoubleStart(t *testing.T) {
	pool := NewSendWorkerPool(&fakeQueue{}, &flakyTransport{}, DefaultSendPoolConfig())
	if err := pool.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer pool.Stop()
	if err := pool.Start(); err == nil {
		t.Error("second Start() should error")
	}
}

type fakeReclaimer struct {
	mu       sync.Mutex
	calls    int
	requeued int64
	failed   int64
}

func (f *fakeReclaimer) ReclaimStale(context.Context, time.Duration) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.requeued, f.failed, nil
}

func TestQueueRecoverySkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	// Another node already holds the lock.
	holder := distlock.New(rdb, nil, "queue-recovery", time.Minute)
	ok, err := holder.TryAcquire(ctx)
	if err != nil || !ok {
		t.Fatalf("holder TryAcquire() = (%v, %v)", ok, err)
	}

	repo := &fakeReclaimer{requeued: 3}
	w := NewQueueRecoveryWorker(repo, distlock.New(rdb, nil, "queue-recovery", time.Minute), 0, 0)
	w.runOnce(ctx)

	if repo.calls != 0 {
		t.Errorf("reclaim ran %d times while lock was held elsewhere", repo.calls)
	}

	if err := holder.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	w.runOnce(ctx)
	if repo.calls != 1 {
		t.Errorf("reclaim ran %d times after lock freed, want 1", repo.calls)
	}
}

type fakePurger struct {
	queueDeleted  int64
	eventsDeleted int64
	err           error
	queueCutoff   time.Time
	eventCutoff   time.Time
}

func (f *fakePurger) PurgeQueueItems(_ context.Context, cutoff time.Time, _ int) (int64, error) {
	f.queueCutoff = cutoff
	return f.queueDeleted, f.err
}

func (f *fakePurger) PurgeEvents(_ context.Context, cutoff time.Time, _ int) (int64, error) {
	f.eventCutoff = cutoff
	return f.eventsDeleted, f.err
}

func TestDataCleanupRunOnce(t *testing.T) {
	repo := &fakePurger{queueDeleted: 42, eventsDeleted: 7}
	w := NewDataCleanupWorker(repo, nil, RetentionConfig{})

	queueDeleted, eventsDeleted, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if queueDeleted != 42 || eventsDeleted != 7 {
		t.Errorf("RunOnce() = (%d, %d), want (42, 7)", queueDeleted, eventsDeleted)
	}

	// Default bands: 30 days for queue items, 90 for events.
	now := time.Now().UTC()
	if age := now.Sub(repo.queueCutoff); age < 29*24*time.Hour || age > 31*24*time.Hour {
		t.Errorf("queue cutoff age = %v, want ~30 days", age)
	}
	if age := now.Sub(repo.eventCutoff); age < 89*24*time.Hour || age > 91*24*time.Hour {
		t.Errorf("event cutoff age = %v, want ~90 days", age)
	}
}

func TestDataCleanupAbortsOnError(t *testing.T) {
	repo := &fakePurger{queueDeleted: 10, err: errors.New("connection reset")}
	w := NewDataCleanupWorker(repo, nil, RetentionConfig{})

	if _, _, err := w.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce() should surface purge errors")
	}
	if !repo.eventCutoff.IsZero() {
		t.Error("event purge should not run after queue purge failed")
	}
}
