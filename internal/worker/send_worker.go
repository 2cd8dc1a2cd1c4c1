package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/pkg/logger"
)

// QueueService is the queue surface the send pool drives.
type QueueService interface {
	Claim(ctx context.Context, workerID string, limit int) ([]domain.QueueItem, error)
	MarkSent(ctx context.Context, item *domain.QueueItem, provider, providerMessageID, providerResponse string) error
	MarkFailed(ctx context.Context, item *domain.QueueItem, sendErr error) error
}

// Transport delivers one message. Failures that must not be retried are
// returned as (or wrapping) domain.PermanentError; everything else is
// treated as transient and retried with backoff.
type Transport interface {
	Name() string
	Send(ctx context.Context, item *domain.QueueItem) (*SendResult, error)
}

// SendResult is the provider's acknowledgment of an accepted message.
type SendResult struct {
	MessageID string
	Response  string
}

// SendPoolConfig sizes the send worker pool.
type SendPoolConfig struct {
	NumWorkers   int
	BatchSize    int
	PollInterval time.Duration
	SendTimeout  time.Duration
}

// DefaultSendPoolConfig returns pool sizing suitable for a single process.
func DefaultSendPoolConfig() SendPoolConfig {
	return SendPoolConfig{
		NumWorkers:   10,
		BatchSize:    25,
		PollInterval: time.Second,
		SendTimeout:  30 * time.Second,
	}
}

func (c *SendPoolConfig) applyDefaults() {
	def := DefaultSendPoolConfig()
	if c.NumWorkers <= 0 {
		c.NumWorkers = def.NumWorkers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = def.SendTimeout
	}
}

// SendWorkerPool polls the queue and delivers claimed items through the
// transport. Any number of pools may poll the same database; the claim
// protocol keeps their batches disjoint.
type SendWorkerPool struct {
	queue     QueueService
	transport Transport
	config    SendPoolConfig
	workerID  string
	log       *logger.Logger

	totalSent   int64
	totalFailed int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewSendWorkerPool creates a send pool with a process-unique worker ID.
func NewSendWorkerPool(queue QueueService, transport Transport, config SendPoolConfig) *SendWorkerPool {
	config.applyDefaults()
	return &SendWorkerPool{
		queue:     queue,
		transport: transport,
		config:    config,
		workerID:  fmt.Sprintf("sender-%s", uuid.New().String()[:8]),
		log:       logger.With("send-pool"),
	}
}

// Start launches the worker goroutines. Returns an error if already running.
func (p *SendWorkerPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("send pool already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.log.Info("starting send pool", "worker_id", p.workerID,
		"workers", p.config.NumWorkers, "batch_size", p.config.BatchSize)
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return nil
}

// Stop cancels the workers and waits for in-flight attempts to finalize.
func (p *SendWorkerPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("send pool stopped",
		"total_sent", atomic.LoadInt64(&p.totalSent),
		"total_failed", atomic.LoadInt64(&p.totalFailed))
}

// Stats returns running delivery counters.
func (p *SendWorkerPool) Stats() map[string]int64 {
	return map[string]int64{
		"total_sent":   atomic.LoadInt64(&p.totalSent),
		"total_failed": atomic.LoadInt64(&p.totalFailed),
	}
}

func (p *SendWorkerPool) worker(n int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		items, err := p.queue.Claim(p.ctx, p.workerID, p.config.BatchSize)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.log.Error("claim failed", "worker", n, "error", err)
			p.sleep(time.Second)
			continue
		}
		if len(items) == 0 {
			p.sleep(p.config.PollInterval)
			continue
		}

		for i := range items {
			p.deliver(&items[i])
		}
	}
}

// deliver runs one attempt. The claim already incremented the item's attempt
// counter, so the retry disposition sees an up-to-date budget.
func (p *SendWorkerPool) deliver(item *domain.QueueItem) {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.SendTimeout)
	defer cancel()

	result, err := p.transport.Send(ctx, item)
	if err != nil {
		atomic.AddInt64(&p.totalFailed, 1)
		// Finalize even when p.ctx is cancelled, or the item stays stuck
		// in processing until the recovery worker finds it.
		finalizeCtx, finalizeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer finalizeCancel()
		if ferr := p.queue.MarkFailed(finalizeCtx, item, err); ferr != nil {
			p.log.Error("failed to finalize attempt", "queue_id", item.ID, "error", ferr)
		}
		return
	}

	atomic.AddInt64(&p.totalSent, 1)
	finalizeCtx, finalizeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finalizeCancel()
	if err := p.queue.MarkSent(finalizeCtx, item, p.transport.Name(), result.MessageID, result.Response); err != nil {
		p.log.Error("failed to finalize sent item", "queue_id", item.ID, "error", err)
	}
}

func (p *SendWorkerPool) sleep(d time.Duration) {
	select {
	case <-p.ctx.Done():
	case <-time.After(d):
	}
}
