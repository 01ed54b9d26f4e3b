package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"MarketCache/internal/model"
	"MarketCache/internal/recorder"
)

const (
	promotionTimeout = 30 * time.Second
	enqueueWait      = 50 * time.Millisecond
)

var (
	errQueueFull      = fmt.Errorf("%w: promotion queue full", model.ErrCacheWriteFailed)
	errPromoterClosed = fmt.Errorf("%w: promoter closed", model.ErrCacheWriteFailed)
)

// Promotion copies a series found in a slower tier into the faster ones.
type Promotion struct {
	RunID  string
	Key    model.CacheKey
	Series model.Series
	Source model.Tier

	ctx context.Context
}

// PromotionStats counts promotion outcomes.
type PromotionStats struct {
	Completed uint64
	Failed    uint64
	Dropped   uint64
}

// Promoter runs promotions off the read path. Each job runs on its own
// context, detached from the request that produced it, so a cancelled
// request never leaves a half-written promotion behind. When the queue
// stays full for enqueueWait the job is dropped and reported as a failed
// cache write.
type Promoter struct {
	local  LocalCache
	remote SeriesStore
	rec    recorder.Recorder
	logger *slog.Logger

	// limit, when set, bounds Tier2 writes together with the resolutions
	// sharing it.
	limit       *semaphore.Weighted
	enqueueWait time.Duration

	jobs    chan Promotion
	workers sync.WaitGroup

	// gate guards jobs against close while a send is pending.
	gate   sync.RWMutex
	closed bool

	mu       sync.Mutex
	idle     *sync.Cond
	inflight int

	completed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewPromoter starts workers goroutines reading from a queue of queueSize.
func NewPromoter(local LocalCache, remote SeriesStore, rec recorder.Recorder, logger *slog.Logger, workers, queueSize int) *Promoter {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &Promoter{
		local:       local,
		remote:      remote,
		rec:         rec,
		logger:      logger,
		enqueueWait: enqueueWait,
		jobs:        make(chan Promotion, queueSize),
	}
	p.idle = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.workers.Add(1)
		go func() {
			defer p.workers.Done()
			for job := range p.jobs {
				p.run(job)
			}
		}()
	}
	return p
}

// Enqueue schedules job, waiting at most enqueueWait for queue space. ctx
// only contributes values; its cancellation does not reach the job.
func (p *Promoter) Enqueue(ctx context.Context, job Promotion) {
	job.ctx = context.WithoutCancel(ctx)
	p.mu.Lock()
	p.inflight++
	p.mu.Unlock()

	p.gate.RLock()
	defer p.gate.RUnlock()
	if p.closed {
		p.drop(job, errPromoterClosed)
		return
	}
	select {
	case p.jobs <- job:
		return
	default:
	}

	t := time.NewTimer(p.enqueueWait)
	defer t.Stop()
	select {
	case p.jobs <- job:
	case <-t.C:
		p.drop(job, errQueueFull)
	}
}

func (p *Promoter) drop(job Promotion, err error) {
	defer p.done()
	p.dropped.Add(1)
	target := model.TierLocal
	if job.Source == model.TierOrigin {
		target = model.TierStore
	}
	p.report(job, target, err)
}

// run writes Tier2 first (origin hits only), then Tier1. A failed Tier2
// write does not stop the Tier1 write.
func (p *Promoter) run(job Promotion) {
	defer p.done()

	parent := job.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, promotionTimeout)
	defer cancel()

	ok := true
	if job.Source == model.TierOrigin {
		if err := p.putRemote(ctx, job); err != nil {
			ok = false
			p.fail(job, model.TierStore, err)
		}
	}
	if err := p.local.Put(job.Key, job.Series); err != nil {
		ok = false
		p.fail(job, model.TierLocal, err)
	}
	if ok {
		p.completed.Add(1)
		p.logger.Debug("series promoted", "symbol", job.Key.Symbol, "from", string(job.Source))
	}
}

func (p *Promoter) putRemote(ctx context.Context, job Promotion) error {
	if p.limit != nil {
		if err := p.limit.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("wait for tier2 slot: %w", err)
		}
		defer p.limit.Release(1)
	}
	return p.remote.Put(ctx, job.Key, job.Series)
}

func (p *Promoter) fail(job Promotion, tier model.Tier, err error) {
	p.failed.Add(1)
	p.report(job, tier, err)
}

func (p *Promoter) report(job Promotion, tier model.Tier, err error) {
	p.logger.Warn("promotion write failed", "run_id", job.RunID, "symbol", job.Key.Symbol,
		"tier", string(tier), "err", err)
	if rerr := p.rec.RecordPromotionFailure(&recorder.PromotionFailure{
		RunID:  job.RunID,
		Symbol: job.Key.Symbol,
		Key:    job.Key.String(),
		Tier:   string(tier),
		Error:  err.Error(),
	}); rerr != nil {
		p.logger.Warn("record promotion failure", "err", rerr)
	}
}

func (p *Promoter) done() {
	p.mu.Lock()
	p.inflight--
	if p.inflight == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()
}

// Flush blocks until no promotion is queued or running.
func (p *Promoter) Flush() {
	p.mu.Lock()
	for p.inflight > 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

// Close stops accepting work, drains the queue and waits for the workers.
// Promotions enqueued after Close are dropped.
func (p *Promoter) Close() {
	p.gate.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.gate.Unlock()
	p.workers.Wait()
}

// Stats returns promotion counters.
func (p *Promoter) Stats() PromotionStats {
	return PromotionStats{
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
	}
}
