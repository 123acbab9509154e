package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/logger"
)

// Job is one unit of fire-and-forget work (archive a frame, publish an
// envelope). Process must respect ctx cancellation.
type Job interface {
	Process(ctx context.Context) error
	GetID() string
}

var ErrPoolClosed = errors.New("worker: pool closed")

// Pool runs jobs on a fixed set of goroutines behind a bounded queue so the
// capture path never blocks on downstream I/O.
type Pool struct {
	jobs    chan Job
	workers int
	ctx     context.Context
	cancel  context.CancelFunc

	// mu orders Submit sends against Close: a send never races the
	// channel close, late submitters are refused instead of panicking.
	mu     sync.RWMutex
	closed bool

	processing     int32
	totalProcessed int64
	totalErrors    int64
}

func NewPool(ctx context.Context, workers, queueSize int) *Pool {
	ctx, cancel := context.WithCancel(ctx)

	p := &Pool{
		jobs:    make(chan Job, queueSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		go p.worker()
	}

	logger.Log.Infow("worker pool started",
		"workers", workers,
		"queue_size", queueSize)
	return p
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			atomic.AddInt32(&p.processing, 1)
			err := job.Process(p.ctx)
			atomic.AddInt32(&p.processing, -1)
			atomic.AddInt64(&p.totalProcessed, 1)
			if err != nil {
				n := atomic.AddInt64(&p.totalErrors, 1)
				if n%100 == 1 {
					logger.Log.Warnw("job failed",
						"job_id", job.GetID(),
						"total_errors", n,
						"error", err)
				}
			}
		}
	}
}

// Submit enqueues a job without blocking. A full or closed pool means the
// job is refused; callers treat that as a drop, not an error to retry inline.
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Close drains outstanding jobs for up to 5 seconds, then cancels.
// Idempotent; Submit after Close is refused.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&p.processing) > 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	p.cancel()
	logger.Log.Infow("worker pool closed",
		"processed", atomic.LoadInt64(&p.totalProcessed),
		"errors", atomic.LoadInt64(&p.totalErrors))
}

type Stats struct {
	Workers        int
	QueueSize      int
	Capacity       int
	Processing     int
	TotalProcessed int64
	TotalErrors    int64
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:        p.workers,
		QueueSize:      len(p.jobs),
		Capacity:       cap(p.jobs),
		Processing:     int(atomic.LoadInt32(&p.processing)),
		TotalProcessed: atomic.LoadInt64(&p.totalProcessed),
		TotalErrors:    atomic.LoadInt64(&p.totalErrors),
	}
}
