package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingJob struct {
	id      string
	counter *atomic.Int64
	err     error
	block   chan struct{}
}

func (j *countingJob) GetID() string { return j.id }

func (j *countingJob) Process(ctx context.Context) error {
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	j.counter.Add(1)
	return j.err
}

func TestPoolProcessesJobs(t *testing.T) {
	pool := NewPool(context.Background(), 2, 16)
	defer pool.Close()

	var counter atomic.Int64
	for i := 0; i < 10; i++ {
		assert.True(t, pool.Submit(&countingJob{id: "job", counter: &counter}))
	}

	deadline := time.Now().Add(2 * time.Second)
	for counter.Load() < 10 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, int64(10), counter.Load())
}

func TestPoolCountsErrors(t *testing.T) {
	pool := NewPool(context.Background(), 1, 4)
	defer pool.Close()

	var counter atomic.Int64
	pool.Submit(&countingJob{id: "bad", counter: &counter, err: errors.New("boom")})

	deadline := time.Now().Add(2 * time.Second)
	for pool.Stats().TotalProcessed < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.TotalProcessed)
	assert.Equal(t, int64(1), stats.TotalErrors)
}

func TestPoolRefusesWhenQueueFull(t *testing.T) {
	pool := NewPool(context.Background(), 1, 1)
	defer pool.Close()

	block := make(chan struct{})
	defer close(block)

	var counter atomic.Int64
	// First job occupies the worker, second fills the queue.
	assert.True(t, pool.Submit(&countingJob{id: "a", counter: &counter, block: block}))

	accepted := 0
	for i := 0; i < 10; i++ {
		if pool.Submit(&countingJob{id: "b", counter: &counter, block: block}) {
			accepted++
		}
	}
	// Non-blocking backpressure: at most the queue capacity (plus the one
	// the worker may have picked up) is accepted, the rest refused.
	assert.LessOrEqual(t, accepted, 2)
}

func TestSubmitAfterCloseIsRefused(t *testing.T) {
	pool := NewPool(context.Background(), 1, 4)
	pool.Close()

	var counter atomic.Int64
	assert.NotPanics(t, func() {
		assert.False(t, pool.Submit(&countingJob{id: "late", counter: &counter}))
	})
	assert.Equal(t, int64(0), counter.Load())

	// Close is idempotent.
	assert.NotPanics(t, pool.Close)
}

func TestSubmitRacingCloseNeverPanics(t *testing.T) {
	// A detached producer (the relay pump at shutdown) may still be
	// submitting while the pool closes; it must get a refusal, not a
	// send-on-closed-channel panic.
	for i := 0; i < 50; i++ {
		pool := NewPool(context.Background(), 2, 4)

		var counter atomic.Int64
		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 100; j++ {
				pool.Submit(&countingJob{id: "race", counter: &counter})
			}
		}()

		pool.Close()
		<-done
	}
}

func TestPoolStats(t *testing.T) {
	pool := NewPool(context.Background(), 3, 8)
	defer pool.Close()

	stats := pool.Stats()
	assert.Equal(t, 3, stats.Workers)
	assert.Equal(t, 8, stats.Capacity)
}
