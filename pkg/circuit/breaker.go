package circuit

import (
	"sync"
	"time"

	"github.com/alanchelmickjr/overhead-monitor-sub001/pkg/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker guards a repeatedly-failing operation (here: decoder restarts)
// with an open/half-open/closed state machine and exponential backoff while
// open. Half-open allows a probe; enough consecutive successes close it.
type Breaker struct {
	name              string
	maxFailures       int64
	halfOpenSuccesses int64

	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64

	mu             sync.Mutex
	state          State
	failures       int64
	successes      int64
	currentBackoff time.Duration
	lastFailTime   time.Time
	lastStateTime  time.Time
}

func NewBreaker(name string, maxFailures int64, initialBackoff time.Duration) *Breaker {
	if initialBackoff < time.Second {
		initialBackoff = time.Second
	}
	return &Breaker{
		name:              name,
		maxFailures:       maxFailures,
		halfOpenSuccesses: 3,
		initialBackoff:    initialBackoff,
		maxBackoff:        10 * time.Minute,
		backoffMultiplier: 2.0,
		currentBackoff:    initialBackoff,
		state:             StateClosed,
		lastStateTime:     time.Now(),
	}
}

// Allow reports whether the guarded operation may be attempted now.
func (cb *Breaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.lastFailTime) > cb.currentBackoff {
			cb.setState(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *Breaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++

	switch cb.state {
	case StateClosed:
		cb.failures = 0
		cb.currentBackoff = cb.initialBackoff
	case StateHalfOpen:
		if cb.successes >= cb.halfOpenSuccesses {
			cb.setState(StateClosed)
			cb.failures = 0
			cb.successes = 0
			cb.currentBackoff = cb.initialBackoff
		}
	}
}

func (cb *Breaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailTime = time.Now()
	cb.successes = 0

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.setState(StateOpen)
			cb.growBackoff()
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
		cb.growBackoff()
	}
}

func (cb *Breaker) growBackoff() {
	cb.currentBackoff = time.Duration(float64(cb.currentBackoff) * cb.backoffMultiplier)
	if cb.currentBackoff > cb.maxBackoff {
		cb.currentBackoff = cb.maxBackoff
	}
}

func (cb *Breaker) setState(newState State) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState
	cb.lastStateTime = time.Now()
	logger.Log.Warnw("circuit breaker state change",
		"breaker", cb.name,
		"from", oldState.String(),
		"to", newState.String(),
		"failures", cb.failures,
		"next_retry_in", cb.currentBackoff)
}

func (cb *Breaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *Breaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.currentBackoff = cb.initialBackoff
	cb.lastStateTime = time.Now()
}
