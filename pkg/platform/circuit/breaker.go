// Package circuit provides a small circuit breaker for slow or failing
// collaborators. After FailureThreshold consecutive failures the breaker opens
// and Allow reports false until Cooldown has elapsed; it then lets probes
// through and closes again after SuccessThreshold consecutive successes.
package circuit

import (
	"sync"
	"time"
)

// State is the breaker's current mode.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// StateChange reports transitions caused by a single Record call.
type StateChange struct {
	Opened bool
	Closed bool
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name             string
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	clock            func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets the consecutive failures needed to open.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets the consecutive successes needed to close.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithCooldown sets how long an open breaker rejects calls before probing.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(b *Breaker) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// New creates a closed breaker.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 1,
		cooldown:         30 * time.Second,
		clock:            time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether the breaker is not closed.
func (b *Breaker) IsOpen() bool {
	return b.State() != StateClosed
}

// Allow reports whether a call should be attempted. An open breaker moves to
// half-open once the cooldown has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	default:
		if b.clock().Sub(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
}

// RecordFailure registers a failed call. It returns true when callers should
// treat the collaborator as unavailable.
func (b *Breaker) RecordFailure() (bool, StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes = 0
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = StateOpen
			b.openedAt = b.clock()
			return true, StateChange{Opened: true}
		}
		return false, StateChange{}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.clock()
		return true, StateChange{}
	default:
		return true, StateChange{}
	}
}

// RecordSuccess registers a successful call. It returns true when the
// breaker is closed afterwards.
func (b *Breaker) RecordSuccess() (bool, StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		b.failures = 0
		return true, StateChange{}
	}
	b.successes++
	if b.successes >= b.successThreshold {
		b.state = StateClosed
		b.failures = 0
		b.successes = 0
		return true, StateChange{Closed: true}
	}
	return false, StateChange{}
}

// Reset closes the breaker and clears counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
}
