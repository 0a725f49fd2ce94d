package conversation

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Breaker states.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// ErrCircuitOpen is returned by Attempt when the breaker short-circuits the
// call. Callers map it to an on-persona fallback reply, never to a user error.
var ErrCircuitOpen = errors.New("conversation: circuit breaker open")

// Breaker protects the AI call path from cascading failure. One shared
// instance guards the backend for all conversations; every transition goes
// through the internal mutex so concurrent attempts cannot race the state.
type Breaker struct {
	mu                  sync.Mutex
	status              string
	consecutiveFailures int
	openedAt            time.Time
	probing             bool

	threshold   int
	cooldown    time.Duration
	callTimeout time.Duration
	now         func() time.Time
}

// BreakerState is a read-only snapshot for metrics and the stats command.
type BreakerState struct {
	Status              string
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// NewBreaker creates a closed breaker. threshold is the consecutive-failure
// count that opens it, cooldown how long it stays open before probing, and
// callTimeout the per-call deadline (a timeout counts as a failure).
func NewBreaker(threshold int, cooldown, callTimeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Breaker{
		status:      BreakerClosed,
		threshold:   threshold,
		cooldown:    cooldown,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

// Attempt runs fn under the breaker's state machine. While open and inside the
// cool-down it returns ErrCircuitOpen without invoking fn. Once the cool-down
// elapses exactly one probe call is admitted; its outcome decides the next
// state. fn runs outside the lock under the configured timeout.
func (b *Breaker) Attempt(ctx context.Context, fn func(context.Context) (LLMResponse, error)) (LLMResponse, error) {
	probe, err := b.admit()
	if err != nil {
		return LLMResponse{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	resp, callErr := fn(callCtx)
	if callErr == nil && callCtx.Err() != nil {
		callErr = callCtx.Err()
	}
	b.settle(probe, callErr)
	if callErr != nil {
		return LLMResponse{}, callErr
	}
	return resp, nil
}

// admit decides whether a call may proceed. The bool marks the call as the
// half-open probe.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.status {
	case BreakerClosed:
		return false, nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, ErrCircuitOpen
		}
		b.status = BreakerHalfOpen
		b.probing = true
		return true, nil
	case BreakerHalfOpen:
		// A probe is already in flight; everyone else short-circuits.
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	}
	return false, ErrCircuitOpen
}

// settle records the outcome of an admitted call.
func (b *Breaker) settle(probe bool, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
		if callErr != nil {
			b.status = BreakerOpen
			b.openedAt = b.now()
			return
		}
		b.status = BreakerClosed
		b.consecutiveFailures = 0
		return
	}

	if callErr != nil {
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.threshold {
			b.status = BreakerOpen
			b.openedAt = b.now()
		}
		return
	}
	b.consecutiveFailures = 0
}

// State returns a snapshot of the breaker.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerState{
		Status:              b.status,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
	}
}
