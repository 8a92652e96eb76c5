// Package circuitbreaker guards a single failure-prone operation
// (here, internal/handler's call into the process-request use case) with a
// closed/open/half_open state machine, so a run of failures stops
// hammering a struggling dependency instead of retrying it on every
// request.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// ErrOpen is returned by Call without invoking fn when the breaker is open.
var ErrOpen = errors.New("circuitbreaker: breaker is open")

// Breaker is safe for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	failureThreshold int
	recoveryTimeout  time.Duration
	failureCount     int
	lastFailure      time.Time
	state            State
}

// New builds a Breaker starting closed. failureThreshold is the number
// of consecutive failures that trips it open; recoveryTimeout is how
// long it stays open before allowing one trial call through (half_open).
func New(failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            Closed,
	}
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call runs fn if the breaker allows it. If the breaker is open and the
// recovery timeout has not elapsed, fn is never invoked and ErrOpen is
// returned. A successful call closes the breaker and resets the failure
// count; a failing call increments the count and opens the breaker once
// it reaches the threshold.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}

	err := fn(ctx)

	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if time.Since(b.lastFailure) > b.recoveryTimeout {
			b.state = HalfOpen
			return nil
		}
		return ErrOpen
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.state = Closed
		b.failureCount = 0
		return
	}

	b.failureCount++
	if b.failureCount >= b.failureThreshold {
		b.state = Open
		b.lastFailure = time.Now()
	}
}
