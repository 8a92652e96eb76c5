package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// InProcessLimiter is the message handler's per-user admission gate: a
// token bucket per user_id, held entirely in process memory (no Redis
// round-trip) since the handler's suspension-point budget does not
// allow a store call on every inbound message. Unlike Limiter, it never
// fails open on an infrastructure error — there is no I/O to fail.
type InProcessLimiter struct {
	mu        sync.Mutex
	buckets   map[int64]*rate.Limiter
	maxReqs   int
	window    time.Duration
	lastSeen  map[int64]time.Time
	idleAfter time.Duration
}

// NewInProcessLimiter builds a limiter allowing maxRequests per window,
// per user_id. idleAfter bounds how long an unused bucket is retained
// before Sweep reclaims it.
func NewInProcessLimiter(maxRequests int, window, idleAfter time.Duration) *InProcessLimiter {
	return &InProcessLimiter{
		buckets:   make(map[int64]*rate.Limiter),
		lastSeen:  make(map[int64]time.Time),
		maxReqs:   maxRequests,
		window:    window,
		idleAfter: idleAfter,
	}
}

// Allow reports whether userID may proceed right now, consuming one
// token if so.
func (l *InProcessLimiter) Allow(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[userID]
	if !ok {
		b = rate.NewLimiter(rate.Every(l.window/time.Duration(l.maxReqs)), l.maxReqs)
		l.buckets[userID] = b
	}
	l.lastSeen[userID] = time.Now()

	return b.Allow()
}

// Sweep evicts buckets idle for longer than idleAfter, bounding memory
// growth from one-off users who never return.
func (l *InProcessLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for userID, seen := range l.lastSeen {
		if now.Sub(seen) > l.idleAfter {
			delete(l.buckets, userID)
			delete(l.lastSeen, userID)
			evicted++
		}
	}
	return evicted
}
