// Package ratelimit provides two rate limiters for the matchmaking
// worker's two admission points: a Redis-backed fixed window (INCRBY,
// with the expiry set on the window's first charge) for the
// HTTP surface (this file) and a purely in-process token bucket for the
// message handler (inprocess.go).
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, the maximum
// number of cost units allowed in the window, the window duration, and
// the cost charged per call. Cost lets two endpoints share the same
// shape of limiter while reflecting how much downstream work each one
// actually triggers — starting a search is weighted heavier than
// canceling one, since a started search keeps consuming matching
// attempts on every retry cycle until it resolves or times out, while a
// cancel is a single O(1) cleanup.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:toggle:start:")
	Limit  int           // max cost units in the window
	Window time.Duration // time window
	Cost   int           // cost units charged per Allow call; defaults to 1 if <= 0
}

// Rate limiting rules for the HTTP admission surface.
var (
	// RuleToggleStart governs POST /match/toggle calls that start a new
	// search. Weighted at 3x a plain call: a started search is re-attempted
	// by the worker on every retry cycle until it resolves or times out,
	// so admitting one commits the system to repeated downstream work.
	RuleToggleStart = Rule{Key: "rl:toggle:start:", Limit: 10, Window: time.Minute, Cost: 3}

	// RuleToggleCancel governs POST /match/toggle calls that cancel a
	// search already in flight — a single queue removal, costed at 1.
	RuleToggleCancel = Rule{Key: "rl:toggle:cancel:", Limit: 10, Window: time.Minute, Cost: 1}

	// RuleCheckMatch allows 30 GET /check_match polls per minute per user.
	RuleCheckMatch = Rule{Key: "rl:check:", Limit: 30, Window: time.Minute, Cost: 1}

	// RuleQueueStatus allows 20 queue-status lookups per minute per caller.
	RuleQueueStatus = Rule{Key: "rl:qstatus:", Limit: 20, Window: time.Minute, Cost: 1}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether identifier is within the budget defined by rule,
// charging rule.Cost units (1 if unset) against the Redis-tracked window
// and setting the expiry on the window's first charge.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier
	cost := rule.Cost
	if cost <= 0 {
		cost = 1
	}

	count, err := l.client.IncrBy(ctx, key, int64(cost)).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCRBY error key=%s: %v (failing open)", key, err)
		return true, err
	}

	// On the window's first charge, set the expiry to define its boundary.
	if count == int64(cost) {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			// The key exists but has no TTL — it will persist. Best effort: try
			// to delete it so it doesn't block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	if int(count) > rule.Limit {
		return false, nil
	}

	return true, nil
}

// Remaining returns the number of cost units identifier has left in the
// current window for rule. Returns the full limit if the key does not
// exist yet. On Redis errors it returns the full limit (fail open).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Printf("[ratelimit] redis GET error key=%s: %v (failing open)", key, err)
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
