// Package statestore is the per-process, in-memory record of each
// user's matching attempt: retry counts and expiry, as distinct from
// the durable User record in the queue store. It is bounded by size
// (LRU eviction on insert overflow) and by age (a background sweep
// evicts entries older than its TTL).
package statestore

import (
	"container/list"
	"context"
	"log"
	"sync"
	"time"

	"github.com/aungmyo/matchworker/internal/domain"
)

const (
	defaultMaxSize      = 10_000
	defaultTTL          = 300 * time.Second
	cleanupInterval     = 60 * time.Second
)

// entry pairs a state with its position in the access-order list, so
// Get can promote it to most-recently-used in O(1).
type entry struct {
	state    domain.UserState
	listElem *list.Element
}

// Store is a mutex-guarded map of user_id -> UserState with LRU
// eviction and TTL-based background expiry.
type Store struct {
	mu      sync.Mutex
	states  map[int64]*entry
	order   *list.List // front = most recently used, back = least
	maxSize int
	ttl     time.Duration
}

// New constructs a Store. maxSize <= 0 uses the default of 10,000
// entries; ttl <= 0 uses the default of 300s.
func New(maxSize int, ttl time.Duration) *Store {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{
		states:  make(map[int64]*entry),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// SaveState inserts or replaces state, promoting it to most-recently-used.
// If the store exceeds maxSize afterward, the least-recently-used entry
// is evicted.
func (s *Store) SaveState(state domain.UserState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.states[state.UserID]; ok {
		s.order.Remove(existing.listElem)
	}

	elem := s.order.PushFront(state.UserID)
	s.states[state.UserID] = &entry{state: state, listElem: elem}

	if len(s.states) > s.maxSize {
		s.evictOldest()
	}
}

// evictOldest removes the least-recently-used entry. Caller must hold mu.
func (s *Store) evictOldest() {
	oldest := s.order.Back()
	if oldest == nil {
		return
	}
	userID := oldest.Value.(int64)
	s.order.Remove(oldest)
	delete(s.states, userID)
}

// GetState returns userID's state, promoting it to most-recently-used.
// Returns (UserState{}, false) if absent or expired; an expired entry is
// evicted as a side effect.
func (s *Store) GetState(userID int64, now time.Time) (domain.UserState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.states[userID]
	if !ok {
		return domain.UserState{}, false
	}

	if e.state.IsExpired(s.ttl, now) {
		s.order.Remove(e.listElem)
		delete(s.states, userID)
		return domain.UserState{}, false
	}

	s.order.MoveToFront(e.listElem)
	return e.state, true
}

// UpdateState transitions userID's state to status, refreshing
// last_updated. No-op if userID has no tracked state.
func (s *Store) UpdateState(userID int64, status domain.UserStatus, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.states[userID]
	if !ok {
		return
	}
	e.state = e.state.WithStatus(status, now)
	s.order.MoveToFront(e.listElem)
}

// DeleteState removes userID's tracked state, if any.
func (s *Store) DeleteState(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.states[userID]
	if !ok {
		return
	}
	s.order.Remove(e.listElem)
	delete(s.states, userID)
}

// cleanupExpired evicts every entry older than ttl, returning how many
// were removed.
func (s *Store) cleanupExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []int64
	for userID, e := range s.states {
		if e.state.IsExpired(s.ttl, now) {
			expired = append(expired, userID)
		}
	}
	for _, userID := range expired {
		e := s.states[userID]
		s.order.Remove(e.listElem)
		delete(s.states, userID)
	}
	return len(expired)
}

// RunCleanupLoop evicts expired entries every 60s until ctx is
// cancelled. Intended to run as its own goroutine from the composition
// root.
func (s *Store) RunCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[statestore] cleanup loop stopped")
			return
		case <-ticker.C:
			if n := s.cleanupExpired(time.Now()); n > 0 {
				log.Printf("[statestore] cleanup: evicted %d expired states", n)
			}
		}
	}
}
