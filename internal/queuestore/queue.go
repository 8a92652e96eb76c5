// Package queuestore is the shared, low-latency authoritative record of
// who is currently waiting for a match. It is backed by Redis: a sorted
// set orders waiting users by arrival time, per-user hashes hold the
// durable-enough fields (profile + criteria), and short-lived sentinel
// keys answer "is this user still searching".
package queuestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aungmyo/matchworker/internal/domain"
)

const (
	keyWaiting          = "mm:queue:waiting"      // sorted set, score = joined_at unix millis
	keyUserPrefix       = "mm:queue:user:"         // + user_id -> hash (profile)
	keyCriteriaPrefix   = "mm:queue:criteria:"     // + user_id -> hash (criteria)
	keySearchingPrefix  = "mm:queue:searching:"    // + user_id -> sentinel string
	keyMatchIDPrefix    = "mm:queue:matchid:"      // + user_id -> string, short TTL

	matchIDTTL = 30 * time.Second

	// prefilterFluencyBand is the widest fluency delta any relaxation step
	// can reach, so the cheap scan never excludes a candidate the full
	// compatibility check would later accept.
	prefilterFluencyBand = 2
)

// Store is the Redis-backed queue store.
type Store struct {
	rdb          *redis.Client
	reserveScript *redis.Script
	cacheTTL     time.Duration
	maxWaitTime  time.Duration
}

// New constructs a Store. cacheTTL bounds user/criteria record lifetime;
// maxWaitTime bounds the searching sentinel's lifetime (and therefore how
// long add_to_queue's duplicate check stays meaningful).
func New(rdb *redis.Client, cacheTTL, maxWaitTime time.Duration) *Store {
	return &Store{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveMatchLua),
		cacheTTL:      cacheTTL,
		maxWaitTime:   maxWaitTime,
	}
}

// Save persists user's profile and criteria with TTL = cacheTTL. It does
// not touch queue membership.
func (s *Store) Save(ctx context.Context, user domain.User) error {
	pipe := s.rdb.Pipeline()
	s.stageUser(ctx, pipe, user)
	s.stageCriteria(ctx, pipe, user.UserID, user.Criteria)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("queuestore: save user %d: %w", user.UserID, err)
	}
	return nil
}

func (s *Store) stageUser(ctx context.Context, pipe redis.Pipeliner, user domain.User) {
	key := keyUserPrefix + strconv.FormatInt(user.UserID, 10)
	pipe.HSet(ctx, key, map[string]interface{}{
		"username":   user.Username,
		"gender":     user.Gender,
		"lang_code":  user.LangCode,
		"created_at": user.CreatedAt.Format(time.RFC3339),
		"status":     string(user.Status),
	})
	pipe.Expire(ctx, key, s.cacheTTL)
}

func (s *Store) stageCriteria(ctx context.Context, pipe redis.Pipeliner, userID int64, c domain.MatchCriteria) {
	key := keyCriteriaPrefix + strconv.FormatInt(userID, 10)
	pipe.HSet(ctx, key, map[string]interface{}{
		"language": c.Language,
		"fluency":  strconv.Itoa(c.Fluency),
		"topics":   strings.Join(c.Topics, ","),
		"dating":   strconv.FormatBool(c.Dating),
	})
	pipe.Expire(ctx, key, s.cacheTTL)
}

// FindByID loads a user's profile and criteria. Returns (User{}, false, nil)
// if no record exists.
func (s *Store) FindByID(ctx context.Context, userID int64) (domain.User, bool, error) {
	userKey := keyUserPrefix + strconv.FormatInt(userID, 10)
	criteriaKey := keyCriteriaPrefix + strconv.FormatInt(userID, 10)

	userFields, err := s.rdb.HGetAll(ctx, userKey).Result()
	if err != nil {
		return domain.User{}, false, fmt.Errorf("queuestore: find user %d: %w", userID, err)
	}
	if len(userFields) == 0 {
		return domain.User{}, false, nil
	}

	criteriaFields, err := s.rdb.HGetAll(ctx, criteriaKey).Result()
	if err != nil {
		return domain.User{}, false, fmt.Errorf("queuestore: find criteria %d: %w", userID, err)
	}

	criteria, err := criteriaFromFields(criteriaFields)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("queuestore: decode criteria %d: %w", userID, err)
	}

	createdAt, _ := time.Parse(time.RFC3339, userFields["created_at"])

	user := domain.User{
		UserID:    userID,
		Username:  userFields["username"],
		Criteria:  criteria,
		Gender:    userFields["gender"],
		LangCode:  userFields["lang_code"],
		CreatedAt: createdAt,
		Status:    domain.UserStatus(userFields["status"]),
	}
	return user, true, nil
}

func criteriaFromFields(fields map[string]string) (domain.MatchCriteria, error) {
	if len(fields) == 0 {
		return domain.MatchCriteria{}, nil
	}
	fluency, _ := strconv.Atoi(fields["fluency"])
	var topics []string
	if fields["topics"] != "" {
		topics = strings.Split(fields["topics"], ",")
	}
	dating, _ := strconv.ParseBool(fields["dating"])
	return domain.NewMatchCriteria(fields["language"], fluency, topics, dating)
}

// AddToQueue enqueues user. Fails with domain.ErrUserAlreadyInSearch iff
// the user is already searching per IsSearching AND their status is
// still WAITING.
func (s *Store) AddToQueue(ctx context.Context, user domain.User) error {
	searching, err := s.IsSearching(ctx, user.UserID)
	if err != nil {
		return err
	}
	if searching && user.Status == domain.StatusWaiting {
		return fmt.Errorf("%w: user %d", domain.ErrUserAlreadyInSearch, user.UserID)
	}

	pipe := s.rdb.Pipeline()
	s.stageUser(ctx, pipe, user)
	s.stageCriteria(ctx, pipe, user.UserID, user.Criteria)
	pipe.ZAdd(ctx, keyWaiting, redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: user.UserID,
	})
	searchingKey := keySearchingPrefix + strconv.FormatInt(user.UserID, 10)
	pipe.Set(ctx, searchingKey, "1", s.maxWaitTime)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queuestore: add to queue %d: %w", user.UserID, err)
	}
	return nil
}

// RemoveFromQueue removes every trace of userID from the waiting list:
// the sorted-set entry, the searching sentinel, and the user/criteria
// records.
func (s *Store) RemoveFromQueue(ctx context.Context, userID int64) error {
	idStr := strconv.FormatInt(userID, 10)
	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, keyWaiting, idStr)
	pipe.Del(ctx, keySearchingPrefix+idStr)
	pipe.Del(ctx, keyUserPrefix+idStr)
	pipe.Del(ctx, keyCriteriaPrefix+idStr)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queuestore: remove from queue %d: %w", userID, err)
	}
	return nil
}

// IsSearching is the single source of truth for "is this user in the
// queue" — consulted by the process-request state machine's liveness
// check.
func (s *Store) IsSearching(ctx context.Context, userID int64) (bool, error) {
	key := keySearchingPrefix + strconv.FormatInt(userID, 10)
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("queuestore: is searching %d: %w", userID, err)
	}
	return n > 0, nil
}

// GetQueueSize returns the number of users currently waiting.
func (s *Store) GetQueueSize(ctx context.Context) (int64, error) {
	n, err := s.rdb.ZCard(ctx, keyWaiting).Result()
	if err != nil {
		return 0, fmt.Errorf("queuestore: queue size: %w", err)
	}
	return n, nil
}

// UpdateUserCriteria overwrites userID's criteria record and refreshes
// its TTL — used when redelivery carries relaxed criteria.
func (s *Store) UpdateUserCriteria(ctx context.Context, userID int64, c domain.MatchCriteria) error {
	pipe := s.rdb.Pipeline()
	s.stageCriteria(ctx, pipe, userID, c)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queuestore: update criteria %d: %w", userID, err)
	}
	return nil
}

// ReserveMatchID records a short-lived match_id the front-end can poll
// for via GetMatchID.
func (s *Store) ReserveMatchID(ctx context.Context, userID int64, matchID string) error {
	key := keyMatchIDPrefix + strconv.FormatInt(userID, 10)
	if err := s.rdb.Set(ctx, key, matchID, matchIDTTL).Err(); err != nil {
		return fmt.Errorf("queuestore: reserve match id %d: %w", userID, err)
	}
	return nil
}

// GetMatchID returns the reserved match_id for userID, or ("", false, nil)
// if none is set.
func (s *Store) GetMatchID(ctx context.Context, userID int64) (string, bool, error) {
	key := keyMatchIDPrefix + strconv.FormatInt(userID, 10)
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("queuestore: get match id %d: %w", userID, err)
	}
	return v, true, nil
}

// FindAndReserveMatch is the core atomic primitive. It first confirms
// seeker is still in the waiting list, then scans the list in insertion
// order applying a cheap prefilter (same language, |Δfluency| <= 2), and
// finally reserves the first passing candidate with a Lua script that
// atomically verifies both IDs are still present and removes both. It
// returns (candidate, true, nil) on success and (domain.User{}, false, nil)
// if no candidate could be reserved.
//
// The full compatibility check (topics, dating) is the caller's
// responsibility: by the time this returns, both users have already
// left the queue, and a failed full check is handled by the caller's
// retry path, not by restoring queue membership here.
func (s *Store) FindAndReserveMatch(ctx context.Context, seeker domain.User) (domain.User, bool, error) {
	seekerIDStr := strconv.FormatInt(seeker.UserID, 10)

	score, err := s.rdb.ZScore(ctx, keyWaiting, seekerIDStr).Result()
	if errors.Is(err, redis.Nil) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("queuestore: check seeker %d queued: %w", seeker.UserID, err)
	}
	_ = score

	waitingIDs, err := s.rdb.ZRange(ctx, keyWaiting, 0, -1).Result()
	if err != nil {
		return domain.User{}, false, fmt.Errorf("queuestore: scan waiting list: %w", err)
	}

	for _, candidateIDStr := range waitingIDs {
		if candidateIDStr == seekerIDStr {
			continue
		}

		candidateID, err := strconv.ParseInt(candidateIDStr, 10, 64)
		if err != nil {
			continue
		}

		criteriaFields, err := s.rdb.HGetAll(ctx, keyCriteriaPrefix+candidateIDStr).Result()
		if err != nil || len(criteriaFields) == 0 {
			continue
		}
		candidateFluency, _ := strconv.Atoi(criteriaFields["fluency"])

		if criteriaFields["language"] != seeker.Criteria.Language {
			continue
		}
		if abs(candidateFluency-seeker.Criteria.Fluency) > prefilterFluencyBand {
			continue
		}

		reserved, err := s.reserveBoth(ctx, seekerIDStr, candidateIDStr)
		if err != nil {
			return domain.User{}, false, err
		}
		if !reserved {
			// Another worker raced us; keep scanning for the next
			// prefilter-passing candidate.
			continue
		}

		candidate, found, err := s.FindByID(ctx, candidateID)
		if err != nil {
			return domain.User{}, false, err
		}
		if !found {
			return domain.User{}, false, fmt.Errorf("queuestore: reserved candidate %d vanished before load", candidateID)
		}
		return candidate, true, nil
	}

	return domain.User{}, false, nil
}

// reserveBoth runs the atomic verify-and-remove step.
func (s *Store) reserveBoth(ctx context.Context, seekerID, candidateID string) (bool, error) {
	keys := []string{keyWaiting, keySearchingPrefix + seekerID, keySearchingPrefix + candidateID}
	result, err := s.reserveScript.Run(ctx, s.rdb, keys, seekerID, candidateID).Int()
	if err != nil {
		return false, fmt.Errorf("queuestore: reserve %s/%s: %w", seekerID, candidateID, err)
	}
	return result == 1, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// reserveMatchLua verifies both members are still present in the waiting
// sorted set and, if so, removes both members and deletes both searching
// sentinels in one indivisible step. Returns 1 on success, 0 if either
// member had already been claimed by a racing worker.
const reserveMatchLua = `
local waiting_key = KEYS[1]
local seeker_searching_key = KEYS[2]
local candidate_searching_key = KEYS[3]
local seeker_id = ARGV[1]
local candidate_id = ARGV[2]

local seeker_score = redis.call('ZSCORE', waiting_key, seeker_id)
local candidate_score = redis.call('ZSCORE', waiting_key, candidate_id)

if not seeker_score or not candidate_score then
    return 0
end

redis.call('ZREM', waiting_key, seeker_id, candidate_id)
redis.call('DEL', seeker_searching_key, candidate_searching_key)

return 1
`
