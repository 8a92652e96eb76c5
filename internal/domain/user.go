package domain

import "time"

// UserStatus is the lifecycle state of a user within the matching system.
type UserStatus string

const (
	StatusWaiting  UserStatus = "waiting"
	StatusMatched  UserStatus = "matched"
	StatusCanceled UserStatus = "canceled"
	StatusExpired  UserStatus = "expired"
)

// User is a person searching for a conversation partner.
type User struct {
	UserID    int64
	Username  string
	Criteria  MatchCriteria
	Gender    string
	LangCode  string
	CreatedAt time.Time
	Status    UserStatus
}

// IsCompatibleWith checks base compatibility (not self, criteria compatible).
func (u User) IsCompatibleWith(other User) bool {
	if u.UserID == other.UserID {
		return false
	}
	return u.Criteria.IsCompatibleWith(other.Criteria)
}

// UserState is the per-process, in-memory tracking record for a user's
// matching attempt (retry counting, expiry) — distinct from the durable
// User record and from queue-store membership.
type UserState struct {
	UserID      int64
	Status      UserStatus
	CreatedAt   time.Time
	RetryCount  int
	LastUpdated time.Time
}

// IsExpired reports whether the state has outlived ttl.
func (s UserState) IsExpired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.CreatedAt) > ttl
}

// IncrementRetry returns a copy of s with RetryCount bumped and
// LastUpdated refreshed.
func (s UserState) IncrementRetry(now time.Time) UserState {
	s.RetryCount++
	s.LastUpdated = now
	return s
}

// WithStatus returns a copy of s with Status replaced and LastUpdated
// refreshed.
func (s UserState) WithStatus(status UserStatus, now time.Time) UserState {
	s.Status = status
	s.LastUpdated = now
	return s
}
