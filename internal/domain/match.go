package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MatchStatus is the lifecycle status of a committed Match.
type MatchStatus string

const (
	MatchActive   MatchStatus = "active"
	MatchExited   MatchStatus = "exited"
	MatchAborted  MatchStatus = "aborted"
)

// Match is a committed pairing of two distinct users.
type Match struct {
	MatchID             string
	User1               User
	User2               User
	RoomID              string
	CompatibilityScore  float64
	CreatedAt           time.Time
	Status              MatchStatus
}

// NewMatch constructs a Match, enforcing the same invariants as
// CreateMatch but without the compatibility pre-check — used when the
// caller has already verified compatibility (CreateMatch calls it after
// its own check; the find-match use case goes through CreateMatch).
func NewMatch(user1, user2 User, score float64, now time.Time) (Match, error) {
	if user1.UserID == user2.UserID {
		return Match{}, fmt.Errorf("%w: cannot match user %d with themselves", ErrIncompatibleUsers, user1.UserID)
	}
	if score < 0 || score > 1 {
		return Match{}, fmt.Errorf("domain: compatibility score must be in [0,1], got %f", score)
	}

	return Match{
		MatchID:            uuid.New().String(),
		User1:               user1,
		User2:               user2,
		RoomID:              uuid.New().String(),
		CompatibilityScore:  score,
		CreatedAt:           now,
		Status:              MatchActive,
	}, nil
}

// CreateMatch is the factory used when the caller wants the base
// compatibility check enforced as part of construction, rather than
// relying on the caller to have already verified it.
func CreateMatch(user1, user2 User, score float64, now time.Time) (Match, error) {
	if !user1.IsCompatibleWith(user2) {
		return Match{}, fmt.Errorf("%w: users %d and %d", ErrIncompatibleUsers, user1.UserID, user2.UserID)
	}
	return NewMatch(user1, user2, score, now)
}

// GetPartner returns the other participant for userID, or the zero User
// and false if userID is not a participant.
func (m Match) GetPartner(userID int64) (User, bool) {
	switch userID {
	case m.User1.UserID:
		return m.User2, true
	case m.User2.UserID:
		return m.User1, true
	default:
		return User{}, false
	}
}

// ContainsUser reports whether userID participates in m.
func (m Match) ContainsUser(userID int64) bool {
	return userID == m.User1.UserID || userID == m.User2.UserID
}
