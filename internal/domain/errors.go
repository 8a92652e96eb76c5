// Package domain holds the matchmaking entities and value objects: users,
// criteria, matches, compatibility scores and the request that drives the
// whole pipeline. Invariants are enforced on construction rather than
// scattered across call sites.
package domain

import "errors"

// Domain errors are recoverable at the use-case level and never trigger
// dead-lettering.
var (
	ErrUserNotFound       = errors.New("domain: user not found")
	ErrIncompatibleUsers  = errors.New("domain: users are not compatible")
	ErrInvalidCriteria    = errors.New("domain: invalid match criteria")
	ErrUserAlreadyInSearch = errors.New("domain: user already in search")
)
