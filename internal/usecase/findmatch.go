// Package usecase implements the matching system's two central
// operations: finding and reserving a compatible partner for one
// seeker, and driving a single MatchRequest through the process-request
// state machine.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aungmyo/matchworker/internal/domain"
	"github.com/aungmyo/matchworker/internal/queuestore"
	"github.com/aungmyo/matchworker/internal/scoring"
)

// MetricsCollector is the subset of metrics the use cases themselves
// emit; implemented by internal/metrics.
type MetricsCollector interface {
	RecordQueueSize(size int64)
	RecordMatchAttempt(userID int64, processingTime time.Duration, candidatesEvaluated int, matchFound bool, score float64)
	RecordQueueWaitTime(wait time.Duration)
	RecordRetryAttempt(retryCount int, delay time.Duration)
	RecordError(errorType string, userID int64)
	RecordUserStatusChange(from, to domain.UserStatus)
}

// FindMatch is the seeker-scoped matching attempt: load, reserve,
// score, and — if compatible — construct a Match. It never touches the
// durable store; that is the caller's (ProcessRequest's) job once it
// has a Match in hand.
type FindMatch struct {
	weights   scoring.Weights
	threshold float64
	metrics   MetricsCollector
}

// NewFindMatch constructs a FindMatch use case.
func NewFindMatch(weights scoring.Weights, threshold float64, metrics MetricsCollector) *FindMatch {
	return &FindMatch{weights: weights, threshold: threshold, metrics: metrics}
}

// Execute attempts to find and reserve a match for seekerID against
// queue. Returns (Match, true, nil) on success, (Match{}, false, nil) if
// no compatible candidate could be reserved, and a non-nil error only
// for infrastructure failures or a missing seeker record
// (domain.ErrUserNotFound).
func (f *FindMatch) Execute(ctx context.Context, seekerID int64, queue *queuestore.Store) (domain.Match, bool, error) {
	start := time.Now()

	seeker, found, err := queue.FindByID(ctx, seekerID)
	if err != nil {
		return domain.Match{}, false, fmt.Errorf("usecase: find seeker %d: %w", seekerID, err)
	}
	if !found {
		return domain.Match{}, false, fmt.Errorf("%w: %d", domain.ErrUserNotFound, seekerID)
	}

	queueSize, err := queue.GetQueueSize(ctx)
	if err != nil {
		return domain.Match{}, false, fmt.Errorf("usecase: queue size: %w", err)
	}
	f.metrics.RecordQueueSize(queueSize)

	candidate, reserved, err := queue.FindAndReserveMatch(ctx, seeker)
	if err != nil {
		return domain.Match{}, false, fmt.Errorf("usecase: find and reserve match for %d: %w", seekerID, err)
	}
	if !reserved {
		f.metrics.RecordMatchAttempt(seekerID, time.Since(start), 1, false, 0)
		return domain.Match{}, false, nil
	}

	score := scoring.Compute(seeker.Criteria, candidate.Criteria, f.weights)
	if score.Total < f.threshold {
		f.metrics.RecordMatchAttempt(seekerID, time.Since(start), 1, false, score.Total)
		return domain.Match{}, false, nil
	}

	// CreateMatch re-checks base compatibility against the
	// reservation-time snapshot before constructing: defends against
	// criteria having gone stale between the prefilter scan and the
	// atomic removal.
	match, err := domain.CreateMatch(seeker, candidate, score.Total, time.Now())
	if errors.Is(err, domain.ErrIncompatibleUsers) {
		f.metrics.RecordMatchAttempt(seekerID, time.Since(start), 1, false, score.Total)
		return domain.Match{}, false, nil
	}
	if err != nil {
		return domain.Match{}, false, fmt.Errorf("usecase: construct match: %w", err)
	}

	f.metrics.RecordMatchAttempt(seekerID, time.Since(start), 1, true, score.Total)
	return match, true, nil
}
