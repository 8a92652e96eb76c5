package usecase

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/aungmyo/matchworker/internal/domain"
	"github.com/aungmyo/matchworker/internal/queuestore"
	"github.com/aungmyo/matchworker/internal/statestore"
	"github.com/aungmyo/matchworker/internal/unitofwork"
)

// Publisher is the message-broker collaborator ProcessRequest uses to
// schedule redelivery and dead-letter requests that fail with an
// unexpected error.
// Implemented by internal/broker.
type Publisher interface {
	PublishMatchRequest(ctx context.Context, request domain.MatchRequest, delay time.Duration) error
	PublishToDeadLetter(ctx context.Context, request domain.MatchRequest, errMsg string) error
}

// Notifier records that a committed match exists for both of its
// participants, so front-ends polling or subscribed for the result can
// learn about it.
// Implemented by internal/notify.
type Notifier interface {
	NotifyMatch(ctx context.Context, match domain.Match) error
}

// Config holds the tunables the state machine consults at each
// decision point; populated from internal/config.
type Config struct {
	MaxWaitTime  time.Duration
	InitialDelay time.Duration
	MaxRetries   int
}

// ProcessRequest drives one MatchRequest through the state machine, in
// this decision order: terminal statuses, hard timeout, liveness,
// initial delay, attempt, no-match, and unexpected-exception handling.
type ProcessRequest struct {
	cfg       Config
	findMatch *FindMatch
	db        *sql.DB
	queue     *queuestore.Store
	states    *statestore.Store
	publisher Publisher
	notifier  Notifier
	metrics   MetricsCollector
}

// NewProcessRequest constructs a ProcessRequest use case.
func NewProcessRequest(
	cfg Config,
	findMatch *FindMatch,
	db *sql.DB,
	queue *queuestore.Store,
	states *statestore.Store,
	publisher Publisher,
	notifier Notifier,
	metrics MetricsCollector,
) *ProcessRequest {
	return &ProcessRequest{
		cfg:       cfg,
		findMatch: findMatch,
		db:        db,
		queue:     queue,
		states:    states,
		publisher: publisher,
		notifier:  notifier,
		metrics:   metrics,
	}
}

// Execute processes request, returning true ("handled", ack) or false
// ("failed", nack) per the message handler's contract. It never panics
// on a well-formed request: any use-case-internal infrastructure error
// is dead-lettered and reported as failed rather than propagated.
func (p *ProcessRequest) Execute(ctx context.Context, request domain.MatchRequest) bool {
	handled, err := p.execute(ctx, request)
	if err != nil {
		log.Printf("[usecase] unexpected error processing request for user %d: %v", request.UserID, err)
		p.metrics.RecordError("request_processing_error", request.UserID)
		if dlErr := p.publisher.PublishToDeadLetter(ctx, request, err.Error()); dlErr != nil {
			log.Printf("[usecase] dead-letter publish failed for user %d: %v", request.UserID, dlErr)
		}
		return false
	}
	return handled
}

func (p *ProcessRequest) execute(ctx context.Context, request domain.MatchRequest) (bool, error) {
	// 1. Terminal statuses.
	if request.Status == domain.SearchCanceled || request.Status == domain.SearchCompleted {
		p.cleanupUserState(ctx, request.UserID)
		return true, nil
	}

	// 2. Hard timeout.
	elapsed := request.Elapsed()
	if elapsed >= p.cfg.MaxWaitTime {
		p.handleTimeout(ctx, request.UserID, elapsed)
		return true, nil
	}

	// 3. Liveness check.
	searching, err := p.queue.IsSearching(ctx, request.UserID)
	if err != nil {
		return false, fmt.Errorf("check is_searching: %w", err)
	}
	if !searching {
		return true, nil
	}

	// 4. Initial delay.
	if elapsed < p.cfg.InitialDelay {
		if err := p.publisher.PublishMatchRequest(ctx, request.WithCurrentTime(time.Now()), p.cfg.InitialDelay-elapsed); err != nil {
			return false, fmt.Errorf("schedule initial delay: %w", err)
		}
		return true, nil
	}

	// 5. Attempt.
	return p.attempt(ctx, request)
}

func (p *ProcessRequest) attempt(ctx context.Context, request domain.MatchRequest) (bool, error) {
	uow, err := unitofwork.Begin(ctx, p.db, p.queue, p.states)
	if err != nil {
		return false, fmt.Errorf("begin unit of work: %w", err)
	}
	defer func() {
		if err := uow.Close(); err != nil {
			log.Printf("[usecase] uow close error for user %d: %v", request.UserID, err)
		}
	}()

	match, found, err := p.findMatch.Execute(ctx, request.UserID, uow.Queue)
	if err != nil {
		return false, fmt.Errorf("find match: %w", err)
	}

	if !found {
		return p.handleNoMatch(ctx, request)
	}

	if err := uow.Matches.Add(ctx, match); err != nil {
		return false, fmt.Errorf("stage match: %w", err)
	}

	if err := uow.Commit(); err != nil {
		log.Printf("[usecase] commit failed for match %s, returning users to queue: %v", match.MatchID, err)
		p.requeueBothAfterCommitFailure(ctx, match)
		if pubErr := p.publisher.PublishMatchRequest(ctx, request.WithCurrentTime(time.Now()), 2*time.Second); pubErr != nil {
			log.Printf("[usecase] schedule commit-failure retry failed for user %d: %v", request.UserID, pubErr)
		}
		p.metrics.RecordError("commit_failed", request.UserID)
		return false, nil
	}

	log.Printf("[usecase] match committed: %d <-> %d (match_id=%s)", match.User1.UserID, match.User2.UserID, match.MatchID)

	if err := p.notifier.NotifyMatch(ctx, match); err != nil {
		log.Printf("[usecase] notify match failed for match %s: %v", match.MatchID, err)
	}

	return true, nil
}

// requeueBothAfterCommitFailure re-adds both participants to the queue
// store after a commit conflict, treating it as transient per the
// error-handling design: re-enqueue and schedule a short retry.
func (p *ProcessRequest) requeueBothAfterCommitFailure(ctx context.Context, match domain.Match) {
	for _, u := range []domain.User{match.User1, match.User2} {
		user, found, err := p.queue.FindByID(ctx, u.UserID)
		if err != nil {
			log.Printf("[usecase] reload user %d after commit failure: %v", u.UserID, err)
			continue
		}
		if !found {
			continue
		}
		if err := p.queue.AddToQueue(ctx, user); err != nil {
			log.Printf("[usecase] re-enqueue user %d after commit failure: %v", u.UserID, err)
		}
	}
}

// handleNoMatch implements step 6: timeout/retry-exhaustion falls
// through to the timeout path, otherwise criteria are relaxed and
// redelivery is scheduled with a linear backoff capped at 30s.
func (p *ProcessRequest) handleNoMatch(ctx context.Context, request domain.MatchRequest) (bool, error) {
	elapsed := request.Elapsed()
	if elapsed >= p.cfg.MaxWaitTime || request.RetryCount >= p.cfg.MaxRetries {
		p.handleTimeout(ctx, request.UserID, elapsed)
		return true, nil
	}

	relaxed := request.WithRelaxedCriteria(time.Now())

	if err := p.queue.UpdateUserCriteria(ctx, request.UserID, relaxed.Criteria); err != nil {
		return false, fmt.Errorf("persist relaxed criteria: %w", err)
	}

	delaySeconds := 2 * (relaxed.RetryCount + 1)
	if delaySeconds > 30 {
		delaySeconds = 30
	}
	delay := time.Duration(delaySeconds) * time.Second

	if err := p.publisher.PublishMatchRequest(ctx, relaxed, delay); err != nil {
		return false, fmt.Errorf("schedule relaxed retry: %w", err)
	}

	p.metrics.RecordRetryAttempt(relaxed.RetryCount, delay)
	return true, nil
}

func (p *ProcessRequest) handleTimeout(ctx context.Context, userID int64, waitTime time.Duration) {
	p.metrics.RecordQueueWaitTime(waitTime)
	p.metrics.RecordMatchAttempt(userID, waitTime, 0, false, 0)
	p.metrics.RecordUserStatusChange(domain.StatusWaiting, domain.StatusExpired)
	p.cleanupUserState(ctx, userID)
}

func (p *ProcessRequest) cleanupUserState(ctx context.Context, userID int64) {
	p.states.DeleteState(userID)
	if err := p.queue.RemoveFromQueue(ctx, userID); err != nil {
		log.Printf("[usecase] cleanup: remove from queue failed for user %d: %v", userID, err)
		p.metrics.RecordError("cleanup_error", userID)
	}
}
