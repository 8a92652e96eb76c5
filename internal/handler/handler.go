// Package handler is the matching system's message handler: the
// rate-limit gate, circuit-breaker-wrapped use-case call, and
// ack/nack-equivalent decision that sits between the broker subscription
// and the process-request state machine. Grounded on
// original_source/src/handlers/match_handler.py's MatchRequestHandler
// (rate-limiter check, circuit-breaker call, success/failure bookkeeping),
// translated from its ack/nack vocabulary to the NATS core transport's
// own: a rate-limited or circuit-open request is rescheduled or
// dead-lettered directly rather than nacked for broker-side redelivery.
package handler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/aungmyo/matchworker/internal/circuitbreaker"
	"github.com/aungmyo/matchworker/internal/domain"
	"github.com/aungmyo/matchworker/internal/ratelimit"
)

// Processor runs the process-request state machine against a single
// parsed request. Implemented by usecase.ProcessRequest.
type Processor interface {
	Execute(ctx context.Context, request domain.MatchRequest) bool
}

// Publisher reschedules a rate-limited request and dead-letters one the
// circuit breaker has refused. Implemented by internal/broker.
type Publisher interface {
	PublishMatchRequest(ctx context.Context, request domain.MatchRequest, delay time.Duration) error
	PublishToDeadLetter(ctx context.Context, request domain.MatchRequest, errMsg string) error
}

var errProcessingFailed = errors.New("handler: process-request reported failure")

// Handler is the broker subscription's callback target: admit, guard,
// process.
type Handler struct {
	process         Processor
	publisher       Publisher
	breaker         *circuitbreaker.Breaker
	limiter         *ratelimit.InProcessLimiter
	rescheduleDelay time.Duration
}

// New builds a Handler. rescheduleDelay is how long a rate-limited
// request waits before its next attempt.
func New(process Processor, publisher Publisher, breaker *circuitbreaker.Breaker, limiter *ratelimit.InProcessLimiter, rescheduleDelay time.Duration) *Handler {
	return &Handler{
		process:         process,
		publisher:       publisher,
		breaker:         breaker,
		limiter:         limiter,
		rescheduleDelay: rescheduleDelay,
	}
}

// Handle admits request past the per-user in-process rate limiter, then
// runs it through the process-request use case under the circuit
// breaker. A rate-limited request is rescheduled; a request the breaker
// refuses (open) is dead-lettered; a request the use case itself reports
// as failed is logged and dropped (the use case has already dead-lettered
// anything it could not recover from internally).
func (h *Handler) Handle(ctx context.Context, request domain.MatchRequest) {
	if !h.limiter.Allow(request.UserID) {
		log.Printf("[handler] rate limited, re-scheduling request for user %d", request.UserID)
		if err := h.publisher.PublishMatchRequest(ctx, request, h.rescheduleDelay); err != nil {
			log.Printf("[handler] reschedule after rate limit failed for user %d: %v", request.UserID, err)
		}
		return
	}

	err := h.breaker.Call(ctx, func(ctx context.Context) error {
		if ok := h.process.Execute(ctx, request); !ok {
			return errProcessingFailed
		}
		return nil
	})
	if err == nil {
		return
	}

	if errors.Is(err, circuitbreaker.ErrOpen) {
		log.Printf("[handler] circuit open, dead-lettering request for user %d", request.UserID)
		if dlErr := h.publisher.PublishToDeadLetter(ctx, request, "circuit breaker open"); dlErr != nil {
			log.Printf("[handler] dead-letter publish failed for user %d: %v", request.UserID, dlErr)
		}
		return
	}

	log.Printf("[handler] processing failed for user %d", request.UserID)
}
