// Package broker wires the matching worker to NATS: it consumes
// MatchRequest messages, republishes them (with a delay) when the
// process-request state machine asks for redelivery, and routes
// requests that fail with an unexpected error, or that the circuit
// breaker refuses, to a dead-letter subject.
package broker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aungmyo/matchworker/internal/domain"
)

// NATS subjects used by the matching worker.
const (
	SubjectMatchRequests = "match_requests"
	SubjectDeadLetter    = "match_requests.dead_letter"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "matchworker",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// MetricsRecorder is the subset of internal/metrics.Collector the broker
// needs to report poison messages it drops before a domain.MatchRequest
// ever exists to attach a user id to.
type MetricsRecorder interface {
	RecordError(errorType string, userID int64)
}

// Broker implements usecase.Publisher against a NATS connection. NATS
// core has no broker-side delayed-delivery mechanism (the RabbitMQ
// original relied on a dead-letter-exchange TTL trick for this), so a
// delayed PublishMatchRequest is scheduled in-process with time.AfterFunc
// instead: acceptable here because the worker process republishing a
// request is the same process that would otherwise have consumed a
// broker-scheduled redelivery, and a crash before the timer fires simply
// drops that one redelivery the same way a crashed consumer would drop
// an unacked in-flight message.
type Broker struct {
	conn    *nats.Conn
	metrics MetricsRecorder

	mu      sync.Mutex
	pending map[*time.Timer]struct{}
}

// Connect dials NATS and returns a ready Broker. metrics may be nil, in
// which case malformed-message drops are logged only.
func Connect(cfg Config, metrics MetricsRecorder) (*Broker, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[broker] disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[broker] reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("broker: connect: %w", err)
	}
	log.Printf("[broker] connected to %s", nc.ConnectedUrl())

	return &Broker{conn: nc, metrics: metrics, pending: make(map[*time.Timer]struct{})}, nil
}

// PublishMatchRequest re-publishes request to the match_requests subject
// after delay elapses. A zero delay publishes immediately.
func (b *Broker) PublishMatchRequest(ctx context.Context, request domain.MatchRequest, delay time.Duration) error {
	data, err := request.ToJSON()
	if err != nil {
		return fmt.Errorf("broker: marshal match request: %w", err)
	}

	if delay <= 0 {
		return b.conn.Publish(SubjectMatchRequests, data)
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		if err := b.conn.Publish(SubjectMatchRequests, data); err != nil {
			log.Printf("[broker] delayed publish failed for user %d: %v", request.UserID, err)
		}
		b.mu.Lock()
		delete(b.pending, timer)
		b.mu.Unlock()
	})

	b.mu.Lock()
	b.pending[timer] = struct{}{}
	b.mu.Unlock()

	return nil
}

// PublishToDeadLetter publishes request, annotated with errMsg, to the
// dead-letter subject for offline inspection.
func (b *Broker) PublishToDeadLetter(ctx context.Context, request domain.MatchRequest, errMsg string) error {
	data, err := request.WithError(errMsg).ToJSON()
	if err != nil {
		return fmt.Errorf("broker: marshal dead-letter request: %w", err)
	}
	return b.conn.Publish(SubjectDeadLetter, data)
}

// Subscribe registers handler against the match_requests subject. The
// handler is invoked on NATS's own goroutine per message; callers that
// need bounded concurrency should gate handler with their own pool.
func (b *Broker) Subscribe(handler func(domain.MatchRequest)) (*nats.Subscription, error) {
	return b.conn.Subscribe(SubjectMatchRequests, func(msg *nats.Msg) {
		request, err := domain.ParseMatchRequest(msg.Data)
		if err != nil {
			log.Printf("[broker] dropping malformed match request: %v", err)
			if b.metrics != nil {
				b.metrics.RecordError("malformed_match_request", 0)
			}
			return
		}
		handler(request)
	})
}

// Conn returns the underlying NATS connection for reuse by collaborators
// that need to publish on subjects outside this package's concern, such
// as match-found notifications.
func (b *Broker) Conn() *nats.Conn {
	return b.conn
}

// Close cancels any pending delayed publishes and drains the connection.
func (b *Broker) Close() {
	b.mu.Lock()
	for timer := range b.pending {
		timer.Stop()
	}
	b.pending = make(map[*time.Timer]struct{})
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		log.Printf("[broker] drain: %v", err)
	}
}
