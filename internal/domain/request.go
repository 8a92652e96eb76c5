package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RequestStatus is the wire status carried on a MatchRequest.
type RequestStatus string

const (
	SearchStarted       RequestStatus = "search_started"
	SearchCanceled      RequestStatus = "search_canceled"
	SearchCompleted     RequestStatus = "search_completed"
	WaitingTimeExpired  RequestStatus = "waiting_time_expired"
)

const defaultSource = "worker_service"

// criteriaWire is the wire shape of MatchCriteria.
type criteriaWire struct {
	Language string   `json:"language"`
	Fluency  int      `json:"fluency"`
	Topics   []string `json:"topics"`
	Dating   bool     `json:"dating"`
}

// requestWire is the exact broker JSON schema, used for
// marshal/unmarshal so MatchRequest itself can stay strongly typed.
type requestWire struct {
	UserID      int64        `json:"user_id"`
	Username    string       `json:"username"`
	Gender      string       `json:"gender"`
	Criteria    criteriaWire `json:"criteria"`
	LangCode    string       `json:"lang_code"`
	CreatedAt   string       `json:"created_at"`
	CurrentTime string       `json:"current_time,omitempty"`
	Status      string       `json:"status"`
	Source      string       `json:"source,omitempty"`
	RetryCount  int          `json:"retry_count,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// MatchRequest is the immutable message that drives the process-request
// state machine.
type MatchRequest struct {
	UserID      int64
	Username    string
	Criteria    MatchCriteria
	Gender      string
	LangCode    string
	Status      RequestStatus
	CreatedAt   time.Time
	CurrentTime time.Time
	Source      string
	RetryCount  int

	// ErrorMessage is set only on dead-letter publication; zero value
	// otherwise. Not part of the inbound/redelivery schema.
	ErrorMessage string
}

// ParseMatchRequest decodes the inbound broker JSON payload.
// Unlike NewMatchCriteria's strict validation, this is intentionally
// permissive about zero-value fields beyond what criteria requires — a
// payload that fails to parse at all is rejected by internal/broker
// before internal/handler ever sees it; internal/handler's own checks
// (rate limit, circuit breaker) assume a MatchRequest already exists.
func ParseMatchRequest(data []byte) (MatchRequest, error) {
	var w requestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return MatchRequest{}, fmt.Errorf("domain: parse match request: %w", err)
	}

	criteria, err := NewMatchCriteria(w.Criteria.Language, w.Criteria.Fluency, w.Criteria.Topics, w.Criteria.Dating)
	if err != nil {
		return MatchRequest{}, err
	}

	createdAt, err := time.Parse(time.RFC3339, w.CreatedAt)
	if err != nil {
		return MatchRequest{}, fmt.Errorf("domain: parse created_at: %w", err)
	}

	currentTime := createdAt
	if w.CurrentTime != "" {
		currentTime, err = time.Parse(time.RFC3339, w.CurrentTime)
		if err != nil {
			return MatchRequest{}, fmt.Errorf("domain: parse current_time: %w", err)
		}
	}

	source := w.Source
	if source == "" {
		source = defaultSource
	}

	status := RequestStatus(w.Status)
	if status == "" {
		status = SearchStarted
	}

	return MatchRequest{
		UserID:      w.UserID,
		Username:    w.Username,
		Criteria:    criteria,
		Gender:      w.Gender,
		LangCode:    w.LangCode,
		Status:      status,
		CreatedAt:   createdAt,
		CurrentTime: currentTime,
		Source:      source,
		RetryCount:  w.RetryCount,
		ErrorMessage: w.ErrorMessage,
	}, nil
}

// ToJSON encodes r back to the wire schema, used for redelivery and
// dead-letter publication. Round-trips all fields exactly, including
// criteria topic ordering.
func (r MatchRequest) ToJSON() ([]byte, error) {
	w := requestWire{
		UserID:   r.UserID,
		Username: r.Username,
		Gender:   r.Gender,
		Criteria: criteriaWire{
			Language: r.Criteria.Language,
			Fluency:  r.Criteria.Fluency,
			Topics:   r.Criteria.Topics,
			Dating:   r.Criteria.Dating,
		},
		LangCode:     r.LangCode,
		CreatedAt:    r.CreatedAt.Format(time.RFC3339Nano),
		CurrentTime:  r.CurrentTime.Format(time.RFC3339Nano),
		Status:       string(r.Status),
		Source:       r.Source,
		RetryCount:   r.RetryCount,
		ErrorMessage: r.ErrorMessage,
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("domain: marshal match request: %w", err)
	}
	return data, nil
}

// WithRelaxedCriteria returns a copy of r with criteria relaxed per step,
// current_time refreshed to now, and retry_count incremented — the shape
// the process-request use case publishes on redelivery after a no-match.
func (r MatchRequest) WithRelaxedCriteria(now time.Time) MatchRequest {
	r.Criteria = r.Criteria.Relax(r.RetryCount)
	r.CurrentTime = now
	r.RetryCount++
	return r
}

// WithCurrentTime returns a copy of r with current_time refreshed to now —
// used for the initial-delay redelivery, which does not touch criteria or
// retry_count.
func (r MatchRequest) WithCurrentTime(now time.Time) MatchRequest {
	r.CurrentTime = now
	return r
}

// WithError returns a copy of r carrying an error_message, for dead-letter
// publication.
func (r MatchRequest) WithError(msg string) MatchRequest {
	r.ErrorMessage = msg
	return r
}

// Elapsed returns current_time - created_at, the wait duration the state
// machine uses for delay/timeout decisions.
func (r MatchRequest) Elapsed() time.Duration {
	return r.CurrentTime.Sub(r.CreatedAt)
}
