// Package httpapi is the matching worker's thin HTTP admission surface:
// toggling search, polling match status, canceling, and reading queue
// and chat-history diagnostics. It is intentionally not the system's
// core (that is the broker-driven message handler) — this exists so the
// worker is runnable end-to-end without a front-end service of its own.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aungmyo/matchworker/internal/broker"
	"github.com/aungmyo/matchworker/internal/domain"
	"github.com/aungmyo/matchworker/internal/matchstore"
	"github.com/aungmyo/matchworker/internal/metrics"
	"github.com/aungmyo/matchworker/internal/queuestore"
	"github.com/aungmyo/matchworker/internal/ratelimit"
)

// Server holds the collaborators every handler needs and exposes the
// composed http.Handler via Mux.
type Server struct {
	db        *sql.DB
	queue     *queuestore.Store
	publisher *broker.Broker
	admission *ratelimit.Limiter
}

// New constructs a Server. db is used for ad hoc unit-of-work-free reads
// and writes against the durable store (each handler opens its own short
// transaction), distinct from the longer-lived unit of work the matching
// attempt itself uses.
func New(db *sql.DB, queue *queuestore.Store, publisher *broker.Broker, admission *ratelimit.Limiter) *Server {
	return &Server{db: db, queue: queue, publisher: publisher, admission: admission}
}

// Mux builds the route table on the standard library's http.ServeMux,
// keyed by path only, rather than a router framework; each handler
// checks the request method itself where it matters.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/match/toggle", s.handleToggle)
	mux.HandleFunc("/api/v0/check_match", s.handleCheckMatch)
	mux.HandleFunc("/api/v0/cancel_match", s.handleCancelMatch)
	mux.HandleFunc("/api/v0/queue/status", s.handleQueueStatus)
	mux.HandleFunc("/api/v0/queue/{user_id}/status", s.handleQueueUserStatus)
	mux.HandleFunc("/api/v0/messages", s.handleMessages)
	mux.HandleFunc("/api/v0/health", s.handleHealth)
	mux.Handle("/api/v0/metrics", metrics.Handler())
	return mux
}

type toggleRequest struct {
	UserID   int64               `json:"user_id"`
	Username string              `json:"username"`
	Gender   string              `json:"gender"`
	LangCode string              `json:"lang_code"`
	Criteria toggleCriteriaInput `json:"criteria"`
	Cancel   bool                `json:"cancel,omitempty"`
}

type toggleCriteriaInput struct {
	Language string   `json:"language"`
	Fluency  int      `json:"fluency"`
	Topics   []string `json:"topics"`
	Dating   bool     `json:"dating"`
}

// handleToggle starts or cancels a user's search, publishing the
// corresponding MatchRequest to the broker.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if s.admission != nil {
		// A search start is charged more heavily than a cancel: it commits the
		// worker to repeated matching attempts on every retry cycle, while a
		// cancel is a single queue removal.
		rule := ratelimit.RuleToggleStart
		if req.Cancel {
			rule = ratelimit.RuleToggleCancel
		}
		allowed, err := s.admission.Allow(r.Context(), strconv.FormatInt(req.UserID, 10), rule)
		if err != nil {
			log.Printf("[httpapi] admission check error for user %d: %v", req.UserID, err)
		}
		if !allowed {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	status := domain.SearchStarted
	if req.Cancel {
		status = domain.SearchCanceled
	}

	criteria, err := domain.NewMatchCriteria(req.Criteria.Language, req.Criteria.Fluency, req.Criteria.Topics, req.Criteria.Dating)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := time.Now()
	request := domain.MatchRequest{
		UserID:      req.UserID,
		Username:    req.Username,
		Criteria:    criteria,
		Gender:      req.Gender,
		LangCode:    req.LangCode,
		Status:      status,
		CreatedAt:   now,
		CurrentTime: now,
	}

	if err := s.publisher.PublishMatchRequest(r.Context(), request, 0); err != nil {
		http.Error(w, "failed to enqueue request", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// handleCheckMatch polls the durable poll target written by
// internal/notify.
func (s *Server) handleCheckMatch(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid or missing user_id", http.StatusBadRequest)
		return
	}

	if s.admission != nil {
		allowed, err := s.admission.Allow(r.Context(), strconv.FormatInt(userID, 10), ratelimit.RuleCheckMatch)
		if err != nil {
			log.Printf("[httpapi] admission check error for user %d: %v", userID, err)
		}
		if !allowed {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	matchID, found, err := s.queue.GetMatchID(r.Context(), userID)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"matched":  found,
		"match_id": matchID,
	})
}

// handleCancelMatch marks a committed match aborted or exited.
func (s *Server) handleCancelMatch(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid or missing user_id", http.StatusBadRequest)
		return
	}
	isAborted := r.URL.Query().Get("is_aborted") == "true"

	matchID, found, err := s.queue.GetMatchID(r.Context(), userID)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "no active match for user", http.StatusNotFound)
		return
	}

	status := domain.MatchExited
	if isAborted {
		status = domain.MatchAborted
	}

	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	repo := matchstore.NewMatchRepository(tx)

	// Guard against a stale or corrupted Redis match-id mapping: only the
	// match's own participants may cancel it.
	existing, found, err := repo.Get(r.Context(), matchID)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if !found || !existing.ContainsUser(userID) {
		http.Error(w, "no active match for user", http.StatusNotFound)
		return
	}

	rows, err := repo.Update(r.Context(), matchID, status)
	if err != nil {
		http.Error(w, "update failed", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(); err != nil {
		http.Error(w, "commit failed", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]any{"updated": rows > 0, "status": status})
}

// handleQueueStatus reports the current queue depth. Unlike the other
// endpoints it has no user_id to key on, so admission is keyed by caller
// address — this is a diagnostic endpoint, not part of the matching path.
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if s.admission != nil {
		allowed, err := s.admission.Allow(r.Context(), r.RemoteAddr, ratelimit.RuleQueueStatus)
		if err != nil {
			log.Printf("[httpapi] admission check error for %s: %v", r.RemoteAddr, err)
		}
		if !allowed {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	size, err := s.queue.GetQueueSize(r.Context())
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]int64{"queue_size": size})
}

// handleQueueUserStatus reports whether a specific user is currently
// searching.
func (s *Server) handleQueueUserStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("user_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid or missing user_id", http.StatusBadRequest)
		return
	}
	if s.admission != nil {
		allowed, err := s.admission.Allow(r.Context(), strconv.FormatInt(userID, 10), ratelimit.RuleQueueStatus)
		if err != nil {
			log.Printf("[httpapi] admission check error for user %d: %v", userID, err)
		}
		if !allowed {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	searching, err := s.queue.IsSearching(r.Context(), userID)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]bool{"searching": searching})
}

// handleMessages lists or appends chat-history rows for a room.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listMessages(w, r)
	case http.MethodPost:
		s.addMessage(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		http.Error(w, "missing room_id", http.StatusBadRequest)
		return
	}

	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	messages, err := matchstore.NewMessageRepository(tx).List(r.Context(), roomID)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(messages)
}

type addMessageRequest struct {
	RoomID   string `json:"room_id"`
	SenderID int64  `json:"sender_id"`
	Text     string `json:"text"`
}

func (s *Server) addMessage(w http.ResponseWriter, r *http.Request) {
	var req addMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RoomID == "" || req.Text == "" {
		http.Error(w, "room_id and text are required", http.StatusBadRequest)
		return
	}

	message := domain.Message{
		MessageID: uuid.New().String(),
		RoomID:    req.RoomID,
		SenderID:  req.SenderID,
		Text:      req.Text,
		CreatedAt: time.Now(),
	}

	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	if err := matchstore.NewMessageRepository(tx).Add(r.Context(), message); err != nil {
		http.Error(w, "insert failed", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(); err != nil {
		http.Error(w, "commit failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(message)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
