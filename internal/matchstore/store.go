// Package matchstore is the durable, transactional home for committed
// matches and their chat history. Every operation runs against a
// *sql.Tx handed to it by the unit of work; nothing here opens its own
// transaction or commits.
package matchstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/aungmyo/matchworker/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for a unique-constraint
// violation (match_id collisions on insert).
const uniqueViolation = "23505"

// MatchRepository persists Matches within a single unit-of-work
// transaction.
type MatchRepository struct {
	tx *sql.Tx
}

// NewMatchRepository wraps tx. The caller (unit of work) owns the
// transaction's lifetime.
func NewMatchRepository(tx *sql.Tx) *MatchRepository {
	return &MatchRepository{tx: tx}
}

// Add stages match for commit. Each participant gets a fresh
// criteria_matches row and an upserted user_infos row (an existing row
// has its criteria_id and status replaced). A unique-constraint
// violation on match_id is retried once under match_id + "-retry"
// before failing terminally.
func (r *MatchRepository) Add(ctx context.Context, match domain.Match) error {
	user1Key, err := r.upsertUser(ctx, match.User1)
	if err != nil {
		return fmt.Errorf("matchstore: upsert user1: %w", err)
	}
	user2Key, err := r.upsertUser(ctx, match.User2)
	if err != nil {
		return fmt.Errorf("matchstore: upsert user2: %w", err)
	}

	const insert = `
		INSERT INTO match_sessions
			(match_id, user1_id, user2_id, room_id, compatibility_score, created_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	// A failed statement aborts the whole Postgres transaction, so the
	// insert runs under a savepoint that a collision can roll back to.
	if _, err := r.tx.ExecContext(ctx, "SAVEPOINT match_insert"); err != nil {
		return fmt.Errorf("matchstore: savepoint: %w", err)
	}

	_, err = r.tx.ExecContext(ctx, insert,
		match.MatchID, user1Key, user2Key, match.RoomID,
		match.CompatibilityScore, match.CreatedAt, string(match.Status))
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		if _, rbErr := r.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT match_insert"); rbErr != nil {
			return fmt.Errorf("matchstore: rollback to savepoint: %w", rbErr)
		}
		// Retry once under a derived match_id; a second
		// collision is treated as terminal rather than looping forever.
		retryID := match.MatchID + "-retry"
		_, retryErr := r.tx.ExecContext(ctx, insert,
			retryID, user1Key, user2Key, match.RoomID,
			match.CompatibilityScore, match.CreatedAt, string(match.Status))
		if retryErr != nil {
			return fmt.Errorf("matchstore: insert match after retry: %w", retryErr)
		}
		return nil
	}

	return fmt.Errorf("matchstore: insert match: %w", err)
}

// upsertUser ensures user has a criteria_matches row and a user_infos
// row keyed by its merge_key (the stringified user_id), returning that
// key.
func (r *MatchRepository) upsertUser(ctx context.Context, user domain.User) (string, error) {
	mergeKey := strconv.FormatInt(user.UserID, 10)

	var criteriaID int64
	const insertCriteria = `
		INSERT INTO criteria_matches (language, fluency, topics, dating)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	err := r.tx.QueryRowContext(ctx, insertCriteria,
		user.Criteria.Language, user.Criteria.Fluency,
		pq.Array(user.Criteria.Topics), user.Criteria.Dating,
	).Scan(&criteriaID)
	if err != nil {
		return "", fmt.Errorf("insert criteria: %w", err)
	}

	const upsertUser = `
		INSERT INTO user_infos (merge_key, user_id, username, criteria_id, gender, lang_code, created_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (merge_key) DO UPDATE SET
			criteria_id = EXCLUDED.criteria_id,
			status      = EXCLUDED.status`
	_, err = r.tx.ExecContext(ctx, upsertUser,
		mergeKey, user.UserID, user.Username, criteriaID,
		user.Gender, user.LangCode, user.CreatedAt, string(user.Status))
	if err != nil {
		return "", fmt.Errorf("upsert user_infos: %w", err)
	}

	return mergeKey, nil
}

// Get loads a Match by its opaque match_id. Returns (Match{}, false, nil)
// if not found.
func (r *MatchRepository) Get(ctx context.Context, matchID string) (domain.Match, bool, error) {
	const query = `
		SELECT m.match_id, m.room_id, m.compatibility_score, m.created_at, m.status,
		       u1.user_id, u1.username, u1.gender, u1.lang_code, u1.created_at, u1.status,
		       c1.language, c1.fluency, c1.topics, c1.dating,
		       u2.user_id, u2.username, u2.gender, u2.lang_code, u2.created_at, u2.status,
		       c2.language, c2.fluency, c2.topics, c2.dating
		FROM match_sessions m
		JOIN user_infos u1 ON u1.merge_key = m.user1_id
		JOIN criteria_matches c1 ON c1.id = u1.criteria_id
		JOIN user_infos u2 ON u2.merge_key = m.user2_id
		JOIN criteria_matches c2 ON c2.id = u2.criteria_id
		WHERE m.match_id = $1`

	row := r.tx.QueryRowContext(ctx, query, matchID)

	var (
		match                        domain.Match
		status                       string
		u1ID, u2ID                   int64
		u1Status, u2Status           string
		u1Topics, u2Topics           pq.StringArray
		u1Lang, u2Lang               string
		u1Fluency, u2Fluency         int
		u1Dating, u2Dating           bool
		u1Username, u2Username       string
		u1Gender, u2Gender           string
		u1LangCode, u2LangCode       string
		u1CreatedAt, u2CreatedAt     time.Time
	)

	err := row.Scan(
		&match.MatchID, &match.RoomID, &match.CompatibilityScore, &match.CreatedAt, &status,
		&u1ID, &u1Username, &u1Gender, &u1LangCode, &u1CreatedAt, &u1Status,
		&u1Lang, &u1Fluency, &u1Topics, &u1Dating,
		&u2ID, &u2Username, &u2Gender, &u2LangCode, &u2CreatedAt, &u2Status,
		&u2Lang, &u2Fluency, &u2Topics, &u2Dating,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Match{}, false, nil
	}
	if err != nil {
		return domain.Match{}, false, fmt.Errorf("matchstore: get match %s: %w", matchID, err)
	}

	match.Status = domain.MatchStatus(status)
	match.User1 = domain.User{
		UserID: u1ID, Username: u1Username, Gender: u1Gender, LangCode: u1LangCode,
		CreatedAt: u1CreatedAt, Status: domain.UserStatus(u1Status),
		Criteria: domain.MatchCriteria{Language: u1Lang, Fluency: u1Fluency, Topics: u1Topics, Dating: u1Dating},
	}
	match.User2 = domain.User{
		UserID: u2ID, Username: u2Username, Gender: u2Gender, LangCode: u2LangCode,
		CreatedAt: u2CreatedAt, Status: domain.UserStatus(u2Status),
		Criteria: domain.MatchCriteria{Language: u2Lang, Fluency: u2Fluency, Topics: u2Topics, Dating: u2Dating},
	}

	return match, true, nil
}

// Update sets match_id's status, returning the number of rows affected
// (0 if no such match exists).
func (r *MatchRepository) Update(ctx context.Context, matchID string, status domain.MatchStatus) (int64, error) {
	const query = `UPDATE match_sessions SET status = $1 WHERE match_id = $2`
	result, err := r.tx.ExecContext(ctx, query, string(status), matchID)
	if err != nil {
		return 0, fmt.Errorf("matchstore: update match %s: %w", matchID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("matchstore: rows affected for %s: %w", matchID, err)
	}
	return n, nil
}

// List returns every match_id in the store, for diagnostics only.
func (r *MatchRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT match_id FROM match_sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("matchstore: list matches: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("matchstore: scan match id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MessageRepository persists chat history for matched rooms, within the
// same unit-of-work transaction as MatchRepository.
type MessageRepository struct {
	tx *sql.Tx
}

// NewMessageRepository wraps tx.
func NewMessageRepository(tx *sql.Tx) *MessageRepository {
	return &MessageRepository{tx: tx}
}

// Add inserts message.
func (r *MessageRepository) Add(ctx context.Context, message domain.Message) error {
	const query = `
		INSERT INTO messages (message_id, room_id, sender_id, text, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.tx.ExecContext(ctx, query,
		message.MessageID, message.RoomID, message.SenderID, message.Text, message.CreatedAt)
	if err != nil {
		return fmt.Errorf("matchstore: insert message: %w", err)
	}
	return nil
}

// List returns all messages for roomID in chronological order.
func (r *MessageRepository) List(ctx context.Context, roomID string) ([]domain.Message, error) {
	const query = `
		SELECT message_id, room_id, sender_id, text, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at`
	rows, err := r.tx.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("matchstore: list messages for room %s: %w", roomID, err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.MessageID, &m.RoomID, &m.SenderID, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("matchstore: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
