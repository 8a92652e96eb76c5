// Package notify tells both sides of a resolved match that it exists:
// a best-effort NATS push for clients subscribed in real time, and a
// durable Redis key (internal/queuestore's reserve_match_id/get_match_id
// pair) that a client can poll even if it missed the push.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/aungmyo/matchworker/internal/domain"
	"github.com/aungmyo/matchworker/internal/queuestore"
)

// SubjectMatchFound is the NATS subject prefix for per-user push
// notifications: SubjectMatchFound + "." + userID.
const SubjectMatchFound = "match_found"

// matchFoundPayload is what each participant receives on their
// match_found.<user_id> subject.
type matchFoundPayload struct {
	MatchID   string  `json:"match_id"`
	RoomID    string  `json:"room_id"`
	PartnerID int64   `json:"partner_id"`
	Score     float64 `json:"compatibility_score"`
}

// Notifier implements usecase.Notifier: it always writes the durable
// poll target first, then attempts the push, since a dropped push is
// recoverable but a missing poll target is not.
type Notifier struct {
	conn  *nats.Conn
	queue *queuestore.Store
}

// New builds a Notifier. conn may be nil, in which case only the
// durable poll target is written and push delivery is skipped.
func New(conn *nats.Conn, queue *queuestore.Store) *Notifier {
	return &Notifier{conn: conn, queue: queue}
}

// NotifyMatch records match for both participants and, if a NATS
// connection is configured, pushes it to each.
func (n *Notifier) NotifyMatch(ctx context.Context, match domain.Match) error {
	participants := [2]int64{match.User1.UserID, match.User2.UserID}

	for _, userID := range participants {
		if err := n.queue.ReserveMatchID(ctx, userID, match.MatchID); err != nil {
			return fmt.Errorf("notify: reserve match id for %d: %w", userID, err)
		}
	}

	if n.conn == nil {
		return nil
	}

	for _, userID := range participants {
		partner, ok := match.GetPartner(userID)
		if !ok {
			continue
		}
		if err := n.push(userID, match.MatchID, match.RoomID, partner.UserID, match.CompatibilityScore); err != nil {
			log.Printf("[notify] push to user %d failed: %v", userID, err)
		}
	}

	return nil
}

func (n *Notifier) push(userID int64, matchID, roomID string, partnerID int64, score float64) error {
	payload := matchFoundPayload{MatchID: matchID, RoomID: roomID, PartnerID: partnerID, Score: score}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal push payload: %w", err)
	}
	subject := fmt.Sprintf("%s.%d", SubjectMatchFound, userID)
	return n.conn.Publish(subject, data)
}
