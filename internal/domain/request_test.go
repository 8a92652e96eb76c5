package domain

import (
	"errors"
	"testing"
	"time"
)

func validCriteria(t *testing.T) MatchCriteria {
	t.Helper()
	c, err := NewMatchCriteria("en", 5, []string{"music"}, false)
	if err != nil {
		t.Fatalf("NewMatchCriteria: %v", err)
	}
	return c
}

func TestParseMatchRequest_RoundTrip(t *testing.T) {
	original := MatchRequest{
		UserID:      7,
		Username:    "alice",
		Criteria:    validCriteria(t),
		Gender:      "f",
		LangCode:    "en-US",
		Status:      SearchStarted,
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		CurrentTime: time.Date(2026, 1, 2, 3, 5, 5, 0, time.UTC),
		Source:      "worker_service",
		RetryCount:  2,
	}

	data, err := original.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	decoded, err := ParseMatchRequest(data)
	if err != nil {
		t.Fatalf("ParseMatchRequest: %v", err)
	}

	if decoded.UserID != original.UserID {
		t.Errorf("UserID: got %d, want %d", decoded.UserID, original.UserID)
	}
	if decoded.Username != original.Username {
		t.Errorf("Username: got %q, want %q", decoded.Username, original.Username)
	}
	if decoded.Gender != original.Gender {
		t.Errorf("Gender: got %q, want %q", decoded.Gender, original.Gender)
	}
	if decoded.LangCode != original.LangCode {
		t.Errorf("LangCode: got %q, want %q", decoded.LangCode, original.LangCode)
	}
	if decoded.Status != original.Status {
		t.Errorf("Status: got %q, want %q", decoded.Status, original.Status)
	}
	if decoded.Source != original.Source {
		t.Errorf("Source: got %q, want %q", decoded.Source, original.Source)
	}
	if decoded.RetryCount != original.RetryCount {
		t.Errorf("RetryCount: got %d, want %d", decoded.RetryCount, original.RetryCount)
	}
	if !decoded.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("CreatedAt: got %v, want %v", decoded.CreatedAt, original.CreatedAt)
	}
	if !decoded.CurrentTime.Equal(original.CurrentTime) {
		t.Errorf("CurrentTime: got %v, want %v", decoded.CurrentTime, original.CurrentTime)
	}

	if decoded.Criteria.Language != original.Criteria.Language {
		t.Errorf("Criteria.Language: got %q, want %q", decoded.Criteria.Language, original.Criteria.Language)
	}
	if decoded.Criteria.Fluency != original.Criteria.Fluency {
		t.Errorf("Criteria.Fluency: got %d, want %d", decoded.Criteria.Fluency, original.Criteria.Fluency)
	}
	if decoded.Criteria.Dating != original.Criteria.Dating {
		t.Errorf("Criteria.Dating: got %v, want %v", decoded.Criteria.Dating, original.Criteria.Dating)
	}
	if len(decoded.Criteria.Topics) != len(original.Criteria.Topics) {
		t.Fatalf("Criteria.Topics length: got %d, want %d", len(decoded.Criteria.Topics), len(original.Criteria.Topics))
	}
	for i := range original.Criteria.Topics {
		if decoded.Criteria.Topics[i] != original.Criteria.Topics[i] {
			t.Errorf("Criteria.Topics[%d]: got %q, want %q", i, decoded.Criteria.Topics[i], original.Criteria.Topics[i])
		}
	}
}

func TestParseMatchRequest_DefaultsSourceAndStatus(t *testing.T) {
	input := []byte(`{
		"user_id": 1,
		"username": "bob",
		"gender": "m",
		"criteria": {"language": "en", "fluency": 5, "topics": ["music"]},
		"lang_code": "en",
		"created_at": "2026-01-01T00:00:00Z"
	}`)

	req, err := ParseMatchRequest(input)
	if err != nil {
		t.Fatalf("ParseMatchRequest: %v", err)
	}
	if req.Source != defaultSource {
		t.Errorf("expected default source %q, got %q", defaultSource, req.Source)
	}
	if req.Status != SearchStarted {
		t.Errorf("expected default status %q, got %q", SearchStarted, req.Status)
	}
	if !req.CurrentTime.Equal(req.CreatedAt) {
		t.Errorf("expected current_time to default to created_at, got %v vs %v", req.CurrentTime, req.CreatedAt)
	}
}

func TestParseMatchRequest_InvalidJSON(t *testing.T) {
	if _, err := ParseMatchRequest([]byte("not json")); err == nil {
		t.Fatal("expected an error for malformed JSON, got nil")
	}
}

func TestParseMatchRequest_InvalidCriteria(t *testing.T) {
	input := []byte(`{
		"user_id": 1,
		"username": "bob",
		"gender": "m",
		"criteria": {"language": "", "fluency": 5, "topics": ["music"]},
		"lang_code": "en",
		"created_at": "2026-01-01T00:00:00Z"
	}`)

	_, err := ParseMatchRequest(input)
	if !errors.Is(err, ErrInvalidCriteria) {
		t.Fatalf("expected ErrInvalidCriteria, got %v", err)
	}
}

func TestParseMatchRequest_InvalidCreatedAt(t *testing.T) {
	input := []byte(`{
		"user_id": 1,
		"criteria": {"language": "en", "fluency": 5, "topics": ["music"]},
		"created_at": "not-a-timestamp"
	}`)

	if _, err := ParseMatchRequest(input); err == nil {
		t.Fatal("expected an error for malformed created_at, got nil")
	}
}

func TestMatchRequest_WithRelaxedCriteria(t *testing.T) {
	now := time.Now()
	req := MatchRequest{
		Criteria:    validCriteria(t),
		CreatedAt:   now.Add(-time.Minute),
		CurrentTime: now.Add(-time.Minute),
		RetryCount:  2,
	}

	relaxed := req.WithRelaxedCriteria(now)

	if relaxed.RetryCount != req.RetryCount+1 {
		t.Errorf("expected retry_count incremented, got %d", relaxed.RetryCount)
	}
	if !relaxed.CurrentTime.Equal(now) {
		t.Errorf("expected current_time refreshed to now, got %v", relaxed.CurrentTime)
	}
	if relaxed.Criteria.Dating != req.Criteria.Relax(req.RetryCount).Dating {
		t.Errorf("expected criteria relaxed using the original retry_count")
	}

	// The original request must be untouched (value receiver, no aliasing).
	if req.RetryCount != 2 {
		t.Errorf("WithRelaxedCriteria mutated the receiver's retry_count: got %d", req.RetryCount)
	}
}

func TestMatchRequest_WithCurrentTime(t *testing.T) {
	now := time.Now()
	req := MatchRequest{CreatedAt: now.Add(-time.Hour), CurrentTime: now.Add(-time.Hour), RetryCount: 3}

	updated := req.WithCurrentTime(now)

	if !updated.CurrentTime.Equal(now) {
		t.Errorf("expected current_time refreshed, got %v", updated.CurrentTime)
	}
	if updated.RetryCount != req.RetryCount {
		t.Errorf("expected retry_count untouched, got %d, want %d", updated.RetryCount, req.RetryCount)
	}
}

func TestMatchRequest_WithError(t *testing.T) {
	req := MatchRequest{}
	errored := req.WithError("boom")

	if errored.ErrorMessage != "boom" {
		t.Errorf("expected error_message set, got %q", errored.ErrorMessage)
	}
	if req.ErrorMessage != "" {
		t.Errorf("WithError mutated the receiver, got %q", req.ErrorMessage)
	}
}

func TestMatchRequest_Elapsed(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	req := MatchRequest{CreatedAt: created, CurrentTime: created.Add(90 * time.Second)}

	if got := req.Elapsed(); got != 90*time.Second {
		t.Fatalf("Elapsed() = %v, want 90s", got)
	}
}

func TestNewMatch_RejectsSelfMatch(t *testing.T) {
	u := User{UserID: 5, Criteria: validCriteria(t)}

	_, err := NewMatch(u, u, 0.8, time.Now())
	if !errors.Is(err, ErrIncompatibleUsers) {
		t.Fatalf("expected ErrIncompatibleUsers for a self-match, got %v", err)
	}
}

func TestNewMatch_RejectsScoreOutOfRange(t *testing.T) {
	u1 := User{UserID: 1, Criteria: validCriteria(t)}
	u2 := User{UserID: 2, Criteria: validCriteria(t)}

	if _, err := NewMatch(u1, u2, -0.1, time.Now()); err == nil {
		t.Fatal("expected an error for a negative score, got nil")
	}
	if _, err := NewMatch(u1, u2, 1.1, time.Now()); err == nil {
		t.Fatal("expected an error for a score above 1, got nil")
	}
}

func TestCreateMatch_RejectsIncompatibleUsers(t *testing.T) {
	en, err := NewMatchCriteria("en", 5, []string{"music"}, false)
	if err != nil {
		t.Fatalf("NewMatchCriteria: %v", err)
	}
	fr, err := NewMatchCriteria("fr", 5, []string{"music"}, false)
	if err != nil {
		t.Fatalf("NewMatchCriteria: %v", err)
	}

	u1 := User{UserID: 1, Criteria: en}
	u2 := User{UserID: 2, Criteria: fr}

	_, err = CreateMatch(u1, u2, 0.8, time.Now())
	if !errors.Is(err, ErrIncompatibleUsers) {
		t.Fatalf("expected ErrIncompatibleUsers for different-language users, got %v", err)
	}
}

func TestCreateMatch_Succeeds(t *testing.T) {
	u1 := User{UserID: 1, Criteria: validCriteria(t)}
	u2 := User{UserID: 2, Criteria: validCriteria(t)}

	now := time.Now()
	match, err := CreateMatch(u1, u2, 0.9, now)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if match.MatchID == "" || match.RoomID == "" {
		t.Fatal("expected MatchID and RoomID to be generated")
	}
	if match.Status != MatchActive {
		t.Fatalf("expected status %q, got %q", MatchActive, match.Status)
	}
	if !match.ContainsUser(u1.UserID) || !match.ContainsUser(u2.UserID) {
		t.Fatal("expected both participants to be recognized by ContainsUser")
	}
	partner, ok := match.GetPartner(u1.UserID)
	if !ok || partner.UserID != u2.UserID {
		t.Fatalf("GetPartner(%d) = (%+v, %v), want u2", u1.UserID, partner, ok)
	}
	if _, ok := match.GetPartner(999); ok {
		t.Fatal("expected GetPartner to return false for a non-participant")
	}
}
