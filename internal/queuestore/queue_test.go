package queuestore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aungmyo/matchworker/internal/domain"
)

// setupTestStore creates a Store connected to a test Redis instance.
// Requires Redis running on localhost:6379. Tests are skipped if unavailable.
func setupTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   14, // separate DB from the other packages' Redis-backed tests
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}

	rdb.FlushDB(ctx)
	t.Cleanup(func() {
		rdb.FlushDB(ctx)
		rdb.Close()
	})

	return New(rdb, time.Hour, time.Hour), ctx
}

func testUser(t *testing.T, id int64, lang string, fluency int, topics []string) domain.User {
	t.Helper()
	criteria, err := domain.NewMatchCriteria(lang, fluency, topics, false)
	if err != nil {
		t.Fatalf("NewMatchCriteria: %v", err)
	}
	return domain.User{
		UserID:    id,
		Username:  "user",
		Criteria:  criteria,
		Gender:    "u",
		LangCode:  lang,
		CreatedAt: time.Now(),
		Status:    domain.StatusWaiting,
	}
}

func TestAddToQueue_DuplicateRejected(t *testing.T) {
	s, ctx := setupTestStore(t)
	u := testUser(t, 1, "en", 5, []string{"music"})

	if err := s.AddToQueue(ctx, u); err != nil {
		t.Fatalf("first AddToQueue: %v", err)
	}
	err := s.AddToQueue(ctx, u)
	if !errors.Is(err, domain.ErrUserAlreadyInSearch) {
		t.Fatalf("AddToQueue duplicate = %v, want ErrUserAlreadyInSearch", err)
	}
}

func TestIsSearchingAndQueueSize(t *testing.T) {
	s, ctx := setupTestStore(t)
	u := testUser(t, 2, "en", 5, []string{"music"})

	searching, err := s.IsSearching(ctx, u.UserID)
	if err != nil {
		t.Fatalf("IsSearching: %v", err)
	}
	if searching {
		t.Fatal("expected not searching before enqueue")
	}

	if err := s.AddToQueue(ctx, u); err != nil {
		t.Fatalf("AddToQueue: %v", err)
	}

	searching, err = s.IsSearching(ctx, u.UserID)
	if err != nil {
		t.Fatalf("IsSearching: %v", err)
	}
	if !searching {
		t.Fatal("expected searching after enqueue")
	}

	size, err := s.GetQueueSize(ctx)
	if err != nil {
		t.Fatalf("GetQueueSize: %v", err)
	}
	if size != 1 {
		t.Fatalf("queue size = %d, want 1", size)
	}
}

func TestRemoveFromQueue(t *testing.T) {
	s, ctx := setupTestStore(t)
	u := testUser(t, 3, "en", 5, []string{"music"})

	if err := s.AddToQueue(ctx, u); err != nil {
		t.Fatalf("AddToQueue: %v", err)
	}
	if err := s.RemoveFromQueue(ctx, u.UserID); err != nil {
		t.Fatalf("RemoveFromQueue: %v", err)
	}

	searching, err := s.IsSearching(ctx, u.UserID)
	if err != nil {
		t.Fatalf("IsSearching: %v", err)
	}
	if searching {
		t.Fatal("expected not searching after remove")
	}

	_, found, err := s.FindByID(ctx, u.UserID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if found {
		t.Fatal("expected user record gone after remove")
	}
}

func TestFindAndReserveMatch_PrefilterAndAtomicRemoval(t *testing.T) {
	s, ctx := setupTestStore(t)

	older := testUser(t, 10, "en", 5, []string{"music"})
	younger := testUser(t, 11, "en", 6, []string{"sports"})
	incompatibleLang := testUser(t, 12, "fr", 5, []string{"music"})

	for _, u := range []domain.User{older, younger, incompatibleLang} {
		if err := s.AddToQueue(ctx, u); err != nil {
			t.Fatalf("AddToQueue(%d): %v", u.UserID, err)
		}
	}

	seeker := testUser(t, 99, "en", 5, []string{"music"})
	if err := s.AddToQueue(ctx, seeker); err != nil {
		t.Fatalf("AddToQueue(seeker): %v", err)
	}

	candidate, ok, err := s.FindAndReserveMatch(ctx, seeker)
	if err != nil {
		t.Fatalf("FindAndReserveMatch: %v", err)
	}
	if !ok {
		t.Fatal("expected a reserved candidate")
	}
	if candidate.UserID == incompatibleLang.UserID {
		t.Fatalf("prefilter should have excluded different-language candidate %d", candidate.UserID)
	}

	seekerSearching, err := s.IsSearching(ctx, seeker.UserID)
	if err != nil {
		t.Fatalf("IsSearching(seeker): %v", err)
	}
	if seekerSearching {
		t.Fatal("seeker should be removed from queue after reservation")
	}

	candidateSearching, err := s.IsSearching(ctx, candidate.UserID)
	if err != nil {
		t.Fatalf("IsSearching(candidate): %v", err)
	}
	if candidateSearching {
		t.Fatal("reserved candidate should be removed from queue")
	}
}

func TestFindAndReserveMatch_SeekerNotQueuedReturnsNothing(t *testing.T) {
	s, ctx := setupTestStore(t)
	seeker := testUser(t, 20, "en", 5, []string{"music"})

	_, ok, err := s.FindAndReserveMatch(ctx, seeker)
	if err != nil {
		t.Fatalf("FindAndReserveMatch: %v", err)
	}
	if ok {
		t.Fatal("expected no candidate when seeker itself is not queued")
	}
}

// TestFindAndReserveMatch_ConcurrentRaceHasExactlyOneWinner is the loser-race
// scenario: two workers independently scan the waiting list, both see the
// same pair, and both try to reserve it at the same instant. The atomic Lua
// reservation must let exactly one through.
func TestFindAndReserveMatch_ConcurrentRaceHasExactlyOneWinner(t *testing.T) {
	s, ctx := setupTestStore(t)

	a := testUser(t, 40, "en", 5, []string{"music"})
	b := testUser(t, 41, "en", 5, []string{"music"})
	for _, u := range []domain.User{a, b} {
		if err := s.AddToQueue(ctx, u); err != nil {
			t.Fatalf("AddToQueue(%d): %v", u.UserID, err)
		}
	}

	const racers = 2
	var (
		wg      sync.WaitGroup
		wins    int64
		errCh   = make(chan error, racers)
		winners = make([]int64, racers)
	)

	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(i int) {
			defer wg.Done()
			candidate, ok, err := s.FindAndReserveMatch(ctx, a)
			if err != nil {
				errCh <- err
				return
			}
			if ok {
				atomic.AddInt64(&wins, 1)
				winners[i] = candidate.UserID
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("FindAndReserveMatch: %v", err)
	}

	if wins != 1 {
		t.Fatalf("expected exactly one goroutine to win the reservation, got %d", wins)
	}

	seekerSearching, err := s.IsSearching(ctx, a.UserID)
	if err != nil {
		t.Fatalf("IsSearching(seeker): %v", err)
	}
	if seekerSearching {
		t.Fatal("seeker should be removed from queue after the winning reservation")
	}
	candidateSearching, err := s.IsSearching(ctx, b.UserID)
	if err != nil {
		t.Fatalf("IsSearching(candidate): %v", err)
	}
	if candidateSearching {
		t.Fatal("candidate should be removed from queue after the winning reservation")
	}
}

func TestReserveAndGetMatchID(t *testing.T) {
	s, ctx := setupTestStore(t)

	_, found, err := s.GetMatchID(ctx, 1)
	if err != nil {
		t.Fatalf("GetMatchID: %v", err)
	}
	if found {
		t.Fatal("expected no match id before reservation")
	}

	if err := s.ReserveMatchID(ctx, 1, "match-123"); err != nil {
		t.Fatalf("ReserveMatchID: %v", err)
	}

	matchID, found, err := s.GetMatchID(ctx, 1)
	if err != nil {
		t.Fatalf("GetMatchID: %v", err)
	}
	if !found || matchID != "match-123" {
		t.Fatalf("GetMatchID = (%q, %v), want (match-123, true)", matchID, found)
	}
}

func TestUpdateUserCriteria(t *testing.T) {
	s, ctx := setupTestStore(t)
	u := testUser(t, 30, "en", 5, []string{"music"})

	if err := s.Save(ctx, u); err != nil {
		t.Fatalf("Save: %v", err)
	}

	relaxed := u.Criteria.Relax(5)
	if err := s.UpdateUserCriteria(ctx, u.UserID, relaxed); err != nil {
		t.Fatalf("UpdateUserCriteria: %v", err)
	}

	loaded, found, err := s.FindByID(ctx, u.UserID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if !found {
		t.Fatal("expected user record to exist")
	}
	if len(loaded.Criteria.Topics) != len(relaxed.Topics) {
		t.Fatalf("criteria not updated: got topics %v, want %v", loaded.Criteria.Topics, relaxed.Topics)
	}
}
