package statestore

import (
	"testing"
	"time"

	"github.com/aungmyo/matchworker/internal/domain"
)

func TestSaveAndGetState(t *testing.T) {
	s := New(10, time.Minute)
	now := time.Now()

	s.SaveState(domain.UserState{UserID: 1, Status: domain.StatusWaiting, CreatedAt: now, LastUpdated: now})

	got, ok := s.GetState(1, now)
	if !ok {
		t.Fatal("expected state to be found")
	}
	if got.UserID != 1 {
		t.Fatalf("got user_id %d, want 1", got.UserID)
	}
}

func TestGetState_ExpiredEvictsAndReturnsFalse(t *testing.T) {
	s := New(10, time.Minute)
	now := time.Now()

	s.SaveState(domain.UserState{UserID: 1, Status: domain.StatusWaiting, CreatedAt: now})

	later := now.Add(2 * time.Minute)
	_, ok := s.GetState(1, later)
	if ok {
		t.Fatal("expected expired state to be absent")
	}

	// Second call must also report absent — confirms the expired entry
	// was actually evicted, not just skipped.
	_, ok = s.GetState(1, later)
	if ok {
		t.Fatal("expected state to remain evicted")
	}
}

func TestSaveState_EvictsLeastRecentlyUsedOnOverflow(t *testing.T) {
	s := New(2, time.Hour)
	now := time.Now()

	s.SaveState(domain.UserState{UserID: 1, CreatedAt: now})
	s.SaveState(domain.UserState{UserID: 2, CreatedAt: now})

	// Touch 1 so it becomes most-recently-used; 2 becomes the LRU victim.
	if _, ok := s.GetState(1, now); !ok {
		t.Fatal("expected state 1 present")
	}

	s.SaveState(domain.UserState{UserID: 3, CreatedAt: now})

	if _, ok := s.GetState(2, now); ok {
		t.Fatal("expected state 2 to have been evicted as LRU")
	}
	if _, ok := s.GetState(1, now); !ok {
		t.Fatal("expected state 1 to survive eviction")
	}
	if _, ok := s.GetState(3, now); !ok {
		t.Fatal("expected newly inserted state 3 to be present")
	}
}

func TestUpdateState_RefreshesStatus(t *testing.T) {
	s := New(10, time.Hour)
	now := time.Now()

	s.SaveState(domain.UserState{UserID: 1, Status: domain.StatusWaiting, CreatedAt: now})
	s.UpdateState(1, domain.StatusMatched, now.Add(time.Second))

	got, ok := s.GetState(1, now.Add(time.Second))
	if !ok {
		t.Fatal("expected state present")
	}
	if got.Status != domain.StatusMatched {
		t.Fatalf("status = %v, want %v", got.Status, domain.StatusMatched)
	}
}

func TestDeleteState(t *testing.T) {
	s := New(10, time.Hour)
	now := time.Now()

	s.SaveState(domain.UserState{UserID: 1, CreatedAt: now})
	s.DeleteState(1)

	if _, ok := s.GetState(1, now); ok {
		t.Fatal("expected state deleted")
	}
}

func TestCleanupExpired_RemovesOnlyExpiredEntries(t *testing.T) {
	s := New(10, 30*time.Second)
	now := time.Now()

	s.SaveState(domain.UserState{UserID: 1, CreatedAt: now})
	s.SaveState(domain.UserState{UserID: 2, CreatedAt: now.Add(-time.Minute)})

	removed := s.cleanupExpired(now)
	if removed != 1 {
		t.Fatalf("cleanupExpired removed %d, want 1", removed)
	}

	if _, ok := s.GetState(1, now); !ok {
		t.Fatal("expected fresh state 1 to survive cleanup")
	}
	if _, ok := s.GetState(2, now); ok {
		t.Fatal("expected expired state 2 to be gone")
	}
}
