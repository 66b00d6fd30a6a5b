package resume

import (
	"testing"
	"time"

	"github.com/vibrato-audio/vibrato/internal/scrobble"
)

func TestLastfmSession_NotLinked(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	s := &Store{db: db}

	session, err := s.LastfmSession()
	if err != nil {
		t.Fatalf("LastfmSession failed: %v", err)
	}
	if session != nil {
		t.Errorf("expected nil session on empty db, got %+v", session)
	}
}

func TestSaveAndGetLastfmSession(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	s := &Store{db: db}

	if err := s.SaveLastfmSession("alice", "key-1"); err != nil {
		t.Fatalf("SaveLastfmSession failed: %v", err)
	}

	session, err := s.LastfmSession()
	if err != nil {
		t.Fatalf("LastfmSession failed: %v", err)
	}
	if session == nil {
		t.Fatal("expected session, got nil")
	}
	if session.Username != "alice" {
		t.Errorf("Username = %q, want %q", session.Username, "alice")
	}
	if session.SessionKey != "key-1" {
		t.Errorf("SessionKey = %q, want %q", session.SessionKey, "key-1")
	}
	if session.LinkedAt.IsZero() {
		t.Error("LinkedAt is zero")
	}

	// Re-linking replaces the stored session.
	if err := s.SaveLastfmSession("bob", "key-2"); err != nil {
		t.Fatalf("SaveLastfmSession failed: %v", err)
	}
	session, _ = s.LastfmSession()
	if session.Username != "bob" || session.SessionKey != "key-2" {
		t.Errorf("after re-link session = %+v, want bob/key-2", session)
	}
}

func TestDeleteLastfmSession(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	s := &Store{db: db}

	_ = s.SaveLastfmSession("alice", "key-1")
	if err := s.DeleteLastfmSession(); err != nil {
		t.Fatalf("DeleteLastfmSession failed: %v", err)
	}

	session, err := s.LastfmSession()
	if err != nil {
		t.Fatalf("LastfmSession failed: %v", err)
	}
	if session != nil {
		t.Errorf("expected nil session after unlink, got %+v", session)
	}
}

func TestAddAndListPendingScrobbles(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	s := &Store{db: db}

	ts := time.Now().Add(-time.Minute).Truncate(time.Second)
	track := scrobble.Track{
		Artist:    "Artist",
		Title:     "Track",
		Duration:  3 * time.Minute,
		Timestamp: ts,
	}

	if err := s.AddPendingScrobble(track); err != nil {
		t.Fatalf("AddPendingScrobble failed: %v", err)
	}
	if err := s.AddPendingScrobble(scrobble.Track{Artist: "Other", Title: "Second", Timestamp: ts}); err != nil {
		t.Fatalf("AddPendingScrobble failed: %v", err)
	}

	pending, err := s.PendingScrobbles()
	if err != nil {
		t.Fatalf("PendingScrobbles failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending scrobbles, got %d", len(pending))
	}

	got := pending[0]
	if got.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if got.Track.Artist != "Artist" || got.Track.Title != "Track" {
		t.Errorf("track = %+v", got.Track)
	}
	if got.Track.Duration != 3*time.Minute {
		t.Errorf("Duration = %v, want 3m", got.Track.Duration)
	}
	if !got.Track.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got.Track.Timestamp, ts)
	}
	if got.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", got.Attempts)
	}
}

func TestDeletePendingScrobble(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	s := &Store{db: db}

	_ = s.AddPendingScrobble(scrobble.Track{Artist: "A", Title: "T", Timestamp: time.Now()})
	pending, _ := s.PendingScrobbles()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending scrobble, got %d", len(pending))
	}

	if err := s.DeletePendingScrobble(pending[0].ID); err != nil {
		t.Fatalf("DeletePendingScrobble failed: %v", err)
	}

	pending, _ = s.PendingScrobbles()
	if len(pending) != 0 {
		t.Errorf("expected empty queue after delete, got %d", len(pending))
	}
}

func TestRecordScrobbleAttempt(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	s := &Store{db: db}

	_ = s.AddPendingScrobble(scrobble.Track{Artist: "A", Title: "T", Timestamp: time.Now()})
	pending, _ := s.PendingScrobbles()
	id := pending[0].ID

	if err := s.RecordScrobbleAttempt(id, "connection error"); err != nil {
		t.Fatalf("RecordScrobbleAttempt failed: %v", err)
	}
	pending, _ = s.PendingScrobbles()
	if pending[0].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", pending[0].Attempts)
	}

	_ = s.RecordScrobbleAttempt(id, "timeout")
	pending, _ = s.PendingScrobbles()
	if pending[0].Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 after second failure", pending[0].Attempts)
	}
}

func TestPrunePendingScrobbles(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	s := &Store{db: db}

	_ = s.AddPendingScrobble(scrobble.Track{Artist: "A", Title: "T", Timestamp: time.Now()})

	// A recent entry survives the prune.
	if err := s.PrunePendingScrobbles(time.Hour); err != nil {
		t.Fatalf("PrunePendingScrobbles failed: %v", err)
	}
	pending, _ := s.PendingScrobbles()
	if len(pending) != 1 {
		t.Errorf("expected recent scrobble to be kept, got %d", len(pending))
	}

	// Age the entry past the cutoff.
	_, _ = db.Exec(`UPDATE lastfm_pending_scrobbles SET created_at = ?`, time.Now().Add(-2*time.Hour).Unix())

	if err := s.PrunePendingScrobbles(time.Hour); err != nil {
		t.Fatalf("PrunePendingScrobbles failed: %v", err)
	}
	pending, _ = s.PendingScrobbles()
	if len(pending) != 0 {
		t.Errorf("expected old scrobble to be pruned, got %d", len(pending))
	}
}
