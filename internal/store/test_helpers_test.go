package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/flowguard/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession returns a requested, unpaid session starting two days
// after t0.
func createTestSession(id string) *domain.Session {
	return &domain.Session{
		ID:               id,
		ClientID:         "client-1",
		TherapistID:      "therapist-1",
		SessionType:      "individual",
		ScheduledAt:      t0.Add(48 * time.Hour),
		DurationMinutes:  50,
		Price:            3000,
		Currency:         "KES",
		PaymentChangedAt: t0,
		StatusChangedAt:  t0,
		VideoChangedAt:   t0,
		RefundChangedAt:  t0,
		Version:          1,
		CreatedAt:        t0,
		UpdatedAt:        t0,
	}
}

func insertTestSession(t *testing.T, s *Store, sess *domain.Session) {
	t.Helper()
	ctx := t.Context()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer tx.Rollback()
	if err := tx.InsertSession(ctx, sess); err != nil {
		t.Fatalf("InsertSession() failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}
