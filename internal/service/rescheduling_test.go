package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/integrity"
	"github.com/roach88/flowguard/internal/notify"
)

func TestRequestReschedule_NoticeDecidesApproval(t *testing.T) {
	tests := []struct {
		name        string
		notice      time.Duration
		wantPending bool
	}{
		{"25h notice applies immediately", 25 * time.Hour, false},
		{"23h notice waits for therapist", 23 * time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, integrity.LevelStrict)
			s := f.paid(t)
			f.clock.Set(s.ScheduledAt.Add(-tt.notice))
			f.recorder.Reset()
			target := s.ScheduledAt.Add(48 * time.Hour)

			out, err := f.reschedules.RequestReschedule(t.Context(), domain.ActorSession, s.ID, target, "client")
			require.NoError(t, err)
			assert.Equal(t, tt.wantPending, out.PendingApproval)

			got := f.get(t, s.ID)
			if tt.wantPending {
				assert.True(t, got.ScheduledAt.Equal(s.ScheduledAt))
				require.NotNil(t, got.PendingRescheduleAt)
				assert.True(t, got.PendingRescheduleAt.Equal(target))
				assert.Equal(t, 0, got.RescheduleCount)
				assert.Equal(t, []string{notify.KindRescheduleRequested}, f.recorder.Kinds())
				assert.Len(t, f.audit(t, s.ID, domain.AuditRescheduleRequested), 1)
				return
			}
			assert.True(t, got.ScheduledAt.Equal(target))
			assert.Nil(t, got.PendingRescheduleAt)
			assert.Equal(t, 1, got.RescheduleCount)
			assert.Equal(t, []string{notify.KindRescheduled, notify.KindRescheduled}, f.recorder.Kinds())
			assert.Len(t, f.audit(t, s.ID, domain.AuditRescheduleApplied), 1)
		})
	}
}

func TestApproveReschedule(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	s := f.paid(t)
	f.clock.Set(s.ScheduledAt.Add(-2 * time.Hour))
	target := s.ScheduledAt.Add(24 * time.Hour)

	_, err := f.reschedules.RequestReschedule(t.Context(), domain.ActorSession, s.ID, target, "client")
	require.NoError(t, err)
	_, err = f.reschedules.RequestReschedule(t.Context(), domain.ActorSession, s.ID, target.Add(time.Hour), "client")
	assert.ErrorIs(t, err, ErrReschedulePending)

	out, err := f.reschedules.ApproveReschedule(t.Context(), domain.ActorSession, s.ID)
	require.NoError(t, err)
	assert.True(t, out.Session.ScheduledAt.Equal(target))
	assert.Equal(t, 1, out.Session.RescheduleCount)
	assert.Nil(t, out.Session.PendingRescheduleAt)

	_, err = f.reschedules.ApproveReschedule(t.Context(), domain.ActorSession, s.ID)
	assert.ErrorIs(t, err, ErrNoPendingReschedule)
}

func TestDeclineReschedule(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	s := f.paid(t)
	f.clock.Set(s.ScheduledAt.Add(-2 * time.Hour))

	_, err := f.reschedules.RequestReschedule(t.Context(), domain.ActorSession, s.ID, s.ScheduledAt.Add(24*time.Hour), "client")
	require.NoError(t, err)
	f.recorder.Reset()

	out, err := f.reschedules.DeclineReschedule(t.Context(), domain.ActorSession, s.ID, "fully booked")
	require.NoError(t, err)
	assert.True(t, out.Session.ScheduledAt.Equal(s.ScheduledAt))
	assert.Nil(t, out.Session.PendingRescheduleAt)
	assert.Equal(t, 0, out.Session.RescheduleCount)
	assert.Equal(t, []string{notify.KindRescheduleDeclined}, f.recorder.Kinds())
}

func TestRequestReschedule_LimitReached(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	s := f.paid(t)
	ctx := t.Context()

	for i := 1; i <= 2; i++ {
		_, err := f.reschedules.RequestReschedule(ctx, domain.ActorSession, s.ID, s.ScheduledAt.Add(time.Duration(i)*24*time.Hour), "client")
		require.NoError(t, err)
	}
	before := f.get(t, s.ID)

	_, err := f.reschedules.RequestReschedule(ctx, domain.ActorSession, s.ID, s.ScheduledAt.Add(72*time.Hour), "client")
	require.ErrorIs(t, err, ErrRescheduleLimit)
	after := f.get(t, s.ID)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, 2, after.RescheduleCount)
}

func TestRequestReschedule_TherapistBusy(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	s := f.book(t)
	other, err := f.sessions.Create(t.Context(), domain.ActorSession, NewSession{
		ClientID: "client-2", TherapistID: "therapist-1", ScheduledAt: t0.Add(72 * time.Hour),
		Price: price, Currency: "KES",
	})
	require.NoError(t, err)

	_, err = f.reschedules.RequestReschedule(t.Context(), domain.ActorSession, s.ID, other.Session.ScheduledAt.Add(30*time.Minute), "client")
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	_, err = f.reschedules.RequestReschedule(t.Context(), domain.ActorSession, s.ID, other.Session.ScheduledAt.Add(time.Hour), "client")
	assert.NoError(t, err, "back-to-back slots do not overlap")
}

func TestRequestReschedule_Rejections(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	s := f.book(t)

	_, err := f.reschedules.RequestReschedule(t.Context(), domain.ActorSession, s.ID, t0.Add(-time.Hour), "client")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.reschedules.RequestReschedule(t.Context(), domain.ActorSystem, s.ID, t0.Add(72*time.Hour), "client")
	assert.True(t, IsAuthorityViolation(err))

	_, err = f.cancels.CancelSession(t.Context(), domain.ActorSession, CancelRequest{SessionID: s.ID})
	require.NoError(t, err)
	_, err = f.reschedules.RequestReschedule(t.Context(), domain.ActorSession, s.ID, t0.Add(72*time.Hour), "client")
	assert.ErrorIs(t, err, ErrNotAllowed)
}
