package atomicupdate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowguard/internal/clock"
	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/ids"
	"github.com/roach88/flowguard/internal/notify"
	"github.com/roach88/flowguard/internal/store"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store    *store.Store
	clock    *clock.Manual
	recorder *notify.Recorder
	updater  *Updater
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{store: st, clock: clock.NewManual(t0), recorder: &notify.Recorder{}}
	f.updater = New(st, f.clock, ids.NewSequence("audit"), f.recorder)
	return f
}

func (f *fixture) create(t *testing.T, id string) *domain.Session {
	t.Helper()
	s := &domain.Session{
		ID: id, ClientID: "client-1", TherapistID: "therapist-1", SessionType: "individual",
		ScheduledAt: t0.Add(48 * time.Hour), DurationMinutes: 50, Price: 3000, Currency: "KES",
		PaymentChangedAt: t0, StatusChangedAt: t0, VideoChangedAt: t0, RefundChangedAt: t0,
		Version: 1, CreatedAt: t0, UpdatedAt: t0,
	}
	_, err := f.updater.Create(t.Context(), s, domain.ActorSession, "booked")
	require.NoError(t, err)
	return s
}

func approve(_ context.Context, _ *store.Tx, s *domain.Session) (Change, error) {
	old := s.Status.String()
	s.SetStatus(domain.SessionApproved, "therapist approved", t0)
	return Change{OldValue: old, NewValue: s.Status.String()}, nil
}

func TestCreate_WritesSessionAndAudit(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sess-1")

	entries, err := f.store.ListAudit(t.Context(), "sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditSessionCreated, entries[0].Action)
	assert.Equal(t, "requested", entries[0].NewValue)
	assert.Equal(t, "client-1", entries[0].Metadata["client_id"])
}

func TestApply_CommitsStateAndAudit(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sess-1")
	f.clock.Advance(time.Minute)

	res, err := f.updater.Apply(t.Context(), Mutation{
		SessionID: "sess-1", Entity: domain.EntitySession, Action: domain.AuditSessionTransition,
		Actor: domain.ActorSession, Reason: "approve", Apply: approve,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionApproved, res.Session.Status)
	assert.Equal(t, int64(2), res.Session.Version)
	assert.Equal(t, domain.SessionRequested, res.Before.Status)

	stored, err := f.store.GetSession(t.Context(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionApproved, stored.Status)
	assert.Equal(t, t0.Add(time.Minute), stored.UpdatedAt)

	entries, err := f.store.ListAudit(t.Context(), "sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "requested", entries[1].OldValue)
	assert.Equal(t, "approved", entries[1].NewValue)
	assert.Equal(t, "approve", entries[1].Reason)
}

func TestApply_FuncErrorRollsBackAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sess-1")
	boom := errors.New("validator said no")

	_, err := f.updater.Apply(t.Context(), Mutation{
		SessionID: "sess-1", Entity: domain.EntitySession, Action: "cancel",
		Actor: domain.ActorSession, NotifyOnFailure: true,
		Apply: func(ctx context.Context, tx *store.Tx, s *domain.Session) (Change, error) {
			s.SetStatus(domain.SessionCancelled, "x", t0)
			return Change{}, boom
		},
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsRollback(err))

	stored, err := f.store.GetSession(t.Context(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionRequested, stored.Status)

	entries, err := f.store.ListAudit(t.Context(), "sess-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.Equal(t, []string{notify.KindOperationFailed, notify.KindOperationFailed}, f.recorder.Kinds())
}

func TestApply_NoNoticeWithoutFlag(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sess-1")

	_, err := f.updater.Apply(t.Context(), Mutation{
		SessionID: "sess-1", Action: "noop", Actor: domain.ActorSystem,
		Apply: func(context.Context, *store.Tx, *domain.Session) (Change, error) {
			return Change{}, errors.New("no")
		},
	})
	require.Error(t, err)
	assert.Empty(t, f.recorder.Events())
}

func TestApply_AuditOnlyLeavesRowUntouched(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sess-1")

	res, err := f.updater.Apply(t.Context(), Mutation{
		SessionID: "sess-1", Entity: domain.EntityPayment, Action: domain.AuditCallbackDuplicate,
		Actor: domain.ActorPayment,
		Apply: func(_ context.Context, _ *store.Tx, s *domain.Session) (Change, error) {
			s.SetPayment(domain.PaymentConfirmed, t0)
			return Change{AuditOnly: true, Duplicate: true, Metadata: map[string]any{"receipt": "RCP1"}}, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, res.Session.Payment)
	assert.Equal(t, int64(1), res.Session.Version)

	entries, err := f.store.ListAudit(t.Context(), "sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[1].Duplicate)
	assert.Equal(t, "RCP1", entries[1].Metadata["receipt"])
}

func TestApply_PersistenceFailureIsRollback(t *testing.T) {
	f := newFixture(t)
	f.create(t, "sess-a")
	b := &domain.Session{
		ID: "sess-b", ClientID: "c", TherapistID: "t", ScheduledAt: t0, Price: 1, Currency: "KES",
		CheckoutReference: "ws_CO_1",
		PaymentChangedAt:  t0, StatusChangedAt: t0, VideoChangedAt: t0, RefundChangedAt: t0,
		Version: 1, CreatedAt: t0, UpdatedAt: t0,
	}
	_, err := f.updater.Create(t.Context(), b, domain.ActorSession, "")
	require.NoError(t, err)

	_, err = f.updater.Apply(t.Context(), Mutation{
		SessionID: "sess-a", Entity: domain.EntityPayment, Action: domain.AuditCheckoutAssigned,
		Actor: domain.ActorPayment,
		Apply: func(_ context.Context, _ *store.Tx, s *domain.Session) (Change, error) {
			s.CheckoutReference = "ws_CO_1"
			return Change{NewValue: "ws_CO_1"}, nil
		},
	})
	assert.True(t, IsRollback(err))
	assert.ErrorIs(t, err, store.ErrDuplicateReference)
}

func TestApply_MissingSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.updater.Apply(t.Context(), Mutation{
		SessionID: "nope", Action: "x", Actor: domain.ActorSystem, NotifyOnFailure: true,
		Apply:     approve,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, f.recorder.Events())
}

func TestRecord_StandaloneEntry(t *testing.T) {
	f := newFixture(t)

	entry, err := f.updater.Record(t.Context(), domain.AuditLogEntry{
		EntityType: domain.EntityIntegrity, EntityID: "enforcement",
		Action: domain.AuditEnforcementChanged, OldValue: "strict", NewValue: "warn",
		Actor: domain.ActorAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, "audit-1", entry.ID)
	assert.Equal(t, t0, entry.Timestamp)

	entries, err := f.store.ListAudit(t.Context(), "enforcement")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
