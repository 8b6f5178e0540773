package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/invariant"
	"github.com/roach88/flowguard/internal/jobs"
	"github.com/roach88/flowguard/internal/notify"
	"github.com/roach88/flowguard/internal/service"
	"github.com/roach88/flowguard/internal/stuck"
	"github.com/roach88/flowguard/internal/testutil"
)

func TestStuckDetectOnly(t *testing.T) {
	e := testutil.NewEnv(t)
	s := e.Initiate(t)
	e.Clock.Advance(31 * time.Minute)

	report, err := e.Sweeper.Stuck(t.Context(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inspected)
	require.Len(t, report.Findings, 1)
	f := report.Findings[0]
	assert.Equal(t, s.ID, f.SessionID)
	assert.Equal(t, domain.EntityPayment, f.EntityType)
	assert.Equal(t, stuck.ActionAutoCleanup, f.RecommendedAction)

	assert.Equal(t, domain.PaymentInitiated, e.Get(t, s.ID).Payment)
}

func TestStuckRemediates(t *testing.T) {
	e := testutil.NewEnv(t)
	s := e.Initiate(t)
	e.Clock.Advance(31 * time.Minute)

	report, err := e.Sweeper.Stuck(t.Context(), true)
	require.NoError(t, err)
	assert.Zero(t, report.Failed)
	assert.Equal(t, domain.PaymentFailed, e.Get(t, s.ID).Payment)

	report, err = e.Sweeper.Stuck(t.Context(), true)
	require.NoError(t, err)
	assert.Empty(t, report.Findings)
}

func TestStuckIncludesOpenRefunds(t *testing.T) {
	e := testutil.NewEnv(t)
	s := &domain.Session{
		ID: "orphan", ClientID: "client-1", TherapistID: "therapist-1",
		ScheduledAt: testutil.Start.Add(time.Hour), DurationMinutes: 50, Price: testutil.Price, Currency: "KES",
		Payment: domain.PaymentConfirmed, Status: domain.SessionCancelled, Refund: domain.RefundRequested,
		RefundAmount: testutil.Price, GatewayTransactionID: "RCPT-orphan",
		PaymentChangedAt: testutil.Start, StatusChangedAt: testutil.Start,
		VideoChangedAt: testutil.Start, RefundChangedAt: testutil.Start,
		Version: 1, CreatedAt: testutil.Start, UpdatedAt: testutil.Start,
	}
	tx, err := e.Store.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, tx.InsertSession(t.Context(), s))
	require.NoError(t, tx.Commit())
	e.Clock.Advance(16 * time.Minute)

	report, err := e.Sweeper.Stuck(t.Context(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inspected)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, domain.EntityRefund, report.Findings[0].EntityType)

	got := e.Get(t, s.ID)
	assert.Equal(t, domain.RefundCompleted, got.Refund)
	assert.Equal(t, domain.PaymentRefunded, got.Payment)
}

func TestNoShows(t *testing.T) {
	e := testutil.NewEnv(t)
	s := e.Ready(t)
	_, err := e.Sessions.RecordActivity(t.Context(), domain.ActorSession, s.ID, service.ParticipantTherapist)
	require.NoError(t, err)
	e.Clock.Set(s.ScheduledAt.Add(16 * time.Minute))

	results, err := e.Sweeper.NoShows(t.Context())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, service.VerdictClient, results[0].Verdict)
	assert.Equal(t, domain.SessionNoShowClient, e.Get(t, s.ID).Status)
}

func TestReconcile(t *testing.T) {
	e := testutil.NewEnv(t)
	e.Ready(t)

	violations, err := e.Sweeper.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Empty(t, violations)

	bad := &domain.Session{
		ID: "corrupt", ClientID: "client-2", TherapistID: "therapist-2",
		ScheduledAt: testutil.Start.Add(time.Hour), DurationMinutes: 50, Price: testutil.Price, Currency: "KES",
		Payment: domain.PaymentConfirmed, Status: domain.SessionApproved,
		PaymentChangedAt: testutil.Start, StatusChangedAt: testutil.Start,
		VideoChangedAt: testutil.Start, RefundChangedAt: testutil.Start,
		Version: 1, CreatedAt: testutil.Start, UpdatedAt: testutil.Start,
	}
	tx, err := e.Store.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, tx.InsertSession(t.Context(), bad))
	require.NoError(t, tx.Commit())

	violations, err = e.Sweeper.Reconcile(t.Context())
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "corrupt", violations[0].SessionID)
	assert.True(t, violations[0].Has(invariant.RuleConfirmedPostPayment))
	assert.Contains(t, e.Recorder.Kinds(), notify.KindIntegrityViolation)
}

func TestRunStopsOnCancel(t *testing.T) {
	e := testutil.NewEnv(t)
	s := e.Initiate(t)
	e.Clock.Advance(31 * time.Minute)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- e.Sweeper.Run(ctx, jobs.Intervals{Stuck: 5 * time.Millisecond}) }()

	require.Eventually(t, func() bool {
		got, err := e.Store.GetSession(t.Context(), s.ID)
		return err == nil && got.Payment == domain.PaymentFailed
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
