package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/flowguard/internal/atomicupdate"
	"github.com/roach88/flowguard/internal/clock"
	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/gateway"
	"github.com/roach88/flowguard/internal/ids"
	"github.com/roach88/flowguard/internal/integrity"
	"github.com/roach88/flowguard/internal/notify"
	"github.com/roach88/flowguard/internal/store"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const price = 3000

type fixture struct {
	store    *store.Store
	clock    *clock.Manual
	recorder *notify.Recorder
	gateway  *gateway.Sandbox
	integ    *integrity.Config

	sessions    *SessionService
	payments    *PaymentService
	refunds     *RefundService
	cancels     *CancellationService
	reschedules *ReschedulingService
	recovery    *RecoveryService
	admin       *AdminService
}

func newFixture(t *testing.T, level integrity.Level) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clk := clock.NewManual(t0)
	integ, err := integrity.New(level, integrity.WithClock(clk))
	require.NoError(t, err)

	f := &fixture{
		store:    st,
		clock:    clk,
		recorder: &notify.Recorder{},
		gateway:  gateway.NewSandbox(ids.NewSequence("gw")),
		integ:    integ,
	}
	d := Deps{
		Store:     st,
		Updater:   atomicupdate.New(st, clk, ids.NewSequence("audit"), f.recorder),
		Integrity: integ,
		Gateway:   f.gateway,
		Notifier:  f.recorder,
		Clock:     clk,
		Policy:    DefaultPolicy(),
	}
	f.sessions = NewSessionService(d, ids.NewSequence("sess"))
	f.payments = NewPaymentService(d)
	f.refunds = NewRefundService(d)
	f.cancels = NewCancellationService(d, f.refunds)
	f.reschedules = NewReschedulingService(d)
	f.recovery = NewRecoveryService(d, f.payments, f.cancels, f.refunds)
	f.admin = NewAdminService(d)
	return f
}

// book creates a requested session starting 48h after t0.
func (f *fixture) book(t *testing.T) *domain.Session {
	t.Helper()
	out, err := f.sessions.Create(t.Context(), domain.ActorSession, NewSession{
		ClientID:    "client-1",
		TherapistID: "therapist-1",
		SessionType: "individual",
		ScheduledAt: t0.Add(48 * time.Hour),
		Price:       price,
		Currency:    "KES",
	})
	require.NoError(t, err)
	return out.Session
}

// initiate books, approves and starts payment; it returns the checkout
// reference.
func (f *fixture) initiate(t *testing.T) (*domain.Session, string) {
	t.Helper()
	s := f.book(t)
	_, err := f.sessions.Approve(t.Context(), domain.ActorSession, s.ID)
	require.NoError(t, err)
	out, err := f.payments.InitiatePayment(t.Context(), domain.ActorPayment, s.ID, "254700000001")
	require.NoError(t, err)
	require.NotEmpty(t, out.Session.CheckoutReference)
	return out.Session, out.Session.CheckoutReference
}

func success(ref, receipt string) gateway.Callback {
	return gateway.Callback{
		CheckoutReference: ref,
		ResultCode:        gateway.ResultSuccess,
		ResultDesc:        "The service request is processed successfully.",
		Amount:            price,
		Phone:             "254700000001",
		Receipt:           receipt,
	}
}

// paid returns a session whose payment is confirmed.
func (f *fixture) paid(t *testing.T) *domain.Session {
	t.Helper()
	s, ref := f.initiate(t)
	out, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, success(ref, "RCPT-"+s.ID), "fp-"+s.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentConfirmed, out.Session.Payment)
	return out.Session
}

// ready returns a paid session marked ready.
func (f *fixture) ready(t *testing.T) *domain.Session {
	t.Helper()
	s := f.paid(t)
	out, err := f.sessions.MarkReady(t.Context(), domain.ActorSession, s.ID)
	require.NoError(t, err)
	return out.Session
}

func (f *fixture) get(t *testing.T, id string) *domain.Session {
	t.Helper()
	s, err := f.store.GetSession(t.Context(), id)
	require.NoError(t, err)
	return s
}

func (f *fixture) audit(t *testing.T, id string, actions ...string) []domain.AuditLogEntry {
	t.Helper()
	all, err := f.store.ListAudit(t.Context(), id)
	require.NoError(t, err)
	if len(actions) == 0 {
		return all
	}
	var out []domain.AuditLogEntry
	for _, e := range all {
		for _, a := range actions {
			if e.Action == a {
				out = append(out, e)
			}
		}
	}
	return out
}
