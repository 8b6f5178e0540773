package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/gateway"
	"github.com/roach88/flowguard/internal/integrity"
	"github.com/roach88/flowguard/internal/notify"
	"github.com/roach88/flowguard/internal/transition"
)

func TestInitiatePayment_AssignsCheckoutReference(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	s, ref := f.initiate(t)

	assert.Equal(t, domain.PaymentInitiated, s.Payment)
	assert.Equal(t, domain.SessionPaymentPending, s.Status)
	assert.Equal(t, "ws_CO_gw-1", ref)
	require.Len(t, f.gateway.Initiations(), 1)
	assert.Equal(t, int64(price), f.gateway.Initiations()[0].Amount)

	entries := f.audit(t, s.ID, domain.AuditPaymentInitiated, domain.AuditCheckoutAssigned)
	require.Len(t, entries, 2)
	assert.Equal(t, "pending", entries[0].OldValue)
	assert.Equal(t, "initiated", entries[0].NewValue)
}

func TestInitiatePayment_AgainWhileInitiatedIsAuditOnly(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	s, _ := f.initiate(t)
	version := f.get(t, s.ID).Version

	out, err := f.payments.InitiatePayment(t.Context(), domain.ActorPayment, s.ID, "254700000001")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentInitiated, out.Session.Payment)
	assert.Len(t, f.audit(t, s.ID, domain.AuditPaymentReinitiated), 1)
	// Only the new checkout reference bumps the version.
	assert.Equal(t, version+1, f.get(t, s.ID).Version)
}

func TestInitiatePayment_TimeoutLeavesPaymentInitiated(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	f.payments.Policy.GatewayTimeout = 20 * time.Millisecond
	f.gateway.SetLatency(time.Second)

	s := f.book(t)
	_, err := f.sessions.Approve(t.Context(), domain.ActorSession, s.ID)
	require.NoError(t, err)

	out, err := f.payments.InitiatePayment(t.Context(), domain.ActorPayment, s.ID, "254700000001")
	require.ErrorIs(t, err, ErrGatewayTimeout)
	require.NotNil(t, out)

	got := f.get(t, s.ID)
	assert.Equal(t, domain.PaymentInitiated, got.Payment)
	assert.Empty(t, got.CheckoutReference)
}

func TestInitiatePayment_RejectionFailsPayment(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	f.gateway.SetInitiateErr(gateway.ErrRejected)

	s := f.book(t)
	_, err := f.sessions.Approve(t.Context(), domain.ActorSession, s.ID)
	require.NoError(t, err)

	out, err := f.payments.InitiatePayment(t.Context(), domain.ActorPayment, s.ID, "254700000001")
	require.ErrorIs(t, err, gateway.ErrRejected)
	require.NotNil(t, out)
	assert.Equal(t, domain.PaymentFailed, out.Session.Payment)
	assert.Equal(t, domain.SessionPaymentPending, out.Session.Status)
	assert.Contains(t, out.Actions, transition.ActionAlertClientRetryPayment)
	assert.Contains(t, f.recorder.Kinds(), notify.KindPaymentFailed)
}

func TestProcessCallback_SuccessConfirmsAndNotifies(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	s, ref := f.initiate(t)
	f.recorder.Reset()

	out, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, success(ref, "RCPT1"), "fp1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentConfirmed, out.Session.Payment)
	assert.Equal(t, domain.SessionPaid, out.Session.Status)
	assert.Equal(t, "RCPT1", out.Session.GatewayTransactionID)
	assert.Equal(t, []transition.Action{transition.ActionNotifySessionConfirmed}, out.Actions)
	assert.Equal(t, []string{notify.KindSessionConfirmed, notify.KindSessionConfirmed}, f.recorder.Kinds())

	events := f.recorder.Events()
	assert.Equal(t, "client-1", events[0].RecipientID)
	assert.Equal(t, "RCPT1", events[0].Fields["transaction_id"])
	assert.Equal(t, s.ID, events[1].SessionID)
}

func TestProcessCallback_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	s, ref := f.initiate(t)
	cb := success(ref, "RCPT1")

	first, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, cb, "fp1")
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	version := f.get(t, s.ID).Version
	f.recorder.Reset()

	second, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, cb, "fp1")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.True(t, second.AuditOnly)
	assert.Empty(t, second.Actions)
	assert.Empty(t, f.recorder.Events(), "replay must not notify again")

	got := f.get(t, s.ID)
	assert.Equal(t, version, got.Version)
	assert.Equal(t, domain.PaymentConfirmed, got.Payment)

	entries := f.audit(t, s.ID, domain.AuditCallbackApplied, domain.AuditCallbackDuplicate)
	require.Len(t, entries, 2)
	assert.False(t, entries[0].Duplicate)
	assert.True(t, entries[1].Duplicate)
	assert.Equal(t, domain.AuditCallbackDuplicate, entries[1].Action)
}

func TestProcessCallback_FailureThenRetry(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	s, ref := f.initiate(t)

	out, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, gateway.Callback{
		CheckoutReference: ref, ResultCode: 1032, ResultDesc: "Request cancelled by user",
	}, "fp-fail")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, out.Session.Payment)
	assert.Contains(t, f.recorder.Kinds(), notify.KindPaymentFailed)

	retry, err := f.payments.InitiatePayment(t.Context(), domain.ActorPayment, s.ID, "254700000001")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentInitiated, retry.Session.Payment)
	assert.NotEqual(t, ref, retry.Session.CheckoutReference)

	// The client paid the first prompt after all: the money is taken.
	late, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, success(ref, "RCPT-late"), "fp-late")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentConfirmed, late.Session.Payment)
	assert.Equal(t, "RCPT-late", late.Session.GatewayTransactionID)
}

func TestProcessCallback_SupersededCheckout(t *testing.T) {
	failure := func(ref string) gateway.Callback {
		return gateway.Callback{CheckoutReference: ref, ResultCode: 1032, ResultDesc: "Request cancelled by user"}
	}
	tests := []struct {
		name string
		// payCurrent confirms the newer reference before the old result lands.
		payCurrent  bool
		callback    func(oldRef string) gateway.Callback
		wantPayment domain.PaymentState
		wantAction  string
		wantAlert   bool
	}{
		{
			name:        "late success confirms initiated payment",
			callback:    func(ref string) gateway.Callback { return success(ref, "RCPT-old") },
			wantPayment: domain.PaymentConfirmed,
			wantAction:  domain.AuditCallbackApplied,
		},
		{
			name:        "late failure leaves newer prompt live",
			callback:    failure,
			wantPayment: domain.PaymentInitiated,
			wantAction:  domain.AuditCallbackStale,
		},
		{
			name:        "late success after newer prompt paid",
			payCurrent:  true,
			callback:    func(ref string) gateway.Callback { return success(ref, "RCPT-old") },
			wantPayment: domain.PaymentConfirmed,
			wantAction:  domain.AuditCallbackStale,
			wantAlert:   true,
		},
		{
			name:        "late failure after newer prompt paid",
			payCurrent:  true,
			callback:    failure,
			wantPayment: domain.PaymentConfirmed,
			wantAction:  domain.AuditCallbackStale,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, integrity.LevelStrict)
			s, oldRef := f.initiate(t)
			again, err := f.payments.InitiatePayment(t.Context(), domain.ActorPayment, s.ID, "254700000001")
			require.NoError(t, err)
			newRef := again.Session.CheckoutReference
			require.NotEqual(t, oldRef, newRef)

			if tt.payCurrent {
				_, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, success(newRef, "RCPT-new"), "fp-new")
				require.NoError(t, err)
			}
			f.recorder.Reset()

			out, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, tt.callback(oldRef), "fp-old")
			require.NoError(t, err)
			assert.Equal(t, tt.wantPayment, out.Session.Payment)

			got := f.get(t, s.ID)
			assert.Equal(t, tt.wantPayment, got.Payment)
			assert.Equal(t, newRef, got.CheckoutReference)

			entries := f.audit(t, s.ID)
			last := entries[len(entries)-1]
			assert.Equal(t, tt.wantAction, last.Action)
			assert.Equal(t, oldRef, last.Metadata["checkout_reference"])
			assert.Equal(t, newRef, last.Metadata["superseded_by"])

			if tt.wantAlert {
				require.Equal(t, []string{notify.KindCallbackAnomaly}, f.recorder.Kinds())
				assert.Equal(t, notify.SeverityUrgent, f.recorder.Events()[0].Severity)
			} else {
				assert.NotContains(t, f.recorder.Kinds(), notify.KindCallbackAnomaly)
			}
		})
	}
}

func TestProcessCallback_RetryAfterTimeoutConfirms(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	f.payments.Policy.GatewayTimeout = 20 * time.Millisecond
	f.gateway.SetLatency(time.Second)

	s := f.book(t)
	_, err := f.sessions.Approve(t.Context(), domain.ActorSession, s.ID)
	require.NoError(t, err)
	_, err = f.payments.InitiatePayment(t.Context(), domain.ActorPayment, s.ID, "254700000001")
	require.ErrorIs(t, err, ErrGatewayTimeout)

	// The timed-out prompt never got a reference, so its result cannot be
	// matched to the session.
	_, err = f.payments.ProcessCallback(t.Context(), domain.ActorPayment, success("ws_CO_lost", "RCPT-lost"), "fp-lost")
	require.ErrorIs(t, err, ErrUnknownCheckout)
	assert.Equal(t, domain.PaymentInitiated, f.get(t, s.ID).Payment)

	f.gateway.SetLatency(0)
	retry, err := f.payments.InitiatePayment(t.Context(), domain.ActorPayment, s.ID, "254700000001")
	require.NoError(t, err)
	assert.Len(t, f.audit(t, s.ID, domain.AuditPaymentReinitiated), 1)

	out, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, success(retry.Session.CheckoutReference, "RCPT1"), "fp1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentConfirmed, out.Session.Payment)
}

func TestProcessCallback_SuccessAfterFailureIsRecordedOnly(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	s, ref := f.initiate(t)
	_, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, gateway.Callback{
		CheckoutReference: ref, ResultCode: 1, ResultDesc: "insufficient funds",
	}, "fp-fail")
	require.NoError(t, err)
	f.recorder.Reset()

	out, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, success(ref, "RCPT1"), "fp-ok")
	require.NoError(t, err)
	assert.True(t, out.AuditOnly)
	assert.Equal(t, domain.PaymentFailed, f.get(t, s.ID).Payment)
	assert.Equal(t, []string{notify.KindCallbackAnomaly}, f.recorder.Kinds())
}

func TestProcessCallback_StaleFailureAfterConfirmation(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	s, ref := f.initiate(t)
	_, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, success(ref, "RCPT1"), "fp1")
	require.NoError(t, err)

	out, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, gateway.Callback{
		CheckoutReference: ref, ResultCode: 1, ResultDesc: "insufficient funds",
	}, "fp2")
	require.NoError(t, err)
	assert.True(t, out.AuditOnly)
	assert.Equal(t, domain.PaymentConfirmed, f.get(t, s.ID).Payment)
	assert.Len(t, f.audit(t, s.ID, domain.AuditCallbackStale), 1)
}

func TestProcessCallback_LateSuccessAfterCancellation(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	s, ref := f.initiate(t)
	_, err := f.cancels.CancelSession(t.Context(), domain.ActorSession, CancelRequest{SessionID: s.ID, InitiatedBy: InitiatorClient})
	require.NoError(t, err)
	f.recorder.Reset()

	out, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, success(ref, "RCPT1"), "fp1")
	require.NoError(t, err)
	assert.True(t, out.AuditOnly)

	got := f.get(t, s.ID)
	assert.Equal(t, domain.PaymentCancelled, got.Payment)
	assert.Equal(t, domain.SessionCancelled, got.Status)
	assert.Equal(t, []string{notify.KindCallbackAnomaly}, f.recorder.Kinds())
	assert.Equal(t, notify.AudienceAdmin, f.recorder.Events()[0].Audience)
}

func TestProcessCallback_AmountMismatch(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	s, ref := f.initiate(t)
	cb := success(ref, "RCPT1")
	cb.Amount = price - 1

	out, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, cb, "fp1")
	require.NoError(t, err)
	assert.True(t, out.AuditOnly)
	assert.Equal(t, domain.PaymentInitiated, f.get(t, s.ID).Payment)
	assert.Len(t, f.audit(t, s.ID, domain.AuditCallbackMismatch), 1)
	assert.Contains(t, f.recorder.Kinds(), notify.KindCallbackAnomaly)
}

func TestProcessCallback_ReceiptReusedAcrossSessions(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	_, ref1 := f.initiate(t)
	s2, ref2 := f.initiate(t)

	_, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, success(ref1, "RCPT-shared"), "fp1")
	require.NoError(t, err)

	out, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, success(ref2, "RCPT-shared"), "fp2")
	require.NoError(t, err)
	assert.True(t, out.AuditOnly)
	assert.Equal(t, domain.PaymentInitiated, f.get(t, s2.ID).Payment)
}

func TestProcessCallback_UnknownReference(t *testing.T) {
	f := newFixture(t, integrity.LevelStrict)
	_, err := f.payments.ProcessCallback(t.Context(), domain.ActorPayment, success("ws_CO_missing", "R"), "fp")
	assert.ErrorIs(t, err, ErrUnknownCheckout)
}

func TestProcessCallback_OnlyPaymentActor(t *testing.T) {
	f := newFixture(t, integrity.LevelOff)
	_, ref := f.initiate(t)

	_, err := f.payments.ProcessCallback(t.Context(), domain.ActorSession, success(ref, "RCPT1"), "fp1")
	require.Error(t, err)
	assert.True(t, IsAuthorityViolation(err))
	assert.True(t, integrity.IsFatal(err))
}

func TestUpdateState_BypassBlockedUnlessOff(t *testing.T) {
	tests := []struct {
		level   integrity.Level
		blocked bool
	}{
		{integrity.LevelStrict, true},
		{integrity.LevelWarn, true},
		{integrity.LevelOff, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			f := newFixture(t, tt.level)
			s := f.book(t)

			_, err := f.payments.UpdateState(t.Context(), domain.ActorAdmin, s.ID, domain.PaymentConfirmed, "manual override")
			if tt.blocked {
				require.Error(t, err)
				assert.True(t, transition.IsForbidden(err))
				assert.Equal(t, domain.PaymentPending, f.get(t, s.ID).Payment)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.PaymentConfirmed, f.get(t, s.ID).Payment)
		})
	}
}
