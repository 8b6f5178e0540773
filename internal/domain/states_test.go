package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateNames_RoundTrip(t *testing.T) {
	for s := PaymentState(0); s < NumPaymentStates; s++ {
		require.NotEmpty(t, s.String(), "payment state %d has no name", s)
		got, err := ParsePaymentState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	for s := SessionState(0); s < NumSessionStates; s++ {
		require.NotEmpty(t, s.String(), "session state %d has no name", s)
		got, err := ParseSessionState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	for s := VideoState(0); s < NumVideoStates; s++ {
		require.NotEmpty(t, s.String(), "video state %d has no name", s)
		got, err := ParseVideoState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	for s := RefundState(0); s < NumRefundStates; s++ {
		require.NotEmpty(t, s.String(), "refund state %d has no name", s)
		got, err := ParseRefundState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestParseState_Unknown(t *testing.T) {
	_, err := ParseSessionState("teleported")
	require.Error(t, err)

	var use *UnknownStateError
	require.ErrorAs(t, err, &use)
	assert.Equal(t, "session", use.Kind)
	assert.Equal(t, "teleported", use.Value)
}

func TestStateString_OutOfRange(t *testing.T) {
	assert.Equal(t, "video(9)", VideoState(9).String())
	assert.False(t, VideoState(9).Valid())
}

func TestSessionState_Terminal(t *testing.T) {
	terminal := []SessionState{SessionDeclined, SessionCompleted, SessionCancelled, SessionNoShowClient, SessionNoShowTherapist}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s.String())
	}
	assert.False(t, SessionReady.IsTerminal())
	assert.False(t, SessionPaymentPending.IsPostPayment())
	assert.True(t, SessionPaid.IsPostPayment())
}

func TestActor_ParseAndText(t *testing.T) {
	a, err := ParseActor("admin")
	require.NoError(t, err)
	assert.Equal(t, ActorAdmin, a)

	_, err = ParseActor("root")
	assert.Error(t, err)

	var zero Actor
	assert.Equal(t, "actor(0)", zero.String())
}

func TestSession_Overlaps(t *testing.T) {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	s := Session{ScheduledAt: start, DurationMinutes: 50}

	assert.True(t, s.Overlaps(start.Add(30*time.Minute), time.Hour))
	assert.True(t, s.Overlaps(start.Add(-30*time.Minute), time.Hour))
	assert.False(t, s.Overlaps(start.Add(50*time.Minute), time.Hour))
	assert.False(t, s.Overlaps(start.Add(-time.Hour), time.Hour))
}

func TestSession_SettersStampOnlyOnChange(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	s := Session{Payment: PaymentPending, PaymentChangedAt: t0}

	s.SetPayment(PaymentPending, t1)
	assert.Equal(t, t0, s.PaymentChangedAt)

	s.SetPayment(PaymentInitiated, t1)
	assert.Equal(t, t1, s.PaymentChangedAt)
	assert.Equal(t, PaymentInitiated, s.Payment)
}
