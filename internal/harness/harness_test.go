package harness

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/gateway"
	"github.com/roach88/flowguard/internal/invariant"
	"github.com/roach88/flowguard/internal/service"
	"github.com/roach88/flowguard/internal/store"
	"github.com/roach88/flowguard/internal/transition"
)

func TestScenarios(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, sc := range scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			result, err := Run(t.Context(), sc, CheckCombinations, CheckAuditedTransitions)
			require.NoError(t, err)
			assert.Empty(t, result.Errors)
			assert.True(t, result.Pass)
			assert.Len(t, result.Trace, len(sc.Steps))
		})
	}
}

func TestGolden_HappyPath(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/happy_path.yaml")
	require.NoError(t, err)

	result := RunWithGolden(t, sc)
	assert.True(t, result.Pass)
}

func TestRun_ReportsUnmetExpectations(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: wrong_expectation
steps:
  - op: book
    session: a
    offset: 48h
    expect:
      status: approved
      outcome: ok
`))
	require.NoError(t, err)

	result, err := Run(t.Context(), sc)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `status = "requested", want "approved"`)
}

func TestRun_HarnessErrors(t *testing.T) {
	tests := []struct {
		name string
		sc   *Scenario
		want string
	}{
		{
			name: "unknown alias",
			sc:   &Scenario{Name: "x", Steps: []Step{{Op: OpApprove, Session: "ghost"}}},
			want: `unknown session "ghost"`,
		},
		{
			name: "bad level",
			sc:   &Scenario{Name: "x", Enforcement: "loud", Steps: []Step{{Op: OpAdvance}}},
			want: "loud",
		},
		{
			name: "bad gateway fault",
			sc:   &Scenario{Name: "x", Steps: []Step{{Op: OpGateway, Fail: "everything"}}},
			want: "fail must be",
		},
		{
			name: "double booking",
			sc: &Scenario{Name: "x", Steps: []Step{
				{Op: OpBook, Session: "a", Offset: 48 * time.Hour},
				{Op: OpBook, Session: "a", Offset: 72 * time.Hour},
			}},
			want: `session "a" already booked`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(t.Context(), tt.sc)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_ActorOverride(t *testing.T) {
	sc := &Scenario{Name: "override", Steps: []Step{
		{Op: OpBook, Session: "a", Offset: 48 * time.Hour, Actor: "admin"},
		{Op: OpApprove, Session: "a", Actor: "payment"},
	}}
	result, err := Run(t.Context(), sc)
	require.NoError(t, err)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, OutcomeOK, result.Trace[0].Outcome)
	assert.Equal(t, OutcomeAuthority, result.Trace[1].Outcome)
	assert.Equal(t, "requested", result.Trace[1].Status)
}

func TestMarshalTrace(t *testing.T) {
	data, err := MarshalTrace([]TraceEvent{
		{Step: 1, Op: OpAdvance, Outcome: OutcomeOK, Detail: "2026-03-02T10:00:00Z"},
		{Step: 2, Op: OpApprove, Session: "a", Outcome: OutcomeOK, Status: "approved", Version: 2, Notices: []string{"x"}},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"detail":"2026-03-02T10:00:00Z","op":"advance","outcome":"ok","step":1}`, lines[0])
	assert.Equal(t, `{"notices":["x"],"op":"approve","outcome":"ok","session":"a","status":"approved","step":2,"version":2}`, lines[1])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{&service.AuthorityError{Service: "s", Operation: "op", Actor: domain.ActorSession}, OutcomeAuthority},
		{&invariant.NuclearViolation{SessionID: "s"}, OutcomeNuclear},
		{&transition.Error{Code: transition.CodeForbidden}, OutcomeForbidden},
		{&transition.Error{Code: transition.CodeSyncViolation}, OutcomeSync},
		{fmt.Errorf("wrapped: %w", &transition.Error{Code: transition.CodeInvalidTransition}), OutcomeInvalid},
		{fmt.Errorf("cancel: %w", service.ErrNotAllowed), OutcomeNotAllowed},
		{service.ErrInvalidRequest, OutcomeInvalidRequest},
		{service.ErrRescheduleLimit, OutcomeRescheduleLimit},
		{service.ErrSlotUnavailable, OutcomeSlotUnavailable},
		{service.ErrReschedulePending, OutcomeReschedulePending},
		{service.ErrNoPendingReschedule, OutcomeNoPendingReschedule},
		{service.ErrUnknownCheckout, OutcomeUnknownCheckout},
		{service.ErrGatewayTimeout, OutcomeGatewayTimeout},
		{fmt.Errorf("initiate payment s: %w", gateway.ErrRejected), OutcomeGatewayRejected},
		{gateway.ErrMalformedCallback, OutcomeMalformed},
		{gateway.ErrBadSignature, OutcomeBadSignature},
		{store.ErrNotFound, OutcomeNotFound},
		{errors.New("disk full"), OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
