package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/flowguard/internal/app"
	"github.com/roach88/flowguard/internal/clock"
	"github.com/roach88/flowguard/internal/config"
	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/gateway"
	"github.com/roach88/flowguard/internal/ids"
	"github.com/roach88/flowguard/internal/integrity"
	"github.com/roach88/flowguard/internal/notify"
	"github.com/roach88/flowguard/internal/service"
)

// Start is the clock time at the beginning of every run.
var Start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Price is the price of every booked session.
const Price = 3000

const (
	secret   = "harness-webhook-secret"
	operator = "harness"
)

// defaultActors is the caller of each operation unless a step overrides it.
var defaultActors = map[string]domain.Actor{
	OpBook:                 domain.ActorSession,
	OpApprove:              domain.ActorSession,
	OpDecline:              domain.ActorSession,
	OpRequireForms:         domain.ActorSession,
	OpCompleteForms:        domain.ActorSession,
	OpInitiate:             domain.ActorPayment,
	OpWebhook:              domain.ActorPayment,
	OpPaymentState:         domain.ActorAdmin,
	OpReady:                domain.ActorSession,
	OpOpenVideo:            domain.ActorSession,
	OpJoin:                 domain.ActorSession,
	OpEndVideo:             domain.ActorSession,
	OpActivity:             domain.ActorSession,
	OpStart:                domain.ActorSession,
	OpComplete:             domain.ActorSession,
	OpCancel:               domain.ActorSession,
	OpReschedule:           domain.ActorSession,
	OpApproveReschedule:    domain.ActorSession,
	OpDeclineReschedule:    domain.ActorSession,
	OpRefund:               domain.ActorPayment,
	OpRetryRefund:          domain.ActorAdmin,
	OpCompleteManualRefund: domain.ActorAdmin,
	OpTechnicalFailure:     domain.ActorSystem,
	OpNoShowScan:           domain.ActorSystem,
	OpStuckSweep:           domain.ActorSystem,
	OpSetLevel:             domain.ActorAdmin,
	OpAdvance:              domain.ActorSystem,
	OpGateway:              domain.ActorSystem,
}

// runner holds the state of one scenario run.
type runner struct {
	app      *app.App
	clock    *clock.Manual
	recorder *notify.Recorder
	sandbox  *gateway.Sandbox
	// aliases maps scenario session names to ids, and ids back to names.
	aliases map[string]string
	names   map[string]string
}

// Check inspects the engine after the last step. Each returned error fails
// the scenario.
type Check func(ctx context.Context, a *app.App) []error

// Run executes a scenario on a fresh in-memory engine, then reconciles every
// session against the global invariants and applies checks.
func Run(ctx context.Context, sc *Scenario, checks ...Check) (*Result, error) {
	level := integrity.LevelStrict
	if sc.Enforcement != "" {
		l, err := integrity.ParseLevel(sc.Enforcement)
		if err != nil {
			return nil, err
		}
		level = l
	}
	cfg := config.Default()
	cfg.DatabasePath = ":memory:"
	cfg.Enforcement = level
	cfg.WebhookSecret = secret
	if sc.GatewayTimeout > 0 {
		cfg.Policy.GatewayTimeout = sc.GatewayTimeout
	}

	r := &runner{
		clock:    clock.NewManual(Start),
		recorder: &notify.Recorder{},
		sandbox:  gateway.NewSandbox(ids.NewSequence("gw")),
		aliases:  map[string]string{},
		names:    map[string]string{},
	}
	a, err := app.New(cfg, app.Options{
		Clock:    r.clock,
		IDs:      ids.NewSequence("id"),
		Notifier: r.recorder,
		Gateway:  r.sandbox,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}
	defer a.Close()
	r.app = a

	result := NewResult()
	for i, st := range sc.Steps {
		r.recorder.Reset()
		ev, err := r.step(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, st.Op, err)
		}
		ev.Step = i + 1
		ev.Notices = r.recorder.Kinds()
		if st.Expect != nil {
			for _, msg := range st.Expect.mismatches(ev) {
				result.AddError(fmt.Sprintf("step %d (%s %s): %s", ev.Step, st.Op, st.Session, msg))
			}
		}
		result.Trace = append(result.Trace, ev)
	}

	violations, err := a.Sweeper.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range violations {
		result.AddError(fmt.Sprintf("session %s: %v", r.name(v.SessionID), v))
	}
	for _, check := range checks {
		for _, err := range check(ctx, a) {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

func (r *runner) name(id string) string {
	if n, ok := r.names[id]; ok {
		return n
	}
	return id
}

func (r *runner) step(ctx context.Context, st Step) (TraceEvent, error) {
	ev := TraceEvent{Op: st.Op, Session: st.Session}
	actor := defaultActors[st.Op]
	if st.Actor != "" {
		a, err := domain.ParseActor(st.Actor)
		if err != nil {
			return ev, err
		}
		actor = a
	}

	id := ""
	if st.Session != "" && st.Op != OpBook {
		var ok bool
		if id, ok = r.aliases[st.Session]; !ok {
			return ev, fmt.Errorf("unknown session %q", st.Session)
		}
	}

	opErr, err := r.dispatch(ctx, st, actor, id, &ev)
	if err != nil {
		return ev, err
	}
	ev.Outcome = Classify(opErr)

	if id == "" {
		id = r.aliases[st.Session]
	}
	if id != "" {
		s, err := r.app.Store.GetSession(ctx, id)
		if err != nil {
			return ev, err
		}
		ev.Payment = s.Payment.String()
		ev.Status = s.Status.String()
		ev.Video = s.Video.String()
		ev.Refund = s.Refund.String()
		ev.RefundAmount = s.RefundAmount
		ev.Version = s.Version
	}
	return ev, nil
}

// dispatch runs the step's operation. It returns the operation's error,
// which becomes the outcome, separately from harness failures.
func (r *runner) dispatch(ctx context.Context, st Step, actor domain.Actor, id string, ev *TraceEvent) (error, error) {
	a := r.app
	reason := st.Reason
	if reason == "" {
		reason = "scenario step"
	}
	var opErr error
	switch st.Op {
	case OpBook:
		if _, exists := r.aliases[st.Session]; exists {
			return nil, fmt.Errorf("session %q already booked", st.Session)
		}
		therapist := st.Therapist
		if therapist == "" {
			therapist = "therapist-1"
		}
		var out *service.Outcome
		out, opErr = a.Sessions.Create(ctx, actor, service.NewSession{
			ClientID:      "client-" + st.Session,
			TherapistID:   therapist,
			SessionType:   "individual",
			ScheduledAt:   Start.Add(st.Offset),
			Price:         Price,
			Currency:      "KES",
			FormsRequired: st.Forms,
		})
		if opErr == nil {
			r.aliases[st.Session] = out.Session.ID
			r.names[out.Session.ID] = st.Session
		}
	case OpApprove:
		_, opErr = a.Sessions.Approve(ctx, actor, id)
	case OpDecline:
		_, opErr = a.Sessions.Decline(ctx, actor, id, reason)
	case OpRequireForms:
		_, opErr = a.Sessions.RequireForms(ctx, actor, id)
	case OpCompleteForms:
		_, opErr = a.Sessions.CompleteForms(ctx, actor, id)
	case OpInitiate:
		_, opErr = a.Payments.InitiatePayment(ctx, actor, id, "254700000001")
	case OpWebhook:
		return r.webhook(ctx, st, id, ev)
	case OpPaymentState:
		to, err := domain.ParsePaymentState(st.Payment)
		if err != nil {
			return nil, err
		}
		_, opErr = a.Payments.UpdateState(ctx, actor, id, to, reason)
	case OpReady:
		_, opErr = a.Sessions.MarkReady(ctx, actor, id)
	case OpOpenVideo:
		_, opErr = a.Sessions.OpenVideoRoom(ctx, actor, id)
	case OpJoin:
		_, opErr = a.Sessions.JoinVideo(ctx, actor, id, service.Participant(st.Party))
	case OpEndVideo:
		_, opErr = a.Sessions.EndVideo(ctx, actor, id)
	case OpActivity:
		_, opErr = a.Sessions.RecordActivity(ctx, actor, id, service.Participant(st.Party))
	case OpStart:
		_, opErr = a.Sessions.Start(ctx, actor, id)
	case OpComplete:
		_, opErr = a.Sessions.Complete(ctx, actor, id)
	case OpCancel:
		var out *service.Outcome
		out, opErr = a.Cancellations.CancelSession(ctx, actor, service.CancelRequest{
			SessionID:   id,
			InitiatedBy: service.Initiator(st.By),
			Reason:      reason,
		})
		if opErr == nil {
			ev.Detail = fmt.Sprintf("refund_percent=%d", out.RefundPercent)
		}
	case OpReschedule:
		by := st.By
		if by == "" {
			by = string(service.InitiatorClient)
		}
		_, opErr = a.Reschedules.RequestReschedule(ctx, actor, id, Start.Add(st.Offset), by)
	case OpApproveReschedule:
		_, opErr = a.Reschedules.ApproveReschedule(ctx, actor, id)
	case OpDeclineReschedule:
		_, opErr = a.Reschedules.DeclineReschedule(ctx, actor, id, reason)
	case OpRefund:
		amount := st.Amount
		if amount == 0 {
			amount = Price
		}
		_, opErr = a.Refunds.RequestRefund(ctx, actor, id, amount, reason)
	case OpRetryRefund:
		_, opErr = a.Refunds.RetryRefund(ctx, actor, id)
	case OpCompleteManualRefund:
		_, opErr = a.Refunds.CompleteManualRefund(ctx, actor, id, st.Reference)
	case OpTechnicalFailure:
		_, opErr = a.Recovery.HandleTechnicalFailure(ctx, actor, id, reason)
	case OpNoShowScan:
		var results []service.NoShowResult
		results, opErr = a.Recovery.ScanNoShows(ctx, actor)
		parts := make([]string, 0, len(results))
		for _, res := range results {
			parts = append(parts, fmt.Sprintf("%s=%s", r.name(res.SessionID), res.Verdict))
		}
		ev.Detail = strings.Join(parts, ",")
	case OpStuckSweep:
		report, err := a.Sweeper.Stuck(ctx, st.Remediate)
		opErr = err
		ev.Detail = fmt.Sprintf("inspected=%d findings=%d failed=%d", report.Inspected, len(report.Findings), report.Failed)
	case OpSetLevel:
		level, err := integrity.ParseLevel(st.Level)
		if err != nil {
			return nil, err
		}
		_, opErr = a.Admin.SetEnforcement(ctx, actor, service.EnforcementChange{
			Level: level, Operator: operator, Reason: reason,
		})
	case OpAdvance:
		r.clock.Advance(st.Offset)
		ev.Detail = r.clock.Now().Format(time.RFC3339)
	case OpGateway:
		return nil, r.gateway(st.Fail)
	default:
		return nil, fmt.Errorf("unknown op %q", st.Op)
	}
	return opErr, nil
}

func (r *runner) webhook(ctx context.Context, st Step, id string, ev *TraceEvent) (error, error) {
	s, err := r.app.Store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	ref := s.CheckoutReference
	if ref == "" {
		ref = "ws_CO_unassigned"
	}
	cb := gateway.Callback{
		CheckoutReference: ref,
		ResultCode:        st.ResultCode,
		Phone:             "254700000001",
	}
	if st.Reference != "" {
		cb.CheckoutReference = st.Reference
	}
	if cb.Succeeded() {
		cb.ResultDesc = "The service request is processed successfully."
		cb.Amount = s.Price
		if st.Amount != 0 {
			cb.Amount = st.Amount
		}
		cb.Receipt = "RCPT-" + st.Session
		if st.Receipt != "" {
			cb.Receipt = st.Receipt
		}
	} else {
		cb.ResultDesc = "Request cancelled by user"
	}
	body, err := gateway.EncodeCallback(cb)
	if err != nil {
		return nil, err
	}
	res, opErr := r.app.Webhooks.Handle(ctx, body, gateway.Sign([]byte(secret), body))
	if res != nil {
		ev.Inbox = string(res.Status)
	}
	return opErr, nil
}

func (r *runner) gateway(fail string) error {
	switch fail {
	case "initiate":
		r.sandbox.SetInitiateErr(gateway.ErrRejected)
	case "refund":
		r.sandbox.SetRefundErr(gateway.ErrRejected)
	case "none", "":
		r.sandbox.SetInitiateErr(nil)
		r.sandbox.SetRefundErr(nil)
	default:
		return errors.New("fail must be initiate, refund or none")
	}
	return nil
}

func (e *Expect) mismatches(ev TraceEvent) []string {
	var out []string
	check := func(field, got, want string) {
		if want != "" && got != want {
			out = append(out, fmt.Sprintf("%s = %q, want %q", field, got, want))
		}
	}
	check("outcome", ev.Outcome, e.Outcome)
	check("payment", ev.Payment, e.Payment)
	check("status", ev.Status, e.Status)
	check("video", ev.Video, e.Video)
	check("refund", ev.Refund, e.Refund)
	check("inbox", ev.Inbox, e.Inbox)
	if e.RefundAmount != nil && ev.RefundAmount != *e.RefundAmount {
		out = append(out, fmt.Sprintf("refund_amount = %d, want %d", ev.RefundAmount, *e.RefundAmount))
	}
	if e.Notices != nil && !slices.Equal(ev.Notices, e.Notices) {
		out = append(out, fmt.Sprintf("notices = %v, want %v", ev.Notices, e.Notices))
	}
	return out
}
