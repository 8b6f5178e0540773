package service

import (
	"context"
	"slices"
	"time"

	"github.com/roach88/flowguard/internal/atomicupdate"
	"github.com/roach88/flowguard/internal/clock"
	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/gateway"
	"github.com/roach88/flowguard/internal/integrity"
	"github.com/roach88/flowguard/internal/notify"
	"github.com/roach88/flowguard/internal/store"
	"github.com/roach88/flowguard/internal/transition"
)

// Deps are the collaborators shared by every service.
type Deps struct {
	Store     *store.Store
	Updater   *atomicupdate.Updater
	Integrity *integrity.Config
	Gateway   gateway.Gateway
	Notifier  notify.Notifier
	Clock     clock.Clock
	Policy    Policy
}

// Outcome is the result of a write path.
type Outcome struct {
	Session *domain.Session
	// Duplicate is set when a replayed callback was recorded as a no-op.
	Duplicate bool
	// AuditOnly is set when the operation was recorded without a change.
	AuditOnly bool
	// Actions are the side effects newly implied by the change.
	Actions []transition.Action
	// RefundPercent and RefundAmount are set by cancellation and no-show.
	RefundPercent int
	RefundAmount  int64
	// PendingApproval is set when a reschedule awaits the therapist.
	PendingApproval bool
	Audit           domain.AuditLogEntry
}

func outcomeOf(res *atomicupdate.Result, actions []transition.Action) *Outcome {
	return &Outcome{
		Session:   res.Session,
		Duplicate: res.Change.Duplicate,
		AuditOnly: res.Change.AuditOnly,
		Actions:   actions,
		Audit:     res.Audit,
	}
}

type base struct {
	Deps
	name string
}

func (b *base) authorize(ctx context.Context, op string, actor domain.Actor, allowed actorSet) error {
	return authorize(ctx, b.name, op, actor, allowed)
}

// validate checks every machine that moved between before and after and the
// resulting combination, under the current enforcement level. It returns
// the actions implied by after that before did not already imply.
func (b *base) validate(ctx context.Context, op string, before, after *domain.Session) ([]transition.Action, error) {
	prev, next := transition.SnapshotOf(before), transition.SnapshotOf(after)
	var res transition.SyncResult
	err := b.Integrity.Check(ctx, b.name+"."+op, func() error {
		var err error
		res, err = transition.ValidateChange(prev, next)
		return err
	})
	if err != nil {
		return nil, err
	}
	if res.Actions == nil {
		// Skipped or downgraded checks still owe their side effects.
		res, _ = transition.CheckSync(next)
	}
	if before.Refund != after.Refund {
		if err := b.Integrity.Check(ctx, b.name+"."+op+".refund", func() error {
			return transition.CheckRefund(before.Refund, after.Refund)
		}); err != nil {
			return nil, err
		}
	}
	old, _ := transition.CheckSync(prev)
	var fresh []transition.Action
	for _, a := range res.Actions {
		if !old.Has(a) {
			fresh = append(fresh, a)
		}
	}
	return fresh, nil
}

func (b *base) now() time.Time { return b.Clock.Now() }

// announce turns actions into participant notifications.
func (b *base) announce(ctx context.Context, s *domain.Session, actions []transition.Action, extra ...notify.Event) {
	now := b.Clock.Now()
	var events []notify.Event
	both := func(kind, msg string, fields map[string]any) {
		events = append(events,
			notify.Event{Kind: kind, Audience: notify.AudienceClient, RecipientID: s.ClientID, SessionID: s.ID,
				Severity: notify.SeverityInfo, Message: msg, Fields: fields, At: now},
			notify.Event{Kind: kind, Audience: notify.AudienceTherapist, RecipientID: s.TherapistID, SessionID: s.ID,
				Severity: notify.SeverityInfo, Message: msg, Fields: fields, At: now},
		)
	}
	client := func(kind string, sev notify.Severity, msg string, fields map[string]any) {
		events = append(events, notify.Event{Kind: kind, Audience: notify.AudienceClient, RecipientID: s.ClientID,
			SessionID: s.ID, Severity: sev, Message: msg, Fields: fields, At: now})
	}
	for _, a := range actions {
		switch a {
		case transition.ActionNotifySessionConfirmed:
			both(notify.KindSessionConfirmed, "Session confirmed.", map[string]any{
				"amount":         s.Price,
				"currency":       s.Currency,
				"transaction_id": s.GatewayTransactionID,
				"scheduled_at":   s.ScheduledAt,
			})
		case transition.ActionAlertClientRetryPayment:
			client(notify.KindPaymentFailed, notify.SeverityWarning, "Payment failed. Please try again.", map[string]any{
				"amount": s.Price, "currency": s.Currency,
			})
		case transition.ActionRequestForms:
			client(notify.KindFormsRequested, notify.SeverityInfo, "Please complete your intake forms before the session.", nil)
		case transition.ActionNotifyCancellation:
			both(notify.KindSessionCancelled, "Session cancelled.", map[string]any{
				"reason":        s.StatusReason,
				"refund_amount": s.RefundAmount,
				"currency":      s.Currency,
			})
		case transition.ActionIssueRefund:
			client(notify.KindRefundIssued, notify.SeverityInfo, "Your refund has been issued.", map[string]any{
				"amount": s.RefundAmount, "currency": s.Currency, "transaction_id": s.GatewayTransactionID,
			})
		}
	}
	events = append(events, extra...)
	notify.Send(ctx, b.Notifier, events...)
}

func (b *base) alert(kind string, sev notify.Severity, s *domain.Session, msg string, fields map[string]any) notify.Event {
	return notify.Admin(kind, sev, s.ID, msg, fields, b.Clock.Now())
}

// endVideo closes an open room as part of a terminal move.
func endVideo(s *domain.Session, now time.Time) {
	switch s.Video {
	case domain.VideoWaitingForParticipants, domain.VideoActive:
		s.SetVideo(domain.VideoEnded, now)
	}
}

func appendUnique(actions []transition.Action, more ...transition.Action) []transition.Action {
	for _, a := range more {
		if !slices.Contains(actions, a) {
			actions = append(actions, a)
		}
	}
	return actions
}
