package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/flowguard/internal/atomicupdate"
	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/store"
	"github.com/roach88/flowguard/internal/transition"
)

// CancellationService cancels sessions and applies the refund policy.
type CancellationService struct {
	base
	refunds *RefundService
}

// NewCancellationService creates a CancellationService that hands refunds to
// refunds.
func NewCancellationService(d Deps, refunds *RefundService) *CancellationService {
	return &CancellationService{base: base{Deps: d, name: "CancellationService"}, refunds: refunds}
}

// CancelRequest describes a cancellation. InitiatedBy is only consulted for
// the session actor; admin and system callers are their own initiators.
type CancelRequest struct {
	SessionID   string
	InitiatedBy Initiator
	Reason      string
}

func initiatorFor(actor domain.Actor, requested Initiator) Initiator {
	switch actor {
	case domain.ActorAdmin:
		return InitiatorAdmin
	case domain.ActorSystem:
		return InitiatorSystem
	}
	if requested == InitiatorTherapist {
		return InitiatorTherapist
	}
	return InitiatorClient
}

// CancelSession cancels a non-terminal session. When the payment was
// confirmed, the policy percentage of the price is requested as a refund and
// processed after the cancellation commits.
func (c *CancellationService) CancelSession(ctx context.Context, actor domain.Actor, req CancelRequest) (*Outcome, error) {
	const op = "CancelSession"
	if err := c.authorize(ctx, op, actor, cancelCallers); err != nil {
		return nil, err
	}
	by := initiatorFor(actor, req.InitiatedBy)
	reason := req.Reason
	if reason == "" {
		reason = "cancelled by " + string(by)
	}

	var (
		actions []transition.Action
		pct     int
	)
	res, err := c.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID:       req.SessionID,
		Entity:          domain.EntitySession,
		Action:          domain.AuditSessionCancelled,
		Actor:           actor,
		Reason:          reason,
		NotifyOnFailure: true,
		Apply: func(ctx context.Context, _ *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			if s.Status.IsTerminal() {
				return atomicupdate.Change{}, notAllowed("cancel", s)
			}
			now := c.now()
			notice := s.TimeUntilStart(now)
			pct = c.Policy.RefundPercent(by, notice)

			before := *s
			s.SetStatus(domain.SessionCancelled, reason, now)
			switch s.Payment {
			case domain.PaymentPending, domain.PaymentInitiated, domain.PaymentFailed:
				s.SetPayment(domain.PaymentCancelled, now)
			}
			endVideo(s, now)
			var amount int64
			if s.Payment == domain.PaymentConfirmed {
				amount = percentOf(s.Price, pct)
				if amount > 0 && s.Refund == domain.RefundNone {
					s.SetRefund(domain.RefundRequested, now)
					s.RefundAmount = amount
				}
			}
			var err error
			if actions, err = c.validate(ctx, op, &before, s); err != nil {
				return atomicupdate.Change{}, err
			}
			return atomicupdate.Change{
				OldValue: before.Status.String(),
				NewValue: s.Status.String(),
				Metadata: map[string]any{
					"initiated_by":   string(by),
					"notice_minutes": int64(notice.Minutes()),
					"refund_percent": pct,
					"refund_amount":  amount,
				},
			}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cancel session: %w", err)
	}
	c.announce(ctx, res.Session, actions)

	out := outcomeOf(res, actions)
	out.RefundPercent = pct
	out.RefundAmount = res.Session.RefundAmount
	if res.Session.Refund != domain.RefundRequested || res.Before.Refund == domain.RefundRequested {
		return out, nil
	}
	refunded, err := c.refunds.Process(ctx, domain.ActorSystem, res.Session.ID)
	if err != nil {
		// The cancellation stands; the requested refund is picked up by the
		// stuck-state scan.
		slog.ErrorContext(ctx, "refund after cancellation failed", "session_id", res.Session.ID, "error", err)
		return out, nil
	}
	out.Session = refunded.Session
	out.Actions = appendUnique(out.Actions, refunded.Actions...)
	return out, nil
}
