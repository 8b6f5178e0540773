package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/flowguard/internal/atomicupdate"
	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/gateway"
	"github.com/roach88/flowguard/internal/notify"
	"github.com/roach88/flowguard/internal/store"
	"github.com/roach88/flowguard/internal/transition"
)

// RefundService is the only writer of refund state.
//
// Refunds up to Policy.AutoRefundLimit go through the gateway; larger ones,
// and any the gateway fails, wait in pending_manual for an administrator.
// Gateway calls never run inside a transaction: the refund moves to
// processing, the gateway is called, and the result is written separately.
type RefundService struct {
	base
}

// NewRefundService creates a RefundService.
func NewRefundService(d Deps) *RefundService {
	return &RefundService{base{Deps: d, name: "RefundService"}}
}

// RequestRefund opens a refund of amount for a confirmed payment and
// processes it.
func (r *RefundService) RequestRefund(ctx context.Context, actor domain.Actor, sessionID string, amount int64, reason string) (*Outcome, error) {
	const op = "RequestRefund"
	if err := r.authorize(ctx, op, actor, refundCallers); err != nil {
		return nil, err
	}
	_, err := r.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID: sessionID,
		Entity:    domain.EntityRefund,
		Action:    domain.AuditRefundTransition,
		Actor:     actor,
		Reason:    reason,
		Metadata:  map[string]any{"amount": amount},
		Apply: func(ctx context.Context, _ *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			if s.Payment != domain.PaymentConfirmed || s.Refund != domain.RefundNone {
				return atomicupdate.Change{}, notAllowed("request refund", s)
			}
			if amount <= 0 || amount > s.Price {
				return atomicupdate.Change{}, fmt.Errorf("%w: refund %d of price %d", ErrInvalidRequest, amount, s.Price)
			}
			before := *s
			s.SetRefund(domain.RefundRequested, r.now())
			s.RefundAmount = amount
			if _, err := r.validate(ctx, op, &before, s); err != nil {
				return atomicupdate.Change{}, err
			}
			return atomicupdate.Change{OldValue: before.Refund.String(), NewValue: s.Refund.String()}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("request refund: %w", err)
	}
	return r.process(ctx, actor, sessionID, false)
}

// Process carries a requested refund through the gateway, or parks it for
// manual handling when it exceeds the automatic limit.
func (r *RefundService) Process(ctx context.Context, actor domain.Actor, sessionID string) (*Outcome, error) {
	if err := r.authorize(ctx, "Process", actor, refundCallers); err != nil {
		return nil, err
	}
	return r.process(ctx, actor, sessionID, false)
}

// RetryRefund sends a pending_manual refund through the gateway again,
// regardless of the automatic limit.
func (r *RefundService) RetryRefund(ctx context.Context, actor domain.Actor, sessionID string) (*Outcome, error) {
	if err := r.authorize(ctx, "RetryRefund", actor, adminCallers); err != nil {
		return nil, err
	}
	return r.process(ctx, actor, sessionID, true)
}

// CompleteManualRefund records a refund an administrator paid outside the
// gateway.
func (r *RefundService) CompleteManualRefund(ctx context.Context, actor domain.Actor, sessionID, reference string) (*Outcome, error) {
	if err := r.authorize(ctx, "CompleteManualRefund", actor, adminCallers); err != nil {
		return nil, err
	}
	return r.complete(ctx, actor, sessionID, reference, domain.RefundPendingManual, "manual refund completed")
}

func (r *RefundService) process(ctx context.Context, actor domain.Actor, sessionID string, retry bool) (*Outcome, error) {
	const op = "process"
	var (
		parked bool
		alerts []notify.Event
	)
	res, err := r.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID: sessionID,
		Entity:    domain.EntityRefund,
		Action:    domain.AuditRefundTransition,
		Actor:     actor,
		Apply: func(ctx context.Context, _ *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			switch {
			case s.Refund == domain.RefundRequested:
			case s.Refund == domain.RefundPendingManual && retry:
			default:
				return atomicupdate.Change{}, fmt.Errorf("process refund: refund is %s: %w", s.Refund, ErrNotAllowed)
			}
			before := *s
			reason := "refund sent to gateway"
			if !retry && s.RefundAmount > r.Policy.AutoRefundLimit {
				parked = true
				reason = fmt.Sprintf("refund %d exceeds automatic limit %d", s.RefundAmount, r.Policy.AutoRefundLimit)
				s.SetRefund(domain.RefundPendingManual, r.now())
				alerts = append(alerts, r.alert(notify.KindRefundManual, notify.SeverityWarning, s,
					"Refund requires manual approval.", map[string]any{"amount": s.RefundAmount, "currency": s.Currency}))
			} else {
				s.SetRefund(domain.RefundProcessing, r.now())
			}
			if _, err := r.validate(ctx, op, &before, s); err != nil {
				return atomicupdate.Change{}, err
			}
			return atomicupdate.Change{
				OldValue: before.Refund.String(), NewValue: s.Refund.String(), Reason: reason,
				Metadata: map[string]any{"amount": s.RefundAmount},
			}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("process refund: %w", err)
	}
	s := res.Session
	if parked {
		notify.Send(ctx, r.Notifier, alerts...)
		return outcomeOf(res, nil), nil
	}

	gctx, cancel := context.WithTimeout(ctx, r.Policy.GatewayTimeout)
	resp, gerr := r.Gateway.Refund(gctx, gateway.RefundRequest{
		SessionID:     s.ID,
		TransactionID: s.GatewayTransactionID,
		Amount:        s.RefundAmount,
		Currency:      s.Currency,
		Reason:        s.StatusReason,
	})
	cancel()
	if gerr != nil {
		slog.WarnContext(ctx, "gateway refund failed; parking for manual handling", "session_id", s.ID, "error", gerr)
		return r.park(ctx, actor, s.ID, gerr)
	}
	return r.complete(ctx, actor, s.ID, resp.Reference, domain.RefundProcessing, "refund completed by gateway")
}

// park moves a processing refund to pending_manual after a gateway failure.
func (r *RefundService) park(ctx context.Context, actor domain.Actor, sessionID string, cause error) (*Outcome, error) {
	res, err := r.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID: sessionID,
		Entity:    domain.EntityRefund,
		Action:    domain.AuditRefundTransition,
		Actor:     actor,
		Reason:    "gateway refund failed: " + cause.Error(),
		Apply: func(ctx context.Context, _ *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			if s.Refund != domain.RefundProcessing {
				return atomicupdate.Change{}, fmt.Errorf("park refund: refund is %s: %w", s.Refund, ErrNotAllowed)
			}
			before := *s
			s.SetRefund(domain.RefundPendingManual, r.now())
			if _, err := r.validate(ctx, "park", &before, s); err != nil {
				return atomicupdate.Change{}, err
			}
			return atomicupdate.Change{OldValue: before.Refund.String(), NewValue: s.Refund.String()}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("park refund: %w", err)
	}
	notify.Send(ctx, r.Notifier, r.alert(notify.KindRefundManual, notify.SeverityUrgent, res.Session,
		"Gateway refund failed; manual refund required.",
		map[string]any{"amount": res.Session.RefundAmount, "currency": res.Session.Currency, "error": cause.Error()}))
	return outcomeOf(res, nil), nil
}

// complete marks the refund done and the payment refunded.
func (r *RefundService) complete(ctx context.Context, actor domain.Actor, sessionID, reference string, from domain.RefundState, reason string) (*Outcome, error) {
	var actions []transition.Action
	res, err := r.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID:       sessionID,
		Entity:          domain.EntityRefund,
		Action:          domain.AuditRefundTransition,
		Actor:           actor,
		Reason:          reason,
		Metadata:        map[string]any{"refund_reference": reference},
		NotifyOnFailure: true,
		Apply: func(ctx context.Context, _ *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			if s.Refund != from {
				return atomicupdate.Change{}, fmt.Errorf("complete refund: refund is %s: %w", s.Refund, ErrNotAllowed)
			}
			before := *s
			now := r.now()
			s.SetRefund(domain.RefundCompleted, now)
			if s.Payment == domain.PaymentConfirmed {
				applyPayment(s, domain.PaymentRefunded, reason, now)
			}
			var err error
			if actions, err = r.validate(ctx, "complete", &before, s); err != nil {
				return atomicupdate.Change{}, err
			}
			return atomicupdate.Change{
				OldValue: before.Refund.String(), NewValue: s.Refund.String(),
				Metadata: map[string]any{"amount": s.RefundAmount, "payment_state": s.Payment.String()},
			}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("complete refund: %w", err)
	}
	slog.InfoContext(ctx, "refund completed", "session_id", sessionID, "amount", res.Session.RefundAmount, "reference", reference)
	r.announce(ctx, res.Session, actions)
	return outcomeOf(res, actions), nil
}
