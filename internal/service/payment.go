package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/flowguard/internal/atomicupdate"
	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/gateway"
	"github.com/roach88/flowguard/internal/notify"
	"github.com/roach88/flowguard/internal/store"
	"github.com/roach88/flowguard/internal/transition"
)

// PaymentService is the only writer of payment state.
type PaymentService struct {
	base
}

// NewPaymentService creates a PaymentService.
func NewPaymentService(d Deps) *PaymentService {
	return &PaymentService{base{Deps: d, name: "PaymentService"}}
}

// InitiatePayment asks the gateway to prompt the client for payment.
//
// The payment moves to initiated in one transaction, the gateway is called
// with a bounded timeout outside any transaction, and the checkout reference
// is stored in a second transaction. On timeout the payment stays initiated
// and ErrGatewayTimeout is returned together with the outcome; any other
// gateway error fails the payment. Calling it again for an initiated payment
// records the retry without a state change.
func (p *PaymentService) InitiatePayment(ctx context.Context, actor domain.Actor, sessionID, phone string) (*Outcome, error) {
	const op = "InitiatePayment"
	if err := p.authorize(ctx, op, actor, paymentCallers); err != nil {
		return nil, err
	}

	res, err := p.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID:       sessionID,
		Entity:          domain.EntityPayment,
		Action:          domain.AuditPaymentInitiated,
		Actor:           actor,
		Reason:          "client requested payment prompt",
		NotifyOnFailure: true,
		Apply: func(ctx context.Context, _ *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			old := s.Payment.String()
			if s.Payment == domain.PaymentInitiated {
				return atomicupdate.Change{
					OldValue: old, NewValue: old, AuditOnly: true,
					Action:   domain.AuditPaymentReinitiated,
					Metadata: map[string]any{"checkout_reference": s.CheckoutReference},
				}, nil
			}
			before := *s
			applyPayment(s, domain.PaymentInitiated, "awaiting payment", p.now())
			if _, err := p.validate(ctx, op, &before, s); err != nil {
				return atomicupdate.Change{}, err
			}
			return atomicupdate.Change{OldValue: old, NewValue: s.Payment.String()}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initiate payment: %w", err)
	}
	s := res.Session

	gctx, cancel := context.WithTimeout(ctx, p.Policy.GatewayTimeout)
	resp, gerr := p.Gateway.Initiate(gctx, gateway.InitiateRequest{
		SessionID: s.ID,
		ClientID:  s.ClientID,
		Phone:     phone,
		Amount:    s.Price,
		Currency:  s.Currency,
	})
	cancel()

	switch {
	case gerr == nil:
	case gateway.IsTimeout(gerr):
		slog.WarnContext(ctx, "payment initiation timed out; payment left initiated",
			"session_id", s.ID, "timeout", p.Policy.GatewayTimeout)
		return outcomeOf(res, nil), fmt.Errorf("initiate payment %s: %w", s.ID, ErrGatewayTimeout)
	default:
		slog.WarnContext(ctx, "payment initiation rejected", "session_id", s.ID, "error", gerr)
		out, err := p.UpdateState(ctx, actor, s.ID, domain.PaymentFailed, "gateway rejected initiation: "+gerr.Error())
		if err != nil {
			return nil, fmt.Errorf("initiate payment %s: %w", s.ID, errors.Join(gerr, err))
		}
		return out, fmt.Errorf("initiate payment %s: %w", s.ID, gerr)
	}

	res, err = p.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID: s.ID,
		Entity:    domain.EntityPayment,
		Action:    domain.AuditCheckoutAssigned,
		Actor:     actor,
		Reason:    "gateway accepted payment request",
		Apply: func(_ context.Context, _ *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			old := s.CheckoutReference
			s.CheckoutReference = resp.CheckoutReference
			return atomicupdate.Change{OldValue: old, NewValue: resp.CheckoutReference}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initiate payment: record checkout reference: %w", err)
	}
	slog.InfoContext(ctx, "payment initiated", "session_id", s.ID, "checkout_reference", resp.CheckoutReference)
	return outcomeOf(res, nil), nil
}

// ProcessCallback applies a gateway result. It is idempotent: the outcome
// (checkout reference, result code, receipt) is claimed inside the mutation
// transaction, and a replay is recorded as a duplicate audit entry without
// touching the session. Stale results, amount mismatches and late successes
// are recorded without a state change and alert an administrator.
//
// A reference superseded by a later InitiatePayment still resolves to its
// session. A failure on it is recorded only, since the newer prompt is live.
// A success on it confirms a payment that is still initiated; otherwise it is
// recorded and an administrator is alerted.
func (p *PaymentService) ProcessCallback(ctx context.Context, actor domain.Actor, cb gateway.Callback, fingerprint string) (*Outcome, error) {
	const op = "ProcessCallback"
	if err := p.authorize(ctx, op, actor, paymentCallers); err != nil {
		return nil, err
	}

	found, err := p.Store.FindByCheckoutRef(ctx, cb.CheckoutReference)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("process callback %s: %w", cb.CheckoutReference, ErrUnknownCheckout)
	}
	if err != nil {
		return nil, fmt.Errorf("process callback: %w", err)
	}

	meta := map[string]any{
		"checkout_reference": cb.CheckoutReference,
		"result_code":        cb.ResultCode,
		"result_desc":        cb.ResultDesc,
		"amount":             cb.Amount,
		"receipt":            cb.Receipt,
		"fingerprint":        fingerprint,
	}
	var (
		actions []transition.Action
		alerts  []notify.Event
	)
	res, err := p.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID: found.ID,
		Entity:    domain.EntityPayment,
		Action:    domain.AuditCallbackApplied,
		Actor:     actor,
		Reason:    cb.ResultDesc,
		Metadata:  meta,
		Apply: func(ctx context.Context, tx *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			old := s.Payment.String()
			key := store.CallbackKey{CheckoutReference: cb.CheckoutReference, ResultCode: cb.ResultCode, Receipt: cb.Receipt}
			inserted, err := tx.ClaimCallback(ctx, key, fingerprint, s.ID, p.now())
			if err != nil {
				return atomicupdate.Change{}, err
			}
			if !inserted {
				return atomicupdate.Change{
					OldValue: old, NewValue: old, AuditOnly: true, Duplicate: true,
					Action: domain.AuditCallbackDuplicate, Reason: "duplicate callback ignored",
				}, nil
			}

			var extra map[string]any
			if s.CheckoutReference != cb.CheckoutReference {
				extra = map[string]any{"superseded_by": s.CheckoutReference}
			}
			superseded := extra != nil
			recordOnly := func(action, reason string, alert string) atomicupdate.Change {
				if alert != "" {
					alerts = append(alerts, p.alert(notify.KindCallbackAnomaly, notify.SeverityUrgent, s, alert, meta))
				}
				return atomicupdate.Change{OldValue: old, NewValue: old, AuditOnly: true, Action: action, Reason: reason, Metadata: extra}
			}
			applied := func() atomicupdate.Change {
				return atomicupdate.Change{OldValue: old, NewValue: s.Payment.String(), Metadata: extra}
			}

			if !cb.Succeeded() {
				if superseded {
					return recordOnly(domain.AuditCallbackStale, "failure result for superseded checkout ignored", ""), nil
				}
				if s.Payment != domain.PaymentInitiated {
					return recordOnly(domain.AuditCallbackStale, "failure result for "+old+" payment ignored", ""), nil
				}
				before := *s
				applyPayment(s, domain.PaymentFailed, "payment failed: "+cb.ResultDesc, p.now())
				if actions, err = p.validate(ctx, op, &before, s); err != nil {
					return atomicupdate.Change{}, err
				}
				return applied(), nil
			}

			switch s.Payment {
			case domain.PaymentConfirmed:
				return recordOnly(domain.AuditCallbackStale, "second success result for confirmed payment",
					"A second successful payment was reported for a confirmed session."), nil
			case domain.PaymentCancelled, domain.PaymentRefunded:
				return recordOnly(domain.AuditCallbackStale, "success result after "+old,
					"Payment succeeded after the session was cancelled; a manual refund is required."), nil
			case domain.PaymentPending, domain.PaymentFailed:
				return recordOnly(domain.AuditCallbackStale, "success result for "+old+" payment",
					"Payment succeeded for a payment recorded as "+old+"; reconcile it manually."), nil
			}
			if cb.Amount != s.Price {
				return recordOnly(domain.AuditCallbackMismatch,
					fmt.Sprintf("paid %d, expected %d", cb.Amount, s.Price),
					"Payment amount does not match the session price."), nil
			}
			n, err := tx.CountByGatewayTransaction(ctx, cb.Receipt)
			if err != nil {
				return atomicupdate.Change{}, err
			}
			if n > 0 {
				return recordOnly(domain.AuditCallbackStale, "receipt already confirms another session",
					"A payment receipt was reported for two sessions."), nil
			}

			before := *s
			applyPayment(s, domain.PaymentConfirmed, "payment confirmed", p.now())
			s.GatewayTransactionID = cb.Receipt
			if actions, err = p.validate(ctx, op, &before, s); err != nil {
				return atomicupdate.Change{}, err
			}
			return applied(), nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("process callback %s: %w", cb.CheckoutReference, err)
	}

	out := outcomeOf(res, actions)
	if out.Duplicate {
		slog.InfoContext(ctx, "duplicate payment callback", "session_id", found.ID, "checkout_reference", cb.CheckoutReference)
	}
	p.announce(ctx, res.Session, actions, alerts...)
	return out, nil
}

// UpdateState moves the payment machine to the given state together with the
// session state it drives.
func (p *PaymentService) UpdateState(ctx context.Context, actor domain.Actor, sessionID string, to domain.PaymentState, reason string) (*Outcome, error) {
	const op = "UpdateState"
	if err := p.authorize(ctx, op, actor, paymentStateCallers); err != nil {
		return nil, err
	}
	var actions []transition.Action
	res, err := p.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID:       sessionID,
		Entity:          domain.EntityPayment,
		Action:          domain.AuditPaymentTransition,
		Actor:           actor,
		Reason:          reason,
		NotifyOnFailure: true,
		Apply: func(ctx context.Context, _ *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			old := s.Payment.String()
			before := *s
			applyPayment(s, to, reason, p.now())
			if before.Payment == s.Payment {
				// Same-state moves are checked against the table too.
				if err := p.Integrity.Check(ctx, p.name+"."+op, func() error {
					return transition.CheckPayment(before.Payment, to)
				}); err != nil {
					return atomicupdate.Change{}, err
				}
			}
			var err error
			if actions, err = p.validate(ctx, op, &before, s); err != nil {
				return atomicupdate.Change{}, err
			}
			return atomicupdate.Change{OldValue: old, NewValue: s.Payment.String()}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("update payment state: %w", err)
	}
	p.announce(ctx, res.Session, actions)
	return outcomeOf(res, actions), nil
}
