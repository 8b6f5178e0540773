package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/flowguard/internal/atomicupdate"
	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/notify"
	"github.com/roach88/flowguard/internal/store"
	"github.com/roach88/flowguard/internal/stuck"
	"github.com/roach88/flowguard/internal/transition"
)

// Verdict classifies a ready session past its start.
type Verdict string

const (
	// VerdictNone means the session is not a no-show candidate.
	VerdictNone Verdict = "none"
	// VerdictClient means only the therapist showed up.
	VerdictClient Verdict = "client"
	// VerdictTherapist means only the client showed up.
	VerdictTherapist Verdict = "therapist"
	// VerdictManualReview means neither party showed up. No policy decides
	// this case; an administrator must.
	VerdictManualReview Verdict = "manual_review"
)

// ClassifyNoShow inspects a session that is still ready grace after its
// start. Activity stamps before the start count: participants may join early.
func ClassifyNoShow(s *domain.Session, now time.Time, grace time.Duration) Verdict {
	if s.Status != domain.SessionReady || now.Before(s.ScheduledAt.Add(grace)) {
		return VerdictNone
	}
	client := s.ClientLastActivityAt != nil
	therapist := s.TherapistLastActivityAt != nil
	switch {
	case client && therapist:
		return VerdictNone
	case therapist:
		return VerdictClient
	case client:
		return VerdictTherapist
	default:
		return VerdictManualReview
	}
}

// NoShowResult is the outcome of one session in a scan.
type NoShowResult struct {
	SessionID string
	Verdict   Verdict
	Outcome   *Outcome
	Err       error
}

// RecoveryService handles sessions that did not run as booked.
type RecoveryService struct {
	base
	payments *PaymentService
	cancels  *CancellationService
	refunds  *RefundService
}

// NewRecoveryService creates a RecoveryService.
func NewRecoveryService(d Deps, payments *PaymentService, cancels *CancellationService, refunds *RefundService) *RecoveryService {
	return &RecoveryService{
		base:     base{Deps: d, name: "RecoveryService"},
		payments: payments,
		cancels:  cancels,
		refunds:  refunds,
	}
}

// DetectNoShow classifies a persisted session.
func (r *RecoveryService) DetectNoShow(ctx context.Context, sessionID string) (Verdict, error) {
	s, err := r.Store.GetSession(ctx, sessionID)
	if err != nil {
		return VerdictNone, fmt.Errorf("detect no-show: %w", err)
	}
	return ClassifyNoShow(s, r.now(), r.Policy.NoShowGrace), nil
}

// ProcessClientNoShow closes a session the client missed. No refund is due.
func (r *RecoveryService) ProcessClientNoShow(ctx context.Context, actor domain.Actor, sessionID string) (*Outcome, error) {
	return r.noShow(ctx, "ProcessClientNoShow", actor, sessionID, VerdictClient)
}

// ProcessTherapistNoShow closes a session the therapist missed and refunds
// the full price.
func (r *RecoveryService) ProcessTherapistNoShow(ctx context.Context, actor domain.Actor, sessionID string) (*Outcome, error) {
	return r.noShow(ctx, "ProcessTherapistNoShow", actor, sessionID, VerdictTherapist)
}

func (r *RecoveryService) noShow(ctx context.Context, op string, actor domain.Actor, sessionID string, v Verdict) (*Outcome, error) {
	if err := r.authorize(ctx, op, actor, recoveryCallers); err != nil {
		return nil, err
	}
	target, reason := domain.SessionNoShowClient, "client did not attend"
	if v == VerdictTherapist {
		target, reason = domain.SessionNoShowTherapist, "therapist did not attend"
	}
	var actions []transition.Action
	res, err := r.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID: sessionID,
		Entity:    domain.EntitySession,
		Action:    domain.AuditNoShowRecorded,
		Actor:     actor,
		Reason:    reason,
		Apply: func(ctx context.Context, _ *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			now := r.now()
			before := *s
			s.SetStatus(target, reason, now)
			endVideo(s, now)
			var amount int64
			if v == VerdictTherapist && s.Payment == domain.PaymentConfirmed && s.Refund == domain.RefundNone {
				amount = s.Price
				s.SetRefund(domain.RefundRequested, now)
				s.RefundAmount = amount
			}
			var err error
			if actions, err = r.validate(ctx, op, &before, s); err != nil {
				return atomicupdate.Change{}, err
			}
			return atomicupdate.Change{
				OldValue: before.Status.String(), NewValue: s.Status.String(),
				Metadata: map[string]any{"no_show_party": string(v), "refund_amount": amount},
			}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s := res.Session
	r.announce(ctx, s, actions, r.noShowNotices(s, v)...)

	out := outcomeOf(res, actions)
	out.RefundAmount = s.RefundAmount
	if v == VerdictTherapist {
		out.RefundPercent = 100
	}
	if s.Refund == domain.RefundRequested {
		refunded, err := r.refunds.Process(ctx, domain.ActorSystem, s.ID)
		if err != nil {
			slog.ErrorContext(ctx, "refund after therapist no-show failed", "session_id", s.ID, "error", err)
			return out, nil
		}
		out.Session = refunded.Session
		out.Actions = appendUnique(out.Actions, refunded.Actions...)
	}
	return out, nil
}

func (r *RecoveryService) noShowNotices(s *domain.Session, v Verdict) []notify.Event {
	now := r.now()
	fields := map[string]any{"no_show_party": string(v), "refund_amount": s.RefundAmount, "currency": s.Currency}
	return []notify.Event{
		{Kind: notify.KindNoShow, Audience: notify.AudienceClient, RecipientID: s.ClientID, SessionID: s.ID,
			Severity: notify.SeverityWarning, Message: "Session recorded as a no-show.", Fields: fields, At: now},
		{Kind: notify.KindNoShow, Audience: notify.AudienceTherapist, RecipientID: s.TherapistID, SessionID: s.ID,
			Severity: notify.SeverityWarning, Message: "Session recorded as a no-show.", Fields: fields, At: now},
	}
}

// HandleTechnicalFailure cancels a session the platform could not deliver
// and refunds it in full.
func (r *RecoveryService) HandleTechnicalFailure(ctx context.Context, actor domain.Actor, sessionID, detail string) (*Outcome, error) {
	const op = "HandleTechnicalFailure"
	if err := r.authorize(ctx, op, actor, recoveryCallers); err != nil {
		return nil, err
	}
	reason := "technical failure: " + detail
	var actions []transition.Action
	res, err := r.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID:       sessionID,
		Entity:          domain.EntitySession,
		Action:          domain.AuditTechnicalFailure,
		Actor:           actor,
		Reason:          reason,
		NotifyOnFailure: true,
		Apply: func(ctx context.Context, _ *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			if s.Status != domain.SessionReady && s.Status != domain.SessionInProgress {
				return atomicupdate.Change{}, notAllowed("technical failure", s)
			}
			now := r.now()
			before := *s
			s.SetStatus(domain.SessionCancelled, reason, now)
			endVideo(s, now)
			if s.Payment == domain.PaymentConfirmed && s.Refund == domain.RefundNone {
				s.SetRefund(domain.RefundRequested, now)
				s.RefundAmount = s.Price
			}
			var err error
			if actions, err = r.validate(ctx, op, &before, s); err != nil {
				return atomicupdate.Change{}, err
			}
			return atomicupdate.Change{
				OldValue: before.Status.String(), NewValue: s.Status.String(),
				Metadata: map[string]any{"detail": detail, "refund_amount": s.RefundAmount},
			}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("handle technical failure: %w", err)
	}
	s := res.Session
	r.announce(ctx, s, actions, r.alert(notify.KindTechnicalFailure, notify.SeverityWarning, s,
		"Session cancelled after a technical failure.", map[string]any{"detail": detail}))

	out := outcomeOf(res, actions)
	out.RefundPercent = 100
	out.RefundAmount = s.RefundAmount
	if s.Refund == domain.RefundRequested {
		refunded, err := r.refunds.Process(ctx, domain.ActorSystem, s.ID)
		if err != nil {
			slog.ErrorContext(ctx, "refund after technical failure failed", "session_id", s.ID, "error", err)
			return out, nil
		}
		out.Session = refunded.Session
		out.Actions = appendUnique(out.Actions, refunded.Actions...)
	}
	return out, nil
}

// ScanNoShows inspects every ready session and records the no-shows it can
// decide. Sessions where neither party appeared are escalated, not mutated.
// Failures on one session do not stop the scan.
func (r *RecoveryService) ScanNoShows(ctx context.Context, actor domain.Actor) ([]NoShowResult, error) {
	if err := r.authorize(ctx, "ScanNoShows", actor, recoveryCallers); err != nil {
		return nil, err
	}
	ready, err := r.Store.ListSessionsByStatus(ctx, domain.SessionReady)
	if err != nil {
		return nil, fmt.Errorf("scan no-shows: %w", err)
	}
	now := r.now()
	var results []NoShowResult
	for _, s := range ready {
		v := ClassifyNoShow(s, now, r.Policy.NoShowGrace)
		if v == VerdictNone {
			continue
		}
		res := NoShowResult{SessionID: s.ID, Verdict: v}
		switch v {
		case VerdictClient:
			res.Outcome, res.Err = r.ProcessClientNoShow(ctx, actor, s.ID)
		case VerdictTherapist:
			res.Outcome, res.Err = r.ProcessTherapistNoShow(ctx, actor, s.ID)
		case VerdictManualReview:
			slog.WarnContext(ctx, "no-show with both parties absent; manual review required", "session_id", s.ID)
			notify.Send(ctx, r.Notifier, r.alert(notify.KindNoShowReview, notify.SeverityUrgent, s,
				"Neither participant joined; decide the no-show manually.",
				map[string]any{"scheduled_at": s.ScheduledAt}))
		}
		if res.Err != nil {
			slog.ErrorContext(ctx, "no-show processing failed", "session_id", s.ID, "verdict", v, "error", res.Err)
		}
		results = append(results, res)
	}
	return results, nil
}

// Cleanup implements stuck.Cleaner. Every cleanup goes through the same
// write paths as live traffic.
func (r *RecoveryService) Cleanup(ctx context.Context, f stuck.Finding) error {
	reason := fmt.Sprintf("stuck in %s %s for %s", f.EntityType, f.State, f.Elapsed.Round(time.Minute))
	var err error
	switch {
	case f.EntityType == domain.EntityPayment && f.State == domain.PaymentInitiated.String():
		_, err = r.payments.UpdateState(ctx, domain.ActorSystem, f.SessionID, domain.PaymentFailed, reason)
	case f.EntityType == domain.EntitySession &&
		(f.State == domain.SessionApproved.String() || f.State == domain.SessionPaymentPending.String()):
		_, err = r.cancels.CancelSession(ctx, domain.ActorSystem, CancelRequest{SessionID: f.SessionID, Reason: reason})
	case f.EntityType == domain.EntityRefund && f.State == domain.RefundRequested.String():
		_, err = r.refunds.Process(ctx, domain.ActorSystem, f.SessionID)
	default:
		err = fmt.Errorf("no automatic cleanup for %s %s", f.EntityType, f.State)
	}
	if err != nil && !errors.Is(err, ErrNotAllowed) {
		return fmt.Errorf("cleanup %s: %w", f.SessionID, err)
	}
	return err
}
