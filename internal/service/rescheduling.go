package service

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/flowguard/internal/atomicupdate"
	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/notify"
	"github.com/roach88/flowguard/internal/store"
)

// ReschedulingService moves sessions to new slots.
//
// Requests made at least Policy.RescheduleNotice before the current start
// apply immediately; later ones wait for the therapist. Each session may be
// moved at most Policy.MaxReschedules times, and the new slot must not
// overlap another of the therapist's open sessions.
type ReschedulingService struct {
	base
}

// NewReschedulingService creates a ReschedulingService.
func NewReschedulingService(d Deps) *ReschedulingService {
	return &ReschedulingService{base{Deps: d, name: "ReschedulingService"}}
}

func reschedulable(s *domain.Session) bool {
	switch s.Status {
	case domain.SessionRequested, domain.SessionApproved, domain.SessionPaymentPending,
		domain.SessionPaid, domain.SessionFormsRequired, domain.SessionReady:
		return true
	}
	return false
}

// checkSlot verifies the limit and the therapist's availability for start.
func (r *ReschedulingService) checkSlot(ctx context.Context, tx *store.Tx, s *domain.Session, start time.Time) error {
	if s.RescheduleCount >= r.Policy.MaxReschedules {
		return fmt.Errorf("session %s rescheduled %d times: %w", s.ID, s.RescheduleCount, ErrRescheduleLimit)
	}
	others, err := tx.TherapistSessions(ctx, s.TherapistID, s.ID)
	if err != nil {
		return err
	}
	for _, o := range others {
		if o.Overlaps(start, s.Duration()) {
			return fmt.Errorf("slot %s overlaps session %s: %w", start.Format(time.RFC3339), o.ID, ErrSlotUnavailable)
		}
	}
	return nil
}

func moveSlot(s *domain.Session, start time.Time) {
	s.ScheduledAt = start.UTC()
	s.RescheduleCount++
	s.PendingRescheduleAt = nil
	s.PendingRescheduleBy = ""
}

// RequestReschedule asks to move a session to start. requestedBy names the
// participant asking.
func (r *ReschedulingService) RequestReschedule(ctx context.Context, actor domain.Actor, sessionID string, start time.Time, requestedBy string) (*Outcome, error) {
	if err := r.authorize(ctx, "RequestReschedule", actor, rescheduleCallers); err != nil {
		return nil, err
	}
	var pending bool
	res, err := r.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID:       sessionID,
		Entity:          domain.EntitySession,
		Action:          domain.AuditRescheduleApplied,
		Actor:           actor,
		Reason:          "reschedule requested by " + requestedBy,
		NotifyOnFailure: true,
		Apply: func(ctx context.Context, tx *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			now := r.now()
			if !reschedulable(s) {
				return atomicupdate.Change{}, notAllowed("reschedule", s)
			}
			if s.PendingRescheduleAt != nil {
				return atomicupdate.Change{}, fmt.Errorf("session %s: %w", s.ID, ErrReschedulePending)
			}
			if !start.After(now) {
				return atomicupdate.Change{}, fmt.Errorf("%w: new slot must be in the future", ErrInvalidRequest)
			}
			if err := r.checkSlot(ctx, tx, s, start); err != nil {
				return atomicupdate.Change{}, err
			}
			old := s.ScheduledAt.Format(time.RFC3339)
			meta := map[string]any{
				"requested_by":   requestedBy,
				"notice_minutes": int64(s.TimeUntilStart(now).Minutes()),
			}
			if s.TimeUntilStart(now) < r.Policy.RescheduleNotice {
				pending = true
				at := start.UTC()
				s.PendingRescheduleAt = &at
				s.PendingRescheduleBy = requestedBy
				return atomicupdate.Change{
					OldValue: old, NewValue: at.Format(time.RFC3339),
					Action: domain.AuditRescheduleRequested, Metadata: meta,
				}, nil
			}
			moveSlot(s, start)
			meta["reschedule_count"] = s.RescheduleCount
			return atomicupdate.Change{OldValue: old, NewValue: s.ScheduledAt.Format(time.RFC3339), Metadata: meta}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("request reschedule: %w", err)
	}
	s := res.Session
	out := outcomeOf(res, nil)
	out.PendingApproval = pending
	if pending {
		notify.Send(ctx, r.Notifier, notify.Event{
			Kind: notify.KindRescheduleRequested, Audience: notify.AudienceTherapist, RecipientID: s.TherapistID,
			SessionID: s.ID, Severity: notify.SeverityInfo, Message: "A client asked to reschedule; approval required.",
			Fields: map[string]any{"proposed_start": *s.PendingRescheduleAt}, At: r.now(),
		})
	} else {
		r.announceMoved(ctx, s)
	}
	return out, nil
}

// ApproveReschedule applies a pending request after re-checking the limit and
// the slot.
func (r *ReschedulingService) ApproveReschedule(ctx context.Context, actor domain.Actor, sessionID string) (*Outcome, error) {
	if err := r.authorize(ctx, "ApproveReschedule", actor, rescheduleCallers); err != nil {
		return nil, err
	}
	res, err := r.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID:       sessionID,
		Entity:          domain.EntitySession,
		Action:          domain.AuditRescheduleApplied,
		Actor:           actor,
		Reason:          "therapist approved reschedule",
		NotifyOnFailure: true,
		Apply: func(ctx context.Context, tx *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			if s.PendingRescheduleAt == nil {
				return atomicupdate.Change{}, fmt.Errorf("session %s: %w", s.ID, ErrNoPendingReschedule)
			}
			if !reschedulable(s) {
				return atomicupdate.Change{}, notAllowed("approve reschedule", s)
			}
			start := *s.PendingRescheduleAt
			if err := r.checkSlot(ctx, tx, s, start); err != nil {
				return atomicupdate.Change{}, err
			}
			old := s.ScheduledAt.Format(time.RFC3339)
			by := s.PendingRescheduleBy
			moveSlot(s, start)
			return atomicupdate.Change{
				OldValue: old, NewValue: s.ScheduledAt.Format(time.RFC3339),
				Metadata: map[string]any{"requested_by": by, "reschedule_count": s.RescheduleCount},
			}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("approve reschedule: %w", err)
	}
	r.announceMoved(ctx, res.Session)
	return outcomeOf(res, nil), nil
}

// DeclineReschedule drops a pending request; the session keeps its slot.
func (r *ReschedulingService) DeclineReschedule(ctx context.Context, actor domain.Actor, sessionID, reason string) (*Outcome, error) {
	if err := r.authorize(ctx, "DeclineReschedule", actor, rescheduleCallers); err != nil {
		return nil, err
	}
	res, err := r.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID: sessionID,
		Entity:    domain.EntitySession,
		Action:    domain.AuditRescheduleDeclined,
		Actor:     actor,
		Reason:    reason,
		Apply: func(_ context.Context, _ *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			if s.PendingRescheduleAt == nil {
				return atomicupdate.Change{}, fmt.Errorf("session %s: %w", s.ID, ErrNoPendingReschedule)
			}
			proposed := s.PendingRescheduleAt.Format(time.RFC3339)
			s.PendingRescheduleAt = nil
			s.PendingRescheduleBy = ""
			return atomicupdate.Change{OldValue: proposed, NewValue: s.ScheduledAt.Format(time.RFC3339)}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decline reschedule: %w", err)
	}
	s := res.Session
	notify.Send(ctx, r.Notifier, notify.Event{
		Kind: notify.KindRescheduleDeclined, Audience: notify.AudienceClient, RecipientID: s.ClientID,
		SessionID: s.ID, Severity: notify.SeverityInfo, Message: "Your reschedule request was declined.",
		Fields: map[string]any{"reason": reason}, At: r.now(),
	})
	return outcomeOf(res, nil), nil
}

func (r *ReschedulingService) announceMoved(ctx context.Context, s *domain.Session) {
	fields := map[string]any{"scheduled_at": s.ScheduledAt, "reschedule_count": s.RescheduleCount}
	now := r.now()
	notify.Send(ctx, r.Notifier,
		notify.Event{Kind: notify.KindRescheduled, Audience: notify.AudienceClient, RecipientID: s.ClientID,
			SessionID: s.ID, Severity: notify.SeverityInfo, Message: "Session rescheduled.", Fields: fields, At: now},
		notify.Event{Kind: notify.KindRescheduled, Audience: notify.AudienceTherapist, RecipientID: s.TherapistID,
			SessionID: s.ID, Severity: notify.SeverityInfo, Message: "Session rescheduled.", Fields: fields, At: now},
	)
}
