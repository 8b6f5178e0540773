package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/flowguard/internal/atomicupdate"
	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/ids"
	"github.com/roach88/flowguard/internal/store"
	"github.com/roach88/flowguard/internal/transition"
)

// Participant is one side of a session.
type Participant string

const (
	ParticipantClient    Participant = "client"
	ParticipantTherapist Participant = "therapist"
)

// SessionService drives the booking lifecycle steps that are not payment,
// cancellation, refund, rescheduling or recovery.
type SessionService struct {
	base
	ids ids.Generator
}

// NewSessionService creates a SessionService.
func NewSessionService(d Deps, gen ids.Generator) *SessionService {
	return &SessionService{base: base{Deps: d, name: "SessionService"}, ids: gen}
}

// NewSession describes a booking request.
type NewSession struct {
	ClientID        string
	TherapistID     string
	SessionType     string
	ScheduledAt     time.Time
	DurationMinutes int
	Price           int64
	Currency        string
	FormsRequired   bool
}

func (n NewSession) validate(now time.Time) error {
	var missing []string
	if n.ClientID == "" {
		missing = append(missing, "client")
	}
	if n.TherapistID == "" {
		missing = append(missing, "therapist")
	}
	if n.Currency == "" {
		missing = append(missing, "currency")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if n.Price < 0 {
		return fmt.Errorf("%w: negative price", ErrInvalidRequest)
	}
	if !n.ScheduledAt.After(now) {
		return fmt.Errorf("%w: session must start in the future", ErrInvalidRequest)
	}
	return nil
}

// Create books a new session in requested/pending/not_started.
func (ss *SessionService) Create(ctx context.Context, actor domain.Actor, n NewSession) (*Outcome, error) {
	if err := ss.authorize(ctx, "Create", actor, sessionCallers); err != nil {
		return nil, err
	}
	now := ss.now()
	if err := n.validate(now); err != nil {
		return nil, err
	}
	if n.DurationMinutes <= 0 {
		n.DurationMinutes = domain.DefaultDurationMinutes
	}
	s := &domain.Session{
		ID:               ss.ids.NewID(),
		ClientID:         n.ClientID,
		TherapistID:      n.TherapistID,
		SessionType:      n.SessionType,
		ScheduledAt:      n.ScheduledAt.UTC(),
		DurationMinutes:  n.DurationMinutes,
		Payment:          domain.PaymentPending,
		Status:           domain.SessionRequested,
		Video:            domain.VideoNotStarted,
		Refund:           domain.RefundNone,
		Price:            n.Price,
		Currency:         n.Currency,
		FormsRequired:    n.FormsRequired,
		PaymentChangedAt: now,
		StatusChangedAt:  now,
		VideoChangedAt:   now,
		RefundChangedAt:  now,
		StatusReason:     "booking requested",
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	res, err := ss.Updater.Create(ctx, s, actor, "booking requested")
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return outcomeOf(res, nil), nil
}

// move runs a state-changing lifecycle step.
func (ss *SessionService) move(ctx context.Context, op string, actor domain.Actor, sessionID string, entity domain.EntityType, reason string,
	change func(s *domain.Session, now time.Time) error) (*Outcome, error) {
	if err := ss.authorize(ctx, op, actor, sessionCallers); err != nil {
		return nil, err
	}
	var actions []transition.Action
	action := domain.AuditSessionTransition
	if entity == domain.EntityVideo {
		action = domain.AuditVideoTransition
	}
	res, err := ss.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID:       sessionID,
		Entity:          entity,
		Action:          action,
		Actor:           actor,
		Reason:          reason,
		NotifyOnFailure: true,
		Apply: func(ctx context.Context, _ *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			before := *s
			if err := change(s, ss.now()); err != nil {
				return atomicupdate.Change{}, err
			}
			var err error
			if actions, err = ss.validate(ctx, op, &before, s); err != nil {
				return atomicupdate.Change{}, err
			}
			if entity == domain.EntityVideo {
				return atomicupdate.Change{OldValue: before.Video.String(), NewValue: s.Video.String()}, nil
			}
			return atomicupdate.Change{OldValue: before.Status.String(), NewValue: s.Status.String()}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.ToLower(op), err)
	}
	ss.announce(ctx, res.Session, actions)
	return outcomeOf(res, actions), nil
}

// Approve accepts a requested booking.
func (ss *SessionService) Approve(ctx context.Context, actor domain.Actor, sessionID string) (*Outcome, error) {
	return ss.move(ctx, "Approve", actor, sessionID, domain.EntitySession, "therapist approved",
		func(s *domain.Session, now time.Time) error {
			s.SetStatus(domain.SessionApproved, "therapist approved", now)
			return nil
		})
}

// Decline rejects a requested booking. No payment was taken.
func (ss *SessionService) Decline(ctx context.Context, actor domain.Actor, sessionID, reason string) (*Outcome, error) {
	return ss.move(ctx, "Decline", actor, sessionID, domain.EntitySession, reason,
		func(s *domain.Session, now time.Time) error {
			s.SetStatus(domain.SessionDeclined, reason, now)
			return nil
		})
}

// RequireForms moves a paid session to forms_required.
func (ss *SessionService) RequireForms(ctx context.Context, actor domain.Actor, sessionID string) (*Outcome, error) {
	return ss.move(ctx, "RequireForms", actor, sessionID, domain.EntitySession, "intake forms required",
		func(s *domain.Session, now time.Time) error {
			s.FormsRequired = true
			s.SetStatus(domain.SessionFormsRequired, "intake forms required", now)
			return nil
		})
}

// MarkReady moves a paid session whose forms are satisfied to ready.
func (ss *SessionService) MarkReady(ctx context.Context, actor domain.Actor, sessionID string) (*Outcome, error) {
	return ss.move(ctx, "MarkReady", actor, sessionID, domain.EntitySession, "session ready",
		func(s *domain.Session, now time.Time) error {
			s.SetStatus(domain.SessionReady, "session ready", now)
			return nil
		})
}

// Start moves a ready session to in_progress.
func (ss *SessionService) Start(ctx context.Context, actor domain.Actor, sessionID string) (*Outcome, error) {
	return ss.move(ctx, "Start", actor, sessionID, domain.EntitySession, "session started",
		func(s *domain.Session, now time.Time) error {
			s.SetStatus(domain.SessionInProgress, "session started", now)
			return nil
		})
}

// Complete finishes an in-progress session and ends its video room.
func (ss *SessionService) Complete(ctx context.Context, actor domain.Actor, sessionID string) (*Outcome, error) {
	return ss.move(ctx, "Complete", actor, sessionID, domain.EntitySession, "session completed",
		func(s *domain.Session, now time.Time) error {
			s.SetStatus(domain.SessionCompleted, "session completed", now)
			endVideo(s, now)
			return nil
		})
}

// OpenVideoRoom opens the room of a ready session.
func (ss *SessionService) OpenVideoRoom(ctx context.Context, actor domain.Actor, sessionID string) (*Outcome, error) {
	return ss.move(ctx, "OpenVideoRoom", actor, sessionID, domain.EntityVideo, "video room opened",
		func(s *domain.Session, now time.Time) error {
			s.SetVideo(domain.VideoWaitingForParticipants, now)
			return nil
		})
}

// JoinVideo records a participant joining and activates the call.
func (ss *SessionService) JoinVideo(ctx context.Context, actor domain.Actor, sessionID string, who Participant) (*Outcome, error) {
	return ss.move(ctx, "JoinVideo", actor, sessionID, domain.EntityVideo, string(who)+" joined video",
		func(s *domain.Session, now time.Time) error {
			if err := markActivity(s, who, now); err != nil {
				return err
			}
			s.SetVideo(domain.VideoActive, now)
			return nil
		})
}

// EndVideo closes the video room.
func (ss *SessionService) EndVideo(ctx context.Context, actor domain.Actor, sessionID string) (*Outcome, error) {
	return ss.move(ctx, "EndVideo", actor, sessionID, domain.EntityVideo, "video ended",
		func(s *domain.Session, now time.Time) error {
			s.SetVideo(domain.VideoEnded, now)
			return nil
		})
}

func markActivity(s *domain.Session, who Participant, now time.Time) error {
	t := now
	switch who {
	case ParticipantClient:
		s.ClientLastActivityAt = &t
	case ParticipantTherapist:
		s.TherapistLastActivityAt = &t
	default:
		return fmt.Errorf("%w: unknown participant %q", ErrInvalidRequest, who)
	}
	return nil
}

// RecordActivity stamps a participant's last activity, used by no-show
// detection. No state machine moves.
func (ss *SessionService) RecordActivity(ctx context.Context, actor domain.Actor, sessionID string, who Participant) (*Outcome, error) {
	if err := ss.authorize(ctx, "RecordActivity", actor, sessionCallers); err != nil {
		return nil, err
	}
	res, err := ss.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID: sessionID,
		Entity:    domain.EntitySession,
		Action:    domain.AuditActivityRecorded,
		Actor:     actor,
		Reason:    string(who) + " active",
		Apply: func(_ context.Context, _ *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			if s.Status.IsTerminal() {
				return atomicupdate.Change{}, notAllowed("record activity", s)
			}
			if err := markActivity(s, who, ss.now()); err != nil {
				return atomicupdate.Change{}, err
			}
			return atomicupdate.Change{NewValue: string(who)}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("record activity: %w", err)
	}
	return outcomeOf(res, nil), nil
}

// CompleteForms marks the intake forms complete.
func (ss *SessionService) CompleteForms(ctx context.Context, actor domain.Actor, sessionID string) (*Outcome, error) {
	if err := ss.authorize(ctx, "CompleteForms", actor, sessionCallers); err != nil {
		return nil, err
	}
	res, err := ss.Updater.Apply(ctx, atomicupdate.Mutation{
		SessionID: sessionID,
		Entity:    domain.EntitySession,
		Action:    domain.AuditFormsCompleted,
		Actor:     actor,
		Reason:    "intake forms submitted",
		Apply: func(_ context.Context, _ *store.Tx, s *domain.Session) (atomicupdate.Change, error) {
			if s.Status.IsTerminal() {
				return atomicupdate.Change{}, notAllowed("complete forms", s)
			}
			s.FormsComplete = true
			return atomicupdate.Change{OldValue: "incomplete", NewValue: "complete"}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("complete forms: %w", err)
	}
	return outcomeOf(res, nil), nil
}
