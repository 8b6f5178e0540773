package transition

import (
	"fmt"

	"github.com/roach88/flowguard/internal/domain"
)

// Snapshot is the cross-entity combination of one session.
type Snapshot struct {
	Payment       domain.PaymentState
	Session       domain.SessionState
	Video         domain.VideoState
	FormsRequired bool
	FormsComplete bool
}

// SnapshotOf extracts the combination from a session aggregate.
func SnapshotOf(s *domain.Session) Snapshot {
	return Snapshot{
		Payment:       s.Payment,
		Session:       s.Status,
		Video:         s.Video,
		FormsRequired: s.FormsRequired,
		FormsComplete: s.FormsComplete,
	}
}

// formsSatisfied reports whether intake forms no longer block the session.
func (s Snapshot) formsSatisfied() bool {
	return !s.FormsRequired || s.FormsComplete
}

// Action is a side effect the caller must carry out for a combination.
type Action string

const (
	ActionAlertClientRetryPayment Action = "alert_client_retry_payment"
	ActionNotifySessionConfirmed  Action = "notify_session_confirmed"
	ActionRequestForms            Action = "request_forms"
	ActionIssueRefund             Action = "issue_refund"
	ActionNotifyCancellation      Action = "notify_cancellation"
)

// SyncResult carries the actions implied by a valid combination.
type SyncResult struct {
	Actions []Action
}

// Has reports whether a is among the required actions.
func (r SyncResult) Has(a Action) bool {
	for _, x := range r.Actions {
		if x == a {
			return true
		}
	}
	return false
}

type sessionSet uint32

func sessionsOf(states ...domain.SessionState) sessionSet {
	var set sessionSet
	for _, s := range states {
		set |= 1 << s
	}
	return set
}

func (set sessionSet) has(s domain.SessionState) bool {
	return s.Valid() && set&(1<<s) != 0
}

var postPayment = sessionsOf(
	domain.SessionPaid, domain.SessionFormsRequired, domain.SessionReady, domain.SessionInProgress,
	domain.SessionCompleted, domain.SessionCancelled, domain.SessionNoShowClient, domain.SessionNoShowTherapist,
)

var allSessions = sessionSet(1<<domain.NumSessionStates - 1)

// paymentPairs lists the session states each payment state may coexist with.
var paymentPairs = [domain.NumPaymentStates]sessionSet{
	domain.PaymentPending: sessionsOf(
		domain.SessionRequested, domain.SessionApproved, domain.SessionDeclined,
		domain.SessionPaymentPending, domain.SessionCancelled,
	),
	domain.PaymentInitiated: sessionsOf(domain.SessionPaymentPending),
	domain.PaymentConfirmed: postPayment,
	domain.PaymentFailed:    sessionsOf(domain.SessionPaymentPending),
	domain.PaymentRefunded: sessionsOf(
		domain.SessionCancelled, domain.SessionCompleted,
		domain.SessionNoShowClient, domain.SessionNoShowTherapist,
	),
	domain.PaymentCancelled: sessionsOf(domain.SessionCancelled, domain.SessionDeclined),
}

// videoPairs lists the session states each video state may coexist with.
var videoPairs = [domain.NumVideoStates]sessionSet{
	domain.VideoNotStarted:             allSessions,
	domain.VideoWaitingForParticipants: sessionsOf(domain.SessionReady, domain.SessionInProgress),
	domain.VideoActive:                 sessionsOf(domain.SessionReady, domain.SessionInProgress),
	domain.VideoEnded: sessionsOf(
		domain.SessionInProgress, domain.SessionCompleted, domain.SessionCancelled,
		domain.SessionNoShowClient, domain.SessionNoShowTherapist,
	),
}

func syncError(entity domain.EntityType, format string, args ...any) *Error {
	return &Error{Code: CodeSyncViolation, Entity: entity, Message: fmt.Sprintf(format, args...)}
}

// CheckSync verifies that the combination is one of the allowed pairings and
// returns the actions it requires.
func CheckSync(s Snapshot) (SyncResult, error) {
	if !s.Payment.Valid() || !s.Session.Valid() || !s.Video.Valid() {
		return SyncResult{}, syncError("", "snapshot holds an unknown state")
	}
	if !paymentPairs[s.Payment].has(s.Session) {
		return SyncResult{}, syncError(domain.EntityPayment,
			"payment %s cannot coexist with session %s", s.Payment, s.Session)
	}
	if !videoPairs[s.Video].has(s.Session) {
		return SyncResult{}, syncError(domain.EntityVideo,
			"video %s cannot coexist with session %s", s.Video, s.Session)
	}
	if s.Video == domain.VideoActive && s.Payment != domain.PaymentConfirmed {
		return SyncResult{}, syncError(domain.EntityVideo,
			"video active while payment is %s", s.Payment)
	}
	if !s.formsSatisfied() {
		switch s.Session {
		case domain.SessionReady, domain.SessionInProgress:
			return SyncResult{}, syncError(domain.EntitySession,
				"session %s with intake forms incomplete", s.Session)
		}
		if s.Video == domain.VideoWaitingForParticipants || s.Video == domain.VideoActive {
			return SyncResult{}, syncError(domain.EntityVideo,
				"video %s with intake forms incomplete", s.Video)
		}
	}

	var res SyncResult
	switch {
	case s.Payment == domain.PaymentFailed && s.Session == domain.SessionPaymentPending:
		res.Actions = append(res.Actions, ActionAlertClientRetryPayment)
	case s.Payment == domain.PaymentConfirmed && s.Session == domain.SessionPaid:
		res.Actions = append(res.Actions, ActionNotifySessionConfirmed)
	case s.Payment == domain.PaymentRefunded:
		res.Actions = append(res.Actions, ActionIssueRefund)
	}
	if s.Session == domain.SessionFormsRequired && !s.FormsComplete {
		res.Actions = append(res.Actions, ActionRequestForms)
	}
	if s.Session == domain.SessionCancelled {
		res.Actions = append(res.Actions, ActionNotifyCancellation)
	}
	return res, nil
}
