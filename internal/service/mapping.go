package service

import (
	"time"

	"github.com/roach88/flowguard/internal/domain"
)

// sessionForPayment is the static cross-entity mapping from a payment state
// to the session state it drives. Pending has no session counterpart.
var sessionForPayment = [domain.NumPaymentStates]struct {
	target domain.SessionState
	ok     bool
}{
	domain.PaymentInitiated: {domain.SessionPaymentPending, true},
	domain.PaymentConfirmed: {domain.SessionPaid, true},
	domain.PaymentFailed:    {domain.SessionPaymentPending, true},
	domain.PaymentRefunded:  {domain.SessionCancelled, true},
	domain.PaymentCancelled: {domain.SessionCancelled, true},
}

// sessionTarget returns the session state a payment move drives from
// current, and whether the session must move at all. Terminal sessions stay
// where they are: refunds progress after terminality.
func sessionTarget(p domain.PaymentState, current domain.SessionState) (domain.SessionState, bool) {
	m := sessionForPayment[p]
	if !m.ok || m.target == current || current.IsTerminal() {
		return current, false
	}
	return m.target, true
}

// applyPayment moves the payment machine and the session it drives. A
// session driven into a terminal state also closes its open video room.
func applyPayment(s *domain.Session, p domain.PaymentState, reason string, now time.Time) {
	s.SetPayment(p, now)
	if target, move := sessionTarget(p, s.Status); move {
		s.SetStatus(target, reason, now)
		if target.IsTerminal() {
			endVideo(s, now)
		}
	}
}
