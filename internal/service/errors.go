package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/flowguard/internal/domain"
)

var (
	// ErrGatewayTimeout means the provider did not answer in time. The
	// payment stays initiated and may be retried or confirmed by a callback.
	ErrGatewayTimeout = errors.New("payment gateway timed out; payment left initiated")

	// ErrUnknownCheckout is returned for callbacks quoting a reference no
	// session holds.
	ErrUnknownCheckout = errors.New("unknown checkout reference")

	// ErrNotAllowed is returned when the session's current state does not
	// permit the operation.
	ErrNotAllowed = errors.New("operation not allowed in current state")

	// ErrRescheduleLimit is returned once a session used every reschedule.
	ErrRescheduleLimit = errors.New("reschedule limit reached")

	// ErrSlotUnavailable is returned when the new slot overlaps another of
	// the therapist's sessions.
	ErrSlotUnavailable = errors.New("therapist not available for requested slot")

	// ErrReschedulePending is returned when a request awaits approval.
	ErrReschedulePending = errors.New("a reschedule request is already pending")

	// ErrNoPendingReschedule is returned when there is nothing to approve.
	ErrNoPendingReschedule = errors.New("no pending reschedule request")

	// ErrInvalidRequest is returned for malformed input.
	ErrInvalidRequest = errors.New("invalid request")
)

// CodeAuthority identifies calls from an actor outside the operation's set.
const CodeAuthority = "AUTHORITY_VIOLATION"

// AuthorityError is returned when a caller outside an operation's actor set
// tries to use a centralized write path. It is never downgraded.
type AuthorityError struct {
	Service   string
	Operation string
	Actor     domain.Actor
	Allowed   []domain.Actor
}

func (e *AuthorityError) Error() string {
	names := make([]string, len(e.Allowed))
	for i, a := range e.Allowed {
		names[i] = a.String()
	}
	return fmt.Sprintf("%s: %s.%s called by %s; allowed: %s",
		CodeAuthority, e.Service, e.Operation, e.Actor, strings.Join(names, ", "))
}

// IntegrityFatal marks the error as exempt from enforcement levels.
func (*AuthorityError) IntegrityFatal() {}

// IsAuthorityViolation reports whether err is an AuthorityError.
func IsAuthorityViolation(err error) bool {
	var ae *AuthorityError
	return errors.As(err, &ae)
}

func notAllowed(op string, s *domain.Session) error {
	return fmt.Errorf("%s: session %s is %s (payment %s): %w", op, s.ID, s.Status, s.Payment, ErrNotAllowed)
}
