package transition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/flowguard/internal/domain"
)

// ErrorCode categorizes validation failures.
type ErrorCode string

const (
	// CodeInvalidTransition indicates the move is not in the entity's table.
	CodeInvalidTransition ErrorCode = "INVALID_STATE_TRANSITION"

	// CodeForbidden indicates a blacklisted bypass attempt.
	CodeForbidden ErrorCode = "FORBIDDEN_TRANSITION_BLOCKED"

	// CodeSyncViolation indicates an inconsistent cross-entity combination.
	CodeSyncViolation ErrorCode = "SYNC_VIOLATION"
)

// Error is returned by every check in this package.
type Error struct {
	Code     ErrorCode
	Entity   domain.EntityType
	From     string
	To       string
	Allowed  []string
	Category Category
	Message  string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.From != "" || e.To != "" {
		fmt.Fprintf(&b, " (%s %s -> %s)", e.Entity, e.From, e.To)
	}
	if e.Code == CodeInvalidTransition && e.From != "" {
		if len(e.Allowed) == 0 {
			b.WriteString("; no transitions allowed")
		} else {
			fmt.Fprintf(&b, "; allowed: %s", strings.Join(e.Allowed, ", "))
		}
	}
	return b.String()
}

// BlocksUnderWarn reports whether warn mode must still block this error.
// Forbidden bypass attempts are security events and are only skipped when
// enforcement is off.
func (e *Error) BlocksUnderWarn() bool { return e.Code == CodeForbidden }

func hasCode(err error, code ErrorCode) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// IsInvalid reports whether err is an InvalidStateTransition.
func IsInvalid(err error) bool { return hasCode(err, CodeInvalidTransition) }

// IsForbidden reports whether err is a ForbiddenTransitionBlocked.
func IsForbidden(err error) bool { return hasCode(err, CodeForbidden) }

// IsSyncViolation reports whether err is a cross-entity sync violation.
func IsSyncViolation(err error) bool { return hasCode(err, CodeSyncViolation) }

// IsViolation reports whether err came from this package at all.
func IsViolation(err error) bool {
	var te *Error
	return errors.As(err, &te)
}
