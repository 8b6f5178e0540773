package harness

import (
	"errors"

	"github.com/roach88/flowguard/internal/gateway"
	"github.com/roach88/flowguard/internal/invariant"
	"github.com/roach88/flowguard/internal/service"
	"github.com/roach88/flowguard/internal/store"
	"github.com/roach88/flowguard/internal/transition"
)

// Outcome names. A step's outcome is OutcomeOK or the class of its error.
const (
	OutcomeOK                  = "ok"
	OutcomeAuthority           = "authority"
	OutcomeNuclear             = "nuclear"
	OutcomeForbidden           = "forbidden"
	OutcomeSync                = "sync"
	OutcomeInvalid             = "invalid"
	OutcomeNotAllowed          = "not_allowed"
	OutcomeInvalidRequest      = "invalid_request"
	OutcomeRescheduleLimit     = "reschedule_limit"
	OutcomeSlotUnavailable     = "slot_unavailable"
	OutcomeReschedulePending   = "reschedule_pending"
	OutcomeNoPendingReschedule = "no_pending_reschedule"
	OutcomeUnknownCheckout     = "unknown_checkout"
	OutcomeGatewayTimeout      = "gateway_timeout"
	OutcomeGatewayRejected     = "gateway_rejected"
	OutcomeMalformed           = "malformed"
	OutcomeBadSignature        = "bad_signature"
	OutcomeNotFound            = "not_found"
	OutcomeError               = "error"
)

// Classify maps an operation error to its outcome name.
func Classify(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case service.IsAuthorityViolation(err):
		return OutcomeAuthority
	case invariant.IsNuclear(err):
		return OutcomeNuclear
	case transition.IsForbidden(err):
		return OutcomeForbidden
	case transition.IsSyncViolation(err):
		return OutcomeSync
	case transition.IsInvalid(err):
		return OutcomeInvalid
	}
	sentinels := []struct {
		err     error
		outcome string
	}{
		{service.ErrNotAllowed, OutcomeNotAllowed},
		{service.ErrInvalidRequest, OutcomeInvalidRequest},
		{service.ErrRescheduleLimit, OutcomeRescheduleLimit},
		{service.ErrSlotUnavailable, OutcomeSlotUnavailable},
		{service.ErrReschedulePending, OutcomeReschedulePending},
		{service.ErrNoPendingReschedule, OutcomeNoPendingReschedule},
		{service.ErrUnknownCheckout, OutcomeUnknownCheckout},
		{service.ErrGatewayTimeout, OutcomeGatewayTimeout},
		{gateway.ErrRejected, OutcomeGatewayRejected},
		{gateway.ErrMalformedCallback, OutcomeMalformed},
		{gateway.ErrBadSignature, OutcomeBadSignature},
		{store.ErrNotFound, OutcomeNotFound},
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.outcome
		}
	}
	return OutcomeError
}
