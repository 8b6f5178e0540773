package transition

import (
	"fmt"

	"github.com/roach88/flowguard/internal/domain"
)

// Validate checks a single move given by persisted state names.
// Unknown entities or states are rejected as invalid transitions.
func Validate(entity domain.EntityType, from, to string) error {
	switch entity {
	case domain.EntityPayment:
		return paymentMachine.checkNames(from, to)
	case domain.EntitySession:
		return sessionMachine.checkNames(from, to)
	case domain.EntityVideo:
		return videoMachine.checkNames(from, to)
	case domain.EntityRefund:
		return refundMachine.checkNames(from, to)
	}
	return &Error{
		Code:    CodeInvalidTransition,
		Entity:  entity,
		From:    from,
		To:      to,
		Message: fmt.Sprintf("unknown entity type %q", entity),
	}
}

// CheckPayment validates a payment move.
func CheckPayment(from, to domain.PaymentState) error { return paymentMachine.check(from, to) }

// CheckSession validates a session move.
func CheckSession(from, to domain.SessionState) error { return sessionMachine.check(from, to) }

// CheckVideo validates a video move.
func CheckVideo(from, to domain.VideoState) error { return videoMachine.check(from, to) }

// CheckRefund validates a refund move.
func CheckRefund(from, to domain.RefundState) error { return refundMachine.check(from, to) }

// Allowed returns the persisted names reachable from the given state.
func Allowed(entity domain.EntityType, from string) ([]string, error) {
	switch entity {
	case domain.EntityPayment:
		s, err := domain.ParsePaymentState(from)
		if err != nil {
			return nil, err
		}
		return paymentMachine.names(paymentMachine.allowed(s)), nil
	case domain.EntitySession:
		s, err := domain.ParseSessionState(from)
		if err != nil {
			return nil, err
		}
		return sessionMachine.names(sessionMachine.allowed(s)), nil
	case domain.EntityVideo:
		s, err := domain.ParseVideoState(from)
		if err != nil {
			return nil, err
		}
		return videoMachine.names(videoMachine.allowed(s)), nil
	case domain.EntityRefund:
		s, err := domain.ParseRefundState(from)
		if err != nil {
			return nil, err
		}
		return refundMachine.names(refundMachine.allowed(s)), nil
	}
	return nil, fmt.Errorf("unknown entity type %q", entity)
}

// Proposal is a single-entity move, optionally checked against the current
// cross-entity combination.
type Proposal struct {
	Entity  domain.EntityType
	From    string
	To      string
	Current *Snapshot
}

// ValidateProposal validates the move and, when Current is set, the
// combination that results from applying it.
func ValidateProposal(p Proposal) (SyncResult, error) {
	if err := Validate(p.Entity, p.From, p.To); err != nil {
		return SyncResult{}, err
	}
	if p.Current == nil {
		return SyncResult{}, nil
	}
	next := *p.Current
	switch p.Entity {
	case domain.EntityPayment:
		next.Payment, _ = domain.ParsePaymentState(p.To)
	case domain.EntitySession:
		next.Session, _ = domain.ParseSessionState(p.To)
	case domain.EntityVideo:
		next.Video, _ = domain.ParseVideoState(p.To)
	}
	return CheckSync(next)
}

// ValidateChange checks every machine that differs between before and after,
// then the combination of after. Services use it when one operation moves
// several machines at once.
func ValidateChange(before, after Snapshot) (SyncResult, error) {
	if before.Payment != after.Payment {
		if err := CheckPayment(before.Payment, after.Payment); err != nil {
			return SyncResult{}, err
		}
	}
	if before.Session != after.Session {
		if err := CheckSession(before.Session, after.Session); err != nil {
			return SyncResult{}, err
		}
	}
	if before.Video != after.Video {
		if err := CheckVideo(before.Video, after.Video); err != nil {
			return SyncResult{}, err
		}
	}
	return CheckSync(after)
}
