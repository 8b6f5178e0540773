package service

import (
	"context"
	"log/slog"

	"github.com/roach88/flowguard/internal/domain"
)

// actorSet is a closed set of callers.
type actorSet uint8

func actors(as ...domain.Actor) actorSet {
	var set actorSet
	for _, a := range as {
		set |= 1 << a
	}
	return set
}

func (set actorSet) has(a domain.Actor) bool {
	return a > 0 && a < 8 && set&(1<<a) != 0
}

func (set actorSet) list() []domain.Actor {
	var out []domain.Actor
	for a := domain.Actor(1); a < 8; a++ {
		if set.has(a) {
			out = append(out, a)
		}
	}
	return out
}

var (
	paymentCallers      = actors(domain.ActorPayment)
	paymentStateCallers = actors(domain.ActorPayment, domain.ActorAdmin, domain.ActorSystem)
	sessionCallers      = actors(domain.ActorSession, domain.ActorAdmin, domain.ActorSystem)
	cancelCallers       = actors(domain.ActorSession, domain.ActorAdmin, domain.ActorSystem)
	refundCallers       = actors(domain.ActorPayment, domain.ActorAdmin, domain.ActorSystem)
	rescheduleCallers   = actors(domain.ActorSession, domain.ActorAdmin)
	recoveryCallers     = actors(domain.ActorSystem, domain.ActorAdmin)
	adminCallers        = actors(domain.ActorAdmin)
)

func authorize(ctx context.Context, service, op string, actor domain.Actor, allowed actorSet) error {
	if allowed.has(actor) {
		return nil
	}
	err := &AuthorityError{Service: service, Operation: op, Actor: actor, Allowed: allowed.list()}
	slog.ErrorContext(ctx, "authority violation", "service", service, "operation", op, "actor", actor)
	return err
}
