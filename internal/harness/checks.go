package harness

import (
	"context"
	"fmt"

	"github.com/roach88/flowguard/internal/app"
	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/transition"
)

// transitionActions are the audit actions whose old and new values are
// states of the entry's entity.
var transitionActions = map[string]bool{
	domain.AuditPaymentTransition: true,
	domain.AuditSessionTransition: true,
	domain.AuditVideoTransition:   true,
	domain.AuditRefundTransition:  true,
}

// CheckCombinations verifies that every stored session holds an allowed
// combination of payment, session and video states.
func CheckCombinations(ctx context.Context, a *app.App) []error {
	sessions, err := a.Store.ListSessions(ctx)
	if err != nil {
		return []error{err}
	}
	var errs []error
	for _, s := range sessions {
		if _, err := transition.CheckSync(transition.SnapshotOf(s)); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID, err))
		}
	}
	return errs
}

// CheckAuditedTransitions verifies that every audited state move is allowed
// by its machine. Only meaningful when the run never lowered enforcement.
func CheckAuditedTransitions(ctx context.Context, a *app.App) []error {
	sessions, err := a.Store.ListSessions(ctx)
	if err != nil {
		return []error{err}
	}
	var errs []error
	for _, s := range sessions {
		entries, err := a.Store.ListAudit(ctx, s.ID)
		if err != nil {
			return append(errs, err)
		}
		for _, e := range entries {
			if !transitionActions[e.Action] || e.Duplicate || e.OldValue == e.NewValue {
				continue
			}
			if err := transition.Validate(e.EntityType, e.OldValue, e.NewValue); err != nil {
				errs = append(errs, fmt.Errorf("session %s audit %d: %w", s.ID, e.Seq, err))
			}
		}
	}
	return errs
}
