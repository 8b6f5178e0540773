package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/integrity"
	"github.com/roach88/flowguard/internal/notify"
)

// enforcementEntity is the audit entity id for kill switch changes.
const enforcementEntity = "enforcement"

// AdminService changes and reports the enforcement level. Every call is
// audit-logged, reads included.
type AdminService struct {
	base
}

// NewAdminService creates an AdminService.
func NewAdminService(d Deps) *AdminService {
	return &AdminService{base: base{Deps: d, name: "AdminService"}}
}

// EnforcementChange describes a requested level change. Operator names the
// person behind the call; Emergency marks the break-glass path.
type EnforcementChange struct {
	Level     integrity.Level
	Operator  string
	Reason    string
	Emergency bool
}

// SetEnforcement changes the enforcement level. Only admins may call it,
// and a reason is required.
func (a *AdminService) SetEnforcement(ctx context.Context, actor domain.Actor, ch EnforcementChange) (integrity.Stats, error) {
	const op = "SetEnforcement"
	if err := a.authorize(ctx, op, actor, adminCallers); err != nil {
		return integrity.Stats{}, err
	}
	if ch.Reason == "" {
		return integrity.Stats{}, fmt.Errorf("%w: enforcement change needs a reason", ErrInvalidRequest)
	}
	prev := a.Integrity.Level()
	err := a.Integrity.SetLevel(ctx, ch.Level, integrity.AuthContext{
		Actor:       ch.Operator,
		IsAdmin:     true,
		IsEmergency: ch.Emergency,
		Reason:      ch.Reason,
	})
	if err != nil {
		return integrity.Stats{}, fmt.Errorf("set enforcement: %w", err)
	}
	a.record(ctx, actor, domain.AuditEnforcementChanged, string(prev), string(ch.Level), ch.Reason, map[string]any{
		"operator":  ch.Operator,
		"emergency": ch.Emergency,
	})
	sev := notify.SeverityWarning
	if ch.Level == integrity.LevelOff {
		sev = notify.SeverityUrgent
	}
	notify.Send(ctx, a.Notifier, notify.Admin(notify.KindEnforcementChanged, sev, "",
		fmt.Sprintf("Integrity enforcement changed from %s to %s.", prev, ch.Level),
		map[string]any{"operator": ch.Operator, "reason": ch.Reason, "emergency": ch.Emergency}, a.now()))
	return a.Integrity.Stats(), nil
}

// EmergencyDisable turns enforcement off.
func (a *AdminService) EmergencyDisable(ctx context.Context, actor domain.Actor, operator, reason string) (integrity.Stats, error) {
	slog.ErrorContext(ctx, "emergency enforcement disable requested", "operator", operator, "reason", reason)
	return a.SetEnforcement(ctx, actor, EnforcementChange{Level: integrity.LevelOff, Operator: operator, Reason: reason, Emergency: true})
}

// EmergencyEnable restores strict enforcement.
func (a *AdminService) EmergencyEnable(ctx context.Context, actor domain.Actor, operator, reason string) (integrity.Stats, error) {
	slog.WarnContext(ctx, "emergency enforcement enable requested", "operator", operator, "reason", reason)
	return a.SetEnforcement(ctx, actor, EnforcementChange{Level: integrity.LevelStrict, Operator: operator, Reason: reason, Emergency: true})
}

// Status returns the enforcement health and counters.
func (a *AdminService) Status(ctx context.Context, actor domain.Actor, operator string) (integrity.Health, error) {
	if err := a.authorize(ctx, "Status", actor, adminCallers); err != nil {
		return integrity.Health{}, err
	}
	h := a.Integrity.Health()
	a.record(ctx, actor, domain.AuditEnforcementQueried, "", string(h.Stats.Level), "status requested", map[string]any{
		"operator": operator,
		"health":   h.Status,
	})
	return h, nil
}

// record audits an enforcement call. The level change has already happened
// in memory, so a failed write is logged rather than returned.
func (a *AdminService) record(ctx context.Context, actor domain.Actor, action, oldValue, newValue, reason string, md map[string]any) {
	_, err := a.Updater.Record(ctx, domain.AuditLogEntry{
		EntityType: domain.EntityIntegrity,
		EntityID:   enforcementEntity,
		Action:     action,
		OldValue:   oldValue,
		NewValue:   newValue,
		Reason:     reason,
		Actor:      actor,
		Metadata:   md,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to audit enforcement call", "action", action, "error", err)
	}
}
