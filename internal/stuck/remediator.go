package stuck

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/flowguard/internal/clock"
	"github.com/roach88/flowguard/internal/notify"
)

// Cleaner performs auto_cleanup through the centralized write paths.
type Cleaner interface {
	Cleanup(ctx context.Context, f Finding) error
}

// Remediator acts on findings.
type Remediator struct {
	cleaner  Cleaner
	notifier notify.Notifier
	clock    clock.Clock
}

// NewRemediator creates a Remediator.
func NewRemediator(c Cleaner, n notify.Notifier, clk clock.Clock) *Remediator {
	return &Remediator{cleaner: c, notifier: n, clock: clk}
}

// Remediate applies the finding's recommended action. A failed cleanup is
// escalated to an urgent admin alert and returned.
func (r *Remediator) Remediate(ctx context.Context, f Finding) error {
	fields := map[string]any{
		"entity_type":        string(f.EntityType),
		"state":              f.State,
		"elapsed_seconds":    int64(f.Elapsed.Seconds()),
		"recommended_action": string(f.RecommendedAction),
	}

	switch f.RecommendedAction {
	case ActionAutoCleanup:
		if err := r.cleaner.Cleanup(ctx, f); err != nil {
			slog.ErrorContext(ctx, "stuck-state cleanup failed", "finding", f.String(), "error", err)
			fields["error"] = err.Error()
			notify.Send(ctx, r.notifier, notify.Admin(notify.KindStuckState, notify.SeverityUrgent, f.SessionID,
				"Automatic cleanup of a stuck session failed.", fields, r.clock.Now()))
			return fmt.Errorf("remediate %s: %w", f.SessionID, err)
		}
		slog.InfoContext(ctx, "stuck state cleaned up", "finding", f.String())
	case ActionAlertAdminUrgent:
		slog.WarnContext(ctx, "stuck state needs urgent attention", "finding", f.String())
		notify.Send(ctx, r.notifier, notify.Admin(notify.KindStuckState, notify.SeverityUrgent, f.SessionID,
			"Session stuck past its threshold.", fields, r.clock.Now()))
	case ActionManualReview:
		slog.WarnContext(ctx, "stuck state queued for manual review", "finding", f.String())
		notify.Send(ctx, r.notifier, notify.Admin(notify.KindStuckState, notify.SeverityWarning, f.SessionID,
			"Session needs manual review.", fields, r.clock.Now()))
	default:
		return fmt.Errorf("remediate %s: unknown action %q", f.SessionID, f.RecommendedAction)
	}
	return nil
}
