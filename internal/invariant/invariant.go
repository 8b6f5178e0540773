// Package invariant checks the global consistency rules of persisted
// sessions. A breach means the engine itself is corrupt: it is fatal for the
// operation that found it, raises an urgent admin alert, and is never
// downgraded by the enforcement level.
package invariant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/flowguard/internal/clock"
	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/notify"
	"github.com/roach88/flowguard/internal/store"
)

// Rule names a global invariant.
type Rule string

const (
	RuleConfirmedPostPayment Rule = "confirmed_payment_requires_post_payment_session"
	RuleActiveVideo          Rule = "active_video_requires_ready_paid_session"
	RuleUniqueTransaction    Rule = "gateway_transaction_not_reused"
	RuleRescheduleLimit      Rule = "reschedule_count_within_limit"
)

// Phase says when a check ran relative to the mutation it guards.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
	PhaseScan Phase = "scan"
)

// CodeNuclear identifies invariant breaches.
const CodeNuclear = "NUCLEAR_INVARIANT_VIOLATION"

// Breach is one broken rule.
type Breach struct {
	Rule   Rule
	Detail string
}

// NuclearViolation reports every rule a session breaks.
type NuclearViolation struct {
	SessionID string
	Phase     Phase
	Breaches  []Breach
}

func (v *NuclearViolation) Error() string {
	parts := make([]string, len(v.Breaches))
	for i, b := range v.Breaches {
		parts[i] = fmt.Sprintf("%s (%s)", b.Rule, b.Detail)
	}
	return fmt.Sprintf("%s: session %s [%s]: %s", CodeNuclear, v.SessionID, v.Phase, strings.Join(parts, "; "))
}

// IntegrityFatal marks the violation as exempt from enforcement levels.
func (*NuclearViolation) IntegrityFatal() {}

// Has reports whether rule r is among the breaches.
func (v *NuclearViolation) Has(r Rule) bool {
	for _, b := range v.Breaches {
		if b.Rule == r {
			return true
		}
	}
	return false
}

// IsNuclear reports whether err is a NuclearViolation.
func IsNuclear(err error) bool {
	var nv *NuclearViolation
	return errors.As(err, &nv)
}

// Evaluate returns the per-session rules s breaks. The transaction-reuse rule
// needs other rows and is checked by the Auditor.
func Evaluate(s *domain.Session, maxReschedules int) []Breach {
	var out []Breach
	if s.Payment == domain.PaymentConfirmed && !s.Status.IsPostPayment() {
		out = append(out, Breach{RuleConfirmedPostPayment,
			fmt.Sprintf("payment confirmed while session is %s", s.Status)})
	}
	if s.Video == domain.VideoActive {
		switch {
		case s.Status != domain.SessionReady && s.Status != domain.SessionInProgress:
			out = append(out, Breach{RuleActiveVideo,
				fmt.Sprintf("video active while session is %s", s.Status)})
		case s.Payment != domain.PaymentConfirmed:
			out = append(out, Breach{RuleActiveVideo,
				fmt.Sprintf("video active while payment is %s", s.Payment)})
		case s.FormsRequired && !s.FormsComplete:
			out = append(out, Breach{RuleActiveVideo, "video active with intake forms incomplete"})
		}
	}
	if s.RescheduleCount > maxReschedules {
		out = append(out, Breach{RuleRescheduleLimit,
			fmt.Sprintf("rescheduled %d times, limit %d", s.RescheduleCount, maxReschedules)})
	}
	return out
}

// Auditor re-reads persisted sessions and checks every invariant.
type Auditor struct {
	store          *store.Store
	maxReschedules int
	notifier       notify.Notifier
	clock          clock.Clock
}

// NewAuditor creates an Auditor.
func NewAuditor(st *store.Store, maxReschedules int, n notify.Notifier, clk clock.Clock) *Auditor {
	return &Auditor{store: st, maxReschedules: maxReschedules, notifier: n, clock: clk}
}

// Check loads the committed session and audits it. A missing session is not
// a violation.
func (a *Auditor) Check(ctx context.Context, sessionID string, phase Phase) error {
	s, err := a.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invariant check %s: %w", sessionID, err)
	}
	return a.CheckSession(ctx, s, phase)
}

// CheckSession audits an already loaded session. The session must have been
// read from the store, not built in memory.
func (a *Auditor) CheckSession(ctx context.Context, s *domain.Session, phase Phase) error {
	breaches := Evaluate(s, a.maxReschedules)

	if s.GatewayTransactionID != "" && s.Payment == domain.PaymentConfirmed {
		holders, err := a.store.ListByGatewayTransaction(ctx, s.GatewayTransactionID)
		if err != nil {
			return fmt.Errorf("invariant check %s: %w", s.ID, err)
		}
		for _, h := range holders {
			if h.ID != s.ID && h.Payment == domain.PaymentConfirmed {
				breaches = append(breaches, Breach{RuleUniqueTransaction,
					fmt.Sprintf("transaction %s also confirms session %s", s.GatewayTransactionID, h.ID)})
			}
		}
	}

	if len(breaches) == 0 {
		return nil
	}
	v := &NuclearViolation{SessionID: s.ID, Phase: phase, Breaches: breaches}
	slog.ErrorContext(ctx, "NUCLEAR invariant violation, manual intervention required",
		"session_id", s.ID,
		"phase", phase,
		"breaches", len(breaches),
		"error", v,
	)
	rules := make([]string, len(breaches))
	for i, b := range breaches {
		rules[i] = string(b.Rule)
	}
	notify.Send(ctx, a.notifier, notify.Admin(
		notify.KindIntegrityViolation, notify.SeverityUrgent, s.ID,
		"Session state is globally inconsistent; manual intervention required.",
		map[string]any{
			"phase":          string(phase),
			"rules":          rules,
			"payment_state":  s.Payment.String(),
			"session_state":  s.Status.String(),
			"video_state":    s.Video.String(),
			"transaction_id": s.GatewayTransactionID,
		},
		a.clock.Now(),
	))
	return v
}
