// Package notify delivers structured events to clients, therapists and
// administrators. Formatting and channel delivery live outside the engine;
// this package defines the event shape and ships log and recording sinks.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Audience is who an event is addressed to.
type Audience string

const (
	AudienceClient    Audience = "client"
	AudienceTherapist Audience = "therapist"
	AudienceAdmin     Audience = "admin"
)

// Severity ranks admin alerts.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityUrgent  Severity = "urgent"
)

// Event kinds.
const (
	KindSessionConfirmed    = "session_confirmed"
	KindPaymentFailed       = "payment_failed"
	KindFormsRequested      = "forms_requested"
	KindSessionCancelled    = "session_cancelled"
	KindRefundIssued        = "refund_issued"
	KindRefundManual        = "refund_manual_required"
	KindRescheduleRequested = "reschedule_requested"
	KindRescheduled         = "session_rescheduled"
	KindRescheduleDeclined  = "reschedule_declined"
	KindNoShow              = "no_show"
	KindNoShowReview        = "no_show_manual_review"
	KindTechnicalFailure    = "technical_failure"
	KindOperationFailed     = "operation_failed"
	KindIntegrityViolation  = "integrity_violation"
	KindStuckState          = "stuck_state"
	KindCallbackAnomaly     = "payment_callback_anomaly"
	KindEnforcementChanged  = "enforcement_changed"
)

// Event is one notification. Fields carries structured details such as
// amounts and transaction ids.
type Event struct {
	Kind        string
	Audience    Audience
	RecipientID string
	SessionID   string
	Severity    Severity
	Message     string
	Fields      map[string]any
	At          time.Time
}

// Contact names the participants of a session for failure notices.
type Contact struct {
	SessionID   string
	ClientID    string
	TherapistID string
}

// Notifier delivers events. Implementations must be safe for concurrent use.
// Delivery failures are reported but never undo a committed change.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Send delivers every event and logs failures instead of returning them.
func Send(ctx context.Context, n Notifier, events ...Event) {
	if n == nil {
		return
	}
	for _, ev := range events {
		if err := n.Notify(ctx, ev); err != nil {
			slog.WarnContext(ctx, "notification failed",
				"kind", ev.Kind,
				"audience", ev.Audience,
				"session_id", ev.SessionID,
				"error", err,
			)
		}
	}
}

// NothingChanged builds the notices sent to both participants after an
// operation rolled back.
func NothingChanged(c Contact, operation string, at time.Time) []Event {
	msg := "We could not complete your request (" + operation + "). Nothing was changed."
	events := make([]Event, 0, 2)
	if c.ClientID != "" {
		events = append(events, Event{
			Kind: KindOperationFailed, Audience: AudienceClient, RecipientID: c.ClientID,
			SessionID: c.SessionID, Severity: SeverityWarning, Message: msg, At: at,
		})
	}
	if c.TherapistID != "" {
		events = append(events, Event{
			Kind: KindOperationFailed, Audience: AudienceTherapist, RecipientID: c.TherapistID,
			SessionID: c.SessionID, Severity: SeverityWarning, Message: msg, At: at,
		})
	}
	return events
}

// Admin builds an administrator alert.
func Admin(kind string, sev Severity, sessionID, message string, fields map[string]any, at time.Time) Event {
	return Event{
		Kind:      kind,
		Audience:  AudienceAdmin,
		SessionID: sessionID,
		Severity:  sev,
		Message:   message,
		Fields:    fields,
		At:        at,
	}
}

// LogNotifier writes every event to the structured log.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, ev Event) error {
	level := slog.LevelInfo
	switch ev.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityUrgent:
		level = slog.LevelError
	}
	attrs := []any{
		"kind", ev.Kind,
		"audience", ev.Audience,
		"recipient", ev.RecipientID,
		"session_id", ev.SessionID,
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, k, v)
	}
	slog.Log(ctx, level, ev.Message, attrs...)
	return nil
}

// Recorder keeps every event in memory. Used by tests and the scenario
// harness.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the recorded event kinds in order.
func (r *Recorder) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// Reset drops every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Multi fans an event out to several notifiers. Every notifier is tried;
// the first error is returned.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
