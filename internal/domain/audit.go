package domain

import "time"

// AuditLogEntry is one immutable row of the append-only audit trail.
// Seq is assigned by the store and orders entries.
type AuditLogEntry struct {
	Seq        int64
	ID         string
	EntityType EntityType
	EntityID   string
	Action     string
	OldValue   string
	NewValue   string
	Reason     string
	Actor      Actor
	Timestamp  time.Time
	Metadata   map[string]any
	Duplicate  bool
}

// Audit actions written by the centralized services.
const (
	AuditSessionCreated      = "session_created"
	AuditPaymentTransition   = "payment_transition"
	AuditSessionTransition   = "session_transition"
	AuditVideoTransition     = "video_transition"
	AuditRefundTransition    = "refund_transition"
	AuditCallbackApplied     = "payment_callback_applied"
	AuditCallbackDuplicate   = "payment_callback_duplicate"
	AuditCallbackStale       = "payment_callback_stale"
	AuditCallbackMismatch    = "payment_callback_amount_mismatch"
	AuditPaymentInitiated    = "payment_initiated"
	AuditCheckoutAssigned    = "checkout_reference_assigned"
	AuditPaymentReinitiated  = "payment_reinitiated"
	AuditSessionCancelled    = "session_cancelled"
	AuditRescheduleRequested = "reschedule_requested"
	AuditRescheduleApplied   = "reschedule_applied"
	AuditRescheduleDeclined  = "reschedule_declined"
	AuditNoShowRecorded      = "no_show_recorded"
	AuditTechnicalFailure    = "technical_failure"
	AuditActivityRecorded    = "participant_activity"
	AuditFormsCompleted      = "forms_completed"
	AuditEnforcementChanged  = "enforcement_changed"
	AuditEnforcementQueried  = "enforcement_status"
)
