// Package stuck finds sessions that have held a state longer than expected.
// Detection is read-only; Remediator is the separate call that acts on a
// finding.
package stuck

import (
	"fmt"
	"time"

	"github.com/roach88/flowguard/internal/domain"
)

// Action is the recommended response to a finding.
type Action string

const (
	ActionAlertAdminUrgent Action = "alert_admin_urgent"
	ActionAutoCleanup      Action = "auto_cleanup"
	ActionManualReview     Action = "manual_review"
)

// Finding is one state held past its threshold.
type Finding struct {
	SessionID         string            `json:"session_id"`
	EntityType        domain.EntityType `json:"entity_type"`
	State             string            `json:"state"`
	Since             time.Time         `json:"since"`
	Elapsed           time.Duration     `json:"elapsed"`
	Threshold         time.Duration     `json:"threshold"`
	RecommendedAction Action            `json:"recommended_action"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s %s=%s for %s (threshold %s): %s",
		f.SessionID, f.EntityType, f.State, f.Elapsed.Round(time.Second), f.Threshold, f.RecommendedAction)
}

// Thresholds are the maximum expected dwell times.
type Thresholds struct {
	PaymentInitiated      time.Duration `yaml:"payment_initiated"`
	SessionPaymentPending time.Duration `yaml:"session_payment_pending"`
	SessionRequested      time.Duration `yaml:"session_requested"`
	SessionApproved       time.Duration `yaml:"session_approved"`
	SessionInProgress     time.Duration `yaml:"session_in_progress"`
	RefundRequested       time.Duration `yaml:"refund_requested"`
	RefundProcessing      time.Duration `yaml:"refund_processing"`
	RefundPendingManual   time.Duration `yaml:"refund_pending_manual"`
}

// DefaultThresholds returns the production dwell limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PaymentInitiated:      30 * time.Minute,
		SessionPaymentPending: 24 * time.Hour,
		SessionRequested:      48 * time.Hour,
		SessionApproved:       72 * time.Hour,
		SessionInProgress:     4 * time.Hour,
		RefundRequested:       15 * time.Minute,
		RefundProcessing:      time.Hour,
		RefundPendingManual:   48 * time.Hour,
	}
}

// Detector inspects sessions against thresholds.
type Detector struct {
	th Thresholds
}

// NewDetector creates a Detector.
func NewDetector(th Thresholds) *Detector {
	return &Detector{th: th}
}

type rule struct {
	entity    domain.EntityType
	state     string
	since     time.Time
	threshold time.Duration
	action    Action
}

// Inspect returns every state of s held past its threshold at now.
func (d *Detector) Inspect(s *domain.Session, now time.Time) []Finding {
	var rules []rule

	if s.Payment == domain.PaymentInitiated {
		rules = append(rules, rule{domain.EntityPayment, s.Payment.String(), s.PaymentChangedAt, d.th.PaymentInitiated, ActionAutoCleanup})
	}

	status := s.Status.String()
	switch s.Status {
	case domain.SessionRequested:
		rules = append(rules, rule{domain.EntitySession, status, s.StatusChangedAt, d.th.SessionRequested, ActionAlertAdminUrgent})
	case domain.SessionApproved:
		rules = append(rules, rule{domain.EntitySession, status, s.StatusChangedAt, d.th.SessionApproved, ActionAutoCleanup})
	case domain.SessionPaymentPending:
		// An initiated payment is cleaned up first; the session follows.
		if s.Payment != domain.PaymentInitiated {
			rules = append(rules, rule{domain.EntitySession, status, s.StatusChangedAt, d.th.SessionPaymentPending, ActionAutoCleanup})
		}
	case domain.SessionPaid, domain.SessionFormsRequired:
		// Paid but never made ready before the start time.
		rules = append(rules, rule{domain.EntitySession, status, s.ScheduledAt, 0, ActionManualReview})
	case domain.SessionInProgress:
		rules = append(rules, rule{domain.EntitySession, status, s.StatusChangedAt, d.th.SessionInProgress, ActionManualReview})
	}

	switch s.Refund {
	case domain.RefundRequested:
		rules = append(rules, rule{domain.EntityRefund, s.Refund.String(), s.RefundChangedAt, d.th.RefundRequested, ActionAutoCleanup})
	case domain.RefundProcessing:
		rules = append(rules, rule{domain.EntityRefund, s.Refund.String(), s.RefundChangedAt, d.th.RefundProcessing, ActionManualReview})
	case domain.RefundPendingManual:
		rules = append(rules, rule{domain.EntityRefund, s.Refund.String(), s.RefundChangedAt, d.th.RefundPendingManual, ActionAlertAdminUrgent})
	}

	var findings []Finding
	for _, r := range rules {
		elapsed := now.Sub(r.since)
		if elapsed <= r.threshold {
			continue
		}
		findings = append(findings, Finding{
			SessionID:         s.ID,
			EntityType:        r.entity,
			State:             r.state,
			Since:             r.since,
			Elapsed:           elapsed,
			Threshold:         r.threshold,
			RecommendedAction: r.action,
		})
	}
	return findings
}
