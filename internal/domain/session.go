package domain

import "time"

// DefaultDurationMinutes is used when a booking does not carry its own length.
const DefaultDurationMinutes = 60

// Session is the booking aggregate. Payment, Status and Video are the three
// correlated state machines; the remaining fields support the invariants and
// the compensating workflows.
type Session struct {
	ID              string
	ClientID        string
	TherapistID     string
	SessionType     string
	ScheduledAt     time.Time
	DurationMinutes int

	Payment PaymentState
	Status  SessionState
	Video   VideoState

	Price    int64 // gateway settlement units
	Currency string

	// CheckoutReference is the gateway's id for the payment request.
	// Empty means not assigned. Unique when present.
	CheckoutReference string
	// GatewayTransactionID is the receipt of a confirmed payment.
	// Empty means not assigned. Unique when present.
	GatewayTransactionID string

	RescheduleCount     int
	PendingRescheduleAt *time.Time
	PendingRescheduleBy string

	Refund       RefundState
	RefundAmount int64

	FormsRequired bool
	FormsComplete bool

	ClientLastActivityAt    *time.Time
	TherapistLastActivityAt *time.Time

	PaymentChangedAt time.Time
	StatusChangedAt  time.Time
	VideoChangedAt   time.Time
	RefundChangedAt  time.Time

	StatusReason string
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Duration returns the booked length of the session.
func (s *Session) Duration() time.Duration {
	m := s.DurationMinutes
	if m <= 0 {
		m = DefaultDurationMinutes
	}
	return time.Duration(m) * time.Minute
}

// EndsAt returns the scheduled end of the session.
func (s *Session) EndsAt() time.Time {
	return s.ScheduledAt.Add(s.Duration())
}

// Overlaps reports whether [start, start+d) intersects this session's slot.
func (s *Session) Overlaps(start time.Time, d time.Duration) bool {
	end := start.Add(d)
	return start.Before(s.EndsAt()) && s.ScheduledAt.Before(end)
}

// TimeUntilStart returns how long before the scheduled start now is.
// Negative once the session should have started.
func (s *Session) TimeUntilStart(now time.Time) time.Duration {
	return s.ScheduledAt.Sub(now)
}

// SetPayment moves the payment machine and stamps the change time.
// It performs no validation; callers go through internal/service.
func (s *Session) SetPayment(p PaymentState, at time.Time) {
	if s.Payment != p {
		s.Payment = p
		s.PaymentChangedAt = at
	}
}

// SetStatus moves the session machine and stamps the change time.
func (s *Session) SetStatus(st SessionState, reason string, at time.Time) {
	if s.Status != st {
		s.Status = st
		s.StatusChangedAt = at
	}
	if reason != "" {
		s.StatusReason = reason
	}
}

// SetVideo moves the video machine and stamps the change time.
func (s *Session) SetVideo(v VideoState, at time.Time) {
	if s.Video != v {
		s.Video = v
		s.VideoChangedAt = at
	}
}

// SetRefund moves the refund tracker and stamps the change time.
func (s *Session) SetRefund(r RefundState, at time.Time) {
	if s.Refund != r {
		s.Refund = r
		s.RefundChangedAt = at
	}
}
