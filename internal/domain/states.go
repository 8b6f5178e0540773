package domain

import (
	"fmt"
)

// UnknownStateError reports a state name that is not part of its enum.
type UnknownStateError struct {
	Kind  string
	Value string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("unknown %s state %q", e.Kind, e.Value)
}

func parseName[T ~uint8](kind string, names []string, v string) (T, error) {
	for i, n := range names {
		if n == v {
			return T(i), nil
		}
	}
	return 0, &UnknownStateError{Kind: kind, Value: v}
}

func nameOf[T ~uint8](kind string, names []string, v T) string {
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("%s(%d)", kind, v)
}

// PaymentState is the lifecycle of the money attached to a booking.
type PaymentState uint8

const (
	PaymentPending PaymentState = iota
	PaymentInitiated
	PaymentConfirmed
	PaymentFailed
	PaymentRefunded
	PaymentCancelled

	// NumPaymentStates must stay last.
	NumPaymentStates
)

var paymentStateNames = [NumPaymentStates]string{
	PaymentPending:   "pending",
	PaymentInitiated: "initiated",
	PaymentConfirmed: "confirmed",
	PaymentFailed:    "failed",
	PaymentRefunded:  "refunded",
	PaymentCancelled: "cancelled",
}

// ParsePaymentState returns the state with the given persisted name.
func ParsePaymentState(v string) (PaymentState, error) {
	return parseName[PaymentState]("payment", paymentStateNames[:], v)
}

func (s PaymentState) String() string { return nameOf("payment", paymentStateNames[:], s) }

// Valid reports whether s is a declared payment state.
func (s PaymentState) Valid() bool { return s < NumPaymentStates }

// IsTerminal reports whether no further payment transition is possible.
func (s PaymentState) IsTerminal() bool {
	return s == PaymentRefunded || s == PaymentCancelled
}

func (s PaymentState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *PaymentState) UnmarshalText(b []byte) error {
	v, err := ParsePaymentState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// SessionState is the scheduling lifecycle of a booking.
type SessionState uint8

const (
	SessionRequested SessionState = iota
	SessionApproved
	SessionDeclined
	SessionPaymentPending
	SessionPaid
	SessionFormsRequired
	SessionReady
	SessionInProgress
	SessionCompleted
	SessionCancelled
	SessionNoShowClient
	SessionNoShowTherapist

	// NumSessionStates must stay last.
	NumSessionStates
)

var sessionStateNames = [NumSessionStates]string{
	SessionRequested:       "requested",
	SessionApproved:        "approved",
	SessionDeclined:        "declined",
	SessionPaymentPending:  "payment_pending",
	SessionPaid:            "paid",
	SessionFormsRequired:   "forms_required",
	SessionReady:           "ready",
	SessionInProgress:      "in_progress",
	SessionCompleted:       "completed",
	SessionCancelled:       "cancelled",
	SessionNoShowClient:    "no_show_client",
	SessionNoShowTherapist: "no_show_therapist",
}

// ParseSessionState returns the state with the given persisted name.
func ParseSessionState(v string) (SessionState, error) {
	return parseName[SessionState]("session", sessionStateNames[:], v)
}

func (s SessionState) String() string { return nameOf("session", sessionStateNames[:], s) }

// Valid reports whether s is a declared session state.
func (s SessionState) Valid() bool { return s < NumSessionStates }

// IsTerminal reports whether the booking is finished. Refund state may still
// move after a session becomes terminal.
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionDeclined, SessionCompleted, SessionCancelled, SessionNoShowClient, SessionNoShowTherapist:
		return true
	}
	return false
}

// IsPostPayment reports whether s can only be reached after payment was
// confirmed (or is a terminal that keeps a confirmed payment).
func (s SessionState) IsPostPayment() bool {
	switch s {
	case SessionPaid, SessionFormsRequired, SessionReady, SessionInProgress,
		SessionCompleted, SessionCancelled, SessionNoShowClient, SessionNoShowTherapist:
		return true
	}
	return false
}

func (s SessionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SessionState) UnmarshalText(b []byte) error {
	v, err := ParseSessionState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// VideoState is the lifecycle of the call attached to a booking.
type VideoState uint8

const (
	VideoNotStarted VideoState = iota
	VideoWaitingForParticipants
	VideoActive
	VideoEnded

	// NumVideoStates must stay last.
	NumVideoStates
)

var videoStateNames = [NumVideoStates]string{
	VideoNotStarted:             "not_started",
	VideoWaitingForParticipants: "waiting_for_participants",
	VideoActive:                 "active",
	VideoEnded:                  "ended",
}

// ParseVideoState returns the state with the given persisted name.
func ParseVideoState(v string) (VideoState, error) {
	return parseName[VideoState]("video", videoStateNames[:], v)
}

func (s VideoState) String() string { return nameOf("video", videoStateNames[:], s) }

// Valid reports whether s is a declared video state.
func (s VideoState) Valid() bool { return s < NumVideoStates }

func (s VideoState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *VideoState) UnmarshalText(b []byte) error {
	v, err := ParseVideoState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// RefundState tracks a refund independently of session terminality.
type RefundState uint8

const (
	RefundNone RefundState = iota
	RefundRequested
	RefundProcessing
	RefundCompleted
	RefundPendingManual

	// NumRefundStates must stay last.
	NumRefundStates
)

var refundStateNames = [NumRefundStates]string{
	RefundNone:          "none",
	RefundRequested:     "requested",
	RefundProcessing:    "processing",
	RefundCompleted:     "completed",
	RefundPendingManual: "pending_manual",
}

// ParseRefundState returns the state with the given persisted name.
func ParseRefundState(v string) (RefundState, error) {
	return parseName[RefundState]("refund", refundStateNames[:], v)
}

func (s RefundState) String() string { return nameOf("refund", refundStateNames[:], s) }

// Valid reports whether s is a declared refund state.
func (s RefundState) Valid() bool { return s < NumRefundStates }

func (s RefundState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *RefundState) UnmarshalText(b []byte) error {
	v, err := ParseRefundState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// EntityType names the state machine a transition or audit entry belongs to.
type EntityType string

const (
	EntityPayment   EntityType = "payment"
	EntitySession   EntityType = "session"
	EntityVideo     EntityType = "video"
	EntityRefund    EntityType = "refund"
	EntityIntegrity EntityType = "integrity"
)

// ParseEntityType accepts the state-machine entities only.
func ParseEntityType(v string) (EntityType, error) {
	switch e := EntityType(v); e {
	case EntityPayment, EntitySession, EntityVideo, EntityRefund:
		return e, nil
	}
	return "", fmt.Errorf("unknown entity type %q", v)
}

// Actor identifies who is calling a centralized write path. The set is
// closed; services compare against these values, never against strings.
type Actor uint8

const (
	ActorPayment Actor = iota + 1
	ActorSession
	ActorAdmin
	ActorSystem
)

var actorNames = map[Actor]string{
	ActorPayment: "payment",
	ActorSession: "session",
	ActorAdmin:   "admin",
	ActorSystem:  "system",
}

func (a Actor) String() string {
	if n, ok := actorNames[a]; ok {
		return n
	}
	return fmt.Sprintf("actor(%d)", a)
}

// ParseActor returns the actor with the given name.
func ParseActor(v string) (Actor, error) {
	for a, n := range actorNames {
		if n == v {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown actor %q", v)
}

func (a Actor) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Actor) UnmarshalText(b []byte) error {
	v, err := ParseActor(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
