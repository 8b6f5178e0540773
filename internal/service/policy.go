package service

import (
	"time"
)

// Tier maps a minimum notice period to a refund percentage.
type Tier struct {
	MinNotice time.Duration `yaml:"min_notice"`
	Percent   int           `yaml:"percent"`
}

// Policy holds the business constants of the write paths.
type Policy struct {
	// GatewayTimeout bounds every provider call.
	GatewayTimeout time.Duration `yaml:"gateway_timeout"`
	// MaxReschedules is the number of approved reschedules per session.
	MaxReschedules int `yaml:"max_reschedules"`
	// RescheduleNotice is the notice above which reschedules auto-approve.
	RescheduleNotice time.Duration `yaml:"reschedule_notice"`
	// NoShowGrace is how long after the start a ready session is inspected.
	NoShowGrace time.Duration `yaml:"no_show_grace"`
	// AutoRefundLimit is the largest refund issued without an admin.
	AutoRefundLimit int64 `yaml:"auto_refund_limit"`
	// CancellationTiers must be sorted by MinNotice, longest first. Notice
	// shorter than every tier refunds nothing.
	CancellationTiers []Tier `yaml:"cancellation_tiers"`
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		GatewayTimeout:   15 * time.Second,
		MaxReschedules:   2,
		RescheduleNotice: 24 * time.Hour,
		NoShowGrace:      15 * time.Minute,
		AutoRefundLimit:  10000,
		CancellationTiers: []Tier{
			{MinNotice: 24 * time.Hour, Percent: 100},
			{MinNotice: 12 * time.Hour, Percent: 50},
		},
	}
}

// Initiator is who asked for a cancellation.
type Initiator string

const (
	InitiatorClient    Initiator = "client"
	InitiatorTherapist Initiator = "therapist"
	InitiatorAdmin     Initiator = "admin"
	InitiatorSystem    Initiator = "system"
)

// RefundPercent looks up the refund share for a cancellation. Admin and
// therapist cancellations always refund in full; otherwise the first tier
// whose notice is met applies.
func (p Policy) RefundPercent(by Initiator, notice time.Duration) int {
	switch by {
	case InitiatorAdmin, InitiatorTherapist:
		return 100
	}
	for _, t := range p.CancellationTiers {
		if notice >= t.MinNotice {
			return t.Percent
		}
	}
	return 0
}

// percentOf returns pct percent of amount, rounded down.
func percentOf(amount int64, pct int) int64 {
	return amount * int64(pct) / 100
}
