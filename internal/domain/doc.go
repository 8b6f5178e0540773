// Package domain defines the booking aggregate and the closed state sets of
// its three correlated lifecycles: payment, session and video.
//
// States are small integer enums so that the transition tables in
// internal/transition can be fixed-size arrays indexed by state. Every enum
// marshals to a stable snake_case name, which is also its persisted form.
//
// The Session aggregate is mutated only through internal/service. Nothing in
// this package performs I/O.
package domain
