// Package service holds the centralized write paths. Every payment, session,
// video and refund state change goes through one of these services:
//
//   - PaymentService: payment initiation, gateway callbacks, payment state
//   - SessionService: booking lifecycle, forms, video room, activity
//   - CancellationService: cancellation with the refund policy table
//   - RefundService: automatic and manual refunds
//   - ReschedulingService: reschedule requests and therapist approval
//   - RecoveryService: no-shows, technical failures, stuck-state cleanup
//   - AdminService: enforcement level changes
//
// Each operation checks the caller against a closed actor set, validates the
// change through the integrity config, writes through the atomic updater and
// dispatches notifications only after commit.
package service
